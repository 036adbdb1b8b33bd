// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bureau-foundation/casfs/lib/object"
)

// Format constants.
const (
	// headerSize is the fixed directory header: flags, entry count,
	// tree size.
	headerSize = 16

	// indexEntrySize is one index slot: record offset + name CRC-32.
	indexEntrySize = 8

	// recordPrefixSize is the fixed portion of an entry record before
	// the name bytes.
	recordPrefixSize = 96

	// MaxNameLength is the longest entry name the format allows, in
	// bytes. Matches the usual filesystem NAME_MAX.
	MaxNameLength = 255
)

// ErrBadFormat reports a structurally invalid directory object, such
// as a name length beyond MaxNameLength.
var ErrBadFormat = errors.New("dirtree: malformed directory object")

// Header is the decoded directory header. Callers decode it once per
// directory handle and cache it; every other operation takes it as a
// parameter.
type Header struct {
	// Flags must currently be zero.
	Flags uint32

	// EntryCount is the number of children, bounding both the index
	// and the valid iterator position range.
	EntryCount uint32

	// TreeSize is the total number of entries in the directory's
	// whole subtree, itself included in the parent's accounting.
	TreeSize uint64
}

// Mode type bits, as encoded in entry records.
const (
	modeTypeMask = 0o170000
	modeSocket   = 0o140000
	modeSymlink  = 0o120000
	modeRegular  = 0o100000
	modeBlockDev = 0o060000
	modeDir      = 0o040000
	modeCharDev  = 0o020000
	modeFifo     = 0o010000
)

// Kind is the closed set of entry types the mount distinguishes.
// Fifos, sockets, and device nodes all behave identically from the
// engine's point of view (no backing content) and share KindOther.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindOther
)

// Record is one decoded directory entry.
type Record struct {
	Mode uint32
	UID  uint32
	GID  uint32

	// Nlink is the hard-link count for directory entries. Device
	// entries store their encoded device number in the same slot.
	Nlink uint64

	// Timestamps in nanoseconds since the epoch.
	Atime uint64
	Mtime uint64
	Ctime uint64

	// Size is the content size in bytes (for directories, the size
	// of the directory object).
	Size uint64

	// Child identifies the object backing this entry. Zero for
	// entries with no content (devices, fifos, sockets).
	Child object.ID

	// DepIndex is this entry's offset within the parent's dependency
	// numbering. An entry's global identifying number is the parent
	// directory's number plus DepIndex. The engine computes numbers
	// this way but does not verify global uniqueness; that holds only
	// if the producer assigned each child a dependency range covering
	// its whole subtree (the importer in this repo does).
	DepIndex uint64

	// Name is the entry's name. Never empty, never longer than
	// MaxNameLength, and contains no '/' in well-formed objects.
	Name string
}

// Kind maps the record's mode type bits onto the closed entry-type
// set.
func (r *Record) Kind() Kind {
	switch r.Mode & modeTypeMask {
	case modeRegular:
		return KindRegular
	case modeDir:
		return KindDirectory
	case modeSymlink:
		return KindSymlink
	default:
		return KindOther
	}
}

// ReadHeader decodes the directory header from the first 16 bytes of
// the object.
func ReadHeader(r *BufferedReader) (Header, error) {
	var buf [headerSize]byte
	data, err := r.ReadFull(buf[:], 0)
	if err != nil {
		return Header{}, fmt.Errorf("reading directory header: %w", err)
	}
	return Header{
		Flags:      binary.BigEndian.Uint32(data[0:]),
		EntryCount: binary.BigEndian.Uint32(data[4:]),
		TreeSize:   binary.BigEndian.Uint64(data[8:]),
	}, nil
}

// indexEntry is one decoded index slot. The record offset column
// doubles as the per-position seek table for iteration.
type indexEntry struct {
	recordOffset uint32
	nameHash     uint32
}

// readIndexEntry decodes index slot position. The position must be
// within [0, header.EntryCount).
func readIndexEntry(r *BufferedReader, header Header, position uint32) (indexEntry, error) {
	if position >= header.EntryCount {
		return indexEntry{}, fmt.Errorf("index position %d out of range [0, %d): %w",
			position, header.EntryCount, ErrBadFormat)
	}
	var buf [indexEntrySize]byte
	data, err := r.ReadFull(buf[:], headerSize+indexEntrySize*int64(position))
	if err != nil {
		return indexEntry{}, fmt.Errorf("reading index slot %d: %w", position, err)
	}
	return indexEntry{
		recordOffset: binary.BigEndian.Uint32(data[0:]),
		nameHash:     binary.BigEndian.Uint32(data[4:]),
	}, nil
}

// alignName rounds a name length up to the 8-byte record padding.
func alignName(nameLength int) int64 {
	return int64(nameLength+7) &^ 7
}

// readRecordAt decodes the entry record at the given byte offset.
func readRecordAt(r *BufferedReader, offset int64) (*Record, error) {
	var prefixBuf [recordPrefixSize]byte
	prefix, err := r.ReadFull(prefixBuf[:], offset)
	if err != nil {
		return nil, fmt.Errorf("reading record at offset %d: %w", offset, err)
	}

	nameLength := binary.BigEndian.Uint32(prefix[92:])
	if nameLength == 0 || nameLength > MaxNameLength {
		return nil, fmt.Errorf("record at offset %d has name length %d: %w",
			offset, nameLength, ErrBadFormat)
	}

	record := &Record{
		Mode:     binary.BigEndian.Uint32(prefix[0:]),
		UID:      binary.BigEndian.Uint32(prefix[4:]),
		GID:      binary.BigEndian.Uint32(prefix[8:]),
		Nlink:    binary.BigEndian.Uint64(prefix[12:]),
		Atime:    binary.BigEndian.Uint64(prefix[20:]),
		Mtime:    binary.BigEndian.Uint64(prefix[28:]),
		Ctime:    binary.BigEndian.Uint64(prefix[36:]),
		Size:     binary.BigEndian.Uint64(prefix[44:]),
		DepIndex: binary.BigEndian.Uint64(prefix[84:]),
	}
	copy(record.Child[:], prefix[52:84])

	// The name is stored padded to 8 bytes; read the padded span and
	// keep the leading nameLength bytes.
	var nameBuf [MaxNameLength + 7]byte
	padded := alignName(int(nameLength))
	name, err := r.ReadFull(nameBuf[:padded], offset+recordPrefixSize)
	if err != nil {
		return nil, fmt.Errorf("reading record name at offset %d: %w", offset, err)
	}
	record.Name = string(name[:nameLength])

	return record, nil
}

// encodedSize returns the full on-disk size of a record with the
// given name length.
func encodedSize(nameLength int) int64 {
	return recordPrefixSize + alignName(nameLength)
}
