// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"

	"github.com/bureau-foundation/casfs/lib/object"
)

// BuildEntry describes one child when encoding a directory object.
// The builder computes the dependency index and name hash itself.
type BuildEntry struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Nlink uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
	Size  uint64

	// Child is the object backing this entry; zero for entries with
	// no content.
	Child object.ID

	// Name is the entry name.
	Name string

	// Descendants is the number of entries in the child's subtree:
	// zero for anything but a directory, and a directory object's
	// header tree size otherwise. Dependency indexes are assigned so
	// each child owns a numbering range covering its whole subtree.
	Descendants uint64
}

// ValidateName reports whether name can appear in a directory object:
// non-empty, at most MaxNameLength bytes, no '/' or NUL.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty entry name: %w", ErrBadFormat)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("entry name %q is %d bytes, limit %d: %w",
			name, len(name), MaxNameLength, ErrBadFormat)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("entry name %q contains '/' or NUL: %w", name, ErrBadFormat)
	}
	return nil
}

// Builder accumulates entries and encodes them as a directory object.
//
// Typical usage:
//
//	builder := dirtree.NewBuilder()
//	builder.Add(entry)
//	// ... more entries ...
//	data, treeSize, err := builder.Encode()
type Builder struct {
	entries []BuildEntry
}

// NewBuilder creates an empty directory builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a child entry. Fails if the name is invalid.
func (b *Builder) Add(entry BuildEntry) error {
	if err := ValidateName(entry.Name); err != nil {
		return err
	}
	b.entries = append(b.entries, entry)
	return nil
}

// Len returns the number of entries added so far.
func (b *Builder) Len() int {
	return len(b.entries)
}

// Encode serializes the accumulated entries into a directory object
// and returns the bytes together with the tree size written to the
// header (the count of entries in the whole subtree, for the parent's
// accounting). An empty builder encodes a valid empty directory.
func (b *Builder) Encode() ([]byte, uint64, error) {
	type sortedEntry struct {
		BuildEntry
		nameHash uint32
		depIndex uint64
	}

	entries := make([]sortedEntry, len(b.entries))
	for i, entry := range b.entries {
		entries[i] = sortedEntry{BuildEntry: entry, nameHash: crc32.ChecksumIEEE([]byte(entry.Name))}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].nameHash < entries[j].nameHash
	})

	// Each entry is numbered one past the end of the previous entry's
	// subtree range, so numbers stay unique down the whole tree.
	var treeSize uint64
	nextIndex := uint64(1)
	for i := range entries {
		entries[i].depIndex = nextIndex
		nextIndex += entries[i].Descendants + 1
		treeSize += entries[i].Descendants + 1
	}

	indexSize := headerSize + indexEntrySize*len(entries)
	var dataSize int64
	for i := range entries {
		dataSize += encodedSize(len(entries[i].Name))
	}
	data := make([]byte, int64(indexSize)+dataSize)

	binary.BigEndian.PutUint32(data[0:], 0) // flags
	binary.BigEndian.PutUint32(data[4:], uint32(len(entries)))
	binary.BigEndian.PutUint64(data[8:], treeSize)

	offset := int64(indexSize)
	for i := range entries {
		entry := &entries[i]
		if offset > int64(^uint32(0)) {
			return nil, 0, fmt.Errorf("directory object exceeds 4 GiB record offset range: %w", ErrBadFormat)
		}
		binary.BigEndian.PutUint32(data[headerSize+indexEntrySize*i:], uint32(offset))
		binary.BigEndian.PutUint32(data[headerSize+indexEntrySize*i+4:], entry.nameHash)

		record := data[offset:]
		binary.BigEndian.PutUint32(record[0:], entry.Mode)
		binary.BigEndian.PutUint32(record[4:], entry.UID)
		binary.BigEndian.PutUint32(record[8:], entry.GID)
		binary.BigEndian.PutUint64(record[12:], entry.Nlink)
		binary.BigEndian.PutUint64(record[20:], entry.Atime)
		binary.BigEndian.PutUint64(record[28:], entry.Mtime)
		binary.BigEndian.PutUint64(record[36:], entry.Ctime)
		binary.BigEndian.PutUint64(record[44:], entry.Size)
		copy(record[52:84], entry.Child[:])
		binary.BigEndian.PutUint64(record[84:], entry.depIndex)
		binary.BigEndian.PutUint32(record[92:], uint32(len(entry.Name)))
		copy(record[recordPrefixSize:], entry.Name)

		offset += encodedSize(len(entry.Name))
	}

	return data, treeSize, nil
}
