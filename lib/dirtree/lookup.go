// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"hash/crc32"
)

// Lookup resolves a child name within a directory object. It returns
// the entry's record and found=true, or found=false when no entry has
// that exact name. Not-found is a successful outcome; a non-nil error
// means the lookup itself failed (I/O or a corrupt object) and says
// nothing about whether the name exists.
//
// The index is sorted by name CRC-32, so the search is: binary search
// for the hash, then walk outward across the run of slots sharing it,
// comparing actual name bytes. Entries within an equal-hash run are
// in no particular order.
func Lookup(r *BufferedReader, header Header, name string) (*Record, bool, error) {
	// Over-long names cannot be encoded, so they cannot exist.
	if len(name) == 0 || len(name) > MaxNameLength {
		return nil, false, nil
	}

	target := crc32.ChecksumIEEE([]byte(name))

	lo := uint32(0)
	hi := header.EntryCount
	var mid uint32
	var probe indexEntry
	for lo < hi {
		mid = lo + (hi-lo)/2
		entry, err := readIndexEntry(r, header, mid)
		if err != nil {
			return nil, false, err
		}
		if entry.nameHash < target {
			lo = mid + 1
		} else if entry.nameHash > target {
			hi = mid
		} else {
			probe = entry
			break
		}
	}
	if lo == hi {
		return nil, false, nil
	}

	record, ok, err := matchRecord(r, probe.recordOffset, name)
	if ok || err != nil {
		return record, ok, err
	}

	// Hash collision: check every other slot in the equal-hash run.
	for position := mid; position > 0; {
		position--
		entry, err := readIndexEntry(r, header, position)
		if err != nil {
			return nil, false, err
		}
		if entry.nameHash != target {
			break
		}
		record, ok, err := matchRecord(r, entry.recordOffset, name)
		if ok || err != nil {
			return record, ok, err
		}
	}
	for position := mid + 1; position < header.EntryCount; position++ {
		entry, err := readIndexEntry(r, header, position)
		if err != nil {
			return nil, false, err
		}
		if entry.nameHash != target {
			break
		}
		record, ok, err := matchRecord(r, entry.recordOffset, name)
		if ok || err != nil {
			return record, ok, err
		}
	}

	return nil, false, nil
}

// matchRecord decodes the record at offset and reports whether its
// name is exactly name.
func matchRecord(r *BufferedReader, offset uint32, name string) (*Record, bool, error) {
	record, err := readRecordAt(r, int64(offset))
	if err != nil {
		return nil, false, err
	}
	if record.Name != name {
		return nil, false, nil
	}
	return record, true, nil
}
