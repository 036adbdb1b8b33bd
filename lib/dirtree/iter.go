// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"fmt"
)

// Iterator walks a directory's entries in index order. Records are
// laid out contiguously in that order, so after one Seek the iterator
// advances with sequential reads; only Seek consults the offset
// table.
//
// Not safe for concurrent use; callers hold a per-handle lock.
type Iterator struct {
	reader *BufferedReader
	header Header

	// position is the logical position of the next entry, in
	// [0, EntryCount].
	position uint32

	// cursor is the byte offset of that entry's record. Valid only
	// when primed.
	cursor int64
	primed bool
}

// NewIterator creates an iterator positioned at entry 0.
func NewIterator(r *BufferedReader, header Header) *Iterator {
	return &Iterator{reader: r, header: header}
}

// Position returns the logical position of the next entry.
func (it *Iterator) Position() uint32 {
	return it.position
}

// Seek repositions the iterator at logical position p by reading
// entry p's byte offset from the index. p may equal the entry count,
// which positions the iterator at exhaustion.
func (it *Iterator) Seek(p uint32) error {
	if p > it.header.EntryCount {
		return fmt.Errorf("seek to position %d beyond entry count %d: %w",
			p, it.header.EntryCount, ErrBadFormat)
	}
	if p == it.header.EntryCount {
		it.position = p
		it.primed = false
		return nil
	}

	entry, err := readIndexEntry(it.reader, it.header, p)
	if err != nil {
		return err
	}
	it.position = p
	it.cursor = int64(entry.recordOffset)
	it.primed = true
	return nil
}

// Next decodes the entry at the current position and advances past
// it. Returns ok=false with a nil record and nil error once all
// entries have been produced.
func (it *Iterator) Next() (*Record, bool, error) {
	if it.position >= it.header.EntryCount {
		return nil, false, nil
	}
	if !it.primed {
		if err := it.Seek(it.position); err != nil {
			return nil, false, err
		}
	}

	record, err := readRecordAt(it.reader, it.cursor)
	if err != nil {
		return nil, false, err
	}

	it.cursor += encodedSize(len(record.Name))
	it.position++
	return record, true, nil
}
