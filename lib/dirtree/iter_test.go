// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func iterEntries(count int) []BuildEntry {
	var entries []BuildEntry
	for i := 0; i < count; i++ {
		// Varied name lengths so record sizes differ and alignment
		// padding actually varies.
		name := fmt.Sprintf("n%d-%s", i, strings.Repeat("a", i%13))
		entries = append(entries, BuildEntry{
			Name:  name,
			Mode:  modeRegular | 0o644,
			Size:  uint64(i),
			Child: testID(byte(i + 1)),
		})
	}
	return entries
}

func TestIteratorSequential(t *testing.T) {
	reader, header := encodeDir(t, 128, iterEntries(40)...)
	iter := NewIterator(reader, header)

	var names []string
	for {
		record, ok, err := iter.Next()
		if err != nil {
			t.Fatalf("Next at %d: %v", iter.Position(), err)
		}
		if !ok {
			break
		}
		names = append(names, record.Name)
	}
	if len(names) != 40 {
		t.Fatalf("iterated %d entries, want 40", len(names))
	}

	// Entry names are unique even though the order is hash order.
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			t.Errorf("entry %q produced twice", name)
		}
		seen[name] = true
	}

	// Exhausted iterator stays exhausted.
	if _, ok, err := iter.Next(); ok || err != nil {
		t.Errorf("Next after exhaustion: ok=%v err=%v", ok, err)
	}
}

func TestIteratorSeekMatchesSequential(t *testing.T) {
	reader, header := encodeDir(t, 128, iterEntries(40)...)

	// Sequential pass for reference.
	sequential := map[uint32]string{}
	iter := NewIterator(reader, header)
	for {
		position := iter.Position()
		record, ok, err := iter.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		sequential[position] = record.Name
	}

	// Seeking to each position must resume exactly where the
	// sequential pass was.
	for p := uint32(0); p < header.EntryCount; p++ {
		fresh := NewIterator(reader, header)
		if err := fresh.Seek(p); err != nil {
			t.Fatalf("Seek(%d): %v", p, err)
		}
		if fresh.Position() != p {
			t.Fatalf("Position after Seek(%d) = %d", p, fresh.Position())
		}
		record, ok, err := fresh.Next()
		if err != nil || !ok {
			t.Fatalf("Next after Seek(%d): ok=%v err=%v", p, ok, err)
		}
		if record.Name != sequential[p] {
			t.Errorf("Seek(%d) produced %q, sequential produced %q", p, record.Name, sequential[p])
		}
	}
}

func TestIteratorSeekToEnd(t *testing.T) {
	reader, header := encodeDir(t, 0, iterEntries(5)...)
	iter := NewIterator(reader, header)

	if err := iter.Seek(header.EntryCount); err != nil {
		t.Fatalf("Seek to entry count: %v", err)
	}
	if _, ok, err := iter.Next(); ok || err != nil {
		t.Errorf("Next after seek-to-end: ok=%v err=%v", ok, err)
	}
}

func TestIteratorSeekBeyondEnd(t *testing.T) {
	reader, header := encodeDir(t, 0, iterEntries(5)...)
	iter := NewIterator(reader, header)

	if err := iter.Seek(header.EntryCount + 1); !errors.Is(err, ErrBadFormat) {
		t.Errorf("Seek beyond end: %v, want ErrBadFormat", err)
	}
}

func TestIteratorSeekBackwards(t *testing.T) {
	reader, header := encodeDir(t, 0, iterEntries(10)...)
	iter := NewIterator(reader, header)

	// Drain forward, then rewind and confirm entry 0 comes back.
	first, ok, err := iter.Next()
	if err != nil || !ok {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}
	for {
		_, ok, err := iter.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
	}

	if err := iter.Seek(0); err != nil {
		t.Fatalf("Seek(0): %v", err)
	}
	again, ok, err := iter.Next()
	if err != nil || !ok {
		t.Fatalf("Next after rewind: ok=%v err=%v", ok, err)
	}
	if again.Name != first.Name {
		t.Errorf("rewind produced %q, want %q", again.Name, first.Name)
	}
}
