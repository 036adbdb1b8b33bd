// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"fmt"
	"hash/crc32"
	"strings"
	"testing"
)

func TestLookupFindsEveryEntry(t *testing.T) {
	var entries []BuildEntry
	for i := 0; i < 100; i++ {
		entries = append(entries, BuildEntry{
			Name:  fmt.Sprintf("entry-%03d", i),
			Mode:  modeRegular | 0o644,
			Size:  uint64(i),
			Child: testID(byte(i + 1)),
		})
	}
	// Small window so lookups in a 100-entry directory exercise
	// refills, not just the fast path.
	reader, header := encodeDir(t, 256, entries...)

	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("entry-%03d", i)
		record, found, err := Lookup(reader, header, name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if !found {
			t.Fatalf("Lookup(%q): not found", name)
		}
		if record.Size != uint64(i) {
			t.Errorf("Lookup(%q): wrong record (size %d)", name, record.Size)
		}
	}
}

func TestLookupMissingName(t *testing.T) {
	reader, header := encodeDir(t, 0,
		BuildEntry{Name: "present", Mode: modeRegular | 0o644, Child: testID(1)},
	)

	for _, name := range []string{"absent", "presen", "presentx", ""} {
		record, found, err := Lookup(reader, header, name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if found || record != nil {
			t.Errorf("Lookup(%q) found a record", name)
		}
	}

	// A name too long to encode can't exist either; still not an error.
	tooLong := strings.Repeat("x", MaxNameLength+1)
	if _, found, err := Lookup(reader, header, tooLong); found || err != nil {
		t.Errorf("over-long name: found=%v err=%v", found, err)
	}
}

func TestLookupHashCollision(t *testing.T) {
	// These two names share the CRC-32 0xb155944e, so they land in the
	// same index run and resolution must fall through to comparing
	// name bytes.
	const nameA = "U3lZ.tkUxeNU"
	const nameB = "ckTKdvh"
	if crc32.ChecksumIEEE([]byte(nameA)) != crc32.ChecksumIEEE([]byte(nameB)) {
		t.Fatal("test names no longer collide")
	}

	reader, header := encodeDir(t, 0,
		BuildEntry{Name: "before", Mode: modeRegular | 0o644, Size: 1, Child: testID(1)},
		BuildEntry{Name: nameA, Mode: modeRegular | 0o644, Size: 2, Child: testID(2)},
		BuildEntry{Name: nameB, Mode: modeRegular | 0o644, Size: 3, Child: testID(3)},
		BuildEntry{Name: "zzz-after", Mode: modeRegular | 0o644, Size: 4, Child: testID(4)},
	)

	recordA, found, err := Lookup(reader, header, nameA)
	if err != nil || !found {
		t.Fatalf("Lookup(%q): found=%v err=%v", nameA, found, err)
	}
	if recordA.Size != 2 {
		t.Errorf("Lookup(%q) resolved to wrong record (size %d)", nameA, recordA.Size)
	}

	recordB, found, err := Lookup(reader, header, nameB)
	if err != nil || !found {
		t.Fatalf("Lookup(%q): found=%v err=%v", nameB, found, err)
	}
	if recordB.Size != 3 {
		t.Errorf("Lookup(%q) resolved to wrong record (size %d)", nameB, recordB.Size)
	}

	// A third name with the same hash but different bytes: the walk
	// exhausts the run and reports not-found, no error.
	const nameC = "collide-\x13\xe6\x40\x06"
	if crc32.ChecksumIEEE([]byte(nameC)) != crc32.ChecksumIEEE([]byte(nameA)) {
		t.Fatal("probe name no longer collides")
	}
	if _, found, err := Lookup(reader, header, nameC); found || err != nil {
		t.Errorf("phantom collision name: found=%v err=%v", found, err)
	}
}

func TestTwoEntryDirectory(t *testing.T) {
	reader, header := encodeDir(t, 0,
		BuildEntry{Name: "a", Mode: modeRegular | 0o644, Size: 10, Child: testID(1)},
		BuildEntry{Name: "b", Mode: modeRegular | 0o644, Size: 20, Child: testID(2)},
	)
	if header.EntryCount != 2 {
		t.Fatalf("EntryCount = %d", header.EntryCount)
	}

	a, found, err := Lookup(reader, header, "a")
	if err != nil || !found {
		t.Fatalf("Lookup(a): found=%v err=%v", found, err)
	}
	if a.Size != 10 {
		t.Errorf("Lookup(a) wrong record (size %d)", a.Size)
	}

	if _, found, err := Lookup(reader, header, "c"); found || err != nil {
		t.Errorf("Lookup(c): found=%v err=%v", found, err)
	}

	// Iteration produces both entries in index order, which is CRC
	// order, not name order.
	iter := NewIterator(reader, header)
	var names []string
	for {
		record, ok, err := iter.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		names = append(names, record.Name)
	}
	if len(names) != 2 || (names[0] != "a" && names[0] != "b") || names[0] == names[1] {
		t.Errorf("iteration produced %v", names)
	}
}

func TestLookupSingleEntry(t *testing.T) {
	reader, header := encodeDir(t, 0,
		BuildEntry{Name: "only", Mode: modeDir | 0o755, Child: testID(9)},
	)

	record, found, err := Lookup(reader, header, "only")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if record.Kind() != KindDirectory {
		t.Errorf("Kind = %v, want KindDirectory", record.Kind())
	}
}
