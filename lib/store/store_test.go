// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/casfs/lib/object"
)

// testTimestamp is a fixed timestamp for label operations in tests.
var testTimestamp = time.Unix(1735689600, 0) // 2025-01-01T00:00:00Z

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := NewStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestObjectRoundtrip(t *testing.T) {
	st := testStore(t)

	content := []byte("the quick brown fox")
	id, err := st.CreateObject(content)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if id.IsZero() {
		t.Fatal("CreateObject returned the zero ID")
	}

	obj, err := st.OpenObject(id)
	if err != nil {
		t.Fatalf("OpenObject: %v", err)
	}
	defer obj.Close()

	if obj.Size() != int64(len(content)) {
		t.Errorf("Size = %d, want %d", obj.Size(), len(content))
	}
	got := make([]byte, len(content))
	if _, err := obj.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriterStreaming(t *testing.T) {
	st := testStore(t)

	writer, err := st.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := writer.Write(bytes.Repeat([]byte{byte(i)}, 1000)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if writer.Size() != 10_000 {
		t.Errorf("Size = %d, want 10000", writer.Size())
	}

	// Streamed and one-shot writes of the same bytes agree on the ID.
	var oneShot bytes.Buffer
	for i := 0; i < 10; i++ {
		oneShot.Write(bytes.Repeat([]byte{byte(i)}, 1000))
	}
	id, err := st.CreateObject(oneShot.Bytes())
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if id != writer.ID() {
		t.Error("streamed and one-shot IDs differ")
	}
}

func TestDeduplication(t *testing.T) {
	st := testStore(t)

	first, err := st.CreateObject([]byte("same bytes"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	second, err := st.CreateObject([]byte("same bytes"))
	if err != nil {
		t.Fatalf("CreateObject again: %v", err)
	}
	if first != second {
		t.Error("identical content produced different IDs")
	}
}

func TestDeduplicationDiscardsStagedFile(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := NewStore(root, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	for i := 0; i < 3; i++ {
		if _, err := st.CreateObject([]byte("same bytes")); err != nil {
			t.Fatalf("CreateObject: %v", err)
		}
	}

	staged, err := os.ReadDir(filepath.Join(root, tmpDir))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(staged) != 0 {
		t.Errorf("%d staged files left behind after deduplicated writes", len(staged))
	}
}

func TestDependenciesChangeIdentity(t *testing.T) {
	st := testStore(t)

	depA, err := st.CreateObject([]byte("a"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	depB, err := st.CreateObject([]byte("b"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	plain, err := st.CreateObject([]byte("content"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	withA, err := st.CreateObject([]byte("content"), depA)
	if err != nil {
		t.Fatalf("CreateObject with dep: %v", err)
	}
	withB, err := st.CreateObject([]byte("content"), depB)
	if err != nil {
		t.Fatalf("CreateObject with dep: %v", err)
	}

	if plain == withA || plain == withB || withA == withB {
		t.Error("dependency list did not change the object ID")
	}

	// Dependency order must not matter.
	orderAB, err := st.CreateObject([]byte("content"), depA, depB)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	orderBA, err := st.CreateObject([]byte("content"), depB, depA)
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if orderAB != orderBA {
		t.Error("dependency order changed the object ID")
	}
}

func TestOpenMissing(t *testing.T) {
	st := testStore(t)

	var missing object.ID
	missing[0] = 0xff
	if _, err := st.OpenObject(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing object: %v, want ErrNotFound", err)
	}

	if _, err := st.OpenObject(object.ID{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("zero ID: %v, want ErrNotFound", err)
	}
}

func TestReopenStore(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := NewStore(root, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	id, err := st.CreateObject([]byte("persistent"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = NewStore(root, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	found, err := st.HasObject(id)
	if err != nil {
		t.Fatalf("HasObject: %v", err)
	}
	if !found {
		t.Error("object lost across reopen")
	}
}

func TestBadStoreVersionRefused(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(root+"/casfs.yaml", []byte("version: 99\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewStore(root, logger); err == nil {
		t.Fatal("unsupported store version accepted")
	}
}

func TestLabels(t *testing.T) {
	st := testStore(t)

	target, err := st.CreateObject([]byte("labeled"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	other, err := st.CreateObject([]byte("other"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	if err := st.SetLabel("release/v1", target, testTimestamp); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	got, found, err := st.Label("release/v1")
	if err != nil || !found {
		t.Fatalf("Label: found=%v err=%v", found, err)
	}
	if got != target {
		t.Error("label resolved to wrong target")
	}

	if _, found, err := st.Label("absent"); found || err != nil {
		t.Errorf("absent label: found=%v err=%v", found, err)
	}

	// Retargeting moves the reference; the old target becomes
	// collectable.
	if err := st.SetLabel("release/v1", other, testTimestamp.Add(time.Hour)); err != nil {
		t.Fatalf("SetLabel retarget: %v", err)
	}
	stats, err := st.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if stats.ObjectsRemoved != 1 || stats.ObjectsKept != 1 {
		t.Errorf("GC after retarget: removed=%d kept=%d, want 1/1", stats.ObjectsRemoved, stats.ObjectsKept)
	}

	records, err := st.Labels()
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if len(records) != 1 || records[0].Name != "release/v1" || records[0].Target != other {
		t.Errorf("Labels = %+v", records)
	}

	if err := st.DeleteLabel("release/v1"); err != nil {
		t.Fatalf("DeleteLabel: %v", err)
	}
	if err := st.DeleteLabel("release/v1"); err == nil {
		t.Error("deleting an absent label succeeded")
	}
}

func TestGCKeepsLabeledTree(t *testing.T) {
	st := testStore(t)

	leaf, err := st.CreateObject([]byte("leaf"))
	if err != nil {
		t.Fatalf("CreateObject leaf: %v", err)
	}
	mid, err := st.CreateObject([]byte("mid"), leaf)
	if err != nil {
		t.Fatalf("CreateObject mid: %v", err)
	}
	root, err := st.CreateObject([]byte("root"), mid)
	if err != nil {
		t.Fatalf("CreateObject root: %v", err)
	}
	orphan, err := st.CreateObject([]byte("orphan"))
	if err != nil {
		t.Fatalf("CreateObject orphan: %v", err)
	}

	if err := st.SetLabel("keep", root, testTimestamp); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	stats, err := st.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if stats.ObjectsRemoved != 1 {
		t.Errorf("GC removed %d objects, want 1 (the orphan)", stats.ObjectsRemoved)
	}
	if stats.ObjectsKept != 3 {
		t.Errorf("GC kept %d objects, want 3", stats.ObjectsKept)
	}
	if found, _ := st.HasObject(orphan); found {
		t.Error("orphan survived GC")
	}
	for _, id := range []object.ID{leaf, mid, root} {
		if found, _ := st.HasObject(id); !found {
			t.Errorf("labeled-tree object %s collected", object.FormatID(id))
		}
	}

	// Dropping the label makes the whole chain collectable.
	if err := st.DeleteLabel("keep"); err != nil {
		t.Fatalf("DeleteLabel: %v", err)
	}
	stats, err = st.GC()
	if err != nil {
		t.Fatalf("second GC: %v", err)
	}
	if stats.ObjectsRemoved != 3 || stats.ObjectsKept != 0 {
		t.Errorf("second GC: removed=%d kept=%d, want 3/0", stats.ObjectsRemoved, stats.ObjectsKept)
	}
	if _, err := st.OpenObject(leaf); !errors.Is(err, ErrNotFound) {
		t.Errorf("collected object still opens: %v", err)
	}
}

func TestGCDedupedParentCountsOnce(t *testing.T) {
	st := testStore(t)

	leaf, err := st.CreateObject([]byte("shared leaf"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	// Writing the identical parent twice dedups to one object; the
	// leaf must end up with exactly one incoming reference.
	if _, err := st.CreateObject([]byte("parent"), leaf); err != nil {
		t.Fatalf("CreateObject parent: %v", err)
	}
	if _, err := st.CreateObject([]byte("parent"), leaf); err != nil {
		t.Fatalf("CreateObject parent again: %v", err)
	}

	stats, err := st.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if stats.ObjectsKept != 0 {
		t.Errorf("GC kept %d objects, want 0 (double-counted reference?)", stats.ObjectsKept)
	}
}

func TestGCDuplicateEdges(t *testing.T) {
	st := testStore(t)

	leaf, err := st.CreateObject([]byte("twice-referenced"))
	if err != nil {
		t.Fatalf("CreateObject: %v", err)
	}
	// One parent naming the same child twice: both edges must release
	// on collection.
	if _, err := st.CreateObject([]byte("parent"), leaf, leaf); err != nil {
		t.Fatalf("CreateObject: %v", err)
	}

	stats, err := st.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if stats.ObjectsKept != 0 {
		t.Errorf("GC kept %d objects, want 0", stats.ObjectsKept)
	}
}
