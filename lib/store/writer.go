// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/casfs/lib/object"
)

// objectDomainKey is the 32-byte key for BLAKE3 keyed hashing of
// object content. The byte values are the ASCII domain name,
// zero-padded to 32 bytes, so the key is inspectable in hex dumps
// without sacrificing any property of the keyed mode.
var objectDomainKey = [32]byte{
	'c', 'a', 's', 'f', 's', '.', 'o', 'b', 'j', 'e', 'c', 't',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Writer streams a new object into the store. The object's ID is the
// keyed BLAKE3 hash of its direct dependency list followed by its
// content, so the ID commits to the whole subtree an object can
// reach, not just its own bytes.
//
// Write the content, then Close, then read the assigned ID:
//
//	writer, err := store.NewWriter(deps...)
//	io.Copy(writer, content)
//	err = writer.Close()
//	id := writer.ID()
type Writer struct {
	store  *Store
	tmp    *os.File
	hasher *blake3.Hasher
	deps   []object.ID
	size   int64
	id     object.ID
	closed bool
}

// NewWriter begins a new object with the given direct dependencies.
// Dependencies are sorted before hashing so dependency order never
// changes an object's identity.
func (s *Store) NewWriter(deps ...object.ID) (*Writer, error) {
	sorted := make([]object.ID, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	hasher, err := blake3.NewKeyed(objectDomainKey[:])
	if err != nil {
		return nil, fmt.Errorf("store: BLAKE3 keyed hash initialization failed: %w", err)
	}

	var depCount [4]byte
	binary.BigEndian.PutUint32(depCount[:], uint32(len(sorted)))
	hasher.Write(depCount[:])
	for _, dep := range sorted {
		hasher.Write(dep[:])
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "object-*.bin")
	if err != nil {
		return nil, fmt.Errorf("creating temp object file: %w", err)
	}

	return &Writer{store: s, tmp: tmp, hasher: hasher, deps: sorted}, nil
}

// Write appends content bytes to the object.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed object writer")
	}
	n, err := w.tmp.Write(p)
	w.hasher.Write(p[:n])
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing object content: %w", err)
	}
	return n, nil
}

// Close finalizes the object: computes its ID, moves the staged file
// into place, and records the object and its dependency edges in the
// store metadata. If an identical object already exists the staged
// file is discarded and the existing one is kept.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	tmpPath := w.tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := w.tmp.Close(); err != nil {
		return fmt.Errorf("closing temp object file: %w", err)
	}

	copy(w.id[:], w.hasher.Sum(nil))

	finalPath := w.store.ObjectPath(w.id)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating object shard directory: %w", err)
	}

	// Dedup: identical dependencies and content produce the same ID,
	// and the existing object is identical by construction, so the
	// staged copy is dropped.
	if _, err := os.Stat(finalPath); err == nil {
		if err := os.Remove(tmpPath); err != nil {
			return fmt.Errorf("discarding staged duplicate of %s: %w", object.FormatID(w.id), err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stating object path %s: %w", finalPath, err)
	} else if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming object to %s: %w", finalPath, err)
	}
	success = true

	return w.store.recordObject(w.id, w.deps)
}

// ID returns the content-derived object ID. Valid after Close.
func (w *Writer) ID() object.ID {
	return w.id
}

// Size returns the number of content bytes written.
func (w *Writer) Size() int64 {
	return w.size
}

// CreateObject stores data as a complete object with the given
// dependencies and returns its ID.
func (s *Store) CreateObject(data []byte, deps ...object.ID) (object.ID, error) {
	writer, err := s.NewWriter(deps...)
	if err != nil {
		return object.ID{}, err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return object.ID{}, err
	}
	if err := writer.Close(); err != nil {
		return object.ID{}, err
	}
	return writer.ID(), nil
}
