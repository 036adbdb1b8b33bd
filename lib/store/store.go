// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/casfs/lib/object"
)

// Names within the store root.
const (
	dataDir      = "data"
	tmpDir       = "tmp"
	metaFile     = "meta.db"
	manifestFile = "casfs.yaml"
)

// StoreVersion is the on-disk format version this code reads and
// writes.
const StoreVersion = 1

// ErrNotFound reports that no object with the requested ID exists in
// the store.
var ErrNotFound = errors.New("store: object not found")

// manifest is the YAML store manifest.
type manifest struct {
	Version   int       `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Store is a local object store. Create or open one with NewStore.
type Store struct {
	root   string
	db     *bolt.DB
	logger *slog.Logger
}

// NewStore opens the store rooted at the given directory, creating
// the directory structure, manifest, and metadata database on first
// use. An existing store with a different format version is refused.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	for _, dir := range []string{root, filepath.Join(root, dataDir), filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	if err := checkManifest(filepath.Join(root, manifestFile)); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(root, metaFile), 0o644, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store metadata: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketObjects, bucketDeps, bucketLabels} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing store metadata: %w", err)
	}

	return &Store{root: root, db: db, logger: logger}, nil
}

// checkManifest reads the store manifest, writing a fresh one if the
// store is new.
func checkManifest(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		fresh := manifest{Version: StoreVersion, CreatedAt: time.Now().UTC()}
		encoded, err := yaml.Marshal(&fresh)
		if err != nil {
			return fmt.Errorf("encoding store manifest: %w", err)
		}
		if err := os.WriteFile(path, encoded, 0o644); err != nil {
			return fmt.Errorf("writing store manifest: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading store manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing store manifest: %w", err)
	}
	if m.Version != StoreVersion {
		return fmt.Errorf("store version %d is not supported (this code supports version %d)",
			m.Version, StoreVersion)
	}
	return nil
}

// Close releases the metadata database. Objects opened from the
// store remain valid until individually closed.
func (s *Store) Close() error {
	return s.db.Close()
}

// ObjectPath returns the backing file path for an object ID.
func (s *Store) ObjectPath(id object.ID) string {
	return filepath.Join(s.root, dataDir, filepath.FromSlash(id.ShardPath()))
}

// Object is an opened, immutable store object: positional reads plus
// a fixed size. Close releases the underlying file handle.
type Object struct {
	file *os.File
	size int64
}

// OpenObject opens the object with the given ID for reading. A
// missing object (including the reserved zero ID) fails with an error
// wrapping ErrNotFound.
func (s *Store) OpenObject(id object.ID) (*Object, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("zero object ID: %w", ErrNotFound)
	}

	file, err := os.Open(s.ObjectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", object.FormatID(id), ErrNotFound)
		}
		return nil, fmt.Errorf("opening object %s: %w", object.FormatID(id), err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stating object %s: %w", object.FormatID(id), err)
	}

	return &Object{file: file, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt against the object's backing file.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	return o.file.ReadAt(p, off)
}

// Size returns the object's total size in bytes.
func (o *Object) Size() int64 {
	return o.size
}

// Fd exposes the backing file descriptor for zero-copy read paths
// (FUSE splice). The descriptor is owned by the Object; it is only
// valid until Close.
func (o *Object) Fd() uintptr {
	return o.file.Fd()
}

// Close releases the object's file handle. Safe to call once per
// opened object.
func (o *Object) Close() error {
	return o.file.Close()
}
