// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/binary"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/bureau-foundation/casfs/lib/object"
)

// GCStats summarizes one garbage collection pass.
type GCStats struct {
	// ObjectsRemoved is the number of object files deleted.
	ObjectsRemoved int

	// BytesRemoved is the total size of the deleted object files.
	BytesRemoved int64

	// ObjectsKept is the number of objects remaining after the pass.
	ObjectsKept int
}

// GC removes every object whose reference count is zero, then every
// object orphaned by that removal, until only objects reachable from
// a label remain. The caller must ensure no import is running
// concurrently: a half-imported tree has refcount-zero roots that a
// concurrent GC would collect.
func (s *Store) GC() (*GCStats, error) {
	stats := &GCStats{}

	err := s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		edges := tx.Bucket(bucketDeps)

		// Seed with every currently unreferenced object, then chase
		// the cascade: deleting a parent releases its children, any
		// child that drops to zero joins the queue.
		var queue []object.ID
		err := objects.ForEach(func(key, value []byte) error {
			if binary.BigEndian.Uint64(value) == 0 {
				var id object.ID
				copy(id[:], key)
				queue = append(queue, id)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]

			// Release this object's outgoing dependency edges before
			// deleting it, collecting children that hit zero.
			cursor := edges.Cursor()
			var edgeKeys [][]byte
			for key, value := cursor.Seek(id[:]); key != nil && len(key) == 2*object.Size && object.ID(key[:object.Size]) == id; key, value = cursor.Next() {
				var child object.ID
				copy(child[:], key[object.Size:])
				edgeCount := int64(binary.BigEndian.Uint32(value))
				if err := bumpRefcount(objects, child, -edgeCount); err != nil {
					return err
				}
				if binary.BigEndian.Uint64(objects.Get(child[:])) == 0 {
					queue = append(queue, child)
				}
				edgeKeys = append(edgeKeys, append([]byte{}, key...))
			}
			for _, key := range edgeKeys {
				if err := edges.Delete(key); err != nil {
					return err
				}
			}

			if err := objects.Delete(id[:]); err != nil {
				return err
			}

			path := s.ObjectPath(id)
			if info, err := os.Stat(path); err == nil {
				stats.BytesRemoved += info.Size()
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing object %s: %w", object.FormatID(id), err)
			}
			stats.ObjectsRemoved++
			s.logger.Debug("collected object", "id", object.FormatID(id))
		}

		return objects.ForEach(func(key, value []byte) error {
			stats.ObjectsKept++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("garbage collection: %w", err)
	}

	s.logger.Info("garbage collection complete",
		"removed", stats.ObjectsRemoved,
		"bytes", stats.BytesRemoved,
		"kept", stats.ObjectsKept)
	return stats, nil
}
