// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/bureau-foundation/casfs/lib/codec"
	"github.com/bureau-foundation/casfs/lib/object"
)

// Metadata buckets.
var (
	// bucketObjects maps object ID -> big-endian uint64 reference
	// count. A reference is one dependency edge from a parent object
	// or one label.
	bucketObjects = []byte("objects")

	// bucketDeps maps parent ID || child ID -> big-endian uint32 edge
	// count (a parent may reference the same child more than once).
	bucketDeps = []byte("deps")

	// bucketLabels maps label name -> CBOR LabelRecord.
	bucketLabels = []byte("labels")
)

// LabelRecord is a named, mutable reference to an object. Labels are
// the only mutable state in a store and the only thing that keeps an
// otherwise-unreferenced subtree alive across GC.
type LabelRecord struct {
	Name      string    `cbor:"name"`
	Target    object.ID `cbor:"target"`
	CreatedAt time.Time `cbor:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

// recordObject inserts a written object and its dependency edges into
// the metadata database. A deduplicated write is a no-op: the edges
// were already recorded, identically, by whichever write got there
// first.
func (s *Store) recordObject(id object.ID, deps []object.ID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		if objects.Get(id[:]) != nil {
			return nil
		}

		var zero [8]byte
		if err := objects.Put(id[:], zero[:]); err != nil {
			return fmt.Errorf("recording object %s: %w", object.FormatID(id), err)
		}

		edges := tx.Bucket(bucketDeps)
		for _, dep := range deps {
			key := append(append([]byte{}, id[:]...), dep[:]...)
			count := uint32(0)
			if existing := edges.Get(key); existing != nil {
				count = binary.BigEndian.Uint32(existing)
			}
			var encoded [4]byte
			binary.BigEndian.PutUint32(encoded[:], count+1)
			if err := edges.Put(key, encoded[:]); err != nil {
				return fmt.Errorf("recording dependency edge: %w", err)
			}
			if err := bumpRefcount(objects, dep, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

// bumpRefcount adjusts an object's reference count by delta within an
// open transaction.
func bumpRefcount(objects *bolt.Bucket, id object.ID, delta int64) error {
	existing := objects.Get(id[:])
	if existing == nil {
		return fmt.Errorf("reference to unknown object %s", object.FormatID(id))
	}
	count := int64(binary.BigEndian.Uint64(existing))
	count += delta
	if count < 0 {
		return fmt.Errorf("reference count of object %s went negative", object.FormatID(id))
	}
	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], uint64(count))
	return objects.Put(id[:], encoded[:])
}

// HasObject reports whether the store's metadata knows the object.
func (s *Store) HasObject(id object.ID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketObjects).Get(id[:]) != nil
		return nil
	})
	return found, err
}

// SetLabel points a label at an object, creating the label if needed.
// The target gains a reference; a previous target loses one.
func (s *Store) SetLabel(name string, target object.ID, now time.Time) error {
	if name == "" {
		return fmt.Errorf("label name is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		labels := tx.Bucket(bucketLabels)

		record := LabelRecord{Name: name, Target: target, CreatedAt: now, UpdatedAt: now}
		if existing := labels.Get([]byte(name)); existing != nil {
			var previous LabelRecord
			if err := codec.Unmarshal(existing, &previous); err != nil {
				return fmt.Errorf("decoding label %q: %w", name, err)
			}
			if previous.Target == target {
				return nil
			}
			if err := bumpRefcount(objects, previous.Target, -1); err != nil {
				return err
			}
			record.CreatedAt = previous.CreatedAt
		}

		if err := bumpRefcount(objects, target, 1); err != nil {
			return err
		}

		encoded, err := codec.Marshal(&record)
		if err != nil {
			return fmt.Errorf("encoding label %q: %w", name, err)
		}
		return labels.Put([]byte(name), encoded)
	})
}

// DeleteLabel removes a label, releasing its reference to the target.
// Deleting an absent label is an error.
func (s *Store) DeleteLabel(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		labels := tx.Bucket(bucketLabels)
		existing := labels.Get([]byte(name))
		if existing == nil {
			return fmt.Errorf("label %q does not exist", name)
		}
		var record LabelRecord
		if err := codec.Unmarshal(existing, &record); err != nil {
			return fmt.Errorf("decoding label %q: %w", name, err)
		}
		if err := bumpRefcount(tx.Bucket(bucketObjects), record.Target, -1); err != nil {
			return err
		}
		return labels.Delete([]byte(name))
	})
}

// Label returns the object a label points at, with exists=false when
// the label is absent.
func (s *Store) Label(name string) (object.ID, bool, error) {
	var id object.ID
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		encoded := tx.Bucket(bucketLabels).Get([]byte(name))
		if encoded == nil {
			return nil
		}
		var record LabelRecord
		if err := codec.Unmarshal(encoded, &record); err != nil {
			return fmt.Errorf("decoding label %q: %w", name, err)
		}
		id = record.Target
		exists = true
		return nil
	})
	return id, exists, err
}

// Labels returns all label records sorted by name.
func (s *Store) Labels() ([]LabelRecord, error) {
	var records []LabelRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLabels).ForEach(func(key, value []byte) error {
			var record LabelRecord
			if err := codec.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("decoding label %q: %w", string(key), err)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
