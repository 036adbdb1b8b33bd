// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store manages a casfs object store directory.
//
// On-disk layout:
//
//	<root>/casfs.yaml      store manifest (format version)
//	<root>/meta.db         bbolt metadata: refcounts, deps, labels
//	<root>/data/ab/<62hex> object files, sharded on the ID's first byte
//	<root>/tmp/            staging area for in-flight writes
//
// Objects are immutable and named by a keyed BLAKE3 hash over their
// direct dependencies and content, so identical content deduplicates
// to a single file. The metadata database tracks how many parents
// and labels reference each object; GC removes objects nothing
// references.
//
// The store is safe for concurrent reads. Writes (imports, label
// changes, GC) are serialized by the caller; running GC concurrently
// with an import can collect objects the import is still linking.
package store
