// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package importer converts directory trees into casfs objects.
//
// Two sources are supported: a directory on the local filesystem
// (ImportPath) and a tar archive, optionally gzip- or
// zstd-compressed (ImportTar). Both produce the same result: one
// directory object per directory, one content object per regular
// file and symlink, all linked by dependency edges so the store can
// garbage-collect whole trees.
//
// Imports are bottom-up: a directory object is written only after
// every object it references exists, so an interrupted import never
// leaves a directory pointing at a missing child. The partial
// objects it does leave have no references and disappear on the next
// GC pass.
package importer
