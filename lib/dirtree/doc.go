// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dirtree decodes directory objects: the binary format casfs
// uses to represent a directory as a single content-addressed object.
//
// A directory object is laid out as a fixed header, a hash index, and
// a run of entry records. All integers are big-endian:
//
//	[0, 4)    flags
//	[4, 8)    entry count
//	[8, 16)   tree size (total entries in the whole subtree)
//	[16+8i]   index slot i: record offset (4 bytes), name CRC-32 (4 bytes)
//
// Index slots are sorted ascending by name CRC-32. Each record begins
// at its slot's record offset:
//
//	[+0, +4)    mode
//	[+4, +8)    uid
//	[+8, +12)   gid
//	[+12, +20)  nlink (directories) or device number (device nodes)
//	[+20, +44)  atime, mtime, ctime in nanoseconds
//	[+44, +52)  size
//	[+52, +84)  child object ID
//	[+84, +92)  dependency index
//	[+92, +96)  name length
//	[+96, ...)  name bytes, padded to a multiple of 8
//
// Records are written contiguously in index order, which is what lets
// [Iterator] advance sequentially after a single seek through the
// offset column of the index.
//
// Lookup hashes the wanted name with CRC-32 (IEEE), binary-searches
// the index, and disambiguates hash collisions by comparing the
// actual name bytes of every slot in the equal-hash run. A name whose
// hash matches but whose bytes do not is simply not found; distinct
// names sharing a CRC-32 are an expected case, not corruption.
//
// All reads go through [BufferedReader], a single sliding window over
// the backing object sized to serve both the random probes of lookup
// and the sequential scan of iteration without re-reading from the
// start.
package dirtree
