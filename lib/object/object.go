// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package object defines the 32-byte identifier that names every
// object in a casfs store, together with its canonical 64-character
// hex text form and the sharded relative path used to locate the
// object's backing file.
package object

import (
	"encoding/hex"
	"fmt"
)

// Size is the byte length of an object identifier.
const Size = 32

// HexLength is the length of the canonical hexadecimal text form:
// two hex digits per identifier byte.
const HexLength = 2 * Size

// ID is a 32-byte object identifier. IDs are opaque to everything
// except the store's write path, which derives them from object
// content. The zero ID is reserved for entries that have no backing
// object (device nodes, fifos, sockets).
type ID [Size]byte

// ParseID parses the 64-character hex form of an identifier.
// Parsing is case-insensitive; any other length or a non-hex
// character is an error.
func ParseID(text string) (ID, error) {
	var id ID
	if len(text) != HexLength {
		return id, fmt.Errorf("object ID is %d characters, want %d", len(text), HexLength)
	}
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return id, fmt.Errorf("parsing object ID: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}

// FormatID returns the canonical lower-case hex form of an identifier.
func FormatID(id ID) string {
	return hex.EncodeToString(id[:])
}

// ShardPath returns the relative path of the object within a store's
// data directory: the first byte as a two-character directory name,
// the remaining 31 bytes as the file name. Sharding on the leading
// byte bounds any single directory's fan-out at 256 entries
// regardless of how many objects the store holds.
func (id ID) ShardPath() string {
	full := hex.EncodeToString(id[:])
	return full[:2] + "/" + full[2:]
}

// IsZero reports whether the identifier is the reserved all-zero
// value.
func (id ID) IsZero() bool {
	return id == ID{}
}
