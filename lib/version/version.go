// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the casfs build version.
package version

// Version is the semantic version of this build. Overridden at
// release time via -ldflags "-X .../lib/version.Version=...".
var Version = "0.1.0-dev"

// Info returns the human-readable version string.
func Info() string {
	return Version
}
