// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mount configuration for casfs.
//
// Configuration is a single YAML file named explicitly by the caller
// (typically the --config flag of "casfs mount"). There is no
// automatic discovery and no environment fallback: the same file
// always produces the same mount.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/casfs/lib/object"
)

// Config describes one casfs mount.
type Config struct {
	// Store is the path of the object store directory.
	Store string `yaml:"store"`

	// RootObject is the 64-character hex ID of the directory object
	// mounted as the filesystem root. Required; a mount cannot exist
	// without it.
	RootObject string `yaml:"root_object"`

	// Mountpoint is where the filesystem is mounted. Created if
	// absent.
	Mountpoint string `yaml:"mountpoint"`

	// BufferSize is the window capacity in bytes for per-directory
	// buffered readers. Zero selects the engine default.
	BufferSize int `yaml:"buffer_size"`

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that all required fields are present and
// well-formed.
func (c *Config) Validate() error {
	if c.Store == "" {
		return fmt.Errorf("store path is required")
	}
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	if c.RootObject == "" {
		return fmt.Errorf("root_object is required")
	}
	if _, err := object.ParseID(c.RootObject); err != nil {
		return fmt.Errorf("root_object: %w", err)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative")
	}
	return nil
}

// RootID returns the parsed root object ID. Call Validate (or Load,
// which validates) first.
func (c *Config) RootID() (object.ID, error) {
	return object.ParseID(c.RootObject)
}
