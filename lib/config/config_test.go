// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "casfs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validRoot = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
store: /var/lib/casfs
root_object: `+validRoot+`
mountpoint: /mnt/tree
buffer_size: 32768
allow_other: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != "/var/lib/casfs" || cfg.Mountpoint != "/mnt/tree" {
		t.Errorf("paths = %q / %q", cfg.Store, cfg.Mountpoint)
	}
	if cfg.BufferSize != 32768 || !cfg.AllowOther {
		t.Errorf("options = %d / %v", cfg.BufferSize, cfg.AllowOther)
	}

	id, err := cfg.RootID()
	if err != nil {
		t.Fatalf("RootID: %v", err)
	}
	if id.IsZero() {
		t.Error("RootID returned zero")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
store: /s
root_object: `+validRoot+`
mountpoint: /m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BufferSize != 0 || cfg.AllowOther {
		t.Errorf("defaults = %d / %v", cfg.BufferSize, cfg.AllowOther)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing store": `
root_object: ` + validRoot + `
mountpoint: /m
`,
		"missing mountpoint": `
store: /s
root_object: ` + validRoot + `
`,
		"missing root": `
store: /s
mountpoint: /m
`,
		"short root": `
store: /s
root_object: abcdef
mountpoint: /m
`,
		"negative buffer": `
store: /s
root_object: ` + validRoot + `
mountpoint: /m
buffer_size: -1
`,
		"unknown field": `
store: /s
root_object: ` + validRoot + `
mountpoint: /m
mount_point: /typo
`,
	}

	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "absent.yaml") {
		t.Errorf("missing file: %v", err)
	}
}
