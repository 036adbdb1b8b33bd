// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse mounts a directory object tree as a read-only
// filesystem.
//
// Every inode is backed by an immutable store object, so attribute
// and entry caches never need invalidation and the kernel page cache
// stays valid for the life of the mount. Directory listing is served
// straight from the directory object's record area through a small
// buffered window; nothing is loaded eagerly and directories never
// materialize fully in memory.
package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/casfs/lib/dirtree"
	"github.com/bureau-foundation/casfs/lib/object"
	"github.com/bureau-foundation/casfs/lib/store"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Store provides the backing objects.
	Store *store.Store

	// Root is the directory object mounted as the filesystem root.
	Root object.ID

	// BufferSize is the window capacity in bytes of each directory
	// handle's buffered reader. Zero uses dirtree.DefaultBufferSize.
	BufferSize int

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors go to
	// stderr.
	Logger *slog.Logger
}

// engine is the state shared by every node of one mount.
type engine struct {
	store      *store.Store
	bufferSize int
	logger     *slog.Logger
}

// Mount mounts the tree rooted at options.Root. The caller must call
// Unmount on the returned server when done. The root object is opened
// and its header checked before mounting, so a missing or malformed
// root fails here rather than at first access.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if options.Root.IsZero() {
		return nil, fmt.Errorf("root object is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := checkRoot(options.Store, options.Root, options.BufferSize); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{
		engine: &engine{
			store:      options.Store,
			bufferSize: options.BufferSize,
			logger:     options.Logger,
		},
		id:  options.Root,
		ino: 1,
		stat: nodeStat{
			mode:  syscall.S_IFDIR | 0o555,
			nlink: 2,
		},
	}

	// Everything is immutable, so cache entries and attributes for a
	// long time. Negative entries are equally permanent: a name absent
	// from a directory object stays absent.
	entryTimeout := 1 * time.Hour
	attrTimeout := 1 * time.Hour
	negativeTimeout := 1 * time.Hour

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "casfs",
			Name:       "casfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("casfs mounted",
		"mountpoint", options.Mountpoint,
		"root", object.FormatID(options.Root))
	return server, nil
}

// checkRoot opens the root object and decodes its header so a broken
// root is reported before the mount exists.
func checkRoot(st *store.Store, root object.ID, bufferSize int) error {
	obj, err := st.OpenObject(root)
	if err != nil {
		return fmt.Errorf("opening root object: %w", err)
	}
	defer obj.Close()

	header, err := dirtree.ReadHeader(dirtree.NewBufferedReader(obj, bufferSize))
	if err != nil {
		return fmt.Errorf("root object %s: %w", object.FormatID(root), err)
	}
	if header.Flags != 0 {
		return fmt.Errorf("root object %s has unsupported flags %#x: %w",
			object.FormatID(root), header.Flags, dirtree.ErrBadFormat)
	}
	return nil
}
