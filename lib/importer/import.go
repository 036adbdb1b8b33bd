// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/casfs/lib/dirtree"
	"github.com/bureau-foundation/casfs/lib/object"
	"github.com/bureau-foundation/casfs/lib/store"
)

// Stats summarizes one import.
type Stats struct {
	Directories int
	Files       int
	Symlinks    int
	Others      int

	// Bytes is the total content size of imported regular files and
	// symlink targets, before deduplication.
	Bytes int64
}

type importRun struct {
	store  *store.Store
	logger *slog.Logger
	stats  Stats
}

// ImportPath imports the directory tree rooted at path and returns
// the ID of the resulting root directory object. Hard-linked files
// are imported once each; their content still deduplicates to a
// single object.
//
// Files and directories are read without updating their atimes, so
// the timestamps an import records are the timestamps a re-import
// sees: importing an unchanged tree yields the same root ID.
func ImportPath(st *store.Store, path string, logger *slog.Logger) (object.ID, *Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return object.ID{}, nil, fmt.Errorf("stating import root %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return object.ID{}, nil, fmt.Errorf("import root %s is not a directory", path)
	}

	run := &importRun{store: st, logger: logger}
	id, _, _, err := run.directory(path)
	if err != nil {
		return object.ID{}, nil, err
	}

	logger.Info("import complete",
		"root", object.FormatID(id),
		"directories", run.stats.Directories,
		"files", run.stats.Files,
		"symlinks", run.stats.Symlinks,
		"bytes", run.stats.Bytes)
	return id, &run.stats, nil
}

// directory imports one directory bottom-up and returns the directory
// object's ID, its header tree size, and the encoded object's size.
func (run *importRun) directory(path string) (object.ID, uint64, uint64, error) {
	entries, err := readDirNoatime(path)
	if err != nil {
		return object.ID{}, 0, 0, fmt.Errorf("listing %s: %w", path, err)
	}

	builder := dirtree.NewBuilder()
	var deps []object.ID
	for _, dirEntry := range entries {
		name := dirEntry.Name()
		if err := dirtree.ValidateName(name); err != nil {
			return object.ID{}, 0, 0, fmt.Errorf("in %s: %w", path, err)
		}

		full := filepath.Join(path, name)
		var stat unix.Stat_t
		if err := unix.Lstat(full, &stat); err != nil {
			return object.ID{}, 0, 0, fmt.Errorf("stating %s: %w", full, err)
		}

		entry := dirtree.BuildEntry{
			Mode:  stat.Mode,
			UID:   stat.Uid,
			GID:   stat.Gid,
			Nlink: uint64(stat.Nlink),
			Atime: timespecNanos(stat.Atim),
			Mtime: timespecNanos(stat.Mtim),
			Ctime: timespecNanos(stat.Ctim),
			Name:  name,
		}

		switch stat.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			childID, treeSize, objectSize, err := run.directory(full)
			if err != nil {
				return object.ID{}, 0, 0, err
			}
			entry.Child = childID
			entry.Descendants = treeSize
			entry.Size = objectSize
			deps = append(deps, childID)

		case unix.S_IFREG:
			childID, size, err := run.file(full)
			if err != nil {
				return object.ID{}, 0, 0, err
			}
			entry.Child = childID
			entry.Size = uint64(size)
			deps = append(deps, childID)
			run.stats.Files++
			run.stats.Bytes += size

		case unix.S_IFLNK:
			target, err := os.Readlink(full)
			if err != nil {
				return object.ID{}, 0, 0, fmt.Errorf("reading symlink %s: %w", full, err)
			}
			childID, err := run.store.CreateObject([]byte(target))
			if err != nil {
				return object.ID{}, 0, 0, fmt.Errorf("storing symlink target of %s: %w", full, err)
			}
			// Readlink may bump the link's atime; refresh it so a later
			// import of the unchanged tree records the same value.
			if err := unix.Lstat(full, &stat); err != nil {
				return object.ID{}, 0, 0, fmt.Errorf("stating %s: %w", full, err)
			}
			entry.Atime = timespecNanos(stat.Atim)
			entry.Child = childID
			entry.Size = uint64(len(target))
			deps = append(deps, childID)
			run.stats.Symlinks++
			run.stats.Bytes += int64(len(target))

		default:
			// Devices, fifos, and sockets have no backing object. The
			// nlink slot carries the device number instead.
			entry.Nlink = uint64(stat.Rdev)
			run.stats.Others++
		}

		if err := builder.Add(entry); err != nil {
			return object.ID{}, 0, 0, fmt.Errorf("in %s: %w", path, err)
		}
	}

	data, treeSize, err := builder.Encode()
	if err != nil {
		return object.ID{}, 0, 0, fmt.Errorf("encoding directory %s: %w", path, err)
	}
	id, err := run.store.CreateObject(data, deps...)
	if err != nil {
		return object.ID{}, 0, 0, fmt.Errorf("storing directory %s: %w", path, err)
	}
	run.stats.Directories++
	run.logger.Debug("imported directory", "path", path, "id", object.FormatID(id), "entries", builder.Len())
	return id, treeSize, uint64(len(data)), nil
}

// file streams one regular file into the store.
func (run *importRun) file(path string) (object.ID, int64, error) {
	f, err := openNoatime(path)
	if err != nil {
		return object.ID{}, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	writer, err := run.store.NewWriter()
	if err != nil {
		return object.ID{}, 0, err
	}
	if _, err := io.Copy(writer, f); err != nil {
		writer.Close()
		return object.ID{}, 0, fmt.Errorf("copying %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return object.ID{}, 0, fmt.Errorf("storing %s: %w", path, err)
	}
	return writer.ID(), writer.Size(), nil
}

// openNoatime opens a path for reading without updating its atime.
// The timestamps recorded in directory entries would otherwise change
// under the importer's own reads. O_NOATIME requires owning the file;
// fall back to a plain open when the kernel refuses it.
func openNoatime(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOATIME|unix.O_CLOEXEC, 0)
	if err == unix.EPERM {
		return os.Open(path)
	}
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// readDirNoatime lists a directory without updating its atime,
// sorted by name like os.ReadDir.
func readDirNoatime(path string) ([]os.DirEntry, error) {
	f, err := openNoatime(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func timespecNanos(ts unix.Timespec) uint64 {
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}
