// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package importer

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/casfs/lib/dirtree"
	"github.com/bureau-foundation/casfs/lib/object"
	"github.com/bureau-foundation/casfs/lib/store"
)

// Compression magic numbers recognized by ImportTar.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// tarNode is one entry of the in-memory tree built while reading the
// archive. Archives list members in arbitrary order and may mention a
// directory after its contents (or not at all), so the tree is
// assembled first and encoded bottom-up afterwards.
type tarNode struct {
	mode  uint32
	uid   uint32
	gid   uint32
	rdev  uint64
	atime uint64
	mtime uint64
	ctime uint64
	size  uint64
	child object.ID

	// children is non-nil exactly for directories.
	children map[string]*tarNode
}

// ImportTar imports a tar archive, optionally gzip- or
// zstd-compressed, and returns the ID of the resulting root directory
// object. Directories the archive implies but never lists get mode
// 0755 and root ownership.
func ImportTar(st *store.Store, r io.Reader, logger *slog.Logger) (object.ID, *Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader, err := decompress(r)
	if err != nil {
		return object.ID{}, nil, err
	}

	run := &importRun{store: st, logger: logger}
	root := &tarNode{
		mode:     unix.S_IFDIR | 0o755,
		children: map[string]*tarNode{},
	}

	archive := tar.NewReader(reader)
	for {
		header, err := archive.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return object.ID{}, nil, fmt.Errorf("reading tar archive: %w", err)
		}
		if err := run.addMember(root, header, archive); err != nil {
			return object.ID{}, nil, err
		}
	}

	id, _, _, err := run.encodeNode(root)
	if err != nil {
		return object.ID{}, nil, err
	}

	logger.Info("tar import complete",
		"root", object.FormatID(id),
		"directories", run.stats.Directories,
		"files", run.stats.Files,
		"symlinks", run.stats.Symlinks,
		"bytes", run.stats.Bytes)
	return id, &run.stats, nil
}

// decompress sniffs the stream's magic bytes and wraps it in the
// matching decompressor, passing plain tar through untouched.
func decompress(r io.Reader) (io.Reader, error) {
	buffered := bufio.NewReader(r)
	magic, err := buffered.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("sniffing archive compression: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, nil
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return buffered, nil
	}
}

// addMember places one archive member into the node tree, storing
// file content as it streams past.
func (run *importRun) addMember(root *tarNode, header *tar.Header, content io.Reader) error {
	name := cleanMemberPath(header.Name)
	if name == "" {
		// The archive's own "." entry sets root metadata.
		if header.Typeflag == tar.TypeDir {
			applyTarMeta(root, header, unix.S_IFDIR)
		}
		return nil
	}
	parent, base, err := mkdirs(root, name)
	if err != nil {
		return err
	}
	if err := dirtree.ValidateName(base); err != nil {
		return fmt.Errorf("tar member %q: %w", header.Name, err)
	}

	node := parent.children[base]
	if node == nil {
		node = &tarNode{}
		parent.children[base] = node
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if node.children == nil {
			node.children = map[string]*tarNode{}
		}
		applyTarMeta(node, header, unix.S_IFDIR)

	case tar.TypeReg:
		writer, err := run.store.NewWriter()
		if err != nil {
			return err
		}
		if _, err := io.Copy(writer, content); err != nil {
			writer.Close()
			return fmt.Errorf("storing tar member %q: %w", header.Name, err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("storing tar member %q: %w", header.Name, err)
		}
		applyTarMeta(node, header, unix.S_IFREG)
		node.child = writer.ID()
		node.size = uint64(writer.Size())
		run.stats.Files++
		run.stats.Bytes += writer.Size()

	case tar.TypeSymlink:
		id, err := run.store.CreateObject([]byte(header.Linkname))
		if err != nil {
			return fmt.Errorf("storing symlink target of %q: %w", header.Name, err)
		}
		applyTarMeta(node, header, unix.S_IFLNK)
		node.child = id
		node.size = uint64(len(header.Linkname))
		run.stats.Symlinks++
		run.stats.Bytes += int64(len(header.Linkname))

	case tar.TypeLink:
		target := lookupNode(root, cleanMemberPath(header.Linkname))
		if target == nil || target.children != nil {
			return fmt.Errorf("tar member %q links to missing or non-file %q",
				header.Name, header.Linkname)
		}
		applyTarMeta(node, header, unix.S_IFREG)
		node.child = target.child
		node.size = target.size
		run.stats.Files++

	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		var typeBits uint32
		switch header.Typeflag {
		case tar.TypeChar:
			typeBits = unix.S_IFCHR
		case tar.TypeBlock:
			typeBits = unix.S_IFBLK
		default:
			typeBits = unix.S_IFIFO
		}
		applyTarMeta(node, header, typeBits)
		node.rdev = unix.Mkdev(uint32(header.Devmajor), uint32(header.Devminor))
		run.stats.Others++

	default:
		run.logger.Debug("skipping unsupported tar member",
			"name", header.Name, "type", header.Typeflag)
		delete(parent.children, base)
	}
	return nil
}

// encodeNode writes the directory object for node (and, recursively,
// its subdirectories) and returns the object ID, header tree size,
// and encoded size.
func (run *importRun) encodeNode(node *tarNode) (object.ID, uint64, uint64, error) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	builder := dirtree.NewBuilder()
	var deps []object.ID
	for _, name := range names {
		child := node.children[name]
		entry := dirtree.BuildEntry{
			Mode:  child.mode,
			UID:   child.uid,
			GID:   child.gid,
			Nlink: 1,
			Atime: child.atime,
			Mtime: child.mtime,
			Ctime: child.ctime,
			Size:  child.size,
			Child: child.child,
			Name:  name,
		}

		if child.children != nil {
			childID, treeSize, objectSize, err := run.encodeNode(child)
			if err != nil {
				return object.ID{}, 0, 0, err
			}
			entry.Child = childID
			entry.Descendants = treeSize
			entry.Size = objectSize
			subdirs := uint64(0)
			for _, grandchild := range child.children {
				if grandchild.children != nil {
					subdirs++
				}
			}
			entry.Nlink = 2 + subdirs
			deps = append(deps, childID)
		} else if child.mode&unix.S_IFMT == unix.S_IFCHR ||
			child.mode&unix.S_IFMT == unix.S_IFBLK ||
			child.mode&unix.S_IFMT == unix.S_IFIFO {
			entry.Nlink = child.rdev
		} else {
			deps = append(deps, child.child)
		}

		if err := builder.Add(entry); err != nil {
			return object.ID{}, 0, 0, err
		}
	}

	data, treeSize, err := builder.Encode()
	if err != nil {
		return object.ID{}, 0, 0, err
	}
	id, err := run.store.CreateObject(data, deps...)
	if err != nil {
		return object.ID{}, 0, 0, err
	}
	run.stats.Directories++
	return id, treeSize, uint64(len(data)), nil
}

// applyTarMeta fills a node's stat fields from a tar header.
func applyTarMeta(node *tarNode, header *tar.Header, typeBits uint32) {
	node.mode = typeBits | (uint32(header.Mode) & 0o7777)
	node.uid = uint32(header.Uid)
	node.gid = uint32(header.Gid)
	node.atime = timeNanos(header.AccessTime)
	node.mtime = timeNanos(header.ModTime)
	node.ctime = timeNanos(header.ChangeTime)
}

// mkdirs walks the parent directories of a member path, creating
// placeholder directory nodes as needed, and returns the immediate
// parent plus the member's base name.
func mkdirs(root *tarNode, memberPath string) (*tarNode, string, error) {
	parts := strings.Split(memberPath, "/")
	node := root
	for _, part := range parts[:len(parts)-1] {
		child := node.children[part]
		if child == nil {
			child = &tarNode{
				mode:     unix.S_IFDIR | 0o755,
				children: map[string]*tarNode{},
			}
			node.children[part] = child
		}
		if child.children == nil {
			return nil, "", fmt.Errorf("tar member path %q passes through a non-directory", memberPath)
		}
		node = child
	}
	return node, parts[len(parts)-1], nil
}

// lookupNode resolves a cleaned member path in the node tree, or nil.
func lookupNode(root *tarNode, memberPath string) *tarNode {
	if memberPath == "" {
		return root
	}
	node := root
	for _, part := range strings.Split(memberPath, "/") {
		if node == nil || node.children == nil {
			return nil
		}
		node = node.children[part]
	}
	return node
}

// cleanMemberPath normalizes a tar member name to a slash-separated
// relative path, with "" meaning the archive root.
func cleanMemberPath(name string) string {
	cleaned := path.Clean("/" + name)
	return strings.TrimPrefix(cleaned, "/")
}

func timeNanos(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.UnixNano())
}
