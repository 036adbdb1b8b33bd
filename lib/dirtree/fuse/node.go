// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"sync"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/casfs/lib/dirtree"
	"github.com/bureau-foundation/casfs/lib/object"
	"github.com/bureau-foundation/casfs/lib/store"
)

// maxSymlinkTarget bounds symlink object content, matching PATH_MAX.
const maxSymlinkTarget = 4096

// nodeStat is the attribute set of one tree entry, captured from its
// parent directory's record when the inode is created. Immutable.
type nodeStat struct {
	mode  uint32
	uid   uint32
	gid   uint32
	nlink uint64
	rdev  uint64
	atime uint64
	mtime uint64
	ctime uint64
	size  uint64
}

func statFromRecord(record *dirtree.Record) nodeStat {
	stat := nodeStat{
		mode:  record.Mode,
		uid:   record.UID,
		gid:   record.GID,
		nlink: record.Nlink,
		atime: record.Atime,
		mtime: record.Mtime,
		ctime: record.Ctime,
		size:  record.Size,
	}
	if record.Kind() == dirtree.KindOther {
		// The nlink slot of a contentless entry carries the device
		// number.
		stat.rdev = record.Nlink
		stat.nlink = 1
	}
	return stat
}

func (s *nodeStat) fill(out *fuse.Attr) {
	out.Mode = s.mode
	out.Uid = s.uid
	out.Gid = s.gid
	out.Nlink = uint32(s.nlink)
	out.Rdev = uint32(s.rdev)
	out.Size = s.size
	out.Blocks = (s.size + 511) / 512
	out.Atime = s.atime / 1_000_000_000
	out.Atimensec = uint32(s.atime % 1_000_000_000)
	out.Mtime = s.mtime / 1_000_000_000
	out.Mtimensec = uint32(s.mtime % 1_000_000_000)
	out.Ctime = s.ctime / 1_000_000_000
	out.Ctimensec = uint32(s.ctime % 1_000_000_000)
}

// dirNode is a directory inode. It lazily opens its backing object
// for Lookup and keeps it open until the kernel forgets the inode;
// each opened directory handle gets an independent object, reader,
// and iterator so concurrent listings never share a window.
type dirNode struct {
	gofuse.Inode
	engine *engine
	id     object.ID
	ino    uint64
	stat   nodeStat

	// mu protects the lazily opened lookup state below.
	mu     sync.Mutex
	obj    *store.Object
	reader *dirtree.BufferedReader
	header dirtree.Header
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeOpendirHandler = (*dirNode)(nil)
var _ gofuse.NodeOnForgetter = (*dirNode)(nil)

func (n *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.stat.fill(&out.Attr)
	return 0
}

// ensureLocked opens the directory's backing object and decodes its
// header. Callers hold n.mu.
func (n *dirNode) ensureLocked() syscall.Errno {
	if n.obj != nil {
		return 0
	}

	obj, err := n.engine.store.OpenObject(n.id)
	if err != nil {
		n.engine.logger.Error("opening directory object",
			"id", object.FormatID(n.id), "error", err)
		return syscall.EIO
	}

	reader := dirtree.NewBufferedReader(obj, n.engine.bufferSize)
	header, err := dirtree.ReadHeader(reader)
	if err != nil {
		obj.Close()
		n.engine.logger.Error("reading directory header",
			"id", object.FormatID(n.id), "error", err)
		return syscall.EIO
	}
	if header.Flags != 0 {
		obj.Close()
		n.engine.logger.Error("directory object has unsupported flags",
			"id", object.FormatID(n.id), "flags", header.Flags)
		return syscall.EIO
	}

	n.obj = obj
	n.reader = reader
	n.header = header
	return 0
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if errno := n.ensureLocked(); errno != 0 {
		return nil, errno
	}

	record, found, err := dirtree.Lookup(n.reader, n.header, name)
	if err != nil {
		n.engine.logger.Error("directory lookup",
			"id", object.FormatID(n.id), "name", name, "error", err)
		return nil, syscall.EIO
	}
	if !found {
		return nil, syscall.ENOENT
	}
	return n.makeChild(ctx, record, out)
}

// makeChild creates (or revives) the inode for one directory record.
// The child's inode number is this directory's number plus the
// record's dependency index, which is unique across the whole tree.
func (n *dirNode) makeChild(ctx context.Context, record *dirtree.Record, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	ino := n.ino + record.DepIndex
	stat := statFromRecord(record)

	var embedder gofuse.InodeEmbedder
	switch record.Kind() {
	case dirtree.KindDirectory:
		embedder = &dirNode{engine: n.engine, id: record.Child, ino: ino, stat: stat}
	case dirtree.KindRegular:
		embedder = &fileNode{engine: n.engine, id: record.Child, stat: stat}
	case dirtree.KindSymlink:
		embedder = &linkNode{engine: n.engine, id: record.Child, stat: stat}
	default:
		embedder = &otherNode{stat: stat}
	}

	child := n.NewInode(ctx, embedder, gofuse.StableAttr{
		Mode: record.Mode & syscall.S_IFMT,
		Ino:  ino,
	})
	stat.fill(&out.Attr)
	return child, 0
}

func (n *dirNode) OpendirHandle(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	obj, err := n.engine.store.OpenObject(n.id)
	if err != nil {
		n.engine.logger.Error("opening directory object",
			"id", object.FormatID(n.id), "error", err)
		return nil, 0, syscall.EIO
	}

	reader := dirtree.NewBufferedReader(obj, n.engine.bufferSize)
	header, err := dirtree.ReadHeader(reader)
	if err != nil {
		obj.Close()
		n.engine.logger.Error("reading directory header",
			"id", object.FormatID(n.id), "error", err)
		return nil, 0, syscall.EIO
	}

	handle := &dirHandle{
		node:   n,
		obj:    obj,
		reader: reader,
		header: header,
		iter:   dirtree.NewIterator(reader, header),
	}
	return handle, fuse.FOPEN_CACHE_DIR, 0
}

// OnForget releases the lookup-path object once the kernel drops the
// inode. Open directory handles are unaffected; they own their own
// objects.
func (n *dirNode) OnForget() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.obj != nil {
		n.obj.Close()
		n.obj = nil
		n.reader = nil
	}
}

// dirHandle is one opened directory stream. Positions 0 and 1 are the
// synthetic "." and ".." entries; position p ≥ 2 is record p-2. An
// entry's directory offset is its position plus one, so the offset
// handed back by the kernel is exactly where the stream resumes.
type dirHandle struct {
	node *dirNode

	mu     sync.Mutex
	obj    *store.Object
	reader *dirtree.BufferedReader
	header dirtree.Header
	iter   *dirtree.Iterator
	pos    uint64

	// emitted counts records produced since the last seek. A record
	// decode failure with nothing emitted yet ends the stream cleanly
	// instead of failing it: the listing a reader resumes mid-stream
	// degrades to truncation, a listing that loses entries in the
	// middle degrades to an error.
	emitted int
}

var _ gofuse.FileReaddirenter = (*dirHandle)(nil)
var _ gofuse.FileSeekdirer = (*dirHandle)(nil)
var _ gofuse.FileReleasedirer = (*dirHandle)(nil)

func (h *dirHandle) Readdirent(ctx context.Context) (*fuse.DirEntry, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.pos {
	case 0:
		h.pos++
		return &fuse.DirEntry{Name: ".", Mode: syscall.S_IFDIR, Ino: h.node.ino, Off: 1}, 0
	case 1:
		h.pos++
		return &fuse.DirEntry{Name: "..", Mode: syscall.S_IFDIR, Ino: h.parentIno(), Off: 2}, 0
	}

	record, ok, err := h.iter.Next()
	if err != nil {
		h.node.engine.logger.Error("directory read",
			"id", object.FormatID(h.node.id),
			"position", h.iter.Position(), "error", err)
		if h.emitted == 0 {
			return nil, 0
		}
		return nil, syscall.EIO
	}
	if !ok {
		return nil, 0
	}

	h.emitted++
	h.pos++
	return &fuse.DirEntry{
		Name: record.Name,
		Mode: record.Mode & syscall.S_IFMT,
		Ino:  h.node.ino + record.DepIndex,
		Off:  h.pos,
	}, 0
}

func (h *dirHandle) Seekdir(ctx context.Context, off uint64) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	target := uint64(0)
	if off >= 2 {
		target = off - 2
	}
	if target > uint64(h.header.EntryCount) {
		target = uint64(h.header.EntryCount)
	}
	if err := h.iter.Seek(uint32(target)); err != nil {
		h.node.engine.logger.Error("directory seek",
			"id", object.FormatID(h.node.id), "offset", off, "error", err)
		return syscall.EIO
	}
	h.pos = off
	h.emitted = 0
	return 0
}

func (h *dirHandle) Releasedir(ctx context.Context, releaseFlags uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.obj != nil {
		h.obj.Close()
		h.obj = nil
	}
}

func (h *dirHandle) parentIno() uint64 {
	_, parent := h.node.Parent()
	if parent == nil {
		return h.node.ino
	}
	return parent.StableAttr().Ino
}

// fileNode is a regular file inode. Content reads are served straight
// from the backing object's file descriptor so the kernel can splice.
type fileNode struct {
	gofuse.Inode
	engine *engine
	id     object.ID
	stat   nodeStat
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.stat.fill(&out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	obj, err := n.engine.store.OpenObject(n.id)
	if err != nil {
		n.engine.logger.Error("opening file object",
			"id", object.FormatID(n.id), "error", err)
		return nil, 0, syscall.EIO
	}

	// Object content is immutable; the page cache never goes stale.
	return &fileHandle{obj: obj}, fuse.FOPEN_KEEP_CACHE, 0
}

type fileHandle struct {
	mu  sync.Mutex
	obj *store.Object
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultFd(h.obj.Fd(), off, len(dest)), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.obj != nil {
		h.obj.Close()
		h.obj = nil
	}
	return 0
}

// linkNode is a symlink inode. The target is the whole content of the
// backing object, read once and cached.
type linkNode struct {
	gofuse.Inode
	engine *engine
	id     object.ID
	stat   nodeStat

	mu     sync.Mutex
	target []byte
}

var _ gofuse.InodeEmbedder = (*linkNode)(nil)
var _ gofuse.NodeGetattrer = (*linkNode)(nil)
var _ gofuse.NodeReadlinker = (*linkNode)(nil)

func (n *linkNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.stat.fill(&out.Attr)
	return 0
}

func (n *linkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.target != nil {
		return n.target, 0
	}

	obj, err := n.engine.store.OpenObject(n.id)
	if err != nil {
		n.engine.logger.Error("opening symlink object",
			"id", object.FormatID(n.id), "error", err)
		return nil, syscall.EIO
	}
	defer obj.Close()

	size := obj.Size()
	if size > maxSymlinkTarget {
		n.engine.logger.Error("symlink target too long",
			"id", object.FormatID(n.id), "size", size)
		return nil, syscall.ENAMETOOLONG
	}

	target := make([]byte, size)
	if read, err := obj.ReadAt(target, 0); err != nil && read != len(target) {
		n.engine.logger.Error("reading symlink target",
			"id", object.FormatID(n.id), "error", err)
		return nil, syscall.EIO
	}

	n.target = target
	return target, 0
}

// otherNode covers devices, fifos, and sockets: attributes only, no
// backing object.
type otherNode struct {
	gofuse.Inode
	stat nodeStat
}

var _ gofuse.InodeEmbedder = (*otherNode)(nil)
var _ gofuse.NodeGetattrer = (*otherNode)(nil)

func (n *otherNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.stat.fill(&out.Attr)
	return 0
}
