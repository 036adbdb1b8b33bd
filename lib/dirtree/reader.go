// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is the window capacity used when a caller does
// not choose one. 16 KiB holds the header and index of directories
// with up to ~2000 entries in a single refill.
const DefaultBufferSize = 16 * 1024

// ErrTruncated reports that a fixed-size structure extends past the
// end of the backing object. It means the object is corrupt; it is
// never used for a name that merely isn't present.
var ErrTruncated = errors.New("dirtree: object truncated")

// Source is the backing object contract: positional reads plus a
// fixed total size known up front.
type Source interface {
	io.ReaderAt
	Size() int64
}

// BufferedReader serves range reads from a Source through one
// fixed-capacity sliding window. A request fully inside the current
// window returns a view into it with no copy and no I/O; anything
// else refills the window one aligned block at a time and copies into
// the caller's buffer. Blocks are aligned to the window capacity.
//
// Not safe for concurrent use; callers hold a per-handle lock.
type BufferedReader struct {
	source Source
	size   int64

	// buf holds the current window contents. Its capacity is the
	// block size; its length is the number of valid bytes. bufPos is
	// the object offset of buf[0].
	buf    []byte
	bufPos int64
}

// NewBufferedReader wraps source with a window of the given capacity.
// A non-positive capacity selects DefaultBufferSize.
func NewBufferedReader(source Source, bufferSize int) *BufferedReader {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &BufferedReader{
		source: source,
		size:   source.Size(),
		buf:    make([]byte, 0, bufferSize),
	}
}

// Size returns the total size of the backing object.
func (r *BufferedReader) Size() int64 {
	return r.size
}

// Read reads up to len(dst) bytes starting at off. The returned slice
// is either a view into the reader's window (valid only until the
// next call on this reader) or dst itself. A request extending past
// the end of the object is truncated to the available bytes; a
// request entirely past the end returns an empty slice and no error.
func (r *BufferedReader) Read(dst []byte, off int64) ([]byte, error) {
	start := off
	end := off + int64(len(dst))
	if end > r.size {
		end = r.size
	}
	if start >= end {
		return nil, nil
	}

	capacity := int64(cap(r.buf))

	// Fast path: the whole range is already in the window.
	if start >= r.bufPos && end <= r.bufPos+int64(len(r.buf)) {
		return r.buf[start-r.bufPos : end-r.bufPos], nil
	}

	firstBlock := start / capacity
	lastBlock := (end - 1) / capacity
	for block := firstBlock; block <= lastBlock; block++ {
		blockStart := block * capacity
		if err := r.fillBlock(blockStart); err != nil {
			return nil, err
		}

		segStart := blockStart
		if segStart < start {
			segStart = start
		}
		segEnd := blockStart + capacity
		if segEnd > end {
			segEnd = end
		}

		// A request covered by a single block can be served as a
		// view even though it wasn't buffered when we started.
		if segStart == start && segEnd == end {
			return r.buf[start-r.bufPos : end-r.bufPos], nil
		}
		copy(dst[segStart-start:segEnd-start], r.buf[segStart-r.bufPos:segEnd-r.bufPos])
	}

	return dst[:end-start], nil
}

// ReadFull is Read, but fails with an error wrapping ErrTruncated if
// fewer than len(dst) bytes exist at off. Used wherever a fixed-size
// structure must be present in full.
func (r *BufferedReader) ReadFull(dst []byte, off int64) ([]byte, error) {
	data, err := r.Read(dst, off)
	if err != nil {
		return nil, err
	}
	if len(data) != len(dst) {
		return nil, fmt.Errorf("%d bytes at offset %d, object ends early: %w", len(dst), off, ErrTruncated)
	}
	return data, nil
}

// fillBlock loads the aligned block starting at blockStart into the
// window. No-op if the window already holds at least the valid span
// of that block. On failure the window is invalidated so stale
// partial contents can never satisfy a later fast path.
func (r *BufferedReader) fillBlock(blockStart int64) error {
	capacity := int64(cap(r.buf))
	want := capacity
	if r.size-blockStart < want {
		want = r.size - blockStart
	}

	if r.bufPos == blockStart && int64(len(r.buf)) >= want {
		return nil
	}

	block := r.buf[:want]
	var read int64
	for read < want {
		n, err := r.source.ReadAt(block[read:want], blockStart+read)
		read += int64(n)
		if err != nil {
			if err == io.EOF && read >= want {
				break
			}
			r.buf = r.buf[:0]
			r.bufPos = 0
			return fmt.Errorf("reading object block at offset %d: %w", blockStart, err)
		}
		if n == 0 {
			r.buf = r.buf[:0]
			r.bufPos = 0
			return fmt.Errorf("reading object block at offset %d: no progress: %w", blockStart, ErrTruncated)
		}
	}

	r.buf = block
	r.bufPos = blockStart
	return nil
}
