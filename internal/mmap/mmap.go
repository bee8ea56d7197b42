// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap provides a read-only memory mapping of a file, used to
// serve silo contents without copying them onto the heap.
package mmap

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ReaderAt is a file mapped read-only into memory.
type ReaderAt struct {
	data     []byte
	isClosed atomic.Bool
}

// Open maps the file at path.  Empty files map to a nil (but valid)
// buffer, since mmap of length 0 is an error on Linux.
func Open(path string) (*ReaderAt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := stats.Size()
	if size == 0 {
		return &ReaderAt{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}
	// silos are walked front to back
	if err := unix.Madvise(data, unix.MADV_SEQUENTIAL); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("madvise: %w", err)
	}

	return &ReaderAt{data: data}, nil
}

// Data returns the mapped bytes.  The slice is invalid after Close.
func (r *ReaderAt) Data() []byte {
	return r.data
}

func (r *ReaderAt) Len() int {
	return len(r.data)
}

func (r *ReaderAt) Close() error {
	if alreadyClosed := r.isClosed.Swap(true); alreadyClosed {
		return nil
	}
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
