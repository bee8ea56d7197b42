// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/silodev/silo/internal/bytesutil"
	"github.com/silodev/silo/internal/format"
	"github.com/silodev/silo/internal/mmap"
	"github.com/silodev/silo/internal/unsafestring"
)

var (
	// ErrNotLoaded is returned when a silo is queried before any blob
	// has been loaded into it.
	ErrNotLoaded = errors.New("silo has no data loaded")
)

// Silo is a compiled, immutable binary document set: a header, a flat
// node table linked by byte offsets, and a packed string table.
//
// A Silo may be backed by an in-memory blob or by a read-only file
// mapping; either way the bytes must not be mutated.
type Silo struct {
	blob []byte
	hdr  format.Header
	mm   *mmap.ReaderAt
}

// NewSilo creates an empty silo; load it with LoadFromBytes or
// LoadFromFile.
func NewSilo() *Silo {
	return &Silo{}
}

// LoadFromBytes validates blob's magic and version and binds the silo to
// it.  Any previously loaded data (including a file mapping) is dropped.
func (s *Silo) LoadFromBytes(blob []byte) error {
	hdr, err := format.ParseHeader(blob)
	if err != nil {
		return err
	}
	if hdr.Strtab < format.HeaderSize || hdr.Strtab > uint32(len(blob)) {
		return fmt.Errorf("%w: strtab offset %d outside file of %d bytes",
			format.ErrShortBuffer, hdr.Strtab, len(blob))
	}
	s.unmap()
	s.blob = blob
	s.hdr = hdr
	return nil
}

// LoadFromFile maps the file at path read-only and binds the silo to it.
func (s *Silo) LoadFromFile(path string) error {
	m, err := mmap.Open(path)
	if err != nil {
		return err
	}
	if err := s.LoadFromBytes(m.Data()); err != nil {
		_ = m.Close()
		return err
	}
	s.mm = m
	return nil
}

// SaveToFile writes the silo to path atomically: into a temp file in the
// destination directory, then renamed over path and made read-only.
func (s *Silo) SaveToFile(path string) error {
	if s.blob == nil {
		return ErrNotLoaded
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("filepath.Abs: %w", err)
	}
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "silo.*.tmp")
	if err != nil {
		return fmt.Errorf("CreateTemp failed (may need permissions for dir %q): %w", dir, err)
	}
	if _, err := f.Write(s.blob); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(f.Name(), 0444); err != nil {
		return fmt.Errorf("os.Chmod(0444): %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

// GUID returns the silo's identity fingerprint in canonical textual form.
func (s *Silo) GUID() string {
	return guidString(s.hdr.GUID)
}

// Bytes returns the raw silo blob.  It must not be mutated.
func (s *Silo) Bytes() []byte {
	return s.blob
}

// Close releases any file mapping backing the silo.  Outstanding node
// views into a mapped silo are invalid afterwards.
func (s *Silo) Close() error {
	err := s.unmapErr()
	s.blob = nil
	s.hdr = format.Header{}
	return err
}

func (s *Silo) unmap() {
	_ = s.unmapErr()
}

func (s *Silo) unmapErr() error {
	if s.mm == nil {
		return nil
	}
	mm := s.mm
	s.mm = nil
	return mm.Close()
}

// AttrView is one decoded attribute of a NodeView.
type AttrView struct {
	Name  string
	Value string
}

// NodeView is one decoded node surfaced during Walk.  The strings alias
// the silo's backing buffer: they are invalid after the silo is closed
// or recompiled.
type NodeView struct {
	Element string
	Text    string
	HasText bool
	Attrs   []AttrView
	Depth   int
	Offset  uint32
}

// Walk decodes the node table in document order, invoking fn for every
// node.  Walking stops early if fn returns false.  Depth is 0 for
// top-level nodes; sentinels are consumed internally to track descent.
func (s *Silo) Walk(fn func(NodeView) bool) error {
	if s.blob == nil {
		return ErrNotLoaded
	}
	nodetab := s.blob[:s.hdr.Strtab]
	strtab := s.blob[s.hdr.Strtab:]

	depth := 0
	off := uint32(format.HeaderSize)
	for off < uint32(len(nodetab)) {
		rec, next, err := format.DecodeNode(nodetab, off)
		if err != nil {
			return err
		}
		if !rec.IsNode {
			// sentinel closes the current child list; trailing padding
			// decodes the same way and simply drains the depth counter
			if depth > 0 {
				depth--
			}
			off = next
			continue
		}
		nv := NodeView{
			Depth:  depth,
			Offset: off,
		}
		nv.Element, err = s.tableString(strtab, rec.Element)
		if err != nil {
			return err
		}
		if rec.HasText {
			nv.HasText = true
			nv.Text, err = s.tableString(strtab, rec.Text)
			if err != nil {
				return err
			}
		}
		if len(rec.Attrs) > 0 {
			nv.Attrs = make([]AttrView, len(rec.Attrs))
			for i, a := range rec.Attrs {
				nv.Attrs[i].Name, err = s.tableString(strtab, a.NameIdx)
				if err != nil {
					return err
				}
				nv.Attrs[i].Value, err = s.tableString(strtab, a.ValueIdx)
				if err != nil {
					return err
				}
			}
		}
		if !fn(nv) {
			return nil
		}
		// the node's first child, if any, immediately follows
		depth++
		off = next
	}
	return nil
}

func (s *Silo) tableString(strtab []byte, off uint32) (string, error) {
	b, ok := bytesutil.CString(strtab, off)
	if !ok {
		return "", fmt.Errorf("invalid string table offset %d", off)
	}
	return unsafestring.FromBytes(b), nil
}
