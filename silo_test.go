// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silodev/silo/internal/format"
)

func TestLoadFromBytesValidation(t *testing.T) {
	s := NewSilo()

	err := s.LoadFromBytes([]byte("short"))
	assert.ErrorIs(t, err, format.ErrShortBuffer)

	bogus := make([]byte, format.HeaderSize)
	err = s.LoadFromBytes(bogus)
	assert.ErrorIs(t, err, format.ErrBadMagic)

	// a valid header whose strtab offset points outside the blob
	hdr := format.Header{Strtab: format.HeaderSize + 100}
	err = s.LoadFromBytes(hdr.Append(nil))
	assert.ErrorIs(t, err, format.ErrShortBuffer)
}

func TestSiloNotLoaded(t *testing.T) {
	s := NewSilo()
	assert.ErrorIs(t, s.Walk(func(NodeView) bool { return true }), ErrNotLoaded)
	assert.ErrorIs(t, s.SaveToFile(filepath.Join(t.TempDir(), "x")), ErrNotLoaded)
	assert.Nil(t, s.Bytes())
}

func TestSaveAndLoadFile(t *testing.T) {
	compiled := compileXML(t, `<a x="1"><b>hi</b></a>`, CompileFlagNone)

	path := filepath.Join(t.TempDir(), "out.silo")
	require.NoError(t, compiled.SaveToFile(path))

	// saved silos are read-only
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), st.Mode().Perm())

	loaded := NewSilo()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, compiled.GUID(), loaded.GUID())
	assert.Equal(t, compiled.Bytes(), loaded.Bytes())
	assert.Equal(t, walkAll(t, compiled), walkAll(t, loaded))
	require.NoError(t, loaded.Close())
}

func TestSaveOverwritesReadOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.silo")

	first := compileXML(t, "<one/>", CompileFlagNone)
	require.NoError(t, first.SaveToFile(path))

	second := compileXML(t, "<two/>", CompileFlagNone)
	require.NoError(t, second.SaveToFile(path))

	loaded := NewSilo()
	require.NoError(t, loaded.LoadFromFile(path))
	nodes := walkAll(t, loaded)
	require.Len(t, nodes, 1)
	assert.Equal(t, "two", nodes[0].Element)
	require.NoError(t, loaded.Close())
}

func TestLoadFromFileMissing(t *testing.T) {
	s := NewSilo()
	assert.Error(t, s.LoadFromFile(filepath.Join(t.TempDir(), "missing.silo")))
}

func TestLoadFromFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.silo")
	require.NoError(t, os.WriteFile(path, []byte("garbage data here, definitely not a silo"), 0o644))

	s := NewSilo()
	assert.ErrorIs(t, s.LoadFromFile(path), format.ErrBadMagic)
}

func TestWalkEarlyStop(t *testing.T) {
	s := compileXML(t, "<a><b/><c/></a>", CompileFlagNone)

	var seen []string
	require.NoError(t, s.Walk(func(n NodeView) bool {
		seen = append(seen, n.Element)
		return len(seen) < 2
	}))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestRoundTripIdentity(t *testing.T) {
	const doc = `<library><shelf id="top"><book lang="en">Title &amp; More</book><book/></shelf><shelf id="bottom"/></library>`
	s := compileXML(t, doc, CompileFlagNone)

	nodes := walkAll(t, s)
	require.Len(t, nodes, 5)
	assert.Equal(t, "library", nodes[0].Element)
	assert.Equal(t, "shelf", nodes[1].Element)
	assert.Equal(t, AttrView{Name: "id", Value: "top"}, nodes[1].Attrs[0])
	assert.Equal(t, "book", nodes[2].Element)
	assert.Equal(t, "Title & More", nodes[2].Text)
	assert.Equal(t, AttrView{Name: "lang", Value: "en"}, nodes[2].Attrs[0])
	assert.Equal(t, "book", nodes[3].Element)
	assert.False(t, nodes[3].HasText)
	assert.Equal(t, "shelf", nodes[4].Element)
	assert.Equal(t, 1, nodes[4].Depth)

	// reload from the emitted bytes and compare enumeration
	reloaded := NewSilo()
	require.NoError(t, reloaded.LoadFromBytes(append([]byte(nil), s.Bytes()...)))
	assert.Equal(t, nodes, walkAll(t, reloaded))
}

func TestOffsetValidity(t *testing.T) {
	s := compileXML(t, `<a p="q"><b>text</b><c><d/></c></a>`, CompileFlagNone)
	data := s.Bytes()
	hdr, err := format.ParseHeader(data)
	require.NoError(t, err)

	off := uint32(format.HeaderSize)
	for off < hdr.Strtab {
		rec, next, err := format.DecodeNode(data[:hdr.Strtab], off)
		require.NoError(t, err)
		if rec.IsNode {
			assert.Less(t, rec.Element, uint32(len(data))-hdr.Strtab)
			if rec.Next != 0 {
				assert.GreaterOrEqual(t, rec.Next, uint32(format.HeaderSize))
				assert.Less(t, rec.Next, hdr.Strtab)
			}
			if rec.Parent != 0 {
				assert.GreaterOrEqual(t, rec.Parent, uint32(format.HeaderSize))
				assert.Less(t, rec.Parent, off)
			}
		}
		off = next
	}
}
