// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package format defines the bit-level layout of silo files: the fixed
// header, the variable-length node records that make up the node table,
// and the attribute records embedded in them.  All multi-byte fields are
// little-endian.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is "SILO" in ASCII, read as a little-endian u32.
	Magic         = uint32(0x4F4C4953)
	FormatVersion = uint32(1)

	// HeaderSize keeps the GUID aligned to 16 bytes.
	HeaderSize = 32

	// SentinelSize is a single zero prefix byte: is_node=0, has_text=0,
	// nr_attrs=0 and no trailing fields.
	SentinelSize = 1

	// NodeFixedSize is the prefix byte plus element_name, next, parent
	// and text, assuming has_text is set.  Callers subtract U32Size for
	// text-less nodes.
	NodeFixedSize = 1 + 4*4

	AttrSize = 8
	U32Size  = 4

	GUIDSize = 16

	// MaxAttrs is the capacity of the 6-bit nr_attrs field.
	MaxAttrs = 1<<6 - 1

	prefixIsNode  = 0x01
	prefixHasText = 0x02

	headerMagicOff   = 0
	headerVersionOff = 4
	headerStrtabOff  = 8
	headerNTagsOff   = 12
	headerGUIDOff    = 16

	// Offsets of the u32 fields within a node record, relative to the
	// record's prefix byte.
	NodeElementOff = 1
	NodeNextOff    = 5
	NodeParentOff  = 9
	NodeTextOff    = 13
)

var (
	ErrBadMagic    = errors.New("bad magic number -- not a silo file or corrupted")
	ErrBadVersion  = errors.New("unsupported silo format version")
	ErrShortBuffer = errors.New("buffer too short")
)

// Header is the fixed-size preamble of every silo file.
type Header struct {
	Strtab uint32
	NTags  uint32
	GUID   [GUIDSize]byte
}

// Append serializes h to the canonical 32-byte layout.
func (h *Header) Append(dst []byte) []byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[headerMagicOff:], Magic)
	binary.LittleEndian.PutUint32(buf[headerVersionOff:], FormatVersion)
	binary.LittleEndian.PutUint32(buf[headerStrtabOff:], h.Strtab)
	binary.LittleEndian.PutUint32(buf[headerNTagsOff:], h.NTags)
	copy(buf[headerGUIDOff:], h.GUID[:])
	return append(dst, buf[:]...)
}

// ParseHeader validates the magic and version and unpacks the header
// fields from the front of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(data), HeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(data[headerMagicOff:]); magic != Magic {
		return h, fmt.Errorf("%w (%x)", ErrBadMagic, magic)
	}
	if v := binary.LittleEndian.Uint32(data[headerVersionOff:]); v != FormatVersion {
		return h, fmt.Errorf("%w: can only read v%d files; found v%d", ErrBadVersion, FormatVersion, v)
	}
	h.Strtab = binary.LittleEndian.Uint32(data[headerStrtabOff:])
	h.NTags = binary.LittleEndian.Uint32(data[headerNTagsOff:])
	copy(h.GUID[:], data[headerGUIDOff:headerGUIDOff+GUIDSize])
	return h, nil
}

// Attr is one serialized attribute: two string-table offsets.
type Attr struct {
	NameIdx  uint32
	ValueIdx uint32
}

// Node is the decoded form of a node record.  A sentinel decodes to the
// zero Node (IsNode false).
type Node struct {
	IsNode  bool
	HasText bool
	Element uint32
	Next    uint32
	Parent  uint32
	Text    uint32
	Attrs   []Attr
}

// Size returns the number of bytes n occupies in the node table.
func (n *Node) Size() uint32 {
	if !n.IsNode {
		return SentinelSize
	}
	sz := uint32(NodeFixedSize) + uint32(len(n.Attrs))*AttrSize
	if !n.HasText {
		sz -= U32Size
	}
	return sz
}

// AppendNode serializes a node record.  The next and parent fields are
// emitted as zero and patched in place once every record has an offset.
func AppendNode(dst []byte, n *Node) []byte {
	if !n.IsNode {
		return append(dst, 0)
	}
	prefix := byte(prefixIsNode) | byte(len(n.Attrs))<<2
	if n.HasText {
		prefix |= prefixHasText
	}
	var buf [NodeFixedSize]byte
	buf[0] = prefix
	binary.LittleEndian.PutUint32(buf[NodeElementOff:], n.Element)
	binary.LittleEndian.PutUint32(buf[NodeNextOff:], n.Next)
	binary.LittleEndian.PutUint32(buf[NodeParentOff:], n.Parent)
	if n.HasText {
		binary.LittleEndian.PutUint32(buf[NodeTextOff:], n.Text)
		dst = append(dst, buf[:]...)
	} else {
		dst = append(dst, buf[:NodeFixedSize-U32Size]...)
	}
	for _, a := range n.Attrs {
		var ab [AttrSize]byte
		binary.LittleEndian.PutUint32(ab[0:], a.NameIdx)
		binary.LittleEndian.PutUint32(ab[4:], a.ValueIdx)
		dst = append(dst, ab[:]...)
	}
	return dst
}

// AppendSentinel writes a child-list terminator.
func AppendSentinel(dst []byte) []byte {
	return append(dst, 0)
}

// PatchU32 overwrites a previously emitted u32 field in place.
func PatchU32(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+U32Size], v)
}

// DecodeNode unpacks the record starting at off.  It returns the decoded
// node and the offset of the byte following the record (including its
// attribute records).
func DecodeNode(data []byte, off uint32) (Node, uint32, error) {
	var n Node
	if off >= uint32(len(data)) {
		return n, 0, fmt.Errorf("%w: node offset %d beyond %d", ErrShortBuffer, off, len(data))
	}
	prefix := data[off]
	if prefix&prefixIsNode == 0 {
		return n, off + SentinelSize, nil
	}
	n.IsNode = true
	n.HasText = prefix&prefixHasText != 0
	nrAttrs := uint32(prefix >> 2)
	sz := n.sizeWithAttrs(nrAttrs)
	if off+sz > uint32(len(data)) {
		return Node{}, 0, fmt.Errorf("%w: node at %d overruns buffer", ErrShortBuffer, off)
	}
	n.Element = binary.LittleEndian.Uint32(data[off+NodeElementOff:])
	n.Next = binary.LittleEndian.Uint32(data[off+NodeNextOff:])
	n.Parent = binary.LittleEndian.Uint32(data[off+NodeParentOff:])
	attrsOff := off + NodeFixedSize
	if n.HasText {
		n.Text = binary.LittleEndian.Uint32(data[off+NodeTextOff:])
	} else {
		attrsOff -= U32Size
	}
	if nrAttrs > 0 {
		n.Attrs = make([]Attr, nrAttrs)
		for i := range n.Attrs {
			aoff := attrsOff + uint32(i)*AttrSize
			n.Attrs[i].NameIdx = binary.LittleEndian.Uint32(data[aoff:])
			n.Attrs[i].ValueIdx = binary.LittleEndian.Uint32(data[aoff+4:])
		}
	}
	return n, off + sz, nil
}

func (n *Node) sizeWithAttrs(nrAttrs uint32) uint32 {
	sz := uint32(NodeFixedSize) + nrAttrs*AttrSize
	if !n.HasText {
		sz -= U32Size
	}
	return sz
}
