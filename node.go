// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"github.com/silodev/silo/internal/format"
)

// NodeFlag alters how a BuilderNode and its subtree are compiled.
type NodeFlag uint32

const (
	// NodeFlagIgnoreCData excludes the node's payload from the output.
	NodeFlagIgnoreCData NodeFlag = 1 << iota
	// NodeFlagLiteralText disables whitespace collapsing on the node's
	// text downstream.
	NodeFlagLiteralText
)

// Attr is one attribute of a BuilderNode.  Attribute order mirrors the
// XML source; duplicate names are not deduplicated here.
type Attr struct {
	Name  string
	Value string

	// string-table offsets, valid only after the interning passes
	nameIdx  uint32
	valueIdx uint32
}

// BuilderNode is a mutable tree node being assembled for compilation.
// Nodes are owned by the builder until compile finishes.
type BuilderNode struct {
	element  string
	text     string
	hasText  bool
	flags    NodeFlag
	attrs    []Attr
	children []*BuilderNode

	// transient compile state, valid only after the pass that sets it
	elementIdx uint32
	textIdx    uint32
	offset     uint32
}

// NewNode creates a node for the given element name.
func NewNode(element string) *BuilderNode {
	return &BuilderNode{element: element}
}

func (n *BuilderNode) Element() string {
	return n.element
}

// AddAttribute appends an attribute.  Names are not deduplicated.
func (n *BuilderNode) AddAttribute(name, value string) {
	n.attrs = append(n.attrs, Attr{Name: name, Value: value})
}

// Attrs returns the node's attributes in source order.
func (n *BuilderNode) Attrs() []Attr {
	return n.attrs
}

// SetText assigns the node's text.  The last assignment wins.
func (n *BuilderNode) SetText(text string) {
	n.text = text
	n.hasText = true
}

func (n *BuilderNode) Text() string {
	return n.text
}

// HasText reports whether text has been assigned; an empty string
// assignment still counts.
func (n *BuilderNode) HasText() bool {
	return n.hasText
}

func (n *BuilderNode) AddFlag(flag NodeFlag) {
	n.flags |= flag
}

func (n *BuilderNode) HasFlag(flag NodeFlag) bool {
	return n.flags&flag != 0
}

// AddChild appends child, preserving document order.
func (n *BuilderNode) AddChild(child *BuilderNode) {
	n.children = append(n.children, child)
}

func (n *BuilderNode) Children() []*BuilderNode {
	return n.children
}

// size returns the number of bytes this node occupies in the emitted
// node table, assuming has_text; callers subtract one u32 when text is
// absent.
func (n *BuilderNode) size() uint32 {
	return format.NodeFixedSize + uint32(len(n.attrs))*format.AttrSize
}

// clone deep-copies the node tree, dropping any transient compile state.
func (n *BuilderNode) clone() *BuilderNode {
	c := &BuilderNode{
		element: n.element,
		text:    n.text,
		hasText: n.hasText,
		flags:   n.flags,
	}
	if len(n.attrs) > 0 {
		c.attrs = make([]Attr, len(n.attrs))
		for i, a := range n.attrs {
			c.attrs[i] = Attr{Name: a.Name, Value: a.Value}
		}
	}
	for _, child := range n.children {
		c.children = append(c.children, child.clone())
	}
	return c
}
