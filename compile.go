// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/silodev/silo/internal/format"
	"github.com/silodev/silo/internal/strtab"
)

// CompileFlags adjust a single Compile invocation.
type CompileFlags uint32

const (
	CompileFlagNone CompileFlags = 0
	// CompileFlagLiteralText suppresses whitespace normalization on text
	// nodes downstream.
	CompileFlagLiteralText CompileFlags = 1 << 0
	// CompileFlagNativeLangs prunes xml:lang subtrees not matching the
	// accepted-locale list.
	CompileFlagNativeLangs CompileFlags = 1 << 1
	// CompileFlagIgnoreInvalid continues past imports that fail to parse.
	CompileFlagIgnoreInvalid CompileFlags = 1 << 2
)

// ErrInvalidData reports malformed input: unbalanced tags or a truncated
// stream.
var ErrInvalidData = errors.New("invalid data")

// importChunkSize is how much of an import's stream is pulled per read;
// the cancellation token is checked once per chunk.
const importChunkSize = 32 * 1024

// compileHelper holds the state shared by the compile passes: the merged
// node tree under a synthetic root, the roving parse cursor, and the
// string table being populated.
type compileHelper struct {
	flags   CompileFlags
	root    *BuilderNode
	stack   []*BuilderNode
	info    *BuilderNode
	strtab  *strtab.Table
	locales stringSet
}

func newCompileHelper(flags CompileFlags, locales []string) *compileHelper {
	h := &compileHelper{
		flags:   flags,
		root:    &BuilderNode{},
		strtab:  strtab.New(),
		locales: make(stringSet),
	}
	for _, l := range locales {
		h.locales.Add(l)
	}
	return h
}

func (h *compileHelper) cursor() *BuilderNode {
	return h.stack[len(h.stack)-1]
}

// parseImport drives the XML event stream for one import, growing the
// tree under the synthetic root.
func (h *compileHelper) parseImport(ctx context.Context, im *Import) error {
	stream, err := im.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = stream.Close()
	}()

	h.info = im.Info()
	h.stack = h.stack[:0]
	h.stack = append(h.stack, h.root)

	dec := xml.NewDecoder(&chunkReader{ctx: ctx, r: stream})
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var syntaxErr *xml.SyntaxError
			if errors.As(err, &syntaxErr) {
				return fmt.Errorf("%w: %s", ErrInvalidData, syntaxErr.Error())
			}
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			h.startElement(t)
		case xml.EndElement:
			h.endElement()
		case xml.CharData:
			h.text(t)
		}
	}

	// more opening than closing
	if len(h.stack) != 1 {
		return fmt.Errorf("%w: Mismatched XML", ErrInvalidData)
	}
	return nil
}

func (h *compileHelper) startElement(t xml.StartElement) {
	bn := NewNode(joinName(t.Name))
	parent := h.cursor()

	// parent node is being ignored
	if parent != h.root && parent.HasFlag(NodeFlagIgnoreCData) {
		bn.AddFlag(NodeFlagIgnoreCData)
	}

	// check if we should ignore the locale
	if !bn.HasFlag(NodeFlagIgnoreCData) && h.flags&CompileFlagNativeLangs != 0 {
		for _, a := range t.Attr {
			if isXMLLang(a.Name) && a.Value != "" && !h.locales.Contains(a.Value) {
				bn.AddFlag(NodeFlagIgnoreCData)
			}
		}
	}

	if !bn.HasFlag(NodeFlagIgnoreCData) {
		for _, a := range t.Attr {
			bn.AddAttribute(joinName(a.Name), a.Value)
		}
	}

	parent.AddChild(bn)
	h.stack = append(h.stack, bn)
}

func (h *compileHelper) endElement() {
	if len(h.stack) <= 1 {
		return
	}
	// add info to top-level elements to allow querying later
	if len(h.stack) == 2 && h.info != nil {
		h.cursor().AddChild(h.info.clone())
	}
	h.stack = h.stack[:len(h.stack)-1]
}

func (h *compileHelper) text(data xml.CharData) {
	if len(data) == 0 {
		return
	}
	bn := h.cursor()
	if bn == h.root {
		return
	}
	if bn.HasFlag(NodeFlagIgnoreCData) {
		return
	}
	s := string(data)
	if isAllWhitespace(s) {
		return
	}
	// repair text downstream unless the caller declared it literal
	if h.flags&CompileFlagLiteralText != 0 {
		bn.AddFlag(NodeFlagLiteralText)
	}
	bn.SetText(s)
}

// spliceNode deep-clones a manually constructed node tree under the
// synthetic root.
func (h *compileHelper) spliceNode(bn *BuilderNode) {
	h.root.AddChild(bn.clone())
}

// sizeNodetab computes the byte size of the node table, header included.
// One sentinel byte is reserved per node; emission may write fewer, and
// the gap is zero-padded (a zero byte decodes as a sentinel).
func (h *compileHelper) sizeNodetab() uint32 {
	sz := uint32(format.HeaderSize)
	h.preorder(func(n *BuilderNode, _ int) {
		sz += n.size() + format.SentinelSize
		if !n.hasText {
			sz -= format.U32Size
		}
	})
	return sz
}

// internElementNames is the first interning pass; the distinct-string
// count after it becomes the header's strtab_ntags.
func (h *compileHelper) internElementNames() {
	h.levelorder(func(n *BuilderNode) {
		n.elementIdx = h.strtab.Add(n.element)
	})
}

func (h *compileHelper) internAttrNames() {
	h.levelorder(func(n *BuilderNode) {
		for i := range n.attrs {
			n.attrs[i].nameIdx = h.strtab.Add(n.attrs[i].Name)
		}
	})
}

func (h *compileHelper) internAttrValues() {
	h.levelorder(func(n *BuilderNode) {
		for i := range n.attrs {
			n.attrs[i].valueIdx = h.strtab.Add(n.attrs[i].Value)
		}
	})
}

func (h *compileHelper) internText() {
	h.levelorder(func(n *BuilderNode) {
		if n.hasText {
			n.textIdx = h.strtab.Add(n.text)
		}
	})
}

// emitNodetab writes every node record in document order, tracking the
// depth of the last emitted node so sentinels close finished child
// lists.  Top-level nodes are at depth 1.
func (h *compileHelper) emitNodetab(buf []byte) []byte {
	level := 0
	h.preorder(func(n *BuilderNode, depth int) {
		for i := level; i >= depth; i-- {
			buf = format.AppendSentinel(buf)
		}
		n.offset = uint32(len(buf))
		rec := format.Node{
			IsNode:  true,
			HasText: n.hasText,
			Element: n.elementIdx,
			Text:    n.textIdx,
		}
		for _, a := range n.attrs {
			rec.Attrs = append(rec.Attrs, format.Attr{NameIdx: a.nameIdx, ValueIdx: a.valueIdx})
		}
		buf = format.AppendNode(buf, &rec)
		level = depth
	})
	if level > 0 {
		for i := level - 1; i > 0; i-- {
			buf = format.AppendSentinel(buf)
		}
	}
	return buf
}

// fixupNodetab patches the next and parent offsets now that every record
// has been assigned one.
func (h *compileHelper) fixupNodetab(buf []byte) {
	var walk func(n *BuilderNode)
	walk = func(n *BuilderNode) {
		children := includedChildren(n)
		for i, c := range children {
			if n != h.root {
				format.PatchU32(buf, c.offset+format.NodeParentOff, n.offset)
			}
			if i+1 < len(children) {
				format.PatchU32(buf, c.offset+format.NodeNextOff, children[i+1].offset)
			}
			walk(c)
		}
	}
	walk(h.root)
}

// checkLimits rejects trees the record encoding cannot represent.
func (h *compileHelper) checkLimits() error {
	var err error
	h.preorder(func(n *BuilderNode, _ int) {
		if err == nil && len(n.attrs) > format.MaxAttrs {
			err = fmt.Errorf("%w: element %q has %d attributes (limit %d)",
				ErrInvalidData, n.element, len(n.attrs), format.MaxAttrs)
		}
	})
	return err
}

func includedChildren(n *BuilderNode) []*BuilderNode {
	children := n.children[:0:0]
	for _, c := range n.children {
		if !c.HasFlag(NodeFlagIgnoreCData) {
			children = append(children, c)
		}
	}
	return children
}

// preorder visits every non-ignored node in document order; depth is 1
// for top-level nodes.  An ignored node's whole subtree is skipped.
func (h *compileHelper) preorder(visit func(n *BuilderNode, depth int)) {
	var walk func(n *BuilderNode, depth int)
	walk = func(n *BuilderNode, depth int) {
		for _, c := range includedChildren(n) {
			visit(c, depth)
			walk(c, depth+1)
		}
	}
	walk(h.root, 1)
}

// levelorder visits every non-ignored node breadth-first; the interning
// passes run in this order, which fixes string-table offsets and is part
// of the format contract.
func (h *compileHelper) levelorder(visit func(n *BuilderNode)) {
	queue := includedChildren(h.root)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visit(n)
		queue = append(queue, includedChildren(n)...)
	}
}

// xmlNamespaceURL is what encoding/xml expands the predeclared "xml"
// prefix to; it is folded back so names like xml:lang survive the round
// trip byte-identical.
const xmlNamespaceURL = "http://www.w3.org/XML/1998/namespace"

func isXMLLang(name xml.Name) bool {
	return name.Local == "lang" &&
		(name.Space == "xml" || name.Space == xmlNamespaceURL)
}

func joinName(name xml.Name) string {
	space := name.Space
	if space == xmlNamespaceURL {
		space = "xml"
	}
	if space != "" {
		return space + ":" + name.Local
	}
	return name.Local
}

// chunkReader caps each pull at importChunkSize and honors cooperative
// cancellation between chunks.
type chunkReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > importChunkSize {
		p = p[:importChunkSize]
	}
	return c.r.Read(p)
}
