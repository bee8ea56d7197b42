// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package silo compiles XML documents into silos: compact, mmap-friendly
// binary blobs holding a flat offset-linked node table and a deduplicated
// string table, fingerprinted by a GUID derived from the input set.
package silo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/silodev/silo/internal/format"
)

// Option configures the Builder.
type Option func(*builderOptions)

type builderOptions struct {
	logger *slog.Logger
}

// WithLogger sets an optional logger for the builder to use for progress
// updates.  If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// Builder accumulates XML imports and manually constructed nodes, then
// compiles them into a Silo.
//
// A Builder is not safe for concurrent use; distinct builders are
// independent.
type Builder struct {
	imports []*Import
	nodes   []*BuilderNode
	silo    *Silo
	guid    strings.Builder
	locales []string
	logger  *slog.Logger
}

// New creates an empty builder.
func New(opts ...Option) *Builder {
	var options builderOptions
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{
		silo:   NewSilo(),
		logger: options.logger,
	}
}

// ImportXML adds in-memory XML to the builder.
func (b *Builder) ImportXML(text string) error {
	im := newImportXML(text, "")
	b.AppendGUID(im.GUID())
	b.imports = append(b.imports, im)
	return nil
}

// ImportFile adds an XML file to the builder, transparently decompressed
// when the path ends in .xml.gz.  info, when non-nil, is spliced under
// every top-level element parsed from the file.
func (b *Builder) ImportFile(path string, info *BuilderNode) error {
	im, err := newImportFile(path, info)
	if err != nil {
		return err
	}
	b.AppendGUID(im.GUID())
	b.imports = append(b.imports, im)
	return nil
}

// ImportDir imports every file in path ending in .xml or .xml.gz.
func (b *Builder) ImportDir(path string, info *BuilderNode) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".xml.gz") {
			if err := b.ImportFile(filepath.Join(path, name), info); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImportNode adds a manually constructed node tree; it is spliced after
// all imports, in insertion order.
func (b *Builder) ImportNode(n *BuilderNode) {
	b.nodes = append(b.nodes, n)
}

// AppendGUID extends the builder's identity fingerprint with arbitrary
// text.  Every successful import appends its own GUID automatically.
func (b *Builder) AppendGUID(guid string) {
	if b.guid.Len() > 0 {
		b.guid.WriteByte('&')
	}
	b.guid.WriteString(guid)
}

// AddLocale accepts an extra locale for xml:lang pruning, ahead of the
// process defaults.
func (b *Builder) AddLocale(locale string) {
	b.locales = append(b.locales, locale)
}

func (b *Builder) acceptedLocales() []string {
	return append(append([]string(nil), b.locales...), processLocales()...)
}

// Compile parses all imports, splices manual nodes, and lays the merged
// tree out as a silo blob.  The returned silo is the builder's held silo
// rebound to the fresh bytes; a recompile invalidates any outstanding
// node views on it.  On error the builder is left reusable and the held
// silo untouched.
func (b *Builder) Compile(ctx context.Context, flags CompileFlags) (*Silo, error) {
	helper := newCompileHelper(flags, b.acceptedLocales())

	// build the node tree
	for _, im := range b.imports {
		b.logger.Debug("compiling import", "guid", im.GUID())
		if err := helper.parseImport(ctx, im); err != nil {
			// don't allow damaged XML files to ruin all the next ones
			if flags&CompileFlagIgnoreInvalid != 0 {
				b.logger.Debug("ignoring invalid import", "guid", im.GUID(), "err", err)
				continue
			}
			return nil, fmt.Errorf("failed to compile %s: %w", im.GUID(), err)
		}
	}

	// add any manually built nodes
	for _, bn := range b.nodes {
		helper.spliceNode(bn)
	}

	if err := helper.checkLimits(); err != nil {
		return nil, err
	}

	// the node table size is fixed before emission; the string table
	// starts right after it
	nodetabsz := helper.sizeNodetab()

	// element names first: their count is the header's strtab_ntags
	helper.internElementNames()
	hdr := format.Header{
		Strtab: nodetabsz,
		NTags:  helper.strtab.Count(),
	}
	helper.internAttrNames()
	helper.internAttrValues()
	helper.internText()

	if b.guid.Len() > 0 {
		hdr.GUID = deriveGUID(b.guid.String())
	}

	buf := hdr.Append(make([]byte, 0, int(nodetabsz)+int(helper.strtab.Len())))
	buf = helper.emitNodetab(buf)
	helper.fixupNodetab(buf)

	// the size pass reserves a sentinel byte per node but emission may
	// write fewer; pad so the string table lands exactly at hdr.Strtab
	// (zero bytes decode as sentinels)
	for uint32(len(buf)) < nodetabsz {
		buf = format.AppendSentinel(buf)
	}
	buf = append(buf, helper.strtab.Bytes()...)

	if err := b.silo.LoadFromBytes(buf); err != nil {
		return nil, err
	}
	return b.silo, nil
}

// Ensure returns an up-to-date silo for path, recompiling only when the
// cached file's GUID no longer matches the builder's inputs.  If the
// held silo is being used by a query then recompilation makes all its
// node data immediately invalid.
func (b *Builder) Ensure(ctx context.Context, path string, flags CompileFlags) (*Silo, error) {
	// load the file and peek at the GUIDs
	b.logger.Debug("attempting to load silo", "path", path)
	tmp := NewSilo()
	if err := tmp.LoadFromFile(path); err != nil {
		b.logger.Debug("failed to load silo", "err", err)
	} else {
		guid := guidString(deriveGUID(b.guid.String()))
		b.logger.Debug("comparing guids",
			"file", tmp.GUID(), "current", guid, "cached", b.silo.GUID())

		// GUIDs match exactly with the thing that's already loaded
		if b.silo.blob != nil && tmp.GUID() == b.silo.GUID() {
			_ = tmp.Close()
			return b.silo, nil
		}

		// reload the held silo with the file data
		if tmp.GUID() == guid {
			blob := append([]byte(nil), tmp.Bytes()...)
			_ = tmp.Close()
			if err := b.silo.LoadFromBytes(blob); err != nil {
				return nil, err
			}
			return b.silo, nil
		}
		_ = tmp.Close()
	}

	// fallback to just creating a new file
	siloNew, err := b.Compile(ctx, flags)
	if err != nil {
		return nil, err
	}
	if err := siloNew.SaveToFile(path); err != nil {
		return nil, err
	}
	return siloNew, nil
}
