// Copyright 2024 The silo Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package silo

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgryski/go-farm"
)

// Import is one logical XML source added to a builder: an input stream
// (plain or gzip), an origin identifier used in the GUID, and an optional
// info node tree spliced under each top-level element after parsing.
type Import struct {
	guid string
	info *BuilderNode
	open func() (io.ReadCloser, error)
}

// newImportXML wraps in-memory XML.  The GUID is originTag when given,
// otherwise a hash of the content.
func newImportXML(text string, originTag string) *Import {
	guid := originTag
	if guid == "" {
		guid = strconv.FormatUint(farm.Hash64(unsafeStringBytes(text)), 16)
	}
	return &Import{
		guid: guid,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte(text))), nil
		},
	}
}

// newImportFile wraps an XML file, transparently decompressing paths
// ending in .xml.gz.  The GUID is the absolute path.
func newImportFile(path string, info *BuilderNode) (*Import, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}
	compressed := strings.HasSuffix(abs, ".xml.gz")
	return &Import{
		guid: abs,
		info: info,
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(abs)
			if err != nil {
				return nil, err
			}
			if !compressed {
				return f, nil
			}
			zr, err := gzip.NewReader(f)
			if err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("gzip.NewReader(%s): %w", abs, err)
			}
			return &gzipReadCloser{zr: zr, f: f}, nil
		},
	}, nil
}

// GUID returns the import's origin identifier.
func (im *Import) GUID() string {
	return im.guid
}

// Info returns the node tree spliced under each top-level element, or nil.
func (im *Import) Info() *BuilderNode {
	return im.info
}

// Open returns a fresh reader over the import's XML bytes.  Each compile
// opens its own stream, so a damaged or cancelled run never leaves a
// half-consumed import behind.
func (im *Import) Open() (io.ReadCloser, error) {
	return im.open()
}

type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.zr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
