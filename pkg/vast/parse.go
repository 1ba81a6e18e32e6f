// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vast

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/beevik/etree"
)

// ErrNotAnAdDocument indicates the tree has no VAST root
var ErrNotAnAdDocument = errors.New("not an ad document")

// ErrMalformed indicates the document could not be parsed into a tree
var ErrMalformed = errors.New("malformed ad document")

// ParseErrorKind is the parse failure taxonomy
type ParseErrorKind string

const (
	NotAnAdDocument ParseErrorKind = "NotAnAdDocument"
	Malformed       ParseErrorKind = "Malformed"
)

// ParseError is returned by Parse and Extract
type ParseError struct {
	Kind ParseErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause
func (e *ParseError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *ParseError) sentinel() error {
	if e.Kind == NotAnAdDocument {
		return ErrNotAnAdDocument
	}
	return ErrMalformed
}

// Parse reads raw descriptor text into an element tree. The reader is
// permissive: unknown entities and loose HTML-style markup are accepted.
func Parse(raw []byte) (*etree.Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Kind: Malformed, Err: errors.New("empty document")}
	}

	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, &ParseError{Kind: Malformed, Err: err}
	}
	if doc.Root() == nil {
		return nil, &ParseError{Kind: NotAnAdDocument, Err: errors.New("no root element")}
	}
	return doc, nil
}

// ParseAndExtract runs Parse then Extract
func ParseAndExtract(raw []byte) (*Document, *Catalog, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return Extract(doc)
}
