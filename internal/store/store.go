// Package store persists the category document behind a small Backend
// interface. The whole document is loaded and saved as one unit.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a category or record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocument is returned when stored bytes are not a category document
	ErrInvalidDocument = errors.New("invalid document")
)

// Record is a free-form JSON object
type Record map[string]any

// Document maps category names to their records
type Document map[string][]Record

// Backend loads and saves the whole document
type Backend interface {
	Load(ctx context.Context) (Document, error)
	Save(ctx context.Context, doc Document) error
	Close() error
}

// Decode parses a JSON document. Empty input yields an empty document.
// Numbers are kept as json.Number so they round-trip without loss.
func Decode(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc == nil {
		doc = Document{}
	}
	for name, records := range doc {
		if records == nil {
			doc[name] = []Record{}
		}
		for i, rec := range records {
			if rec == nil {
				return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrInvalidDocument, name, i)
			}
		}
	}
	return doc, nil
}

// Encode renders the document as 2-space indented JSON
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for name, records := range d {
		cp := make([]Record, len(records))
		for i, rec := range records {
			cp[i] = rec.Clone()
		}
		out[name] = cp
	}
	return out
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Record:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
