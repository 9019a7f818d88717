// Package templates implements the category document rules: template
// insertion with ID generation and case-insensitive category matching, plain
// per-category appends, and record lookups by id.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vidyback/templatestore/internal/store"
)

var (
	ErrEmptyTemplate   = errors.New("template body is empty")
	ErrMissingCategory = errors.New("template has no category")
	ErrMissingID       = errors.New("template has no id")
)

// Service serializes read-modify-write cycles against a backend
type Service struct {
	mu       sync.Mutex
	backend  store.Backend
	newID    func() string
	onChange func(ctx context.Context, reason string)
}

type Option func(*Service)

// WithIDGenerator replaces the UUIDv4 generator
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithChangeHook registers fn to run after every successful write
func WithChangeHook(fn func(ctx context.Context, reason string)) Option {
	return func(s *Service) { s.onChange = fn }
}

func New(backend store.Backend, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		newID:   func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddTemplate stores tmpl at the front of its category and returns the
// category name it landed in.
func (s *Service) AddTemplate(ctx context.Context, tmpl store.Record) (string, store.Record, error) {
	if len(tmpl) == 0 {
		return "", nil, ErrEmptyTemplate
	}
	tmpl = tmpl.Clone()
	if !hasID(tmpl) {
		id := s.newID()
		tmpl["id"] = id
		tmpl["templateId"] = id
	}
	input, ok := CategoryOf(tmpl)
	if !ok {
		return "", nil, ErrMissingCategory
	}

	var category string
	err := s.update(ctx, "add-template", func(doc store.Document) error {
		category = matchCategory(doc, input)
		doc[category] = append([]store.Record{tmpl}, doc[category]...)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return category, tmpl, nil
}

// UpdateTemplate replaces the stored template with the same id. When the
// template names another category it moves to the front of that category.
func (s *Service) UpdateTemplate(ctx context.Context, tmpl store.Record) (string, store.Record, error) {
	if len(tmpl) == 0 {
		return "", nil, ErrEmptyTemplate
	}
	id, ok := RecordID(tmpl)
	if !ok {
		return "", nil, ErrMissingID
	}
	tmpl = tmpl.Clone()

	var category string
	err := s.update(ctx, "update-template", func(doc store.Document) error {
		current, idx, found := findAnywhere(doc, id)
		if !found {
			return fmt.Errorf("template %s: %w", id, store.ErrNotFound)
		}
		old := doc[current][idx]
		keepIdentity(tmpl, old)

		category = current
		if input, ok := CategoryOf(tmpl); ok && !strings.EqualFold(input, current) {
			category = matchCategory(doc, input)
		}
		if category == current {
			doc[current][idx] = tmpl
			return nil
		}
		doc[current] = removeAt(doc[current], idx)
		doc[category] = append([]store.Record{tmpl}, doc[category]...)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return category, tmpl, nil
}

// Append adds rec to the end of category, creating it if needed. The name is
// used as given, with no case folding.
func (s *Service) Append(ctx context.Context, category string, rec store.Record) (store.Record, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = store.Record{}
	}
	err := s.update(ctx, "append:"+category, func(doc store.Document) error {
		doc[category] = append(doc[category], rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Document returns a snapshot of the whole document
func (s *Service) Document(ctx context.Context) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Load(ctx)
}

// List returns the records of one category
func (s *Service) List(ctx context.Context, category string) ([]store.Record, error) {
	doc, err := s.Document(ctx)
	if err != nil {
		return nil, err
	}
	records, ok := doc[category]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", category, store.ErrNotFound)
	}
	return records, nil
}

// Get returns the record whose id or templateId equals id
func (s *Service) Get(ctx context.Context, category, id string) (store.Record, error) {
	records, err := s.List(ctx, category)
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("%s/%s: %w", category, id, store.ErrNotFound)
	}
	return records[idx], nil
}

// Replace swaps the stored record for rec, keeping its identity fields
func (s *Service) Replace(ctx context.Context, category, id string, rec store.Record) (store.Record, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = store.Record{}
	}
	err := s.update(ctx, "replace:"+category, func(doc store.Document) error {
		idx := indexOf(doc[category], id)
		if idx < 0 {
			return fmt.Errorf("%s/%s: %w", category, id, store.ErrNotFound)
		}
		keepIdentity(rec, doc[category][idx])
		doc[category][idx] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Patch shallow-merges fields into the stored record. id and templateId
// cannot be changed this way.
func (s *Service) Patch(ctx context.Context, category, id string, fields store.Record) (store.Record, error) {
	fields = fields.Clone()
	var merged store.Record
	err := s.update(ctx, "patch:"+category, func(doc store.Document) error {
		idx := indexOf(doc[category], id)
		if idx < 0 {
			return fmt.Errorf("%s/%s: %w", category, id, store.ErrNotFound)
		}
		merged = doc[category][idx]
		for k, v := range fields {
			if k == "id" || k == "templateId" {
				continue
			}
			merged[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete removes one record. The category stays, possibly empty.
func (s *Service) Delete(ctx context.Context, category, id string) error {
	return s.update(ctx, "delete:"+category, func(doc store.Document) error {
		idx := indexOf(doc[category], id)
		if idx < 0 {
			return fmt.Errorf("%s/%s: %w", category, id, store.ErrNotFound)
		}
		doc[category] = removeAt(doc[category], idx)
		return nil
	})
}

// Seed replaces the document with doc when the stored one is empty. It
// reports whether it wrote anything.
func (s *Service) Seed(ctx context.Context, doc store.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.backend.Load(ctx)
	if err != nil {
		return false, err
	}
	if len(current) > 0 || len(doc) == 0 {
		return false, nil
	}
	if err := s.backend.Save(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) update(ctx context.Context, reason string, fn func(doc store.Document) error) error {
	s.mu.Lock()
	doc, err := s.backend.Load(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(doc); err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.backend.Save(ctx, doc)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.onChange != nil {
		s.onChange(ctx, reason)
	}
	return nil
}

// CategoryOf returns the first element of the template's category array
func CategoryOf(tmpl store.Record) (string, bool) {
	list, ok := tmpl["category"].([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	name, ok := list[0].(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// RecordID returns id, falling back to templateId
func RecordID(rec store.Record) (string, bool) {
	for _, key := range []string{"id", "templateId"} {
		if v, ok := rec[key]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// hasID reports whether rec carries a usable id. JSON falsy values (null,
// false, 0, "") count as missing.
func hasID(rec store.Record) bool {
	switch v := rec["id"].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// matchCategory finds an existing key equal to name ignoring case. Keys are
// checked in sorted order so the pick is stable. Unmatched names create a new
// empty category.
func matchCategory(doc store.Document, name string) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	doc[name] = []store.Record{}
	return name
}

func indexOf(records []store.Record, id string) int {
	for i, rec := range records {
		if rid, ok := RecordID(rec); ok && rid == id {
			return i
		}
		if v, ok := rec["templateId"]; ok && v != nil && fmt.Sprint(v) == id {
			return i
		}
	}
	return -1
}

func findAnywhere(doc store.Document, id string) (string, int, bool) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if idx := indexOf(doc[k], id); idx >= 0 {
			return k, idx, true
		}
	}
	return "", -1, false
}

func keepIdentity(rec, old store.Record) {
	for _, key := range []string{"id", "templateId"} {
		if v, ok := old[key]; ok {
			rec[key] = v
		}
	}
}

func removeAt(records []store.Record, idx int) []store.Record {
	out := make([]store.Record, 0, len(records)-1)
	out = append(out, records[:idx]...)
	return append(out, records[idx+1:]...)
}
