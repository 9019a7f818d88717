package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps the document in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu  sync.RWMutex
	doc Document
}

// NewMemory creates a memory backend, optionally seeded with a document
func NewMemory(seed Document) *MemoryBackend {
	if seed == nil {
		seed = Document{}
	}
	return &MemoryBackend{doc: seed.Clone()}
}

// Load returns a copy of the current document
func (m *MemoryBackend) Load(_ context.Context) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone(), nil
}

// Save replaces the current document with a copy of doc
func (m *MemoryBackend) Save(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
