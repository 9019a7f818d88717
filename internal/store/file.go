package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
)

// FileBackend stores the document as a flat JSON file
type FileBackend struct {
	path string
}

// NewFile creates a file backend. The parent directory is created if missing.
func NewFile(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Path returns the file the document is kept in
func (f *FileBackend) Path() string { return f.path }

// Load reads the document. A missing file is an empty document.
func (f *FileBackend) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return Decode(data)
}

// Save writes to a temporary file first, then renames it over the target
func (f *FileBackend) Save(_ context.Context, doc Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	tmp := f.path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
