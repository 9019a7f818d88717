package store

import (
	"context"
	"fmt"
)

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Options selects and configures a backend
type Options struct {
	Backend     string
	FilePath    string
	DatabaseURL string
	SQLitePath  string
	Name        string // row key for the database backends
}

// Open builds the backend named by opts.Backend
func Open(ctx context.Context, opts Options) (Backend, error) {
	name := opts.Name
	if name == "" {
		name = "default"
	}
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(nil), nil
	case BackendFile:
		return NewFile(opts.FilePath)
	case BackendPostgres:
		return NewPostgres(ctx, opts.DatabaseURL, name)
	case BackendSQLite:
		return OpenSQLite(ctx, opts.SQLitePath, name)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
