package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqlCreateDocuments = `CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
)`

const sqlSelectDocument = `SELECT body FROM documents WHERE name = ?`

const sqlUpsertDocument = `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`

// SQLBackend keeps the document in one row of a database/sql table
type SQLBackend struct {
	db   *sql.DB
	name string
}

// OpenSQLite opens the sqlite database at path
func OpenSQLite(ctx context.Context, path, name string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	b, err := NewSQL(ctx, db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQL wraps an open database and makes sure the documents table exists
func NewSQL(ctx context.Context, db *sql.DB, name string) (*SQLBackend, error) {
	if _, err := db.ExecContext(ctx, sqlCreateDocuments); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &SQLBackend{db: db, name: name}, nil
}

func (s *SQLBackend) Load(ctx context.Context) (Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, sqlSelectDocument, s.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", s.name, err)
	}
	return Decode([]byte(body))
}

func (s *SQLBackend) Save(ctx context.Context, doc Document) error {
	body, err := Encode(doc)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqlUpsertDocument, s.name, string(body), time.Now().UTC()); err != nil {
		return fmt.Errorf("save document %s: %w", s.name, err)
	}
	return nil
}

func (s *SQLBackend) Close() error { return s.db.Close() }
