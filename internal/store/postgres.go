package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgCreateDocuments = `CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const pgSelectDocument = `SELECT body FROM documents WHERE name = $1`

const pgUpsertDocument = `INSERT INTO documents (name, body, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`

// PostgresBackend keeps the document in one JSONB row
type PostgresBackend struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgres connects to databaseURL and makes sure the documents table exists
func NewPostgres(ctx context.Context, databaseURL, name string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgCreateDocuments); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &PostgresBackend{pool: pool, name: name}, nil
}

func (p *PostgresBackend) Load(ctx context.Context) (Document, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, pgSelectDocument, p.name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", p.name, err)
	}
	return Decode(body)
}

func (p *PostgresBackend) Save(ctx context.Context, doc Document) error {
	body, err := Encode(doc)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, pgUpsertDocument, p.name, string(body)); err != nil {
		return fmt.Errorf("save document %s: %w", p.name, err)
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
