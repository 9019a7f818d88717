package github

import (
	"context"
	"fmt"

	"github.com/vidyback/templatestore/internal/store"
)

// Syncer mirrors the category document to one file in a repository
type Syncer struct {
	client  *Client
	path    string
	message string
}

func NewSyncer(client *Client, filePath, message string) *Syncer {
	if message == "" {
		message = "Updated " + filePath + " via API"
	}
	return &Syncer{client: client, path: filePath, message: message}
}

func (s *Syncer) Path() string { return s.path }

// Push fetches the current sha and then commits the encoded document over it.
// Nothing guards against another push landing between the two calls.
func (s *Syncer) Push(ctx context.Context, doc store.Document) (*CommitResult, error) {
	content, err := store.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	file, err := s.client.FetchFile(ctx, s.path)
	if err != nil {
		return nil, err
	}
	return s.client.PutFile(ctx, s.path, content, file.SHA, s.message)
}

// Pull fetches and decodes the remote document
func (s *Syncer) Pull(ctx context.Context) (store.Document, error) {
	file, err := s.client.FetchFile(ctx, s.path)
	if err != nil {
		return nil, err
	}
	return store.Decode(file.Content)
}
