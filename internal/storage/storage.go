package storage

import (
	"context"
	"io"
)

// Archive keeps the raw bytes of uploaded template files, grouped by the
// editing session that uploaded them.
type Archive interface {
	// Save stores content and returns a key for Open and Delete.
	Save(ctx context.Context, sessionID, uploadID, filename string, r io.Reader) (key string, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// DeleteSession drops every upload of a session.
	DeleteSession(ctx context.Context, sessionID string) error
}
