package storage

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrMalformedState   = errors.New("malformed persisted state")
)

// Target is where the serialized document set is kept between runs.
// Implementations can use memory, files, redis, or other backends.
type Target interface {
	// Load returns the last saved state, or nil if nothing was saved yet.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the saved state.
	Save(ctx context.Context, data []byte) error
}
