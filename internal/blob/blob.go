// Package blob stores uploaded video bytes under opaque keys.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no object exists for a key
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidKey is returned for keys a store cannot address
	ErrInvalidKey = errors.New("invalid blob key")
)

// Object is a stored blob opened for reading. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store is the blob store contract used by submission and the media proxy
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
}
