// Package blob is a peripheral object-storage contract for payloads too
// large to carry inline in a queue entry. Store has a local-filesystem
// implementation for tests/single-node use and an S3-backed
// implementation for production, both satisfying the same pluggable
// backend shape.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("blob: not found")

// Store is a content-addressable-by-key object store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
