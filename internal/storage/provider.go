// Package storage abstracts the durable store media bytes land in. The core
// treats it as an opaque put/get collaborator; the pipeline only derives keys
// and never looks inside.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrPathTraversal indicates a storage key attempted directory traversal.
var ErrPathTraversal = errors.New("path traversal is forbidden")

// Provider is the durable storage contract. Keys are slash-separated relative
// paths derived from unique identifiers, so concurrent writers never collide
// on the same key.
type Provider interface {
	// EnsureDir creates the directory for the given key prefix.
	// Create-if-absent: calling it repeatedly is a no-op.
	EnsureDir(key string) error
	// Put writes data under the key, creating parent directories as needed.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader over the stored object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// AccessPath returns the consumer-visible reference for a key.
	AccessPath(key string) string
}
