package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when no value is stored under the key.
	ErrNotFound = errors.New("tokenstore: key not found")

	// ErrReadOnly is returned by Set and Remove on read-only backends.
	ErrReadOnly = errors.New("tokenstore: storage is read-only")
)

// Storage reads and writes string values to persistent storage.
type Storage interface {
	// Get returns the value stored under key. Returns ErrNotFound if the key
	// is missing or empty.
	Get(ctx context.Context, key string) (string, error)

	// Set persists value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
