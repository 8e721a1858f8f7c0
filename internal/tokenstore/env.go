package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to values stored in environment variables.
// Suitable for static token authentication but not refreshing sessions (requires writable storage).
type EnvStore struct {
	prefix string
}

// Compile-time check to ensure EnvStore implements Storage
var _ Storage = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore that maps key "access_token" to the
// environment variable "<prefix>ACCESS_TOKEN".
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix: prefix,
	}, nil
}

// Get returns the value from the environment variable. Returns ErrNotFound if unset or empty.
func (e *EnvStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := os.Getenv(e.variable(key))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("setting %s: %w", e.variable(key), ErrReadOnly)
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("removing %s: %w", e.variable(key), ErrReadOnly)
}

func (e *EnvStore) variable(key string) string {
	return e.prefix + strings.ToUpper(key)
}
