// Package metadata is the durable key-value store behind the session and
// settings layers. Values are opaque bytes; a missing key reads as (nil, nil).
//
// Two backends exist: SQLite (the default, local file) and Redis (shared
// profile store). Secrets that must not outlive a session, such as the
// decrypted master key, are never written here.
package metadata

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetMany writes all values atomically.
	SetMany(ctx context.Context, values map[string][]byte) error
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
