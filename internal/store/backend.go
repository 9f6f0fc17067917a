// Package store implements the encrypted key-value persistence layer:
// pluggable raw backends (memory, SQLite, S3) and the Store that wraps
// values through the cipher engine.
package store

import "context"

// RawBackend is the raw persistence surface the Store builds on. Keys are
// already namespaced by the time they reach a backend. Implementations wrap
// infrastructure failures in common.ErrStorageUnavailable.
type RawBackend interface {
	// RawGet returns the stored bytes for key; ok is false when absent.
	RawGet(ctx context.Context, key string) (data []byte, ok bool, err error)

	// RawSet stores data under key, replacing any previous value atomically.
	RawSet(ctx context.Context, key string, data []byte) error

	// RawRemove deletes key. Removing an absent key is not an error.
	RawRemove(ctx context.Context, key string) error

	// RawKeys lists all stored keys.
	RawKeys(ctx context.Context) ([]string, error)
}

// AtomicUpdater is an optional backend capability: a read-modify-write of a
// single key where a concurrent reader sees either the old or the new value,
// never an intermediate one. fn receives the current bytes (ok=false when
// absent) and returns the replacement.
type AtomicUpdater interface {
	RawUpdate(ctx context.Context, key string, fn func(data []byte, ok bool) ([]byte, error)) error
}
