// Package store provides the key-value persistence layer backing the
// randomness engine. Records round-trip through JSON; callers treat a
// missing or unreadable record as "use defaults".
package store

import "errors"

// #region errors
// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")
// #endregion errors

// #region store-interface
// Store is a minimal key-value record store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Put writes or replaces the value for key.
	Put(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Close releases underlying resources.
	Close() error
}
// #endregion store-interface

// Well-known record keys.
const (
	KeyRandomState   = "random_state"
	KeyRandomBackups = "random_backups"
)
