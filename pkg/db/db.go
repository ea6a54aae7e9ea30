// Package db defines the key-value contract shared by the LSM store and the
// in-memory reference implementation.
package db

import (
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

// DB is the public key-value API. Keys are ordered by bytes.Compare.
type DB interface {
	// Get returns the live value of key or dberrors.ErrNotFound.
	Get(key types.Key) (types.Value, error)
	Upsert(key types.Key, value types.Value) error
	Remove(key types.Key) error

	// Iteration
	Iterate(from types.Key) (iterator.Iterator, error)
	ReverseIterate(from types.Key) (iterator.Iterator, error)
	ReverseIterateAll() (iterator.Iterator, error)

	// Maintenance
	Compact() error
	Close() error
}
