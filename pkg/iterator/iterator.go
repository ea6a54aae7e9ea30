package iterator

import (
	"lsmkv/pkg/cell"
	"lsmkv/pkg/types"
)

// CellIterator walks the cells of one source in a fixed direction,
// tombstones and shadowed versions included. A new CellIterator is already
// positioned on its first cell.
type CellIterator interface {
	// Valid reports whether the iterator points to a cell.
	Valid() bool
	// Next advances to the following cell.
	Next()
	// Cell returns the current cell. Key and data may alias table memory
	// and stay valid until Close.
	Cell() cell.Cell
	// Err returns the error that stopped the iteration early, if any.
	Err() error
	// Close releases resources.
	Close() error
}

// Iterator iterates over live key-value pairs in key order.
type Iterator interface {
	// Valid reports whether the iterator points to a valid entry.
	Valid() bool
	// Next advances to the next key.
	Next()
	// Key returns the current key.
	Key() types.Key
	// Value returns the current value.
	Value() types.Value
	// Err returns the error that stopped the iteration early, if any.
	Err() error
	// Close releases resources.
	Close() error
}
