// Package cell defines the versioned records shared by every table kind.
package cell

import (
	"bytes"
	"cmp"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/types"
)

// Value is a timestamped payload. A removed Value is a tombstone and
// carries no data.
type Value struct {
	ts      types.Timestamp
	data    []byte
	removed bool
}

func New(ts types.Timestamp, data []byte) Value {
	return Value{ts: ts, data: data}
}

func NewTombstone(ts types.Timestamp) Value {
	return Value{ts: ts, removed: true}
}

// Of stamps data with the next timestamp of c.
func Of(c clock.Clock, data []byte) Value {
	return New(c.Now(), data)
}

// Tombstone returns a removal marker stamped with the next timestamp of c.
func Tombstone(c clock.Clock) Value {
	return NewTombstone(c.Now())
}

func (v Value) Timestamp() types.Timestamp {
	return v.ts
}

func (v Value) IsRemoved() bool {
	return v.removed
}

// Data returns the payload, or ErrTombstone for a removed value.
func (v Value) Data() ([]byte, error) {
	if v.removed {
		return nil, dberrors.ErrTombstone
	}
	return v.data, nil
}

// Size is the payload length; zero for tombstones.
func (v Value) Size() int {
	if v.removed {
		return 0
	}
	return len(v.data)
}

// Newer orders values newest first: it is negative when v has the higher
// timestamp.
func (v Value) Newer(than Value) int {
	return -cmp.Compare(v.ts, than.ts)
}

type Cell struct {
	Key   types.Key
	Value Value
}

// CompareFunc is a total order over cells.
type CompareFunc func(a, b Cell) int

// Compare returns the merge order for dir. Keys are compared as unsigned
// bytes, inverted for reverse iteration; equal keys always put the newest
// value first regardless of direction.
func Compare(dir types.Direction) CompareFunc {
	if dir == types.Reverse {
		return func(a, b Cell) int {
			if c := bytes.Compare(b.Key, a.Key); c != 0 {
				return c
			}
			return a.Value.Newer(b.Value)
		}
	}
	return func(a, b Cell) int {
		if c := bytes.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return a.Value.Newer(b.Value)
	}
}
