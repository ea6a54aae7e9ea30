// Package inmem is a volatile implementation of db.DB backed by a
// concurrent skip list. It has no persistence and no versions and serves as
// the reference model for the LSM store.
package inmem

import (
	"bytes"
	"slices"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/db"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

type DAO struct {
	data   *skipmap.FuncMap[[]byte, []byte]
	closed atomic.Bool
}

var _ db.DB = (*DAO)(nil)

func New() *DAO {
	return &DAO{
		data: skipmap.NewFunc[[]byte, []byte](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

func (d *DAO) Get(key types.Key) (types.Value, error) {
	if d.closed.Load() {
		return nil, dberrors.ErrClosed
	}
	v, ok := d.data.Load(key)
	if !ok {
		return nil, dberrors.ErrNotFound
	}
	return v, nil
}

func (d *DAO) Upsert(key types.Key, value types.Value) error {
	if d.closed.Load() {
		return dberrors.ErrClosed
	}
	d.data.Store(bytes.Clone(nonNil(key)), bytes.Clone(nonNil(value)))
	return nil
}

func (d *DAO) Remove(key types.Key) error {
	if d.closed.Load() {
		return dberrors.ErrClosed
	}
	d.data.Delete(key)
	return nil
}

// Iterate returns a snapshot of the keys >= from in ascending order.
func (d *DAO) Iterate(from types.Key) (iterator.Iterator, error) {
	if d.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	var cells []cell.Cell
	d.data.Range(func(k, v []byte) bool {
		if bytes.Compare(k, from) >= 0 {
			cells = append(cells, cell.Cell{Key: k, Value: cell.New(0, v)})
		}
		return true
	})
	return iterator.Records(iterator.FromSlice(cells)), nil
}

// ReverseIterate returns a snapshot of the keys <= from in descending order.
func (d *DAO) ReverseIterate(from types.Key) (iterator.Iterator, error) {
	return d.reverse(func(k []byte) bool { return bytes.Compare(k, from) <= 0 })
}

func (d *DAO) ReverseIterateAll() (iterator.Iterator, error) {
	return d.reverse(func([]byte) bool { return true })
}

func (d *DAO) reverse(keep func([]byte) bool) (iterator.Iterator, error) {
	if d.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	var cells []cell.Cell
	d.data.Range(func(k, v []byte) bool {
		if !keep(k) {
			return false
		}
		cells = append(cells, cell.Cell{Key: k, Value: cell.New(0, v)})
		return true
	})
	slices.Reverse(cells)
	return iterator.Records(iterator.FromSlice(cells)), nil
}

// Compact has nothing to reclaim.
func (d *DAO) Compact() error {
	if d.closed.Load() {
		return dberrors.ErrClosed
	}
	return nil
}

func (d *DAO) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return dberrors.ErrClosed
	}
	return nil
}

func (d *DAO) Len() int {
	return d.data.Len()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
