package iterator

import (
	"errors"
	"iter"
	"slices"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/types"
)

type seqIter struct {
	next func() (cell.Cell, bool)
	stop func()
	cur  cell.Cell
	ok   bool
}

// FromSeq turns a push sequence into a CellIterator. Close must be called
// to release the underlying sequence.
func FromSeq(seq iter.Seq[cell.Cell]) CellIterator {
	next, stop := iter.Pull(seq)
	s := &seqIter{next: next, stop: stop}
	s.Next()
	return s
}

// FromSlice iterates cells in the order given.
func FromSlice(cells []cell.Cell) CellIterator {
	return FromSeq(slices.Values(cells))
}

func (s *seqIter) Valid() bool     { return s.ok }
func (s *seqIter) Next()           { s.cur, s.ok = s.next() }
func (s *seqIter) Cell() cell.Cell { return s.cur }
func (s *seqIter) Err() error      { return nil }

func (s *seqIter) Close() error {
	s.stop()
	s.ok = false
	return nil
}

type closingIter struct {
	CellIterator
	onClose func() error
	closed  bool
}

// OnClose runs fn once, after it has been closed.
func OnClose(it CellIterator, fn func() error) CellIterator {
	return &closingIter{CellIterator: it, onClose: fn}
}

func (c *closingIter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return errors.Join(c.CellIterator.Close(), c.onClose())
}

type recordIter struct {
	cells CellIterator
}

// Records exposes a tombstone-free cell sequence as key-value pairs.
func Records(it CellIterator) Iterator {
	return &recordIter{cells: it}
}

func (r *recordIter) Valid() bool    { return r.cells.Valid() }
func (r *recordIter) Next()          { r.cells.Next() }
func (r *recordIter) Key() types.Key { return r.cells.Cell().Key }
func (r *recordIter) Err() error     { return r.cells.Err() }
func (r *recordIter) Close() error   { return r.cells.Close() }

func (r *recordIter) Value() types.Value {
	data, _ := r.cells.Cell().Value.Data()
	return data
}

// Empty is an exhausted iterator.
func Empty() Iterator {
	return Records(FromSlice(nil))
}
