package iterator

import (
	"bytes"
	"container/heap"
	"errors"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/types"
)

type source struct {
	cur cell.Cell
	it  CellIterator
	idx int
}

type cellHeap struct {
	items []source
	cmp   cell.CompareFunc
}

func (h *cellHeap) Len() int { return len(h.items) }

func (h *cellHeap) Less(i, j int) bool {
	if c := h.cmp(h.items[i].cur, h.items[j].cur); c != 0 {
		return c < 0
	}
	// identical versions: prefer the later source
	return h.items[i].idx > h.items[j].idx
}

func (h *cellHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cellHeap) Push(x any) { h.items = append(h.items, x.(source)) }

func (h *cellHeap) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

type mergeIter struct {
	h       cellHeap
	sources []CellIterator
	err     error
}

// Merge combines sources that are each ordered by cell.Compare(dir) into a
// single sequence in the same order. Versions of one key come out newest
// first.
func Merge(dir types.Direction, sources ...CellIterator) CellIterator {
	m := &mergeIter{
		h:       cellHeap{cmp: cell.Compare(dir)},
		sources: sources,
	}
	for i, src := range sources {
		if src.Valid() {
			m.h.items = append(m.h.items, source{cur: src.Cell(), it: src, idx: i})
			continue
		}
		if err := src.Err(); err != nil && m.err == nil {
			m.err = err
		}
	}
	heap.Init(&m.h)

	return m
}

func (m *mergeIter) Valid() bool {
	return m.err == nil && m.h.Len() > 0
}

func (m *mergeIter) Cell() cell.Cell {
	return m.h.items[0].cur
}

func (m *mergeIter) Next() {
	top := &m.h.items[0]
	top.it.Next()
	if top.it.Valid() {
		top.cur = top.it.Cell()
		heap.Fix(&m.h, 0)
		return
	}
	if err := top.it.Err(); err != nil && m.err == nil {
		m.err = err
	}
	heap.Pop(&m.h)
}

func (m *mergeIter) Err() error {
	return m.err
}

func (m *mergeIter) Close() error {
	var errs []error
	for _, src := range m.sources {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}

type collapseIter struct {
	CellIterator
}

// Collapse keeps only the first cell of every run of equal keys. Over a
// merged sequence that is the newest version of each key.
func Collapse(it CellIterator) CellIterator {
	return &collapseIter{it}
}

func (c *collapseIter) Next() {
	prev := c.CellIterator.Cell().Key
	c.CellIterator.Next()
	for c.CellIterator.Valid() && bytes.Equal(c.CellIterator.Cell().Key, prev) {
		c.CellIterator.Next()
	}
}

type liveIter struct {
	CellIterator
}

// Live drops tombstones.
func Live(it CellIterator) CellIterator {
	l := &liveIter{it}
	l.skip()
	return l
}

func (l *liveIter) Next() {
	l.CellIterator.Next()
	l.skip()
}

func (l *liveIter) skip() {
	for l.CellIterator.Valid() && l.CellIterator.Cell().Value.IsRemoved() {
		l.CellIterator.Next()
	}
}

// Visible merges sources and yields the newest live version of every key.
func Visible(dir types.Direction, sources ...CellIterator) CellIterator {
	return Live(Collapse(Merge(dir, sources...)))
}
