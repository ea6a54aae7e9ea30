package memtable

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/clock"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

const treeDegree = 32

type entry struct {
	key   types.Key
	value cell.Value
}

func lessEntry(a, b entry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Table is the mutable in-memory table. Writes are serialized by an
// internal mutex; iterators work on a copy-on-write snapshot of the tree
// and never observe writes made after they were created.
type Table struct {
	clock clock.Clock

	mu   sync.Mutex
	tree *btree.BTreeG[entry]
	size int64
}

func New(c clock.Clock) *Table {
	return &Table{
		clock: c,
		tree:  btree.NewG[entry](treeDegree, lessEntry),
	}
}

// Upsert stores data under key, stamped with the table clock.
func (t *Table) Upsert(key, data []byte) {
	t.Put(key, cell.Of(t.clock, data))
}

// Remove stores a tombstone under key.
func (t *Table) Remove(key []byte) {
	t.Put(key, cell.Tombstone(t.clock))
}

// Put applies an already stamped value. A value older than the one stored
// for key is dropped and Put reports false. key and the value's data are
// copied.
func (t *Table) Put(key []byte, v cell.Value) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, found := t.tree.Get(entry{key: key})
	if found && prev.value.Timestamp() > v.Timestamp() {
		return false
	}

	if !v.IsRemoved() {
		data, _ := v.Data()
		v = cell.New(v.Timestamp(), bytes.Clone(data))
	}
	t.tree.ReplaceOrInsert(entry{key: bytes.Clone(key), value: v})
	t.size += sizeDelta(len(key), prev, found, v)

	return true
}

func sizeDelta(keyLen int, prev entry, found bool, next cell.Value) int64 {
	if next.IsRemoved() {
		switch {
		case !found:
			return int64(keyLen)
		case !prev.value.IsRemoved():
			return -int64(prev.value.Size())
		default:
			return 0
		}
	}

	switch {
	case !found:
		return int64(keyLen + next.Size())
	case prev.value.IsRemoved():
		return int64(next.Size())
	default:
		return int64(next.Size() - prev.value.Size())
	}
}

// Get returns the stored version of key, tombstones included.
func (t *Table) Get(key []byte) (cell.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.tree.Get(entry{key: key})
	return e.value, ok
}

// SizeInBytes approximates the memory held by live keys and values.
func (t *Table) SizeInBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Len is the number of keys, tombstones included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Len()
}

func (t *Table) snapshot() *btree.BTreeG[entry] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.Clone()
}

// Iterate yields cells with key >= from in ascending order.
func (t *Table) Iterate(from []byte) iterator.CellIterator {
	tree := t.snapshot()
	return iterator.FromSeq(func(yield func(cell.Cell) bool) {
		tree.AscendGreaterOrEqual(entry{key: from}, visit(yield))
	})
}

// ReverseIterate yields cells with key <= from in descending order.
func (t *Table) ReverseIterate(from []byte) iterator.CellIterator {
	tree := t.snapshot()
	return iterator.FromSeq(func(yield func(cell.Cell) bool) {
		tree.DescendLessOrEqual(entry{key: from}, visit(yield))
	})
}

// ReverseIterateAll yields every cell in descending order.
func (t *Table) ReverseIterateAll() iterator.CellIterator {
	tree := t.snapshot()
	return iterator.FromSeq(func(yield func(cell.Cell) bool) {
		tree.Descend(visit(yield))
	})
}

func visit(yield func(cell.Cell) bool) btree.ItemIteratorG[entry] {
	return func(e entry) bool {
		return yield(cell.Cell{Key: e.key, Value: e.value})
	}
}
