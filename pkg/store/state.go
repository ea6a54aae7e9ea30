package store

import (
	"slices"

	"lsmkv/pkg/iterator"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/wal"
)

// source is what every table kind offers to the read path.
type source interface {
	Iterate(from []byte) iterator.CellIterator
	ReverseIterate(from []byte) iterator.CellIterator
	ReverseIterateAll() iterator.CellIterator
}

var (
	_ source = (*memtable.Table)(nil)
	_ source = (*persistence.SSTable)(nil)
)

// mem is a memtable together with the journal of its writes. journal is nil
// when journaling is disabled.
type mem struct {
	table   *memtable.Table
	journal *wal.WAL
}

// state is replaced, never mutated, once published.
type state struct {
	active *mem
	// frozen memtables wait for their flush, oldest first
	frozen []*mem
	// tables ordered by ascending generation
	tables []*persistence.SSTable
}

func (st *state) freeze(next *mem) *state {
	return &state{
		active: next,
		frozen: append(slices.Clone(st.frozen), st.active),
		tables: st.tables,
	}
}

// flushed replaces frozen memtable m with table t.
func (st *state) flushed(m *mem, t *persistence.SSTable) *state {
	return &state{
		active: st.active,
		frozen: slices.DeleteFunc(slices.Clone(st.frozen), func(f *mem) bool { return f == m }),
		tables: append(slices.Clone(st.tables), t),
	}
}

// compacted replaces every table and the frozen memtables in merged with t.
func (st *state) compacted(merged []*mem, t *persistence.SSTable) *state {
	return &state{
		active: st.active,
		frozen: slices.DeleteFunc(slices.Clone(st.frozen), func(f *mem) bool { return slices.Contains(merged, f) }),
		tables: []*persistence.SSTable{t},
	}
}

// sources lists every table from oldest to newest.
func (st *state) sources() []source {
	out := make([]source, 0, len(st.tables)+len(st.frozen)+1)
	for _, t := range st.tables {
		out = append(out, t)
	}
	for _, m := range st.frozen {
		out = append(out, m.table)
	}
	return append(out, st.active.table)
}
