// Package store implements the LSM engine: a journaled memtable in front of
// immutable memory-mapped SSTables, merged at read time.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/clock"
	"lsmkv/pkg/config"
	"lsmkv/pkg/db"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/listener"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/types"
	"lsmkv/pkg/wal"
)

const tracerName = "lsmkv/pkg/store"

type Store struct {
	dir              string
	flushThreshold   int64
	compactThreshold int
	journalEnabled   bool
	journalSync      bool

	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Collector
	tracer  trace.Tracer

	mu    sync.RWMutex
	state *state
	// closing is set when Close starts and rejects writes; closed rejects
	// every call
	closing     bool
	closed      bool
	nextJournal uint64

	// flushMu serializes flush, compaction and close
	flushMu sync.Mutex
	nextGen types.Generation

	compactCh chan struct{}
	compactor *listener.Listener[struct{}]
}

var _ db.DB = (*Store)(nil)

// Open loads the store kept in cfg.Persistence.RootPath, creating the
// directory if needed.
func Open(cfg config.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		dir:              cfg.Persistence.RootPath,
		flushThreshold:   cfg.Memtable.FlushThresholdBytes,
		compactThreshold: cfg.Persistence.CompactThreshold,
		journalEnabled:   cfg.Journal.Enabled,
		journalSync:      cfg.Journal.Sync,
		clock:            clock.Default(),
		logger:           slog.Default(),
		metrics:          metrics.Nop{},
		tracer:           otel.GetTracerProvider().Tracer(tracerName),
		nextGen:          1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("dir", s.dir)

	if err := s.recover(); err != nil {
		return nil, err
	}

	if s.compactThreshold > 0 {
		s.compactCh = make(chan struct{}, 1)
		s.compactor = listener.New("compactor", s.compactCh, s.autoCompact).WithLogger(s.logger)
		s.compactor.Start(context.Background())
		s.maybeScheduleCompaction(len(s.state.tables))
	}

	return s, nil
}

// newMem creates an empty memtable, journaled when enabled and requested.
func (s *Store) newMem(journaled bool) (*mem, error) {
	m := &mem{table: memtable.New(s.clock)}
	if !s.journalEnabled || !journaled {
		return m, nil
	}

	n := s.nextJournal
	journal, err := wal.Create(s.path(wal.Name(n)), s.journalSync)
	if err != nil {
		return nil, err
	}
	s.nextJournal++
	m.journal = journal

	return m, nil
}

// Get returns a copy of the live value of key or dberrors.ErrNotFound.
func (s *Store) Get(key types.Key) (types.Value, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, dberrors.ErrClosed
	}
	st := s.state
	tables := acquire(st.tables)
	s.mu.RUnlock()
	defer release(s.logger, tables)

	// newest source first
	if v, ok := st.active.table.Get(key); ok {
		return liveCopy(v)
	}
	for i := len(st.frozen) - 1; i >= 0; i-- {
		if v, ok := st.frozen[i].table.Get(key); ok {
			return liveCopy(v)
		}
	}
	// generations left behind by an interrupted compaction may hold older
	// versions than generation 1, so tables are resolved by timestamp
	var (
		newest cell.Value
		found  bool
	)
	for _, t := range tables {
		v, ok, err := t.Get(key)
		if err != nil {
			return nil, err
		}
		if ok && (!found || v.Newer(newest) < 0) {
			newest, found = v, true
		}
	}
	if found {
		return liveCopy(newest)
	}

	return nil, dberrors.ErrNotFound
}

func liveCopy(v cell.Value) (types.Value, error) {
	if v.IsRemoved() {
		return nil, dberrors.ErrNotFound
	}
	data, _ := v.Data()
	return bytes.Clone(data), nil
}

// Iterate returns the live records with key >= from in ascending order.
// Keys and values are valid until the iterator is closed.
func (s *Store) Iterate(from types.Key) (iterator.Iterator, error) {
	return s.iterate(types.Forward, from, false)
}

// ReverseIterate returns the live records with key <= from in descending
// order.
func (s *Store) ReverseIterate(from types.Key) (iterator.Iterator, error) {
	return s.iterate(types.Reverse, from, false)
}

// ReverseIterateAll returns every live record in descending order.
func (s *Store) ReverseIterateAll() (iterator.Iterator, error) {
	return s.iterate(types.Reverse, nil, true)
}

func (s *Store) iterate(dir types.Direction, from []byte, all bool) (iterator.Iterator, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, dberrors.ErrClosed
	}
	st := s.state
	tables := acquire(st.tables)
	s.mu.RUnlock()

	sources := st.sources()
	cursors := make([]iterator.CellIterator, 0, len(sources))
	for _, src := range sources {
		switch {
		case dir == types.Forward:
			cursors = append(cursors, src.Iterate(from))
		case all:
			cursors = append(cursors, src.ReverseIterateAll())
		default:
			cursors = append(cursors, src.ReverseIterate(from))
		}
	}

	merged := iterator.OnClose(iterator.Visible(dir, cursors...), func() error {
		release(s.logger, tables)
		return nil
	})
	return iterator.Records(merged), nil
}

func acquire(tables []*persistence.SSTable) []*persistence.SSTable {
	// callers hold s.mu, so the owner reference keeps every table alive
	for _, t := range tables {
		t.Acquire()
	}
	return tables
}

func release(logger *slog.Logger, tables []*persistence.SSTable) {
	for _, t := range tables {
		if err := t.Release(); err != nil {
			logger.Warn("failed to release SSTable", "path", t.FilePath(), "error", err)
		}
	}
}

// Upsert stores value under key. An error wrapping dberrors.ErrFlushFailed
// means the write was applied and journaled but the flush it triggered
// failed; the data stays in memory and is retried by the next flush.
func (s *Store) Upsert(key types.Key, value types.Value) error {
	return s.write(key, value, false)
}

// Remove hides key by writing a tombstone. Errors follow Upsert.
func (s *Store) Remove(key types.Key) error {
	return s.write(key, nil, true)
}

func (s *Store) write(key, value []byte, removed bool) error {
	s.mu.RLock()
	if s.closed || s.closing {
		s.mu.RUnlock()
		return dberrors.ErrClosed
	}
	active := s.state.active

	// stamped under the lock so every frozen version is older than any
	// version in the active memtable
	var v cell.Value
	if removed {
		v = cell.Tombstone(s.clock)
	} else {
		v = cell.Of(s.clock, value)
	}

	if active.journal != nil {
		if err := active.journal.Append(key, v); err != nil {
			s.mu.RUnlock()
			return fmt.Errorf("failed to journal write: %w", err)
		}
	}
	active.table.Put(key, v)
	size := active.table.SizeInBytes()
	s.mu.RUnlock()

	op := "upsert"
	if removed {
		op = "remove"
	}
	s.metrics.IncCounter(metrics.WritesTotal, map[string]string{"op": op}, 1)
	s.metrics.SetGauge(metrics.MemtableBytes, nil, float64(size))

	if size < s.flushThreshold {
		return nil
	}
	// a running flush or compaction picks the memtable up later
	if !s.flushMu.TryLock() {
		return nil
	}
	defer s.flushMu.Unlock()

	err := s.flushIfNeededLocked()
	switch {
	case errors.Is(err, dberrors.ErrClosed):
		// applied before Close started, so Close persisted it
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", dberrors.ErrFlushFailed, err)
	}
	return nil
}

// Stats describe the current shape of the store.
type Stats struct {
	Tables          int
	Generations     []types.Generation
	TableBytes      int64
	FrozenMemtables int
	MemtableEntries int
	MemtableBytes   int64
	NextGeneration  types.Generation
}

func (s *Store) Stats() (Stats, error) {
	s.flushMu.Lock()
	nextGen := s.nextGen
	s.flushMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, dberrors.ErrClosed
	}

	st := s.state
	stats := Stats{
		Tables:          len(st.tables),
		FrozenMemtables: len(st.frozen),
		MemtableEntries: st.active.table.Len(),
		MemtableBytes:   st.active.table.SizeInBytes(),
		NextGeneration:  nextGen,
	}
	for _, t := range st.tables {
		stats.Generations = append(stats.Generations, t.Generation())
		stats.TableBytes += t.ApproximateSize()
	}
	return stats, nil
}

// Close stops background compaction, flushes pending writes and unmaps
// every table. Iterators opened before Close stay usable until closed.
func (s *Store) Close() error {
	// writes still holding the read lock finish before closing is set and
	// land in the memtable flushed below
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return dberrors.ErrClosed
	}
	s.closing = true
	s.mu.Unlock()

	if s.compactor != nil {
		s.compactor.Stop()
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()

	var flushErr error
	if st.active.table.Len() > 0 || len(st.frozen) > 0 {
		flushErr = s.flushLocked(false)
	}

	s.mu.Lock()
	s.closed = true
	st = s.state
	s.mu.Unlock()

	for _, t := range st.tables {
		if err := t.Retire(false); err != nil {
			s.logger.Warn("failed to release SSTable", "path", t.FilePath(), "error", err)
		}
	}
	mems := append(slices.Clone(st.frozen), st.active)
	for _, m := range mems {
		if m.journal == nil {
			continue
		}
		var err error
		if m.table.Len() == 0 {
			err = m.journal.Remove()
		} else {
			err = m.journal.Close()
		}
		if err != nil {
			s.logger.Warn("failed to close journal", "path", m.journal.Path(), "error", err)
		}
	}

	if flushErr != nil {
		return fmt.Errorf("failed to flush on close: %w", flushErr)
	}
	s.logger.Info("store closed", "tables", len(st.tables))
	return nil
}
