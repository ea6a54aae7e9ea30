package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/types"
)

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// FlushIfNeeded flushes the active memtable once it has reached the flush
// threshold.
func (s *Store) FlushIfNeeded() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	return s.flushIfNeededLocked()
}

func (s *Store) flushIfNeededLocked() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return dberrors.ErrClosed
	}
	active := s.state.active.table
	need := active.Len() > 0 && active.SizeInBytes() >= s.flushThreshold
	s.mu.RUnlock()

	if !need {
		return nil
	}
	return s.flushLocked(true)
}

// Flush writes the active memtable and any memtable left over by a failed
// flush to new SSTables.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	return s.flushLocked(true)
}

// freezeLocked moves a non-empty active memtable to the frozen list and
// returns the published state. Requires flushMu.
func (s *Store) freezeLocked(journaled bool) (*state, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dberrors.ErrClosed
	}
	if s.state.active.table.Len() == 0 {
		return s.state, nil
	}

	next, err := s.newMem(journaled)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate memtable: %w", err)
	}
	s.state = s.state.freeze(next)
	s.logger.Debug("memtable frozen", "frozen", len(s.state.frozen))

	return s.state, nil
}

// flushLocked requires flushMu.
func (s *Store) flushLocked(journaled bool) error {
	st, err := s.freezeLocked(journaled)
	if err != nil {
		return err
	}

	for _, m := range st.frozen {
		if err := s.flushMem(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) flushMem(m *mem) (err error) {
	gen := s.nextGen

	_, span := s.tracer.Start(context.Background(), "lsmkv.flush")
	span.SetAttributes(attribute.Int64("lsmkv.generation", int64(gen)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	t, err := s.writeTable(gen, m.table.Iterate(nil))
	if err != nil {
		s.logger.Error("memtable flush failed", "generation", gen, "error", err)
		return fmt.Errorf("failed to flush memtable: %w", err)
	}

	s.mu.Lock()
	s.state = s.state.flushed(m, t)
	tables := len(s.state.tables)
	s.mu.Unlock()
	s.nextGen++

	if m.journal != nil {
		if err := m.journal.Remove(); err != nil {
			s.logger.Warn("failed to remove flushed journal", "path", m.journal.Path(), "error", err)
		}
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("lsmkv.rows", t.Rows()))
	s.metrics.IncCounter(metrics.FlushesTotal, nil, 1)
	s.metrics.ObserveHistogram(metrics.FlushSeconds, nil, elapsed.Seconds())
	s.metrics.SetGauge(metrics.Tables, nil, float64(tables))
	s.logger.Info("memtable flushed",
		"generation", gen, "rows", t.Rows(), "bytes", t.ApproximateSize(), "duration", elapsed)

	s.maybeScheduleCompaction(tables)
	return nil
}

// writeTable persists cells as generation gen and opens the result.
func (s *Store) writeTable(gen types.Generation, cells iterator.CellIterator) (*persistence.SSTable, error) {
	path := s.path(persistence.TableName(gen))

	_, err := persistence.Create(s.path(persistence.TempName(gen)), path, cells)
	if cerr := cells.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return persistence.Open(path, gen)
}
