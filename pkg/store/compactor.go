package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/types"
)

// compactedGeneration is the generation every compaction writes.
const compactedGeneration types.Generation = 1

// Compact merges every table and memtable into a single SSTable of
// generation 1 without tombstones and removes the files it replaces.
func (s *Store) Compact() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	return s.compactLocked()
}

func (s *Store) compactLocked() (err error) {
	st, err := s.freezeLocked(true)
	if err != nil {
		return err
	}
	if len(st.tables) == 0 && len(st.frozen) == 0 {
		return nil
	}

	_, span := s.tracer.Start(context.Background(), "lsmkv.compact")
	span.SetAttributes(
		attribute.Int("lsmkv.tables", len(st.tables)),
		attribute.Int("lsmkv.memtables", len(st.frozen)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	cursors := make([]iterator.CellIterator, 0, len(st.tables)+len(st.frozen))
	for _, t := range st.tables {
		cursors = append(cursors, t.Iterate(nil))
	}
	for _, m := range st.frozen {
		cursors = append(cursors, m.table.Iterate(nil))
	}

	t, err := s.writeTable(compactedGeneration, iterator.Visible(types.Forward, cursors...))
	if err != nil {
		s.logger.Error("compaction failed", "error", err)
		return fmt.Errorf("failed to compact: %w", err)
	}

	s.mu.Lock()
	s.state = s.state.compacted(st.frozen, t)
	s.mu.Unlock()
	s.nextGen = compactedGeneration + 1

	// ascending order: a crash part-way leaves a suffix of generations whose
	// tombstones still cover every older version that survived
	for _, old := range st.tables {
		removeFile := old.Generation() != compactedGeneration
		if err := old.Retire(removeFile); err != nil {
			s.logger.Warn("failed to retire compacted SSTable", "path", old.FilePath(), "error", err)
		}
	}
	for _, m := range st.frozen {
		if m.journal == nil {
			continue
		}
		if err := m.journal.Remove(); err != nil {
			s.logger.Warn("failed to remove compacted journal", "path", m.journal.Path(), "error", err)
		}
	}
	if err := persistence.SyncDir(s.dir); err != nil {
		s.logger.Warn("failed to sync data directory", "error", err)
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("lsmkv.rows", t.Rows()))
	s.metrics.IncCounter(metrics.CompactionsTotal, nil, 1)
	s.metrics.ObserveHistogram(metrics.CompactionSeconds, nil, elapsed.Seconds())
	s.metrics.SetGauge(metrics.Tables, nil, 1)
	s.logger.Info("compaction finished",
		"merged_tables", len(st.tables), "merged_memtables", len(st.frozen),
		"rows", t.Rows(), "bytes", t.ApproximateSize(), "duration", elapsed)

	return nil
}

// maybeScheduleCompaction wakes the background compactor once the table
// count reaches the configured threshold.
func (s *Store) maybeScheduleCompaction(tables int) {
	if s.compactCh == nil || tables < s.compactThreshold {
		return
	}
	select {
	case s.compactCh <- struct{}{}:
	default:
	}
}

func (s *Store) autoCompact(struct{}) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	closed, tables := s.closed, 0
	if !closed {
		tables = len(s.state.tables)
	}
	s.mu.RUnlock()

	// another compaction may have run since the signal
	if closed || tables < s.compactThreshold {
		return nil
	}

	err := s.compactLocked()
	if errors.Is(err, dberrors.ErrClosed) {
		return nil
	}
	return err
}
