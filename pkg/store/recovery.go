package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/types"
	"lsmkv/pkg/wal"
)

// recover rebuilds the state from the data directory: stale temp files are
// removed, SSTables are opened in generation order and journals left by an
// unclean stop are replayed into a new SSTable.
func (s *Store) recover() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var (
		gens     []types.Generation
		journals []uint64
	)
	for _, e := range entries {
		name := e.Name()
		if _, ok := persistence.ParseName(name, persistence.TempSuffix); ok {
			if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to remove stale temp file", "file", name, "error", err)
			} else {
				s.logger.Info("removed stale temp file", "file", name)
			}
			continue
		}
		if !s.isRegular(name) {
			continue
		}
		if gen, ok := persistence.ParseName(name, persistence.TableSuffix); ok {
			gens = append(gens, gen)
			continue
		}
		if n, ok := wal.ParseName(name); ok {
			journals = append(journals, n)
		}
	}
	slices.Sort(gens)
	slices.Sort(journals)

	tables := make([]*persistence.SSTable, 0, len(gens))
	for _, gen := range gens {
		t, err := persistence.Open(s.path(persistence.TableName(gen)), gen)
		if err != nil {
			release(s.logger, tables)
			return err
		}
		tables = append(tables, t)
	}
	if len(gens) > 0 {
		s.nextGen = gens[len(gens)-1] + 1
	}
	if len(journals) > 0 {
		s.nextJournal = journals[len(journals)-1] + 1
	} else {
		s.nextJournal = 1
	}

	replayed, err := s.replay(journals)
	if err != nil {
		release(s.logger, tables)
		return err
	}
	if replayed != nil {
		tables = append(tables, replayed)
	}

	active, err := s.newMem(true)
	if err != nil {
		release(s.logger, tables)
		return err
	}
	s.state = &state{active: active, tables: tables}

	s.metrics.SetGauge(metrics.Tables, nil, float64(len(tables)))
	s.logger.Info("store opened", "tables", len(tables), "next_generation", s.nextGen)

	return nil
}

func (s *Store) isRegular(name string) bool {
	// follows symlinks
	info, err := os.Stat(s.path(name))
	if err != nil {
		s.logger.Warn("skipping unreadable entry", "file", name, "error", err)
		return false
	}
	return info.Mode().IsRegular()
}

// replay loads every journal into one memtable, persists it as the next
// generation and deletes the journals. It returns nil when there was
// nothing to restore.
func (s *Store) replay(journals []uint64) (*persistence.SSTable, error) {
	if len(journals) == 0 {
		return nil, nil
	}

	m := memtable.New(s.clock)
	records := 0
	for _, n := range journals {
		count, err := wal.Replay(s.path(wal.Name(n)), func(key []byte, v cell.Value) error {
			m.Put(key, v)
			return nil
		})
		if err != nil {
			return nil, err
		}
		records += count
	}

	var t *persistence.SSTable
	if m.Len() > 0 {
		gen := s.nextGen
		var err error
		if t, err = s.writeTable(gen, m.Iterate(nil)); err != nil {
			return nil, fmt.Errorf("failed to persist replayed journal: %w", err)
		}
		s.nextGen++
	}

	for _, n := range journals {
		if err := os.Remove(s.path(wal.Name(n))); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove replayed journal", "journal", wal.Name(n), "error", err)
		}
	}

	s.metrics.IncCounter(metrics.JournalReplayTotal, nil, float64(records))
	s.logger.Info("journal replayed", "journals", len(journals), "records", records, "keys", m.Len())

	return t, nil
}
