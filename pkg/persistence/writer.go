package persistence

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

const (
	TablePrefix = "SSTABLE"
	TableSuffix = ".dat"
	TempSuffix  = ".tmp"
)

// TableName is the committed file name of generation gen.
func TableName(gen types.Generation) string {
	return TablePrefix + strconv.FormatUint(uint64(gen), 10) + TableSuffix
}

// TempName is the in-progress file name of generation gen.
func TempName(gen types.Generation) string {
	return TablePrefix + strconv.FormatUint(uint64(gen), 10) + TempSuffix
}

// ParseName extracts the generation from a table or temp file name.
func ParseName(name, suffix string) (types.Generation, bool) {
	if !strings.HasPrefix(name, TablePrefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, TablePrefix), suffix)
	gen, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return types.Generation(gen), true
}

// Write streams cells, ascending and with unique keys, to w in table
// format and returns the number of rows written.
func Write(w io.Writer, cells iterator.CellIterator) (int, error) {
	var (
		bw      = bufio.NewWriter(w)
		offsets []int64
		offset  int64
		prev    []byte
	)

	for ; cells.Valid(); cells.Next() {
		c := cells.Cell()
		if len(offsets) > 0 && bytes.Compare(prev, c.Key) >= 0 {
			return 0, fmt.Errorf("%w: key %q does not follow %q", dberrors.ErrInvalidArgument, c.Key, prev)
		}

		offsets = append(offsets, offset)
		n, err := writeCell(bw, c)
		if err != nil {
			return 0, err
		}
		offset += n
		prev = c.Key
	}
	if err := cells.Err(); err != nil {
		return 0, fmt.Errorf("failed to read cells: %w", err)
	}

	var buf [int64Size]byte
	for _, off := range offsets {
		binary.BigEndian.PutUint64(buf[:], uint64(off))
		if _, err := bw.Write(buf[:]); err != nil {
			return 0, err
		}
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(offsets)))
	if _, err := bw.Write(buf[:]); err != nil {
		return 0, err
	}

	return len(offsets), bw.Flush()
}

func writeCell(w *bufio.Writer, c cell.Cell) (int64, error) {
	var buf [int64Size]byte

	n, err := writeSized(w, c.Key)
	if err != nil {
		return 0, fmt.Errorf("failed to write key: %w", err)
	}

	ts := c.Value.Timestamp()
	if c.Value.IsRemoved() {
		if ts <= 0 {
			return 0, fmt.Errorf("%w: tombstone for %q has timestamp %d", dberrors.ErrInvalidArgument, c.Key, ts)
		}
		ts = -ts
	}
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	if _, err := w.Write(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to write timestamp: %w", err)
	}
	n += int64Size

	if c.Value.IsRemoved() {
		return n, nil
	}

	data, _ := c.Value.Data()
	m, err := writeSized(w, data)
	if err != nil {
		return 0, fmt.Errorf("failed to write value: %w", err)
	}

	return n + m, nil
}

func writeSized(w *bufio.Writer, b []byte) (int64, error) {
	if len(b) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d bytes is too large", dberrors.ErrInvalidArgument, len(b))
	}

	var buf [int32Size]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(b)))
	if _, err := w.Write(buf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(b); err != nil {
		return 0, err
	}

	return int64(int32Size + len(b)), nil
}

// Create writes cells to tmpPath and atomically renames the finished file
// to path. On failure the temp file is removed and path is left untouched.
func Create(tmpPath, path string, cells iterator.CellIterator) (rows int, err error) {
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create SSTable file: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = file.Close()
		_ = os.Remove(tmpPath)
	}()

	if rows, err = Write(file, cells); err != nil {
		return 0, fmt.Errorf("failed to write SSTable data: %w", err)
	}
	if err = file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync SSTable file: %w", err)
	}
	if err = file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close SSTable file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("failed to commit SSTable file: %w", err)
	}
	committed = true

	if err = SyncDir(filepath.Dir(path)); err != nil {
		return rows, err
	}
	return rows, nil
}

// SyncDir flushes directory entries so renames and removals survive a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}
