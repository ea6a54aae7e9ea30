// Package wal keeps the journal of a memtable so writes that have not been
// flushed yet survive a restart.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/dberrors"
)

const (
	Prefix = "JOURNAL"
	Suffix = ".log"

	// checksum uint64, payload length uint32
	headerSize = 12
	// timestamp int64, key length uint32
	payloadHeader = 12
)

// Name is the file name of journal n.
func Name(n uint64) string {
	return Prefix + strconv.FormatUint(n, 10) + Suffix
}

// ParseName extracts the journal number from a file name.
func ParseName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, Prefix) || !strings.HasSuffix(name, Suffix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, Prefix), Suffix), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// WAL is an append-only journal file. Each record is
//
//	checksum uint64, length uint32, payload
//	payload = timestamp int64, keyLen uint32, key, value
//
// in big-endian. A tombstone stores its timestamp negated and has no value.
// The checksum is xxhash64 of the payload.
type WAL struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	sync   bool
}

// Create opens a new journal at path. With sync every append is fsynced.
func Create(path string, sync bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal file: %w", err)
	}

	return &WAL{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
		sync:   sync,
	}, nil
}

func (w *WAL) Path() string {
	return w.path
}

// Append writes one versioned record and flushes it to the file.
func (w *WAL) Append(key []byte, v cell.Value) error {
	record, err := encode(key, v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return dberrors.ErrClosed
	}
	if _, err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}

	return nil
}

func encode(key []byte, v cell.Value) ([]byte, error) {
	data, _ := v.Data()
	if len(key) > math.MaxInt32 || len(data) > math.MaxInt32-len(key)-payloadHeader {
		return nil, fmt.Errorf("%w: journal entry too large", dberrors.ErrInvalidArgument)
	}

	ts := v.Timestamp()
	if v.IsRemoved() {
		if ts <= 0 {
			return nil, fmt.Errorf("%w: tombstone has timestamp %d", dberrors.ErrInvalidArgument, ts)
		}
		ts = -ts
	}

	size := payloadHeader + len(key) + len(data)
	record := make([]byte, headerSize+size)
	payload := record[headerSize:]

	binary.BigEndian.PutUint64(payload, uint64(ts))
	binary.BigEndian.PutUint32(payload[8:], uint32(len(key)))
	copy(payload[payloadHeader:], key)
	copy(payload[payloadHeader+len(key):], data)

	binary.BigEndian.PutUint64(record, xxhash.Sum64(payload))
	binary.BigEndian.PutUint32(record[8:], uint32(size))

	return record, nil
}

// Close flushes and closes the file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush journal on close: %w", err)
		}
		w.writer = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		w.file = nil
	}

	return nil
}

// Remove closes the journal and deletes its file.
func (w *WAL) Remove() error {
	closeErr := w.Close()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("failed to remove journal file: %w", err))
	}
	return closeErr
}

// Replay reads the journal at path and calls fn for every record in write
// order. A torn record at the end of the file is the remainder of an
// interrupted append and is skipped; damage anywhere else fails with
// ErrCorruptJournal. It returns the number of records passed to fn.
func Replay(path string, fn func(key []byte, v cell.Value) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open journal for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close journal read file", "error", cerr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat journal: %w", err)
	}
	remaining := info.Size()
	reader := bufio.NewReader(file)

	count := 0
	for {
		key, v, n, err := readEntry(reader, remaining)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, dberrors.ErrCorruptJournal) && atEOF(reader)) {
			slog.Warn("skipping torn journal tail", "path", path, "records", count, "error", err)
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read journal entry %d of %s: %w", count, path, err)
		}

		if err := fn(key, v); err != nil {
			return count, fmt.Errorf("journal replay callback failed: %w", err)
		}
		remaining -= n
		count++
	}
}

func atEOF(r *bufio.Reader) bool {
	_, err := r.Peek(1)
	return errors.Is(err, io.EOF)
}

// readEntry decodes the next record. remaining is the number of unread
// bytes in the file; a length reaching past it is reported as a torn record
// before anything is allocated. n is the encoded size of the record.
func readEntry(r *bufio.Reader, remaining int64) (key []byte, v cell.Value, n int64, err error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, cell.Value{}, 0, err
	}

	sum := binary.BigEndian.Uint64(header[:])
	size := binary.BigEndian.Uint32(header[8:])
	if size < payloadHeader || size > math.MaxInt32 {
		return nil, cell.Value{}, 0, fmt.Errorf("%w: record length %d", dberrors.ErrCorruptJournal, size)
	}
	n = headerSize + int64(size)
	if n > remaining {
		return nil, cell.Value{}, 0, io.ErrUnexpectedEOF
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, cell.Value{}, 0, err
	}
	if xxhash.Sum64(payload) != sum {
		return nil, cell.Value{}, 0, fmt.Errorf("%w: checksum mismatch", dberrors.ErrCorruptJournal)
	}

	ts := int64(binary.BigEndian.Uint64(payload))
	keyLen := binary.BigEndian.Uint32(payload[8:])
	if keyLen > size-payloadHeader {
		return nil, cell.Value{}, 0, fmt.Errorf("%w: key length %d", dberrors.ErrCorruptJournal, keyLen)
	}
	key = payload[payloadHeader : payloadHeader+keyLen]
	rest := payload[payloadHeader+keyLen:]

	switch {
	case ts == math.MinInt64:
		return nil, cell.Value{}, 0, fmt.Errorf("%w: invalid timestamp", dberrors.ErrCorruptJournal)
	case ts < 0:
		if len(rest) != 0 {
			return nil, cell.Value{}, 0, fmt.Errorf("%w: tombstone carries a value", dberrors.ErrCorruptJournal)
		}
		return key, cell.NewTombstone(-ts), n, nil
	default:
		return key, cell.New(ts, rest), n, nil
	}
}
