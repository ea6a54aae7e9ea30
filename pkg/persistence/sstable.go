package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

const (
	int32Size = 4
	int64Size = 8
)

// SSTable is an immutable table backed by a read-only memory mapping of
// its file:
//
//	[record]* [offset int64]* [rowCount int64]
//	record = keyLen int32, key, timestamp int64, (timestamp >= 0) valueLen int32, value
//
// All integers are big-endian. A tombstone stores its timestamp negated and
// has no value. Keys and values handed out by the table alias the mapping.
type SSTable struct {
	path string
	gen  types.Generation
	size int64

	data    mmap.MMap
	cells   []byte
	offsets []byte
	rows    int

	// built on the first point lookup
	bloomOnce sync.Once
	bloom     *bloomFilter

	// one reference belongs to the owning store, one to every open iterator
	refs atomic.Int64
}

// Open maps the table file at path.
func Open(path string, gen types.Generation) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSTable file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat SSTable file: %w", err)
	}
	if info.Size() < int64Size {
		return nil, fmt.Errorf("%w: %s: %d bytes is shorter than the footer", dberrors.ErrCorruptTable, path, info.Size())
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to map SSTable file: %w", err)
	}

	t := &SSTable{
		path: path,
		gen:  gen,
		size: info.Size(),
		data: data,
	}
	if err := t.loadIndex(); err != nil {
		_ = data.Unmap()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.refs.Store(1)

	return t, nil
}

func (t *SSTable) loadIndex() error {
	size := len(t.data)

	rows := int64(binary.BigEndian.Uint64(t.data[size-int64Size:]))
	if rows < 0 || rows > int64((size-int64Size)/int64Size) {
		return fmt.Errorf("%w: row count %d does not fit in %d bytes", dberrors.ErrCorruptTable, rows, size)
	}

	indexStart := size - int64Size - int(rows)*int64Size
	t.cells = t.data[:indexStart:indexStart]
	t.offsets = t.data[indexStart : size-int64Size]
	t.rows = int(rows)

	prev := int64(-1)
	for i := 0; i < t.rows; i++ {
		off := t.offset(i)
		if off <= prev || off+int32Size > int64(len(t.cells)) {
			return fmt.Errorf("%w: row %d has offset %d outside of %d data bytes", dberrors.ErrCorruptTable, i, off, len(t.cells))
		}
		prev = off
	}

	return nil
}

func (t *SSTable) offset(i int) int64 {
	return int64(binary.BigEndian.Uint64(t.offsets[i*int64Size:]))
}

// sized reads an int32 length at off and returns the bytes that follow it.
func (t *SSTable) sized(off int) ([]byte, int, error) {
	if off < 0 || off+int32Size > len(t.cells) {
		return nil, 0, fmt.Errorf("%w: length field at %d out of range", dberrors.ErrCorruptTable, off)
	}
	n := int(int32(binary.BigEndian.Uint32(t.cells[off:])))
	start := off + int32Size
	if n < 0 || n > len(t.cells)-start {
		return nil, 0, fmt.Errorf("%w: field of %d bytes at %d out of range", dberrors.ErrCorruptTable, n, off)
	}
	end := start + n

	return t.cells[start:end:end], end, nil
}

func (t *SSTable) keyAt(i int) ([]byte, error) {
	key, _, err := t.sized(int(t.offset(i)))
	return key, err
}

func (t *SSTable) cellAt(i int) (cell.Cell, error) {
	key, off, err := t.sized(int(t.offset(i)))
	if err != nil {
		return cell.Cell{}, err
	}
	if off+int64Size > len(t.cells) {
		return cell.Cell{}, fmt.Errorf("%w: row %d timestamp out of range", dberrors.ErrCorruptTable, i)
	}
	ts := int64(binary.BigEndian.Uint64(t.cells[off:]))
	off += int64Size

	if ts < 0 {
		if ts == math.MinInt64 {
			return cell.Cell{}, fmt.Errorf("%w: row %d has an invalid timestamp", dberrors.ErrCorruptTable, i)
		}
		return cell.Cell{Key: key, Value: cell.NewTombstone(-ts)}, nil
	}

	value, _, err := t.sized(off)
	if err != nil {
		return cell.Cell{}, err
	}
	return cell.Cell{Key: key, Value: cell.New(ts, value)}, nil
}

// position returns the first row whose key is >= from, or the row count.
func (t *SSTable) position(from []byte) (int, error) {
	lo, hi := 0, t.rows
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		key, err := t.keyAt(mid)
		if err != nil {
			return 0, err
		}
		if bytes.Compare(key, from) >= 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// Get returns the value stored for key. The value's data aliases the
// mapping and is only valid while the caller holds a reference.
func (t *SSTable) Get(key []byte) (cell.Value, bool, error) {
	t.bloomOnce.Do(t.loadBloom)
	if t.bloom != nil && !t.bloom.MayContain(key) {
		return cell.Value{}, false, nil
	}

	pos, err := t.position(key)
	if err != nil || pos == t.rows {
		return cell.Value{}, false, err
	}
	c, err := t.cellAt(pos)
	if err != nil {
		return cell.Value{}, false, err
	}
	if !bytes.Equal(c.Key, key) {
		return cell.Value{}, false, nil
	}
	return c.Value, true, nil
}

// loadBloom indexes every key. A table with unreadable keys gets no filter
// and reports the corruption from the lookup itself.
func (t *SSTable) loadBloom() {
	bf := newBloomFilter(t.rows, bloomFPRate)
	for i := 0; i < t.rows; i++ {
		key, err := t.keyAt(i)
		if err != nil {
			return
		}
		bf.Add(key)
	}
	t.bloom = bf
}

// Iterate yields cells with key >= from in ascending order.
func (t *SSTable) Iterate(from []byte) iterator.CellIterator {
	pos, err := t.position(from)
	if err != nil {
		return &tableIter{err: err}
	}
	return t.newIter(pos, 1)
}

// ReverseIterate yields cells with key <= from in descending order.
func (t *SSTable) ReverseIterate(from []byte) iterator.CellIterator {
	pos, err := t.position(from)
	if err != nil {
		return &tableIter{err: err}
	}

	start := pos - 1
	if pos < t.rows {
		key, err := t.keyAt(pos)
		if err != nil {
			return &tableIter{err: err}
		}
		if bytes.Equal(key, from) {
			start = pos
		}
	}
	return t.newIter(start, -1)
}

// ReverseIterateAll yields every cell in descending order.
func (t *SSTable) ReverseIterateAll() iterator.CellIterator {
	return t.newIter(t.rows-1, -1)
}

// Upsert is not supported: tables are immutable.
func (t *SSTable) Upsert(types.Key, types.Value) error {
	return dberrors.ErrUnsupported
}

// Remove is not supported: tables are immutable.
func (t *SSTable) Remove(types.Key) error {
	return dberrors.ErrUnsupported
}

// SizeInBytes is only tracked for mutable tables.
func (t *SSTable) SizeInBytes() (int64, error) {
	return 0, dberrors.ErrUnsupported
}

func (t *SSTable) Rows() int                    { return t.rows }
func (t *SSTable) Generation() types.Generation { return t.gen }
func (t *SSTable) FilePath() string             { return t.path }

// ApproximateSize is the size of the table file.
func (t *SSTable) ApproximateSize() int64 { return t.size }

// Acquire pins the mapping for a reader. It fails once the table has been
// released by every holder.
func (t *SSTable) Acquire() bool {
	for {
		n := t.refs.Load()
		if n <= 0 {
			return false
		}
		if t.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops one reference and unmaps the file after the last one.
func (t *SSTable) Release() error {
	if t.refs.Add(-1) != 0 {
		return nil
	}
	if err := t.data.Unmap(); err != nil {
		return fmt.Errorf("failed to unmap SSTable %s: %w", t.path, err)
	}
	return nil
}

// Retire drops the owner reference of a table that is no longer part of the
// store. With removeFile the file is deleted right away; readers that still
// hold the table keep using the mapping.
func (t *SSTable) Retire(removeFile bool) error {
	var rmErr error
	if removeFile {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			rmErr = fmt.Errorf("failed to remove SSTable file: %w", err)
		}
	}
	return errors.Join(rmErr, t.Release())
}

type tableIter struct {
	t    *SSTable
	i    int
	step int

	cur   cell.Cell
	valid bool
	err   error
}

func (t *SSTable) newIter(start, step int) *tableIter {
	it := &tableIter{t: t, i: start, step: step}
	it.load()
	return it
}

func (it *tableIter) load() {
	it.valid = false
	if it.i < 0 || it.i >= it.t.rows {
		return
	}
	c, err := it.t.cellAt(it.i)
	if err != nil {
		it.err = err
		return
	}
	it.cur = c
	it.valid = true
}

func (it *tableIter) Valid() bool     { return it.valid }
func (it *tableIter) Cell() cell.Cell { return it.cur }
func (it *tableIter) Err() error      { return it.err }
func (it *tableIter) Close() error    { return nil }

func (it *tableIter) Next() {
	it.i += it.step
	it.load()
}
