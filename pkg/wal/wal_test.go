package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/dberrors"
)

type record struct {
	key     string
	ts      int64
	data    string
	removed bool
}

func replayAll(t *testing.T, path string) ([]record, error) {
	t.Helper()

	var out []record
	_, err := Replay(path, func(key []byte, v cell.Value) error {
		data, _ := v.Data()
		out = append(out, record{string(key), v.Timestamp(), string(data), v.IsRemoved()})
		return nil
	})
	return out, err
}

func writeJournal(t *testing.T, sync bool) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), Name(1))
	w, err := Create(path, sync)
	require.NoError(t, err)

	require.NoError(t, w.Append([]byte("a"), cell.New(1, []byte("one"))))
	require.NoError(t, w.Append([]byte(""), cell.New(2, nil)))
	require.NoError(t, w.Append([]byte("a"), cell.NewTombstone(3)))
	require.NoError(t, w.Close())

	return path
}

func TestWAL_Replay(t *testing.T) {
	for _, sync := range []bool{false, true} {
		path := writeJournal(t, sync)

		got, err := replayAll(t, path)
		require.NoError(t, err)
		assert.Equal(t, []record{
			{"a", 1, "one", false},
			{"", 2, "", false},
			{"a", 3, "", true},
		}, got)
	}
}

func TestWAL_TornTailIsSkipped(t *testing.T) {
	path := writeJournal(t, false)
	info, err := os.Stat(path)
	require.NoError(t, err)

	for _, cut := range []int64{1, 5, headerSize + 2} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		torn := filepath.Join(t.TempDir(), Name(2))
		require.NoError(t, os.WriteFile(torn, data[:info.Size()-cut], 0o644))

		got, err := replayAll(t, torn)
		require.NoError(t, err, "cut %d", cut)
		assert.Len(t, got, 2, "cut %d", cut)
	}
}

func TestWAL_CorruptMiddleRecord(t *testing.T) {
	path := writeJournal(t, false)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// flip a byte of the first payload
	data[headerSize+1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = replayAll(t, path)
	require.ErrorIs(t, err, dberrors.ErrCorruptJournal)
}

func TestWAL_CorruptLastRecordIsTreatedAsTorn(t *testing.T) {
	path := writeJournal(t, false)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := replayAll(t, path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestWAL_OversizedLengthIsTreatedAsTorn(t *testing.T) {
	path := writeJournal(t, false)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// the third record starts after 28 + 24 bytes; its length follows the checksum
	binary.BigEndian.PutUint32(data[28+24+8:], math.MaxInt32)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := replayAll(t, path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadEntry_LengthBeyondFile(t *testing.T) {
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[8:], math.MaxInt32)

	src := bytes.NewReader(header[:])
	r := bufio.NewReader(src)
	allocs := testing.AllocsPerRun(10, func() {
		src.Reset(header[:])
		r.Reset(src)
		_, _, _, err := readEntry(r, headerSize)
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	assert.Zero(t, allocs)
}

func TestWAL_AppendAfterClose(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), Name(1)), false)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.ErrorIs(t, w.Append([]byte("k"), cell.New(1, nil)), dberrors.ErrClosed)
	require.NoError(t, w.Close())
}

func TestWAL_RejectsUnstampedTombstone(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), Name(1)), false)
	require.NoError(t, err)
	defer w.Close()

	require.ErrorIs(t, w.Append([]byte("k"), cell.NewTombstone(0)), dberrors.ErrInvalidArgument)
}

func TestWAL_Remove(t *testing.T) {
	path := filepath.Join(t.TempDir(), Name(7))
	w, err := Create(path, false)
	require.NoError(t, err)
	require.Equal(t, path, w.Path())

	require.NoError(t, w.Remove())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestWAL_CreateRefusesExistingFile(t *testing.T) {
	path := writeJournal(t, false)
	_, err := Create(path, false)
	require.Error(t, err)
}

func TestParseName(t *testing.T) {
	n, ok := ParseName("JOURNAL42.log")
	require.True(t, ok)
	require.Equal(t, uint64(42), n)

	for _, name := range []string{"JOURNAL.log", "JOURNAL0.log", "JOURNALx.log", "SSTABLE1.dat", "JOURNAL1.tmp"} {
		_, ok := ParseName(name)
		require.False(t, ok, name)
	}
}
