package dump

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"lsmkv/pkg/cell"
	"lsmkv/pkg/iterator"
)

func records(n int) iterator.Iterator {
	cells := make([]cell.Cell, 0, n)
	for i := 0; i < n; i++ {
		cells = append(cells, cell.Cell{
			Key:   []byte(fmt.Sprintf("key-%05d", i)),
			Value: cell.New(1, bytes.Repeat([]byte{byte(i)}, i%7)),
		})
	}
	return iterator.Records(iterator.FromSlice(cells))
}

func TestDump_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	it := records(500)
	stats, err := Write(&buf, it)
	require.NoError(t, err)
	require.NoError(t, it.Close())
	require.Equal(t, int64(500), stats.Records)
	require.Equal(t, int64(buf.Len()), stats.CompressedSize)

	var got []string
	n, err := Read(&buf, func(key, value []byte) error {
		got = append(got, fmt.Sprintf("%s:%d", key, len(value)))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(500), n)
	require.Equal(t, "key-00000:0", got[0])
	require.Equal(t, "key-00499:2", got[499])
}

func TestDump_Empty(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Write(&buf, iterator.Empty())
	require.NoError(t, err)
	require.Zero(t, stats.Records)

	n, err := Read(&buf, func([]byte, []byte) error {
		t.Fatal("unexpected record")
		return nil
	})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDump_RejectsForeignStream(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("definitely not a dump"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, err = Read(&buf, func([]byte, []byte) error { return nil })
	require.ErrorIs(t, err, ErrBadFormat)
}

func TestDump_TruncatedRecord(t *testing.T) {
	var raw bytes.Buffer
	raw.Write(magic)
	raw.Write([]byte{3, 'a', 'b', 'c', 5, 'x'})

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = io.Copy(enc, &raw)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	_, err = Read(&buf, func([]byte, []byte) error { return nil })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDump_CallbackErrorStops(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, records(10))
	require.NoError(t, err)

	stop := fmt.Errorf("stop")
	n, err := Read(&buf, func([]byte, []byte) error { return stop })
	require.ErrorIs(t, err, stop)
	require.Zero(t, n)
}
