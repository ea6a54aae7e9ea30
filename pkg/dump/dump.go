// Package dump writes and reads a logical copy of the live key space as a
// zstd stream of length-prefixed records.
package dump

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"lsmkv/pkg/iterator"
)

var (
	magic = []byte("LSMKVDMP")

	ErrBadFormat = errors.New("lsmkv: not a dump stream")
)

// Stats describe a finished dump.
type Stats struct {
	Records        int64
	CompressedSize int64
}

// Write drains it into w as
//
//	magic, (uvarint keyLen, key, uvarint valueLen, value)*
//
// compressed with zstd.
func Write(w io.Writer, it iterator.Iterator) (Stats, error) {
	counter := &byteCounter{w: w}
	enc, err := zstd.NewWriter(counter)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer enc.Close()

	bw := bufio.NewWriter(enc)
	if _, err := bw.Write(magic); err != nil {
		return Stats{}, err
	}

	var (
		stats Stats
		buf   [binary.MaxVarintLen64]byte
	)
	writeSized := func(b []byte) error {
		n := binary.PutUvarint(buf[:], uint64(len(b)))
		if _, err := bw.Write(buf[:n]); err != nil {
			return err
		}
		_, err := bw.Write(b)
		return err
	}

	for ; it.Valid(); it.Next() {
		if err := writeSized(it.Key()); err != nil {
			return stats, fmt.Errorf("failed to write key: %w", err)
		}
		if err := writeSized(it.Value()); err != nil {
			return stats, fmt.Errorf("failed to write value: %w", err)
		}
		stats.Records++
	}
	if err := it.Err(); err != nil {
		return stats, fmt.Errorf("failed to read records: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return stats, err
	}
	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	stats.CompressedSize = counter.Count()

	return stats, nil
}

// Read decodes a stream produced by Write and calls fn for every record.
// Slices passed to fn are reused after it returns.
func Read(r io.Reader, fn func(key, value []byte) error) (int64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(br, header); err != nil || string(header) != string(magic) {
		return 0, ErrBadFormat
	}

	var (
		count int64
		key   []byte
		value []byte
	)
	readSized := func(dst []byte) ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		if n > uint64(maxField) {
			return nil, fmt.Errorf("%w: field of %d bytes", ErrBadFormat, n)
		}
		if uint64(cap(dst)) < n {
			dst = make([]byte, n)
		}
		dst = dst[:n]
		if _, err := io.ReadFull(br, dst); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return dst, nil
	}

	for {
		key, err = readSized(key)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read key of record %d: %w", count, err)
		}
		value, err = readSized(value)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return count, fmt.Errorf("failed to read value of record %d: %w", count, err)
		}

		if err := fn(key, value); err != nil {
			return count, err
		}
		count++
	}
}

const maxField = 1<<31 - 1
