package db

import (
	"bytes"

	"lsmkv/pkg/iterator"
	"lsmkv/pkg/types"
)

// SearchOptions tune a range search.
type SearchOptions struct {
	Reverse bool
	// Limit caps the number of results; 0 means no limit.
	Limit int
}

type SearchResult struct {
	Key   types.Key
	Value types.Value
}

// SearchCallback receives each result. Key and Value are only valid for
// the duration of the call.
type SearchCallback func(SearchResult) error

// SearchRange calls callback for every live key in [start, end] in the
// requested direction. A nil bound is open.
func SearchRange(d DB, start, end types.Key, opts SearchOptions, callback SearchCallback) (err error) {
	var it iterator.Iterator
	switch {
	case !opts.Reverse:
		it, err = d.Iterate(start)
	case end == nil:
		it, err = d.ReverseIterateAll()
	default:
		it, err = d.ReverseIterate(end)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()

	count := 0
	for ; it.Valid() && (opts.Limit == 0 || count < opts.Limit); it.Next() {
		key := it.Key()
		if !opts.Reverse && end != nil && bytes.Compare(key, end) > 0 {
			break
		}
		if opts.Reverse && start != nil && bytes.Compare(key, start) < 0 {
			break
		}

		if err := callback(SearchResult{Key: key, Value: it.Value()}); err != nil {
			return err
		}
		count++
	}

	return it.Err()
}
