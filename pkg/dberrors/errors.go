package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("lsmkv: not found")
	ErrClosed          = errors.New("lsmkv: closed")
	ErrInvalidArgument = errors.New("lsmkv: invalid argument")
	ErrTombstone       = errors.New("lsmkv: value is a tombstone")
	ErrUnsupported     = errors.New("lsmkv: unsupported operation")
	ErrCorruptTable    = errors.New("lsmkv: corrupt table")
	ErrCorruptJournal  = errors.New("lsmkv: corrupt journal")
	// ErrFlushFailed marks a write that was applied but whose follow-up
	// flush failed.
	ErrFlushFailed = errors.New("lsmkv: write applied, flush failed")
)
