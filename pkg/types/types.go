package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// Timestamp is the logical version of a value. Valid timestamps are >= 1;
// larger is newer.
type Timestamp = int64

// Generation identifies the creation order of an on-disk table.
type Generation uint64

// Direction selects the key order of an iteration.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}
