package cell

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/types"
)

func TestValue_Tombstone(t *testing.T) {
	c := clock.NewAtomic(0)

	live := Of(c, []byte("v"))
	dead := Tombstone(c)

	require.False(t, live.IsRemoved())
	require.True(t, dead.IsRemoved())
	require.Greater(t, dead.Timestamp(), live.Timestamp())

	data, err := live.Data()
	require.NoError(t, err)
	require.Equal(t, []byte("v"), data)

	_, err = dead.Data()
	require.ErrorIs(t, err, dberrors.ErrTombstone)
	require.Zero(t, dead.Size())
}

func TestCompare(t *testing.T) {
	older := Cell{Key: []byte("b"), Value: New(1, []byte("old"))}
	newer := Cell{Key: []byte("b"), Value: New(2, []byte("new"))}
	a := Cell{Key: []byte("a"), Value: New(3, nil)}

	t.Run("Forward", func(t *testing.T) {
		cmp := Compare(types.Forward)
		require.Negative(t, cmp(a, older))
		require.Negative(t, cmp(newer, older))
		require.Positive(t, cmp(older, newer))
		require.Zero(t, cmp(newer, newer))
	})

	t.Run("ReverseKeepsNewestFirst", func(t *testing.T) {
		cmp := Compare(types.Reverse)
		require.Positive(t, cmp(a, older))
		require.Negative(t, cmp(newer, older))
		require.Positive(t, cmp(older, newer))
	})

	t.Run("EmptyKeySortsFirst", func(t *testing.T) {
		cmp := Compare(types.Forward)
		empty := Cell{Key: []byte{}, Value: New(1, nil)}
		require.Negative(t, cmp(empty, a))
	})
}
