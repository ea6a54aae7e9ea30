package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zhangyunhao116/fastrand"

	"lsmkv/pkg/config"
	"lsmkv/pkg/db"
	"lsmkv/pkg/inmem"
)

func randomKey() string {
	return fmt.Sprintf("key-%03d", fastrand.Intn(120))
}

// compare checks every read operation of s against the reference model.
func compare(t *testing.T, model *inmem.DAO, s *Store) {
	t.Helper()

	require.Equal(t, scan(t)(model.Iterate(nil)), scan(t)(s.Iterate(nil)))
	require.Equal(t, scan(t)(model.ReverseIterateAll()), scan(t)(s.ReverseIterateAll()))

	for i := 0; i < 10; i++ {
		from := []byte(randomKey())
		require.Equal(t, scan(t)(model.Iterate(from)), scan(t)(s.Iterate(from)), "iterate from %s", from)
		require.Equal(t, scan(t)(model.ReverseIterate(from)), scan(t)(s.ReverseIterate(from)), "reverse from %s", from)

		want, wantOK := get(t, model, string(from))
		got, gotOK := get(t, s, string(from))
		require.Equal(t, wantOK, gotOK, "get %s", from)
		require.Equal(t, want, got, "get %s", from)
	}
}

func TestStore_MatchesModel(t *testing.T) {
	env := newEnv(t, func(c *config.Config) { c.Memtable.FlushThresholdBytes = 512 })
	s := env.open(t)
	model := inmem.New()

	var stores []db.DB = []db.DB{model, s}
	for step := 1; step <= 3000; step++ {
		key := randomKey()
		switch op := fastrand.Intn(10); {
		case op < 6:
			value := fmt.Sprintf("v%d", step)
			for _, d := range stores {
				put(t, d, key, value)
			}
		default:
			for _, d := range stores {
				require.NoError(t, d.Remove([]byte(key)))
			}
		}

		switch {
		case step%1000 == 0:
			require.NoError(t, s.Close())
			s = env.open(t)
			stores[1] = s
		case step%700 == 0:
			require.NoError(t, s.Compact())
		case step%250 == 0:
			compare(t, model, s)
		}
	}

	compare(t, model, s)
	require.NoError(t, s.Compact())
	compare(t, model, s)
	require.NoError(t, s.Close())
}
