package store

import (
	"fmt"
	"testing"

	"github.com/zhangyunhao116/fastrand"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/config"
)

func newBenchStore(b *testing.B) (*Store, func()) {
	cfg := config.Default()
	cfg.Persistence.RootPath = b.TempDir()
	cfg.Memtable.FlushThresholdBytes = 1 << 20

	s, err := Open(cfg, WithClock(clock.NewAtomic(0)))
	if err != nil {
		b.Fatalf("failed to open store: %v", err)
	}

	cleanup := func() {
		if err := s.Close(); err != nil {
			b.Fatalf("failed to close store: %v", err)
		}
	}

	return s, cleanup
}

func BenchmarkStoreWrite(b *testing.B) {
	s, cleanup := newBenchStore(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := s.Upsert([]byte(fmt.Sprintf("key-%d", i)), []byte("value-"+fmt.Sprint(i))); err != nil {
			b.Fatalf("Upsert failed: %v", err)
		}
	}
}

func BenchmarkStoreRead(b *testing.B) {
	s, cleanup := newBenchStore(b)
	defer cleanup()

	const preloaded = 10_000
	for i := 0; i < preloaded; i++ {
		if err := s.Upsert([]byte(fmt.Sprintf("key-%d", i)), []byte("value-"+fmt.Sprint(i))); err != nil {
			b.Fatalf("Upsert failed: %v", err)
		}
		if i%2_500 == 0 {
			if err := s.Flush(); err != nil {
				b.Fatalf("Flush failed: %v", err)
			}
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", fastrand.Intn(preloaded))
		if _, err := s.Get([]byte(key)); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

func BenchmarkStoreScan(b *testing.B) {
	s, cleanup := newBenchStore(b)
	defer cleanup()

	for i := 0; i < 10_000; i++ {
		if err := s.Upsert([]byte(fmt.Sprintf("key-%05d", i)), []byte("value")); err != nil {
			b.Fatalf("Upsert failed: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		b.Fatalf("Flush failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		it, err := s.Iterate([]byte(fmt.Sprintf("key-%05d", fastrand.Intn(9_900))))
		if err != nil {
			b.Fatalf("Iterate failed: %v", err)
		}
		for n := 0; n < 100 && it.Valid(); n++ {
			it.Next()
		}
		if err := it.Close(); err != nil {
			b.Fatalf("Close failed: %v", err)
		}
	}
}
