package confstack

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newBenchConfiguration(b *testing.B) *Configuration {
	b.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("Failed to start miniredis: %v", err)
	}
	b.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = rdb.Close() })

	cfg, err := New(context.Background(), Options{Redis: rdb, EnvPrefix: "CONFSTACK_BENCH_"})
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	return cfg
}

func BenchmarkGet(b *testing.B) {
	ctx := context.Background()
	cfg := newBenchConfiguration(b)
	if err := cfg.AddProperty(ctx, "bench_key", 100); err != nil {
		b.Fatalf("AddProperty failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		val, err := cfg.GetInt(ctx, "bench_key", 0)
		if err != nil {
			b.Fatalf("Get failed: %v", err)
		}
		if val != 100 {
			b.Fatalf("Value mismatch")
		}
	}
}

func BenchmarkAddProperty(b *testing.B) {
	ctx := context.Background()
	cfg := newBenchConfiguration(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cfg.AddProperty(ctx, "bench_key", i); err != nil {
			b.Fatalf("AddProperty failed: %v", err)
		}
	}
}
