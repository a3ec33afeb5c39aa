package confstack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestNew(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	cfg, err := New(ctx, Options{
		Redis:      rdb,
		Prefix:     "testnew:",
		Properties: map[string]string{"app.name": "confstack"},
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	v, found, err := cfg.Get(ctx, "app.name")
	if err != nil || !found || v != "confstack" {
		t.Errorf("Expected runtime property, got %v %v %v", v, found, err)
	}

	empty, err := cfg.IsEmpty(ctx)
	if err != nil || empty {
		t.Errorf("Expected non-empty configuration, got %v (err: %v)", empty, err)
	}
}

func TestNew_Unavailable(t *testing.T) {
	ctx := context.Background()

	// 1. 未配置后端
	if _, err := New(ctx, Options{}); !errors.Is(err, ErrConfigurationUnavailable) {
		t.Errorf("Expected ErrConfigurationUnavailable, got %v", err)
	}

	// 2. Redis 不可达
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()

	_, err = New(ctx, Options{Redis: rdb})
	if !errors.Is(err, ErrConfigurationUnavailable) {
		t.Fatalf("Expected ErrConfigurationUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected cause ErrBackendUnavailable, got %v", err)
	}

	// 3. 自定义后端 Ping 失败
	b := newFakeBackend()
	b.failPing = errors.New("no route to host")
	if _, err := New(ctx, Options{Backend: b}); !errors.Is(err, ErrConfigurationUnavailable) {
		t.Errorf("Expected ErrConfigurationUnavailable, got %v", err)
	}
}

func TestConfiguration_Precedence(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	defaults := entrySet{"timeout": "10s", "region": "default-region", "mode": "default"}
	cfg, err := New(ctx, Options{
		Redis:      rdb,
		Prefix:     "testprec:",
		EnvPrefix:  "CONFSTACK_TESTPREC_",
		Properties: map[string]string{"mode": "override"},
		Defaults:   []Source{defaults},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := cfg.AddProperty(ctx, "mode", "stored"); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}
	if err := cfg.AddProperty(ctx, "region", "eu-west-1"); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}

	// 写入总是落到 Redis
	if got := mr.HGet("testprec:Configuration", "mode"); got != `"stored"` {
		t.Errorf("Expected stored mode in redis, got %q", got)
	}

	tests := []struct {
		key  string
		want Value
	}{
		{"mode", "override"},    // 运行时属性 > 存储
		{"region", "eu-west-1"}, // 存储 > 默认值
		{"timeout", "10s"},      // 只有默认值
	}
	for _, tt := range tests {
		v, found, err := cfg.Get(ctx, tt.key)
		if err != nil || !found {
			t.Fatalf("Get %s failed: found=%v err=%v", tt.key, found, err)
		}
		if v != tt.want {
			t.Errorf("Get %s: expected %v, got %v", tt.key, tt.want, v)
		}
	}

	ok, err := cfg.ContainsKey(ctx, "timeout")
	if err != nil || !ok {
		t.Errorf("Expected timeout to be present, got %v (err: %v)", ok, err)
	}

	keys := make(map[string]bool)
	for k, err := range cfg.Keys(ctx) {
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if keys[k] {
			t.Errorf("Duplicate key %s", k)
		}
		keys[k] = true
	}
	for _, k := range []string{"mode", "region", "timeout"} {
		if !keys[k] {
			t.Errorf("Expected key %s in enumeration", k)
		}
	}
}

func TestConfiguration_ThrowOnMissing(t *testing.T) {
	ctx := context.Background()

	strict, err := New(ctx, Options{Backend: newFakeBackend(), ThrowOnMissing: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, _, err := strict.Get(ctx, "confstack.test.missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}

	lenient, _ := New(ctx, Options{Backend: newFakeBackend()})
	v, found, err := lenient.Get(ctx, "confstack.test.missing")
	if err != nil || found || v != nil {
		t.Errorf("Expected absent value, got %v %v %v", v, found, err)
	}
}

func TestConfiguration_BackendErrorsReachCaller(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend()
	cfg, err := New(ctx, Options{Backend: b})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := cfg.AddProperty(ctx, "cached", "v"); err != nil {
		t.Fatalf("AddProperty failed: %v", err)
	}

	b.setFault(func(f *fakeBackend) {
		f.failGet = errors.New("socket closed")
		f.failCommit = ErrTransactionConflict
	})

	if v, _, err := cfg.Get(ctx, "cached"); err != nil || v != "v" {
		t.Errorf("Cache hit must not fail, got %v (err: %v)", v, err)
	}
	if _, _, err := cfg.Get(ctx, "confstack.test.uncached"); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}
	if err := cfg.AddProperty(ctx, "cached", "v2"); !errors.Is(err, ErrTransactionConflict) {
		t.Errorf("Expected ErrTransactionConflict, got %v", err)
	}
	if v, _, _ := cfg.Get(ctx, "cached"); v != "v" {
		t.Errorf("Failed write must not reach the cache, got %v", v)
	}
}

func TestConfiguration_TypedGetters(t *testing.T) {
	ctx := context.Background()
	cfg, err := New(ctx, Options{
		Backend:    newFakeBackend(),
		EnvPrefix:  "CONFSTACK_TESTTYPED_",
		Properties: map[string]string{"flag": "true", "count": "12", "wait": "1m30s"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = cfg.AddProperty(ctx, "ratio", 0.75)
	_ = cfg.AddProperty(ctx, "limit", 100)
	_ = cfg.AddProperty(ctx, "name", "powerup")

	if v, err := cfg.GetBool(ctx, "flag", false); err != nil || !v {
		t.Errorf("GetBool: %v %v", v, err)
	}
	if v, err := cfg.GetInt(ctx, "count", 0); err != nil || v != 12 {
		t.Errorf("GetInt: %v %v", v, err)
	}
	if v, err := cfg.GetInt64(ctx, "limit", 0); err != nil || v != 100 {
		t.Errorf("GetInt64: %v %v", v, err)
	}
	if v, err := cfg.GetFloat64(ctx, "ratio", 0); err != nil || v != 0.75 {
		t.Errorf("GetFloat64: %v %v", v, err)
	}
	if v, err := cfg.GetString(ctx, "name", ""); err != nil || v != "powerup" {
		t.Errorf("GetString: %v %v", v, err)
	}
	if v, err := cfg.GetDuration(ctx, "wait", 0); err != nil || v != 90*time.Second {
		t.Errorf("GetDuration: %v %v", v, err)
	}

	// 缺失时返回默认值
	if v, err := cfg.GetString(ctx, "confstack.test.absent", "fallback"); err != nil || v != "fallback" {
		t.Errorf("GetString default: %v %v", v, err)
	}

	// 类型转换失败
	if _, err := cfg.GetInt(ctx, "name", 0); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestConfiguration_TypedGettersStrictDefault(t *testing.T) {
	ctx := context.Background()
	cfg, err := New(ctx, Options{Backend: newFakeBackend(), ThrowOnMissing: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if v, err := cfg.GetInt(ctx, "confstack.test.absent", 7); err != nil || v != 7 {
		t.Errorf("Expected default 7, got %v (err: %v)", v, err)
	}
}
