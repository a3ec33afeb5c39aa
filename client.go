package confstack

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options 配置 Configuration。
type Options struct {
	// Redis 客户端实例（外部传入，DI）。Backend 非空时忽略。
	Redis redis.UniversalClient
	// Backend 自定义事务后端，优先于 Redis。
	Backend Backend

	Prefix         string // Redis Key 前缀，默认 DefaultPrefix
	EntityKind     string // 默认 DefaultEntityKind
	CacheNamespace string // 默认 DefaultCacheNamespace
	// Cache 可与其它 Configuration 共享的缓存，默认新建 MemoryCache。
	Cache Cache

	// ThrowOnMissing 为 true 时 Get 对所有源都缺失的 Key 返回 ErrKeyNotFound。
	ThrowOnMissing bool
	TxnTimeout     time.Duration

	// EnvPrefix 和 Properties 构成最高优先级的 SystemSource。
	EnvPrefix  string
	Properties map[string]string

	// Defaults 追加在持久化源之后的只读源，优先级最低。
	Defaults []Source

	Logger *zap.Logger
}

// Configuration 是组合配置的入口。
// 进程启动时构造一次，并显式传递给所有使用方。
type Configuration struct {
	composite *Composite
	logger    *zap.Logger
}

// New 构造源链：SystemSource -> CacheLayer(Datastore) -> Defaults。
// 后端不可达等任何失败都返回 ErrConfigurationUnavailable，不做重试。
func New(ctx context.Context, opts Options) (*Configuration, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// 1. 选择后端
	backend := opts.Backend
	if backend == nil {
		if opts.Redis == nil {
			return nil, fmt.Errorf("%w: no backend configured", ErrConfigurationUnavailable)
		}
		prefix := opts.Prefix
		if prefix == "" {
			prefix = DefaultPrefix
		}
		backend = NewRedisBackend(opts.Redis, prefix)
	}

	// 2. 启动时确认后端可达
	if err := backend.Ping(ctx); err != nil {
		logger.Error("backend unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
	}

	// 3. 组装源链
	store := NewDatastore(backend, DatastoreOptions{
		EntityKind: opts.EntityKind,
		TxnTimeout: opts.TxnTimeout,
		Logger:     logger,
	})

	ns := opts.CacheNamespace
	if ns == "" {
		ns = DefaultCacheNamespace
	}
	cache := NewCacheLayer(store, opts.Cache, ns, logger)

	sources := make([]Source, 0, 2+len(opts.Defaults))
	sources = append(sources, NewSystemSource(opts.EnvPrefix, opts.Properties), cache)
	for _, s := range opts.Defaults {
		if s != nil {
			sources = append(sources, s)
		}
	}

	c := &Configuration{
		composite: NewComposite(sources, cache, opts.ThrowOnMissing),
		logger:    logger,
	}

	logger.Info("configuration ready",
		zap.String("kind", store.Kind()),
		zap.String("cache_namespace", ns),
		zap.Int("sources", len(sources)),
		zap.Bool("throw_on_missing", opts.ThrowOnMissing),
	)
	return c, nil
}

// Get 获取配置值。
func (c *Configuration) Get(ctx context.Context, key string) (Value, bool, error) {
	return c.composite.Get(ctx, key)
}

func (c *Configuration) ContainsKey(ctx context.Context, key string) (bool, error) {
	return c.composite.ContainsKey(ctx, key)
}

// AddProperty 写入持久化存储，提交后更新缓存。
func (c *Configuration) AddProperty(ctx context.Context, key string, value Value) error {
	if err := c.composite.AddProperty(ctx, key, value); err != nil {
		c.logger.Warn("add property failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (c *Configuration) IsEmpty(ctx context.Context) (bool, error) {
	return c.composite.IsEmpty(ctx)
}

func (c *Configuration) Keys(ctx context.Context) iter.Seq2[string, error] {
	return c.composite.Keys(ctx)
}
