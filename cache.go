package confstack

import (
	"context"
	"iter"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// Cache 是进程内 KV 缓存，必须支持并发读写。
// 多个 CacheLayer 可以通过不同命名空间共享同一个 Cache。
type Cache interface {
	Get(key string) (Value, bool)
	Set(key string, value Value)
	// GetOrSet 仅在 key 不存在时写入 value，返回缓存中最终的值。
	// loaded 为 true 表示已存在，value 未写入。
	GetOrSet(key string, value Value) (actual Value, loaded bool)
}

// MemoryCache 基于 ttlcache 的进程内缓存。
// 条目不过期、不淘汰，直到进程结束或被覆盖。
type MemoryCache struct {
	items *ttlcache.Cache[string, Value]
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache 创建空的 MemoryCache。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: ttlcache.New(
			ttlcache.WithTTL[string, Value](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[string, Value](),
		),
	}
}

// Get 读取缓存，不刷新条目。
func (c *MemoryCache) Get(key string) (Value, bool) {
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Set 无条件覆盖。
func (c *MemoryCache) Set(key string, value Value) {
	c.items.Set(key, value, ttlcache.NoTTL)
}

// GetOrSet 原子地读取或写入。
func (c *MemoryCache) GetOrSet(key string, value Value) (Value, bool) {
	item, loaded := c.items.GetOrSet(key, value)
	return item.Value(), loaded
}

// Len 返回缓存条目数。
func (c *MemoryCache) Len() int {
	return c.items.Len()
}

// CacheLayer 在 Datastore 前提供读穿透 / 写穿透缓存。
//
// 缓存只是尽力而为，从不作为权威：未命中总是回落到存储。
// 没有失效与 TTL，绕过本层对存储的外部修改会表现为读到旧值。
type CacheLayer struct {
	store     Writable
	cache     Cache
	namespace string
	logger    *zap.Logger
}

var _ Writable = (*CacheLayer)(nil)

// NewCacheLayer 创建缓存层。
// namespace 作为缓存 Key 前缀，避免共享 Cache 时冲突；非空时保证以 ':' 结尾。
// 共享同一个 Cache 的各层，namespace 互相不能是前缀。
func NewCacheLayer(store Writable, cache Cache, namespace string, logger *zap.Logger) *CacheLayer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheLayer{
		store:     store,
		cache:     cache,
		namespace: normalizePrefix(namespace),
		logger:    logger,
	}
}

func (l *CacheLayer) cacheKey(key string) string {
	return l.namespace + key
}

// Get 命中直接返回，不访问存储；未命中读存储并回填。
// 回填只在缓存中仍无该 Key 时生效：读存储期间同一层提交的写入
// 已写入缓存，不会被较旧的读取结果覆盖。
func (l *CacheLayer) Get(ctx context.Context, key string) (Value, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}

	if v, ok := l.cache.Get(l.cacheKey(k)); ok {
		recordCacheHit(ctx, l.namespace)
		return v, true, nil
	}
	recordCacheMiss(ctx, l.namespace)

	v, found, err := l.store.Get(ctx, k)
	if err != nil || !found {
		return nil, found, err
	}

	actual, loaded := l.cache.GetOrSet(l.cacheKey(k), v)
	if loaded {
		return actual, true, nil
	}
	l.logger.Debug("cache populated", zap.String("namespace", l.namespace), zap.String("key", k))
	return v, true, nil
}

// AddProperty 先写存储，提交成功后才更新缓存。
// 写失败时缓存保持原状。
func (l *CacheLayer) AddProperty(ctx context.Context, key string, value Value) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	v, err := canonicalValue(value)
	if err != nil {
		return err
	}

	if err := l.store.AddProperty(ctx, k, value); err != nil {
		return err
	}

	l.cache.Set(l.cacheKey(k), v)
	return nil
}

// ContainsKey 命中即为 true，否则询问存储。
func (l *CacheLayer) ContainsKey(ctx context.Context, key string) (bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	if _, ok := l.cache.Get(l.cacheKey(k)); ok {
		return true, nil
	}
	return l.store.ContainsKey(ctx, k)
}

// IsEmpty 直接询问存储，缓存不作为依据。
func (l *CacheLayer) IsEmpty(ctx context.Context) (bool, error) {
	return l.store.IsEmpty(ctx)
}

// Keys 枚举存储中的 Key。
func (l *CacheLayer) Keys(ctx context.Context) iter.Seq2[string, error] {
	return l.store.Keys(ctx)
}
