package confstack

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/redis/go-redis/v9"
)

// RedisBackend 用 Redis Hash 实现 Backend。
// 每个实体类型对应一个 Hash：KeyKind(prefix, kind)。
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend 创建 Redis 后端。
// client: Redis 客户端实例（外部传入，DI）。
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{
		rdb:    client,
		prefix: normalizePrefix(prefix),
	}
}

func (b *RedisBackend) hashKey(kind string) string {
	return KeyKind(b.prefix, kind)
}

// Ping 检查 Redis 是否可达。
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Exists 对应 HEXISTS。
func (b *RedisBackend) Exists(ctx context.Context, kind, key string) (bool, error) {
	ok, err := b.rdb.HExists(ctx, b.hashKey(kind), key).Result()
	if err != nil {
		return false, unavailable("hexists", err)
	}
	return ok, nil
}

// KindEmpty Redis 会删除空 Hash，因此只需检查 Hash Key 是否存在。
func (b *RedisBackend) KindEmpty(ctx context.Context, kind string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.hashKey(kind)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n == 0, nil
}

// Keys 用 HSCAN 分批枚举字段名。
func (b *RedisBackend) Keys(ctx context.Context, kind string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := b.rdb.HScan(ctx, b.hashKey(kind), 0, "", scanCount).Iterator()
		// HSCAN 结果为 field, value 交替排列
		for i := 0; it.Next(ctx); i++ {
			if i%2 == 1 {
				continue
			}
			if !yield(it.Val(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", unavailable("hscan", err))
		}
	}
}

// Begin 开启事务，不访问 Redis。
func (b *RedisBackend) Begin(_ context.Context) (Txn, error) {
	return &redisTxn{
		b:     b,
		reads: make(map[fieldRef]observed),
	}, nil
}

type fieldRef struct {
	hash  string
	field string
}

type observed struct {
	raw   string
	found bool
}

type pendingWrite struct {
	ref fieldRef
	raw string
}

// redisTxn 缓冲写操作并记录读到的值，提交时做乐观并发检查。
// 一个事务只应由一个协程使用。
type redisTxn struct {
	b      *RedisBackend
	reads  map[fieldRef]observed
	writes []pendingWrite
	done   bool
}

func (t *redisTxn) Active() bool {
	return !t.done
}

func (t *redisTxn) Get(ctx context.Context, kind, key string) (string, bool, error) {
	if t.done {
		return "", false, ErrTxnDone
	}
	ref := fieldRef{hash: t.b.hashKey(kind), field: key}

	// 本事务的写入对自身可见
	for i := len(t.writes) - 1; i >= 0; i-- {
		if t.writes[i].ref == ref {
			return t.writes[i].raw, true, nil
		}
	}

	raw, err := t.b.rdb.HGet(ctx, ref.hash, ref.field).Result()
	found := true
	if errors.Is(err, redis.Nil) {
		raw, found, err = "", false, nil
	}
	if err != nil {
		return "", false, unavailable("hget", err)
	}

	// 只记录第一次观察到的值
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = observed{raw: raw, found: found}
	}
	return raw, found, nil
}

func (t *redisTxn) Put(_ context.Context, kind, key, raw string) error {
	if t.done {
		return ErrTxnDone
	}
	t.writes = append(t.writes, pendingWrite{
		ref: fieldRef{hash: t.b.hashKey(kind), field: key},
		raw: raw,
	})
	return nil
}

// Commit 提交事务。
// 没有读记录时直接 MULTI/EXEC；否则 WATCH 相关 Hash，校验读到的值未变后再 EXEC。
// 提交失败时事务保持活跃，调用方需要 Rollback。
func (t *redisTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnDone
	}

	if len(t.writes) == 0 {
		t.done = true
		return nil
	}

	if len(t.reads) == 0 {
		if _, err := t.b.rdb.TxPipelined(ctx, t.apply(ctx)); err != nil {
			return unavailable("exec", err)
		}
		t.done = true
		return nil
	}

	watched := make([]string, 0, len(t.reads))
	seen := make(map[string]struct{}, len(t.reads))
	for ref := range t.reads {
		if _, ok := seen[ref.hash]; ok {
			continue
		}
		seen[ref.hash] = struct{}{}
		watched = append(watched, ref.hash)
	}

	err := t.b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		// 1. 校验读集合
		for ref, obs := range t.reads {
			raw, err := tx.HGet(ctx, ref.hash, ref.field).Result()
			found := true
			if errors.Is(err, redis.Nil) {
				raw, found, err = "", false, nil
			}
			if err != nil {
				return err
			}
			if found != obs.found || raw != obs.raw {
				return fmt.Errorf("%w: %s changed since read", ErrTransactionConflict, ref.field)
			}
		}

		// 2. 原子写入
		_, err := tx.TxPipelined(ctx, t.apply(ctx))
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("commit: %w", ErrTransactionConflict)
	}
	if err != nil {
		return unavailable("commit", err)
	}
	t.done = true
	return nil
}

func (t *redisTxn) apply(ctx context.Context) func(redis.Pipeliner) error {
	return func(pipe redis.Pipeliner) error {
		for _, w := range t.writes {
			pipe.HSet(ctx, w.ref.hash, w.ref.field, w.raw)
		}
		return nil
	}
}

func (t *redisTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.writes = nil
	return nil
}
