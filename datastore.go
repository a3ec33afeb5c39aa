package confstack

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
)

// DatastoreOptions 配置 Datastore。
type DatastoreOptions struct {
	// EntityKind 条目所属实体类型，默认 DefaultEntityKind。
	EntityKind string
	// ThrowOnMissing 为 true 时 Get 对缺失 Key 返回 ErrKeyNotFound。
	ThrowOnMissing bool
	// TxnTimeout 单个事务的超时，0 表示不限制。超时视为 ErrBackendUnavailable。
	TxnTimeout time.Duration
	Logger     *zap.Logger
}

// Datastore 是持久化配置源，唯一可信的数据来源。
// 每次读写都在独立事务中完成，不存在跨 Key 的事务。
type Datastore struct {
	backend        Backend
	kind           string
	throwOnMissing bool
	timeout        time.Duration
	logger         *zap.Logger
}

var _ Writable = (*Datastore)(nil)

// NewDatastore 创建 Datastore。
// backend: 事务型后端（外部传入，DI）。
func NewDatastore(backend Backend, opts DatastoreOptions) *Datastore {
	kind := opts.EntityKind
	if kind == "" {
		kind = DefaultEntityKind
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Datastore{
		backend:        backend,
		kind:           kind,
		throwOnMissing: opts.ThrowOnMissing,
		timeout:        opts.TxnTimeout,
		logger:         logger,
	}
}

// Kind 返回实体类型。
func (d *Datastore) Kind() string {
	return d.kind
}

func (d *Datastore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return ctx, func() {}
}

// ContainsKey 检查已提交的条目，不开事务。
func (d *Datastore) ContainsKey(ctx context.Context, key string) (bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	ok, err := d.backend.Exists(ctx, d.kind, k)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", k, unavailable("exists", err))
	}
	return ok, nil
}

// Get 在事务内读取已提交的值。
func (d *Datastore) Get(ctx context.Context, key string) (Value, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var (
		raw   string
		found bool
	)
	err = d.runInTxn(ctx, "get", k, func(txn Txn) error {
		var err error
		raw, found, err = txn.Get(ctx, d.kind, k)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if !found {
		if d.throwOnMissing {
			return nil, false, fmt.Errorf("%w: %q", ErrKeyNotFound, k)
		}
		return nil, false, nil
	}

	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", k, err)
	}
	return v, true, nil
}

// AddProperty 在单个事务中写入，提交失败时回滚，不会留下部分写入。
func (d *Datastore) AddProperty(ctx context.Context, key string, value Value) error {
	k, err := normalizeKey(key)
	if err != nil {
		return err
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("put %q: %w", k, err)
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	return d.runInTxn(ctx, "put", k, func(txn Txn) error {
		return txn.Put(ctx, d.kind, k, raw)
	})
}

// IsEmpty 该实体类型下没有任何条目时返回 true。
func (d *Datastore) IsEmpty(ctx context.Context) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	empty, err := d.backend.KindEmpty(ctx, d.kind)
	if err != nil {
		return false, fmt.Errorf("is empty: %w", unavailable("kind empty", err))
	}
	return empty, nil
}

// Keys 惰性枚举全部 Key，顺序不定。
func (d *Datastore) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := d.withTimeout(ctx)
		defer cancel()

		for k, err := range d.backend.Keys(ctx, d.kind) {
			if err != nil {
				yield("", fmt.Errorf("list keys: %w", unavailable("keys", err)))
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

// runInTxn begin -> fn -> commit。
// 只要事务仍处于活跃状态（fn 失败或提交失败）就回滚。
func (d *Datastore) runInTxn(ctx context.Context, op, key string, fn func(Txn) error) error {
	txn, err := d.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, key, unavailable("begin", err))
	}
	defer func() {
		if !txn.Active() {
			return
		}
		if err := txn.Rollback(); err != nil {
			d.logger.Warn("rollback failed",
				zap.String("op", op), zap.String("kind", d.kind), zap.String("key", key), zap.Error(err))
		}
	}()

	if err := fn(txn); err != nil {
		return fmt.Errorf("%s %q: %w", op, key, unavailable(op, err))
	}

	if err := txn.Commit(ctx); err != nil {
		recordCommitFailure(ctx, d.kind)
		d.logger.Warn("commit failed",
			zap.String("op", op), zap.String("kind", d.kind), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%s %q: %w", op, key, unavailable("commit", err))
	}
	return nil
}
