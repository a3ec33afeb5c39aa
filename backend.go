package confstack

import (
	"context"
	"iter"
)

// Backend 是事务型 KV 后端，条目按实体类型（kind）划分命名空间。
type Backend interface {
	// Begin 开启一个新事务。
	Begin(ctx context.Context) (Txn, error)
	// Exists 不开事务，直接检查已提交的条目是否存在。
	Exists(ctx context.Context, kind, key string) (bool, error)
	// KindEmpty 该实体类型下没有任何条目时返回 true。
	KindEmpty(ctx context.Context, kind string) (bool, error)
	// Keys 惰性枚举该实体类型下的全部 Key，顺序不定。
	Keys(ctx context.Context, kind string) iter.Seq2[string, error]
	// Ping 检查后端是否可达。
	Ping(ctx context.Context) error
}

// Txn 是单个 begin/commit/rollback 单元。
// Commit 或 Rollback 之后事务不再活跃。
type Txn interface {
	// Get 读取已提交的原始值。
	Get(ctx context.Context, kind, key string) (raw string, found bool, err error)
	// Put 在事务内写入原始值，提交前不可见。
	Put(ctx context.Context, kind, key, raw string) error
	Commit(ctx context.Context) error
	Rollback() error
	Active() bool
}
