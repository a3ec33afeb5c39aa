package confstack

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Composite 按固定顺序组合多个配置源。
// 读取时列表顺序即优先级，第一个命中的源生效，不做部分合并；
// 写入总是转发给指定的可写源。
// 构造后源列表不再变化，并发读取无需加锁。
type Composite struct {
	sources        []Source
	writable       Writable
	throwOnMissing bool
}

var _ Writable = (*Composite)(nil)

// NewComposite 创建组合配置。
// writable 可以为 nil，此时 AddProperty 返回 ErrReadOnly。
func NewComposite(sources []Source, writable Writable, throwOnMissing bool) *Composite {
	return &Composite{
		sources:        append([]Source(nil), sources...),
		writable:       writable,
		throwOnMissing: throwOnMissing,
	}
}

// Get 返回第一个包含 key 的源的值。
// 源返回的 ErrKeyNotFound 视为未命中，其它错误直接返回。
func (c *Composite) Get(ctx context.Context, key string) (Value, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}

	for _, s := range c.sources {
		v, found, err := s.Get(ctx, k)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if found {
			return v, true, nil
		}
	}

	if c.throwOnMissing {
		return nil, false, fmt.Errorf("%w: %q", ErrKeyNotFound, k)
	}
	return nil, false, nil
}

func (c *Composite) ContainsKey(ctx context.Context, key string) (bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	for _, s := range c.sources {
		ok, err := s.ContainsKey(ctx, k)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// IsEmpty 所有源都为空时返回 true。
func (c *Composite) IsEmpty(ctx context.Context) (bool, error) {
	for _, s := range c.sources {
		empty, err := s.IsEmpty(ctx)
		if err != nil {
			return false, err
		}
		if !empty {
			return false, nil
		}
	}
	return true, nil
}

func (c *Composite) AddProperty(ctx context.Context, key string, value Value) error {
	if c.writable == nil {
		return ErrReadOnly
	}
	return c.writable.AddProperty(ctx, key, value)
}

// Keys 惰性产出所有源 Key 的并集（去重），按源顺序遍历。
func (c *Composite) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		for _, s := range c.sources {
			for k, err := range s.Keys(ctx) {
				if err != nil {
					yield("", err)
					return
				}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				if !yield(k, nil) {
					return
				}
			}
		}
	}
}
