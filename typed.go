package confstack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// 带默认值的类型化读取。Key 缺失（含严格模式下的 ErrKeyNotFound）时返回 def。

func (c *Configuration) GetString(ctx context.Context, key, def string) (string, error) {
	return getAs(ctx, c, key, def, cast.ToStringE)
}

func (c *Configuration) GetInt(ctx context.Context, key string, def int) (int, error) {
	return getAs(ctx, c, key, def, cast.ToIntE)
}

func (c *Configuration) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	return getAs(ctx, c, key, def, cast.ToInt64E)
}

func (c *Configuration) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	return getAs(ctx, c, key, def, cast.ToBoolE)
}

func (c *Configuration) GetFloat64(ctx context.Context, key string, def float64) (float64, error) {
	return getAs(ctx, c, key, def, cast.ToFloat64E)
}

// GetDuration 接受 "1m30s" 形式的字符串，数字按纳秒处理。
func (c *Configuration) GetDuration(ctx context.Context, key string, def time.Duration) (time.Duration, error) {
	return getAs(ctx, c, key, def, cast.ToDurationE)
}

func getAs[T any](ctx context.Context, c *Configuration, key string, def T, conv func(any) (T, error)) (T, error) {
	v, found, err := c.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}

	out, err := conv(v)
	if err != nil {
		return def, fmt.Errorf("%w: key %q: %w", ErrInvalidValue, key, err)
	}
	return out, nil
}
