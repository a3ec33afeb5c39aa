package confstack

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Value 是不透明的标量配置值（string / bool / 数字）。
// 从存储读回时统一为 string、bool、int64 或 float64；
// 超出 int64 范围的无符号整数读回为 uint64。
type Value = any

// Source 是一个只读配置源。
// Get 通过 found 标记区分“不存在”与真正的错误。
type Source interface {
	Get(ctx context.Context, key string) (Value, bool, error)
	ContainsKey(ctx context.Context, key string) (bool, error)
	IsEmpty(ctx context.Context) (bool, error)
	// Keys 惰性枚举所有 Key，单次遍历。
	// 枚举失败时最后产出 ("", err)。
	Keys(ctx context.Context) iter.Seq2[string, error]
}

// Writable 是可写配置源。
type Writable interface {
	Source
	AddProperty(ctx context.Context, key string, value Value) error
}

// normalizeKey 去除首尾空白，拒绝空 Key。
func normalizeKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}

// encodeValue 把标量序列化为 JSON 文本。
func encodeValue(v Value) (string, error) {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return string(data), nil
}

// decodeValue 反序列化存储中的 JSON 文本。
// 整数解码为 int64（超出范围的非负整数为 uint64），其余数字为 float64。
func decodeValue(raw string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: decode %q: %w", ErrInvalidValue, raw, err)
	}

	switch x := v.(type) {
	case string, bool:
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q: %w", ErrInvalidValue, raw, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: non-scalar entry %q", ErrInvalidValue, raw)
	}
}

// canonicalValue 返回值经过一次存储往返后的形态。
func canonicalValue(v Value) (Value, error) {
	raw, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}
