package confstack

import (
	"context"
	"iter"
	"os"
	"strings"
)

// SystemSource 是只读配置源，数据来自进程环境变量与运行时属性。
// 构造时生成快照，之后不再变化，读操作无需加锁。
type SystemSource struct {
	entrySet
}

var _ Source = (*SystemSource)(nil)

// NewSystemSource 读取 os.Environ() 构造 SystemSource。
//
// envPrefix 为空时，所有环境变量按原名暴露；
// 否则只保留以 envPrefix 开头的变量，去掉前缀、转小写、'_' 替换为 '.'
// （CONFSTACK_DB_HOST -> db.host）。
// properties 为运行时属性，优先于环境变量。
func NewSystemSource(envPrefix string, properties map[string]string) *SystemSource {
	return newSystemSource(os.Environ(), envPrefix, properties)
}

func newSystemSource(environ []string, envPrefix string, properties map[string]string) *SystemSource {
	entries := make(map[string]Value, len(environ)+len(properties))

	for _, kv := range environ {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key, ok := envKey(name, envPrefix)
		if !ok {
			continue
		}
		entries[key] = val
	}

	for k, v := range properties {
		key, err := normalizeKey(k)
		if err != nil {
			continue
		}
		entries[key] = v
	}

	return &SystemSource{entrySet: entries}
}

func envKey(name, prefix string) (string, bool) {
	if prefix == "" {
		k := strings.TrimSpace(name)
		return k, k != ""
	}
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(strings.ToLower(rest), "_", "."), true
}

// entrySet 是构造后不可变的内存条目集合。
type entrySet map[string]Value

func (e entrySet) Get(_ context.Context, key string) (Value, bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	v, ok := e[k]
	return v, ok, nil
}

func (e entrySet) ContainsKey(_ context.Context, key string) (bool, error) {
	k, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	_, ok := e[k]
	return ok, nil
}

func (e entrySet) IsEmpty(context.Context) (bool, error) {
	return len(e) == 0, nil
}

func (e entrySet) Keys(context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for k := range e {
			if !yield(k, nil) {
				return
			}
		}
	}
}
