package confstack

import (
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeBackend 是内存事务后端，带调用计数与故障注入。
type fakeBackend struct {
	mu   sync.Mutex
	data map[string]map[string]string // kind -> key -> raw

	begins    atomic.Int64
	gets      atomic.Int64
	puts      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	exists    atomic.Int64

	failPing   error
	failBegin  error
	failGet    error
	failCommit error // 提交阶段失败，写入不生效
	getDelay   time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]map[string]string)}
}

func (f *fakeBackend) setFault(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// set 绕过事务直接写入，模拟外部修改。
func (f *fakeBackend) set(kind, key, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[kind] == nil {
		f.data[kind] = make(map[string]string)
	}
	f.data[kind][key] = raw
}

func (f *fakeBackend) raw(kind, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[kind][key]
	return v, ok
}

func (f *fakeBackend) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failPing
}

func (f *fakeBackend) Begin(context.Context) (Txn, error) {
	f.begins.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBegin != nil {
		return nil, f.failBegin
	}
	return &fakeTxn{f: f}, nil
}

func (f *fakeBackend) Exists(_ context.Context, kind, key string) (bool, error) {
	f.exists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return false, f.failGet
	}
	_, ok := f.data[kind][key]
	return ok, nil
}

func (f *fakeBackend) KindEmpty(_ context.Context, kind string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data[kind]) == 0, nil
}

func (f *fakeBackend) Keys(_ context.Context, kind string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		keys := make([]string, 0, len(f.data[kind]))
		for k := range f.data[kind] {
			keys = append(keys, k)
		}
		f.mu.Unlock()
		sort.Strings(keys)

		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

type fakeWrite struct {
	kind, key, raw string
}

type fakeTxn struct {
	f      *fakeBackend
	writes []fakeWrite
	done   bool
}

func (t *fakeTxn) Active() bool { return !t.done }

func (t *fakeTxn) Get(ctx context.Context, kind, key string) (string, bool, error) {
	t.f.gets.Add(1)
	if t.done {
		return "", false, ErrTxnDone
	}

	t.f.mu.Lock()
	delay, failGet := t.f.getDelay, t.f.failGet
	t.f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failGet != nil {
		return "", false, failGet
	}

	for i := len(t.writes) - 1; i >= 0; i-- {
		if w := t.writes[i]; w.kind == kind && w.key == key {
			return w.raw, true, nil
		}
	}
	raw, ok := t.f.raw(kind, key)
	return raw, ok, nil
}

func (t *fakeTxn) Put(_ context.Context, kind, key, raw string) error {
	t.f.puts.Add(1)
	if t.done {
		return ErrTxnDone
	}
	t.writes = append(t.writes, fakeWrite{kind: kind, key: key, raw: raw})
	return nil
}

func (t *fakeTxn) Commit(context.Context) error {
	t.f.commits.Add(1)
	if t.done {
		return ErrTxnDone
	}

	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.f.failCommit != nil {
		return t.f.failCommit
	}
	for _, w := range t.writes {
		if t.f.data[w.kind] == nil {
			t.f.data[w.kind] = make(map[string]string)
		}
		t.f.data[w.kind][w.key] = w.raw
	}
	t.done = true
	return nil
}

func (t *fakeTxn) Rollback() error {
	t.f.rollbacks.Add(1)
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.writes = nil
	return nil
}

// collectKeys 遍历 Keys 序列并返回排序后的结果。
func collectKeys(t *testing.T, seq iter.Seq2[string, error]) []string {
	t.Helper()
	var keys []string
	for k, err := range seq {
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
