package cachemanager

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/otero-cache/cachecore/l2store"
)

// fakeDriver is a minimal in-memory l2store.Driver double for cache-manager
// tests. It supports plain GET/SET/DEL/TTL/MGet/PipelineSet, glob-style Scan
// ("prefix*") and set operations (SAdd/SRem/SMembers/SCard), since Service
// exercises TagIndex through a real driver rather than a mock. Script/ping
// methods are stubbed: Service's stampede lock does reach the script methods
// through this driver, but no test here depends on lock release (stampede
// has its own dedicated test double for lock semantics).
type fakeDriver struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
	sets    map[string]map[string]struct{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		values:  make(map[string][]byte),
		expires: make(map[string]time.Time),
		sets:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeDriver) expired(key string) bool {
	exp, ok := f.expires[key]
	return ok && time.Now().After(exp)
}

func (f *fakeDriver) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	v, ok := f.values[key]
	if !ok {
		return nil, l2store.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	if ttl > 0 {
		f.expires[key] = time.Now().Add(ttl)
	} else {
		delete(f.expires, key)
	}
	return nil
}

func (f *fakeDriver) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.values[key]; exists && !f.expired(key) {
		return false, nil
	}
	f.values[key] = value
	if ttl > 0 {
		f.expires[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (f *fakeDriver) Del(ctx context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
		delete(f.values, k)
		delete(f.expires, k)
		delete(f.sets, k)
	}
	return n, nil
}

func (f *fakeDriver) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		return false, nil
	}
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeDriver) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = time.Now().Add(ttl)
	return nil
}

func (f *fakeDriver) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok || f.expired(key) {
		return 0, l2store.ErrKeyNotFound
	}
	exp, ok := f.expires[key]
	if !ok {
		return -1, nil
	}
	return time.Until(exp), nil
}

func (f *fakeDriver) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if f.expired(k) {
			delete(f.values, k)
			delete(f.expires, k)
		}
		out[i] = f.values[k]
	}
	return out, nil
}

func (f *fakeDriver) PipelineSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range items {
		f.values[k] = v
		if ttl > 0 {
			f.expires[k] = time.Now().Add(ttl)
		}
	}
	return nil
}

func (f *fakeDriver) Scan(ctx context.Context, cursor uint64, pattern string, count int64) (uint64, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.values {
		if f.expired(k) {
			continue
		}
		if pattern == "*" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return 0, keys, nil
}

func (f *fakeDriver) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (f *fakeDriver) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (f *fakeDriver) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeDriver) SCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[key])), nil
}

func (f *fakeDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return nil, nil
}
func (f *fakeDriver) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	return nil, l2store.ErrNoScript
}
func (f *fakeDriver) ScriptLoad(ctx context.Context, script string) (string, error) { return "", nil }
func (f *fakeDriver) Ping(ctx context.Context) error                               { return nil }
func (f *fakeDriver) Close() error                                                  { return nil }

var _ l2store.Driver = (*fakeDriver)(nil)
