package l2store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/otero-cache/cachecore/pkg/utils"
)

// fakeDriver is an in-memory Driver double used by the l2store tests. It implements just enough Redis semantics (TTL expiry, SETNX,
// SCAN paging, sets, a tiny Lua interpreter for the one release script we
// ship) to exercise the façade without a real Redis instance.
type fakeDriver struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
	sets    map[string]map[string]struct{}
	scripts map[string]string // sha -> source
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		values:  make(map[string][]byte),
		expires: make(map[string]time.Time),
		sets:    make(map[string]map[string]struct{}),
		scripts: make(map[string]string),
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
		return nil, ErrKeyNotFound
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
	if f.expired(key) {
		delete(f.values, key)
		delete(f.expires, key)
	}
	if _, exists := f.values[key]; exists {
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
			delete(f.values, k)
			delete(f.expires, k)
			n++
		}
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
			continue
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

	var all []string
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.values {
		if pattern == "*" || strings.HasPrefix(k, prefix) {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	start := int(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + int(count)
	if end > len(all) {
		end = len(all)
	}
	next := uint64(end)
	if end >= len(all) {
		next = 0
	}
	return next, all[start:end], nil
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
	set := f.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeDriver) SCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[key])), nil
}

// Eval supports exactly the compare-and-delete release script stampede
// ships (DEL key if GET key == ARGV[1]); that is the only script this
// module ever sends to Eval/EvalSha.
func (f *fakeDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return f.runReleaseScript(keys, args)
}

func (f *fakeDriver) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	f.mu.Lock()
	_, ok := f.scripts[sha]
	f.mu.Unlock()
	if !ok {
		return nil, ErrNoScript
	}
	return f.runReleaseScript(keys, args)
}

func (f *fakeDriver) runReleaseScript(keys []string, args []interface{}) (interface{}, error) {
	if len(keys) != 1 || len(args) != 1 {
		return int64(0), nil
	}
	token, _ := args[0].(string)
	f.mu.Lock()
	defer f.mu.Unlock()
	if string(f.values[keys[0]]) == token {
		delete(f.values, keys[0])
		delete(f.expires, keys[0])
		return int64(1), nil
	}
	return int64(0), nil
}

func (f *fakeDriver) ScriptLoad(ctx context.Context, script string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := "sha-" + script[:8]
	f.scripts[sha] = script
	return sha, nil
}

func (f *fakeDriver) Ping(ctx context.Context) error { return nil }
func (f *fakeDriver) Close() error                   { return nil }

var _ Driver = (*fakeDriver)(nil)

func TestL2StoreGetSetRoundTrip(t *testing.T) {
	store := New(newFakeDriver(), utils.NewJSONSerializer(), DefaultConfig())
	ctx := context.Background()

	type payload struct{ Name string }
	if err := store.Set(ctx, "user:1", payload{Name: "ada"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	if err := store.Get(ctx, "user:1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "ada" {
		t.Errorf("got %q, want %q", got.Name, "ada")
	}
}

func TestL2StoreGetMissing(t *testing.T) {
	store := New(newFakeDriver(), utils.NewJSONSerializer(), DefaultConfig())
	var dest struct{}
	if err := store.Get(context.Background(), "missing", &dest); err != ErrKeyNotFound {
		t.Errorf("got %v, want ErrKeyNotFound", err)
	}
}

func TestL2StoreEnvelopeRoundTrip(t *testing.T) {
	store := New(newFakeDriver(), utils.NewJSONSerializer(), DefaultConfig())
	ctx := context.Background()

	now := time.Now()
	type payload struct{ Name string }
	if err := store.SetEnvelope(ctx, "user:1", payload{Name: "ada"}, now, now.Add(time.Minute), now.Add(time.Hour)); err != nil {
		t.Fatalf("SetEnvelope: %v", err)
	}

	var got payload
	env, err := store.GetEnvelope(ctx, "user:1", &got)
	if err != nil {
		t.Fatalf("GetEnvelope: %v", err)
	}
	if got.Name != "ada" {
		t.Errorf("got %q, want %q", got.Name, "ada")
	}
	if env.StaleAt.IsZero() {
		t.Error("expected non-zero StaleAt")
	}
}

func TestL2StoreScanKeysPaginates(t *testing.T) {
	driver := newFakeDriver()
	store := New(driver, utils.NewJSONSerializer(), Config{ScanCount: 2})
	ctx := context.Background()

	for _, k := range []string{"users:1", "users:2", "users:3", "orders:1"} {
		_ = store.Set(ctx, k, "v", time.Minute)
	}

	keys, err := store.ScanKeys(ctx, "users:*")
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("got %d keys, want 3 (%v)", len(keys), keys)
	}
}

func TestL2StoreSetManyGetMany(t *testing.T) {
	store := New(newFakeDriver(), utils.NewJSONSerializer(), DefaultConfig())
	ctx := context.Background()

	if err := store.SetMany(ctx, map[string]interface{}{"a": "1", "b": "2"}, time.Minute); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	out, err := store.GetMany(ctx, []string{"a", "b", "missing"}, func() interface{} { return new(string) })
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %d results, want 2", len(out))
	}
}
