package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otero-cache/cachecore/invalidation"
	"github.com/otero-cache/cachecore/keycodec"
	"github.com/otero-cache/cachecore/stampede"
)

func newTestService(t *testing.T, cfg Config) (*Service, *fakeDriver) {
	t.Helper()
	driver := newFakeDriver()
	codec := keycodec.New(keycodec.DefaultConfig(), nil)
	tagIndex := invalidation.NewTagIndex(driver)
	svc := NewService(cfg, driver, codec, tagIndex)
	t.Cleanup(svc.Shutdown)
	return svc, driver
}

func l1L2Config() Config {
	cfg := DefaultConfig()
	cfg.L2Enabled = true
	return cfg
}

func TestServiceSetAndGet(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	if err := svc.Set(ctx, "user:1", "alice", SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok := svc.Get(ctx, "user:1")
	if !ok {
		t.Fatal("expected hit")
	}
	if v != "alice" {
		t.Errorf("got %v, want alice", v)
	}
}

func TestServiceGetMissReturnsFalseNotError(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	v, ok := svc.Get(ctx, "does:not:exist")
	if ok {
		t.Error("expected miss")
	}
	if v != nil {
		t.Errorf("expected nil value on miss, got %v", v)
	}
}

func TestServiceSetRejectsExcessiveTTL(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	err := svc.Set(ctx, "k", "v", SetOptions{TTL: 365 * 24 * time.Hour})
	if !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("got %v, want ErrInvalidTTL", err)
	}
}

func TestServiceSetRejectsTooManyTags(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	tags := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		tags = append(tags, fmt.Sprintf("tag:%d", i))
	}

	err := svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute, Tags: tags})
	if !errors.Is(err, ErrTooManyTags) {
		t.Errorf("got %v, want ErrTooManyTags", err)
	}
}

func TestServiceStrategyL1Only(t *testing.T) {
	svc, driver := newTestService(t, l1L2Config())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute, Strategy: StrategyL1Only}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := svc.Get(ctx, "k"); !ok {
		t.Error("expected L1 hit")
	}
	if len(driver.values) != 0 {
		t.Error("expected no L2 writes for l1-only strategy")
	}
}

func TestServiceStrategyL2Only(t *testing.T) {
	svc, driver := newTestService(t, l1L2Config())
	ctx := context.Background()

	if err := svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute, Strategy: StrategyL2Only}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok := svc.l1.Get("k"); ok {
		t.Error("expected no L1 entry for l2-only strategy")
	}
	if len(driver.values) == 0 {
		t.Error("expected L2 write for l2-only strategy")
	}
}

func TestServiceDelete(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute})
	if !svc.Delete(ctx, "k") {
		t.Error("expected delete to report removal")
	}
	if _, ok := svc.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
	if svc.Delete(ctx, "k") {
		t.Error("expected second delete to report no removal")
	}
}

func TestServiceHas(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	if svc.Has(ctx, "k") {
		t.Error("expected Has false before Set")
	}
	svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute})
	if !svc.Has(ctx, "k") {
		t.Error("expected Has true after Set")
	}
}

func TestServiceTTL(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	if ttl := svc.TTL(ctx, "missing"); ttl != TTLMissing {
		t.Errorf("got %v, want TTLMissing", ttl)
	}

	svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute})
	ttl := svc.TTL(ctx, "k")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("got %v, want (0, 1m]", ttl)
	}
}

func TestServiceGetManySetMany(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	items := map[string]interface{}{"a": 1.0, "b": 2.0, "c": 3.0}
	if err := svc.SetMany(ctx, items, SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("SetMany failed: %v", err)
	}

	got := svc.GetMany(ctx, []string{"a", "b", "c", "missing"})
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for k, want := range items {
		if got[k] != want {
			t.Errorf("key %s: got %v, want %v", k, got[k], want)
		}
	}
}

func TestServiceDeleteMany(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.SetMany(ctx, map[string]interface{}{"a": 1.0, "b": 2.0}, SetOptions{TTL: time.Minute})
	count := svc.DeleteMany(ctx, []string{"a", "b", "missing"})
	if count != 2 {
		t.Errorf("got %d deleted, want 2", count)
	}
}

func TestGetOrSetMissInvokesLoaderAndCaches(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "loaded", nil
	}

	v, err := GetOrSet(ctx, svc, "k", loader, GetOrSetOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if v != "loaded" {
		t.Errorf("got %q, want loaded", v)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 loader call, got %d", calls.Load())
	}

	v2, err := GetOrSet(ctx, svc, "k", loader, GetOrSetOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("GetOrSet (cached) failed: %v", err)
	}
	if v2 != "loaded" {
		t.Errorf("got %q, want loaded", v2)
	}
	if calls.Load() != 1 {
		t.Errorf("expected loader not called again on cache hit, got %d calls", calls.Load())
	}
}

func TestGetOrSetConditionBypassesCache(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	}
	opts := GetOrSetOptions{TTL: time.Minute, Condition: func() bool { return false }}

	for i := 0; i < 3; i++ {
		if _, err := GetOrSet(ctx, svc, "k", loader, opts); err != nil {
			t.Fatalf("GetOrSet failed: %v", err)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("expected loader called every time condition is false, got %d calls", calls.Load())
	}
	if svc.Has(ctx, "k") {
		t.Error("expected condition=false to bypass caching entirely")
	}
}

func TestGetOrSetUnlessSkipsCaching(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	loader := func(ctx context.Context) (string, error) { return "skip-me", nil }
	opts := GetOrSetOptions{TTL: time.Minute, Unless: func(v interface{}) bool { return v == "skip-me" }}

	v, err := GetOrSet(ctx, svc, "k", loader, opts)
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if v != "skip-me" {
		t.Errorf("got %q, want skip-me", v)
	}
	if svc.Has(ctx, "k") {
		t.Error("expected Unless=true to skip writing through to cache")
	}
}

func TestGetOrSetDoesNotRetryLoaderOnLoaderError(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	wantErr := errors.New("origin unavailable")
	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "", wantErr
	}

	_, err := GetOrSet(ctx, svc, "k", loader, GetOrSetOptions{TTL: time.Minute})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	// A loader error is the loader's own result, not a stampede/cache-layer
	// fault -- it must never be retried, since the loader may not be
	// idempotent (e.g. it charges an API or increments a counter).
	if got := calls.Load(); got != 1 {
		t.Errorf("got %d loader calls, want exactly 1 (loader error must not be retried)", got)
	}
}

func TestGetOrSetRetriesLoaderOnlyForStampedeFault(t *testing.T) {
	cfg := l1L2Config()
	svc, _ := newTestService(t, cfg)
	svc.stampede = stampede.New(nil, stampede.Config{WaiterTimeout: 0, LoaderTimeout: 5 * time.Millisecond})
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			<-ctx.Done() // first call is deliberately made to exceed LoaderTimeout
			return "", ctx.Err()
		}
		return "recovered", nil
	}

	v, err := GetOrSet(ctx, svc, "k", loader, GetOrSetOptions{TTL: time.Minute})
	if err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	if v != "recovered" {
		t.Errorf("got %q, want %q", v, "recovered")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("got %d loader calls, want 2 (stampede fault must retry once)", got)
	}
}

func TestGetOrSetWithSWRServesStaleAndSchedulesRevalidation(t *testing.T) {
	cfg := l1L2Config()
	cfg.SWREnabled = true
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("v%d", calls.Load()), nil
	}
	opts := GetOrSetOptions{TTL: time.Minute, StaleTTL: 1 * time.Millisecond}

	v, err := GetOrSet(ctx, svc, "k", loader, opts)
	if err != nil {
		t.Fatalf("initial GetOrSet failed: %v", err)
	}
	if v != "v1" {
		t.Fatalf("got %q, want v1", v)
	}

	time.Sleep(10 * time.Millisecond)

	// L1 still holds the now-stale entry: this read must return it
	// immediately rather than blocking on a synchronous reload.
	v2, err := GetOrSet(ctx, svc, "k", loader, opts)
	if err != nil {
		t.Fatalf("stale GetOrSet failed: %v", err)
	}
	if v2 != "v1" {
		t.Errorf("expected stale value v1 to be served immediately, got %q", v2)
	}

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Error("expected background revalidation to invoke the loader again")
	}
}

func TestServiceInvalidateTags(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.Set(ctx, "user:1", "a", SetOptions{TTL: time.Minute, Tags: []string{"tenant:acme"}})
	svc.Set(ctx, "user:2", "b", SetOptions{TTL: time.Minute, Tags: []string{"tenant:acme"}})
	svc.Set(ctx, "user:3", "c", SetOptions{TTL: time.Minute, Tags: []string{"tenant:other"}})

	n, err := svc.InvalidateTags(ctx, []string{"tenant:acme"})
	if err != nil {
		t.Fatalf("InvalidateTags failed: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d invalidated, want 2", n)
	}
	if svc.Has(ctx, "user:1") || svc.Has(ctx, "user:2") {
		t.Error("expected tagged keys to be gone from L1 too")
	}
	if !svc.Has(ctx, "user:3") {
		t.Error("expected untagged-for-this-tag key to survive")
	}
}

func TestServiceInvalidateByPattern(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.Set(ctx, "session:1", "a", SetOptions{TTL: time.Minute})
	svc.Set(ctx, "session:2", "b", SetOptions{TTL: time.Minute})
	svc.Set(ctx, "order:1", "c", SetOptions{TTL: time.Minute})

	n, err := svc.InvalidateByPattern(ctx, "session:*")
	if err != nil {
		t.Fatalf("InvalidateByPattern failed: %v", err)
	}
	if n == 0 {
		t.Error("expected at least one key invalidated")
	}
	if svc.Has(ctx, "session:1") || svc.Has(ctx, "session:2") {
		t.Error("expected session keys to be gone")
	}
	if !svc.Has(ctx, "order:1") {
		t.Error("expected order:1 to survive")
	}
}

func TestServiceClear(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.Set(ctx, "a", 1.0, SetOptions{TTL: time.Minute})
	svc.Set(ctx, "b", 2.0, SetOptions{TTL: time.Minute})

	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if svc.Has(ctx, "a") || svc.Has(ctx, "b") {
		t.Error("expected all keys gone after Clear")
	}
}

func TestServiceMetricsSnapshot(t *testing.T) {
	svc, _ := newTestService(t, l1L2Config())
	ctx := context.Background()

	svc.Set(ctx, "k", "v", SetOptions{TTL: time.Minute})
	svc.Get(ctx, "k")
	svc.Get(ctx, "missing")

	m := svc.MetricsSnapshot()
	if m.Hits != 1 {
		t.Errorf("got %d hits, want 1", m.Hits)
	}
	if m.Misses != 1 {
		t.Errorf("got %d misses, want 1", m.Misses)
	}
	if m.Sets != 1 {
		t.Errorf("got %d sets, want 1", m.Sets)
	}
}
