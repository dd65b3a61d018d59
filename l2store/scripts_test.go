package l2store

import (
	"context"
	"testing"
)

const testReleaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

func TestScriptCacheLoadsOnce(t *testing.T) {
	driver := newFakeDriver()
	cache := NewScriptCache(driver, testReleaseScript)
	ctx := context.Background()

	_ = driver.Set(ctx, "lock:a", []byte("token-1"), 0)

	res, err := cache.Run(ctx, []string{"lock:a"}, "token-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.(int64) != 1 {
		t.Errorf("got %v, want release to report 1", res)
	}

	if len(driver.scripts) != 1 {
		t.Errorf("expected script loaded exactly once, got %d entries", len(driver.scripts))
	}
}

func TestScriptCacheRecoversFromNoScript(t *testing.T) {
	driver := newFakeDriver()
	cache := NewScriptCache(driver, testReleaseScript)
	ctx := context.Background()

	_ = driver.Set(ctx, "lock:a", []byte("token-1"), 0)

	if _, err := cache.Run(ctx, []string{"lock:a"}, "token-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Simulate the backing store losing its script cache (e.g. a Redis
	// restart) -- the next EvalSha should see NOSCRIPT and transparently
	// reload.
	driver.scripts = make(map[string]string)
	_ = driver.Set(ctx, "lock:b", []byte("token-2"), 0)

	res, err := cache.Run(ctx, []string{"lock:b"}, "token-2")
	if err != nil {
		t.Fatalf("Run after cache eviction: %v", err)
	}
	if res.(int64) != 1 {
		t.Errorf("got %v, want 1", res)
	}
}

func TestScriptCacheWrongTokenDoesNotRelease(t *testing.T) {
	driver := newFakeDriver()
	cache := NewScriptCache(driver, testReleaseScript)
	ctx := context.Background()

	_ = driver.Set(ctx, "lock:a", []byte("token-1"), 0)

	res, err := cache.Run(ctx, []string{"lock:a"}, "wrong-token")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.(int64) != 0 {
		t.Errorf("got %v, want 0 (no release)", res)
	}

	if _, err := driver.Get(ctx, "lock:a"); err != nil {
		t.Errorf("expected lock:a to still exist, got %v", err)
	}
}
