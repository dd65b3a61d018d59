package l2store

import (
	"context"
	"errors"
	"sync"
)

// ScriptCache loads a Lua script once, caches its SHA, and transparently
// falls back from EVALSHA to EVAL (re-registering the SHA) the first time
// the backing store reports NOSCRIPT -- for instance right after a Redis
// restart flushed its script cache. Callers never see the distinction: Run
// always succeeds or fails on the script's own merits, not on cache state.
type ScriptCache struct {
	driver Driver
	source string

	mu  sync.RWMutex
	sha string
}

// NewScriptCache creates a cache for one Lua script's source. The script is
// not loaded until the first Run call.
func NewScriptCache(driver Driver, source string) *ScriptCache {
	return &ScriptCache{driver: driver, source: source}
}

// Run executes the cached script against keys/args, loading it on first use
// and reloading it if the driver reports NOSCRIPT.
func (c *ScriptCache) Run(ctx context.Context, keys []string, args ...interface{}) (interface{}, error) {
	sha, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.driver.EvalSha(ctx, sha, keys, args...)
	if errors.Is(err, ErrNoScript) {
		c.invalidate()
		res, err = c.driver.Eval(ctx, c.source, keys, args...)
		if err != nil {
			return nil, err
		}
		// Re-register so later calls use EVALSHA again; a failed load is
		// retried by the next Run.
		_, _ = c.ensureLoaded(ctx)
		return res, nil
	}
	return res, err
}

func (c *ScriptCache) ensureLoaded(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.sha != "" {
		sha := c.sha
		c.mu.RUnlock()
		return sha, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sha != "" {
		return c.sha, nil
	}
	sha, err := c.driver.ScriptLoad(ctx, c.source)
	if err != nil {
		return "", err
	}
	c.sha = sha
	return sha, nil
}

func (c *ScriptCache) invalidate() {
	c.mu.Lock()
	c.sha = ""
	c.mu.Unlock()
}
