// Package cachemanager implements a high-performance distributed cache with multi-level
// storage (L1 in-memory, L2 distributed), intelligent eviction policies (LRU/LFU),
// stampede protection, stale-while-revalidate serving, tag-based invalidation, and
// event-driven coordination via Pub/Sub.
//
// Design Choices:
// - L1 is an RWMutex-protected store (cache.go) with a single shard by default, so capacity
//   and LRU/LFU ordering are global; Config.L1Shards opts into several partitions selected
//   by consistent hash, trading global ordering for write concurrency.
// - Stampede protection composes local request coalescing with a cross-process Redis lock
//   (see the stampede package), replacing this package's old singleflight-only coalescer.
// - L2 is abstracted via l2store.Driver for testability and provider flexibility --
//   RedisDriver is the production implementation, wrapping redis.UniversalClient so
//   single-instance, Sentinel, and Cluster topologies are all interchangeable here.
// - Pub/Sub coordination ensures eventual consistency across distributed instances.
//
// Performance Characteristics:
// - L1 Get: O(1) average (LRU) or O(log n) (LFU heap fix-up) for hot keys.
// - L1 Set: O(1) (LRU) or O(log n) (LFU) with eviction.
// - Bottlenecks: L2 network latency, stampede lock round trips on cache misses.
package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otero-cache/cachecore/invalidation"
	"github.com/otero-cache/cachecore/keycodec"
	"github.com/otero-cache/cachecore/l2store"
	"github.com/otero-cache/cachecore/pkg/utils"
	"github.com/otero-cache/cachecore/stampede"
	"github.com/otero-cache/cachecore/swr"
)

// Strategy selects which tiers Set participates in.
type Strategy string

const (
	StrategyL1L2   Strategy = "l1-l2"
	StrategyL1Only Strategy = "l1-only"
	StrategyL2Only Strategy = "l2-only"
)

// TTL sentinels returned by Service.TTL, mirroring the Redis TTL convention
// the rest of the corpus already uses.
const (
	TTLMissing  = -2 * time.Second
	TTLNoExpiry = -1 * time.Second
)

// Service implements the cache manager with multi-level storage, stampede
// protection and SWR revalidation.
//
//encore:service
type Service struct {
	l1        *L1Store
	l2        *l2store.L2Store
	codec     *keycodec.KeyCodec
	stampede  *stampede.Stampede
	scheduler *swr.Scheduler
	tagIndex  *invalidation.TagIndex
	metrics   *Metrics
	cfg       Config
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// Config holds runtime configuration for the cache manager.
type Config struct {
	L1Enabled        bool
	L1MaxEntries     int
	L1EvictionPolicy string // "lru" (default) or "lfu"
	// L1Shards partitions L1MaxEntries across that many independent shards
	// for write concurrency, at the cost of only approximate global
	// capacity/ordering across shards (see L1Config.Shards). 0 (the
	// default) keeps a single authoritative shard, matching the documented
	// capacity and eviction-ordering guarantees exactly.
	L1Shards        int
	CleanupInterval time.Duration

	L2Enabled    bool
	DefaultTTL   time.Duration
	MaxTTL       time.Duration

	SWREnabled       bool
	DefaultStaleTime time.Duration

	MaxTagsPerKey int
}

// DefaultConfig returns the corpus's usual defaults: L1 enabled with a
// 10k-entry LRU, L2 disabled until a driver is configured via NewService,
// SWR disabled.
func DefaultConfig() Config {
	return Config{
		L1Enabled:        true,
		L1MaxEntries:     10000,
		L1EvictionPolicy: string(EvictionLRU),
		CleanupInterval:  1 * time.Minute,
		L2Enabled:        false,
		DefaultTTL:       1 * time.Hour,
		MaxTTL:           24 * time.Hour,
		SWREnabled:       false,
		DefaultStaleTime: 60 * time.Second,
		MaxTagsPerKey:    10,
	}
}

// Metrics tracks cache performance counters across both tiers and the
// stampede/SWR subsystems.
type Metrics struct {
	Hits       atomic.Int64
	Misses     atomic.Int64
	Sets       atomic.Int64
	Deletes    atomic.Int64
	Evictions  atomic.Int64

	L1Hits   atomic.Int64
	L1Misses atomic.Int64
	L2Hits   atomic.Int64
	L2Misses atomic.Int64
	L2Errors atomic.Int64

	StampedePrevented     atomic.Int64
	SWRStaleServed        atomic.Int64
	SWRRevalidations      atomic.Int64
	SWRRevalidationErrors atomic.Int64
	TagInvalidations      atomic.Int64
}

// Sentinel errors for validation failures, matching the taxonomy's
// ValidationFailed/CacheKeyInvalid categories.
var (
	ErrInvalidTTL    = errors.New("cachemanager: ttl must be > 0 and <= max ttl")
	ErrTooManyTags   = errors.New("cachemanager: too many tags for one key")
	ErrNoTagIndex    = errors.New("cachemanager: no tag index configured")
)

// loaderFault wraps an error returned by the caller's own loader inside
// Stampede.Protect, so GetOrSet can tell a genuine loader failure apart from
// a stampede/lock-layer fault (ErrStampedeTimeout, lock errors, ctx
// cancellation) and avoid invoking a non-idempotent loader a second time
// just because it already failed once.
type loaderFault struct{ err error }

func (l *loaderFault) Error() string { return l.err.Error() }
func (l *loaderFault) Unwrap() error { return l.err }

// NewService builds a Service wired to driver (nil disables L2 and stampede
// distributed locking, falling back to local-only coalescing) and codec (nil
// uses keycodec.DefaultConfig with no context enrichment).
func NewService(cfg Config, driver l2store.Driver, codec *keycodec.KeyCodec, tagIndex *invalidation.TagIndex) *Service {
	if codec == nil {
		codec = keycodec.New(keycodec.DefaultConfig(), nil)
	}
	strategy, err := ParseEvictionStrategy(cfg.L1EvictionPolicy)
	if err != nil {
		strategy = EvictionLRU
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultConfig().MaxTTL
	}

	s := &Service{
		codec:    codec,
		metrics:  &Metrics{},
		cfg:      cfg,
		stopChan: make(chan struct{}),
		tagIndex: tagIndex,
	}

	if cfg.L1Enabled {
		s.l1 = NewL1Store(L1Config{MaxEntries: cfg.L1MaxEntries, Strategy: strategy, Shards: cfg.L1Shards})
	}

	if cfg.L2Enabled && driver != nil {
		s.l2 = l2store.New(driver, utils.NewJSONSerializer(), l2store.DefaultConfig())
		s.stampede = stampede.New(driver, stampede.DefaultConfig())
	} else {
		s.stampede = stampede.New(nil, stampede.DefaultConfig())
	}

	if cfg.SWREnabled {
		s.scheduler = swr.New(swr.DefaultConfig(), func(key string, err error) {
			if err != nil {
				s.metrics.SWRRevalidationErrors.Add(1)
			}
		})
	}

	s.wg.Add(1)
	go s.runTTLCleanup()

	return s
}

// Get retrieves a value from cache, checking L1 then L2. Read-through never
// throws: any cache-layer fault degrades to a plain miss.
func (s *Service) Get(ctx context.Context, key string) (interface{}, bool) {
	fqKey, err := s.codec.BuildKey(key)
	if err != nil {
		return nil, false
	}

	if s.l1 != nil {
		if entry, ok := s.l1.Get(fqKey); ok {
			s.metrics.Hits.Add(1)
			s.metrics.L1Hits.Add(1)
			return entry.Value, true
		}
		s.metrics.L1Misses.Add(1)
	}

	if s.l2 == nil {
		s.metrics.Misses.Add(1)
		return nil, false
	}

	var value interface{}
	if err := s.l2.Get(ctx, fqKey, &value); err != nil {
		s.metrics.L2Misses.Add(1)
		s.metrics.Misses.Add(1)
		return nil, false
	}

	s.metrics.Hits.Add(1)
	s.metrics.L2Hits.Add(1)
	if s.l1 != nil {
		ttl, _ := s.l2.TTL(ctx, fqKey)
		if ttl <= 0 {
			ttl = s.cfg.DefaultTTL
		}
		s.l1.Set(fqKey, &CacheEntry{Value: value, CachedAt: time.Now(), ExpiresAt: time.Now().Add(ttl), Source: "l2"})
	}
	return value, true
}

// SetOptions configures Set/SetMany.
type SetOptions struct {
	TTL      time.Duration // <= 0 uses Config.DefaultTTL
	Tags     []string
	Strategy Strategy // "" defaults to StrategyL1L2
}

// Set stores a value, validating TTL and tag count, writing through to the
// tiers selected by opts.Strategy. If Tags are supplied and L2 participates,
// the keys are registered in the TagIndex.
func (s *Service) Set(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	fqKey, err := s.codec.BuildKey(key)
	if err != nil {
		return err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		return ErrInvalidTTL
	}
	if s.cfg.MaxTagsPerKey > 0 && len(opts.Tags) > s.cfg.MaxTagsPerKey {
		return ErrTooManyTags
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyL1L2
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	if strategy != StrategyL2Only && s.l1 != nil {
		s.l1.Set(fqKey, &CacheEntry{Value: value, CachedAt: now, ExpiresAt: expiresAt, Tags: opts.Tags, Source: "origin"})
	}

	if strategy != StrategyL1Only && s.l2 != nil {
		if err := s.l2.Set(ctx, fqKey, value, ttl); err != nil {
			s.metrics.L2Errors.Add(1)
			return fmt.Errorf("cachemanager: l2 set %s: %w", key, err)
		}
		if len(opts.Tags) > 0 && s.tagIndex != nil {
			if err := s.tagIndex.Tag(ctx, fqKey, opts.Tags...); err != nil {
				return err
			}
		}
	}

	s.metrics.Sets.Add(1)
	return nil
}

// Delete removes key from both tiers, returning true if it existed in either.
func (s *Service) Delete(ctx context.Context, key string) bool {
	fqKey, err := s.codec.BuildKey(key)
	if err != nil {
		return false
	}

	removed := false
	if s.l1 != nil && s.l1.Delete(fqKey) {
		removed = true
	}
	if s.l2 != nil {
		if ok, _ := s.l2.Delete(ctx, fqKey); ok {
			removed = true
		}
	}
	s.metrics.Deletes.Add(1)
	return removed
}

// Has reports whether key is present in either tier, without loading it.
func (s *Service) Has(ctx context.Context, key string) bool {
	fqKey, err := s.codec.BuildKey(key)
	if err != nil {
		return false
	}
	if s.l1 != nil {
		if _, ok := s.l1.Get(fqKey); ok {
			return true
		}
	}
	if s.l2 != nil {
		if ok, _ := s.l2.Has(ctx, fqKey); ok {
			return true
		}
	}
	return false
}

// TTL delegates to L2's TTL: TTLMissing for an absent key, TTLNoExpiry for a
// key with no expiry, or the remaining positive duration.
func (s *Service) TTL(ctx context.Context, key string) time.Duration {
	fqKey, err := s.codec.BuildKey(key)
	if err != nil || s.l2 == nil {
		return TTLMissing
	}
	ttl, err := s.l2.TTL(ctx, fqKey)
	if err != nil {
		if errors.Is(err, l2store.ErrKeyNotFound) {
			return TTLMissing
		}
		return TTLMissing
	}
	if ttl < 0 {
		return TTLNoExpiry
	}
	return ttl
}

// GetMany retrieves every key in keys, batching the L2 round trip for keys
// that miss L1. Missing keys are simply absent from the result map.
func (s *Service) GetMany(ctx context.Context, keys []string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	var l2Keys []string
	fqToRaw := make(map[string]string, len(keys))

	for _, key := range keys {
		fqKey, err := s.codec.BuildKey(key)
		if err != nil {
			continue
		}
		fqToRaw[fqKey] = key
		if s.l1 != nil {
			if entry, ok := s.l1.Get(fqKey); ok {
				out[key] = entry.Value
				s.metrics.Hits.Add(1)
				continue
			}
		}
		if s.l2 != nil {
			l2Keys = append(l2Keys, fqKey)
		}
	}

	if len(l2Keys) > 0 {
		results, err := s.l2.GetMany(ctx, l2Keys, func() interface{} { return new(interface{}) })
		if err == nil {
			for fqKey, v := range results {
				raw := fqToRaw[fqKey]
				ptr := v.(*interface{})
				out[raw] = *ptr
				s.metrics.Hits.Add(1)
				s.metrics.L2Hits.Add(1)
				if s.l1 != nil {
					ttl, _ := s.l2.TTL(ctx, fqKey)
					if ttl <= 0 {
						ttl = s.cfg.DefaultTTL
					}
					s.l1.Set(fqKey, &CacheEntry{Value: *ptr, CachedAt: time.Now(), ExpiresAt: time.Now().Add(ttl), Source: "l2"})
				}
			}
		}
	}

	return out
}

// SetMany stores every item in items sharing opts' TTL/strategy/tags.
func (s *Service) SetMany(ctx context.Context, items map[string]interface{}, opts SetOptions) error {
	for key, value := range items {
		if err := s.Set(ctx, key, value, opts); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMany removes every key in keys, returning the count actually removed.
func (s *Service) DeleteMany(ctx context.Context, keys []string) int {
	count := 0
	for _, key := range keys {
		if s.Delete(ctx, key) {
			count++
		}
	}
	return count
}

// GetOrSetOptions configures GetOrSet.
type GetOrSetOptions struct {
	TTL      time.Duration
	StaleTTL time.Duration // > 0 enables SWR envelope storage/serving for this key
	Tags     []string
	// Condition, if non-nil and false, bypasses the cache entirely: loader is
	// invoked directly and its result is neither read from nor written to
	// either tier.
	Condition func() bool
	// Unless, if non-nil and true for the loaded value, skips caching the
	// result while still returning it to the caller.
	Unless func(value interface{}) bool
}

// GetOrSet implements CacheService's central read-through/write-through/
// stampede-protected/SWR-aware operation. It is a free function rather than
// a method because Go methods cannot carry their own type parameters; T is
// the value type the loader produces.
//
// Control flow: L1 -> L2 (SWR-aware if enabled) -> Stampede.Protect(loader).
// If any cache interaction fails, GetOrSet falls back to invoking loader
// directly -- origin availability always trumps cache participation.
func GetOrSet[T any](ctx context.Context, s *Service, key string, loader func(ctx context.Context) (T, error), opts GetOrSetOptions) (T, error) {
	var zero T

	if opts.Condition != nil && !opts.Condition() {
		return loader(ctx)
	}

	fqKey, err := s.codec.BuildKey(key)
	if err != nil {
		return loader(ctx)
	}

	now := time.Now()

	if s.l1 != nil {
		if entry, ok := s.l1.Get(fqKey); ok {
			if v, ok2 := entry.Value.(T); ok2 {
				s.metrics.Hits.Add(1)
				s.metrics.L1Hits.Add(1)
				if s.cfg.SWREnabled && !entry.StaleAt.IsZero() && now.After(entry.StaleAt) && now.Before(entry.ExpiresAt) {
					s.metrics.SWRStaleServed.Add(1)
					scheduleRevalidation(s, fqKey, key, loader, opts)
				}
				return v, nil
			}
		}
	}

	if s.l2 != nil {
		if s.cfg.SWREnabled && opts.StaleTTL > 0 {
			var val T
			env, err := s.l2.GetEnvelope(ctx, fqKey, &val)
			if err == nil {
				e := swr.Entry[T]{Value: val, CachedAt: env.CachedAt, StaleAt: env.StaleAt, ExpiresAt: env.ExpiresAt}
				switch {
				case e.IsFresh(now):
					if s.l1 != nil {
						s.l1.Set(fqKey, &CacheEntry{Value: e.Value, CachedAt: e.CachedAt, StaleAt: e.StaleAt, ExpiresAt: e.ExpiresAt, Source: "l2"})
					}
					s.metrics.Hits.Add(1)
					s.metrics.L2Hits.Add(1)
					return val, nil
				case e.IsStale(now):
					if s.l1 != nil {
						s.l1.Set(fqKey, &CacheEntry{Value: e.Value, CachedAt: e.CachedAt, StaleAt: e.StaleAt, ExpiresAt: e.ExpiresAt, Source: "l2"})
					}
					s.metrics.Hits.Add(1)
					s.metrics.L2Hits.Add(1)
					s.metrics.SWRStaleServed.Add(1)
					scheduleRevalidation(s, fqKey, key, loader, opts)
					return val, nil
				default: // expired: treat as miss
					s.metrics.L2Misses.Add(1)
				}
			} else {
				s.metrics.L2Misses.Add(1)
			}
		} else {
			var val T
			if err := s.l2.Get(ctx, fqKey, &val); err == nil {
				s.metrics.Hits.Add(1)
				s.metrics.L2Hits.Add(1)
				if s.l1 != nil {
					ttl, _ := s.l2.TTL(ctx, fqKey)
					if ttl <= 0 {
						ttl = s.cfg.DefaultTTL
					}
					s.l1.Set(fqKey, &CacheEntry{Value: val, CachedAt: now, ExpiresAt: now.Add(ttl), Source: "l2"})
				}
				return val, nil
			}
			s.metrics.L2Misses.Add(1)
		}
	}

	result, err := s.stampede.Protect(ctx, fqKey, func(loadCtx context.Context) (interface{}, error) {
		v, loadErr := loader(loadCtx)
		if loadErr != nil {
			return nil, &loaderFault{loadErr}
		}
		if opts.Unless != nil && opts.Unless(v) {
			return v, nil
		}
		if storeErr := storeValue(loadCtx, s, fqKey, v, opts); storeErr != nil {
			return v, nil // cache write failure never fails the caller's read
		}
		return v, nil
	})

	if err != nil {
		// The loader's own error is never retried -- it already ran and
		// failed, and may not be safe to invoke twice. Only a fault in the
		// stampede/lock layer itself (timeout, lock error, ctx
		// cancellation) falls back to a direct, unprotected loader call.
		var lf *loaderFault
		if errors.As(err, &lf) {
			return zero, lf.err
		}
		v, loadErr := loader(ctx)
		if loadErr != nil {
			return zero, loadErr
		}
		return v, nil
	}

	v, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cachemanager: loader result type mismatch for key %q", key)
	}
	return v, nil
}

// storeValue writes v to whichever tiers are enabled, honoring opts' TTL,
// StaleTTL (SWR envelope) and Tags. Shared by GetOrSet's protected loader and
// the SWR scheduler's revalidation job.
func storeValue[T any](ctx context.Context, s *Service, fqKey string, v T, opts GetOrSetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := time.Now()

	if s.cfg.SWREnabled && opts.StaleTTL > 0 {
		staleAt := now.Add(opts.StaleTTL)
		expiresAt := now.Add(ttl)
		if s.l1 != nil {
			s.l1.Set(fqKey, &CacheEntry{Value: v, CachedAt: now, StaleAt: staleAt, ExpiresAt: expiresAt, Tags: opts.Tags, Source: "origin"})
		}
		if s.l2 != nil {
			if err := s.l2.SetEnvelope(ctx, fqKey, v, now, staleAt, expiresAt); err != nil {
				s.metrics.L2Errors.Add(1)
				return err
			}
		}
	} else {
		if s.l1 != nil {
			s.l1.Set(fqKey, &CacheEntry{Value: v, CachedAt: now, ExpiresAt: now.Add(ttl), Tags: opts.Tags, Source: "origin"})
		}
		if s.l2 != nil {
			if err := s.l2.Set(ctx, fqKey, v, ttl); err != nil {
				s.metrics.L2Errors.Add(1)
				return err
			}
		}
	}

	if len(opts.Tags) > 0 && s.tagIndex != nil && s.l2 != nil {
		if err := s.tagIndex.Tag(ctx, fqKey, opts.Tags...); err != nil {
			return err
		}
	}
	s.metrics.Sets.Add(1)
	return nil
}

// scheduleRevalidation enqueues a background reload of fqKey via the SWR
// scheduler, enforcing at most one in-flight revalidation per key.
func scheduleRevalidation[T any](s *Service, fqKey, key string, loader func(ctx context.Context) (T, error), opts GetOrSetOptions) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.ScheduleRevalidation(swr.RevalidationJob{
		Key: fqKey,
		Load: func(ctx context.Context) error {
			v, err := loader(ctx)
			if err != nil {
				return err
			}
			if opts.Unless != nil && opts.Unless(v) {
				return nil
			}
			if err := storeValue(ctx, s, fqKey, v, opts); err != nil {
				return err
			}
			s.metrics.SWRRevalidations.Add(1)
			return nil
		},
	})
}

// InvalidateTag removes every key tagged with tag from L2 (via TagIndex) and
// best-effort from L1, returning the number of keys invalidated.
func (s *Service) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return s.InvalidateTags(ctx, []string{tag})
}

// InvalidateTags removes every key tagged with any of tags.
func (s *Service) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	if s.tagIndex == nil {
		return 0, ErrNoTagIndex
	}
	result, err := s.tagIndex.Invalidate(ctx, tags...)
	if err != nil {
		return 0, err
	}
	if s.l1 != nil {
		for _, key := range result.Keys {
			s.l1.Delete(key)
		}
	}
	s.metrics.TagInvalidations.Add(1)
	return len(result.Keys), nil
}

// InvalidateByPattern SCAN-iterates L2 with the given glob pattern and
// pipeline-deletes discovered keys, also clearing any matching L1 entries.
func (s *Service) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	count := 0
	if s.l1 != nil {
		count += s.l1.DeletePattern(pattern)
	}
	if s.l2 != nil {
		keys, err := s.l2.ScanKeys(ctx, pattern)
		if err != nil {
			return count, err
		}
		if len(keys) > 0 {
			deleted, err := deleteInChunks(ctx, s.l2, keys, 100)
			if err != nil {
				return count, err
			}
			count += deleted
		}
	}
	s.metrics.Deletes.Add(int64(count))
	return count, nil
}

// deleteInChunks deletes keys in bounded batches of chunkSize, one multi-key
// DeleteMany call per batch.
func deleteInChunks(ctx context.Context, store *l2store.L2Store, keys []string, chunkSize int) (int, error) {
	total := 0
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := store.DeleteMany(ctx, keys[i:end])
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// Clear empties L1, L2, and all tag indexes.
func (s *Service) Clear(ctx context.Context) error {
	if s.l1 != nil {
		s.l1.Clear()
	}
	if s.l2 != nil {
		keys, err := s.l2.ScanKeys(ctx, "*")
		if err != nil {
			return err
		}
		if _, err := deleteInChunks(ctx, s.l2, keys, 100); err != nil {
			return err
		}
	}
	return nil
}

// MetricsSnapshot returns a snapshot of the service's counters.
func (s *Service) MetricsSnapshot() MetricsResponse {
	hits := s.metrics.Hits.Load()
	misses := s.metrics.Misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	l1Size := 0
	if s.l1 != nil {
		l1Size = s.l1.Size()
	}
	return MetricsResponse{
		Hits:                  hits,
		Misses:                misses,
		HitRate:               hitRate,
		Sets:                  s.metrics.Sets.Load(),
		Deletes:               s.metrics.Deletes.Load(),
		Evictions:             s.metrics.Evictions.Load(),
		L1Size:                l1Size,
		L1Hits:                s.metrics.L1Hits.Load(),
		L1Misses:              s.metrics.L1Misses.Load(),
		L2Hits:                s.metrics.L2Hits.Load(),
		L2Misses:              s.metrics.L2Misses.Load(),
		L2Errors:              s.metrics.L2Errors.Load(),
		StampedePrevented:     s.stampede.Stats().Prevented,
		SWRStaleServed:        s.metrics.SWRStaleServed.Load(),
		SWRRevalidations:      s.metrics.SWRRevalidations.Load(),
		SWRRevalidationErrors: s.metrics.SWRRevalidationErrors.Load(),
		TagInvalidations:      s.metrics.TagInvalidations.Load(),
	}
}

// MetricsResponse is the public shape of Service.MetricsSnapshot, consumed
// by the monitoring service.
type MetricsResponse struct {
	Hits                  int64   `json:"hits"`
	Misses                int64   `json:"misses"`
	HitRate               float64 `json:"hit_rate"`
	Sets                  int64   `json:"sets"`
	Deletes               int64   `json:"deletes"`
	Evictions             int64   `json:"evictions"`
	L1Size                int     `json:"l1_size"`
	L1Hits                int64   `json:"l1_hits"`
	L1Misses              int64   `json:"l1_misses"`
	L2Hits                int64   `json:"l2_hits"`
	L2Misses              int64   `json:"l2_misses"`
	L2Errors              int64   `json:"l2_errors"`
	StampedePrevented     int64   `json:"stampede_prevented"`
	SWRStaleServed        int64   `json:"swr_stale_served"`
	SWRRevalidations      int64   `json:"swr_revalidations"`
	SWRRevalidationErrors int64   `json:"swr_revalidation_errors"`
	TagInvalidations      int64   `json:"tag_invalidations"`
}

// runTTLCleanup periodically removes expired entries from L1.
func (s *Service) runTTLCleanup() {
	defer s.wg.Done()
	if s.l1 == nil {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			evicted := s.l1.CleanupExpired()
			s.metrics.Evictions.Add(int64(evicted))
		}
	}
}

// Shutdown gracefully stops the service's background goroutines.
func (s *Service) Shutdown() {
	close(s.stopChan)
	s.wg.Wait()
	if s.scheduler != nil {
		s.scheduler.Shutdown()
	}
}

// Global service instance (initialized by initService, mirroring the
// teacher's Encore service lifecycle). Production deployments wire a real
// Driver and TagIndex via NewService at startup; initService's defaults
// leave L2/SWR disabled, matching the teacher's "L2Enabled: false by
// default for unit tests" stance.
var svc *Service

func initService() (*Service, error) {
	return NewService(DefaultConfig(), nil, keycodec.New(keycodec.DefaultConfig(), nil), nil), nil
}

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize cache-manager service: %v", err))
	}
}
