package invalidation

import (
	"context"
	"fmt"
	"time"

	"github.com/otero-cache/cachecore/l2store"
)

const tagSetPrefix = "tagidx:"

func tagSetKey(tag string) string {
	return tagSetPrefix + tag
}

// TagIndex maintains the reverse mapping from a tag to the set of L2Store
// keys currently carrying it, backed by Redis sets through l2store.Driver's
// SADD/SREM/SMEMBERS so the index itself lives in the same cluster-safe
// store as the cached values -- a per-process in-memory index would miss
// invalidations triggered from another instance.
//
// CacheService.Set calls Tag after writing an entry; InvalidateTag(s) reads
// the member keys back out, deletes them from L2 (and lets L1 drop them on
// the next read via the TagInvalidatedEvent broadcast), then clears the
// tag's own set.
type TagIndex struct {
	driver l2store.Driver
}

// NewTagIndex builds a TagIndex over driver.
func NewTagIndex(driver l2store.Driver) *TagIndex {
	return &TagIndex{driver: driver}
}

// Tag associates key with every tag in tags.
func (ti *TagIndex) Tag(ctx context.Context, key string, tags ...string) error {
	for _, tag := range tags {
		if err := ti.driver.SAdd(ctx, tagSetKey(tag), key); err != nil {
			return fmt.Errorf("invalidation: tag index add %q/%q: %w", tag, key, err)
		}
	}
	return nil
}

// Untag removes key's membership in every tag in tags, without touching the
// cached value itself. Used when a key is overwritten with a different tag
// set so stale tag memberships don't accumulate.
func (ti *TagIndex) Untag(ctx context.Context, key string, tags ...string) error {
	for _, tag := range tags {
		if err := ti.driver.SRem(ctx, tagSetKey(tag), key); err != nil {
			return fmt.Errorf("invalidation: tag index remove %q/%q: %w", tag, key, err)
		}
	}
	return nil
}

// Keys returns every key currently tagged with tag.
func (ti *TagIndex) Keys(ctx context.Context, tag string) ([]string, error) {
	keys, err := ti.driver.SMembers(ctx, tagSetKey(tag))
	if err != nil {
		return nil, fmt.Errorf("invalidation: tag index read %q: %w", tag, err)
	}
	return keys, nil
}

// Count returns the number of keys currently tagged with tag.
func (ti *TagIndex) Count(ctx context.Context, tag string) (int64, error) {
	n, err := ti.driver.SCard(ctx, tagSetKey(tag))
	if err != nil {
		return 0, fmt.Errorf("invalidation: tag index count %q: %w", tag, err)
	}
	return n, nil
}

// InvalidateResult summarizes the outcome of invalidating one or more tags.
type InvalidateResult struct {
	Tags          []string
	InvalidatedAt time.Time
	Keys          []string
}

// Invalidate deletes every key tagged with any of tags from L2Store (via the
// driver directly -- TagIndex sits below L2Store, not above it, since it
// needs raw Del semantics rather than envelope-aware Get/Set) and clears the
// tags' own sets. The keys deleted are returned so the caller can publish a
// TagInvalidatedEvent and drop the same keys from local L1Store shards.
func (ti *TagIndex) Invalidate(ctx context.Context, tags ...string) (*InvalidateResult, error) {
	seen := make(map[string]struct{})
	var allKeys []string

	for _, tag := range tags {
		keys, err := ti.Keys(ctx, tag)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			allKeys = append(allKeys, k)
		}
	}

	// One DEL per key: a multi-key DEL is rejected by Redis Cluster when the
	// keys hash to different slots.
	for _, k := range allKeys {
		if _, err := ti.driver.Del(ctx, k); err != nil {
			return nil, fmt.Errorf("invalidation: tag index delete key %q: %w", k, err)
		}
	}

	for _, tag := range tags {
		if _, err := ti.driver.Del(ctx, tagSetKey(tag)); err != nil {
			return nil, fmt.Errorf("invalidation: tag index clear set %q: %w", tag, err)
		}
	}

	return &InvalidateResult{Tags: tags, InvalidatedAt: time.Now(), Keys: allKeys}, nil
}
