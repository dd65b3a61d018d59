package cachemanager

import (
	"context"
	"time"

	"encore.dev/pubsub"

	"github.com/otero-cache/cachecore/invalidation"
	ccpubsub "github.com/otero-cache/cachecore/pkg/pubsub"
)

// CacheRefreshTopic carries RefreshEvent broadcasts from the warming service,
// proactively populating other instances' L1Store after an origin fetch.
var CacheRefreshTopic = pubsub.NewTopic[*ccpubsub.RefreshEvent](
	ccpubsub.TopicCacheRefresh,
	pubsub.TopicConfig{DeliveryGuarantee: pubsub.AtLeastOnce},
)

// Subscribe to cache invalidation events from other instances, so every
// cache-manager replica drops its own L1Store entries when any instance
// invalidates by key or pattern.
var _ = pubsub.NewSubscription(
	invalidation.CacheInvalidateTopic,
	"cache-manager-invalidate",
	pubsub.SubscriptionConfig[*invalidation.InvalidationEvent]{
		Handler: HandleInvalidateEvent,
	},
)

// HandleInvalidateEvent drops the affected keys from this instance's
// L1Store. L2 is already consistent by the time this event is published.
func HandleInvalidateEvent(ctx context.Context, event *invalidation.InvalidationEvent) error {
	if svc == nil || svc.l1 == nil {
		return nil
	}

	for _, key := range event.MatchedKeys {
		if svc.l1.Delete(key) {
			svc.metrics.Deletes.Add(1)
		}
	}

	if event.Pattern != "" {
		deleted := svc.l1.DeletePattern(event.Pattern)
		svc.metrics.Deletes.Add(int64(deleted))
	}

	return nil
}

// Subscribe to tag-invalidation broadcasts from the invalidation service, so
// every cache-manager replica drops its own L1Store entries for keys
// invalidated via TagIndex on another instance.
var _ = pubsub.NewSubscription(
	invalidation.TagInvalidateTopic,
	"cache-manager-tag-invalidate",
	pubsub.SubscriptionConfig[*ccpubsub.TagInvalidatedEvent]{
		Handler: HandleTagInvalidatedEvent,
	},
)

// HandleTagInvalidatedEvent drops the keys the publishing instance already
// removed from L2 via TagIndex.Invalidate.
func HandleTagInvalidatedEvent(ctx context.Context, event *ccpubsub.TagInvalidatedEvent) error {
	if svc == nil || svc.l1 == nil {
		return nil
	}
	for _, key := range event.Keys {
		if svc.l1.Delete(key) {
			svc.metrics.Deletes.Add(1)
		}
	}
	return nil
}

// Subscribe to cache refresh events from the warming service.
var _ = pubsub.NewSubscription(
	CacheRefreshTopic,
	"cache-manager-refresh",
	pubsub.SubscriptionConfig[*ccpubsub.RefreshEvent]{
		Handler: HandleRefreshEvent,
	},
)

// HandleRefreshEvent proactively populates this instance's tiers with a
// freshly-warmed value, skipping keys the event doesn't carry a value for
// (a refresh can also be a pure "evict and let the next reader repopulate"
// signal).
func HandleRefreshEvent(ctx context.Context, event *ccpubsub.RefreshEvent) error {
	if svc == nil {
		return nil
	}

	ttl := svc.cfg.DefaultTTL
	opts := SetOptions{TTL: ttl}

	for _, key := range event.Keys {
		if svc.l1 != nil {
			if entry, ok := svc.l1.Get(key); ok {
				svc.l1.Set(key, &CacheEntry{Value: entry.Value, CachedAt: time.Now(), ExpiresAt: time.Now().Add(ttl), Source: "refresh", Tags: entry.Tags})
				continue
			}
		}
		if svc.l2 != nil {
			var value interface{}
			if err := svc.l2.Get(ctx, key, &value); err == nil {
				_ = svc.Set(ctx, key, value, opts)
			}
		}
	}

	return nil
}

// PublishInvalidation publishes an invalidation event to all instances after
// a local key/pattern invalidation, so replicas drop their own L1 entries.
func (s *Service) PublishInvalidation(ctx context.Context, keys []string, pattern string) error {
	event := &invalidation.InvalidationEvent{
		Pattern:     pattern,
		MatchedKeys: keys,
		TriggeredBy: "cache_manager",
		Timestamp:   time.Now(),
		RequestID:   "",
	}
	_, err := invalidation.CacheInvalidateTopic.Publish(ctx, event)
	return err
}

// PublishRefresh publishes a refresh event to all instances, used by the
// warming service to proactively populate caches after an origin fetch.
func (s *Service) PublishRefresh(ctx context.Context, keys []string, priority int) error {
	event := &ccpubsub.RefreshEvent{
		Version:     ccpubsub.EventVersion1,
		Service:     "cache-manager",
		Keys:        keys,
		Priority:    priority,
		TriggeredAt: time.Now(),
		RequestID:   "",
	}
	_, err := CacheRefreshTopic.Publish(ctx, event)
	return err
}
