// Package invalidation implements event-driven and tag-based cache
// invalidation: a priority-ordered rule registry matching dotted,
// AMQP-topic-style event names to tag templates, a cluster-safe TagIndex
// mapping tags to the cache keys carrying them, and an audit log recording
// every invalidation for compliance and replay.
package invalidation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// EventPattern matches dotted event names using AMQP-topic-style wildcards:
//   - "*" matches exactly one segment ("order.*.created" matches
//     "order.123.created" but not "order.123.line.created")
//   - "#" matches zero or more segments ("order.#" matches "order.created",
//     "order.123.created", and "order" itself)
//
// This is a different matching axis from pkg/utils.MatchPattern's glob
// syntax over cache *keys* ("users:*") used by CacheService.invalidateByPattern
// -- EventPattern instead routes event *names* to InvalidationRules.
//
// NewEventPattern compiles each pattern once and caches the regexp by pattern
// string, the same compile-once-cache-forever approach invalidation's own
// glob matcher already used for cache-key patterns.
type EventPattern struct {
	raw string
	re  *regexp.Regexp
}

var eventPatternCache sync.Map // raw pattern -> *regexp.Regexp

// NewEventPattern compiles pattern into an EventPattern. Returns an error if
// pattern is empty or its regexp fails to compile. Empty segments (e.g.
// "order..created") are accepted and match an empty segment literally.
func NewEventPattern(pattern string) (*EventPattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("invalidation: event pattern cannot be empty")
	}

	if cached, ok := eventPatternCache.Load(pattern); ok {
		return &EventPattern{raw: pattern, re: cached.(*regexp.Regexp)}, nil
	}

	re, err := regexp.Compile("^" + eventPatternToRegex(pattern) + "$")
	if err != nil {
		return nil, fmt.Errorf("invalidation: invalid event pattern %q: %w", pattern, err)
	}
	eventPatternCache.Store(pattern, re)
	return &EventPattern{raw: pattern, re: re}, nil
}

// Match reports whether eventName satisfies this pattern.
func (p *EventPattern) Match(eventName string) bool {
	return p.re.MatchString(eventName)
}

// String returns the pattern's original source text.
func (p *EventPattern) String() string { return p.raw }

// eventPatternToRegex converts a dotted */# pattern to an anchored regex
// body (caller adds ^...$). Each segment between dots becomes either a
// literal (escaped), "[^.]+" for "*", or a consumed-with-its-separator
// ".*" for "#".
func eventPatternToRegex(pattern string) string {
	segments := strings.Split(pattern, ".")
	parts := make([]string, 0, len(segments))

	for i, seg := range segments {
		switch seg {
		case "*":
			parts = append(parts, `[^.]+`)
		case "#":
			// "#" swallows zero or more segments, including the
			// separating dots on either side -- handled specially below.
			parts = append(parts, `#`)
		default:
			parts = append(parts, regexp.QuoteMeta(seg))
		}
		_ = i
	}

	// Join on a literal dot, then post-process "#" markers into ".*"
	// fragments that also absorb one adjacent separator, so "order.#"
	// matches both "order" and "order.created.v2".
	joined := strings.Join(parts, `\.`)
	joined = strings.ReplaceAll(joined, `#\.`, `(?:.*\.)?`)
	joined = strings.ReplaceAll(joined, `\.#`, `(?:\..*)?`)
	joined = strings.ReplaceAll(joined, `#`, `.*`)
	return joined
}

// ClearEventPatternCache clears the compiled-pattern cache. Exposed for
// tests and for long-running processes that want to bound memory after
// churning through many distinct one-off patterns.
func ClearEventPatternCache() {
	eventPatternCache.Range(func(key, _ interface{}) bool {
		eventPatternCache.Delete(key)
		return true
	})
}
