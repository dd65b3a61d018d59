package keycodec

import (
	"sort"
	"strings"
)

// contextMarker introduces the enrichment segment appended to a key
// ("user:123:_ctx_:tenant.acme") and lets EnrichKey recognize a key that is
// already enriched. An empty or nil context map appends nothing, so such a
// key is identical to one built with no context at all.
const contextMarker = "_ctx_"

// ContextProvider supplies the name/value pairs used to partition cache keys
// per request context (tenant ID, locale, experiment bucket, ...). Callers
// inject their own implementation; cachecore ships StaticContextProvider for
// the common "fixed set of values for this codec instance" case and for
// tests.
type ContextProvider interface {
	// Values returns the current context's name/value pairs. Implementations
	// must be safe for concurrent use, since a KeyCodec may be shared across
	// goroutines.
	Values() map[string]string
}

// StaticContextProvider returns a fixed set of values on every call. Useful
// when a KeyCodec is scoped to a single tenant/request for its lifetime, and
// in tests that don't need dynamic per-call context.
type StaticContextProvider map[string]string

// Values implements ContextProvider.
func (s StaticContextProvider) Values() map[string]string {
	return map[string]string(s)
}

// EnrichKey appends a sorted, sanitized `name.value` context segment to key.
// Enrichment is idempotent: EnrichKey detects the contextMarker segment on a
// key that already carries one and returns it unchanged rather than
// appending a second segment, regardless of what values is this time around.
// This lets every cache operation (get/set/delete/has/ttl/getOrSet) call
// EnrichKey unconditionally at its entry point without tracking whether the
// key was already enriched upstream. An empty/nil values map also returns
// key unchanged.
//
// Sorting by name makes the result deterministic regardless of map iteration
// order, which matters because the enriched key is itself used as a cache
// key and as a Redis SCAN/tag-set member.
func EnrichKey(key string, values map[string]string) string {
	if len(values) == 0 {
		return key
	}
	if strings.Contains(key, ":"+contextMarker+":") {
		return key
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(key)
	b.WriteString(":")
	b.WriteString(contextMarker)
	for _, name := range names {
		b.WriteString(":")
		b.WriteString(sanitizeContextPart(name))
		b.WriteString(".")
		b.WriteString(sanitizeContextPart(values[name]))
	}
	return b.String()
}

// sanitizeContextPart strips characters that would be ambiguous inside the
// "name.value" pair (":" collides with the key separator, "." collides with
// the name/value delimiter).
func sanitizeContextPart(s string) string {
	replacer := strings.NewReplacer(":", "_", ".", "_", "\r", "", "\n", "")
	return replacer.Replace(s)
}
