// Package l2store wraps an abstract distributed key-value store (the
// "Driver") with the thin operations CacheService's L2 tier needs: GET/SET
// with TTL and NX, DEL, pattern SCAN, tag-set membership, and Lua script
// execution for the stampede distributed lock's compare-and-delete release.
//
// Driver intentionally says nothing about connection topology. Whether the
// concrete client talks to a single Redis instance, a Sentinel-managed pair,
// or a Cluster deployment is the operator's concern, expressed entirely in
// how RedisDriver is constructed -- never branched on here.
package l2store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors Driver implementations return through the normal Go error
// return, not as special-cased return values, so callers use errors.Is.
var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("l2store: key not found")
	// ErrNotAcquired is returned by SetNX-style lock helpers when another
	// holder already owns the lock.
	ErrNotAcquired = errors.New("l2store: lock not acquired")
	// ErrNoScript is returned by EvalSha when the driver could not find the
	// script by SHA and the caller must fall back to Eval/ScriptLoad. Real
	// Driver implementations resolve this internally (see RedisDriver); it
	// is exported so a test double can exercise the EvalSha->Eval fallback
	// path explicitly.
	ErrNoScript = errors.New("l2store: NOSCRIPT")
)

// Driver is the opaque contract L2Store and the stampede DistributedLock
// depend on. A concrete implementation (RedisDriver, or a test fake) owns
// connection pooling, retries and topology; this interface only describes
// the operations cachecore issues against it.
type Driver interface {
	// Get returns the raw bytes stored at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value at key only if key does not already exist, used by
	// the distributed lock to acquire ownership. Returns true if the value
	// was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Del removes one or more keys. Returns the number of keys removed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire sets a new TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live for key, or ErrKeyNotFound if
	// the key does not exist. A negative duration with a nil error means the
	// key has no expiry set.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// MGet returns the raw bytes for each of keys, in the same order. A
	// missing key's slot is nil.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	// PipelineSet writes every item in one round trip. All items share ttl.
	PipelineSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Scan iterates keys matching pattern starting from cursor, returning
	// the next cursor (0 means iteration is complete) and the batch of keys
	// found. Mirrors Redis's cursor-based SCAN so a full keyspace scan never
	// blocks the server the way KEYS would.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (nextCursor uint64, keys []string, err error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error
	// SMembers returns every member of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int64, error)

	// Eval executes a Lua script, always by source (no SHA caching at this
	// layer -- see ScriptLoad/EvalSha for that).
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	// EvalSha executes a previously-loaded Lua script by SHA. Returns
	// ErrNoScript if the driver's backing store does not recognize the SHA
	// (e.g. after a Redis restart flushed its script cache), at which point
	// the caller should fall back to Eval and re-load it.
	EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error)
	// ScriptLoad loads a script into the driver's script cache and returns
	// its SHA1 digest for later EvalSha calls.
	ScriptLoad(ctx context.Context, script string) (sha string, err error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error
	// Close releases the driver's underlying connections.
	Close() error
}
