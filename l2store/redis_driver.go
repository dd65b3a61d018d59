package l2store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDriver implements Driver on top of github.com/redis/go-redis/v9. It
// accepts any redis.UniversalClient the caller has already configured -- single
// instance, Sentinel-backed, or Cluster -- since go-redis exposes the same
// command surface for all three; picking one is the operator's job via how
// the client is constructed, never this driver's.
type RedisDriver struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a RedisDriver.
type Option func(*RedisDriver)

// WithPrefix namespaces every key this driver touches, mirroring the prefix
// convention keycodec.KeyCodec already applies at the cache-key level; this
// is for driver-level namespacing shared by multiple cachecore instances
// against one Redis deployment.
func WithPrefix(prefix string) Option {
	return func(d *RedisDriver) { d.prefix = prefix }
}

// NewRedisDriver wraps an existing go-redis client. Accepting
// redis.UniversalClient rather than *redis.Client lets callers pass a
// *redis.ClusterClient or *redis.FailoverClient interchangeably.
func NewRedisDriver(client redis.UniversalClient, opts ...Option) *RedisDriver {
	d := &RedisDriver{client: client}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RedisDriver) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return d.prefix + ":" + k
}

// Get implements Driver.
func (d *RedisDriver) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := d.client.Get(ctx, d.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return val, nil
}

// Set implements Driver.
func (d *RedisDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return d.client.Set(ctx, d.key(key), value, ttl).Err()
}

// SetNX implements Driver.
func (d *RedisDriver) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.key(key), value, ttl).Result()
}

// Del implements Driver.
func (d *RedisDriver) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = d.key(k)
	}
	return d.client.Del(ctx, prefixed...).Result()
}

// Exists implements Driver.
func (d *RedisDriver) Exists(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(key)).Result()
	return n > 0, err
}

// Expire implements Driver.
func (d *RedisDriver) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return d.client.Expire(ctx, d.key(key), ttl).Err()
}

// TTL implements Driver.
func (d *RedisDriver) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := d.client.TTL(ctx, d.key(key)).Result()
	if err != nil {
		return 0, err
	}
	// go-redis reports a missing key as the raw value -2 and a key without
	// expiry as -1 (neither is scaled to seconds).
	if ttl == -2 {
		return 0, ErrKeyNotFound
	}
	return ttl, nil
}

// MGet implements Driver.
func (d *RedisDriver) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = d.key(k)
	}
	values, err := d.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// PipelineSet implements Driver.
func (d *RedisDriver) PipelineSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	pipe := d.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, d.key(key), value, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Scan implements Driver.
func (d *RedisDriver) Scan(ctx context.Context, cursor uint64, pattern string, count int64) (uint64, []string, error) {
	keys, next, err := d.client.Scan(ctx, cursor, d.key(pattern), count).Result()
	if err != nil {
		return 0, nil, err
	}
	if d.prefix != "" {
		stripped := make([]string, len(keys))
		prefixLen := len(d.prefix) + 1
		for i, k := range keys {
			if len(k) > prefixLen {
				stripped[i] = k[prefixLen:]
			} else {
				stripped[i] = k
			}
		}
		keys = stripped
	}
	return next, keys, nil
}

// SAdd implements Driver.
func (d *RedisDriver) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return d.client.SAdd(ctx, d.key(key), args...).Err()
}

// SRem implements Driver.
func (d *RedisDriver) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return d.client.SRem(ctx, d.key(key), args...).Err()
}

// SMembers implements Driver.
func (d *RedisDriver) SMembers(ctx context.Context, key string) ([]string, error) {
	return d.client.SMembers(ctx, d.key(key)).Result()
}

// SCard implements Driver.
func (d *RedisDriver) SCard(ctx context.Context, key string) (int64, error) {
	return d.client.SCard(ctx, d.key(key)).Result()
}

// Eval implements Driver.
func (d *RedisDriver) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	prefixed := d.prefixKeys(keys)
	return d.client.Eval(ctx, script, prefixed, args...).Result()
}

// EvalSha implements Driver. A NOSCRIPT response from Redis is translated to
// ErrNoScript so callers (the Lua script cache in this package) know to fall
// back to Eval and re-register the script.
func (d *RedisDriver) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) (interface{}, error) {
	prefixed := d.prefixKeys(keys)
	res, err := d.client.EvalSha(ctx, sha, prefixed, args...).Result()
	if err != nil && isNoScriptErr(err) {
		return nil, ErrNoScript
	}
	return res, err
}

// ScriptLoad implements Driver.
func (d *RedisDriver) ScriptLoad(ctx context.Context, script string) (string, error) {
	return d.client.ScriptLoad(ctx, script).Result()
}

// Ping implements Driver.
func (d *RedisDriver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close implements Driver.
func (d *RedisDriver) Close() error {
	return d.client.Close()
}

func (d *RedisDriver) prefixKeys(keys []string) []string {
	if d.prefix == "" {
		return keys
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = d.key(k)
	}
	return out
}

// isNoScriptErr matches Redis's "NOSCRIPT No matching script" error text,
// which go-redis surfaces as a plain *errors.errorString rather than a typed
// sentinel.
func isNoScriptErr(err error) bool {
	if err == nil {
		return false
	}
	const prefix = "NOSCRIPT"
	msg := err.Error()
	return len(msg) >= len(prefix) && msg[:len(prefix)] == prefix
}

var _ Driver = (*RedisDriver)(nil)
