package l2store

import (
	"context"
	"fmt"
	"time"

	"github.com/otero-cache/cachecore/pkg/utils"
)

// Envelope is the wire format L2Store stores for every key once SWR is in
// play: alongside the serialized value it carries the two timestamps a
// reader needs to classify the entry as fresh, stale, or expired without a
// second round trip. A plain (non-SWR) Get/Set never touches these fields.
type Envelope struct {
	Value     []byte    `json:"value"`
	CachedAt  time.Time `json:"cached_at"`
	StaleAt   time.Time `json:"stale_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config holds runtime configuration for L2Store.
type Config struct {
	// ScanCount is the COUNT hint passed to the underlying Driver's Scan,
	// balancing round trips against per-call server work.
	ScanCount int64
}

// DefaultConfig returns sane L2Store defaults.
func DefaultConfig() Config {
	return Config{ScanCount: 200}
}

// L2Store is the thin façade CacheService talks to for its distributed tier.
// It never branches on connection topology (that lives entirely inside the
// Driver implementation it wraps); its only job is serialization and the
// SWR envelope shape.
type L2Store struct {
	driver Driver
	ser    utils.Serializer
	cfg    Config
}

// New constructs an L2Store over driver, using ser to (de)serialize values.
func New(driver Driver, ser utils.Serializer, cfg Config) *L2Store {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultConfig().ScanCount
	}
	return &L2Store{driver: driver, ser: ser, cfg: cfg}
}

// Get retrieves and deserializes the value stored at key into dest.
// Returns ErrKeyNotFound if absent.
func (s *L2Store) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.driver.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.ser.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("l2store: unmarshal %s: %w", key, err)
	}
	return nil
}

// Set serializes value and stores it at key with the given TTL.
func (s *L2Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := s.ser.Marshal(value)
	if err != nil {
		return fmt.Errorf("l2store: marshal %s: %w", key, err)
	}
	return s.driver.Set(ctx, key, data, ttl)
}

// Delete removes key. Returns whether it existed.
func (s *L2Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.driver.Del(ctx, key)
	return n > 0, err
}

// DeleteMany removes every key in keys in one round trip, returning the
// number actually removed.
func (s *L2Store) DeleteMany(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.driver.Del(ctx, keys...)
}

// Has reports whether key exists.
func (s *L2Store) Has(ctx context.Context, key string) (bool, error) {
	return s.driver.Exists(ctx, key)
}

// TTL returns the remaining time-to-live for key.
func (s *L2Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.driver.TTL(ctx, key)
}

// GetMany retrieves and deserializes every key in keys in one round trip.
// newDest must return a fresh pointer to decode into for each present key.
// Missing keys are simply absent from the returned map.
func (s *L2Store) GetMany(ctx context.Context, keys []string, newDest func() interface{}) (map[string]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.driver.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(keys))
	for i, data := range values {
		if data == nil {
			continue
		}
		dest := newDest()
		if err := s.ser.Unmarshal(data, dest); err != nil {
			continue // a single corrupt entry degrades to a miss, not a fatal error
		}
		out[keys[i]] = dest
	}
	return out, nil
}

// SetMany serializes and stores every item in items, sharing one TTL, in a
// single pipelined round trip.
func (s *L2Store) SetMany(ctx context.Context, items map[string]interface{}, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(items))
	for key, value := range items {
		data, err := s.ser.Marshal(value)
		if err != nil {
			return fmt.Errorf("l2store: marshal %s: %w", key, err)
		}
		encoded[key] = data
	}
	return s.driver.PipelineSet(ctx, encoded, ttl)
}

// GetEnvelope retrieves an SWR Envelope for key, deserializing its Value
// into dest. Returns ErrKeyNotFound if absent.
func (s *L2Store) GetEnvelope(ctx context.Context, key string, dest interface{}) (*Envelope, error) {
	data, err := s.driver.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := s.ser.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("l2store: unmarshal envelope %s: %w", key, err)
	}
	if dest != nil && len(env.Value) > 0 {
		if err := s.ser.Unmarshal(env.Value, dest); err != nil {
			return nil, fmt.Errorf("l2store: unmarshal envelope value %s: %w", key, err)
		}
	}
	return &env, nil
}

// SetEnvelope serializes value and stores it wrapped in an Envelope carrying
// staleAt/expiresAt, with a Redis TTL set to the expiry (not the stale)
// horizon so the key survives exactly long enough to be served stale.
func (s *L2Store) SetEnvelope(ctx context.Context, key string, value interface{}, cachedAt, staleAt, expiresAt time.Time) error {
	valueData, err := s.ser.Marshal(value)
	if err != nil {
		return fmt.Errorf("l2store: marshal %s: %w", key, err)
	}
	env := Envelope{Value: valueData, CachedAt: cachedAt, StaleAt: staleAt, ExpiresAt: expiresAt}
	envData, err := s.ser.Marshal(env)
	if err != nil {
		return fmt.Errorf("l2store: marshal envelope %s: %w", key, err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second // already expired by the time we write it; let Redis reap it almost immediately
	}
	return s.driver.Set(ctx, key, envData, ttl)
}

// ScanKeys returns every key matching pattern, paging through the driver's
// cursor-based Scan until exhausted. Used by CacheService.InvalidateByPattern
// and CacheService.Clear.
func (s *L2Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		next, keys, err := s.driver.Scan(ctx, cursor, pattern, s.cfg.ScanCount)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

// Driver exposes the underlying Driver for components (stampede,
// invalidation.TagIndex) that need lower-level operations L2Store doesn't
// wrap, e.g. SADD/SMEMBERS or EVALSHA.
func (s *L2Store) Driver() Driver { return s.driver }
