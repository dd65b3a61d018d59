package cachemanager

import (
	"container/heap"
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/otero-cache/cachecore/pkg/utils"
)

// CacheEntry is the value L1Store holds for one key, carrying enough of the
// SWR time horizons (CachedAt/ExpiresAt) that CacheService can classify a
// read without a second lookup. StaleAt is zero for entries written without
// SWR semantics.
type CacheEntry struct {
	Value     interface{} `json:"value"`
	CachedAt  time.Time   `json:"cached_at"`
	StaleAt   time.Time   `json:"stale_at,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
	Source    string      `json:"source"` // "l1", "l2", "origin"
	Tags      []string    `json:"tags,omitempty"`
}

// EvictionStrategy selects which policy a shard uses once it reaches
// capacity.
type EvictionStrategy string

const (
	EvictionLRU EvictionStrategy = "lru"
	EvictionLFU EvictionStrategy = "lfu"
)

// evictor tracks key ordering for one shard's eviction policy, independent
// of the entries map itself -- a shard asks its evictor which key to evict,
// then removes that key from both structures together.
type evictor interface {
	touch(key string)
	add(key string)
	remove(key string)
	evict() (string, bool)
	len() int
}

// lruEvictor is the teacher's original container/list-backed LRU, lifted out
// of L1Cache so it can be selected per shard alongside lfuEvictor.
type lruEvictor struct {
	list  *list.List
	index map[string]*list.Element
}

func newLRUEvictor() *lruEvictor {
	return &lruEvictor{list: list.New(), index: make(map[string]*list.Element)}
}

func (e *lruEvictor) touch(key string) {
	if el, ok := e.index[key]; ok {
		e.list.MoveToFront(el)
	}
}

func (e *lruEvictor) add(key string) {
	e.index[key] = e.list.PushFront(key)
}

func (e *lruEvictor) remove(key string) {
	if el, ok := e.index[key]; ok {
		e.list.Remove(el)
		delete(e.index, key)
	}
}

func (e *lruEvictor) evict() (string, bool) {
	back := e.list.Back()
	if back == nil {
		return "", false
	}
	key := back.Value.(string)
	e.remove(key)
	return key, true
}

func (e *lruEvictor) len() int { return e.list.Len() }

// lfuHeapItem is one entry in lfuEvictor's min-heap, ordered by ascending
// access frequency (ties broken by insertion order so the oldest of equally
// frequent keys evicts first, matching the ascending-age tiebreak the
// teacher's LRU list gives for free).
type lfuHeapItem struct {
	key    string
	freq   int64
	seq    int64
	index  int
}

type lfuHeap []*lfuHeapItem

func (h lfuHeap) Len() int { return len(h) }
func (h lfuHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].seq < h[j].seq
}
func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *lfuHeap) Push(x interface{}) {
	item := x.(*lfuHeapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *lfuHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// lfuEvictor implements least-frequently-used eviction via a min-heap keyed
// by access count, satisfying spec invariant 4 (the evicted key has the
// minimum frequency among distinct-frequency keys).
type lfuEvictor struct {
	heap  lfuHeap
	index map[string]*lfuHeapItem
	seq   int64
}

func newLFUEvictor() *lfuEvictor {
	return &lfuEvictor{index: make(map[string]*lfuHeapItem)}
}

func (e *lfuEvictor) touch(key string) {
	item, ok := e.index[key]
	if !ok {
		return
	}
	item.freq++
	heap.Fix(&e.heap, item.index)
}

func (e *lfuEvictor) add(key string) {
	e.seq++
	item := &lfuHeapItem{key: key, freq: 1, seq: e.seq}
	e.index[key] = item
	heap.Push(&e.heap, item)
}

func (e *lfuEvictor) remove(key string) {
	item, ok := e.index[key]
	if !ok {
		return
	}
	heap.Remove(&e.heap, item.index)
	delete(e.index, key)
}

func (e *lfuEvictor) evict() (string, bool) {
	if e.heap.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&e.heap).(*lfuHeapItem)
	delete(e.index, item.key)
	return item.key, true
}

func (e *lfuEvictor) len() int { return e.heap.Len() }

func newEvictor(strategy EvictionStrategy) evictor {
	if strategy == EvictionLFU {
		return newLFUEvictor()
	}
	return newLRUEvictor()
}

// l1Shard implements a single partition of L1Store: a thread-safe in-memory
// cache with pluggable LRU/LFU eviction and lazy TTL expiration. Trade-offs
// (per shard, as in the original single-shard design):
// - RWMutex chosen over sync.Map for better control over eviction and TTL.
// - sync.Map lacks ordered iteration needed for LRU/LFU, and atomic eviction
//   is complex without it.
// - A global lock across the whole store would serialize every write behind
//   one mutex; sharding by key (see L1Store) keeps each lock's blast radius
//   to 1/N of the keyspace.
type l1Shard struct {
	mu         sync.RWMutex
	cache      map[string]*CacheEntry
	evictor    evictor
	maxEntries int
}

func newL1Shard(maxEntries int, strategy EvictionStrategy) *l1Shard {
	return &l1Shard{
		cache:      make(map[string]*CacheEntry, maxEntries),
		evictor:    newEvictor(strategy),
		maxEntries: maxEntries,
	}
}

// Get retrieves a value from the shard and records an access with the
// eviction policy. Returns (entry, true) if found and not expired.
// Complexity: O(1) average for LRU, O(log n) for LFU (heap fix-up).
func (s *l1Shard) Get(key string) (*CacheEntry, bool) {
	s.mu.RLock()
	entry, exists := s.cache[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		s.mu.Lock()
		s.deleteUnsafe(key)
		s.mu.Unlock()
		return nil, false
	}

	s.mu.Lock()
	s.evictor.touch(key)
	s.mu.Unlock()

	return entry, true
}

// Set stores an entry, evicting per-policy if at capacity.
func (s *l1Shard) Set(key string, entry *CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[key]; exists {
		s.cache[key] = entry
		s.evictor.touch(key)
		return
	}

	if s.evictor.len() >= s.maxEntries {
		if victim, ok := s.evictor.evict(); ok {
			delete(s.cache, victim)
		}
	}

	s.cache[key] = entry
	s.evictor.add(key)
}

func (s *l1Shard) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteUnsafe(key)
}

func (s *l1Shard) deleteUnsafe(key string) bool {
	if _, exists := s.cache[key]; !exists {
		return false
	}
	s.evictor.remove(key)
	delete(s.cache, key)
	return true
}

func (s *l1Shard) DeletePattern(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	prefix := strings.TrimSuffix(pattern, "*")

	var toDelete []string
	for key := range s.cache {
		if matchesPattern(key, pattern, prefix) {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		if s.deleteUnsafe(key) {
			count++
		}
	}
	return count
}

func (s *l1Shard) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, entry := range s.cache {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, key)
		}
	}
	count := 0
	for _, key := range expired {
		if s.deleteUnsafe(key) {
			count++
		}
	}
	return count
}

func (s *l1Shard) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *l1Shard) Clear(strategy EvictionStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*CacheEntry, s.maxEntries)
	s.evictor = newEvictor(strategy)
}

// matchesPattern checks if a key matches a pattern with wildcard support.
func matchesPattern(key, pattern, prefix string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, prefix)
	}
	return key == pattern
}

// L1Store is CacheService's in-process tier: a set of l1Shard partitions,
// selected per key via a consistent-hash ring so that eviction bookkeeping
// for one hot key never serializes behind a lock held by an unrelated key.
// This generalizes the teacher's single-mutex L1Cache, whose own doc
// comments flagged the global lock as the first thing to shard under load.
type L1Store struct {
	shards     []*l1Shard
	shardByID  map[string]*l1Shard
	ring       *utils.HashRing
	strategy   EvictionStrategy
}

// L1Config configures L1Store construction.
type L1Config struct {
	MaxEntries int              // total entries across all shards
	Strategy   EvictionStrategy // "lru" (default) or "lfu"
	// Shards partitions MaxEntries (and eviction ordering) across that many
	// independent l1Shard instances. 0 or 1 (the default) keeps a single
	// shard, so MaxEntries and the LRU/LFU ordering invariants hold exactly
	// across the whole store -- the documented, spec-faithful behavior.
	// Setting Shards > 1 trades that global bound/ordering guarantee for
	// higher write concurrency: capacity becomes approximately MaxEntries
	// (at least Shards, since each shard always holds a minimum of one
	// entry) and eviction order is only LRU/LFU within a shard, not across
	// the store. Only raise it when that approximation is acceptable for
	// the workload.
	Shards int
}

// NewL1Store builds an L1Store per cfg, a single authoritative shard unless
// cfg.Shards explicitly asks for more.
func NewL1Store(cfg L1Config) *L1Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.Strategy == "" {
		cfg.Strategy = EvictionLRU
	}
	numShards := cfg.Shards
	if numShards < 1 {
		numShards = 1
	}

	perShard := cfg.MaxEntries / numShards
	if perShard < 1 {
		perShard = 1
	}

	store := &L1Store{
		shards:    make([]*l1Shard, numShards),
		shardByID: make(map[string]*l1Shard, numShards),
		ring:      utils.NewHashRing(0),
		strategy:  cfg.Strategy,
	}
	for i := 0; i < numShards; i++ {
		shard := newL1Shard(perShard, cfg.Strategy)
		id := shardNodeID(i)
		store.shards[i] = shard
		store.shardByID[id] = shard
		_ = store.ring.AddNode(id, 1)
	}
	return store
}

func shardNodeID(i int) string {
	return fmt.Sprintf("shard-%d", i)
}

func (l *L1Store) shardFor(key string) *l1Shard {
	node := l.ring.GetNode(key)
	if shard, ok := l.shardByID[node]; ok {
		return shard
	}
	return l.shards[0]
}

func (l *L1Store) Get(key string) (*CacheEntry, bool) {
	return l.shardFor(key).Get(key)
}

func (l *L1Store) Set(key string, entry *CacheEntry) {
	l.shardFor(key).Set(key, entry)
}

func (l *L1Store) Delete(key string) bool {
	return l.shardFor(key).Delete(key)
}

// DeletePattern removes matching keys across all shards, since a glob
// pattern may span shard boundaries.
func (l *L1Store) DeletePattern(pattern string) int {
	count := 0
	for _, s := range l.shards {
		count += s.DeletePattern(pattern)
	}
	return count
}

func (l *L1Store) CleanupExpired() int {
	count := 0
	for _, s := range l.shards {
		count += s.CleanupExpired()
	}
	return count
}

func (l *L1Store) Size() int {
	size := 0
	for _, s := range l.shards {
		size += s.Size()
	}
	return size
}

func (l *L1Store) Clear() {
	for _, s := range l.shards {
		s.Clear(l.strategy)
	}
}
