// Package cache implements the bounded in-memory Cache Manager
// (spec.md §4.6): LRU/LFU eviction, TTL with avalanche jitter, dirty-bit
// tracking for the Auto-Sync Service, and penetration/breakdown
// protection. The LRU strategy is backed by
// github.com/hashicorp/golang-lru/v2 (an indirect docdb dependency,
// promoted to direct here) rather than a hand-rolled list+map, since
// docdb's own cache-shaped code (the index shards) is a plain map with
// no eviction at all — this is the one component the teacher has no
// analogue for, so it is grounded on the library itself plus docdb's
// general "mutex-guarded struct with Stats()" shape. Breakdown
// protection uses golang.org/x/sync/singleflight (also an indirect
// docdb dependency) to coalesce concurrent misses for the same key.
package cache

import (
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/kartikbazzad/ldbstore/internal/errs"
	"github.com/kartikbazzad/ldbstore/internal/metrics"
)

type Strategy string

const (
	StrategyLRU Strategy = "lru"
	StrategyLFU Strategy = "lfu"
)

type entry struct {
	key      string
	value    interface{}
	expiry   time.Time
	dirty    bool
	isNull   bool   // penetration-protection marker: a cached "not found"
	tag      string // diagnostic id stamped on penetration entries, for correlating a flood of misses to one SetNull call in logs
	freq     int    // LFU only
}

type Config struct {
	Strategy          Strategy
	MaxSize           int
	DefaultExpiry     time.Duration
	MaxMemoryUsage    int64
	MemoryThreshold   float64
	AvalancheJitterMS int
	PenetrationTTL    time.Duration
	EnablePenetration bool
	EnableBreakdown   bool
	EnableAvalanche   bool
}

// FlushFunc is invoked when eviction pressure finds only dirty entries
// left to evict: it must synchronously flush at least one dirty key to
// disk and return the keys it cleaned. It is installed with
// SetFlushFunc; no non-test code in this module installs one.
type FlushFunc func() (cleaned []string)

type Cache struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[string]*entry
	lruOrder *lru.Cache[string, struct{}] // tracks recency for eviction candidates only
	group    singleflight.Group
	flush    FlushFunc
	metrics  *metrics.Metrics
	table    func(key string) string // derives a table name from a cache key, for metrics labels

	memoryUsed int64
}

func New(cfg Config, m *metrics.Metrics) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	order, _ := lru.New[string, struct{}](cfg.MaxSize)
	return &Cache{
		cfg:      cfg,
		entries:  make(map[string]*entry),
		lruOrder: order,
		metrics:  m,
		table:    TableFromKey,
	}
}

func (c *Cache) SetFlushFunc(fn FlushFunc) { c.flush = fn }

func (c *Cache) jitter(base time.Duration) time.Duration {
	if !c.cfg.EnableAvalanche || c.cfg.AvalancheJitterMS <= 0 {
		return base
	}
	return base + time.Duration(rand.Intn(c.cfg.AvalancheJitterMS))*time.Millisecond
}

// Set stores a value with an optional explicit expiry (zero = use
// DefaultExpiry, jittered). dirty marks the entry as belonging to the
// auto-sync flush set. Set returns ErrEvictionExhausted when the cache
// is at capacity, every entry is dirty, and the auto-sync drain made no
// progress freeing one (spec.md §4.6); the entry is still stored, since
// eviction pressure must affect freshness of the cache, not correctness
// of the write that triggered it.
func (c *Cache) Set(key string, value interface{}, expiry time.Duration, dirty bool) error {
	if expiry <= 0 {
		expiry = c.cfg.DefaultExpiry
	}
	expiry = c.jitter(expiry)

	c.mu.Lock()
	defer c.mu.Unlock()

	var evictErr error
	if _, exists := c.entries[key]; !exists {
		evictErr = c.evictIfNeededLocked()
	}
	c.entries[key] = &entry{
		key:    key,
		value:  value,
		expiry: time.Now().Add(expiry),
		dirty:  dirty,
	}
	c.lruOrder.Add(key, struct{}{})
	return evictErr
}

// SetNull caches a negative lookup for PenetrationTTL when penetration
// protection is enabled (spec.md §4.6).
func (c *Cache) SetNull(key string) error {
	if !c.cfg.EnablePenetration {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var evictErr error
	if _, exists := c.entries[key]; !exists {
		evictErr = c.evictIfNeededLocked()
	}
	c.entries[key] = &entry{key: key, isNull: true, tag: uuid.NewString(), expiry: time.Now().Add(c.cfg.PenetrationTTL)}
	c.lruOrder.Add(key, struct{}{})
	return evictErr
}

// PenetrationTag returns the diagnostic id stamped on a cached negative
// lookup, for correlating repeated misses against the same key in logs.
func (c *Cache) PenetrationTag(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.isNull {
		return "", false
	}
	return e.tag, true
}

// Get returns (value, isNull, found). isNull distinguishes a cached
// negative lookup from a real miss.
func (c *Cache) Get(key string) (interface{}, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.recordMiss(key)
		return nil, false, false
	}
	if time.Now().After(e.expiry) {
		delete(c.entries, key)
		c.lruOrder.Remove(key)
		c.recordMiss(key)
		return nil, false, false
	}
	if c.cfg.Strategy == StrategyLFU {
		e.freq++
	} else {
		c.lruOrder.Get(key) // touch for recency
	}
	c.recordHit(key)
	if e.isNull {
		return nil, true, true
	}
	return e.value, false, true
}

func (c *Cache) recordHit(key string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(c.table(key)).Inc()
	}
}

func (c *Cache) recordMiss(key string) {
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(c.table(key)).Inc()
	}
}

// GetOrLoad coalesces concurrent misses for the same key behind one
// in-flight load (breakdown protection, spec.md §4.6).
func (c *Cache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	if v, isNull, found := c.Get(key); found {
		if isNull {
			return nil, nil
		}
		return v, nil
	}
	if !c.cfg.EnableBreakdown {
		return load()
	}
	v, err, _ := c.group.Do(key, load)
	return v, err
}

func (c *Cache) Has(key string) bool {
	_, _, found := c.Get(key)
	return found
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.lruOrder.Remove(key)
}

// DeletePrefix invalidates every key with the given prefix, used when a
// table's tracked-keys registry is unavailable (spec.md §4.8 fallback).
func (c *Cache) DeletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
			c.lruOrder.Remove(k)
		}
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lruOrder.Purge()
}

// GetDirtyData returns a snapshot of all dirty entries, keyed as stored.
func (c *Cache) GetDirtyData() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{})
	for k, e := range c.entries {
		if e.dirty {
			out[k] = e.value
		}
	}
	return out
}

// MarkAsClean clears the dirty bit only if the in-memory value is still
// the one that was flushed (spec.md §5: a user write that invalidates a
// key mid-flush must not have its new value silently marked clean).
func (c *Cache) MarkAsClean(key string, flushedValue interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.dirty && sameValue(e.value, flushedValue) {
		e.dirty = false
	}
}

func (c *Cache) MarkAsCleanBulk(flushed map[string]interface{}) {
	for k, v := range flushed {
		c.MarkAsClean(k, v)
	}
}

func sameValue(a, b interface{}) bool {
	// Comparison is by pointer/structural equality of the boxed value
	// the auto-sync loop captured at snapshot time, not a deep document
	// comparison — the cache stores whatever type the writer put in, and
	// the auto-sync loop flushes exactly the pointer it read.
	return a == nil && b == nil || fastEqual(a, b)
}

func fastEqual(a, b interface{}) bool {
	ap, aok := a.(interface{ Equal(interface{}) bool })
	if aok {
		return ap.Equal(b)
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta != nil && !ta.Comparable() {
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		switch ta.Kind() {
		case reflect.Slice:
			return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
		case reflect.Map:
			return va.Pointer() == vb.Pointer()
		}
		return false
	}
	return a == b
}

func (c *Cache) GetSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type Stats struct {
	Size       int
	DirtyCount int
}

func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirty := 0
	for _, e := range c.entries {
		if e.dirty {
			dirty++
		}
	}
	return Stats{Size: len(c.entries), DirtyCount: dirty}
}

// evictIfNeededLocked runs under c.mu. It evicts non-dirty entries per
// the configured strategy; if only dirty entries remain and capacity is
// exceeded, it triggers the auto-sync drain callback and retries once,
// then errors (spec.md §4.6: "trigger an auto-sync drain and retry
// once, then error").
func (c *Cache) evictIfNeededLocked() error {
	if len(c.entries) < c.cfg.MaxSize {
		return nil
	}
	if c.evictOneLocked() {
		return nil
	}
	if c.flush != nil {
		c.mu.Unlock()
		cleaned := c.flush()
		c.mu.Lock()
		for _, k := range cleaned {
			if e, ok := c.entries[k]; ok {
				e.dirty = false
			}
		}
	}
	if c.evictOneLocked() {
		return nil
	}
	return ErrEvictionExhausted
}

func (c *Cache) evictOneLocked() bool {
	switch c.cfg.Strategy {
	case StrategyLFU:
		return c.evictLFULocked()
	default:
		return c.evictLRULocked()
	}
}

func (c *Cache) evictLRULocked() bool {
	keys := c.lruOrder.Keys() // oldest first
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok || e.dirty {
			continue
		}
		delete(c.entries, k)
		c.lruOrder.Remove(k)
		if c.metrics != nil {
			c.metrics.CacheEvictions.WithLabelValues("lru").Inc()
		}
		return true
	}
	return false
}

func (c *Cache) evictLFULocked() bool {
	var victim string
	minFreq := -1
	for k, e := range c.entries {
		if e.dirty {
			continue
		}
		if minFreq == -1 || e.freq < minFreq {
			minFreq = e.freq
			victim = k
		}
	}
	if victim == "" {
		return false
	}
	delete(c.entries, victim)
	c.lruOrder.Remove(victim)
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues("lfu").Inc()
	}
	return true
}

// ErrEvictionExhausted is returned by Set/SetNull when the cache is at
// capacity, every entry is dirty, and the auto-sync drain callback
// could not free any of them.
var ErrEvictionExhausted = errs.New(errs.CacheEvictionExhausted, "cache full of dirty entries and flush made no progress")
