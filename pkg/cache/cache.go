// Package cache is a namespaced in-memory cache with per-entry TTLs and
// FIFO capacity eviction. Reads never reorder entries: the entry written
// longest ago is evicted first.
package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Siddhant-K-code/identd/pkg/identity"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Namespace partitions the cache. Each namespace has its own capacity
// and default TTL.
type Namespace string

const (
	NSProfile    Namespace = "profile"
	NSSimilarity Namespace = "similarity"
	NSContext    Namespace = "context"
	NSTrust      Namespace = "trust"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{NSProfile, NSSimilarity, NSContext, NSTrust}

// keyPrefix maps the first segment of a key to its namespace.
var keyPrefix = map[string]Namespace{
	"profile": NSProfile,
	"sim":     NSSimilarity,
	"ctx":     NSContext,
	"trust":   NSTrust,
}

// ParseNamespace converts user input into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Namespaces {
		if ns == known {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown cache namespace %q", s)
}

// NamespaceConfig sizes one namespace.
type NamespaceConfig struct {
	Capacity int
	TTL      time.Duration
}

// Config holds cache configuration.
type Config struct {
	Namespaces map[Namespace]NamespaceConfig

	// ForeignTTL is the shorter TTL used for foreign profiles.
	ForeignTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespaces: map[Namespace]NamespaceConfig{
			NSProfile:    {Capacity: 256, TTL: 10 * time.Minute},
			NSSimilarity: {Capacity: 1024, TTL: 5 * time.Minute},
			NSContext:    {Capacity: 128, TTL: 10 * time.Minute},
			NSTrust:      {Capacity: 256, TTL: 10 * time.Minute},
		},
		ForeignTTL: time.Minute,
	}
}

type entry struct {
	value     any
	expiresAt time.Time
}

type space struct {
	name Namespace
	ttl  time.Duration

	mu        sync.Mutex
	lru       *simplelru.LRU[string, entry]
	hits      uint64
	misses    uint64
	evictions uint64
}

// Cache is safe for concurrent use. Each namespace has its own lock.
type Cache struct {
	spaces     map[Namespace]*space
	foreignTTL time.Duration
	metrics    *metrics
	logger     *zap.Logger

	clockMu sync.RWMutex
	clock   func() time.Time
}

// New creates a cache. Metrics are registered with reg when it is non-nil.
func New(cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	c := &Cache{
		spaces:     make(map[Namespace]*space, len(Namespaces)),
		foreignTTL: cfg.ForeignTTL,
		metrics:    newMetrics(reg),
		logger:     logger.Named("cache"),
		clock:      time.Now,
	}
	if c.foreignTTL <= 0 {
		c.foreignTTL = defaults.ForeignTTL
	}
	for _, ns := range Namespaces {
		nc, ok := cfg.Namespaces[ns]
		if !ok {
			nc = defaults.Namespaces[ns]
		}
		if nc.Capacity <= 0 {
			nc.Capacity = defaults.Namespaces[ns].Capacity
		}
		if nc.TTL <= 0 {
			nc.TTL = defaults.Namespaces[ns].TTL
		}
		lru, err := simplelru.NewLRU[string, entry](nc.Capacity, nil)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", ns, err)
		}
		c.spaces[ns] = &space{name: ns, ttl: nc.TTL, lru: lru}
	}
	return c, nil
}

// SetClock replaces the time source used for expiry.
func (c *Cache) SetClock(clock func() time.Time) {
	c.clockMu.Lock()
	c.clock = clock
	c.clockMu.Unlock()
}

func (c *Cache) now() time.Time {
	c.clockMu.RLock()
	defer c.clockMu.RUnlock()
	return c.clock()
}

// ForeignTTL is the TTL callers should use for foreign profiles.
func (c *Cache) ForeignTTL() time.Duration { return c.foreignTTL }

func (c *Cache) spaceFor(key string) (*space, error) {
	prefix, _, ok := strings.Cut(key, ":")
	if !ok {
		return nil, fmt.Errorf("%w: key %q has no namespace prefix", identity.ErrCacheFault, key)
	}
	ns, ok := keyPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key prefix %q", identity.ErrCacheFault, prefix)
	}
	return c.spaces[ns], nil
}

// Get returns the live value stored under key.
func (c *Cache) Get(key string) (any, bool) {
	sp, err := c.spaceFor(key)
	if err != nil {
		c.logger.Warn("cache get", zap.Error(err))
		return nil, false
	}

	now := c.now()
	sp.mu.Lock()
	e, ok := sp.lru.Peek(key)
	if ok && !now.Before(e.expiresAt) {
		sp.lru.Remove(key)
		ok = false
	}
	if ok {
		sp.hits++
	} else {
		sp.misses++
	}
	size := sp.lru.Len()
	sp.mu.Unlock()

	if ok {
		c.metrics.hits.WithLabelValues(string(sp.name)).Inc()
	} else {
		c.metrics.misses.WithLabelValues(string(sp.name)).Inc()
	}
	c.metrics.entries.WithLabelValues(string(sp.name)).Set(float64(size))
	return e.value, ok
}

// Set stores value under key with the namespace's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, 0)
}

// SetTTL stores value with an explicit TTL. Non-positive ttl uses the
// namespace default. Writing a key resets its TTL and its FIFO position.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	sp, err := c.spaceFor(key)
	if err != nil {
		c.logger.Warn("cache set", zap.Error(err))
		return
	}
	if ttl <= 0 {
		ttl = sp.ttl
	}

	e := entry{value: value, expiresAt: c.now().Add(ttl)}
	sp.mu.Lock()
	if sp.lru.Contains(key) {
		// Re-adding an existing key refreshes its position.
		sp.lru.Remove(key)
	}
	evicted := sp.lru.Add(key, e)
	if evicted {
		sp.evictions++
	}
	size := sp.lru.Len()
	sp.mu.Unlock()

	if evicted {
		c.metrics.evictions.WithLabelValues(string(sp.name)).Inc()
	}
	c.metrics.entries.WithLabelValues(string(sp.name)).Set(float64(size))
}

// Invalidate removes key.
func (c *Cache) Invalidate(key string) {
	sp, err := c.spaceFor(key)
	if err != nil {
		return
	}
	sp.mu.Lock()
	sp.lru.Remove(key)
	size := sp.lru.Len()
	sp.mu.Unlock()
	c.metrics.entries.WithLabelValues(string(sp.name)).Set(float64(size))
}

// InvalidatePattern removes every key starting with prefix, across all
// namespaces, and returns how many were removed.
func (c *Cache) InvalidatePattern(prefix string) int {
	removed := 0
	for _, ns := range Namespaces {
		sp := c.spaces[ns]
		sp.mu.Lock()
		for _, k := range sp.lru.Keys() {
			if strings.HasPrefix(k, prefix) {
				sp.lru.Remove(k)
				removed++
			}
		}
		size := sp.lru.Len()
		sp.mu.Unlock()
		c.metrics.entries.WithLabelValues(string(ns)).Set(float64(size))
	}
	return removed
}

// InvalidateIdentity drops every entry derived from id: its profile,
// its similarity scores and its trust lists.
func (c *Cache) InvalidateIdentity(id string) {
	c.Invalidate(ProfileKey(id))
	c.InvalidatePattern("sim:" + id + ":")
	c.InvalidatePattern("trust:" + id + ":")
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for _, ns := range Namespaces {
		sp := c.spaces[ns]
		sp.mu.Lock()
		for _, k := range sp.lru.Keys() {
			if e, ok := sp.lru.Peek(k); ok && !now.Before(e.expiresAt) {
				sp.lru.Remove(k)
				removed++
			}
		}
		size := sp.lru.Len()
		sp.mu.Unlock()
		c.metrics.entries.WithLabelValues(string(ns)).Set(float64(size))
	}
	return removed
}

// Clear empties one namespace, or all of them when ns is empty.
func (c *Cache) Clear(ns Namespace) error {
	targets := Namespaces
	if ns != "" {
		if _, ok := c.spaces[ns]; !ok {
			return fmt.Errorf("unknown cache namespace %q", ns)
		}
		targets = []Namespace{ns}
	}
	for _, name := range targets {
		sp := c.spaces[name]
		sp.mu.Lock()
		sp.lru.Purge()
		sp.mu.Unlock()
		c.metrics.entries.WithLabelValues(string(name)).Set(0)
	}
	return nil
}

// Stats are the counters of one namespace or of the whole cache.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Evictions uint64  `json:"evictions"`
}

// Metrics is a snapshot of the cache counters.
type Metrics struct {
	Stats
	Namespaces map[Namespace]Stats `json:"namespaces"`
}

// Metrics returns the current counters.
func (c *Cache) Metrics() Metrics {
	m := Metrics{Namespaces: make(map[Namespace]Stats, len(Namespaces))}
	for _, ns := range Namespaces {
		sp := c.spaces[ns]
		sp.mu.Lock()
		st := Stats{
			Hits:      sp.hits,
			Misses:    sp.misses,
			Size:      sp.lru.Len(),
			Evictions: sp.evictions,
		}
		sp.mu.Unlock()
		st.HitRate = hitRate(st.Hits, st.Misses)
		m.Namespaces[ns] = st

		m.Hits += st.Hits
		m.Misses += st.Misses
		m.Size += st.Size
		m.Evictions += st.Evictions
	}
	m.HitRate = hitRate(m.Hits, m.Misses)
	return m
}

func hitRate(hits, misses uint64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
