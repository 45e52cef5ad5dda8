package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, capacity int) (*Cache, *time.Time, *prometheus.Registry) {
	t.Helper()
	cfg := DefaultConfig()
	for ns, nc := range cfg.Namespaces {
		nc.Capacity = capacity
		cfg.Namespaces[ns] = nc
	}
	reg := prometheus.NewRegistry()
	c, err := New(cfg, zaptest.NewLogger(t), reg)
	require.NoError(t, err)
	now := t0
	c.SetClock(func() time.Time { return now })
	return c, &now, reg
}

func TestGetSetAndExpiry(t *testing.T) {
	c, now, _ := newTestCache(t, 8)

	c.SetTTL(ProfileKey("sam"), "record", time.Minute)
	v, ok := c.Get(ProfileKey("sam"))
	require.True(t, ok)
	assert.Equal(t, "record", v)

	*now = t0.Add(time.Minute)
	_, ok = c.Get(ProfileKey("sam"))
	assert.False(t, ok, "entries are expired at their deadline")

	m := c.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.InDelta(t, 0.5, m.HitRate, 1e-9)
	assert.Equal(t, 0, m.Size)
}

func TestWriteResetsTTL(t *testing.T) {
	c, now, _ := newTestCache(t, 8)

	c.SetTTL(ProfileKey("sam"), 1, time.Minute)
	*now = t0.Add(50 * time.Second)
	c.SetTTL(ProfileKey("sam"), 2, time.Minute)
	*now = t0.Add(90 * time.Second)

	v, ok := c.Get(ProfileKey("sam"))
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestEvictsOldestWrittenFirst(t *testing.T) {
	c, _, reg := newTestCache(t, 3)

	for i := 0; i < 3; i++ {
		c.Set(ProfileKey(fmt.Sprintf("id%d", i)), i)
	}
	// reads do not reorder
	_, ok := c.Get(ProfileKey("id0"))
	require.True(t, ok)

	c.Set(ProfileKey("id3"), 3)

	_, ok = c.Get(ProfileKey("id0"))
	assert.False(t, ok)
	for i := 1; i <= 3; i++ {
		_, ok := c.Get(ProfileKey(fmt.Sprintf("id%d", i)))
		assert.True(t, ok)
	}

	assert.Equal(t, uint64(1), c.Metrics().Namespaces[NSProfile].Evictions)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.evictions.WithLabelValues("profile")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.metrics.entries.WithLabelValues("profile")))

	n, err := testutil.GatherAndCount(reg, "identd_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRewriteMovesToBack(t *testing.T) {
	c, _, _ := newTestCache(t, 2)

	c.Set(ProfileKey("a"), 1)
	c.Set(ProfileKey("b"), 2)
	c.Set(ProfileKey("a"), 3)
	c.Set(ProfileKey("c"), 4)

	_, ok := c.Get(ProfileKey("b"))
	assert.False(t, ok)
	v, ok := c.Get(ProfileKey("a"))
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestInvalidateIdentity(t *testing.T) {
	c, _, _ := newTestCache(t, 16)

	c.Set(ProfileKey("sam"), "p")
	c.Set(ProfileKey("samuel"), "p")
	c.Set(SimilarityKey("sam", 1, "hello"), 0.4)
	c.Set(SimilarityKey("sam", 1, "bye"), 0.1)
	c.Set(SimilarityKey("samuel", 1, "hello"), 0.2)
	c.Set(TrustKey("sam", ""), []string{})

	c.InvalidateIdentity("sam")

	_, ok := c.Get(ProfileKey("sam"))
	assert.False(t, ok)
	_, ok = c.Get(SimilarityKey("sam", 1, "hello"))
	assert.False(t, ok)
	_, ok = c.Get(TrustKey("sam", ""))
	assert.False(t, ok)

	_, ok = c.Get(ProfileKey("samuel"))
	assert.True(t, ok)
	_, ok = c.Get(SimilarityKey("samuel", 1, "hello"))
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	c, now, _ := newTestCache(t, 16)

	c.SetTTL(ProfileKey("a"), 1, time.Minute)
	c.SetTTL(ProfileKey("b"), 1, time.Hour)
	c.SetTTL(SimilarityKey("a", 1, "x"), 0.2, time.Second)

	*now = t0.Add(2 * time.Minute)
	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Metrics().Size)
}

func TestClear(t *testing.T) {
	c, _, _ := newTestCache(t, 16)
	c.Set(ProfileKey("a"), 1)
	c.Set(SimilarityKey("a", 1, "x"), 0.2)

	require.NoError(t, c.Clear(NSSimilarity))
	assert.Equal(t, 1, c.Metrics().Size)

	require.NoError(t, c.Clear(""))
	assert.Equal(t, 0, c.Metrics().Size)

	assert.Error(t, c.Clear("bogus"))
}

func TestGetAsTypeMismatchIsMiss(t *testing.T) {
	c, _, _ := newTestCache(t, 16)
	c.Set(SimilarityKey("a", 1, "x"), "not a float")

	_, ok := GetAs[float64](c, SimilarityKey("a", 1, "x"))
	assert.False(t, ok)
	_, ok = c.Get(SimilarityKey("a", 1, "x"))
	assert.False(t, ok, "mismatched entry is dropped")

	c.Set(SimilarityKey("a", 1, "y"), 0.25)
	v, ok := GetAs[float64](c, SimilarityKey("a", 1, "y"))
	require.True(t, ok)
	assert.Equal(t, 0.25, v)
}

func TestUnknownKeyPrefix(t *testing.T) {
	c, _, _ := newTestCache(t, 16)
	c.Set("bogus:key", 1)
	_, ok := c.Get("bogus:key")
	assert.False(t, ok)
	_, ok = c.Get("noprefix")
	assert.False(t, ok)
}

func TestParseNamespace(t *testing.T) {
	ns, err := ParseNamespace(" Trust ")
	require.NoError(t, err)
	assert.Equal(t, NSTrust, ns)
	_, err = ParseNamespace("nope")
	assert.Error(t, err)
}
