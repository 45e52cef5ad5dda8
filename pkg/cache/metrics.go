package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

// newMetrics builds the cache collectors. With a nil registerer they are
// created but not registered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identd_cache_hits_total",
			Help: "Cache reads that returned a live entry.",
		}, []string{"namespace"}),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identd_cache_misses_total",
			Help: "Cache reads that found nothing or an expired entry.",
		}, []string{"namespace"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identd_cache_evictions_total",
			Help: "Entries evicted because a namespace was full.",
		}, []string{"namespace"}),
		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identd_cache_entries",
			Help: "Entries currently held per namespace.",
		}, []string{"namespace"}),
	}
}
