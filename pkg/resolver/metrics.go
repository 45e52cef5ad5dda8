package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	resolutions *prometheus.CounterVec
	duration    prometheus.Histogram
	promotions  prometheus.Counter
	fallbacks   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "identd_resolutions_total",
			Help: "Utterances resolved, by the stage that decided.",
		}, []string{"stage"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "identd_resolve_duration_seconds",
			Help:    "Time spent resolving one utterance.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		promotions: f.NewCounter(prometheus.CounterOpts{
			Name: "identd_promotions_total",
			Help: "Foreign clusters promoted to echo identities.",
		}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "identd_resolve_fallbacks_total",
			Help: "Resolutions that failed and fell back to the anchor.",
		}),
	}
}
