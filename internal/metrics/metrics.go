// Package metrics registers the Prometheus counters this module exposes for
// cache effectiveness, KMS traffic, and event-batch flushing. It mirrors the
// sync.Once/promauto.With(reg) pattern from the teacher's
// internal/security/metrics.go, trimmed to the counters this module's
// domain actually produces.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	KMSRequestsTotal    *prometheus.CounterVec
	EventsPostedTotal   prometheus.Counter
	EventsFlushedTotal  prometheus.Counter
)

var initOnce sync.Once

// Init registers all counters with the given constant labels. Safe to call
// multiple times; only the first call registers anything.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	CacheHitsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ubiq_cache_hits_total",
		Help: "Total cache hits, labeled by cache (dataset, key).",
	}, []string{"cache"})

	CacheMissesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ubiq_cache_misses_total",
		Help: "Total cache misses, labeled by cache (dataset, key).",
	}, []string{"cache"})

	KMSRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "ubiq_kms_requests_total",
		Help: "Total KMS requests, labeled by endpoint and outcome.",
	}, []string{"endpoint", "status"})

	EventsPostedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ubiq_events_posted_total",
		Help: "Total usage events included in a successful flush POST.",
	})

	EventsFlushedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "ubiq_events_flush_total",
		Help: "Total number of event-batch flushes attempted.",
	})
}
