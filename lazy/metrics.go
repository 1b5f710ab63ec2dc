package lazy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Preload outcome labels.
const (
	outcomeWarmed  = "warmed"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)

// Metrics collects subsystem counters. A nil *Metrics is valid everywhere
// and disables collection with zero overhead.
type Metrics struct {
	preloads          *prometheus.CounterVec
	promotions        prometheus.Counter
	promotionRetries  prometheus.Counter
	promotionFailures prometheus.Counter
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	cacheBytes        prometheus.Gauge
}

// NewMetrics registers the subsystem collectors with reg. A nil registerer
// gets a private registry, useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		preloads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "adagio_preloads_total",
			Help: "Preload task executions by outcome.",
		}, []string{"outcome"}),
		promotions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "adagio_promotions_total",
			Help: "Elements promoted from placeholder to real source.",
		}),
		promotionRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "adagio_promotion_retries_total",
			Help: "Single-retry promotions after a load error.",
		}),
		promotionFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "adagio_promotion_failures_total",
			Help: "Elements left in the terminal failed state.",
		}),
		cacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "adagio_cache_hits_total",
			Help: "Warm cache lookups served from memory or disk.",
		}),
		cacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "adagio_cache_misses_total",
			Help: "Warm cache lookups that found nothing.",
		}),
		cacheBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "adagio_cache_bytes",
			Help: "Bytes held by the in-memory warm cache.",
		}),
	}
}

func (m *Metrics) observePreload(outcome string) {
	if m == nil {
		return
	}
	m.preloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observePromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *Metrics) observePromotionRetry() {
	if m == nil {
		return
	}
	m.promotionRetries.Inc()
}

func (m *Metrics) observePromotionFailure() {
	if m == nil {
		return
	}
	m.promotionFailures.Inc()
}

func (m *Metrics) observeCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) observeCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) setCacheBytes(n int64) {
	if m == nil {
		return
	}
	m.cacheBytes.Set(float64(n))
}
