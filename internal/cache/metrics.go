package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes cache counters to prometheus. One Metrics instance is
// shared by every page manager; series are labeled by data kind.
type Metrics struct {
	requests  *prometheus.CounterVec
	fetches   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	pages     *prometheus.GaugeVec
}

// NewMetrics registers the cache collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradery",
			Subsystem: "pagecache",
			Name:      "requests_total",
			Help:      "Page requests by outcome (hit, miss, coalesced).",
		}, []string{"kind", "result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradery",
			Subsystem: "pagecache",
			Name:      "fetches_total",
			Help:      "Fetch sub-range outcomes (network, store, failure).",
		}, []string{"kind", "source"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradery",
			Subsystem: "pagecache",
			Name:      "evictions_total",
			Help:      "Pages evicted after the grace period.",
		}, []string{"kind"}),
		pages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradery",
			Subsystem: "pagecache",
			Name:      "active_pages",
			Help:      "Pages currently held in memory.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.fetches, m.evictions, m.pages)
	}

	return m
}

func (m *Metrics) request(kind, result string) {
	if m != nil {
		m.requests.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) fetch(kind, source string) {
	if m != nil {
		m.fetches.WithLabelValues(kind, source).Inc()
	}
}

func (m *Metrics) eviction(kind string) {
	if m != nil {
		m.evictions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) setPages(kind string, n int) {
	if m != nil {
		m.pages.WithLabelValues(kind).Set(float64(n))
	}
}
