package monitoring

import (
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var feedStates = []domain.FeedState{
	domain.FeedIdle,
	domain.FeedConnecting,
	domain.FeedOpen,
	domain.FeedReconnecting,
	domain.FeedClosed,
}

// PrometheusCollector records dashboard session metrics. It implements
// ports.Observer.
type PrometheusCollector struct {
	// Counters
	feedMessagesTotal   *prometheus.CounterVec
	feedReconnectsTotal prometheus.Counter
	fetchErrorsTotal    *prometheus.CounterVec
	pollDiscardedTotal  *prometheus.CounterVec
	storeUpdatesTotal   *prometheus.CounterVec

	// Histograms
	fetchDuration *prometheus.HistogramVec

	// Gauges
	feedState      *prometheus.GaugeVec
	collectionSize *prometheus.GaugeVec
	breakerState   *prometheus.GaugeVec
}

var _ ports.Observer = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the metrics with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		feedMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightdash_feed_messages_total",
			Help: "Live feed messages received, by type and outcome",
		}, []string{"type", "outcome"}),

		feedReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "freightdash_feed_reconnects_total",
			Help: "Live feed reconnect attempts",
		}),

		fetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightdash_backend_fetch_errors_total",
			Help: "Failed backend requests, by resource",
		}, []string{"resource"}),

		pollDiscardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightdash_poll_discarded_total",
			Help: "Poll responses discarded because a newer one was already applied",
		}, []string{"resource"}),

		storeUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freightdash_store_updates_total",
			Help: "Accepted store mutations, by collection and shown source",
		}, []string{"collection", "source"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freightdash_backend_fetch_duration_seconds",
			Help:    "Duration of backend requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"resource"}),

		feedState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freightdash_feed_state",
			Help: "1 for the current live feed state, 0 otherwise",
		}, []string{"state"}),

		collectionSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freightdash_collection_records",
			Help: "Records currently shown per collection",
		}, []string{"collection"}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freightdash_circuit_breaker_state",
			Help: "Circuit breaker state per backend resource (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
	}
}

func (p *PrometheusCollector) StoreUpdated(collection string, source domain.Source, records int) {
	p.storeUpdatesTotal.WithLabelValues(collection, string(source)).Inc()
	p.collectionSize.WithLabelValues(collection).Set(float64(records))
}

func (p *PrometheusCollector) FeedMessage(msgType string, outcome string) {
	p.feedMessagesTotal.WithLabelValues(msgType, outcome).Inc()
}

func (p *PrometheusCollector) FeedStateChanged(state domain.FeedState) {
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.feedState.WithLabelValues(string(s)).Set(v)
	}
}

func (p *PrometheusCollector) FeedReconnect() {
	p.feedReconnectsTotal.Inc()
}

func (p *PrometheusCollector) Fetch(resource domain.Resource, d time.Duration, err error) {
	p.fetchDuration.WithLabelValues(string(resource)).Observe(d.Seconds())
	if err != nil {
		p.fetchErrorsTotal.WithLabelValues(string(resource)).Inc()
	}
}

func (p *PrometheusCollector) PollDiscarded(resource domain.Resource) {
	p.pollDiscardedTotal.WithLabelValues(string(resource)).Inc()
}

// RecordBreakerState matches circuitbreaker.CircuitBreaker.OnStateChange.
func (p *PrometheusCollector) RecordBreakerState(name string, from, to circuitbreaker.State) {
	p.breakerState.WithLabelValues(name).Set(float64(to))
}
