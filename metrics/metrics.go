// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes
const (
	RefreshSucceeded   = "succeeded"
	RefreshRejected    = "rejected"
	RefreshUnreachable = "unreachable"
	RefreshCancelled   = "cancelled"
	RefreshFromStore   = "store"
)

// Recorder is what the gateway and the refresh coordinator report to.
type Recorder interface {
	RecordForward(module string, status int, attempt int, duration time.Duration)
	RecordForwardError(module string, kind string)
	RecordRefresh(outcome string)
	RecordRefreshCoalesced()
	RecordKeyCollisions(count int)
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordForward(string, int, int, time.Duration) {}
func (Nop) RecordForwardError(string, string) {}
func (Nop) RecordRefresh(string) {}
func (Nop) RecordRefreshCoalesced() {}
func (Nop) RecordKeyCollisions(int) {}

// Collector records gateway metrics in Prometheus.
type Collector struct {
	forwards       *prometheus.CounterVec
	forwardLatency *prometheus.HistogramVec
	forwardErrors  *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	coalesced      prometheus.Counter
	keyCollisions  prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Upstream forward attempts by module, status code and attempt number.",
		}, []string{"module", "status_code", "attempt"}),
		forwardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_seconds",
			Help:    "Latency of upstream forward attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module"}),
		forwardErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Requests answered with a gateway error, by module and error kind.",
		}, []string{"module", "kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_token_refresh_total",
			Help: "Access token refreshes by outcome.",
		}, []string{"outcome"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_token_refresh_coalesced_total",
			Help: "Refresh callers that shared another caller's in-flight refresh.",
		}),
		keyCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_transcode_key_collisions_total",
			Help: "Object keys left untransformed because they collided with another key.",
		}),
	}

	reg.MustRegister(
		c.forwards,
		c.forwardLatency,
		c.forwardErrors,
		c.refreshes,
		c.coalesced,
		c.keyCollisions,
	)

	return c
}

func (c *Collector) RecordForward(module string, status int, attempt int, duration time.Duration) {
	c.forwards.WithLabelValues(module, strconv.Itoa(status), strconv.Itoa(attempt)).Inc()
	c.forwardLatency.WithLabelValues(module).Observe(duration.Seconds())
}

func (c *Collector) RecordForwardError(module string, kind string) {
	c.forwardErrors.WithLabelValues(module, kind).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRefreshCoalesced() {
	c.coalesced.Inc()
}

func (c *Collector) RecordKeyCollisions(count int) {
	c.keyCollisions.Add(float64(count))
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
