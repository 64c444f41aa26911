package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers the engine's Prometheus metrics. All record
// methods are safe on a nil receiver so callers can run without
// metrics wired.
type Collector struct {
	logins           *prometheus.CounterVec
	supersessions    prometheus.Counter
	teardowns        *prometheus.CounterVec
	teardownDuration prometheus.Histogram
	broadcasts       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdeck_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		supersessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsdeck_supersessions_total",
			Help: "Logins that displaced an existing session",
		}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdeck_teardowns_total",
			Help: "Deployment teardowns by outcome",
		}, []string{"outcome"}),
		teardownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opsdeck_teardown_duration_seconds",
			Help:    "Wall time of deployment teardowns",
			Buckets: prometheus.DefBuckets,
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsdeck_broadcast_events_total",
			Help: "Broadcast events published by type",
		}, []string{"type"}),
	}

	reg.MustRegister(c.logins, c.supersessions, c.teardowns, c.teardownDuration, c.broadcasts)

	return c
}

// RecordLogin counts a login attempt; result is one of "success",
// "invalid_credentials", "rate_limited", "teardown_blocked".
func (c *Collector) RecordLogin(result string) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordSupersession counts a login that displaced a live session.
func (c *Collector) RecordSupersession() {
	if c == nil {
		return
	}
	c.supersessions.Inc()
}

// RecordTeardown counts a teardown; outcome is "success" or "partial".
func (c *Collector) RecordTeardown(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.teardowns.WithLabelValues(outcome).Inc()
	c.teardownDuration.Observe(d.Seconds())
}

// RecordBroadcast counts a published broadcast event by type.
func (c *Collector) RecordBroadcast(eventType string) {
	if c == nil {
		return
	}
	c.broadcasts.WithLabelValues(eventType).Inc()
}

// Serve exposes /metrics on its own listener, off the main request
// path. It blocks, so run it in a goroutine.
func Serve(reg *prometheus.Registry, port int) error {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	slog.Info("Metrics listener starting", "address", addr)
	return http.ListenAndServe(addr, mux)
}
