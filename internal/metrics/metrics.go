// Package metrics wraps the Prometheus client so the Coordinator and
// Listener never import prometheus types directly; they only touch the
// small accessor methods below.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors for one master instance. Use New
// to construct it; a nil *Metrics is valid and every method on it is a
// no-op, so callers never have to branch on whether metrics are enabled.
type Metrics struct {
	listen string
	server *http.Server

	activeSlaves  prometheus.Gauge
	replies       *prometheus.HistogramVec
	quorumWait    *prometheus.HistogramVec
	resyncsTotal  prometheus.Counter
}

// New registers the master's collectors. listen is the address Start will
// later bind /metrics to; it is not used until Start is called.
func New(listen string) *Metrics {
	m := &Metrics{listen: listen}

	m.activeSlaves = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pachi_master_active_slaves",
		Help: "Number of slave connections currently accepted.",
	})
	prometheus.MustRegister(m.activeSlaves)

	m.replies = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pachi_master_replies",
		Help:    "Reply count accumulated by the time await_quorum returned, by command.",
		Buckets: prometheus.LinearBuckets(0, 1, 16),
	}, []string{"command"})
	prometheus.MustRegister(m.replies)

	m.quorumWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pachi_master_quorum_wait_seconds",
		Help:    "Wall-clock time spent inside await_quorum, by command.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
	prometheus.MustRegister(m.quorumWait)

	m.resyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pachi_master_resyncs_total",
		Help: "Number of times a slave worker has requested a full history resync.",
	})
	prometheus.MustRegister(m.resyncsTotal)

	return m
}

// Start runs the /metrics HTTP server in a goroutine. It is a no-op if m
// is nil or no listen address was configured.
func (m *Metrics) Start() error {
	if m == nil || m.listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	m.server = &http.Server{Addr: m.listen, Handler: mux}
	go m.server.ListenAndServe()
	return nil
}

// Stop shuts down the /metrics HTTP server, if one was started.
func (m *Metrics) Stop() error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Close()
}

// SetActiveSlaves records the current count of accepted slave connections.
func (m *Metrics) SetActiveSlaves(n int) {
	if m == nil {
		return
	}
	m.activeSlaves.Set(float64(n))
}

// ObserveQuorum records how many replies were in hand and how long
// await_quorum blocked for a given command.
func (m *Metrics) ObserveQuorum(command string, replyCount int, waited time.Duration) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(command).Observe(float64(replyCount))
	m.quorumWait.WithLabelValues(command).Observe(waited.Seconds())
}

// IncResyncs counts one slave worker falling out of sync and requesting a
// full history replay.
func (m *Metrics) IncResyncs() {
	if m == nil {
		return
	}
	m.resyncsTotal.Inc()
}
