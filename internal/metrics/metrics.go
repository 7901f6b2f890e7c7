// Package metrics exposes Prometheus collectors for relay health, fetches,
// storage and the reference relay's request handling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/spotsync/internal/distributor"
	"github.com/rzbill/spotsync/internal/relay"
)

const namespace = "spotsync"

// Metrics owns a registry and every spotsync collector. Each instance has
// its own registry so several can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	relayConnected *prometheus.GaugeVec
	relayLatency   *prometheus.GaugeVec
	relayFailures  *prometheus.GaugeVec

	shards    *prometheus.CounterVec
	delivered *prometheus.CounterVec

	storeCommit *prometheus.HistogramVec
	storeBytes  *prometheus.CounterVec

	requests *prometheus.CounterVec
}

// New registers all collectors plus the Go runtime collector.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		relayConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "connected",
			Help: "1 when the relay is considered healthy.",
		}, []string{"relay"}),
		relayLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "latency_ms",
			Help: "Moving average of successful query latency.",
		}, []string{"relay"}),
		relayFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "failures",
			Help: "Failures recorded since the last health reset.",
		}, []string{"relay"}),
		shards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "shards_total",
			Help: "Settled shards by pass and outcome.",
		}, []string{"pass", "outcome"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fetch", Name: "records_total",
			Help: "Unique records delivered by pass.",
		}, []string{"pass"}),
		storeCommit: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "op_seconds",
			Help:    "Storage operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		storeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_total",
			Help: "Bytes moved by storage operations.",
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "requests_total",
			Help: "Relay server requests by transport, method and outcome.",
		}, []string{"transport", "method", "outcome"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		m.relayConnected, m.relayLatency, m.relayFailures,
		m.shards, m.delivered,
		m.storeCommit, m.storeBytes,
		m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// WatchMonitor mirrors every health snapshot of mon into the relay gauges
// until the returned function is called.
func (m *Metrics) WatchMonitor(mon *relay.Monitor) (stop func()) {
	return mon.Subscribe(m.ObserveHealth)
}

// ObserveHealth sets the relay gauges from a snapshot.
func (m *Metrics) ObserveHealth(snap []relay.Health) {
	for _, h := range snap {
		connected := 0.0
		if h.Connected {
			connected = 1
		}
		m.relayConnected.WithLabelValues(h.Endpoint).Set(connected)
		m.relayLatency.WithLabelValues(h.Endpoint).Set(h.AvgLatencyMs)
		m.relayFailures.WithLabelValues(h.Endpoint).Set(float64(h.FailureCount))
	}
}

// ShardSettled implements distributor.Observer.
func (m *Metrics) ShardSettled(pass distributor.Pass, res distributor.ShardResult) {
	outcome := "ok"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case res.TimedOut:
		outcome = "timeout"
	case res.Err != nil:
		outcome = "error"
	}
	m.shards.WithLabelValues(string(pass), outcome).Inc()
}

// RecordDelivered implements distributor.Observer.
func (m *Metrics) RecordDelivered(pass distributor.Pass) {
	m.delivered.WithLabelValues(string(pass)).Inc()
}

// ObserveWrite implements pebblestore.MetricsHook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storeCommit.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("write").Add(float64(bytes))
}

// ObserveRead implements pebblestore.MetricsHook.
func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storeCommit.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("read").Add(float64(bytes))
}

// ObserveBatchCommit implements pebblestore.MetricsHook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.storeCommit.WithLabelValues("commit").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("commit").Add(float64(bytes))
}

// ObserveRequest counts one relay server request.
func (m *Metrics) ObserveRequest(transport, method, outcome string) {
	m.requests.WithLabelValues(transport, method, outcome).Inc()
}
