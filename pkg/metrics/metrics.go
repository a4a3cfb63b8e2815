// Package metrics exposes Prometheus collectors for the request and signing flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "abstract_dao"

// Metrics is safe to use through a nil pointer, in which case every call is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	requestsRegistered  prometheus.Counter
	signaturesRequested prometheus.Counter
	rejections          *prometheus.CounterVec
	signerResults       *prometheus.CounterVec
	signerLatency       prometheus.Histogram
	httpRequests        *prometheus.CounterVec
}

// NewMetrics builds the collectors on a private registry that also carries the
// process and Go runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_registered_total",
			Help:      "Signature requests stored.",
		}),
		signaturesRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_requested_total",
			Help:      "Signing calls dispatched to the signer.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Calls rejected, by operation and error code.",
		}, []string{"operation", "code"}),
		signerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signer_results_total",
			Help:      "Signer call outcomes.",
		}, []string{"result"}),
		signerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signer_latency_seconds",
			Help:      "Time from dispatch to signer answer.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		m.requestsRegistered,
		m.signaturesRequested,
		m.rejections,
		m.signerResults,
		m.signerLatency,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RequestRegistered() {
	if m == nil {
		return
	}
	m.requestsRegistered.Inc()
}

func (m *Metrics) SignatureRequested() {
	if m == nil {
		return
	}
	m.signaturesRequested.Inc()
}

func (m *Metrics) Rejected(operation, code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, code).Inc()
}

// SignerFinished records the outcome and latency of one signer call.
func (m *Metrics) SignerFinished(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.signerResults.WithLabelValues(result).Inc()
	m.signerLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) HTTPRequest(route string, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
}
