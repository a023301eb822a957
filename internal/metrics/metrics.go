// Package metrics holds the prometheus collectors exported on /metrics.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sencha_buildd"

type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	pushes     *prometheus.CounterVec
	builds     *prometheus.CounterVec
	inflight   prometheus.Gauge
	deliveries *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "git_requests_total",
			Help:      "Smart-HTTP requests served against the build repository.",
		}, []string{"service"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "git_pushes_total",
			Help:      "Ref updates received by push, by whether they named a build branch.",
		}, []string{"branch"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builds_in_progress",
			Help:      "Pipeline runs currently executing.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook POST attempts by event and result.",
		}, []string{"event", "result"}),
	}

	m.registry.MustRegister(m.requests, m.pushes, m.builds, m.inflight, m.deliveries)

	return m
}

// Handler serves the collected metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) GitRequest(service string) {
	if m == nil {
		return
	}
	if service == "" {
		service = "other"
	}
	m.requests.WithLabelValues(service).Inc()
}

func (m *Metrics) Push(buildBranch bool) {
	if m == nil {
		return
	}
	label := "other"
	if buildBranch {
		label = "build"
	}
	m.pushes.WithLabelValues(label).Inc()
}

func (m *Metrics) BuildStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// BuildFinished records a run outcome: "built", "failed" or "rejected".
func (m *Metrics) BuildFinished(outcome string) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.builds.WithLabelValues(outcome).Inc()
}

// BuildRejected records a trigger that never started a run.
func (m *Metrics) BuildRejected() {
	if m == nil {
		return
	}
	m.builds.WithLabelValues("rejected").Inc()
}

func (m *Metrics) WebhookDelivery(event string, ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.deliveries.WithLabelValues(event, result).Inc()
}
