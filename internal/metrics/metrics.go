// Package metrics wires the Prometheus metrics exporter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/router"
)

// Collectors holds every collector this binary registers.
type Collectors struct {
	RequestsTotal   *prometheus.CounterVec
	ForwardAttempts *prometheus.CounterVec
	ForwardLatency  *prometheus.HistogramVec
	NodeHealth      *prometheus.GaugeVec
	ProbeDuration   *prometheus.HistogramVec
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lbproxy_requests_total",
			Help: "Total routed requests by outward result kind.",
		}, []string{"result"}),
		ForwardAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lbproxy_forward_attempts_total",
			Help: "Total forward attempts by node and outcome.",
		}, []string{"node_id", "outcome"}),
		ForwardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lbproxy_forward_latency_seconds",
			Help:    "Forward call latency by node.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_id"}),
		NodeHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lbproxy_node_health",
			Help: "Current node health: 0=UNHEALTHY,1=DEGRADED,2=HEALTHY.",
		}, []string{"node_id"}),
		ProbeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lbproxy_probe_duration_seconds",
			Help:    "Health probe latency by node.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_id"}),
	}
}

// ObserveResult records an outward-facing routing result.
func (c *Collectors) ObserveResult(kind router.ResultKind) {
	c.RequestsTotal.WithLabelValues(resultLabel(kind)).Inc()
}

// ObserveForward records a single forward attempt's outcome and latency.
func (c *Collectors) ObserveForward(id node.ID, success bool, latency time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.ForwardAttempts.WithLabelValues(string(id), outcome).Inc()
	c.ForwardLatency.WithLabelValues(string(id)).Observe(latency.Seconds())
}

// ObserveHealth records a node's current status and the duration its
// probe took.
func (c *Collectors) ObserveHealth(id node.ID, status node.Status, probeDuration time.Duration) {
	c.NodeHealth.WithLabelValues(string(id)).Set(float64(healthGaugeValue(status)))
	c.ProbeDuration.WithLabelValues(string(id)).Observe(probeDuration.Seconds())
}

func healthGaugeValue(s node.Status) int {
	switch s {
	case node.Healthy:
		return 2
	case node.Degraded:
		return 1
	default:
		return 0
	}
}

func resultLabel(kind router.ResultKind) string {
	switch kind {
	case router.KindSuccess:
		return "success"
	case router.KindRequestFailed:
		return "request_failed"
	case router.KindNoAvailableNodes:
		return "no_available_nodes"
	case router.KindSelectionFailed:
		return "selection_failed"
	default:
		return "unknown"
	}
}
