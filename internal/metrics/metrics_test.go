package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/router"
)

func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveResultIncrementsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveResult(router.KindSuccess)
	c.ObserveResult(router.KindSuccess)
	c.ObserveResult(router.KindNoAvailableNodes)

	if got := getCounterValue(t, c.RequestsTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("success count = %f, want 2", got)
	}
	if got := getCounterValue(t, c.RequestsTotal.WithLabelValues("no_available_nodes")); got != 1 {
		t.Fatalf("no_available_nodes count = %f, want 1", got)
	}
}

func TestObserveForwardRecordsOutcomeAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveForward("n1", true, 20*time.Millisecond)
	c.ObserveForward("n1", false, 5*time.Millisecond)

	if got := getCounterValue(t, c.ForwardAttempts.WithLabelValues("n1", "success")); got != 1 {
		t.Fatalf("success attempts = %f, want 1", got)
	}
	if got := getCounterValue(t, c.ForwardAttempts.WithLabelValues("n1", "failure")); got != 1 {
		t.Fatalf("failure attempts = %f, want 1", got)
	}
}

func TestObserveHealthSetsGaugeByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveHealth("n1", node.Healthy, time.Millisecond)
	var m dto.Metric
	if err := c.NodeHealth.WithLabelValues("n1").Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if m.GetGauge().GetValue() != 2 {
		t.Fatalf("gauge = %f, want 2 for HEALTHY", m.GetGauge().GetValue())
	}
}

func TestResultLabelUnknownKind(t *testing.T) {
	if resultLabel(router.ResultKind(99)) != "unknown" {
		t.Fatal("expected unknown result kinds to map to \"unknown\"")
	}
}
