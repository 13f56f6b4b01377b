package router

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lbproxy/lbproxy/internal/backend"
	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
	"github.com/lbproxy/lbproxy/internal/selection"
)

// fakeForwarder lets tests script per-node outcomes and records calls.
type fakeForwarder struct {
	mu      sync.Mutex
	calls   []node.ID
	outcome func(n node.Node) backend.ForwardResult
}

func (f *fakeForwarder) Forward(_ context.Context, n node.Node, _, _ string, _ http.Header, _ []byte) backend.ForwardResult {
	f.mu.Lock()
	f.calls = append(f.calls, n.ID)
	f.mu.Unlock()
	return f.outcome(n)
}

func newReg(ids ...node.ID) *registry.Registry {
	r := registry.New()
	for _, id := range ids {
		r.Save(node.New(id, node.Endpoint{Scheme: node.SchemeHTTP, Host: "h", Port: 1}, node.SourceStatic, time.Now()))
	}
	return r
}

func TestHandleSuccessReturnsImmediately(t *testing.T) {
	reg := newReg("n1")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: true, StatusCode: 200, Body: []byte("ok")}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindSuccess || string(res.Body) != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fw.calls) != 1 {
		t.Fatalf("expected exactly 1 forward, got %d", len(fw.calls))
	}
}

// TestNoRetryOnHTTPStatus confirms that a 500 response is a delivered
// answer, not a transport failure, so exactly one forward happens even
// though the status is >= 400.
func TestNoRetryOnHTTPStatus(t *testing.T) {
	reg := newReg("n1")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: true, StatusCode: 500, Body: []byte(`{"x":1}`)}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodPost, nil, nil)
	if res.Kind != KindSuccess || res.StatusCode != 500 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fw.calls) != 1 {
		t.Fatalf("expected exactly 1 forward for a non-retryable status, got %d", len(fw.calls))
	}
}

// TestRetryOnTransportFailureTriesAnotherNode confirms a retryable
// transport failure advances to a different node rather than retrying
// the same one.
func TestRetryOnTransportFailureTriesAnotherNode(t *testing.T) {
	reg := newReg("n1", "n2", "n3")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		if n.ID == "n1" {
			return backend.ForwardResult{Success: false, Err: errors.New("dial tcp: i/o timeout")}
		}
		return backend.ForwardResult{Success: true, StatusCode: 200, Body: []byte("ok")}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindSuccess {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if len(fw.calls) != 2 {
		t.Fatalf("expected n1 to fail then exactly one more attempt, got calls=%v", fw.calls)
	}
	seen := map[node.ID]bool{}
	for _, id := range fw.calls {
		if seen[id] {
			t.Fatalf("node %s was tried twice in one request", id)
		}
		seen[id] = true
	}
}

// TestAllRetryableFailuresExhaustBudget confirms the retry loop gives
// up after maxAttempts distinct nodes all fail.
func TestAllRetryableFailuresExhaustBudget(t *testing.T) {
	reg := newReg("n1", "n2", "n3")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: false, Err: errors.New("i/o timeout")}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindRequestFailed {
		t.Fatalf("expected RequestFailed, got %+v", res)
	}
	if len(fw.calls) != 3 {
		t.Fatalf("expected exactly maxAttempts=3 forwards, got %d", len(fw.calls))
	}
	seen := map[node.ID]bool{}
	for _, id := range fw.calls {
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatal("expected 3 distinct nodes tried across attempts")
	}
}

func TestNonRetryableTransportErrorFailsImmediately(t *testing.T) {
	reg := newReg("n1", "n2")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: false, Err: errors.New("malformed url")}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindRequestFailed {
		t.Fatalf("expected RequestFailed, got %+v", res)
	}
	if len(fw.calls) != 1 {
		t.Fatalf("expected exactly 1 forward for a terminal error, got %d", len(fw.calls))
	}
}

func TestNoAvailableNodes(t *testing.T) {
	reg := registry.New()
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult { return backend.ForwardResult{} }}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindNoAvailableNodes {
		t.Fatalf("expected NoAvailableNodes, got %+v", res)
	}
	if len(fw.calls) != 0 {
		t.Fatal("must not forward when there are no candidates")
	}
}

func TestSelectionFailed(t *testing.T) {
	reg := newReg("n1")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult { return backend.ForwardResult{} }}
	r := New(reg, nilStrategy{}, fw, 3, nil)

	res := r.Handle(context.Background(), "/test", http.MethodGet, nil, nil)
	if res.Kind != KindSelectionFailed {
		t.Fatalf("expected SelectionFailed, got %+v", res)
	}
}

type nilStrategy struct{}

func (nilStrategy) Name() string                    { return "nil" }
func (nilStrategy) Select(_ []node.Node) *node.Node { return nil }
func (nilStrategy) Reset()                          {}

func TestHandleCancelledContext(t *testing.T) {
	reg := newReg("n1")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: true, StatusCode: 200}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Handle(ctx, "/test", http.MethodGet, nil, nil)
	if res.Kind != KindRequestFailed || res.Err != "cancelled" {
		t.Fatalf("expected cancelled RequestFailed, got %+v", res)
	}
}

// TestRoundRobinFairnessThroughRouter confirms the router's retry loop
// preserves the round-robin strategy's fairness across many requests.
func TestRoundRobinFairnessThroughRouter(t *testing.T) {
	reg := newReg("n1", "n2", "n3")
	fw := &fakeForwarder{outcome: func(n node.Node) backend.ForwardResult {
		return backend.ForwardResult{Success: true, StatusCode: 200}
	}}
	r := New(reg, selection.NewRoundRobin(), fw, 3, nil)

	for i := 0; i < 6; i++ {
		r.Handle(context.Background(), "/test", http.MethodPost, nil, nil)
	}

	counts := map[node.ID]int{}
	for _, id := range fw.calls {
		counts[id]++
	}
	for _, id := range []node.ID{"n1", "n2", "n3"} {
		if counts[id] != 2 {
			t.Fatalf("node %s received %d forwards, want 2", id, counts[id])
		}
	}
}
