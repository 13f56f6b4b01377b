// Package router is the request router: the per-request retry loop
// that drives the selection strategy and backend client across
// distinct nodes.
package router

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/backend"
	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
	"github.com/lbproxy/lbproxy/internal/selection"
)

// retryableKeywords is the fixed, case-insensitive substring set used
// to classify a transport failure as retryable. Acceptable as a
// starting point; structured error-kind classification (deadline
// exceeded, refused, reset, DNS failure) is layered on top in
// isRetryable before falling back to this list.
var retryableKeywords = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"connect exception",
	"socket timeout",
	"no route to host",
	"connection closed",
}

// ResultKind tags the outward-facing outcome of a routed request.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindRequestFailed
	KindNoAvailableNodes
	KindSelectionFailed
)

// Result is the outcome handed back to the HTTP front-end.
type Result struct {
	Kind       ResultKind
	NodeID     node.ID
	StatusCode int
	Latency    time.Duration
	Body       []byte
	Err        string
}

// Forwarder is the subset of the backend client the router depends on.
type Forwarder interface {
	Forward(ctx context.Context, n node.Node, path, method string, headers http.Header, body []byte) backend.ForwardResult
}

// Observer receives routing telemetry. Implementations must be safe
// for concurrent use. It is optional; a Router with no Observer set
// simply skips these calls.
type Observer interface {
	ObserveResult(kind ResultKind)
	ObserveForward(id node.ID, success bool, latency time.Duration)
}

// Router selects a node via strategy and forwards the request to it,
// retrying against other nodes on transport failure.
type Router struct {
	reg         *registry.Registry
	strategy    selection.Strategy
	client      Forwarder
	maxAttempts int
	logger      *zap.Logger
	observer    Observer
}

// New builds a Router. maxAttempts must be >= 1.
func New(reg *registry.Registry, strategy selection.Strategy, client Forwarder, maxAttempts int, logger *zap.Logger) *Router {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{reg: reg, strategy: strategy, client: client, maxAttempts: maxAttempts, logger: logger}
}

// SetObserver attaches a metrics observer. Not safe to call concurrently
// with Handle.
func (r *Router) SetObserver(o Observer) { r.observer = o }

// Handle drives the retry loop: up to maxAttempts distinct candidates
// are tried; any delivered backend response (any status code)
// terminates the loop immediately; only retryable transport failures
// advance to the next attempt, excluding the failed node for the
// remainder of this one request only.
func (r *Router) Handle(ctx context.Context, path, method string, headers http.Header, body []byte) (result Result) {
	if r.observer != nil {
		defer func() { r.observer.ObserveResult(result.Kind) }()
	}

	excluded := make(map[node.ID]struct{}, r.maxAttempts)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Kind: KindRequestFailed, Err: "cancelled"}
		}

		candidates := r.candidatesExcluding(excluded)
		if len(candidates) == 0 {
			return Result{Kind: KindNoAvailableNodes}
		}

		pick := r.strategy.Select(candidates)
		if pick == nil {
			return Result{Kind: KindSelectionFailed}
		}

		fr := r.client.Forward(ctx, *pick, path, method, headers, body)
		if r.observer != nil {
			r.observer.ObserveForward(pick.ID, fr.Success, fr.Latency)
		}

		if fr.Success {
			return Result{
				Kind:       KindSuccess,
				NodeID:     pick.ID,
				StatusCode: fr.StatusCode,
				Latency:    fr.Latency,
				Body:       fr.Body,
			}
		}

		errMsg := fr.Err.Error()
		r.logger.Info("forward failed",
			zap.String("node_id", string(pick.ID)),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
			zap.String("path", path),
			zap.Int64("latency_ms", fr.Latency.Milliseconds()),
		)

		if isCancellation(ctx, fr.Err) {
			return Result{Kind: KindRequestFailed, Err: "cancelled"}
		}

		if isRetryable(fr.Err) && attempt < r.maxAttempts {
			excluded[pick.ID] = struct{}{}
			continue
		}
		return Result{Kind: KindRequestFailed, Err: errMsg}
	}

	return Result{Kind: KindRequestFailed, Err: "All retry attempts exhausted"}
}

func (r *Router) candidatesExcluding(excluded map[node.ID]struct{}) []node.Node {
	avail := r.reg.FindAvailable()
	out := make([]node.Node, 0, len(avail))
	for _, n := range avail {
		if _, skip := excluded[n.ID]; !skip {
			out = append(out, n)
		}
	}
	return out
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() == context.Canceled || err == context.Canceled
}

// isRetryable classifies a transport failure as retryable: first by
// structured error kind (deadline exceeded, connection refused or
// reset, DNS failure), then by a case-insensitive substring match
// against a fixed keyword set.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
