// Package health is the health prober: a periodic, parallel probe of
// every registered node that writes classified status back into the
// registry.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
)

// Config tunes the prober.
type Config struct {
	Enabled           bool
	Path              string
	Interval          time.Duration
	Timeout           time.Duration
	DegradedThreshold time.Duration
}

// Observer receives per-probe telemetry. Optional.
type Observer interface {
	ObserveHealth(id node.ID, status node.Status, probeDuration time.Duration)
}

// Prober owns a background loop that periodically probes every node in
// the registry and writes back its classified status.
type Prober struct {
	reg      *registry.Registry
	cfg      Config
	client   *http.Client
	logger   *zap.Logger
	observer Observer
}

// New builds a Prober bound to reg, using its own short-timeout HTTP
// client distinct from the backend forwarding client.
func New(reg *registry.Registry, cfg Config, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		reg:    reg,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// SetObserver attaches a metrics observer. Not safe to call concurrently
// with Run.
func (p *Prober) SetObserver(o Observer) { p.observer = o }

// Probe issues one GET to node.Endpoint+Path and classifies the result.
func (p *Prober) Probe(ctx context.Context, n node.Node) node.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint.URL()+p.cfg.Path, nil)
	if err != nil {
		return node.ProbeResult{Success: false, Err: err}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return node.ProbeResult{Success: false, Latency: 0, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return node.ProbeResult{Success: false, Latency: latency, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return node.ProbeResult{Success: true, Latency: latency}
}

// DetermineStatus derives a Status from a probe result using the
// prober's configured degraded threshold.
func (p *Prober) DetermineStatus(result node.ProbeResult) node.Status {
	return node.DetermineStatus(result, p.cfg.DegradedThreshold)
}

// Run blocks, probing on every tick until ctx is cancelled. Each tick:
// snapshot the registry, fan out one probe per node in parallel, await
// the whole batch, then write back each node's classified status.
// Cancellation during a sleep or an in-flight batch stops the loop
// without further writes.
func (p *Prober) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	nodes := p.reg.FindAll()

	var wg sync.WaitGroup
	results := make([]node.ProbeResult, len(nodes))
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n node.Node) {
			defer wg.Done()
			results[i] = p.probeIsolated(ctx, n)
		}(i, n)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	now := time.Now()
	for i, n := range nodes {
		newStatus := p.DetermineStatus(results[i])
		if p.observer != nil {
			p.observer.ObserveHealth(n.ID, newStatus, results[i].Latency)
		}
		evt, changed := p.reg.UpdateHealthStatus(n.ID, newStatus, "Health check result", now)
		if changed {
			p.logger.Info("node health changed",
				zap.String("node_id", string(evt.NodeID)),
				zap.String("previous_status", evt.PrevStatus.String()),
				zap.String("new_status", evt.NewStatus.String()),
				zap.String("reason", evt.Reason),
				zap.Time("occurred_at", evt.OccurredAt),
			)
		}
	}
}

// probeIsolated recovers from a panicking probe so that one node's
// failure never blocks or cancels another's.
func (p *Prober) probeIsolated(ctx context.Context, n node.Node) (result node.ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked", zap.String("node_id", string(n.ID)), zap.Any("recovered", r))
			result = node.ProbeResult{Success: false, Err: fmt.Errorf("probe panic: %v", r)}
		}
	}()
	return p.Probe(ctx, n)
}
