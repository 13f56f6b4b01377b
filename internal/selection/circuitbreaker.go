package selection

import (
	"sync"
	"time"

	"github.com/lbproxy/lbproxy/internal/node"
)

// circuitState is the per-node state tracked by CircuitBreaker.
type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker wraps an underlying Strategy and skips candidates that
// have tripped their per-node breaker. It is not wired into the router
// by default; it exists behind the Strategy interface for future
// selection policies without requiring any change to the router's
// contract.
type CircuitBreaker struct {
	mu            sync.Mutex
	inner         Strategy
	states        map[node.ID]*breakerState
	failThreshold int
	openDuration  time.Duration
	now           func() time.Time
}

type breakerState struct {
	state            circuitState
	consecutiveFails int
	openedAt         time.Time
}

// NewCircuitBreaker wraps inner, tripping a node's breaker after
// failThreshold consecutive reported failures and letting it half-open
// after openDuration.
func NewCircuitBreaker(inner Strategy, failThreshold int, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		inner:         inner,
		states:        make(map[node.ID]*breakerState),
		failThreshold: failThreshold,
		openDuration:  openDuration,
		now:           time.Now,
	}
}

func (c *CircuitBreaker) Name() string { return "circuit-breaker+" + c.inner.Name() }

// Select filters out nodes whose breaker is open (and not yet due for a
// half-open retry) before delegating to the wrapped strategy.
func (c *CircuitBreaker) Select(candidates []node.Node) *node.Node {
	c.mu.Lock()
	allowed := make([]node.Node, 0, len(candidates))
	now := c.now()
	for _, n := range candidates {
		st, ok := c.states[n.ID]
		if !ok || st.state == stateClosed {
			allowed = append(allowed, n)
			continue
		}
		if st.state == stateOpen && now.Sub(st.openedAt) >= c.openDuration {
			st.state = stateHalfOpen
			allowed = append(allowed, n)
			continue
		}
		if st.state == stateHalfOpen {
			allowed = append(allowed, n)
		}
	}
	c.mu.Unlock()

	return c.inner.Select(allowed)
}

// ReportResult feeds a forward outcome back into the breaker for id.
func (c *CircuitBreaker) ReportResult(id node.ID, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[id]
	if !ok {
		st = &breakerState{}
		c.states[id] = st
	}
	if success {
		st.consecutiveFails = 0
		st.state = stateClosed
		return
	}
	st.consecutiveFails++
	if st.consecutiveFails >= c.failThreshold {
		st.state = stateOpen
		st.openedAt = c.now()
	}
}

func (c *CircuitBreaker) Reset() {
	c.mu.Lock()
	c.states = make(map[node.ID]*breakerState)
	c.mu.Unlock()
	c.inner.Reset()
}
