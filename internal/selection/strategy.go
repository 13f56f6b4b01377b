// Package selection is the node selection strategy. Only round-robin
// is wired into the router by default; other strategies exist behind
// the same interface for future use without changing the router's
// contract.
package selection

import "github.com/lbproxy/lbproxy/internal/node"

// Strategy decides which candidate to try next. Select returns nil when
// it has no candidate to offer: RoundRobin does so iff candidates is
// empty, CircuitBreaker also when every candidate's breaker is open.
// Implementations must not re-sort candidates:
// the caller-provided order combined with a stable selection rule is
// what distributes load uniformly over time.
type Strategy interface {
	Name() string
	Select(candidates []node.Node) *node.Node
	Reset()
}
