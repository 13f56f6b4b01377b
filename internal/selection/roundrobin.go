package selection

import (
	"sync/atomic"

	"github.com/lbproxy/lbproxy/internal/node"
)

// RoundRobin selects candidates in rotation using a single process-wide
// monotonic counter owned by the strategy value itself (not a package
// global), per the re-architecture note in the spec: round-robin must
// not reach into shared state other than its own counter.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin returns a ready-to-use round-robin strategy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return "round-robin" }

// Select returns candidates[counter mod len(candidates)], advancing the
// counter on every call regardless of outcome. Wrap-around uses
// unsigned modular arithmetic so the rotation stays fair on overflow.
func (r *RoundRobin) Select(candidates []node.Node) *node.Node {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	i := r.counter.Add(1) - 1
	picked := candidates[int(i%uint64(n))]
	return &picked
}

// Reset zeroes the counter. Used only by tests.
func (r *RoundRobin) Reset() { r.counter.Store(0) }
