package distributor

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/fleetmesh/fleetmesh/types"
)

// Policy names a node selection strategy.
type Policy string

const (
	// PolicyRoundRobin cycles available nodes in registration order.
	PolicyRoundRobin Policy = "round_robin"
	// PolicyLeastLoaded always picks the available node with the lowest
	// load percentage.
	PolicyLeastLoaded Policy = "least_loaded"
	// PolicyWeighted picks proportionally to the composite weight score.
	PolicyWeighted Policy = "weighted"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRoundRobin, PolicyLeastLoaded, PolicyWeighted:
		return Policy(s), nil
	case "":
		return PolicyWeighted, nil
	default:
		return "", types.NewError(types.ErrInvalidConfig, fmt.Sprintf("unknown selection policy %q", s))
	}
}

// Selector chooses worker nodes from a pool under one policy. The
// round-robin cursor is shared across calls; a selector is safe for
// concurrent use.
type Selector struct {
	pool   *NodePool
	policy Policy

	mu   sync.Mutex
	next int

	// randFloat returns a uniform value in [0, 1). Replaceable in tests.
	randFloat func() float64
}

// NewSelector creates a selector over pool with the given policy.
func NewSelector(pool *NodePool, policy Policy) *Selector {
	return &Selector{
		pool:      pool,
		policy:    policy,
		randFloat: rand.Float64,
	}
}

// Policy returns the selector's policy.
func (s *Selector) Policy() Policy {
	return s.policy
}

// Pick returns a copy of the selected node, or false if no node is
// available under the policy.
func (s *Selector) Pick() (WorkerNode, bool) {
	switch s.policy {
	case PolicyRoundRobin:
		return s.pickRoundRobin()
	case PolicyLeastLoaded:
		return s.pickLeastLoaded()
	default:
		return s.pickWeighted()
	}
}

// pickRoundRobin advances the shared cursor over the registration-ordered
// node list, skipping unavailable nodes and wrapping at most once per call.
func (s *Selector) pickRoundRobin() (WorkerNode, bool) {
	nodes := s.pool.List()
	if len(nodes) == 0 {
		return WorkerNode{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(nodes); i++ {
		node := nodes[s.next%len(nodes)]
		s.next++
		if node.IsAvailable() {
			return node, true
		}
	}
	return WorkerNode{}, false
}

// pickLeastLoaded returns the available node with the lowest load
// percentage; ties resolve to the earliest-registered node.
func (s *Selector) pickLeastLoaded() (WorkerNode, bool) {
	var best WorkerNode
	found := false
	for _, node := range s.pool.List() {
		if !node.IsAvailable() {
			continue
		}
		if !found || node.LoadPercentage() < best.LoadPercentage() {
			best = node
			found = true
		}
	}
	return best, found
}

// pickWeighted draws a uniform value in [0, total weight) and walks the
// available nodes accumulating weight until the draw is covered. The last
// node catches floating-point edge cases.
func (s *Selector) pickWeighted() (WorkerNode, bool) {
	available := make([]WorkerNode, 0)
	total := 0.0
	for _, node := range s.pool.List() {
		if node.IsAvailable() {
			available = append(available, node)
			total += node.Weight()
		}
	}
	if len(available) == 0 || total == 0 {
		return WorkerNode{}, false
	}

	s.mu.Lock()
	draw := s.randFloat() * total
	s.mu.Unlock()

	cumulative := 0.0
	for _, node := range available {
		cumulative += node.Weight()
		if draw <= cumulative {
			return node, true
		}
	}
	return available[len(available)-1], true
}
