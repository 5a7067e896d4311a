package distributor

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetmesh/fleetmesh/types"
)

// NodeConfig describes one worker node registration.
type NodeConfig struct {
	Name           string `yaml:"name" env:"NAME" json:"name"`
	Host           string `yaml:"host" env:"HOST" json:"host"`
	Port           int    `yaml:"port" env:"PORT" json:"port"`
	MaxConnections int64  `yaml:"max_connections" env:"MAX_CONNECTIONS" json:"max_connections"`
}

// HealthSnapshot carries the node-authoritative counters reported by a
// worker's /health endpoint.
type HealthSnapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalLoads        int64 `json:"total_loads"`
	SuccessfulLoads   int64 `json:"successful_loads"`
	FailedLoads       int64 `json:"failed_loads"`
}

// PoolAggregate summarizes the pool for statistics reporting.
type PoolAggregate struct {
	Total          int     `json:"total"`
	Healthy        int     `json:"healthy"`
	Degraded       int     `json:"degraded"`
	Unhealthy      int     `json:"unhealthy"`
	Unknown        int     `json:"unknown"`
	Capacity       int64   `json:"capacity"`
	Used           int64   `json:"used"`
	Available      int64   `json:"available"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// NodePool holds the worker node records of one distributor instance. The
// pool owns every record; all mutation happens through the poll and dispatch
// operations below, serialized under one lock, so concurrent health polls
// and dispatches never produce lost updates.
//
// Insertion order is preserved: round-robin selection cycles nodes in the
// order they were registered.
type NodePool struct {
	mu     sync.RWMutex
	nodes  []*WorkerNode
	byName map[string]*WorkerNode
}

// NewNodePool creates an empty pool.
func NewNodePool() *NodePool {
	return &NodePool{byName: make(map[string]*WorkerNode)}
}

// Add registers a node. Node names are unique; re-registering an existing
// name is an error. New nodes start in StatusUnknown until first polled.
func (p *NodePool) Add(cfg NodeConfig) error {
	if cfg.Name == "" {
		return types.NewError(types.ErrInvalidConfig, "node name is required")
	}
	if cfg.Host == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return types.NewError(types.ErrInvalidConfig, fmt.Sprintf("node %s: invalid address %s:%d", cfg.Name, cfg.Host, cfg.Port))
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byName[cfg.Name]; exists {
		return types.NewError(types.ErrNodeExists, fmt.Sprintf("node %s already registered", cfg.Name))
	}

	node := &WorkerNode{
		Name:           cfg.Name,
		Host:           cfg.Host,
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
		Status:         StatusUnknown,
	}
	p.nodes = append(p.nodes, node)
	p.byName[cfg.Name] = node
	return nil
}

// Remove deregisters a node by name. This is the only way a node ever
// leaves the pool.
func (p *NodePool) Remove(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byName[name]; !exists {
		return types.NewError(types.ErrNodeNotFound, fmt.Sprintf("node %s not found", name))
	}
	delete(p.byName, name)
	for i, n := range p.nodes {
		if n.Name == name {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a copy of one node's record.
func (p *NodePool) Get(name string) (WorkerNode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	node, ok := p.byName[name]
	if !ok {
		return WorkerNode{}, false
	}
	return *node, true
}

// List returns copies of all nodes in insertion order.
func (p *NodePool) List() []WorkerNode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkerNode, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = *n
	}
	return out
}

// Len returns the number of registered nodes.
func (p *NodePool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.nodes)
}

// ApplyPollSuccess overwrites a node's counters with the authoritative
// values from its health response, folds the observed round trip into the
// response-time moving average, and recomputes the load-based status:
// healthy under 70%, degraded under 90%, unhealthy at or above. A
// successful poll always resets the consecutive-failure counter.
func (p *NodePool) ApplyPollSuccess(name string, snap HealthSnapshot, elapsedMs float64) (from, to NodeStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.byName[name]
	if !ok {
		return "", "", types.NewError(types.ErrNodeNotFound, fmt.Sprintf("node %s not found", name))
	}

	from = node.Status
	node.ActiveConnections = snap.ActiveConnections
	node.TotalLoads = snap.TotalLoads
	node.SuccessfulLoads = snap.SuccessfulLoads
	node.FailedLoads = snap.FailedLoads

	if node.AvgResponseTimeMs == 0 {
		node.AvgResponseTimeMs = elapsedMs
	} else {
		node.AvgResponseTimeMs = node.AvgResponseTimeMs*(1-emaAlpha) + elapsedMs*emaAlpha
	}

	switch load := node.LoadPercentage(); {
	case load < healthyLoadPct:
		node.Status = StatusHealthy
	case load < degradedLoadPct:
		node.Status = StatusDegraded
	default:
		node.Status = StatusUnhealthy
	}

	node.ConsecutiveFailures = 0
	node.LastCheck = time.Now()
	return from, node.Status, nil
}

// ApplyPollFailure counts one failed poll: three or more consecutive
// failures force unhealthy, one or two force at least degraded.
func (p *NodePool) ApplyPollFailure(name string) (from, to NodeStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.byName[name]
	if !ok {
		return "", "", types.NewError(types.ErrNodeNotFound, fmt.Sprintf("node %s not found", name))
	}

	from = node.Status
	node.ConsecutiveFailures++
	if node.ConsecutiveFailures >= unhealthyFailures {
		node.Status = StatusUnhealthy
	} else if node.Status == StatusHealthy || node.Status == StatusUnknown {
		node.Status = StatusDegraded
	}
	node.LastCheck = time.Now()
	return from, node.Status, nil
}

// RecordDispatch folds a dispatch outcome into the node's load counters.
// These are provisional: the node's own /health report overwrites them on
// the next poll.
func (p *NodePool) RecordDispatch(name string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, ok := p.byName[name]
	if !ok {
		return
	}
	node.TotalLoads++
	if success {
		node.SuccessfulLoads++
	} else {
		node.FailedLoads++
	}
}

// Aggregate returns pool-wide counts and capacity totals.
func (p *NodePool) Aggregate() PoolAggregate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	agg := PoolAggregate{Total: len(p.nodes)}
	for _, n := range p.nodes {
		switch n.Status {
		case StatusHealthy:
			agg.Healthy++
		case StatusDegraded:
			agg.Degraded++
		case StatusUnhealthy:
			agg.Unhealthy++
		default:
			agg.Unknown++
		}
		agg.Capacity += n.MaxConnections
		agg.Used += n.ActiveConnections
	}
	agg.Available = agg.Capacity - agg.Used
	if agg.Capacity > 0 {
		agg.UtilizationPct = float64(agg.Used) / float64(agg.Capacity) * 100
	}
	return agg
}
