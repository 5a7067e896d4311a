package distributor

import (
	"strconv"
	"time"
)

// NodeStatus is a worker node's health classification.
type NodeStatus string

const (
	// StatusHealthy indicates load below 70% of capacity.
	StatusHealthy NodeStatus = "healthy"
	// StatusDegraded indicates load between 70% and 90%, or one to two
	// consecutive poll failures.
	StatusDegraded NodeStatus = "degraded"
	// StatusUnhealthy indicates load at or above 90%, or three or more
	// consecutive poll failures.
	StatusUnhealthy NodeStatus = "unhealthy"
	// StatusUnknown is the state of a node that has never been polled.
	StatusUnknown NodeStatus = "unknown"
)

// Code maps a status to its gauge value (2=healthy, 1=degraded,
// 0=unhealthy, -1=unknown).
func (s NodeStatus) Code() int {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 0
	default:
		return -1
	}
}

// Health state machine thresholds.
const (
	healthyLoadPct    = 70.0
	degradedLoadPct   = 90.0
	unhealthyFailures = 3
	responseTimeCapMs = 1000.0
	emaAlpha          = 0.2
	minimumWeight     = 0.01
)

// WorkerNode is one worker's health and performance record. The pool owns
// the canonical instance; methods here are read-only derivations, safe to
// call on copies handed out by the pool.
//
// ActiveConnections and the load counters are authoritative on the node
// itself and are overwritten on every successful poll. AvgResponseTimeMs is
// the exception: it is computed locally from observed round trips.
type WorkerNode struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`

	Status              NodeStatus `json:"status"`
	LastCheck           time.Time  `json:"last_check"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	ActiveConnections int64 `json:"active_connections"`
	MaxConnections    int64 `json:"max_connections"`
	TotalLoads        int64 `json:"total_loads"`
	SuccessfulLoads   int64 `json:"successful_loads"`
	FailedLoads       int64 `json:"failed_loads"`

	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Addr returns the node's dialable host:port.
func (n *WorkerNode) Addr() string {
	return n.Host + ":" + strconv.Itoa(n.Port)
}

// LoadPercentage returns current load as a percentage of capacity.
func (n *WorkerNode) LoadPercentage() float64 {
	if n.MaxConnections == 0 {
		return 100.0
	}
	return float64(n.ActiveConnections) / float64(n.MaxConnections) * 100
}

// SuccessRate returns the historical success percentage, zero before the
// first load.
func (n *WorkerNode) SuccessRate() float64 {
	if n.TotalLoads == 0 {
		return 0.0
	}
	return float64(n.SuccessfulLoads) / float64(n.TotalLoads) * 100
}

// IsAvailable reports whether the node may receive work: healthy or
// degraded, with at least one free connection slot.
func (n *WorkerNode) IsAvailable() bool {
	return (n.Status == StatusHealthy || n.Status == StatusDegraded) &&
		n.ActiveConnections < n.MaxConnections
}

// Weight is the composite selection score: 0.5 available capacity,
// 0.3 success rate, 0.2 inverse latency (capped at 1s), floored at 0.01 so a
// loaded-but-available node keeps a nonzero chance and recovery is never
// starved. Unavailable nodes weigh zero.
func (n *WorkerNode) Weight() float64 {
	if !n.IsAvailable() {
		return 0.0
	}
	capacityScore := 1.0 - n.LoadPercentage()/100
	successScore := n.SuccessRate() / 100
	responseScore := 1.0 - minFloat(n.AvgResponseTimeMs/responseTimeCapMs, 1.0)

	weight := capacityScore*0.5 + successScore*0.3 + responseScore*0.2
	if weight < minimumWeight {
		return minimumWeight
	}
	return weight
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
