// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes the continuously updated counters that are the primary
// failure signal for both the gossip mesh and the distributor.
type Collector struct {
	// Gossip metrics
	gossipMessagesSent     *prometheus.CounterVec
	gossipMessagesReceived *prometheus.CounterVec
	gossipDuplicates       prometheus.Counter
	gossipRounds           prometheus.Counter
	stateTransitions       *prometheus.CounterVec
	members                *prometheus.GaugeVec

	// Distributor metrics
	healthChecks        *prometheus.CounterVec
	healthCheckDuration *prometheus.HistogramVec
	nodeStatus          *prometheus.GaugeVec
	tasksDistributed    *prometheus.CounterVec
	taskFailures        *prometheus.CounterVec
	tasksRequeued       prometheus.Counter
	tasksDropped        prometheus.Counter
	queueLength         prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry so
// multiple instances never collide.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.gossipMessagesSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_messages_sent_total",
			Help:      "Total number of gossip envelopes sent",
		},
		[]string{"type"},
	)

	c.gossipMessagesReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_messages_received_total",
			Help:      "Total number of gossip envelopes received",
		},
		[]string{"type"},
	)

	c.gossipDuplicates = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_duplicate_messages_total",
			Help:      "Total number of envelopes discarded by digest deduplication",
		},
	)

	c.gossipRounds = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_rounds_total",
			Help:      "Total number of completed gossip rounds",
		},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_state_transitions_total",
			Help:      "Total number of membership state transitions",
		},
		[]string{"from", "to"},
	)

	c.members = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "membership_agents",
			Help:      "Number of known agents by state",
		},
		[]string{"state"},
	)

	c.healthChecks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Total number of worker node health checks",
		},
		[]string{"node", "result"},
	)

	c.healthCheckDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_check_duration_seconds",
			Help:      "Worker node health check round-trip time",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"node"},
	)

	c.nodeStatus = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_status",
			Help:      "Worker node status (2=healthy, 1=degraded, 0=unhealthy, -1=unknown)",
		},
		[]string{"node"},
	)

	c.tasksDistributed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_distributed_total",
			Help:      "Total number of tasks accepted by a worker node",
		},
		[]string{"node"},
	)

	c.taskFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_dispatch_failures_total",
			Help:      "Total number of failed dispatch attempts",
		},
		[]string{"node"},
	)

	c.tasksRequeued = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_requeued_total",
			Help:      "Total number of tasks returned to the pending queue",
		},
	)

	c.tasksDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dropped_total",
			Help:      "Total number of pending tasks evicted by a full queue",
		},
	)

	c.queueLength = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_length",
			Help:      "Number of tasks waiting in the pending queue",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// NewNopCollector returns a collector backed by a private registry. Useful
// as a default when the caller does not care about scraping.
func NewNopCollector() *Collector {
	return NewCollector("fleetmesh", prometheus.NewRegistry(), zap.NewNop())
}

// RecordGossipSent records one sent envelope.
func (c *Collector) RecordGossipSent(envType string) {
	c.gossipMessagesSent.WithLabelValues(envType).Inc()
}

// RecordGossipReceived records one received envelope.
func (c *Collector) RecordGossipReceived(envType string) {
	c.gossipMessagesReceived.WithLabelValues(envType).Inc()
}

// RecordGossipDuplicate records one envelope discarded by deduplication.
func (c *Collector) RecordGossipDuplicate() {
	c.gossipDuplicates.Inc()
}

// RecordGossipRound records one completed gossip round.
func (c *Collector) RecordGossipRound() {
	c.gossipRounds.Inc()
}

// RecordStateTransition records one membership state transition.
func (c *Collector) RecordStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// SetMemberCount sets the number of known agents in a state.
func (c *Collector) SetMemberCount(state string, n int) {
	c.members.WithLabelValues(state).Set(float64(n))
}

// RecordHealthCheck records one health check outcome and its round trip.
func (c *Collector) RecordHealthCheck(node string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.healthChecks.WithLabelValues(node, result).Inc()
	c.healthCheckDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// SetNodeStatus sets a worker node's status gauge.
func (c *Collector) SetNodeStatus(node string, code int) {
	c.nodeStatus.WithLabelValues(node).Set(float64(code))
}

// RemoveNode drops a deregistered node's series.
func (c *Collector) RemoveNode(node string) {
	c.nodeStatus.DeleteLabelValues(node)
	c.healthCheckDuration.DeleteLabelValues(node)
	c.healthChecks.DeletePartialMatch(prometheus.Labels{"node": node})
	c.tasksDistributed.DeleteLabelValues(node)
	c.taskFailures.DeleteLabelValues(node)
}

// RecordTaskDistributed records one task accepted by a node.
func (c *Collector) RecordTaskDistributed(node string) {
	c.tasksDistributed.WithLabelValues(node).Inc()
}

// RecordTaskFailure records one failed dispatch attempt. The node label is
// "none" when no node was selectable.
func (c *Collector) RecordTaskFailure(node string) {
	if node == "" {
		node = "none"
	}
	c.taskFailures.WithLabelValues(node).Inc()
}

// RecordTaskRequeued records one task returned to the pending queue.
func (c *Collector) RecordTaskRequeued() {
	c.tasksRequeued.Inc()
}

// RecordTaskDropped records one pending task evicted by a full queue.
func (c *Collector) RecordTaskDropped() {
	c.tasksDropped.Inc()
}

// SetQueueLength sets the pending queue depth gauge.
func (c *Collector) SetQueueLength(n int) {
	c.queueLength.Set(float64(n))
}
