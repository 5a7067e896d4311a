package distributor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmesh/fleetmesh/internal/metrics"
	"github.com/fleetmesh/fleetmesh/types"
)

// TaskStats summarizes task flow through one distributor.
type TaskStats struct {
	Distributed int64 `json:"distributed"`
	Failed      int64 `json:"failed"`
	Requeued    int64 `json:"requeued"`
	Dropped     int64 `json:"dropped"`
	Queued      int   `json:"queued"`
}

// NodeDetail is one node's statistics entry, carrying the derived scores
// alongside the stored record so JSON consumers see them.
type NodeDetail struct {
	Name              string     `json:"name"`
	Status            NodeStatus `json:"status"`
	LoadPct           float64    `json:"load_pct"`
	SuccessRate       float64    `json:"success_rate"`
	AvgResponseTimeMs float64    `json:"response_time_ms"`
	Weight            float64    `json:"weight"`
}

// Stats is the full statistics snapshot exposed by the distributor.
type Stats struct {
	Policy string        `json:"policy"`
	Pool   PoolAggregate `json:"pool"`
	Tasks  TaskStats     `json:"tasks"`
	Nodes  []NodeDetail  `json:"nodes"`
}

// Distributor routes provisioning tasks to healthy worker nodes. It owns
// the node pool, the selection policy, the background health monitor and
// the bounded queue of tasks waiting for capacity.
type Distributor struct {
	cfg       Config
	pool      *NodePool
	selector  *Selector
	monitor   *HealthMonitor
	queue     *taskQueue
	client    *http.Client
	collector *metrics.Collector
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tasksDistributed atomic.Int64
	dispatchFailures atomic.Int64
	tasksRequeued    atomic.Int64
	tasksDropped     atomic.Int64
}

// New creates a distributor from cfg. A nil collector or logger falls back
// to no-op implementations.
func New(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := NewNodePool()
	d := &Distributor{
		cfg:       cfg,
		pool:      pool,
		selector:  NewSelector(pool, policy),
		queue:     newTaskQueue(cfg.QueueCapacity),
		client:    &http.Client{Timeout: cfg.DispatchTimeout},
		collector: collector,
		logger:    logger.With(zap.String("component", "distributor")),
	}
	d.monitor = NewHealthMonitor(pool, cfg, collector, logger)
	return d, nil
}

// AddNode registers a worker node. Nodes may be added while running; the
// next health sweep picks them up.
func (d *Distributor) AddNode(cfg NodeConfig) error {
	if err := d.pool.Add(cfg); err != nil {
		return err
	}
	d.collector.SetNodeStatus(cfg.Name, StatusUnknown.Code())
	d.logger.Info("node registered",
		zap.String("node", cfg.Name),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int64("max_connections", cfg.MaxConnections))
	return nil
}

// RemoveNode deregisters a worker node and drops its metric series.
func (d *Distributor) RemoveNode(name string) error {
	if err := d.pool.Remove(name); err != nil {
		return err
	}
	d.collector.RemoveNode(name)
	d.logger.Info("node removed", zap.String("node", name))
	return nil
}

// Node returns a copy of one node's record.
func (d *Distributor) Node(name string) (WorkerNode, bool) {
	return d.pool.Get(name)
}

// Nodes returns copies of all registered nodes in registration order.
func (d *Distributor) Nodes() []WorkerNode {
	return d.pool.List()
}

// Start launches the health monitor and the queue drain loop. Starting
// with an empty pool is an error: a distributor with no nodes can only
// accumulate tasks it will never place.
func (d *Distributor) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}
	if d.pool.Len() == 0 {
		return types.NewError(types.ErrInvalidConfig, "cannot start with an empty node pool")
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.monitor.Start(ctx)

	d.wg.Add(1)
	go d.drainLoop(ctx)

	d.running = true
	d.logger.Info("distributor started",
		zap.String("policy", d.cfg.Policy),
		zap.Int("nodes", d.pool.Len()))
	return nil
}

// Stop halts the monitor and drain loop. Queued tasks stay queued.
func (d *Distributor) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.cancel()
	d.monitor.Stop()
	d.wg.Wait()
	d.running = false
	d.logger.Info("distributor stopped", zap.Int("queued", d.queue.Len()))
}

// Distribute selects a node and dispatches the task to it. With no node
// available the task is queued for the drain loop and ErrNoAvailableNode is
// returned. A dispatch that reaches a node but fails requeues the task and
// returns ErrDispatchFailed. The chosen node's name is returned on success.
func (d *Distributor) Distribute(ctx context.Context, task Task) (string, error) {
	node, ok := d.selector.Pick()
	if !ok {
		d.enqueue(task)
		d.collector.RecordTaskFailure("")
		return "", types.NewError(types.ErrNoAvailableNode, "no available worker node, task queued")
	}

	if err := d.dispatch(ctx, &node, task); err != nil {
		d.dispatchFailures.Add(1)
		d.pool.RecordDispatch(node.Name, false)
		d.collector.RecordTaskFailure(node.Name)
		d.requeue(task)
		d.logger.Warn("task dispatch failed",
			zap.String("task_id", task.ID),
			zap.String("node", node.Name),
			zap.Error(err))
		return "", types.WrapError(types.ErrDispatchFailed, fmt.Sprintf("dispatch to %s", node.Name), err)
	}

	d.tasksDistributed.Add(1)
	d.pool.RecordDispatch(node.Name, true)
	d.collector.RecordTaskDistributed(node.Name)
	d.logger.Debug("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("node", node.Name))
	return node.Name, nil
}

// Enqueue places a task on the pending queue without attempting dispatch.
func (d *Distributor) Enqueue(task Task) {
	d.enqueue(task)
}

// QueueLen returns the number of pending tasks.
func (d *Distributor) QueueLen() int {
	return d.queue.Len()
}

// DrainQueue pops up to the configured batch size of pending tasks and
// attempts each exactly once. Tasks that fail again go back to the end of
// the queue; a later pass retries them. Returns the number dispatched.
func (d *Distributor) DrainQueue(ctx context.Context) int {
	batch := d.cfg.DrainBatchSize
	if pending := d.queue.Len(); pending < batch {
		batch = pending
	}

	dispatched := 0
	for i := 0; i < batch; i++ {
		task, ok := d.queue.Pop()
		if !ok {
			break
		}
		node, avail := d.selector.Pick()
		if !avail {
			d.requeue(task)
			continue
		}
		if err := d.dispatch(ctx, &node, task); err != nil {
			d.dispatchFailures.Add(1)
			d.pool.RecordDispatch(node.Name, false)
			d.collector.RecordTaskFailure(node.Name)
			d.requeue(task)
			continue
		}
		d.tasksDistributed.Add(1)
		d.pool.RecordDispatch(node.Name, true)
		d.collector.RecordTaskDistributed(node.Name)
		dispatched++
	}

	d.collector.SetQueueLength(d.queue.Len())
	if dispatched > 0 {
		d.logger.Debug("queue drained",
			zap.Int("dispatched", dispatched),
			zap.Int("remaining", d.queue.Len()))
	}
	return dispatched
}

// Stats returns a full snapshot of the distributor's state.
func (d *Distributor) Stats() Stats {
	nodes := d.pool.List()
	details := make([]NodeDetail, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		details[i] = NodeDetail{
			Name:              n.Name,
			Status:            n.Status,
			LoadPct:           n.LoadPercentage(),
			SuccessRate:       n.SuccessRate(),
			AvgResponseTimeMs: n.AvgResponseTimeMs,
			Weight:            n.Weight(),
		}
	}
	return Stats{
		Policy: d.cfg.Policy,
		Pool:   d.pool.Aggregate(),
		Tasks: TaskStats{
			Distributed: d.tasksDistributed.Load(),
			Failed:      d.dispatchFailures.Load(),
			Requeued:    d.tasksRequeued.Load(),
			Dropped:     d.tasksDropped.Load(),
			Queued:      d.queue.Len(),
		},
		Nodes: details,
	}
}

// dispatch posts the task payload to the node's /load endpoint. Any 2xx
// response counts as accepted.
func (d *Distributor) dispatch(ctx context.Context, node *WorkerNode, task Task) error {
	body, err := json.Marshal(task.payload())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+node.Addr()+"/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("node %s rejected task: status %d", node.Name, resp.StatusCode)
	}
	return nil
}

func (d *Distributor) enqueue(task Task) {
	evicted, dropped := d.queue.Push(task)
	if dropped {
		d.tasksDropped.Add(1)
		d.collector.RecordTaskDropped()
		d.logger.Warn("queue full, oldest task dropped",
			zap.String("dropped_task_id", evicted.ID))
	}
	d.collector.SetQueueLength(d.queue.Len())
}

// requeue counts a retry separately from a fresh enqueue.
func (d *Distributor) requeue(task Task) {
	d.tasksRequeued.Add(1)
	d.collector.RecordTaskRequeued()
	d.enqueue(task)
}

func (d *Distributor) drainLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.queue.Len() > 0 {
				d.DrainQueue(ctx)
			}
		}
	}
}
