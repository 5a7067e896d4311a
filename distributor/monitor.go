package distributor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetmesh/fleetmesh/internal/metrics"
)

// HealthMonitor polls every pool node's /health endpoint on a fixed
// interval and folds the results into the pool. One unreachable node never
// delays or fails the sweep for the others.
type HealthMonitor struct {
	pool      *NodePool
	client    *http.Client
	interval  time.Duration
	timeout   time.Duration
	collector *metrics.Collector
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a monitor over pool. A nil collector or logger
// falls back to no-op implementations.
func NewHealthMonitor(pool *NodePool, cfg Config, collector *metrics.Collector, logger *zap.Logger) *HealthMonitor {
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		pool:      pool,
		client:    &http.Client{Timeout: cfg.HealthCheckTimeout},
		interval:  cfg.HealthCheckInterval,
		timeout:   cfg.HealthCheckTimeout,
		collector: collector,
		logger:    logger.With(zap.String("component", "health_monitor")),
	}
}

// Start launches the poll loop. An immediate sweep runs before the first
// tick so new pools do not sit unknown for a full interval.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.PollAll(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PollAll(ctx)
			}
		}
	}()

	m.logger.Info("health monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))
}

// Stop halts the poll loop and waits for any in-flight sweep.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// PollAll checks every registered node concurrently and blocks until the
// sweep completes. Poll failures are absorbed per node.
func (m *HealthMonitor) PollAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, node := range m.pool.List() {
		name, addr := node.Name, node.Addr()
		g.Go(func() error {
			m.pollNode(ctx, name, addr)
			return nil
		})
	}
	_ = g.Wait() // closures never return an error
}

// pollNode performs one health check round trip and applies the outcome.
func (m *HealthMonitor) pollNode(ctx context.Context, name, addr string) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	snap, err := m.fetchHealth(ctx, addr)
	elapsed := time.Since(start)

	if err != nil {
		m.collector.RecordHealthCheck(name, false, elapsed)
		from, to, applyErr := m.pool.ApplyPollFailure(name)
		if applyErr != nil {
			return
		}
		m.collector.SetNodeStatus(name, to.Code())
		m.logger.Warn("health check failed",
			zap.String("node", name),
			zap.String("addr", addr),
			zap.Error(err))
		if from != to {
			m.logStatusChange(name, from, to)
		}
		return
	}

	m.collector.RecordHealthCheck(name, true, elapsed)
	from, to, applyErr := m.pool.ApplyPollSuccess(name, snap, float64(elapsed.Milliseconds()))
	if applyErr != nil {
		return
	}
	m.collector.SetNodeStatus(name, to.Code())
	if from != to {
		m.logStatusChange(name, from, to)
	}
}

// fetchHealth performs the GET /health request. Any status other than 200
// counts as a failed check, even other 2xx codes.
func (m *HealthMonitor) fetchHealth(ctx context.Context, addr string) (HealthSnapshot, error) {
	var snap HealthSnapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return snap, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("unexpected health status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode health response: %w", err)
	}
	return snap, nil
}

func (m *HealthMonitor) logStatusChange(name string, from, to NodeStatus) {
	m.logger.Info("node status changed",
		zap.String("node", name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}
