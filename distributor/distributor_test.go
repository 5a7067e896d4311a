package distributor

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/fleetmesh/testutil"
	"github.com/fleetmesh/fleetmesh/types"
)

func testDistConfig() Config {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = 50 * time.Millisecond
	cfg.HealthCheckTimeout = time.Second
	cfg.DispatchTimeout = time.Second
	cfg.DrainInterval = 50 * time.Millisecond
	return cfg
}

// newTestDistributor builds a distributor with one stub-backed node already
// polled healthy.
func newTestDistributor(t *testing.T, cfg Config, stub *testutil.WorkerStub) *Distributor {
	t.Helper()
	d, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.AddNode(NodeConfig{Name: "w1", Host: stub.Host(), Port: stub.Port(), MaxConnections: 100}))
	d.monitor.PollAll(testutil.TestContext(t))
	return d
}

func TestNew_RejectsBadPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "fastest"
	_, err := New(cfg, nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.CodeOf(err))
}

func TestDistributor_StartRequiresNodes(t *testing.T) {
	d, err := New(testDistConfig(), nil, nil)
	require.NoError(t, err)

	err = d.Start(testutil.TestContext(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.CodeOf(err))
}

func TestDistributor_DistributeSendsLoadPayload(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	d := newTestDistributor(t, testDistConfig(), stub)

	task := NewTask("192.0.2.10", 2222, "admin", "secret", "camera")
	node, err := d.Distribute(testutil.TestContext(t), task)
	require.NoError(t, err)
	assert.Equal(t, "w1", node)

	loads := stub.Loads()
	require.Len(t, loads, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(loads[0], &payload))
	assert.Equal(t, "192.0.2.10", payload["target_ip"])
	assert.Equal(t, float64(2222), payload["target_port"])
	assert.Equal(t, "admin", payload["username"])
	assert.Equal(t, "secret", payload["password"])
	assert.Equal(t, "camera", payload["device_type"])
	// The wire body carries only what the worker needs.
	assert.NotContains(t, payload, "id")
	assert.NotContains(t, payload, "created_at")
}

func TestDistributor_DistributeAccepts2xx(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	stub.SetLoadStatus(http.StatusAccepted)
	d := newTestDistributor(t, testDistConfig(), stub)

	_, err := d.Distribute(testutil.TestContext(t), NewTask("192.0.2.1", 22, "u", "p", ""))
	assert.NoError(t, err)
}

func TestDistributor_NoAvailableNodeQueues(t *testing.T) {
	d, err := New(testDistConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.AddNode(NodeConfig{Name: "w1", Host: "127.0.0.1", Port: 9001, MaxConnections: 100}))
	// Never polled: the node is unknown and not selectable.

	_, err = d.Distribute(testutil.TestContext(t), NewTask("192.0.2.1", 22, "u", "p", ""))
	require.Error(t, err)
	assert.Equal(t, types.ErrNoAvailableNode, types.CodeOf(err))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 1, d.QueueLen())
}

func TestDistributor_FailedDispatchRequeues(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	stub.SetLoadStatus(http.StatusServiceUnavailable)
	d := newTestDistributor(t, testDistConfig(), stub)

	task := NewTask("192.0.2.1", 22, "u", "p", "")
	_, err := d.Distribute(testutil.TestContext(t), task)
	require.Error(t, err)
	assert.Equal(t, types.ErrDispatchFailed, types.CodeOf(err))
	assert.Equal(t, 1, d.QueueLen())

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Tasks.Failed)
	assert.Equal(t, int64(1), stats.Tasks.Requeued)
	assert.Equal(t, int64(0), stats.Tasks.Distributed)
}

func TestDistributor_DrainQueueDispatchesBatch(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()

	cfg := testDistConfig()
	cfg.DrainBatchSize = 3
	d := newTestDistributor(t, cfg, stub)

	for i := 0; i < 5; i++ {
		d.Enqueue(NewTask("192.0.2.1", 22, "u", "p", ""))
	}

	dispatched := d.DrainQueue(testutil.TestContext(t))
	assert.Equal(t, 3, dispatched)
	assert.Equal(t, 2, d.QueueLen())

	dispatched = d.DrainQueue(testutil.TestContext(t))
	assert.Equal(t, 2, dispatched)
	assert.Zero(t, d.QueueLen())
	assert.Equal(t, 5, stub.LoadCount())
}

func TestDistributor_DrainQueueAttemptsEachTaskOnce(t *testing.T) {
	// With every dispatch failing, one drain pass tries each popped task a
	// single time and requeues it; it never spins retrying within the call.
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	stub.SetLoadStatus(http.StatusBadGateway)

	cfg := testDistConfig()
	cfg.DrainBatchSize = 10
	d := newTestDistributor(t, cfg, stub)

	for i := 0; i < 4; i++ {
		d.Enqueue(NewTask("192.0.2.1", 22, "u", "p", ""))
	}

	dispatched := d.DrainQueue(testutil.TestContext(t))
	assert.Zero(t, dispatched)
	assert.Equal(t, 4, stub.LoadCount())
	assert.Equal(t, 4, d.QueueLen())
	assert.Equal(t, int64(4), d.Stats().Tasks.Requeued)
}

func TestDistributor_DrainQueueWithoutCapacityRequeues(t *testing.T) {
	d, err := New(testDistConfig(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.AddNode(NodeConfig{Name: "w1", Host: "127.0.0.1", Port: 9001, MaxConnections: 100}))

	d.Enqueue(NewTask("192.0.2.1", 22, "u", "p", ""))
	dispatched := d.DrainQueue(testutil.TestContext(t))
	assert.Zero(t, dispatched)
	assert.Equal(t, 1, d.QueueLen())
}

func TestDistributor_QueueOverflowDropsOldest(t *testing.T) {
	cfg := testDistConfig()
	cfg.QueueCapacity = 2
	d, err := New(cfg, nil, nil)
	require.NoError(t, err)

	oldest := NewTask("192.0.2.1", 22, "u", "p", "")
	d.Enqueue(oldest)
	d.Enqueue(NewTask("192.0.2.2", 22, "u", "p", ""))
	d.Enqueue(NewTask("192.0.2.3", 22, "u", "p", ""))

	assert.Equal(t, 2, d.QueueLen())
	assert.Equal(t, int64(1), d.Stats().Tasks.Dropped)
}

func TestDistributor_StartStopLifecycle(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	d := newTestDistributor(t, testDistConfig(), stub)

	ctx := testutil.TestContext(t)
	require.NoError(t, d.Start(ctx))
	// Second start is a no-op.
	require.NoError(t, d.Start(ctx))

	// The drain loop picks up queued work in the background.
	d.Enqueue(NewTask("192.0.2.1", 22, "u", "p", ""))
	testutil.AssertEventuallyTrue(t, func() bool {
		return d.QueueLen() == 0
	}, 3*time.Second)

	d.Stop()
	d.Stop()
}

func TestDistributor_RemoveNode(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 1})
	defer stub.Close()
	d := newTestDistributor(t, testDistConfig(), stub)

	require.NoError(t, d.RemoveNode("w1"))
	assert.Empty(t, d.Nodes())

	err := d.RemoveNode("w1")
	assert.Equal(t, types.ErrNodeNotFound, types.CodeOf(err))
}

func TestDistributor_Stats(t *testing.T) {
	stub := testutil.NewWorkerStub(testutil.WorkerHealth{ActiveConnections: 10})
	defer stub.Close()
	d := newTestDistributor(t, testDistConfig(), stub)

	_, err := d.Distribute(testutil.TestContext(t), NewTask("192.0.2.1", 22, "u", "p", ""))
	require.NoError(t, err)

	stats := d.Stats()
	assert.Equal(t, string(PolicyWeighted), stats.Policy)
	assert.Equal(t, int64(1), stats.Tasks.Distributed)
	assert.Equal(t, 1, stats.Pool.Total)
	assert.Equal(t, 1, stats.Pool.Healthy)
	assert.Equal(t, int64(100), stats.Pool.Capacity)
	assert.Equal(t, int64(10), stats.Pool.Used)
	assert.Equal(t, int64(90), stats.Pool.Available)
	assert.InDelta(t, 10.0, stats.Pool.UtilizationPct, 1e-9)
	require.Len(t, stats.Nodes, 1)

	// Per-node detail carries the derived scores, not just stored counters.
	detail := stats.Nodes[0]
	assert.Equal(t, "w1", detail.Name)
	assert.Equal(t, StatusHealthy, detail.Status)
	assert.InDelta(t, 10.0, detail.LoadPct, 1e-9)
	assert.InDelta(t, 100.0, detail.SuccessRate, 1e-9)
	assert.Greater(t, detail.Weight, 0.0)
}
