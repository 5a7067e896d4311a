package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SeedsSelf(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)

	self := r.Self()
	assert.Equal(t, "node-1", self.AgentID)
	assert.Equal(t, StateAlive, self.State)
	assert.Equal(t, uint64(0), self.Heartbeat)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_IncrementHeartbeat(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)

	assert.Equal(t, uint64(1), r.IncrementHeartbeat())
	assert.Equal(t, uint64(2), r.IncrementHeartbeat())
	assert.Equal(t, uint64(2), r.Self().Heartbeat)
}

func TestRegistry_MergeInsertsNewAgent(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)

	out := r.Merge(AgentRecord{
		AgentID:   "node-2",
		Host:      "127.0.0.1",
		Port:      7947,
		State:     StateAlive,
		Heartbeat: 5,
	})

	require.True(t, out.Applied)
	assert.True(t, out.New)

	got, ok := r.Get("node-2")
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Heartbeat)
	// LastSeen is assigned locally, never taken from the wire.
	assert.False(t, got.LastSeen.IsZero())
}

func TestRegistry_MergeOrdersByHeartbeatOnly(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 10})

	// Equal heartbeat is ignored even with different content.
	out := r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateDead, Heartbeat: 10})
	assert.False(t, out.Applied)
	got, _ := r.Get("node-2")
	assert.Equal(t, StateAlive, got.State)

	// Lower heartbeat is ignored.
	out = r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateDead, Heartbeat: 3})
	assert.False(t, out.Applied)

	// Higher heartbeat wins regardless of state.
	out = r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateSuspected, Heartbeat: 11})
	require.True(t, out.Applied)
	got, _ = r.Get("node-2")
	assert.Equal(t, StateSuspected, got.State)
	assert.Equal(t, uint64(11), got.Heartbeat)
}

func TestRegistry_MergeIgnoresSelf(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.IncrementHeartbeat()

	out := r.Merge(AgentRecord{AgentID: "node-1", Host: "evil", Port: 1, State: StateDead, Heartbeat: 100})
	assert.False(t, out.Applied)
	assert.Equal(t, uint64(1), r.Self().Heartbeat)
	assert.Equal(t, StateAlive, r.Self().State)
}

func TestRegistry_ResurrectionByHigherHeartbeat(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 5})
	r.MarkState("node-2", StateDead)

	out := r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 6})
	require.True(t, out.Applied)
	assert.Equal(t, StateDead, out.From)
	assert.Equal(t, StateAlive, out.To)

	got, _ := r.Get("node-2")
	assert.Equal(t, StateAlive, got.State)
}

func TestRegistry_DeadRecordsAreRetained(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})
	r.MarkState("node-2", StateDead)

	// Dead agents stay in the registry and in snapshots; a stale revival
	// with an old heartbeat must keep losing to the retained record.
	assert.Equal(t, 2, r.Len())
	out := r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})
	assert.False(t, out.Applied)
	got, _ := r.Get("node-2")
	assert.Equal(t, StateDead, got.State)
}

func TestRegistry_MarkStateDoesNotTouchHeartbeat(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 7})

	from, ok := r.MarkState("node-2", StateSuspected)
	require.True(t, ok)
	assert.Equal(t, StateAlive, from)

	got, _ := r.Get("node-2")
	assert.Equal(t, StateSuspected, got.State)
	assert.Equal(t, uint64(7), got.Heartbeat)
}

func TestRegistry_ScanTimeouts(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})

	now := time.Now()

	// Within the suspect window nothing changes.
	assert.Empty(t, r.ScanTimeouts(now.Add(time.Second), 5*time.Second, 15*time.Second))

	transitions := r.ScanTimeouts(now.Add(6*time.Second), 5*time.Second, 15*time.Second)
	require.Len(t, transitions, 1)
	assert.Equal(t, "node-2", transitions[0].AgentID)
	assert.Equal(t, StateAlive, transitions[0].From)
	assert.Equal(t, StateSuspected, transitions[0].To)
}

func TestRegistry_ScanNeverSkipsSuspected(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})

	now := time.Now()

	// Even far past the dead timeout, an alive record only moves one step
	// per scan.
	transitions := r.ScanTimeouts(now.Add(time.Hour), 5*time.Second, 15*time.Second)
	require.Len(t, transitions, 1)
	assert.Equal(t, StateSuspected, transitions[0].To)

	transitions = r.ScanTimeouts(now.Add(time.Hour), 5*time.Second, 15*time.Second)
	require.Len(t, transitions, 1)
	assert.Equal(t, StateSuspected, transitions[0].From)
	assert.Equal(t, StateDead, transitions[0].To)

	// Dead is terminal for the scanner.
	assert.Empty(t, r.ScanTimeouts(now.Add(2*time.Hour), 5*time.Second, 15*time.Second))
}

func TestRegistry_ScanExcludesSelf(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	assert.Empty(t, r.ScanTimeouts(time.Now().Add(time.Hour), 5*time.Second, 15*time.Second))
	assert.Equal(t, StateAlive, r.Self().State)
}

func TestRegistry_AliveExcludesSelfAndNonAlive(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})
	r.Merge(AgentRecord{AgentID: "node-3", Host: "127.0.0.1", Port: 7948, State: StateAlive, Heartbeat: 1})
	r.MarkState("node-3", StateSuspected)

	peers := r.Alive(true)
	require.Len(t, peers, 1)
	assert.Equal(t, "node-2", peers[0].AgentID)

	all := r.Alive(false)
	assert.Len(t, all, 2)
}

func TestRegistry_CountByState(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})
	r.Merge(AgentRecord{AgentID: "node-3", Host: "127.0.0.1", Port: 7948, State: StateAlive, Heartbeat: 1})
	r.MarkState("node-2", StateSuspected)
	r.MarkState("node-3", StateDead)

	counts := r.CountByState()
	assert.Equal(t, 1, counts[StateAlive])
	assert.Equal(t, 1, counts[StateSuspected])
	assert.Equal(t, 1, counts[StateDead])
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry("node-1", "127.0.0.1", 7946)
	r.Merge(AgentRecord{AgentID: "node-2", Host: "127.0.0.1", Port: 7947, State: StateAlive, Heartbeat: 1})

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	for i := range snap {
		snap[i].State = StateDead
	}

	got, _ := r.Get("node-2")
	assert.Equal(t, StateAlive, got.State)
}
