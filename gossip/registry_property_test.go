package gossip

import (
	"testing"

	"pgregory.net/rapid"
)

// drawRecord generates an arbitrary record for a small set of agent IDs so
// merges actually collide.
func drawRecord(t *rapid.T) AgentRecord {
	return AgentRecord{
		AgentID:   rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, "agent_id"),
		Host:      "127.0.0.1",
		Port:      rapid.IntRange(1, 65535).Draw(t, "port"),
		State:     rapid.SampledFrom([]AgentState{StateAlive, StateSuspected, StateDead}).Draw(t, "state"),
		Heartbeat: rapid.Uint64Range(0, 50).Draw(t, "heartbeat"),
	}
}

func TestRegistry_HeartbeatNeverDecreases(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry("self", "127.0.0.1", 7946)
		highest := map[string]uint64{}

		records := rapid.SliceOfN(rapid.Custom(drawRecord), 1, 40).Draw(t, "records")
		for _, rec := range records {
			r.Merge(rec)
			for id, hb := range highest {
				got, ok := r.Get(id)
				if !ok {
					t.Fatalf("record %s disappeared", id)
				}
				if got.Heartbeat < hb {
					t.Fatalf("heartbeat of %s went backwards: %d -> %d", id, hb, got.Heartbeat)
				}
			}
			if got, ok := r.Get(rec.AgentID); ok && got.Heartbeat > highest[rec.AgentID] {
				highest[rec.AgentID] = got.Heartbeat
			}
		}
	})
}

func TestRegistry_MergeIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry("self", "127.0.0.1", 7946)
		records := rapid.SliceOfN(rapid.Custom(drawRecord), 1, 40).Draw(t, "records")
		for _, rec := range records {
			r.Merge(rec)
		}

		before := snapshotByID(r)
		for _, rec := range records {
			out := r.Merge(rec)
			if out.Applied {
				t.Fatalf("re-merging %+v changed the registry", rec)
			}
		}
		after := snapshotByID(r)

		for id, rec := range before {
			if after[id].Heartbeat != rec.Heartbeat || after[id].State != rec.State {
				t.Fatalf("record %s changed on replay", id)
			}
		}
	})
}

func TestRegistry_MergeOrderIndependentConvergence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := rapid.SliceOfN(rapid.Custom(drawRecord), 1, 30).Draw(t, "records")
		perm := rapid.Permutation(records).Draw(t, "perm")

		r1 := NewRegistry("self", "127.0.0.1", 7946)
		r2 := NewRegistry("self", "127.0.0.1", 7946)
		for _, rec := range records {
			r1.Merge(rec)
		}
		for _, rec := range perm {
			r2.Merge(rec)
		}

		s1, s2 := snapshotByID(r1), snapshotByID(r2)
		if len(s1) != len(s2) {
			t.Fatalf("registries diverged in size: %d vs %d", len(s1), len(s2))
		}
		for id, rec := range s1 {
			other := s2[id]
			if rec.Heartbeat != other.Heartbeat {
				t.Fatalf("agent %s heartbeats diverged: %d vs %d", id, rec.Heartbeat, other.Heartbeat)
			}
		}
	})
}

func snapshotByID(r *Registry) map[string]AgentRecord {
	out := make(map[string]AgentRecord)
	for _, rec := range r.Snapshot() {
		out[rec.AgentID] = rec
	}
	return out
}
