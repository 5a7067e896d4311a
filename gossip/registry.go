package gossip

import (
	"sync"
	"time"
)

// Registry is the in-memory membership map of one agent. It is owned by a
// single Coordinator instance; all mutation goes through the merge, state and
// scan operations below, which are mutually exclusive per registry.
//
// Records are never deleted: dead agents remain as tombstones so that a later
// resurrection (a fresh, higher heartbeat) is recognized as such.
type Registry struct {
	mu      sync.RWMutex
	selfID  string
	records map[string]*AgentRecord
}

// MergeOutcome describes the effect of merging one incoming record.
type MergeOutcome struct {
	// Applied is true if the registry changed.
	Applied bool
	// New is true if the record was not previously known.
	New bool
	// From and To carry the state transition when Applied and not New.
	From AgentState
	To   AgentState
}

// Transition records one state change made by the failure-detection scan.
type Transition struct {
	AgentID string
	From    AgentState
	To      AgentState
}

// NewRegistry creates a registry seeded with the owning agent's record.
// The self record always starts alive with heartbeat zero.
func NewRegistry(selfID, host string, port int) *Registry {
	r := &Registry{
		selfID:  selfID,
		records: make(map[string]*AgentRecord),
	}
	r.records[selfID] = &AgentRecord{
		AgentID:  selfID,
		Host:     host,
		Port:     port,
		State:    StateAlive,
		LastSeen: time.Now(),
		Metadata: map[string]string{},
	}
	return r
}

// SelfID returns the owning agent's identity.
func (r *Registry) SelfID() string {
	return r.selfID
}

// Self returns a copy of the owning agent's record.
func (r *Registry) Self() AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.records[r.selfID].clone()
}

// IncrementHeartbeat advances the self record's heartbeat counter and
// refreshes its LastSeen. Only the owning agent ever increments a heartbeat.
func (r *Registry) IncrementHeartbeat() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	self := r.records[r.selfID]
	self.Heartbeat++
	self.LastSeen = time.Now()
	return self.Heartbeat
}

// setSelfPort updates the advertised port on the self record. Used when
// the listener was bound to port 0.
func (r *Registry) setSelfPort(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.selfID].Port = port
}

// SetMetadata merges the given keys into the self record's metadata map.
// Subsequent gossip rounds propagate the change.
func (r *Registry) SetMetadata(md map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	self := r.records[r.selfID]
	if self.Metadata == nil {
		self.Metadata = make(map[string]string, len(md))
	}
	for k, v := range md {
		self.Metadata[k] = v
	}
}

// Merge applies one incoming record under the last-writer-wins rule: the
// stored record is replaced only if the incoming heartbeat is strictly
// greater. Records for the registry's own identity are ignored. Merging the
// same or an older record is a no-op, which makes merges idempotent and
// commutative.
//
// LastSeen is always set locally; the remote value is not trusted.
func (r *Registry) Merge(in AgentRecord) MergeOutcome {
	if in.AgentID == r.selfID {
		return MergeOutcome{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[in.AgentID]
	if !ok {
		rec := in.clone()
		rec.LastSeen = time.Now()
		r.records[in.AgentID] = rec
		return MergeOutcome{Applied: true, New: true, To: rec.State}
	}

	if in.Heartbeat <= existing.Heartbeat {
		return MergeOutcome{}
	}

	from := existing.State
	rec := in.clone()
	rec.LastSeen = time.Now()
	r.records[in.AgentID] = rec
	return MergeOutcome{Applied: true, From: from, To: rec.State}
}

// MarkState sets an agent's state without touching heartbeat or LastSeen.
// It is the fast path used when a direct exchange with a peer fails. The
// returned bool is false if the agent is unknown or already in that state.
func (r *Registry) MarkState(agentID string, to AgentState) (AgentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok || rec.State == to {
		return "", false
	}
	from := rec.State
	rec.State = to
	return from, true
}

// ScanTimeouts demotes stale records in one pass: alive records older than
// suspectTimeout become suspected, suspected records older than deadTimeout
// become dead. No record skips a state on timeout alone. The self record is
// never scanned.
func (r *Registry) ScanTimeouts(now time.Time, suspectTimeout, deadTimeout time.Duration) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var transitions []Transition
	for id, rec := range r.records {
		if id == r.selfID {
			continue
		}
		age := now.Sub(rec.LastSeen)
		switch rec.State {
		case StateAlive:
			if age > suspectTimeout {
				rec.State = StateSuspected
				transitions = append(transitions, Transition{AgentID: id, From: StateAlive, To: StateSuspected})
			}
		case StateSuspected:
			if age > deadTimeout {
				rec.State = StateDead
				transitions = append(transitions, Transition{AgentID: id, From: StateSuspected, To: StateDead})
			}
		}
	}
	return transitions
}

// Get returns a copy of one record.
func (r *Registry) Get(agentID string) (AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[agentID]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec.clone(), true
}

// Snapshot returns copies of every record, tombstones included.
func (r *Registry) Snapshot() []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec.clone())
	}
	return out
}

// Alive returns copies of all alive records, optionally excluding self.
func (r *Registry) Alive(excludeSelf bool) []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentRecord, 0, len(r.records))
	for id, rec := range r.records {
		if excludeSelf && id == r.selfID {
			continue
		}
		if rec.State == StateAlive {
			out = append(out, *rec.clone())
		}
	}
	return out
}

// Len returns the number of known records, tombstones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// CountByState returns the number of records in each state.
func (r *Registry) CountByState() map[AgentState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[AgentState]int, 3)
	for _, rec := range r.records {
		counts[rec.State]++
	}
	return counts
}
