package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// AgentState represents the liveness state of an agent in the mesh.
type AgentState string

const (
	// StateAlive indicates the agent is believed to be alive.
	StateAlive AgentState = "alive"
	// StateSuspected indicates the agent has not been heard from within the
	// suspect timeout, or a direct exchange with it failed.
	StateSuspected AgentState = "suspected"
	// StateDead indicates the agent exceeded the dead timeout while suspected.
	// Dead records are kept as tombstones so a resurrection (a fresh, higher
	// heartbeat) can be recognized.
	StateDead AgentState = "dead"
)

// AgentRecord is one agent's membership entry as replicated through gossip.
//
// Heartbeat is a monotonically increasing counter incremented only by the
// owning agent; it is the sole ordering authority for merges. LastSeen is a
// local observation timestamp and is never taken from the wire: remote clocks
// are not trusted.
type AgentRecord struct {
	AgentID   string            `json:"agent_id"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	State     AgentState        `json:"state"`
	Heartbeat uint64            `json:"heartbeat"`
	LastSeen  time.Time         `json:"last_seen"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Addr returns the agent's dialable address.
func (r *AgentRecord) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// clone returns a deep copy of the record.
func (r *AgentRecord) clone() *AgentRecord {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// EnvelopeType identifies the role of a gossip envelope.
type EnvelopeType string

const (
	// TypePush carries records without requesting a reply.
	TypePush EnvelopeType = "push"
	// TypePull carries the sender's own record and requests the receiver's
	// full registry in reply. Used for joining.
	TypePull EnvelopeType = "pull"
	// TypePushPull carries the sender's full registry and requests the
	// receiver's in reply. Used for the periodic gossip round.
	TypePushPull EnvelopeType = "push-pull"
	// TypeAck is the reply to a pull or push-pull envelope.
	TypeAck EnvelopeType = "ack"
)

// Envelope is one gossip wire frame: newline-delimited UTF-8 JSON over a
// plain TCP connection. A connection carries exactly one request frame and,
// for pull/push-pull, exactly one response frame, then closes.
type Envelope struct {
	Type      EnvelopeType  `json:"type"`
	SenderID  string        `json:"sender_id"`
	Timestamp float64       `json:"timestamp"`
	Records   []AgentRecord `json:"records"`
	Digest    string        `json:"digest,omitempty"`
}

// ComputeDigest returns the envelope's deduplication fingerprint.
//
// The digest deliberately covers only (sender, timestamp, record count), not
// payload content: two distinct envelopes from the same sender in the same
// timestamp bucket with equal record counts collide and the second is treated
// as a duplicate. This mirrors the protocol as deployed; changing it would
// change which frames peers discard.
func (e *Envelope) ComputeDigest() string {
	content := e.SenderID + strconv.FormatFloat(e.Timestamp, 'f', -1, 64) + strconv.Itoa(len(e.Records))
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// newEnvelope builds a stamped, digested envelope.
func newEnvelope(t EnvelopeType, senderID string, records []AgentRecord) *Envelope {
	e := &Envelope{
		Type:      t,
		SenderID:  senderID,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Records:   records,
	}
	e.Digest = e.ComputeDigest()
	return e
}
