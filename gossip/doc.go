// Package gossip implements decentralized membership and failure detection
// for a fleet of agents using epidemic (push-pull) dissemination with
// SWIM-style suspicion and death timeouts.
//
// Each agent runs a Coordinator owning a Registry of AgentRecord entries.
// Three loops run concurrently: the gossip round (periodic push-pull exchange
// of the full registry with a random subset of alive peers), the failure
// detector (timeout-driven alive -> suspected -> dead demotion), and a
// passive TCP listener answering pull and push-pull envelopes. All three
// mutate the same registry through serialized merge and scan operations.
//
// Ordering is by per-agent heartbeat counters only. Merges are idempotent
// and commutative, so the mesh converges regardless of message arrival
// order, and no wall-clock comparison ever crosses agent boundaries.
package gossip
