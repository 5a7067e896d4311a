// Package distributor routes discrete units of work to the currently
// best-available worker node in a dynamically scored pool.
//
// A Distributor owns a NodePool of WorkerNode records. A HealthMonitor polls
// every node's /health endpoint concurrently on a fixed interval and rewrites
// the pool's counters with the node-authoritative values, while tracking
// round-trip latency locally. A Selector picks nodes under a round-robin,
// least-loaded or weighted policy, and the dispatch path forwards each task
// to the chosen node's /load endpoint, returning it to a bounded pending
// queue on any failure. Delivery is at least once: a task may be dispatched
// more than once across retries, but is never silently lost short of queue
// overflow, which is counted.
package distributor
