// Package fleetmesh provides a top-level convenience entry point for
// starting a gossip membership agent with minimal boilerplate.
//
// Usage:
//
//	import "github.com/fleetmesh/fleetmesh"
//
//	agent, err := fleetmesh.NewAgent("node-1", 7946)
//	agent, err := fleetmesh.NewAgent("node-2", 7947, fleetmesh.WithSeeds("127.0.0.1:7946"))
//
// The returned coordinator is not started; call Start, and Bootstrap when
// seeds are configured. For full control over every tunable use the gossip
// package directly.
package fleetmesh

import (
	"go.uber.org/zap"

	"github.com/fleetmesh/fleetmesh/gossip"
)

// Option configures the agent created by [NewAgent].
type Option func(*options)

type options struct {
	host     string
	seeds    []string
	metadata map[string]string
	logger   *zap.Logger
}

// WithHost overrides the bind host, 127.0.0.1 by default.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

// WithSeeds sets the seed addresses used by Bootstrap.
func WithSeeds(seeds ...string) Option {
	return func(o *options) { o.seeds = seeds }
}

// WithMetadata attaches initial metadata to the agent's own record.
func WithMetadata(md map[string]string) Option {
	return func(o *options) { o.metadata = md }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewAgent creates a gossip coordinator with default tunables.
func NewAgent(agentID string, port int, opts ...Option) (*gossip.Coordinator, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := gossip.DefaultConfig()
	cfg.AgentID = agentID
	cfg.Port = port
	if o.host != "" {
		cfg.Host = o.host
	}
	cfg.Seeds = o.seeds

	coord, err := gossip.NewCoordinator(cfg, nil, o.logger)
	if err != nil {
		return nil, err
	}
	if len(o.metadata) > 0 {
		coord.SetMetadata(o.metadata)
	}
	return coord, nil
}
