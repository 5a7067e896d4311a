package gossip

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmesh/fleetmesh/internal/metrics"
	"github.com/fleetmesh/fleetmesh/types"
)

// Stats is a point-in-time snapshot of one coordinator's counters.
type Stats struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	GossipRounds     int64 `json:"gossip_rounds"`
	StateChanges     int64 `json:"state_changes"`
	TotalAgents      int   `json:"total_agents"`
	AliveAgents      int   `json:"alive_agents"`
	SuspectedAgents  int   `json:"suspected_agents"`
	DeadAgents       int   `json:"dead_agents"`
}

// Coordinator runs one agent's side of the membership protocol: the gossip
// round, the failure-detection scan and the passive listener, all over a
// single Registry it owns. Multiple coordinators in one process are fully
// independent.
type Coordinator struct {
	cfg       Config
	registry  *Registry
	transport Transport
	dedup     *DedupCache
	collector *metrics.Collector
	logger    *zap.Logger

	mu     sync.Mutex
	lis    net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	rounds           atomic.Int64
	stateChanges     atomic.Int64
}

// NewCoordinator creates a coordinator for the given configuration. Passing
// a nil collector or logger selects no-op implementations.
func NewCoordinator(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(
		zap.String("component", "gossip_coordinator"),
		zap.String("agent_id", cfg.AgentID),
	)

	c := &Coordinator{
		cfg:       cfg,
		registry:  NewRegistry(cfg.AgentID, cfg.Host, cfg.Port),
		transport: NewTCPTransport(cfg.DialTimeout, cfg.MaxFrameSize, logger),
		dedup:     NewDedupCache(cfg.DedupCapacity),
		collector: collector,
		logger:    logger,
	}

	logger.Info("gossip coordinator initialized",
		zap.String("bind", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("fanout", cfg.Fanout),
	)
	return c, nil
}

// Registry returns the coordinator's membership registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Addr returns the listener address, valid after Start. Useful when binding
// to port 0.
func (c *Coordinator) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lis == nil {
		return nil
	}
	return c.lis.Addr()
}

// Start binds the listener and launches the gossip, failure-detection and
// accept loops. It returns immediately; Stop joins the loops.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lis != nil {
		return fmt.Errorf("coordinator already started")
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind gossip listener: %w", err)
	}
	c.lis = lis
	if c.cfg.Port == 0 {
		c.registry.setSelfPort(lis.Addr().(*net.TCPAddr).Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		if err := c.transport.Serve(ctx, lis, c.handleEnvelope); err != nil {
			c.logger.Error("gossip listener failed", zap.Error(err))
		}
	}()
	go c.gossipLoop(ctx)
	go c.scanLoop(ctx)

	c.logger.Info("gossip listener started", zap.String("addr", lis.Addr().String()))
	return nil
}

// Stop cancels the loops and waits for in-flight iterations to finish or
// time out. It never interrupts a half-applied merge.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lis = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("gossip coordinator stopped")
}

// Bootstrap contacts the configured seeds in order with a pull envelope
// carrying only the self record, and merges the first reply. Failure to
// reach every seed leaves the agent a reachable singleton; the error is for
// reporting, not for aborting startup.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	if len(c.cfg.Seeds) == 0 {
		return nil
	}
	var lastErr error
	for _, seed := range c.cfg.Seeds {
		if err := c.Join(ctx, seed); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return types.WrapError(types.ErrJoinFailed, "all seeds unreachable", lastErr)
}

// Join performs the join handshake against one seed address.
func (c *Coordinator) Join(ctx context.Context, seedAddr string) error {
	c.logger.Info("joining mesh", zap.String("seed", seedAddr))

	env := newEnvelope(TypePull, c.registry.SelfID(), []AgentRecord{c.registry.Self()})
	reply, err := c.transport.Exchange(ctx, seedAddr, env)
	if err != nil {
		c.logger.Error("failed to join mesh", zap.String("seed", seedAddr), zap.Error(err))
		return types.WrapError(types.ErrJoinFailed, fmt.Sprintf("join via %s", seedAddr), err)
	}
	c.messagesSent.Add(1)
	c.collector.RecordGossipSent(string(TypePull))

	if reply != nil {
		c.applyEnvelope(reply)
	}
	c.logger.Info("joined mesh",
		zap.String("seed", seedAddr),
		zap.Int("known_agents", c.registry.Len()),
	)
	return nil
}

// SetMetadata updates the self record's metadata; later rounds propagate it.
func (c *Coordinator) SetMetadata(md map[string]string) {
	c.registry.SetMetadata(md)
}

// Stats returns current counters and member counts.
func (c *Coordinator) Stats() Stats {
	counts := c.registry.CountByState()
	return Stats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		GossipRounds:     c.rounds.Load(),
		StateChanges:     c.stateChanges.Load(),
		TotalAgents:      c.registry.Len(),
		AliveAgents:      counts[StateAlive],
		SuspectedAgents:  counts[StateSuspected],
		DeadAgents:       counts[StateDead],
	}
}

func (c *Coordinator) gossipLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.gossipRound(ctx)
		}
	}
}

// gossipRound advances the self heartbeat, then exchanges registries with up
// to fanout alive peers chosen uniformly at random. Per-peer errors degrade
// that peer, never the round.
func (c *Coordinator) gossipRound(ctx context.Context) {
	c.registry.IncrementHeartbeat()

	peers := c.registry.Alive(true)
	if len(peers) > 0 {
		rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
		if len(peers) > c.cfg.Fanout {
			peers = peers[:c.cfg.Fanout]
		}
		for i := range peers {
			c.gossipWithPeer(ctx, &peers[i])
		}
	}

	rounds := c.rounds.Add(1)
	c.collector.RecordGossipRound()
	c.updateMemberGauges()

	if rounds%10 == 0 {
		counts := c.registry.CountByState()
		c.logger.Debug("gossip round",
			zap.Int64("round", rounds),
			zap.Int("agents", c.registry.Len()),
			zap.Int("alive", counts[StateAlive]),
		)
	}
}

// gossipWithPeer runs one push-pull exchange. An unreachable peer is
// immediately demoted to suspected, piggy-backing failure detection on the
// communication path.
func (c *Coordinator) gossipWithPeer(ctx context.Context, peer *AgentRecord) {
	exchCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	env := newEnvelope(TypePushPull, c.registry.SelfID(), c.registry.Snapshot())
	reply, err := c.transport.Exchange(exchCtx, peer.Addr(), env)
	if err != nil {
		c.logger.Debug("gossip exchange failed",
			zap.String("peer", peer.AgentID),
			zap.Error(err),
		)
		if from, ok := c.registry.MarkState(peer.AgentID, StateSuspected); ok {
			c.recordTransition(peer.AgentID, from, StateSuspected)
		}
		return
	}

	c.messagesSent.Add(1)
	c.collector.RecordGossipSent(string(TypePushPull))
	if reply != nil {
		c.applyEnvelope(reply)
	}
}

func (c *Coordinator) scanLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tr := range c.registry.ScanTimeouts(time.Now(), c.cfg.SuspectTimeout, c.cfg.DeadTimeout) {
				c.recordTransition(tr.AgentID, tr.From, tr.To)
			}
		}
	}
}

// handleEnvelope is the listener path: dedup check, merge, and an ack reply
// for pull and push-pull envelopes.
func (c *Coordinator) handleEnvelope(env *Envelope) *Envelope {
	digest := env.Digest
	if digest == "" {
		digest = env.ComputeDigest()
	}
	if c.dedup.Seen(digest) {
		c.collector.RecordGossipDuplicate()
		c.logger.Debug("ignoring duplicate envelope",
			zap.String("digest", digest),
			zap.String("sender", env.SenderID),
		)
		return nil
	}

	c.messagesReceived.Add(1)
	c.collector.RecordGossipReceived(string(env.Type))
	c.applyEnvelope(env)

	if env.Type != TypePull && env.Type != TypePushPull {
		return nil
	}
	ack := newEnvelope(TypeAck, c.registry.SelfID(), c.registry.Snapshot())
	c.messagesSent.Add(1)
	c.collector.RecordGossipSent(string(TypeAck))
	return ack
}

// applyEnvelope merges every record in env into the registry.
func (c *Coordinator) applyEnvelope(env *Envelope) {
	for _, rec := range env.Records {
		outcome := c.registry.Merge(rec)
		switch {
		case outcome.New:
			c.logger.Info("discovered new agent",
				zap.String("agent_id", rec.AgentID),
				zap.String("state", string(outcome.To)),
			)
			c.stateChanges.Add(1)
			c.collector.RecordStateTransition("none", string(outcome.To))
		case outcome.Applied && outcome.From != outcome.To:
			c.logger.Info("agent state changed",
				zap.String("agent_id", rec.AgentID),
				zap.String("from", string(outcome.From)),
				zap.String("to", string(outcome.To)),
			)
			c.stateChanges.Add(1)
			c.collector.RecordStateTransition(string(outcome.From), string(outcome.To))
		}
	}
}

func (c *Coordinator) recordTransition(agentID string, from, to AgentState) {
	c.logger.Warn("agent state changed",
		zap.String("agent_id", agentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	c.stateChanges.Add(1)
	c.collector.RecordStateTransition(string(from), string(to))
}

func (c *Coordinator) updateMemberGauges() {
	counts := c.registry.CountByState()
	for _, state := range []AgentState{StateAlive, StateSuspected, StateDead} {
		c.collector.SetMemberCount(string(state), counts[state])
	}
}
