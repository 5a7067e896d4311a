package gossip

import (
	"fmt"
	"time"

	"github.com/fleetmesh/fleetmesh/types"
)

// Tunable defaults.
const (
	defaultFanout         = 3
	defaultGossipInterval = 1 * time.Second
	defaultScanInterval   = 1 * time.Second
	defaultSuspectTimeout = 5 * time.Second
	defaultDeadTimeout    = 15 * time.Second
	defaultDialTimeout    = 2 * time.Second
	defaultDedupCapacity  = 1000
	defaultMaxFrameSize   = 4 << 20 // 4 MiB
)

// Config enumerates every tunable of one gossip agent. Zero values are
// replaced by defaults in Validate, except AgentID which is required.
type Config struct {
	// AgentID is this agent's unique identity in the mesh.
	AgentID string `yaml:"agent_id" env:"AGENT_ID" json:"agent_id"`

	// Host and Port form the TCP bind address for the gossip listener and
	// the address advertised to peers in the self record.
	Host string `yaml:"host" env:"HOST" json:"host"`
	Port int    `yaml:"port" env:"PORT" json:"port"`

	// Fanout is the number of peers contacted per gossip round.
	Fanout int `yaml:"fanout" env:"FANOUT" json:"fanout"`

	// GossipInterval is the time between gossip rounds.
	GossipInterval time.Duration `yaml:"gossip_interval" env:"GOSSIP_INTERVAL" json:"gossip_interval"`

	// ScanInterval is the time between failure-detection scans. It is
	// independent of GossipInterval.
	ScanInterval time.Duration `yaml:"scan_interval" env:"SCAN_INTERVAL" json:"scan_interval"`

	// SuspectTimeout is the inactivity age at which an alive record is
	// demoted to suspected.
	SuspectTimeout time.Duration `yaml:"suspect_timeout" env:"SUSPECT_TIMEOUT" json:"suspect_timeout"`

	// DeadTimeout is the inactivity age at which a suspected record is
	// demoted to dead.
	DeadTimeout time.Duration `yaml:"dead_timeout" env:"DEAD_TIMEOUT" json:"dead_timeout"`

	// DialTimeout bounds each peer connection, read and write.
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" json:"dial_timeout"`

	// DedupCapacity is the size of the bounded FIFO digest cache.
	DedupCapacity int `yaml:"dedup_capacity" env:"DEDUP_CAPACITY" json:"dedup_capacity"`

	// MaxFrameSize is the largest accepted wire frame in bytes.
	MaxFrameSize int `yaml:"max_frame_size" env:"MAX_FRAME_SIZE" json:"max_frame_size"`

	// Seeds are addresses tried in order when joining the mesh. Empty means
	// start as a singleton.
	Seeds []string `yaml:"seeds" env:"SEEDS" json:"seeds,omitempty"`
}

// DefaultConfig returns a Config with every tunable at its default.
// AgentID is left empty and must be set by the caller.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           7946,
		Fanout:         defaultFanout,
		GossipInterval: defaultGossipInterval,
		ScanInterval:   defaultScanInterval,
		SuspectTimeout: defaultSuspectTimeout,
		DeadTimeout:    defaultDeadTimeout,
		DialTimeout:    defaultDialTimeout,
		DedupCapacity:  defaultDedupCapacity,
		MaxFrameSize:   defaultMaxFrameSize,
	}
}

// Validate fills defaulted zero values and rejects configurations under
// which no useful work is possible.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return types.NewError(types.ErrInvalidConfig, "agent_id is required")
	}
	// Port 0 binds an ephemeral port; the self record is updated with the
	// bound port at start.
	if c.Port < 0 || c.Port > 65535 {
		return types.NewError(types.ErrInvalidConfig, fmt.Sprintf("invalid port %d", c.Port))
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Fanout <= 0 {
		c.Fanout = defaultFanout
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = defaultGossipInterval
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	if c.SuspectTimeout <= 0 {
		c.SuspectTimeout = defaultSuspectTimeout
	}
	if c.DeadTimeout <= 0 {
		c.DeadTimeout = defaultDeadTimeout
	}
	if c.DeadTimeout <= c.SuspectTimeout {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("dead_timeout %s must exceed suspect_timeout %s", c.DeadTimeout, c.SuspectTimeout))
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = defaultDedupCapacity
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	return nil
}
