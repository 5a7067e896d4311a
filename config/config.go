package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetmesh/fleetmesh/distributor"
	"github.com/fleetmesh/fleetmesh/gossip"
)

// Config is the complete configuration of one fleetmesh process. A process
// may run the gossip agent, the distributor, or both; the Server and Log
// sections apply to either role.
type Config struct {
	// Gossip configures cluster membership.
	Gossip gossip.Config `yaml:"gossip" env:"GOSSIP"`

	// Distributor configures task routing.
	Distributor distributor.Config `yaml:"distributor" env:"DISTRIBUTOR"`

	// Nodes is the initial worker node roster. YAML only; nodes may also
	// be registered at runtime through the admin API.
	Nodes []distributor.NodeConfig `yaml:"nodes" env:"-"`

	// Server configures the admin HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" env:"ADDR"`
	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// IdleTimeout bounds keep-alive connections.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS is the per-client sustained request rate. Zero disables
	// rate limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gossip:      gossip.DefaultConfig(),
		Distributor: distributor.DefaultConfig(),
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default admin server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// Validate checks every section. Sections with their own Validate also
// fill defaulted zero values, so a zero Config validates into a usable one
// once the gossip agent ID is set.
func (c *Config) Validate() error {
	var errs []string

	// An unset agent ID gets a generated one so a minimal config is usable
	// out of the box.
	if c.Gossip.AgentID == "" {
		c.Gossip.AgentID = "agent-" + uuid.NewString()[:8]
	}
	if err := c.Gossip.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Distributor.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	for i, n := range c.Nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Sprintf("nodes[%d]: name is required", i))
		}
		if n.Host == "" || n.Port <= 0 || n.Port > 65535 {
			errs = append(errs, fmt.Sprintf("nodes[%d]: invalid address %s:%d", i, n.Host, n.Port))
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerConfig().Addr
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
