package distributor

import (
	"time"
)

// Tunable defaults.
const (
	defaultHealthCheckInterval = 10 * time.Second
	defaultHealthCheckTimeout  = 5 * time.Second
	defaultDispatchTimeout     = 10 * time.Second
	defaultDrainInterval       = 1 * time.Second
	defaultDrainBatchSize      = 10
	defaultQueueCapacity       = 10000
	defaultMaxConnections      = 60000
)

// Config enumerates every tunable of one distributor instance.
type Config struct {
	// Policy selects the node selection strategy: round_robin,
	// least_loaded or weighted.
	Policy string `yaml:"policy" env:"POLICY" json:"policy"`

	// HealthCheckInterval is the time between health-poll sweeps.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL" json:"health_check_interval"`

	// HealthCheckTimeout bounds each individual node poll.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT" json:"health_check_timeout"`

	// DispatchTimeout bounds each task dispatch request.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT" json:"dispatch_timeout"`

	// DrainInterval is the time between pending-queue drain passes.
	DrainInterval time.Duration `yaml:"drain_interval" env:"DRAIN_INTERVAL" json:"drain_interval"`

	// DrainBatchSize caps how many queued tasks one drain pass attempts.
	DrainBatchSize int `yaml:"drain_batch_size" env:"DRAIN_BATCH_SIZE" json:"drain_batch_size"`

	// QueueCapacity bounds the pending task queue.
	QueueCapacity int `yaml:"queue_capacity" env:"QUEUE_CAPACITY" json:"queue_capacity"`
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		Policy:              string(PolicyWeighted),
		HealthCheckInterval: defaultHealthCheckInterval,
		HealthCheckTimeout:  defaultHealthCheckTimeout,
		DispatchTimeout:     defaultDispatchTimeout,
		DrainInterval:       defaultDrainInterval,
		DrainBatchSize:      defaultDrainBatchSize,
		QueueCapacity:       defaultQueueCapacity,
	}
}

// Validate fills defaulted zero values and rejects unusable configurations.
func (c *Config) Validate() error {
	if _, err := ParsePolicy(c.Policy); err != nil {
		return err
	}
	if c.Policy == "" {
		c.Policy = string(PolicyWeighted)
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = defaultHealthCheckTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = defaultDrainInterval
	}
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = defaultDrainBatchSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	return nil
}
