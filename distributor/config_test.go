package distributor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmesh/fleetmesh/types"
)

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())

	assert.Equal(t, string(PolicyWeighted), cfg.Policy)
	assert.Equal(t, 10*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckTimeout)
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, time.Second, cfg.DrainInterval)
	assert.Equal(t, 10, cfg.DrainBatchSize)
	assert.Equal(t, defaultQueueCapacity, cfg.QueueCapacity)
}

func TestConfig_ValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := Config{Policy: "fastest"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.CodeOf(err))
}

func TestConfig_ValidateKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Policy:              string(PolicyRoundRobin),
		HealthCheckInterval: 3 * time.Second,
		DrainBatchSize:      25,
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, string(PolicyRoundRobin), cfg.Policy)
	assert.Equal(t, 3*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 25, cfg.DrainBatchSize)
}
