package config

import (
	"fmt"
	"time"
)

// ResilienceConfig bounds every external call: LLM generation, embedding,
// page fetches and vector index queries.
type ResilienceConfig struct {
	// MaxTries is the total number of attempts, including the first.
	MaxTries int `yaml:"max_tries"`
	// InitialBackoff is the first retry delay; later delays grow exponentially.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures int `yaml:"breaker_failures"`
	// BreakerCooldown is how long an open circuit rejects calls before a
	// half-open probe is allowed.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

func (c *ResilienceConfig) SetDefaults() {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

func (c *ResilienceConfig) Validate() error {
	if c.MaxTries < 1 || c.MaxTries > 10 {
		return fmt.Errorf("max_tries must be between 1 and 10, got %d", c.MaxTries)
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}
	return nil
}
