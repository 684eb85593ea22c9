package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// CircuitBreakerConfig controls the distributed per-destination breaker.
type CircuitBreakerConfig struct {
	CircuitBreakerEnabled      bool `json:"circuit_breaker_enabled"`
	CircuitBreakerThreshold    int  `json:"circuit_breaker_threshold"`
	CircuitBreakerResetSeconds int  `json:"circuit_breaker_reset_seconds"`
	// LocalCacheSeconds bounds how long a locally cached state is trusted
	// when no circuit.changed event arrives.
	LocalCacheSeconds int `json:"local_cache_seconds"`
}

func NewCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		CircuitBreakerEnabled:      true,
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetSeconds: 30,
		LocalCacheSeconds:          5,
	}
}

func (c *CircuitBreakerConfig) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.CircuitBreakerEnabled, "circuit-breaker-enabled", c.CircuitBreakerEnabled, "Enable the distributed circuit breaker")
	fs.IntVar(&c.CircuitBreakerThreshold, "circuit-breaker-threshold", c.CircuitBreakerThreshold, "Consecutive failures that open a destination's circuit")
	fs.IntVar(&c.CircuitBreakerResetSeconds, "circuit-breaker-reset", c.CircuitBreakerResetSeconds, "Seconds an open circuit waits before allowing a half-open probe")
	fs.IntVar(&c.LocalCacheSeconds, "circuit-cache-ttl", c.LocalCacheSeconds, "Seconds a locally cached circuit state is trusted without a change event")
}

func (c *CircuitBreakerConfig) Validate() error {
	if !c.CircuitBreakerEnabled {
		return nil
	}
	if c.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit-breaker-threshold must be positive")
	}
	if c.CircuitBreakerResetSeconds <= 0 {
		return fmt.Errorf("circuit-breaker-reset must be positive")
	}
	if c.LocalCacheSeconds < 0 {
		return fmt.Errorf("circuit-cache-ttl must not be negative")
	}
	return nil
}

func (c *CircuitBreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetSeconds) * time.Second
}

func (c *CircuitBreakerConfig) LocalCacheTTL() time.Duration {
	return time.Duration(c.LocalCacheSeconds) * time.Second
}
