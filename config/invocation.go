package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// InvocationConfig controls the outbound invocation client.
type InvocationConfig struct {
	MaxRetries                      int    `json:"max_retries"`
	RetryDelayMilliseconds          int    `json:"retry_delay_milliseconds"`
	ConnectTimeoutSeconds           int    `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds           int    `json:"request_timeout_seconds"`
	PooledConnectionLifetimeMinutes int    `json:"pooled_connection_lifetime_minutes"`
	EndpointCacheTTLSeconds         int    `json:"endpoint_cache_ttl_seconds"`
	DefaultDestination              string `json:"default_destination"`
}

func NewInvocationConfig() *InvocationConfig {
	return &InvocationConfig{
		MaxRetries:                      3,
		RetryDelayMilliseconds:          100,
		ConnectTimeoutSeconds:           5,
		RequestTimeoutSeconds:           30,
		PooledConnectionLifetimeMinutes: 2,
		EndpointCacheTTLSeconds:         5,
		DefaultDestination:              "bannou",
	}
}

func (c *InvocationConfig) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Retries after a transient invocation failure")
	fs.IntVar(&c.RetryDelayMilliseconds, "retry-delay-ms", c.RetryDelayMilliseconds, "Base retry delay in milliseconds, doubled on every attempt")
	fs.IntVar(&c.ConnectTimeoutSeconds, "connect-timeout", c.ConnectTimeoutSeconds, "Seconds allowed to establish a connection")
	fs.IntVar(&c.RequestTimeoutSeconds, "request-timeout", c.RequestTimeoutSeconds, "Seconds allowed for a full request round trip")
	fs.IntVar(&c.PooledConnectionLifetimeMinutes, "pooled-connection-lifetime", c.PooledConnectionLifetimeMinutes, "Minutes before pooled idle connections are recycled")
	fs.IntVar(&c.EndpointCacheTTLSeconds, "endpoint-cache-ttl", c.EndpointCacheTTLSeconds, "Seconds a resolved endpoint list is cached")
	fs.StringVar(&c.DefaultDestination, "default-destination", c.DefaultDestination, "Destination used for services with no mapping")
}

func (c *InvocationConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	if c.RetryDelayMilliseconds < 0 {
		return fmt.Errorf("retry-delay-ms must not be negative")
	}
	if c.ConnectTimeoutSeconds <= 0 || c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("connect-timeout and request-timeout must be positive")
	}
	if c.ConnectTimeoutSeconds > c.RequestTimeoutSeconds {
		return fmt.Errorf("connect-timeout (%ds) must not exceed request-timeout (%ds)", c.ConnectTimeoutSeconds, c.RequestTimeoutSeconds)
	}
	if c.DefaultDestination == "" {
		return fmt.Errorf("default-destination must not be empty")
	}
	return nil
}

func (c *InvocationConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMilliseconds) * time.Millisecond
}

func (c *InvocationConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *InvocationConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *InvocationConfig) PooledConnectionLifetime() time.Duration {
	return time.Duration(c.PooledConnectionLifetimeMinutes) * time.Minute
}

func (c *InvocationConfig) EndpointCacheTTL() time.Duration {
	return time.Duration(c.EndpointCacheTTLSeconds) * time.Second
}
