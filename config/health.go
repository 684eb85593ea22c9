package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// HealthConfig controls degradation detection and active probing.
type HealthConfig struct {
	DegradationThresholdSeconds int     `json:"degradation_threshold_seconds"`
	LoadThresholdPercent        int     `json:"load_threshold_percent"`
	ConnectionThresholdRatio    float64 `json:"connection_threshold_ratio"`
	DedupWindowSeconds          int     `json:"dedup_window_seconds"`

	HealthCheckEnabled          bool   `json:"health_check_enabled"`
	HealthCheckIntervalSeconds  int    `json:"health_check_interval_seconds"`
	HealthCheckTimeoutSeconds   int    `json:"health_check_timeout_seconds"`
	HealthCheckFailureThreshold int    `json:"health_check_failure_threshold"`
	HealthCheckPath             string `json:"health_check_path"`

	// MembershipEnabled shards active probes across mesh instances.
	MembershipEnabled      bool `json:"membership_enabled"`
	MembershipPulseSeconds int  `json:"membership_pulse_seconds"`
}

func NewHealthConfig() *HealthConfig {
	return &HealthConfig{
		DegradationThresholdSeconds: 60,
		LoadThresholdPercent:        80,
		ConnectionThresholdRatio:    0.9,
		DedupWindowSeconds:          60,
		HealthCheckEnabled:          false,
		HealthCheckIntervalSeconds:  10,
		HealthCheckTimeoutSeconds:   2,
		HealthCheckFailureThreshold: 3,
		HealthCheckPath:             "/health",
		MembershipEnabled:           false,
		MembershipPulseSeconds:      10,
	}
}

func (c *HealthConfig) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.DegradationThresholdSeconds, "degradation-threshold", c.DegradationThresholdSeconds, "Seconds between heartbeats after which an endpoint is marked degraded")
	fs.IntVar(&c.LoadThresholdPercent, "load-threshold", c.LoadThresholdPercent, "Self-reported load percent above which an endpoint is marked degraded and skipped by routing")
	fs.Float64Var(&c.ConnectionThresholdRatio, "connection-threshold-ratio", c.ConnectionThresholdRatio, "Fraction of max connections above which an endpoint is marked degraded")
	fs.IntVar(&c.DedupWindowSeconds, "health-event-dedup-window", c.DedupWindowSeconds, "Seconds during which identical degraded/health-failed events are suppressed")
	fs.BoolVar(&c.HealthCheckEnabled, "health-check-enabled", c.HealthCheckEnabled, "Actively probe every known endpoint")
	fs.IntVar(&c.HealthCheckIntervalSeconds, "health-check-interval", c.HealthCheckIntervalSeconds, "Seconds between active probe rounds")
	fs.IntVar(&c.HealthCheckTimeoutSeconds, "health-check-timeout", c.HealthCheckTimeoutSeconds, "Seconds before a single probe times out")
	fs.IntVar(&c.HealthCheckFailureThreshold, "health-check-failure-threshold", c.HealthCheckFailureThreshold, "Consecutive probe failures that deregister an endpoint")
	fs.StringVar(&c.HealthCheckPath, "health-check-path", c.HealthCheckPath, "HTTP path probed on each endpoint")
	fs.BoolVar(&c.MembershipEnabled, "probe-sharding", c.MembershipEnabled, "Split active probing across live mesh instances with consistent hashing")
	fs.IntVar(&c.MembershipPulseSeconds, "membership-pulse-interval", c.MembershipPulseSeconds, "Seconds between mesh membership pulses")
}

func (c *HealthConfig) Validate() error {
	if c.DegradationThresholdSeconds <= 0 {
		return fmt.Errorf("degradation-threshold must be positive")
	}
	if c.LoadThresholdPercent <= 0 || c.LoadThresholdPercent > 100 {
		return fmt.Errorf("load-threshold must be in (0, 100], got %d", c.LoadThresholdPercent)
	}
	if c.ConnectionThresholdRatio <= 0 || c.ConnectionThresholdRatio > 1 {
		return fmt.Errorf("connection-threshold-ratio must be in (0, 1], got %v", c.ConnectionThresholdRatio)
	}
	if c.HealthCheckEnabled {
		if c.HealthCheckIntervalSeconds <= 0 || c.HealthCheckTimeoutSeconds <= 0 {
			return fmt.Errorf("health-check-interval and health-check-timeout must be positive")
		}
		if c.HealthCheckFailureThreshold <= 0 {
			return fmt.Errorf("health-check-failure-threshold must be positive")
		}
	}
	if c.MembershipEnabled && c.MembershipPulseSeconds <= 0 {
		return fmt.Errorf("membership-pulse-interval must be positive")
	}
	return nil
}

func (c *HealthConfig) DegradationThreshold() time.Duration {
	return time.Duration(c.DegradationThresholdSeconds) * time.Second
}

func (c *HealthConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

func (c *HealthConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

func (c *HealthConfig) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutSeconds) * time.Second
}

func (c *HealthConfig) MembershipPulse() time.Duration {
	return time.Duration(c.MembershipPulseSeconds) * time.Second
}
