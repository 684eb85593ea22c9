package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// RegistryConfig controls endpoint liveness bookkeeping.
type RegistryConfig struct {
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds"`
	EndpointTTLSeconds       int    `json:"endpoint_ttl_seconds"`
	DefaultPort              int    `json:"default_port"`
	KeyPrefix                string `json:"key_prefix"`
}

func NewRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		HeartbeatIntervalSeconds: 30,
		EndpointTTLSeconds:       90,
		DefaultPort:              80,
		KeyPrefix:                "mesh",
	}
}

func (c *RegistryConfig) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.HeartbeatIntervalSeconds, "heartbeat-interval", c.HeartbeatIntervalSeconds, "Seconds between endpoint heartbeats, returned to callers so they can self-schedule")
	fs.IntVar(&c.EndpointTTLSeconds, "endpoint-ttl", c.EndpointTTLSeconds, "Seconds an endpoint record lives without a heartbeat (must exceed twice the heartbeat interval)")
	fs.IntVar(&c.DefaultPort, "default-endpoint-port", c.DefaultPort, "Port used when an auto-registering heartbeat does not declare one")
	fs.StringVar(&c.KeyPrefix, "registry-key-prefix", c.KeyPrefix, "Prefix for every key the mesh writes to the shared store")
}

func (c *RegistryConfig) Validate() error {
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat-interval must be positive, got %d", c.HeartbeatIntervalSeconds)
	}
	if c.EndpointTTLSeconds <= 2*c.HeartbeatIntervalSeconds {
		return fmt.Errorf("endpoint-ttl (%ds) must be greater than twice heartbeat-interval (%ds)", c.EndpointTTLSeconds, c.HeartbeatIntervalSeconds)
	}
	if c.DefaultPort <= 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("default-endpoint-port out of range: %d", c.DefaultPort)
	}
	return nil
}

func (c *RegistryConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c *RegistryConfig) EndpointTTL() time.Duration {
	return time.Duration(c.EndpointTTLSeconds) * time.Second
}
