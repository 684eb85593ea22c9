// Package config holds the mesh configuration, one struct per concern.
//
// Each struct has a NewXConfig constructor with the defaults, an AddFlags
// method binding it to a pflag.FlagSet, and a Validate method.
package config

import (
	"errors"

	"github.com/spf13/pflag"
)

// MeshConfig aggregates every sub-config.
type MeshConfig struct {
	Registry     *RegistryConfig       `json:"registry"`
	Health       *HealthConfig         `json:"health"`
	LoadBalancer *LoadBalancerConfig   `json:"load_balancer"`
	Breaker      *CircuitBreakerConfig `json:"breaker"`
	Invocation   *InvocationConfig     `json:"invocation"`
	HTTPServer   *HTTPServerConfig     `json:"http_server"`
	Store        *StoreConfig          `json:"store"`
}

func NewMeshConfig() *MeshConfig {
	return &MeshConfig{
		Registry:     NewRegistryConfig(),
		Health:       NewHealthConfig(),
		LoadBalancer: NewLoadBalancerConfig(),
		Breaker:      NewCircuitBreakerConfig(),
		Invocation:   NewInvocationConfig(),
		HTTPServer:   NewHTTPServerConfig(),
		Store:        NewStoreConfig(),
	}
}

func (c *MeshConfig) AddFlags(fs *pflag.FlagSet) {
	c.Registry.AddFlags(fs)
	c.Health.AddFlags(fs)
	c.LoadBalancer.AddFlags(fs)
	c.Breaker.AddFlags(fs)
	c.Invocation.AddFlags(fs)
	c.HTTPServer.AddFlags(fs)
	c.Store.AddFlags(fs)
}

// Validate checks every sub-config and joins the failures.
func (c *MeshConfig) Validate() error {
	return errors.Join(
		c.Registry.Validate(),
		c.Health.Validate(),
		c.LoadBalancer.Validate(),
		c.Breaker.Validate(),
		c.Invocation.Validate(),
		c.Store.Validate(),
	)
}
