package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

type LoadBalancerConfig struct {
	Algorithm               string `json:"algorithm"`
	MaxTopEndpointsReturned int    `json:"max_top_endpoints_returned"`
}

func NewLoadBalancerConfig() *LoadBalancerConfig {
	return &LoadBalancerConfig{
		Algorithm:               "RoundRobin",
		MaxTopEndpointsReturned: 2,
	}
}

func (c *LoadBalancerConfig) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Algorithm, "lb-algorithm", c.Algorithm, "Load balancing algorithm: RoundRobin, LeastConnections, Weighted, WeightedRoundRobin or Random")
	fs.IntVar(&c.MaxTopEndpointsReturned, "lb-max-alternates", c.MaxTopEndpointsReturned, "Alternates returned alongside the selected endpoint")
}

func (c *LoadBalancerConfig) Validate() error {
	switch c.Algorithm {
	case "RoundRobin", "LeastConnections", "Weighted", "WeightedRoundRobin", "Random":
	default:
		return fmt.Errorf("unknown lb-algorithm %q", c.Algorithm)
	}
	if c.MaxTopEndpointsReturned < 0 {
		return fmt.Errorf("lb-max-alternates must not be negative")
	}
	return nil
}
