package config

import (
	"time"

	"github.com/spf13/pflag"
)

type HTTPServerConfig struct {
	Hostname       string        `json:"hostname"`
	BindPort       string        `json:"bind_port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	HandlerTimeout time.Duration `json:"handler_timeout"`
	// RateLimit is requests per second for the /mesh API; 0 disables limiting.
	RateLimit       float64       `json:"rate_limit"`
	RateLimitBurst  int           `json:"rate_limit_burst"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

func NewHTTPServerConfig() *HTTPServerConfig {
	return &HTTPServerConfig{
		Hostname:        "localhost",
		BindPort:        "5012",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    30 * time.Second,
		HandlerTimeout:  10 * time.Second,
		RateLimit:       0,
		RateLimitBurst:  100,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (s *HTTPServerConfig) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.BindPort, "http-server-bindport", s.BindPort, "HTTP server bind port")
	fs.StringVar(&s.Hostname, "server-hostname", s.Hostname, "Server's public hostname, announced as the mesh endpoint host")
	fs.DurationVar(&s.ReadTimeout, "http-read-timeout", s.ReadTimeout, "HTTP server read timeout")
	fs.DurationVar(&s.WriteTimeout, "http-write-timeout", s.WriteTimeout, "HTTP server write timeout")
	fs.DurationVar(&s.HandlerTimeout, "http-handler-timeout", s.HandlerTimeout, "Maximum time a mesh API handler may run")
	fs.Float64Var(&s.RateLimit, "http-rate-limit", s.RateLimit, "Requests per second accepted by the mesh API (0 disables)")
	fs.IntVar(&s.RateLimitBurst, "http-rate-limit-burst", s.RateLimitBurst, "Burst size for the mesh API rate limiter")
	fs.DurationVar(&s.ShutdownTimeout, "shutdown-timeout", s.ShutdownTimeout, "Time allowed for in-flight requests during shutdown")
}
