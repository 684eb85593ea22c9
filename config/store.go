package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// StoreConfig selects the shared state substrate and the event bus.
type StoreConfig struct {
	Store         string        `json:"store"`
	EventBus      string        `json:"event_bus"`
	EtcdEndpoints []string      `json:"etcd_endpoints"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	Codec         string        `json:"codec"`
	// EventTTLSeconds is how long a published event stays in the etcd bus.
	EventTTLSeconds int `json:"event_ttl_seconds"`
}

func NewStoreConfig() *StoreConfig {
	return &StoreConfig{
		Store:           "memory",
		EventBus:        "memory",
		EtcdEndpoints:   []string{"127.0.0.1:2379"},
		DialTimeout:     5 * time.Second,
		Codec:           "json",
		EventTTLSeconds: 60,
	}
}

func (c *StoreConfig) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Store, "store", c.Store, "Shared state store: memory or etcd")
	fs.StringVar(&c.EventBus, "event-bus", c.EventBus, "Event bus: memory or etcd")
	fs.StringSliceVar(&c.EtcdEndpoints, "etcd-endpoints", c.EtcdEndpoints, "etcd endpoints for the etcd store and bus")
	fs.DurationVar(&c.DialTimeout, "etcd-dial-timeout", c.DialTimeout, "etcd dial timeout")
	fs.StringVar(&c.Codec, "store-codec", c.Codec, "Record encoding in the store: json or cbor")
	fs.IntVar(&c.EventTTLSeconds, "event-ttl", c.EventTTLSeconds, "Seconds a published event is retained by the etcd bus")
}

func (c *StoreConfig) Validate() error {
	for _, kind := range []string{c.Store, c.EventBus} {
		if kind != "memory" && kind != "etcd" {
			return fmt.Errorf("unknown store/bus kind %q", kind)
		}
	}
	if (c.Store == "etcd" || c.EventBus == "etcd") && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("etcd-endpoints required for the etcd store or bus")
	}
	if c.Codec != "json" && c.Codec != "cbor" {
		return fmt.Errorf("unknown store-codec %q", c.Codec)
	}
	return nil
}

func (c *StoreConfig) EventTTL() time.Duration {
	return time.Duration(c.EventTTLSeconds) * time.Second
}
