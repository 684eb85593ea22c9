package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"k8s.io/utils/clock"

	"mini-mesh/breaker"
	"mini-mesh/codec"
	"mini-mesh/config"
	"mini-mesh/loadbalance"
	"mini-mesh/message"
	"mini-mesh/registry"
	"mini-mesh/routing"
	"mini-mesh/store"
	"mini-mesh/transport"
)

func setupBench(b *testing.B, instances int) *Client {
	clk := clock.RealClock{}
	st := store.NewMemoryStore(clk)
	reg := registry.New(st, &codec.JSONCodec{}, nil, clk, config.NewRegistryConfig())

	for i := 0; i < instances; i++ {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", message.ContentTypeJSON)
			w.Write([]byte(`{"sum":3}`))
		}))
		b.Cleanup(srv.Close)
		addr := srv.Listener.Addr().(*net.TCPAddr)
		if _, _, err := reg.Register(context.Background(), registry.Endpoint{
			DestinationName: "arith",
			Host:            addr.IP.String(),
			Port:            addr.Port,
		}, 0); err != nil {
			b.Fatal(err)
		}
	}

	resolver, err := routing.NewResolver(reg, loadbalance.New(nil, nil), config.NewLoadBalancerConfig(), config.NewHealthConfig())
	if err != nil {
		b.Fatal(err)
	}
	cfg := config.NewInvocationConfig()
	pool, err := transport.NewPool(cfg, clk)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(pool.Close)
	brk := breaker.New(st, &codec.JSONCodec{}, nil, clk, config.NewCircuitBreakerConfig(), "mesh/bench")
	return New(brk, resolver, routing.NewTable("bannou"), pool.Client(), clk, cfg)
}

func BenchmarkSerialInvoke(b *testing.B) {
	cli := setupBench(b, 1)
	req, err := message.NewRequest(&codec.JSONCodec{}, map[string]int{"a": 1, "b": 2})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cli.Invoke(context.Background(), "arith", "add", req); err != nil {
			b.Fatal(err)
		}
	}
}

// Concurrent callers share the pooled transport and the endpoint cache.
func BenchmarkConcurrentInvoke(b *testing.B) {
	cli := setupBench(b, 3)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		req, _ := message.NewRequest(&codec.JSONCodec{}, map[string]int{"a": 1, "b": 2})
		for pb.Next() {
			if _, err := cli.Invoke(context.Background(), "arith", "add", req); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
