package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/config"
	"mini-mesh/logger"
)

// Pool owns the outbound transport and recycles its connections.
//
// IdleConnTimeout only closes connections that sit unused. A connection
// kept busy by steady traffic would otherwise live forever and keep
// pointing at whatever address DNS gave it at dial time, so every
// lifetime the pool also drops all idle connections; busy ones return to
// the pool and are dropped on the next pass.
type Pool struct {
	transport *http.Transport
	client    *http.Client
	lifetime  time.Duration
	clock     clock.WithTicker
	log       *zap.SugaredLogger

	mu       sync.Mutex
	recycled int
	closed   bool
}

// NewPool builds the transport and an http.Client whose timeout covers
// the full round trip of one attempt.
func NewPool(cfg *config.InvocationConfig, clk clock.WithTicker) (*Pool, error) {
	tr, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Pool{
		transport: tr,
		client:    &http.Client{Transport: tr, Timeout: cfg.RequestTimeout()},
		lifetime:  cfg.PooledConnectionLifetime(),
		clock:     clk,
		log:       logger.GetLogger().Named("transport"),
	}, nil
}

func (p *Pool) Client() *http.Client {
	return p.client
}

func (p *Pool) Transport() *http.Transport {
	return p.transport
}

// Recycled counts completed recycle passes.
func (p *Pool) Recycled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recycled
}

func (p *Pool) recycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.transport.CloseIdleConnections()
	p.recycled++
	p.log.Debugw("recycled idle connections", "pass", p.recycled)
}

// Run recycles connections every lifetime until ctx is done. A zero
// lifetime disables recycling.
func (p *Pool) Run(ctx context.Context) {
	if p.lifetime <= 0 {
		<-ctx.Done()
		return
	}
	ticker := p.clock.NewTicker(p.lifetime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.recycle()
		}
	}
}

// Close drops every idle connection. Further recycle passes are no-ops.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.transport.CloseIdleConnections()
}
