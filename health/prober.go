package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/logger"
	"mini-mesh/registry"
)

const (
	maxConcurrentProbes = 16
	healthFailedReason  = "HealthCheckFailed"
)

// Owner decides which endpoints this mesh instance probes.
type Owner interface {
	Owns(instanceID string) bool
}

type ownsAll struct{}

func (ownsAll) Owns(string) bool { return true }

// Prober is the active side of health tracking. Each round it GETs the
// health path of every endpoint it owns; an endpoint failing
// HealthCheckFailureThreshold rounds in a row is deregistered.
type Prober struct {
	registry  *registry.Registry
	publisher eventbus.EventPublisher
	dedup     *Deduper
	client    *http.Client
	clock     clock.WithTicker
	cfg       *config.HealthConfig
	owner     Owner
	log       *zap.SugaredLogger

	mu       sync.Mutex
	failures map[string]int
}

func NewProber(reg *registry.Registry, publisher eventbus.EventPublisher, dedup *Deduper, client *http.Client, clk clock.WithTicker, cfg *config.HealthConfig, owner Owner) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if owner == nil {
		owner = ownsAll{}
	}
	return &Prober{
		registry:  reg,
		publisher: publisher,
		dedup:     dedup,
		client:    client,
		clock:     clk,
		cfg:       cfg,
		owner:     owner,
		log:       logger.GetLogger().Named("prober"),
		failures:  make(map[string]int),
	}
}

// Run probes on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.HealthCheckInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll runs one probe round. Registry errors are logged and the round
// is skipped.
func (p *Prober) ProbeAll(ctx context.Context) {
	listing, err := p.registry.ListEndpoints(ctx, registry.ListFilter{})
	if err != nil {
		p.log.Warnw("unable to list endpoints for probing", "error", err)
		return
	}

	live := make(map[string]bool)
	sem := make(chan struct{}, maxConcurrentProbes)
	var wg sync.WaitGroup
	for _, endpoints := range listing.ByStatus {
		for _, ep := range endpoints {
			live[ep.InstanceID] = true
			if !p.owner.Owns(ep.InstanceID) {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(ep *registry.Endpoint) {
				defer wg.Done()
				defer func() { <-sem }()
				p.record(ctx, ep, p.probe(ctx, ep))
			}(ep)
		}
	}
	wg.Wait()

	p.mu.Lock()
	for id := range p.failures {
		if !live[id] {
			delete(p.failures, id)
		}
	}
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context, ep *registry.Endpoint) error {
	hctx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout())
	defer cancel()

	url := fmt.Sprintf("http://%s%s", ep.Address(), p.cfg.HealthCheckPath)
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Prober) record(ctx context.Context, ep *registry.Endpoint, probeErr error) {
	// A probe cut short by shutdown says nothing about the endpoint.
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	if probeErr == nil {
		delete(p.failures, ep.InstanceID)
		p.mu.Unlock()
		return
	}
	p.failures[ep.InstanceID]++
	failures := p.failures[ep.InstanceID]
	if failures >= p.cfg.HealthCheckFailureThreshold {
		delete(p.failures, ep.InstanceID)
	}
	p.mu.Unlock()

	if failures >= p.cfg.HealthCheckFailureThreshold {
		p.log.Warnw("endpoint failed health checks, deregistering", "instanceId", ep.InstanceID, "failures", failures, "error", probeErr)
		if err := p.registry.Deregister(ctx, ep.InstanceID, registry.ReasonHealthCheckFailure); err != nil {
			p.log.Errorw("failed to deregister unhealthy endpoint", "instanceId", ep.InstanceID, "error", err)
		}
		return
	}

	if !p.dedup.Allow(dedupKey(ep.InstanceID, healthFailedReason)) {
		return
	}
	p.publisher.Publish(eventbus.TopicEndpointHealthFailed, eventbus.EndpointHealthFailed{
		InstanceID:          ep.InstanceID,
		DestinationName:     ep.DestinationName,
		ConsecutiveFailures: failures,
		Error:               probeErr.Error(),
	})
}

// Failures returns the current consecutive failure count for an endpoint.
func (p *Prober) Failures(instanceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[instanceID]
}
