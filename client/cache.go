package client

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"mini-mesh/registry"
)

type cacheEntry struct {
	endpoints []*registry.Endpoint
	cursor    int
	expires   time.Time
}

func (e *cacheEntry) next() *registry.Endpoint {
	ep := e.endpoints[e.cursor%len(e.endpoints)]
	e.cursor++
	return ep
}

// EndpointCache holds the candidate list last resolved for each
// destination and rotates through it.
//
// Invalidate drops the fresh entry so that the next lookup goes back to
// the registry, but keeps the remaining candidates as a stale copy. The
// stale copy is only handed out when the registry cannot be reached.
type EndpointCache struct {
	ttl   time.Duration
	clock clock.PassiveClock

	mu    sync.Mutex
	fresh map[string]*cacheEntry
	stale map[string]*cacheEntry
}

func NewEndpointCache(ttl time.Duration, clk clock.PassiveClock) *EndpointCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &EndpointCache{
		ttl:   ttl,
		clock: clk,
		fresh: make(map[string]*cacheEntry),
		stale: make(map[string]*cacheEntry),
	}
}

// Next returns the next fresh candidate for destination.
func (c *EndpointCache) Next(destination string) (*registry.Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.fresh[destination]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(e.expires) {
		c.stale[destination] = e
		delete(c.fresh, destination)
		return nil, false
	}
	return e.next(), true
}

// Put caches endpoints for destination. An empty list is not cached.
func (c *EndpointCache) Put(destination string, endpoints []*registry.Endpoint) {
	if len(endpoints) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh[destination] = &cacheEntry{
		endpoints: append([]*registry.Endpoint(nil), endpoints...),
		expires:   c.clock.Now().Add(c.ttl),
	}
	delete(c.stale, destination)
}

// Invalidate removes instanceID from the destination's candidates and
// drops the fresh entry.
func (c *EndpointCache) Invalidate(destination, instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.fresh[destination]
	if !ok {
		e, ok = c.stale[destination]
	}
	delete(c.fresh, destination)
	if !ok {
		return
	}

	kept := make([]*registry.Endpoint, 0, len(e.endpoints))
	for _, ep := range e.endpoints {
		if ep.InstanceID != instanceID {
			kept = append(kept, ep)
		}
	}
	if len(kept) == 0 {
		delete(c.stale, destination)
		return
	}
	c.stale[destination] = &cacheEntry{endpoints: kept, cursor: e.cursor}
}

// Stale returns the next candidate from the stale copy, ignoring TTL.
func (c *EndpointCache) Stale(destination string) (*registry.Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.stale[destination]
	if !ok {
		return nil, false
	}
	return e.next(), true
}
