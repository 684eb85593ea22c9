package store

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/utils/clock"
)

// leaseReuse is how long a granted lease keeps being handed out for the
// same TTL. Leases are granted leaseReuse longer than asked, so a key
// lives between its TTL and its TTL plus leaseReuse.
const leaseReuse = time.Second

type grantFunc func(ctx context.Context, seconds int64) (clientv3.LeaseID, error)

type cachedLease struct {
	id      clientv3.LeaseID
	granted time.Time
}

// leaseCache shares one lease between the writes of a batch: a heartbeat
// touches the record and two indexes, and all three ride on the same lease.
type leaseCache struct {
	grant  grantFunc
	clock  clock.PassiveClock
	mu     sync.Mutex
	leases map[int64]cachedLease
}

func newLeaseCache(grant grantFunc, clk clock.PassiveClock) *leaseCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &leaseCache{grant: grant, clock: clk, leases: make(map[int64]cachedLease)}
}

func (c *leaseCache) get(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error) {
	secs := leaseSeconds(ttl)
	now := c.clock.Now()

	c.mu.Lock()
	if l, ok := c.leases[secs]; ok && now.Sub(l.granted) < leaseReuse {
		c.mu.Unlock()
		return l.id, nil
	}
	c.mu.Unlock()

	id, err := c.grant(ctx, secs+leaseSeconds(leaseReuse))
	if err != nil {
		return clientv3.NoLease, err
	}

	c.mu.Lock()
	c.leases[secs] = cachedLease{id: id, granted: now}
	c.mu.Unlock()
	return id, nil
}
