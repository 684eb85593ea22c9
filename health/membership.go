package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/logger"
	"mini-mesh/store"
)

const membersSet = "mesh-instances"

func memberKey(id string) string {
	return "mesh-instance:" + id
}

// hasher is an implementation of consistent.Hasher
type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type member string

func (m member) String() string {
	return string(m)
}

// Membership tracks live mesh instances through the shared store and
// places endpoints on a consistent hash ring of them, so that each
// endpoint is probed by exactly one instance.
//
// An instance is live while its pulse key exists; pulses are written with
// a TTL of three pulse intervals.
type Membership struct {
	id    string
	store store.Store
	clock clock.WithTicker
	pulse time.Duration
	log   *zap.SugaredLogger

	mu   sync.RWMutex
	ring *consistent.Consistent
}

func NewMembership(id string, s store.Store, clk clock.WithTicker, pulse time.Duration) *Membership {
	return &Membership{
		id:    id,
		store: s,
		clock: clk,
		pulse: pulse,
		log:   logger.GetLogger().Named("membership"),
	}
}

func (m *Membership) ID() string {
	return m.id
}

// Pulse marks this instance live.
func (m *Membership) Pulse(ctx context.Context) error {
	ttl := 3 * m.pulse
	if err := m.store.Set(ctx, memberKey(m.id), []byte(m.clock.Now().UTC().Format(time.RFC3339)), ttl); err != nil {
		return err
	}
	return m.store.AddToSet(ctx, membersSet, m.id, ttl)
}

// Refresh rebuilds the ring from the live instances. This instance is
// always a member of its own ring.
func (m *Membership) Refresh(ctx context.Context) error {
	ids, err := m.store.Members(ctx, membersSet)
	if err != nil {
		return err
	}

	members := []consistent.Member{member(m.id)}
	for _, id := range ids {
		if id == m.id {
			continue
		}
		_, err := m.store.Get(ctx, memberKey(id))
		if errors.Is(err, store.ErrNotFound) {
			_ = m.store.RemoveFromSet(ctx, membersSet, id)
			continue
		}
		if err != nil {
			return err
		}
		members = append(members, member(id))
	}

	ring := consistent.New(members, consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	})

	m.mu.Lock()
	m.ring = ring
	m.mu.Unlock()
	m.log.Debugw("membership refreshed", "members", len(members))
	return nil
}

// Owns reports whether instanceID hashes to this mesh instance. Before the
// first refresh every endpoint is owned.
func (m *Membership) Owns(instanceID string) bool {
	m.mu.RLock()
	ring := m.ring
	m.mu.RUnlock()
	if ring == nil {
		return true
	}
	owner := ring.LocateKey([]byte(instanceID))
	return owner == nil || owner.String() == m.id
}

// Members returns the ids on the current ring.
func (m *Membership) Members() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ring == nil {
		return []string{m.id}
	}
	var ids []string
	for _, mem := range m.ring.GetMembers() {
		ids = append(ids, mem.String())
	}
	return ids
}

// Run pulses and refreshes on every interval until ctx is done, then
// removes this instance from the membership.
func (m *Membership) Run(ctx context.Context) {
	m.tick(ctx)
	ticker := m.clock.NewTicker(m.pulse)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.leave()
			return
		case <-ticker.C():
			m.tick(ctx)
		}
	}
}

func (m *Membership) tick(ctx context.Context) {
	// log and continue to tolerate intermittent store errors
	if err := m.Pulse(ctx); err != nil {
		m.log.Warnw("unable to pulse membership", "error", err)
	}
	if err := m.Refresh(ctx); err != nil {
		m.log.Warnw("unable to refresh membership ring", "error", err)
	}
}

func (m *Membership) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.store.Delete(ctx, memberKey(m.id))
	_ = m.store.RemoveFromSet(ctx, membersSet, m.id)
}
