package store

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/utils/clock"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

type memSet struct {
	members mapset.Set[string]
	expires time.Time
}

// MemoryStore is an in-process Store. Expiry is evaluated lazily against
// the injected clock, so tests can step a fake clock past a TTL.
//
// Set expiry follows key-value store semantics: adding a member with a
// ttl extends the lifetime of the whole set.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.PassiveClock
	keys  map[string]memEntry
	sets  map[string]*memSet
}

func NewMemoryStore(clk clock.PassiveClock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{
		clock: clk,
		keys:  make(map[string]memEntry),
		sets:  make(map[string]*memSet),
	}
}

func (s *MemoryStore) expired(expires time.Time) bool {
	return !expires.IsZero() && !s.clock.Now().Before(expires)
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// getLocked must be called with mu held.
func (s *MemoryStore) getLocked(key string) ([]byte, error) {
	e, ok := s.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e.expires) {
		delete(s.keys, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) setLocked(key string, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)
	s.keys[key] = memEntry{value: v, expires: s.deadline(ttl)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, set, member string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sets[set]
	if !ok || s.expired(ms.expires) {
		ms = &memSet{members: mapset.NewThreadUnsafeSet[string]()}
		s.sets[set] = ms
	}
	ms.members.Add(member)
	// The set lives as long as its longest-lived member.
	if ttl > 0 {
		if d := s.deadline(ttl); d.After(ms.expires) {
			ms.expires = d
		}
	}
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sets[set]
	if !ok {
		return nil
	}
	ms.members.Remove(member)
	if ms.members.Cardinality() == 0 {
		delete(s.sets, set)
	}
	return nil
}

func (s *MemoryStore) Members(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sets[set]
	if !ok {
		return []string{}, nil
	}
	if s.expired(ms.expires) {
		delete(s.sets, set)
		return []string{}, nil
	}
	members := ms.members.ToSlice()
	sort.Strings(members)
	return members, nil
}

// Execute runs the script under the store lock. Writes are buffered and
// applied only when the script succeeds.
func (s *MemoryStore) Execute(ctx context.Context, script Script) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTxn{store: s, writes: make(map[string]*memWrite)}
	if err := script(tx); err != nil {
		return err
	}
	for key, w := range tx.writes {
		if w.deleted {
			delete(s.keys, key)
			continue
		}
		s.setLocked(key, w.value, w.ttl)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

type memWrite struct {
	value   []byte
	ttl     time.Duration
	deleted bool
}

type memTxn struct {
	store  *MemoryStore
	writes map[string]*memWrite
}

func (t *memTxn) Get(key string) ([]byte, error) {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return w.value, nil
	}
	return t.store.getLocked(key)
}

func (t *memTxn) Set(key string, value []byte, ttl time.Duration) {
	t.writes[key] = &memWrite{value: value, ttl: ttl}
}

func (t *memTxn) Delete(key string) {
	t.writes[key] = &memWrite{deleted: true}
}
