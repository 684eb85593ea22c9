package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdStore implements Store on etcd v3.
//
// Layout under the prefix:
//
//	{prefix}/kv/{key}             value
//	{prefix}/set/{set}/{member}   empty value, one key per member
//
// A TTL becomes a lease attached to the key, so etcd deletes it on expiry
// and crashed instances never leave ghost records behind. Writes with the
// same TTL inside one second share a lease.
type EtcdStore struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	prefix string
	owned  bool
	leases *leaseCache
}

// DialEtcd connects to etcd and returns a store that closes the client on Close.
func DialEtcd(endpoints []string, dialTimeout time.Duration, prefix string) (*EtcdStore, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}
	s := NewEtcdStore(c, prefix)
	s.owned = true
	return s, nil
}

// NewEtcdStore wraps an existing client. The caller keeps ownership of it.
func NewEtcdStore(c *clientv3.Client, prefix string) *EtcdStore {
	s := &EtcdStore{client: c, prefix: "/" + strings.Trim(prefix, "/")}
	s.leases = newLeaseCache(func(ctx context.Context, seconds int64) (clientv3.LeaseID, error) {
		resp, err := c.Grant(ctx, seconds)
		if err != nil {
			return clientv3.NoLease, err
		}
		return resp.ID, nil
	}, nil)
	return s
}

func (s *EtcdStore) kvKey(key string) string {
	return s.prefix + "/kv/" + key
}

func (s *EtcdStore) setPrefix(set string) string {
	return s.prefix + "/set/" + set + "/"
}

// leaseSeconds rounds a TTL up to whole seconds, the lease granularity.
func leaseSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *EtcdStore) putOpts(ctx context.Context, ttl time.Duration) ([]clientv3.OpOption, error) {
	if ttl <= 0 {
		return nil, nil
	}
	lease, err := s.leases.get(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	return []clientv3.OpOption{clientv3.WithLease(lease)}, nil
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.kvKey(key))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opts, err := s.putOpts(ctx, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, s.kvKey(key), string(value), opts...)
	return err
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, s.kvKey(key))
	return err
}

func (s *EtcdStore) AddToSet(ctx context.Context, set, member string, ttl time.Duration) error {
	opts, err := s.putOpts(ctx, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, s.setPrefix(set)+member, "", opts...)
	return err
}

func (s *EtcdStore) RemoveFromSet(ctx context.Context, set, member string) error {
	_, err := s.client.Delete(ctx, s.setPrefix(set)+member)
	return err
}

func (s *EtcdStore) Members(ctx context.Context, set string) ([]string, error) {
	prefix := s.setPrefix(set)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		members = append(members, strings.TrimPrefix(string(kv.Key), prefix))
	}
	sort.Strings(members)
	return members, nil
}

// Execute runs the script in a serializable STM transaction. etcd retries
// the script when another writer touched a key it read.
func (s *EtcdStore) Execute(ctx context.Context, script Script) error {
	var scriptErr error
	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		tx := &etcdTxn{ctx: ctx, store: s, stm: stm}
		scriptErr = script(tx)
		if scriptErr != nil {
			return scriptErr
		}
		return tx.err
	}, concurrency.WithIsolation(concurrency.Serializable), concurrency.WithAbortContext(ctx))
	if scriptErr != nil {
		return scriptErr
	}
	return err
}

func (s *EtcdStore) Ping(ctx context.Context) error {
	_, err := s.client.Get(ctx, s.prefix+"/ping", clientv3.WithCountOnly())
	return err
}

func (s *EtcdStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// Client exposes the underlying client so the event bus can share the
// connection.
func (s *EtcdStore) Client() *clientv3.Client {
	return s.client
}

type etcdTxn struct {
	ctx   context.Context
	store *EtcdStore
	stm   concurrency.STM
	err   error
}

// Get treats an empty value as absent; records written through the mesh
// are never empty.
func (t *etcdTxn) Get(key string) ([]byte, error) {
	v := t.stm.Get(t.store.kvKey(key))
	if v == "" {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (t *etcdTxn) Set(key string, value []byte, ttl time.Duration) {
	opts, err := t.store.putOpts(t.ctx, ttl)
	if err != nil {
		t.err = err
		return
	}
	t.stm.Put(t.store.kvKey(key), string(value), opts...)
}

func (t *etcdTxn) Delete(key string) {
	t.stm.Del(t.store.kvKey(key))
}
