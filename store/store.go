// Package store is the shared state substrate the mesh coordinates through.
//
// Every mesh instance sees the same store. The mesh needs only four things
// from it: keys with a per-key TTL, string sets, and an atomic script that
// reads and writes several keys as one indivisible step.
//
// Two implementations are provided. MemoryStore lives in one process and is
// used by tests and single-instance deployments. EtcdStore backs a real
// multi-instance mesh: leases carry TTLs, key prefixes model sets and
// software transactional memory runs scripts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("store: key not found")

// Txn is the view of the store handed to a Script. Writes become visible
// only if the script returns nil.
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Script is a check-and-mutate function executed atomically. A script may
// run more than once when a concurrent writer conflicts with it, so it must
// not have side effects outside the Txn beyond resetting its own results.
type Script func(tx Txn) error

type Store interface {
	// Get returns ErrNotFound when the key is absent or its TTL has lapsed.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes the value. A zero ttl means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// AddToSet adds member to the named set. A positive ttl (re)arms the
	// expiry for the member's entry in the set.
	AddToSet(ctx context.Context, set, member string, ttl time.Duration) error
	RemoveFromSet(ctx context.Context, set, member string) error
	// Members returns the live members of set in lexical order.
	Members(ctx context.Context, set string) ([]string, error)

	Execute(ctx context.Context, script Script) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
