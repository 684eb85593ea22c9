// Package breaker is a per-destination circuit breaker whose state lives
// in the shared store.
//
// Every transition runs as one atomic script against the store, so
// concurrent recorders on any number of mesh instances never lose an update
// or open a circuit twice. Each instance keeps a short-lived local copy of
// the state to fail fast without a store round trip; circuit.changed events
// from other instances refresh that copy. The store stays the authority.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/codec"
	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/logger"
	"mini-mesh/mesherr"
	"mini-mesh/metrics"
	"mini-mesh/store"
)

const circuitIndex = "circuit-index"

func circuitKey(destination string) string {
	return "circuit:" + destination
}

type cached struct {
	record    Record
	fetchedAt time.Time
}

type Breaker struct {
	store     store.Store
	codec     codec.Codec
	publisher eventbus.EventPublisher
	clock     clock.PassiveClock
	cfg       *config.CircuitBreakerConfig
	source    string
	log       *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]cached
}

// New builds a breaker. source identifies this mesh instance on the events
// it publishes, so that it can ignore its own echoes.
func New(s store.Store, c codec.Codec, publisher eventbus.EventPublisher, clk clock.PassiveClock, cfg *config.CircuitBreakerConfig, source string) *Breaker {
	if c == nil {
		c = &codec.JSONCodec{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg == nil {
		cfg = config.NewCircuitBreakerConfig()
	}
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}
	return &Breaker{
		store:     s,
		codec:     c,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		source:    source,
		log:       logger.GetLogger().Named("breaker"),
		cache:     make(map[string]cached),
	}
}

func (b *Breaker) Enabled() bool {
	return b.cfg.CircuitBreakerEnabled
}

func (b *Breaker) remember(destination string, rec Record) {
	b.mu.Lock()
	b.cache[destination] = cached{record: rec, fetchedAt: b.clock.Now()}
	b.mu.Unlock()
	metrics.SetCircuitState(destination, rec.State.gauge())
}

func (b *Breaker) cachedRecord(destination string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cache[destination]
	if !ok || b.clock.Since(c.fetchedAt) > b.cfg.LocalCacheTTL() {
		return Record{}, false
	}
	return c.record, true
}

func (b *Breaker) decode(data []byte) (Record, error) {
	var rec Record
	if err := b.codec.Decode(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode circuit record: %w", err)
	}
	return rec, nil
}

// State reads the authoritative record for destination.
func (b *Breaker) State(ctx context.Context, destination string) (Record, error) {
	data, err := b.store.Get(ctx, circuitKey(destination))
	if errors.Is(err, store.ErrNotFound) {
		return closedRecord(), nil
	}
	if err != nil {
		return Record{}, mesherr.Unavailable("read circuit", err)
	}
	return b.decode(data)
}

func (b *Breaker) openError(destination string, rec Record, since time.Time) error {
	retryAfter := b.cfg.ResetTimeout() - b.clock.Since(since)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &mesherr.CircuitOpenError{Destination: destination, OpenedAt: rec.OpenedAt, RetryAfter: retryAfter}
}

// Allow decides whether a call to destination may proceed. It returns a
// *mesherr.CircuitOpenError when the circuit is open, or when it is half
// open and another caller holds the probe.
//
// Once the reset window has elapsed, the first caller claims the half-open
// probe through an atomic script and is let through; a probe claimed longer
// ago than the reset window can be claimed again.
//
// When the store cannot be read the circuit is treated as closed.
func (b *Breaker) Allow(ctx context.Context, destination string) error {
	if !b.Enabled() {
		return nil
	}

	if rec, ok := b.cachedRecord(destination); ok && rec.State == StateOpen && b.clock.Since(rec.OpenedAt) < b.cfg.ResetTimeout() {
		return b.openError(destination, rec, rec.OpenedAt)
	}

	rec, err := b.State(ctx, destination)
	if err != nil {
		b.log.Warnw("circuit state unreadable, allowing call", "destination", destination, "error", err)
		return nil
	}
	b.remember(destination, rec)

	switch rec.State {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Since(rec.OpenedAt) < b.cfg.ResetTimeout() {
			return b.openError(destination, rec, rec.OpenedAt)
		}
	}
	return b.claimProbe(ctx, destination)
}

func (b *Breaker) claimProbe(ctx context.Context, destination string) error {
	var before, after Record
	var claimed bool
	err := b.store.Execute(ctx, func(tx store.Txn) error {
		claimed = false
		before, after = closedRecord(), closedRecord()

		data, err := tx.Get(circuitKey(destination))
		if errors.Is(err, store.ErrNotFound) {
			claimed = true
			return nil
		}
		if err != nil {
			return err
		}
		if before, err = b.decode(data); err != nil {
			return err
		}
		after = before

		now := b.clock.Now()
		switch before.State {
		case StateClosed:
			claimed = true
			return nil
		case StateOpen:
			if now.Sub(before.OpenedAt) < b.cfg.ResetTimeout() {
				return nil
			}
		case StateHalfOpen:
			if now.Sub(before.ProbeStartedAt) < b.cfg.ResetTimeout() {
				return nil
			}
		}

		after.State = StateHalfOpen
		after.ConsecutiveFailures = 0
		after.ProbeStartedAt = now
		claimed = true
		return b.put(tx, destination, after)
	})
	if err != nil {
		b.log.Warnw("unable to claim half-open probe, allowing call", "destination", destination, "error", err)
		return nil
	}

	b.applied(destination, before, after)
	if claimed {
		if after.State == StateHalfOpen {
			b.log.Infow("half-open probe claimed", "destination", destination)
		}
		return nil
	}
	if after.State == StateHalfOpen {
		return b.openError(destination, after, after.ProbeStartedAt)
	}
	return b.openError(destination, after, after.OpenedAt)
}

func (b *Breaker) put(tx store.Txn, destination string, rec Record) error {
	data, err := b.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode circuit record: %w", err)
	}
	tx.Set(circuitKey(destination), data, 0)
	return nil
}

// RecordSuccess closes a half-open circuit and clears the failure count of
// a closed one. An open circuit only closes through a half-open probe, so a
// late success from a call admitted before it tripped changes nothing.
func (b *Breaker) RecordSuccess(ctx context.Context, destination string) error {
	if !b.Enabled() {
		return nil
	}
	return b.transition(ctx, destination, func(rec Record, _ time.Time) (Record, bool) {
		switch {
		case rec.State == StateOpen:
			return rec, false
		case rec.State == StateClosed && rec.ConsecutiveFailures == 0:
			return rec, false
		}
		return closedRecord(), true
	})
}

// RecordFailure counts a failure. The threshold-th consecutive failure
// opens a closed circuit; a failed half-open probe reopens the circuit and
// restarts the reset window.
func (b *Breaker) RecordFailure(ctx context.Context, destination string) error {
	if !b.Enabled() {
		return nil
	}
	if err := b.store.AddToSet(ctx, circuitIndex, destination, 0); err != nil {
		return mesherr.Unavailable("index circuit", err)
	}
	return b.transition(ctx, destination, func(rec Record, now time.Time) (Record, bool) {
		switch rec.State {
		case StateHalfOpen:
			rec.State = StateOpen
			rec.OpenedAt = now
			rec.ProbeStartedAt = time.Time{}
			rec.ConsecutiveFailures = 1
		case StateOpen:
			rec.ConsecutiveFailures++
		default:
			rec.ConsecutiveFailures++
			if rec.ConsecutiveFailures >= b.cfg.CircuitBreakerThreshold {
				rec.State = StateOpen
				rec.OpenedAt = now
			}
		}
		return rec, true
	})
}

// transition applies mutate to the stored record atomically.
func (b *Breaker) transition(ctx context.Context, destination string, mutate func(Record, time.Time) (Record, bool)) error {
	var before, after Record
	err := b.store.Execute(ctx, func(tx store.Txn) error {
		before = closedRecord()
		data, err := tx.Get(circuitKey(destination))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil {
			if before, err = b.decode(data); err != nil {
				return err
			}
		}

		next, write := mutate(before, b.clock.Now())
		after = next
		if !write {
			return nil
		}
		return b.put(tx, destination, after)
	})
	if err != nil {
		return mesherr.Unavailable("record circuit outcome", err)
	}
	b.applied(destination, before, after)
	return nil
}

// applied refreshes the local copy and announces a state change.
func (b *Breaker) applied(destination string, before, after Record) {
	b.remember(destination, after)
	if before.State == after.State {
		return
	}
	b.log.Infow("circuit state changed", "destination", destination, "from", before.State, "to", after.State, "failures", after.ConsecutiveFailures)
	b.publisher.Publish(eventbus.TopicCircuitChanged, eventbus.CircuitChanged{
		DestinationName:     destination,
		OldState:            string(before.State),
		NewState:            string(after.State),
		ConsecutiveFailures: after.ConsecutiveFailures,
		OpenedAt:            after.OpenedAt,
	})
}

// HandleEvent applies a circuit.changed event from another instance to the
// local copy.
func (b *Breaker) HandleEvent(_ context.Context, evt cloudevents.Event) error {
	if evt.Source() == b.source {
		return nil
	}
	var changed eventbus.CircuitChanged
	if err := evt.DataAs(&changed); err != nil {
		return fmt.Errorf("decode circuit event %s: %w", evt.ID(), err)
	}
	rec := Record{
		State:               State(changed.NewState),
		ConsecutiveFailures: changed.ConsecutiveFailures,
		OpenedAt:            changed.OpenedAt,
	}
	if rec.State == StateHalfOpen {
		rec.ProbeStartedAt = b.clock.Now()
	}
	b.remember(changed.DestinationName, rec)
	b.log.Debugw("circuit state received", "destination", changed.DestinationName, "state", rec.State, "from", evt.Source())
	return nil
}

func (b *Breaker) Subscribe(ctx context.Context, bus eventbus.Bus) (func(), error) {
	return bus.Subscribe(ctx, eventbus.TopicCircuitChanged, b.HandleEvent)
}

// Snapshot returns the stored state of every destination that has ever
// recorded a failure.
func (b *Breaker) Snapshot(ctx context.Context) ([]DestinationState, error) {
	destinations, err := b.store.Members(ctx, circuitIndex)
	if err != nil {
		return nil, mesherr.Unavailable("list circuits", err)
	}
	out := make([]DestinationState, 0, len(destinations))
	for _, dest := range destinations {
		rec, err := b.State(ctx, dest)
		if err != nil {
			return nil, err
		}
		out = append(out, DestinationState{Destination: dest, Record: rec})
	}
	return out, nil
}
