package eventbus

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"

	"mini-mesh/logger"
)

const subscriberBuffer = 256

type subscription struct {
	topic   string
	ch      chan cloudevents.Event
	handler Handler
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.ch) })
}

// MemoryBus fans events out to in-process subscribers. Each subscriber has
// its own buffered queue drained by its own goroutine; a full queue drops
// the event rather than blocking the publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	log    *zap.SugaredLogger
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]*subscription),
		log:  logger.GetLogger().Named("eventbus"),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, evt cloudevents.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs[evt.Type()] {
		select {
		case sub.ch <- evt:
		default:
			b.log.Warnw("subscriber queue full, dropping event", "topic", evt.Type(), "id", evt.ID())
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &subscription{topic: topic, ch: make(chan cloudevents.Event, subscriberBuffer), handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)

	go func() {
		for evt := range sub.ch {
			if err := sub.handler(ctx, evt); err != nil {
				b.log.Warnw("event handler failed", "topic", topic, "id", evt.ID(), "error", err)
			}
		}
	}()

	cancel := func() { b.unsubscribe(sub) }
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return cancel, nil
}

func (b *MemoryBus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	sub.stop()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = make(map[string][]*subscription)
	return nil
}
