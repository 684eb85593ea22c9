package eventbus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"

	"mini-mesh/logger"
)

const publishTimeout = 5 * time.Second

// Publisher makes publishing fire-and-forget for the caller. Events go to a
// bounded queue drained by one goroutine; when the queue is full the event
// is dropped and logged.
type Publisher struct {
	bus    Bus
	source string
	log    *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	queue  chan cloudevents.Event
	done   chan struct{}
}

func NewPublisher(bus Bus, source string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		bus:    bus,
		source: source,
		log:    logger.GetLogger().Named("publisher"),
		queue:  make(chan cloudevents.Event, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Source() string {
	return p.source
}

// Publish never blocks.
func (p *Publisher) Publish(topic string, payload any) {
	evt, err := NewEvent(p.source, topic, payload)
	if err != nil {
		p.log.Errorw("failed to build event", "topic", topic, "error", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Debugw("publisher closed, dropping event", "topic", topic)
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.log.Warnw("publish queue full, dropping event", "topic", topic)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for evt := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.bus.Publish(ctx, evt); err != nil {
			p.log.Warnw("failed to publish event", "topic", evt.Type(), "id", evt.ID(), "error", err)
		}
		cancel()
	}
}

// Close flushes queued events and stops the worker. The bus is not closed.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
