package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"mini-mesh/logger"
)

// EtcdBus publishes each event as a key under {prefix}/events/{topic}/ with
// a short lease, and subscribers watch that prefix. Only events published
// after Subscribe are delivered; the lease just bounds how long old events
// occupy the keyspace.
type EtcdBus struct {
	client *clientv3.Client
	prefix string
	ttl    time.Duration
	log    *zap.SugaredLogger

	mu      sync.Mutex
	cancels []context.CancelFunc
	closed  bool
}

func NewEtcdBus(c *clientv3.Client, prefix string, ttl time.Duration) *EtcdBus {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &EtcdBus{
		client: c,
		prefix: "/" + strings.Trim(prefix, "/") + "/events/",
		ttl:    ttl,
		log:    logger.GetLogger().Named("eventbus"),
	}
}

func (b *EtcdBus) topicPrefix(topic string) string {
	return b.prefix + topic + "/"
}

func (b *EtcdBus) Publish(ctx context.Context, evt cloudevents.Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.ID(), err)
	}
	lease, err := b.client.Grant(ctx, int64(b.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("grant event lease: %w", err)
	}
	_, err = b.client.Put(ctx, b.topicPrefix(evt.Type())+evt.ID(), string(data), clientv3.WithLease(lease.ID))
	return err
}

func (b *EtcdBus) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	watchCtx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	watchChan := b.client.Watch(watchCtx, b.topicPrefix(topic), clientv3.WithPrefix())
	go func() {
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				b.log.Warnw("event watch error", "topic", topic, "error", err)
				continue
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				var evt cloudevents.Event
				if err := json.Unmarshal(ev.Kv.Value, &evt); err != nil {
					b.log.Warnw("skipping malformed event", "key", string(ev.Kv.Key), "error", err)
					continue
				}
				if err := handler(watchCtx, evt); err != nil {
					b.log.Warnw("event handler failed", "topic", topic, "id", evt.ID(), "error", err)
				}
			}
		}
	}()
	return cancel, nil
}

func (b *EtcdBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
	return nil
}
