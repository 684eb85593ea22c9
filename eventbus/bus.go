// Package eventbus carries mesh lifecycle events between instances.
//
// Events are CloudEvents: the event type is the topic, the source names
// the publishing mesh instance and the data is JSON.
package eventbus

import (
	"context"
	"errors"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Topics published by the mesh.
const (
	TopicEndpointRegistered   = "endpoint.registered"
	TopicEndpointDeregistered = "endpoint.deregistered"
	TopicEndpointDegraded     = "endpoint.degraded"
	TopicEndpointHealthFailed = "endpoint.health.failed"
	TopicCircuitChanged       = "circuit.changed"
)

// Topics consumed by the mesh, produced by the orchestration layer.
const (
	TopicHeartbeat        = "mesh.heartbeat"
	TopicMappingsSnapshot = "mesh.mappings.snapshot"
)

var ErrClosed = errors.New("eventbus: closed")

// Handler processes one event. Returned errors are logged by the bus.
type Handler func(ctx context.Context, evt cloudevents.Event) error

type Bus interface {
	Publish(ctx context.Context, evt cloudevents.Event) error
	// Subscribe delivers every event whose type equals topic until the
	// returned cancel function is called or ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) (func(), error)
	Close() error
}

// NewEvent wraps payload in a CloudEvent of type topic.
func NewEvent(source, topic string, payload any) (cloudevents.Event, error) {
	evt := cloudevents.NewEvent()
	evt.SetID(uuid.NewString())
	evt.SetSource(source)
	evt.SetType(topic)
	evt.SetTime(time.Now())
	if err := evt.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return evt, err
	}
	return evt, nil
}
