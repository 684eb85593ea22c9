package eventbus

import "sync"

// EventPublisher is the fire-and-forget publishing surface components
// depend on. *Publisher implements it.
type EventPublisher interface {
	Publish(topic string, payload any)
}

// NopPublisher drops every event. Components default to it when no bus is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) {}

// RecordedEvent is one call captured by a Recorder.
type RecordedEvent struct {
	Topic   string
	Payload any
}

// Recorder is an EventPublisher that keeps every event in memory so tests
// can assert on what was published.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (r *Recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Topic: topic, Payload: payload})
}

// Topic returns the payloads published on topic, oldest first.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (r *Recorder) Count(topic string) int {
	return len(r.Topic(topic))
}
