package health

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
	"mini-mesh/store"
)

type fixture struct {
	clock    *clocktesting.FakeClock
	store    *store.MemoryStore
	events   *eventbus.Recorder
	registry *registry.Registry
	tracker  *Tracker
}

func newFixture() *fixture {
	clk := clocktesting.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(clk)
	events := &eventbus.Recorder{}
	reg := registry.New(st, nil, events, clk, config.NewRegistryConfig())
	return &fixture{
		clock:    clk,
		store:    st,
		events:   events,
		registry: reg,
		tracker:  NewTracker(reg, events, clk, config.NewHealthConfig(), 80),
	}
}

func (f *fixture) register(id string) {
	_, _, err := f.registry.Register(context.Background(), registry.Endpoint{
		InstanceID:      id,
		DestinationName: "widgets",
		Host:            "10.0.0.1",
		Port:            8080,
	}, 0)
	Expect(err).NotTo(HaveOccurred())
}

func TestAssess(t *testing.T) {
	f := newFixture()
	now := f.clock.Now()
	fresh := &registry.Endpoint{LastHeartbeatAt: now.Add(-10 * time.Second)}
	stale := &registry.Endpoint{LastHeartbeatAt: now.Add(-61 * time.Second)}

	cases := []struct {
		name    string
		prev    *registry.Endpoint
		update  registry.HeartbeatUpdate
		status  registry.Status
		reasons []DegradationReason
	}{
		{"clean", fresh, registry.HeartbeatUpdate{LoadPercent: 20}, registry.StatusHealthy, nil},
		{"missed heartbeat", stale, registry.HeartbeatUpdate{}, registry.StatusDegraded, []DegradationReason{ReasonMissedHeartbeat}},
		{"high load", fresh, registry.HeartbeatUpdate{LoadPercent: 81}, registry.StatusDegraded, []DegradationReason{ReasonHighLoad}},
		{"load at threshold", fresh, registry.HeartbeatUpdate{LoadPercent: 80}, registry.StatusHealthy, nil},
		{"connections near max", fresh, registry.HeartbeatUpdate{CurrentConnections: 9, MaxConnections: 10}, registry.StatusDegraded, []DegradationReason{ReasonHighConnectionCount}},
		{"no max connections", fresh, registry.HeartbeatUpdate{CurrentConnections: 900}, registry.StatusHealthy, nil},
		{"draining kept", stale, registry.HeartbeatUpdate{Status: registry.StatusDraining, LoadPercent: 99}, registry.StatusDraining, nil},
		{"self reported degraded", fresh, registry.HeartbeatUpdate{Status: registry.StatusDegraded}, registry.StatusDegraded, nil},
		{"recovers from degraded", fresh, registry.HeartbeatUpdate{LoadPercent: 5}, registry.StatusHealthy, nil},
	}

	for _, c := range cases {
		status, reasons := f.tracker.Assess(c.prev, c.update, now)
		if status != c.status {
			t.Fatalf("%s: expect status %s, got %s", c.name, c.status, status)
		}
		if len(reasons) != len(c.reasons) {
			t.Fatalf("%s: expect reasons %v, got %v", c.name, c.reasons, reasons)
		}
		for i := range reasons {
			if reasons[i] != c.reasons[i] {
				t.Fatalf("%s: expect reasons %v, got %v", c.name, c.reasons, reasons)
			}
		}
	}
}

func TestHeartbeatPublishesDegradedOnTransition(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()
	ctx := context.Background()
	f.register("a")

	result, err := f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 95})
	Expect(err).NotTo(HaveOccurred())
	Expect(result.Endpoint.Status).To(Equal(registry.StatusDegraded))
	Expect(result.Endpoint.Issues).To(ContainElement("HighLoad"))
	Expect(f.events.Count(eventbus.TopicEndpointDegraded)).To(Equal(1))
	payload := f.events.Topic(eventbus.TopicEndpointDegraded)[0].(eventbus.EndpointDegraded)
	Expect(payload.Reason).To(Equal("HighLoad"))

	// still degraded: no new transition
	_, err = f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 96})
	Expect(err).NotTo(HaveOccurred())
	Expect(f.events.Count(eventbus.TopicEndpointDegraded)).To(Equal(1))

	// clean heartbeat recovers without an event
	result, err = f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 10})
	Expect(err).NotTo(HaveOccurred())
	Expect(result.Endpoint.Status).To(Equal(registry.StatusHealthy))
	Expect(result.Endpoint.Issues).To(BeEmpty())
}

func TestDegradedEventsAreDeduplicated(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()
	ctx := context.Background()
	f.register("a")

	flap := func() {
		_, err := f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 95})
		Expect(err).NotTo(HaveOccurred())
		_, err = f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 10})
		Expect(err).NotTo(HaveOccurred())
	}

	flap()
	flap()
	Expect(f.events.Count(eventbus.TopicEndpointDegraded)).To(Equal(1))

	f.clock.Step(61 * time.Second)
	_, err := f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 10})
	Expect(err).NotTo(HaveOccurred())
	// that heartbeat was late, so it degraded for MissedHeartbeat
	Expect(f.events.Count(eventbus.TopicEndpointDegraded)).To(Equal(2))

	_, err = f.tracker.Heartbeat(ctx, "a", registry.HeartbeatUpdate{LoadPercent: 10})
	Expect(err).NotTo(HaveOccurred())
	flap()
	Expect(f.events.Count(eventbus.TopicEndpointDegraded)).To(Equal(3))
}

func TestHeartbeatUnknownInstance(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	_, err := f.tracker.Heartbeat(context.Background(), "ghost", registry.HeartbeatUpdate{})
	Expect(errors.Is(err, mesherr.ErrEndpointNotFound)).To(BeTrue())
}

func TestHeartbeatEventAutoRegisters(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()
	bus := eventbus.NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := f.tracker.Subscribe(ctx, bus)
	Expect(err).NotTo(HaveOccurred())

	evt, err := eventbus.NewEvent("orchestrator", eventbus.TopicHeartbeat, eventbus.Heartbeat{
		InstanceID:      "new-node",
		DestinationName: "widgets",
		Host:            "10.0.0.9",
		LoadPercent:     15,
		ServicesOffered: []string{"catalog"},
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(bus.Publish(ctx, evt)).To(Succeed())

	Eventually(func() error {
		_, err := f.registry.Get(ctx, "new-node")
		return err
	}).Should(Succeed())
	ep, _ := f.registry.Get(ctx, "new-node")
	Expect(ep.Port).To(Equal(80))
	Expect(ep.ServicesOffered).To(Equal([]string{"catalog"}))
	Expect(ep.LoadPercent).To(Equal(15))

	// a second heartbeat refreshes instead of registering again
	f.clock.Step(10 * time.Second)
	evt, _ = eventbus.NewEvent("orchestrator", eventbus.TopicHeartbeat, eventbus.Heartbeat{
		InstanceID: "new-node", DestinationName: "widgets", Host: "10.0.0.9", LoadPercent: 25,
	})
	Expect(bus.Publish(ctx, evt)).To(Succeed())
	Eventually(func() int {
		ep, err := f.registry.Get(ctx, "new-node")
		if err != nil {
			return -1
		}
		return ep.LoadPercent
	}).Should(Equal(25))
	Expect(f.events.Count(eventbus.TopicEndpointRegistered)).To(Equal(1))
}
