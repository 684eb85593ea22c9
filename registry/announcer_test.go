package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"mini-mesh/eventbus"
	"mini-mesh/mesherr"
)

func TestAnnouncerLifecycle(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	ep := Endpoint{DestinationName: "mesh", Host: "127.0.0.1", Port: 5012}
	load := 0
	a := NewAnnouncer(f.registry, f.clock, ep, func() HeartbeatUpdate {
		load += 10
		return HeartbeatUpdate{LoadPercent: load}
	})
	Expect(a.InstanceID()).NotTo(BeEmpty())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	Eventually(f.clock.HasWaiters).Should(BeTrue())
	got, err := f.registry.Get(context.Background(), a.InstanceID())
	Expect(err).NotTo(HaveOccurred())
	Expect(got.DestinationName).To(Equal("mesh"))

	f.clock.Step(30 * time.Second)
	Eventually(func() int {
		ep, err := f.registry.Get(context.Background(), a.InstanceID())
		if err != nil {
			return -1
		}
		return ep.LoadPercent
	}).Should(Equal(10))

	cancel()
	Eventually(done).Should(BeClosed())
	_, err = f.registry.Get(context.Background(), a.InstanceID())
	Expect(errors.Is(err, mesherr.ErrEndpointNotFound)).To(BeTrue())
	payload := f.events.Topic(eventbus.TopicEndpointDeregistered)[0].(eventbus.EndpointDeregistered)
	Expect(payload.Reason).To(Equal(string(ReasonShutdown)))
}

func TestAnnouncerReregistersAfterLapse(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	a := NewAnnouncer(f.registry, f.clock, Endpoint{DestinationName: "mesh", Host: "127.0.0.1", Port: 5012}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	Eventually(f.clock.HasWaiters).Should(BeTrue())
	Expect(f.registry.Deregister(context.Background(), a.InstanceID(), ReasonManual)).To(Succeed())

	f.clock.Step(30 * time.Second)
	Eventually(func() error {
		_, err := f.registry.Get(context.Background(), a.InstanceID())
		return err
	}).Should(Succeed())
	Expect(f.events.Count(eventbus.TopicEndpointRegistered)).To(BeNumerically(">=", 2))
}
