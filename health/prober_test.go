package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
)

func registerServer(f *fixture, id string, srv *httptest.Server) {
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	port, _ := strconv.Atoi(portStr)
	_, _, err = f.registry.Register(context.Background(), registry.Endpoint{
		InstanceID:      id,
		DestinationName: "widgets",
		Host:            host,
		Port:            port,
	}, 0)
	Expect(err).NotTo(HaveOccurred())
}

func newTestProber(f *fixture, owner Owner) *Prober {
	cfg := config.NewHealthConfig()
	cfg.HealthCheckEnabled = true
	return NewProber(f.registry, f.events, f.tracker.Deduper(), &http.Client{}, f.clock, cfg, owner)
}

func TestProberDeregistersAfterThreshold(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()
	ctx := context.Background()

	var healthyHits atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		healthyHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	registerServer(f, "good", healthy)
	registerServer(f, "bad", failing)
	p := newTestProber(f, nil)

	p.ProbeAll(ctx)
	Expect(p.Failures("bad")).To(Equal(1))
	Expect(p.Failures("good")).To(Equal(0))
	Expect(f.events.Count(eventbus.TopicEndpointHealthFailed)).To(Equal(1))

	p.ProbeAll(ctx)
	Expect(p.Failures("bad")).To(Equal(2))
	// second failure inside the dedup window is not republished
	Expect(f.events.Count(eventbus.TopicEndpointHealthFailed)).To(Equal(1))
	_, err := f.registry.Get(ctx, "bad")
	Expect(err).NotTo(HaveOccurred())

	p.ProbeAll(ctx)
	_, err = f.registry.Get(ctx, "bad")
	Expect(errors.Is(err, mesherr.ErrEndpointNotFound)).To(BeTrue())
	payload := f.events.Topic(eventbus.TopicEndpointDeregistered)[0].(eventbus.EndpointDeregistered)
	Expect(payload.Reason).To(Equal("HealthCheckFailure"))

	_, err = f.registry.Get(ctx, "good")
	Expect(err).NotTo(HaveOccurred())
	Expect(healthyHits.Load()).To(Equal(int32(3)))
}

func TestProberSuccessResetsFailures(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()
	ctx := context.Background()

	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	registerServer(f, "flappy", srv)
	p := newTestProber(f, nil)

	p.ProbeAll(ctx)
	p.ProbeAll(ctx)
	Expect(p.Failures("flappy")).To(Equal(2))

	up.Store(true)
	p.ProbeAll(ctx)
	Expect(p.Failures("flappy")).To(Equal(0))

	up.Store(false)
	p.ProbeAll(ctx)
	p.ProbeAll(ctx)
	_, err := f.registry.Get(ctx, "flappy")
	Expect(err).NotTo(HaveOccurred())
}

func TestProberIgnoresProbesCutShortByShutdown(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)
	registerServer(f, "slow", srv)
	p := newTestProber(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.ProbeAll(ctx)
		close(done)
	}()
	Eventually(entered).Should(Receive())
	cancel()
	Eventually(done).Should(BeClosed())

	Expect(p.Failures("slow")).To(Equal(0))
	Expect(f.events.Count(eventbus.TopicEndpointHealthFailed)).To(Equal(0))
}

type ownsNothing struct{}

func (ownsNothing) Owns(string) bool { return false }

func TestProberSkipsEndpointsItDoesNotOwn(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	registerServer(f, "a", srv)

	p := newTestProber(f, ownsNothing{})
	p.ProbeAll(context.Background())
	Expect(p.Failures("a")).To(Equal(0))
}

func TestProberRunsOnTicker(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	registerServer(f, "a", srv)

	p := newTestProber(f, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	Eventually(f.clock.HasWaiters).Should(BeTrue())
	f.clock.Step(10 * time.Second)
	Eventually(hits.Load).Should(Equal(int32(1)))

	cancel()
	Eventually(done).Should(BeClosed())
}
