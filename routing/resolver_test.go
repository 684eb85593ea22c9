package routing

import (
	"context"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"mini-mesh/config"
	"mini-mesh/loadbalance"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
	"mini-mesh/store"
)

func newResolver(t *testing.T) (*Resolver, *registry.Registry) {
	clk := clocktesting.NewFakeClock(time.Now())
	reg := registry.New(store.NewMemoryStore(clk), nil, nil, clk, nil)
	r, err := NewResolver(reg, loadbalance.New(nil, nil), config.NewLoadBalancerConfig(), config.NewHealthConfig())
	if err != nil {
		t.Fatal(err)
	}
	return r, reg
}

func register(reg *registry.Registry, id string, status registry.Status, load int) {
	_, _, err := reg.Register(context.Background(), registry.Endpoint{
		InstanceID:      id,
		DestinationName: "widgets",
		Host:            "10.0.0.1",
		Port:            8080,
		Status:          status,
		LoadPercent:     load,
	}, 0)
	Expect(err).NotTo(HaveOccurred())
}

func TestRouteRoundRobinFairness(t *testing.T) {
	RegisterTestingT(t)
	r, reg := newResolver(t)
	for i := 0; i < 3; i++ {
		register(reg, fmt.Sprintf("ep-%d", i), registry.StatusHealthy, 10)
	}

	counts := map[string]int{}
	var order []string
	for i := 0; i < 9; i++ {
		route, err := r.Route(context.Background(), "widgets", loadbalance.RoundRobin)
		Expect(err).NotTo(HaveOccurred())
		Expect(route.FellBack).To(BeFalse())
		Expect(route.Alternates).To(HaveLen(2))
		counts[route.Primary.InstanceID]++
		order = append(order, route.Primary.InstanceID)
	}
	Expect(counts).To(Equal(map[string]int{"ep-0": 3, "ep-1": 3, "ep-2": 3}))
	Expect(order[:3]).To(Equal(order[3:6]))
}

func TestRouteFiltersDegradedAndLoaded(t *testing.T) {
	RegisterTestingT(t)
	r, reg := newResolver(t)
	register(reg, "busy", registry.StatusHealthy, 85)
	register(reg, "sick", registry.StatusDegraded, 10)
	register(reg, "ok", registry.StatusHealthy, 30)

	for i := 0; i < 5; i++ {
		route, err := r.Route(context.Background(), "widgets", r.DefaultAlgorithm())
		Expect(err).NotTo(HaveOccurred())
		Expect(route.Primary.InstanceID).To(Equal("ok"))
		Expect(route.Alternates).To(BeEmpty())
		Expect(route.TotalCount).To(Equal(3))
		Expect(route.HealthyCount).To(Equal(2))
	}
}

func TestRouteFallsBackToUnfilteredEndpoints(t *testing.T) {
	RegisterTestingT(t)
	r, reg := newResolver(t)
	register(reg, "a", registry.StatusDegraded, 10)
	register(reg, "b", registry.StatusHealthy, 95)
	register(reg, "c", registry.StatusDraining, 50)

	route, err := r.Route(context.Background(), "widgets", loadbalance.LeastConnections)
	Expect(err).NotTo(HaveOccurred())
	Expect(route.FellBack).To(BeTrue())
	Expect(route.Primary.InstanceID).To(BeElementOf("a", "b", "c"))
	Expect(route.Candidates()).To(HaveLen(3))
}

func TestRouteUnknownDestination(t *testing.T) {
	RegisterTestingT(t)
	r, _ := newResolver(t)

	_, err := r.Route(context.Background(), "nobody", loadbalance.RoundRobin)
	Expect(mesherr.IsNoHealthyEndpoint(err)).To(BeTrue())
}

func TestRouteWeightedRoundRobinPrefersLowLoad(t *testing.T) {
	RegisterTestingT(t)
	r, reg := newResolver(t)
	register(reg, "a", registry.StatusHealthy, 20)
	register(reg, "b", registry.StatusHealthy, 50)
	register(reg, "c", registry.StatusHealthy, 70)

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		route, err := r.Route(context.Background(), "widgets", loadbalance.WeightedRoundRobin)
		Expect(err).NotTo(HaveOccurred())
		counts[route.Primary.InstanceID]++
	}
	Expect(counts["a"]).To(BeNumerically(">", counts["c"]))
}
