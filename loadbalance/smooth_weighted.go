package loadbalance

import (
	"sort"

	"mini-mesh/registry"
)

// smoothWeighted is nginx-style smooth weighted round robin. Every round
// each candidate's current weight grows by its effective weight; the
// largest is chosen and debited by the total. Heavy endpoints are spread
// out instead of picked in bursts.
//
// Current weights are keyed by instance id so that they survive changes in
// candidate order; ids no longer present are dropped.
func (b *Balancer) smoothWeighted(destination string, candidates []*registry.Endpoint) []int {
	current, ok := b.counters.currentWeights[destination]
	if !ok {
		current = make(map[string]int)
		b.counters.currentWeights[destination] = current
	}

	present := make(map[string]bool, len(candidates))
	totalWeight := 0
	chosen := -1
	for i, ep := range candidates {
		present[ep.InstanceID] = true
		w := EffectiveWeight(ep)
		totalWeight += w
		current[ep.InstanceID] += w
		if chosen < 0 || current[ep.InstanceID] > current[candidates[chosen].InstanceID] {
			chosen = i
		}
	}
	current[candidates[chosen].InstanceID] -= totalWeight

	for id := range current {
		if !present[id] {
			delete(current, id)
		}
	}

	order := []int{chosen}
	for i := range candidates {
		if i != chosen {
			order = append(order, i)
		}
	}
	rest := order[1:]
	sort.SliceStable(rest, func(i, j int) bool {
		return current[candidates[rest[i]].InstanceID] > current[candidates[rest[j]].InstanceID]
	})
	return order
}
