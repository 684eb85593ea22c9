package loadbalance

import (
	"sort"

	"mini-mesh/registry"
)

// weighted draws the primary with probability proportional to its
// effective weight. Alternates follow by weight, heaviest first.
func (b *Balancer) weighted(candidates []*registry.Endpoint) []int {
	totalWeight := 0
	for _, ep := range candidates {
		totalWeight += EffectiveWeight(ep)
	}

	chosen := len(candidates) - 1
	r := b.rng.IntN(totalWeight)
	for i, ep := range candidates {
		r -= EffectiveWeight(ep)
		if r < 0 {
			chosen = i
			break
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
		return EffectiveWeight(candidates[rest[i]]) > EffectiveWeight(candidates[rest[j]])
	})
	return order
}
