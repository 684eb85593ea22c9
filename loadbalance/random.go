package loadbalance

import "mini-mesh/registry"

// random returns a uniform permutation of the candidates.
func (b *Balancer) random(candidates []*registry.Endpoint) []int {
	order := identity(len(candidates))
	b.rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
