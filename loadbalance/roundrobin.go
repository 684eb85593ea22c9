package loadbalance

import "mini-mesh/registry"

// roundRobin advances the destination's cursor and returns the candidates
// in cyclic order starting at it. The first pick for a destination is
// index 0.
func (b *Balancer) roundRobin(destination string, candidates []*registry.Endpoint) []int {
	n := len(candidates)
	prev, ok := b.counters.roundRobin[destination]
	if !ok {
		prev = -1
	}
	next := (prev + 1) % n
	b.counters.roundRobin[destination] = next

	order := make([]int, n)
	for i := range order {
		order[i] = (next + i) % n
	}
	return order
}
