package loadbalance

import (
	"sort"

	"mini-mesh/registry"
)

// leastConnections orders by current connections, ties kept in list order.
func leastConnections(candidates []*registry.Endpoint) []int {
	order := identity(len(candidates))
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].CurrentConnections < candidates[order[j]].CurrentConnections
	})
	return order
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
