// Package loadbalance selects an endpoint, plus ranked alternates, from a
// candidate list.
//
// Five algorithms are implemented:
//   - RoundRobin:         equal-capacity instances, cyclic order per destination
//   - LeastConnections:   fewest open connections first
//   - Weighted:           weighted-random draw, weight = max(100 - load, 1)
//   - WeightedRoundRobin: smooth weighted round robin over the same weight
//   - Random:             uniform draw
//
// Selection does no I/O. Round robin cursors and smooth weighted round robin
// weights live in a Counters value owned by one process; they are never
// shared across mesh instances.
package loadbalance

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"mini-mesh/registry"
)

var (
	ErrNoCandidates     = errors.New("no candidate endpoints")
	ErrUnknownAlgorithm = errors.New("unknown load balancing algorithm")
)

type Algorithm int

const (
	RoundRobin Algorithm = iota
	LeastConnections
	Weighted
	WeightedRoundRobin
	Random
)

var algorithmNames = map[Algorithm]string{
	RoundRobin:         "RoundRobin",
	LeastConnections:   "LeastConnections",
	Weighted:           "Weighted",
	WeightedRoundRobin: "WeightedRoundRobin",
	Random:             "Random",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm accepts the algorithm name in any case.
func ParseAlgorithm(name string) (Algorithm, error) {
	for a, n := range algorithmNames {
		if strings.EqualFold(n, name) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownAlgorithm, name)
}

func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// EffectiveWeight is the weight both weighted algorithms give an endpoint.
func EffectiveWeight(ep *registry.Endpoint) int {
	return max(100-ep.LoadPercent, 1)
}

// Counters holds the per-destination mutable selection state.
type Counters struct {
	roundRobin     map[string]int
	currentWeights map[string]map[string]int
}

func NewCounters() *Counters {
	return &Counters{
		roundRobin:     make(map[string]int),
		currentWeights: make(map[string]map[string]int),
	}
}

// Selection is the chosen endpoint and up to N alternates, best first.
type Selection struct {
	Primary    *registry.Endpoint
	Alternates []*registry.Endpoint
}

// Balancer dispatches to the selected algorithm. It is safe for concurrent
// use; selection state is guarded by one mutex.
type Balancer struct {
	mu       sync.Mutex
	counters *Counters
	rng      *rand.Rand
}

func New(counters *Counters, rng *rand.Rand) *Balancer {
	if counters == nil {
		counters = NewCounters()
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Balancer{counters: counters, rng: rng}
}

// Pick orders candidates by algorithm for destination and returns the head
// plus at most maxAlternates of the rest.
func (b *Balancer) Pick(destination string, candidates []*registry.Endpoint, alg Algorithm, maxAlternates int) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for destination %q", ErrNoCandidates, destination)
	}

	b.mu.Lock()
	var order []int
	switch alg {
	case RoundRobin:
		order = b.roundRobin(destination, candidates)
	case LeastConnections:
		order = leastConnections(candidates)
	case Weighted:
		order = b.weighted(candidates)
	case WeightedRoundRobin:
		order = b.smoothWeighted(destination, candidates)
	case Random:
		order = b.random(candidates)
	default:
		b.mu.Unlock()
		return nil, fmt.Errorf("%w %d", ErrUnknownAlgorithm, int(alg))
	}
	b.mu.Unlock()

	if maxAlternates < 0 {
		maxAlternates = 0
	}
	sel := &Selection{Primary: candidates[order[0]]}
	for _, idx := range order[1:min(len(order), maxAlternates+1)] {
		sel.Alternates = append(sel.Alternates, candidates[idx])
	}
	return sel, nil
}
