// Package routing turns a destination name into a concrete endpoint choice
// and maps logical service names onto destination names.
package routing

import (
	"context"

	"go.uber.org/zap"

	"mini-mesh/config"
	"mini-mesh/loadbalance"
	"mini-mesh/logger"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
)

// Route is the outcome of one resolution.
type Route struct {
	Destination  string
	Algorithm    loadbalance.Algorithm
	Primary      *registry.Endpoint
	Alternates   []*registry.Endpoint
	HealthyCount int
	TotalCount   int
	// FellBack is set when filtering left nothing and the unfiltered list
	// was balanced instead.
	FellBack bool
}

// Candidates is Primary followed by Alternates.
func (r *Route) Candidates() []*registry.Endpoint {
	return append([]*registry.Endpoint{r.Primary}, r.Alternates...)
}

type Resolver struct {
	registry      *registry.Registry
	balancer      *loadbalance.Balancer
	algorithm     loadbalance.Algorithm
	maxAlternates int
	loadThreshold int
	log           *zap.SugaredLogger
}

func NewResolver(reg *registry.Registry, balancer *loadbalance.Balancer, lbCfg *config.LoadBalancerConfig, healthCfg *config.HealthConfig) (*Resolver, error) {
	alg, err := loadbalance.ParseAlgorithm(lbCfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		registry:      reg,
		balancer:      balancer,
		algorithm:     alg,
		maxAlternates: lbCfg.MaxTopEndpointsReturned,
		loadThreshold: healthCfg.LoadThresholdPercent,
		log:           logger.GetLogger().Named("routing"),
	}, nil
}

func (r *Resolver) DefaultAlgorithm() loadbalance.Algorithm {
	return r.algorithm
}

// routable keeps healthy endpoints below the load threshold.
func (r *Resolver) routable(all []*registry.Endpoint) []*registry.Endpoint {
	out := make([]*registry.Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Status == registry.StatusHealthy && ep.LoadPercent < r.loadThreshold {
			out = append(out, ep)
		}
	}
	return out
}

// Route filters the destination's endpoints by health and load and
// balances over the survivors. When none survive it balances over every
// live endpoint; only a destination with no live endpoints at all is an
// error (*mesherr.NoHealthyEndpointError).
func (r *Resolver) Route(ctx context.Context, destination string, alg loadbalance.Algorithm) (*Route, error) {
	list, err := r.registry.GetEndpoints(ctx, destination, registry.Filter{})
	if err != nil {
		return nil, err
	}
	if len(list.Endpoints) == 0 {
		return nil, &mesherr.NoHealthyEndpointError{Destination: destination}
	}

	candidates := r.routable(list.Endpoints)
	fellBack := false
	if len(candidates) == 0 {
		r.log.Warnw("no healthy endpoints under load threshold, falling back to all endpoints",
			"destination", destination, "total", list.TotalCount)
		candidates = list.Endpoints
		fellBack = true
	}

	sel, err := r.balancer.Pick(destination, candidates, alg, r.maxAlternates)
	if err != nil {
		return nil, err
	}
	return &Route{
		Destination:  destination,
		Algorithm:    alg,
		Primary:      sel.Primary,
		Alternates:   sel.Alternates,
		HealthyCount: list.HealthyCount,
		TotalCount:   list.TotalCount,
		FellBack:     fellBack,
	}, nil
}
