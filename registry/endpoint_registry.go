package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/codec"
	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/logger"
	"mini-mesh/mesherr"
	"mini-mesh/store"
)

const globalIndex = "global-index"

func endpointKey(id string) string {
	return "endpoint:" + id
}

func destinationIndex(destination string) string {
	return "destination-index:" + destination
}

// Registry is the endpoint bookkeeping over the shared store. Store errors
// come back as *mesherr.RegistryUnavailableError.
type Registry struct {
	store     store.Store
	codec     codec.Codec
	publisher eventbus.EventPublisher
	clock     clock.PassiveClock
	cfg       *config.RegistryConfig
	log       *zap.SugaredLogger
}

func New(s store.Store, c codec.Codec, publisher eventbus.EventPublisher, clk clock.PassiveClock, cfg *config.RegistryConfig) *Registry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if c == nil {
		c = &codec.JSONCodec{}
	}
	if cfg == nil {
		cfg = config.NewRegistryConfig()
	}
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}
	return &Registry{
		store:     s,
		codec:     c,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		log:       logger.GetLogger().Named("registry"),
	}
}

func (r *Registry) HeartbeatInterval() time.Duration {
	return r.cfg.HeartbeatInterval()
}

func (r *Registry) DefaultTTL() time.Duration {
	return r.cfg.EndpointTTL()
}

// Ping checks store connectivity.
func (r *Registry) Ping(ctx context.Context) error {
	return mesherr.Unavailable("ping", r.store.Ping(ctx))
}

// Register writes the endpoint and indexes it. A missing instance id is
// assigned. Registering an existing id refreshes the record, keeps the
// original RegisteredAt and moves the id when the destination changed.
func (r *Registry) Register(ctx context.Context, ep Endpoint, ttl time.Duration) (*Endpoint, time.Duration, error) {
	if err := ep.Validate(); err != nil {
		return nil, 0, err
	}
	if ttl <= 0 {
		ttl = r.DefaultTTL()
	}
	if ep.InstanceID == "" {
		ep.InstanceID = uuid.NewString()
	}
	if ep.Status == "" {
		ep.Status = StatusHealthy
	}

	now := r.clock.Now()
	ep.RegisteredAt = now
	ep.LastHeartbeatAt = now

	prev, err := r.Get(ctx, ep.InstanceID)
	switch {
	case err == nil:
		ep.RegisteredAt = prev.RegisteredAt
		if prev.DestinationName != ep.DestinationName {
			if err := r.store.RemoveFromSet(ctx, destinationIndex(prev.DestinationName), ep.InstanceID); err != nil {
				return nil, 0, mesherr.Unavailable("register", err)
			}
			r.log.Infow("endpoint moved destination", "instanceId", ep.InstanceID, "from", prev.DestinationName, "to", ep.DestinationName)
		}
	case !errors.Is(err, mesherr.ErrEndpointNotFound):
		return nil, 0, err
	}

	if err := r.write(ctx, &ep, ttl); err != nil {
		return nil, 0, mesherr.Unavailable("register", err)
	}

	r.log.Infow("endpoint registered", "instanceId", ep.InstanceID, "destination", ep.DestinationName, "address", ep.Address(), "ttl", ttl)
	r.publisher.Publish(eventbus.TopicEndpointRegistered, eventbus.EndpointRegistered{
		InstanceID:      ep.InstanceID,
		DestinationName: ep.DestinationName,
		Host:            ep.Host,
		Port:            ep.Port,
		ServicesOffered: ep.ServicesOffered,
	})
	return &ep, ttl, nil
}

// write stores the record and refreshes both indexes with the same TTL.
func (r *Registry) write(ctx context.Context, ep *Endpoint, ttl time.Duration) error {
	data, err := r.codec.Encode(ep)
	if err != nil {
		return fmt.Errorf("encode endpoint %s: %w", ep.InstanceID, err)
	}
	if err := r.store.Set(ctx, endpointKey(ep.InstanceID), data, ttl); err != nil {
		return err
	}
	if err := r.store.AddToSet(ctx, destinationIndex(ep.DestinationName), ep.InstanceID, ttl); err != nil {
		return err
	}
	return r.store.AddToSet(ctx, globalIndex, ep.InstanceID, ttl)
}

// Deregister removes the endpoint. Unknown ids are ignored.
func (r *Registry) Deregister(ctx context.Context, instanceID string, reason DeregisterReason) error {
	ep, err := r.Get(ctx, instanceID)
	if errors.Is(err, mesherr.ErrEndpointNotFound) {
		r.log.Debugw("deregister of unknown endpoint ignored", "instanceId", instanceID, "reason", reason)
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.Delete(ctx, endpointKey(instanceID)); err != nil {
		return mesherr.Unavailable("deregister", err)
	}
	if err := r.store.RemoveFromSet(ctx, destinationIndex(ep.DestinationName), instanceID); err != nil {
		return mesherr.Unavailable("deregister", err)
	}
	if err := r.store.RemoveFromSet(ctx, globalIndex, instanceID); err != nil {
		return mesherr.Unavailable("deregister", err)
	}

	r.log.Infow("endpoint deregistered", "instanceId", instanceID, "destination", ep.DestinationName, "reason", reason)
	r.publisher.Publish(eventbus.TopicEndpointDeregistered, eventbus.EndpointDeregistered{
		InstanceID:      instanceID,
		DestinationName: ep.DestinationName,
		Reason:          string(reason),
	})
	return nil
}

// Heartbeat refreshes the record's TTL and self-reported fields. It returns
// mesherr.ErrEndpointNotFound when the record has already expired.
func (r *Registry) Heartbeat(ctx context.Context, instanceID string, update HeartbeatUpdate) (*HeartbeatResult, error) {
	ep, err := r.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if update.Status != "" {
		ep.Status = update.Status
	}
	ep.LoadPercent = update.LoadPercent
	ep.CurrentConnections = update.CurrentConnections
	ep.MaxConnections = update.MaxConnections
	ep.Issues = update.Issues
	ep.LastHeartbeatAt = r.clock.Now()

	ttl := r.DefaultTTL()
	if err := r.write(ctx, ep, ttl); err != nil {
		return nil, mesherr.Unavailable("heartbeat", err)
	}
	return &HeartbeatResult{Endpoint: ep, NextHeartbeat: r.HeartbeatInterval(), TTL: ttl}, nil
}

func (r *Registry) Get(ctx context.Context, instanceID string) (*Endpoint, error) {
	data, err := r.store.Get(ctx, endpointKey(instanceID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", mesherr.ErrEndpointNotFound, instanceID)
	}
	if err != nil {
		return nil, mesherr.Unavailable("get endpoint", err)
	}
	var ep Endpoint
	if err := r.codec.Decode(data, &ep); err != nil {
		return nil, fmt.Errorf("decode endpoint %s: %w", instanceID, err)
	}
	return &ep, nil
}

// resolve loads every member of an index, pruning members whose record
// has expired.
func (r *Registry) resolve(ctx context.Context, index string) ([]*Endpoint, error) {
	ids, err := r.store.Members(ctx, index)
	if err != nil {
		return nil, mesherr.Unavailable("read index", err)
	}

	endpoints := make([]*Endpoint, 0, len(ids))
	for _, id := range ids {
		ep, err := r.Get(ctx, id)
		if errors.Is(err, mesherr.ErrEndpointNotFound) {
			if err := r.store.RemoveFromSet(ctx, index, id); err != nil {
				r.log.Warnw("failed to prune stale index member", "index", index, "instanceId", id, "error", err)
			}
			continue
		}
		if err != nil {
			if mesherr.IsRegistryUnavailable(err) {
				return nil, err
			}
			r.log.Warnw("skipping unreadable endpoint", "instanceId", id, "error", err)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// GetEndpoints returns the live endpoints of a destination matching filter.
// The counts cover every live endpoint of the destination.
func (r *Registry) GetEndpoints(ctx context.Context, destination string, filter Filter) (*EndpointList, error) {
	all, err := r.resolve(ctx, destinationIndex(destination))
	if err != nil {
		return nil, err
	}

	list := &EndpointList{Endpoints: make([]*Endpoint, 0, len(all)), TotalCount: len(all)}
	for _, ep := range all {
		if ep.Status == StatusHealthy {
			list.HealthyCount++
		}
		if filter.matches(ep) {
			list.Endpoints = append(list.Endpoints, ep)
		}
	}
	return list, nil
}

// ListEndpoints walks the global index and groups live endpoints by status.
func (r *Registry) ListEndpoints(ctx context.Context, filter ListFilter) (*Listing, error) {
	all, err := r.resolve(ctx, globalIndex)
	if err != nil {
		return nil, err
	}

	listing := &Listing{ByStatus: make(map[Status][]*Endpoint)}
	for _, ep := range all {
		if filter.DestinationPrefix != "" && !strings.HasPrefix(ep.DestinationName, filter.DestinationPrefix) {
			continue
		}
		listing.ByStatus[ep.Status] = append(listing.ByStatus[ep.Status], ep)
		listing.TotalCount++
	}
	return listing, nil
}
