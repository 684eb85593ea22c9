package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/logger"
	"mini-mesh/mesherr"
)

const deregisterTimeout = 5 * time.Second

// StatusFunc reports the local instance's current load for each heartbeat.
type StatusFunc func() HeartbeatUpdate

// Announcer keeps one local endpoint registered: it registers on start,
// heartbeats on the interval the registry hands back, re-registers when the
// record lapsed, and deregisters with ReasonShutdown when stopped.
type Announcer struct {
	registry *Registry
	clock    clock.Clock
	endpoint Endpoint
	status   StatusFunc
	log      *zap.SugaredLogger
}

func NewAnnouncer(reg *Registry, clk clock.Clock, ep Endpoint, status StatusFunc) *Announcer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if status == nil {
		status = func() HeartbeatUpdate { return HeartbeatUpdate{} }
	}
	if ep.InstanceID == "" {
		ep.InstanceID = uuid.NewString()
	}
	return &Announcer{
		registry: reg,
		clock:    clk,
		endpoint: ep,
		status:   status,
		log:      logger.GetLogger().Named("announcer"),
	}
}

func (a *Announcer) InstanceID() string {
	return a.endpoint.InstanceID
}

func (a *Announcer) register(ctx context.Context) {
	if _, _, err := a.registry.Register(ctx, a.endpoint, 0); err != nil {
		a.log.Warnw("self registration failed, will retry", "destination", a.endpoint.DestinationName, "error", err)
	}
}

// Run blocks until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	a.register(ctx)
	interval := a.registry.HeartbeatInterval()

	for {
		timer := a.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.deregister()
			return
		case <-timer.C():
		}

		result, err := a.registry.Heartbeat(ctx, a.endpoint.InstanceID, a.status())
		switch {
		case errors.Is(err, mesherr.ErrEndpointNotFound):
			a.log.Infow("self registration lapsed, registering again", "instanceId", a.endpoint.InstanceID)
			a.register(ctx)
		case err != nil:
			a.log.Warnw("heartbeat failed", "instanceId", a.endpoint.InstanceID, "error", err)
		default:
			interval = result.NextHeartbeat
		}
	}
}

func (a *Announcer) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
	defer cancel()
	if err := a.registry.Deregister(ctx, a.endpoint.InstanceID, ReasonShutdown); err != nil {
		a.log.Warnw("deregister on shutdown failed", "instanceId", a.endpoint.InstanceID, "error", err)
	}
}
