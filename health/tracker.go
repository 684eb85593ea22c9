// Package health turns heartbeats and active probes into endpoint status
// transitions and lifecycle events. Store writes stay in the registry.
package health

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/logger"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
)

type DegradationReason string

const (
	ReasonMissedHeartbeat     DegradationReason = "MissedHeartbeat"
	ReasonHighLoad            DegradationReason = "HighLoad"
	ReasonHighConnectionCount DegradationReason = "HighConnectionCount"
)

// Tracker is the passive side of health tracking.
type Tracker struct {
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	clock       clock.PassiveClock
	cfg         *config.HealthConfig
	dedup       *Deduper
	defaultPort int
	log         *zap.SugaredLogger
}

func NewTracker(reg *registry.Registry, publisher eventbus.EventPublisher, clk clock.PassiveClock, cfg *config.HealthConfig, defaultPort int) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg == nil {
		cfg = config.NewHealthConfig()
	}
	return &Tracker{
		registry:    reg,
		publisher:   publisher,
		clock:       clk,
		cfg:         cfg,
		dedup:       NewDeduper(cfg.DedupWindow(), clk),
		defaultPort: defaultPort,
		log:         logger.GetLogger().Named("health"),
	}
}

// Deduper is shared with the prober so both paths honor one window.
func (t *Tracker) Deduper() *Deduper {
	return t.dedup
}

// Assess derives the status a heartbeat should record. A self-reported
// Draining or Unavailable status is kept as is.
func (t *Tracker) Assess(prev *registry.Endpoint, update registry.HeartbeatUpdate, now time.Time) (registry.Status, []DegradationReason) {
	if update.Status == registry.StatusDraining || update.Status == registry.StatusUnavailable {
		return update.Status, nil
	}

	var reasons []DegradationReason
	if prev != nil && !prev.LastHeartbeatAt.IsZero() && now.Sub(prev.LastHeartbeatAt) > t.cfg.DegradationThreshold() {
		reasons = append(reasons, ReasonMissedHeartbeat)
	}
	if update.LoadPercent > t.cfg.LoadThresholdPercent {
		reasons = append(reasons, ReasonHighLoad)
	}
	if update.MaxConnections > 0 && float64(update.CurrentConnections) >= t.cfg.ConnectionThresholdRatio*float64(update.MaxConnections) {
		reasons = append(reasons, ReasonHighConnectionCount)
	}

	if len(reasons) > 0 || update.Status == registry.StatusDegraded {
		return registry.StatusDegraded, reasons
	}
	return registry.StatusHealthy, nil
}

// Heartbeat assesses and records a heartbeat. It returns
// mesherr.ErrEndpointNotFound for an instance with no live record.
func (t *Tracker) Heartbeat(ctx context.Context, instanceID string, update registry.HeartbeatUpdate) (*registry.HeartbeatResult, error) {
	prev, err := t.registry.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	status, reasons := t.Assess(prev, update, t.clock.Now())
	update.Status = status
	for _, r := range reasons {
		if !slices.Contains(update.Issues, string(r)) {
			update.Issues = append(update.Issues, string(r))
		}
	}

	result, err := t.registry.Heartbeat(ctx, instanceID, update)
	if err != nil {
		return nil, err
	}

	if prev.Status == registry.StatusHealthy && status == registry.StatusDegraded {
		t.degraded(result.Endpoint, reasons)
	}
	return result, nil
}

func (t *Tracker) degraded(ep *registry.Endpoint, reasons []DegradationReason) {
	for _, reason := range reasons {
		if !t.dedup.Allow(dedupKey(ep.InstanceID, string(reason))) {
			t.log.Debugw("suppressing duplicate degraded event", "instanceId", ep.InstanceID, "reason", reason)
			continue
		}
		t.log.Infow("endpoint degraded", "instanceId", ep.InstanceID, "destination", ep.DestinationName, "reason", reason)
		t.publisher.Publish(eventbus.TopicEndpointDegraded, eventbus.EndpointDegraded{
			InstanceID:      ep.InstanceID,
			DestinationName: ep.DestinationName,
			Reason:          string(reason),
			LoadPercent:     ep.LoadPercent,
		})
	}
}

// HandleHeartbeatEvent refreshes the instance named by a heartbeat event,
// registering it first when the mesh has not seen it.
func (t *Tracker) HandleHeartbeatEvent(ctx context.Context, evt cloudevents.Event) error {
	var hb eventbus.Heartbeat
	if err := evt.DataAs(&hb); err != nil {
		return fmt.Errorf("decode heartbeat event %s: %w", evt.ID(), err)
	}
	if hb.InstanceID == "" {
		return fmt.Errorf("heartbeat event %s has no instance id", evt.ID())
	}

	update := registry.HeartbeatUpdate{
		Status:             registry.Status(hb.Status),
		LoadPercent:        hb.LoadPercent,
		CurrentConnections: hb.CurrentConnections,
		MaxConnections:     hb.MaxConnections,
		Issues:             hb.Issues,
	}
	_, err := t.Heartbeat(ctx, hb.InstanceID, update)
	if !errors.Is(err, mesherr.ErrEndpointNotFound) {
		return err
	}

	port := hb.Port
	if port == 0 {
		port = t.defaultPort
	}
	ep := registry.Endpoint{
		InstanceID:         hb.InstanceID,
		DestinationName:    hb.DestinationName,
		Host:               hb.Host,
		Port:               port,
		Status:             registry.Status(hb.Status),
		LoadPercent:        hb.LoadPercent,
		CurrentConnections: hb.CurrentConnections,
		MaxConnections:     hb.MaxConnections,
		ServicesOffered:    hb.ServicesOffered,
		Issues:             hb.Issues,
	}
	if _, _, err := t.registry.Register(ctx, ep, 0); err != nil {
		return fmt.Errorf("auto-register %s: %w", hb.InstanceID, err)
	}
	t.log.Infow("auto-registered endpoint from heartbeat", "instanceId", hb.InstanceID, "destination", hb.DestinationName)
	return nil
}

// Subscribe consumes heartbeat events until ctx is done.
func (t *Tracker) Subscribe(ctx context.Context, bus eventbus.Bus) (func(), error) {
	return bus.Subscribe(ctx, eventbus.TopicHeartbeat, t.HandleHeartbeatEvent)
}
