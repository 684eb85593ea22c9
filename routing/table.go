package routing

import (
	"context"
	"fmt"
	"maps"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"

	"mini-mesh/eventbus"
	"mini-mesh/logger"
)

// Table maps logical service names to destination names. It is replaced
// wholesale by snapshot events; services with no mapping resolve to the
// default destination.
type Table struct {
	defaultDestination string
	log                *zap.SugaredLogger

	mu       sync.RWMutex
	version  int64
	mappings map[string]string
}

func NewTable(defaultDestination string) *Table {
	return &Table{
		defaultDestination: defaultDestination,
		mappings:           map[string]string{},
		log:                logger.GetLogger().Named("mappings"),
	}
}

func (t *Table) DefaultDestination() string {
	return t.defaultDestination
}

func (t *Table) Resolve(service string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if dest, ok := t.mappings[service]; ok {
		return dest
	}
	return t.defaultDestination
}

// Snapshot returns a copy of the current table and its version.
func (t *Table) Snapshot() (int64, map[string]string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version, maps.Clone(t.mappings)
}

// Apply replaces the table. Non-empty snapshots older than the current
// version are ignored. An empty snapshot always resets the table, so every
// service routes to the default destination again.
func (t *Table) Apply(snapshot eventbus.MappingsSnapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(snapshot.Mappings) == 0 {
		t.mappings = map[string]string{}
		t.version = snapshot.Version
		t.log.Infow("mappings reset to default destination", "version", snapshot.Version, "default", t.defaultDestination)
		return true
	}
	if snapshot.Version < t.version {
		t.log.Debugw("ignoring stale mappings snapshot", "version", snapshot.Version, "current", t.version)
		return false
	}
	t.mappings = maps.Clone(snapshot.Mappings)
	t.version = snapshot.Version
	t.log.Infow("mappings replaced", "version", snapshot.Version, "services", len(snapshot.Mappings))
	return true
}

func (t *Table) HandleEvent(_ context.Context, evt cloudevents.Event) error {
	var snapshot eventbus.MappingsSnapshot
	if err := evt.DataAs(&snapshot); err != nil {
		return fmt.Errorf("decode mappings snapshot %s: %w", evt.ID(), err)
	}
	t.Apply(snapshot)
	return nil
}

func (t *Table) Subscribe(ctx context.Context, bus eventbus.Bus) (func(), error) {
	return bus.Subscribe(ctx, eventbus.TopicMappingsSnapshot, t.HandleEvent)
}
