package servecmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/breaker"
	"mini-mesh/codec"
	"mini-mesh/config"
	"mini-mesh/eventbus"
	"mini-mesh/health"
	"mini-mesh/loadbalance"
	"mini-mesh/logger"
	"mini-mesh/registry"
	"mini-mesh/routing"
	"mini-mesh/server"
	"mini-mesh/store"
	"mini-mesh/transport"
)

// selfDestination is the destination every meshd instance announces itself under.
const selfDestination = "mesh"

// mesh is one wired meshd instance.
type mesh struct {
	cfg        *config.MeshConfig
	instanceID string
	clock      clock.WithTicker
	log        *zap.SugaredLogger

	store      store.Store
	busStore   store.Store
	bus        eventbus.Bus
	publisher  *eventbus.Publisher
	pool       *transport.Pool
	registry   *registry.Registry
	tracker    *health.Tracker
	membership *health.Membership
	prober     *health.Prober
	table      *routing.Table
	breaker    *breaker.Breaker
	server     *server.Server

	unsubscribe []func()
}

func openStore(cfg *config.StoreConfig, prefix string, clk clock.PassiveClock) (store.Store, error) {
	if cfg.Store == "etcd" {
		es, err := store.DialEtcd(cfg.EtcdEndpoints, cfg.DialTimeout, prefix)
		if err != nil {
			return nil, err
		}
		return es, nil
	}
	return store.NewMemoryStore(clk), nil
}

// openBus shares the etcd client of an etcd store. When only the bus is on
// etcd it dials its own client, returned so that it can be closed.
func openBus(cfg *config.StoreConfig, prefix string, s store.Store) (eventbus.Bus, store.Store, error) {
	if cfg.EventBus != "etcd" {
		return eventbus.NewMemoryBus(), nil, nil
	}
	if es, ok := s.(*store.EtcdStore); ok {
		return eventbus.NewEtcdBus(es.Client(), prefix, cfg.EventTTL()), nil, nil
	}
	es, err := store.DialEtcd(cfg.EtcdEndpoints, cfg.DialTimeout, prefix)
	if err != nil {
		return nil, nil, err
	}
	return eventbus.NewEtcdBus(es.Client(), prefix, cfg.EventTTL()), es, nil
}

// build wires every component but starts nothing. A nil clock means the
// real clock.
func build(cfg *config.MeshConfig, clk clock.WithTicker) (_ *mesh, err error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &mesh{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		clock:      clk,
		log:        logger.GetLogger().Named("meshd"),
	}
	defer func() {
		if err != nil {
			m.close()
		}
	}()

	recordCodec, err := codec.ParseCodec(cfg.Store.Codec)
	if err != nil {
		return nil, err
	}
	if m.store, err = openStore(cfg.Store, cfg.Registry.KeyPrefix, clk); err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Store, err)
	}
	if m.bus, m.busStore, err = openBus(cfg.Store, cfg.Registry.KeyPrefix, m.store); err != nil {
		return nil, fmt.Errorf("failed to open %s event bus: %w", cfg.Store.EventBus, err)
	}
	m.publisher = eventbus.NewPublisher(m.bus, m.instanceID, 0)

	if m.pool, err = transport.NewPool(cfg.Invocation, clk); err != nil {
		return nil, err
	}

	m.registry = registry.New(m.store, recordCodec, m.publisher, clk, cfg.Registry)
	m.tracker = health.NewTracker(m.registry, m.publisher, clk, cfg.Health, cfg.Registry.DefaultPort)

	var owner health.Owner
	if cfg.Health.MembershipEnabled {
		m.membership = health.NewMembership(m.instanceID, m.store, clk, cfg.Health.MembershipPulse())
		owner = m.membership
	}
	if cfg.Health.HealthCheckEnabled {
		probeClient := &http.Client{Transport: m.pool.Transport()}
		m.prober = health.NewProber(m.registry, m.publisher, m.tracker.Deduper(), probeClient, clk, cfg.Health, owner)
	}

	resolver, err := routing.NewResolver(m.registry, loadbalance.New(nil, nil), cfg.LoadBalancer, cfg.Health)
	if err != nil {
		return nil, err
	}
	m.table = routing.NewTable(cfg.Invocation.DefaultDestination)
	m.breaker = breaker.New(m.store, recordCodec, m.publisher, clk, cfg.Breaker, m.instanceID)

	opts := server.Options{
		InstanceID: m.instanceID,
		Registry:   m.registry,
		Tracker:    m.tracker,
		Resolver:   resolver,
		Table:      m.table,
		Breaker:    m.breaker,
		Membership: m.membership,
		Clock:      clk,
	}
	m.server = server.New(cfg.HTTPServer, opts)
	return m, nil
}

// subscribe attaches the event consumers. The subscriptions end with ctx.
func (m *mesh) subscribe(ctx context.Context) error {
	subscribers := []func(context.Context, eventbus.Bus) (func(), error){
		m.tracker.Subscribe,
		m.table.Subscribe,
		m.breaker.Subscribe,
	}
	for _, sub := range subscribers {
		cancel, err := sub(ctx, m.bus)
		if err != nil {
			return err
		}
		m.unsubscribe = append(m.unsubscribe, cancel)
	}
	return nil
}

// run serves the API on l and runs the background loops until ctx is done
// or serving fails. On the way out the instance deregisters itself before
// the listener closes, so peers stop routing here first.
func (m *mesh) run(ctx context.Context, l net.Listener) error {
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()
	if err := m.subscribe(loopCtx); err != nil {
		return fmt.Errorf("failed to subscribe to the event bus: %w", err)
	}

	var wg sync.WaitGroup
	start := func(loop func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(loopCtx)
		}()
	}
	start(m.pool.Run)
	if m.membership != nil {
		start(m.membership.Run)
	}
	if m.prober != nil {
		start(m.prober.Run)
	}

	port := 0
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	announcer := registry.NewAnnouncer(m.registry, m.clock, registry.Endpoint{
		InstanceID:      m.instanceID,
		DestinationName: selfDestination,
		Host:            m.cfg.HTTPServer.Hostname,
		Port:            port,
	}, nil)
	announceCtx, stopAnnouncing := context.WithCancel(context.Background())
	defer stopAnnouncing()
	announced := make(chan struct{})
	go func() {
		defer close(announced)
		announcer.Run(announceCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- m.server.Serve(l)
	}()
	m.log.Infow("meshd started", "instanceId", m.instanceID, "store", m.cfg.Store.Store, "eventBus", m.cfg.Store.EventBus)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		m.log.Errorw("mesh API stopped serving", "error", err)
	}

	stopAnnouncing()
	<-announced

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.HTTPServer.ShutdownTimeout)
	defer cancel()
	if serr := m.server.Shutdown(shutdownCtx); serr != nil {
		m.log.Errorw("failed to shut down the mesh API", "error", serr)
		err = errors.Join(err, serr)
	}

	stopLoops()
	wg.Wait()
	m.log.Infow("meshd stopped", "instanceId", m.instanceID)
	return err
}

// close releases the bus and the store. Safe on a partially built mesh.
func (m *mesh) close() {
	for _, cancel := range m.unsubscribe {
		cancel()
	}
	m.unsubscribe = nil
	if m.publisher != nil {
		m.publisher.Close()
	}
	if m.pool != nil {
		m.pool.Close()
	}
	if m.bus != nil {
		if err := m.bus.Close(); err != nil {
			m.log.Warnw("failed to close the event bus", "error", err)
		}
	}
	for _, s := range []store.Store{m.busStore, m.store} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			m.log.Warnw("failed to close the store", "error", err)
		}
	}
}
