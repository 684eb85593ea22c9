// Package server exposes the mesh API over HTTP.
//
// Every /mesh route takes a JSON body by POST; /mesh/health also answers
// GET so it can back a container probe, and /metrics serves Prometheus.
// Errors are returned as {"code","reason"} with a status derived from the
// mesherr taxonomy.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"mini-mesh/breaker"
	"mini-mesh/config"
	"mini-mesh/health"
	"mini-mesh/logger"
	"mini-mesh/metrics"
	"mini-mesh/middleware"
	"mini-mesh/registry"
	"mini-mesh/routing"
)

// Options are the components the API serves.
type Options struct {
	InstanceID string
	Registry   *registry.Registry
	Tracker    *health.Tracker
	Resolver   *routing.Resolver
	Table      *routing.Table
	Breaker    *breaker.Breaker
	// Membership is optional; when set /mesh/health lists mesh members.
	Membership *health.Membership
	Clock      clock.PassiveClock
}

type Server struct {
	cfg        *config.HTTPServerConfig
	instanceID string
	registry   *registry.Registry
	tracker    *health.Tracker
	resolver   *routing.Resolver
	table      *routing.Table
	breaker    *breaker.Breaker
	membership *health.Membership
	clock      clock.PassiveClock
	started    time.Time
	log        *zap.SugaredLogger

	handler    http.Handler
	httpServer *http.Server
	shutdown   atomic.Bool
}

func New(cfg *config.HTTPServerConfig, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	metrics.Init()
	s := &Server{
		cfg:        cfg,
		instanceID: opts.InstanceID,
		registry:   opts.Registry,
		tracker:    opts.Tracker,
		resolver:   opts.Resolver,
		table:      opts.Table,
		breaker:    opts.Breaker,
		membership: opts.Membership,
		clock:      opts.Clock,
		started:    opts.Clock.Now(),
		log:        logger.GetLogger().Named("server"),
	}
	s.handler = s.buildHandler()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort("", cfg.BindPort),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(middleware.Metrics()))

	api := router.PathPrefix("/mesh").Subrouter()
	api.HandleFunc("/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/deregister", s.deregister).Methods(http.MethodPost)
	api.HandleFunc("/heartbeat", s.heartbeat).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/get", s.getEndpoints).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/list", s.listEndpoints).Methods(http.MethodPost)
	api.HandleFunc("/route", s.route).Methods(http.MethodPost)
	api.HandleFunc("/mappings", s.mappings).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/health", s.health).Methods(http.MethodPost, http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return router
}

// recoveryLogger adapts zap to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	log *zap.SugaredLogger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error(v...)
}

func (s *Server) buildHandler() http.Handler {
	chain := []middleware.Middleware{middleware.Logging(s.log)}
	if s.cfg.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(s.cfg.RateLimit, s.cfg.RateLimitBurst))
	}
	if s.cfg.HandlerTimeout > 0 {
		chain = append(chain, middleware.Timeout(s.cfg.HandlerTimeout))
	}
	h := middleware.Chain(chain...)(s.routes())
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: s.log}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

// Handler is the full middleware-wrapped API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Infow("mesh API listening", "address", l.Addr().String())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) && s.shutdown.Load() {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured bind port.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends. Deregistering this instance is the caller's job and
// should happen first, so that peers stop routing here before the
// listener closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
	}
	return nil
}
