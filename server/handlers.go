package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"mini-mesh/loadbalance"
	"mini-mesh/metrics"
	"mini-mesh/registry"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", errBadRequest, name)
	}
	return nil
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ep := registry.Endpoint{
		InstanceID:      req.InstanceID,
		DestinationName: req.DestinationName,
		Host:            req.Host,
		Port:            req.Port,
		LoadPercent:     req.LoadPercent,
		MaxConnections:  req.MaxConnections,
		ServicesOffered: req.ServicesOffered,
	}
	if req.Status != "" {
		status, err := registry.ParseStatus(req.Status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ep.Status = status
	}

	registered, ttl, err := s.registry.Register(r.Context(), ep, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterResponse{
		InstanceID:               registered.InstanceID,
		TTLSeconds:               seconds(ttl),
		HeartbeatIntervalSeconds: seconds(s.registry.HeartbeatInterval()),
	})
}

func (s *Server) deregister(w http.ResponseWriter, r *http.Request) {
	var req DeregisterRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := required("instanceId", req.InstanceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	reason, err := registry.ParseDeregisterReason(req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.Deregister(r.Context(), req.InstanceID, reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeregisterResponse{InstanceID: req.InstanceID, Reason: string(reason)})
}

// heartbeat goes through the tracker so that degradation is assessed. An
// unknown instance is 404; the caller is expected to register again.
func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := required("instanceId", req.InstanceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	update := registry.HeartbeatUpdate{
		LoadPercent:        req.LoadPercent,
		CurrentConnections: req.CurrentConnections,
		MaxConnections:     req.MaxConnections,
		Issues:             req.Issues,
	}
	if req.Status != "" {
		status, err := registry.ParseStatus(req.Status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		update.Status = status
	}

	result, err := s.tracker.Heartbeat(r.Context(), req.InstanceID, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HeartbeatResponse{
		Status:               string(result.Endpoint.Status),
		Issues:               result.Endpoint.Issues,
		NextHeartbeatSeconds: seconds(result.NextHeartbeat),
		TTLSeconds:           seconds(result.TTL),
	})
}

func (s *Server) getEndpoints(w http.ResponseWriter, r *http.Request) {
	var req GetEndpointsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := required("destinationName", req.DestinationName); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.registry.GetEndpoints(r.Context(), req.DestinationName, registry.Filter{
		HealthyOnly: req.HealthyOnly,
		Service:     req.Service,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GetEndpointsResponse{
		DestinationName: req.DestinationName,
		Endpoints:       list.Endpoints,
		HealthyCount:    list.HealthyCount,
		TotalCount:      list.TotalCount,
	})
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	var req ListEndpointsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	listing, err := s.registry.ListEndpoints(r.Context(), registry.ListFilter{DestinationPrefix: req.DestinationPrefix})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListEndpointsResponse{ByStatus: listing.ByStatus, TotalCount: listing.TotalCount})
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := required("destinationName", req.DestinationName); err != nil {
		s.writeError(w, r, err)
		return
	}
	alg := s.resolver.DefaultAlgorithm()
	if req.Algorithm != "" {
		parsed, err := loadbalance.ParseAlgorithm(req.Algorithm)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		alg = parsed
	}

	route, err := s.resolver.Route(r.Context(), req.DestinationName, alg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RouteResponse{
		DestinationName: route.Destination,
		Algorithm:       route.Algorithm.String(),
		Primary:         route.Primary,
		Alternates:      route.Alternates,
		HealthyCount:    route.HealthyCount,
		TotalCount:      route.TotalCount,
		FellBack:        route.FellBack,
	})
}

func (s *Server) mappings(w http.ResponseWriter, r *http.Request) {
	version, mappings := s.table.Snapshot()
	writeJSON(w, http.StatusOK, MappingsResponse{
		Version:            version,
		DefaultDestination: s.table.DefaultDestination(),
		Mappings:           mappings,
	})
}

// health reports the mesh's own view. A store outage is reported in the
// body with status Degraded; the response is still 200 so that a liveness
// probe does not restart every mesh instance while the store is down.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:         "Healthy",
		InstanceID:     s.instanceID,
		StoreConnected: true,
		EndpointCounts: make(map[registry.Status]int, len(registry.Statuses)),
		Circuits:       make(map[string]CircuitStatus),
		UptimeSeconds:  int64(s.clock.Since(s.started) / time.Second),
	}
	for _, st := range registry.Statuses {
		resp.EndpointCounts[st] = 0
	}

	if err := s.registry.Ping(ctx); err != nil {
		resp.Status = "Degraded"
		resp.StoreConnected = false
		resp.StoreError = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if listing, err := s.registry.ListEndpoints(ctx, registry.ListFilter{}); err != nil {
		s.log.Warnw("health: failed to list endpoints", "error", err)
		resp.Status = "Degraded"
	} else {
		for st, eps := range listing.ByStatus {
			resp.EndpointCounts[st] = len(eps)
		}
		resp.TotalEndpoints = listing.TotalCount
	}
	for st, n := range resp.EndpointCounts {
		metrics.SetEndpoints(string(st), float64(n))
	}

	if states, err := s.breaker.Snapshot(ctx); err != nil {
		s.log.Warnw("health: failed to read circuit states", "error", err)
		resp.Status = "Degraded"
	} else {
		for _, ds := range states {
			resp.Circuits[ds.Destination] = CircuitStatus{
				State:               string(ds.Record.State),
				ConsecutiveFailures: ds.Record.ConsecutiveFailures,
			}
		}
	}

	if s.membership != nil {
		resp.MeshMembers = s.membership.Members()
		sort.Strings(resp.MeshMembers)
	}
	writeJSON(w, http.StatusOK, resp)
}
