package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mini-mesh/loadbalance"
	"mini-mesh/mesherr"
	"mini-mesh/registry"
)

// errBadRequest wraps request decoding failures.
var errBadRequest = errors.New("bad request")

// classify maps an error to its HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, registry.ErrInvalidEndpoint), errors.Is(err, loadbalance.ErrUnknownAlgorithm):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, mesherr.ErrEndpointNotFound):
		return http.StatusNotFound, "EndpointNotFound"
	case mesherr.IsNoHealthyEndpoint(err):
		return http.StatusNotFound, "NoHealthyEndpoint"
	case mesherr.IsCircuitOpen(err):
		return http.StatusServiceUnavailable, "CircuitOpen"
	case mesherr.IsRegistryUnavailable(err):
		return http.StatusServiceUnavailable, "RegistryUnavailable"
	case mesherr.IsTransient(err):
		return http.StatusBadGateway, "TransientInvocation"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= 500 {
		s.log.Errorw("request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		s.log.Debugw("request rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Code: code, Reason: err.Error()})
}
