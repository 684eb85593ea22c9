package server

import (
	"mini-mesh/registry"
)

type RegisterRequest struct {
	InstanceID      string   `json:"instanceId,omitempty"`
	DestinationName string   `json:"destinationName"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Status          string   `json:"status,omitempty"`
	LoadPercent     int      `json:"loadPercent"`
	MaxConnections  int      `json:"maxConnections"`
	ServicesOffered []string `json:"servicesOffered,omitempty"`
	// TTLSeconds overrides the configured endpoint TTL when positive.
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

type RegisterResponse struct {
	InstanceID               string `json:"instanceId"`
	TTLSeconds               int    `json:"ttlSeconds"`
	HeartbeatIntervalSeconds int    `json:"heartbeatIntervalSeconds"`
}

type DeregisterRequest struct {
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason,omitempty"`
}

type DeregisterResponse struct {
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
}

type HeartbeatRequest struct {
	InstanceID         string   `json:"instanceId"`
	Status             string   `json:"status,omitempty"`
	LoadPercent        int      `json:"loadPercent"`
	CurrentConnections int      `json:"currentConnections"`
	MaxConnections     int      `json:"maxConnections"`
	Issues             []string `json:"issues,omitempty"`
}

type HeartbeatResponse struct {
	Status               string   `json:"status"`
	Issues               []string `json:"issues,omitempty"`
	NextHeartbeatSeconds int      `json:"nextHeartbeatSeconds"`
	TTLSeconds           int      `json:"ttlSeconds"`
}

type GetEndpointsRequest struct {
	DestinationName string `json:"destinationName"`
	HealthyOnly     bool   `json:"healthyOnly"`
	Service         string `json:"service,omitempty"`
}

type GetEndpointsResponse struct {
	DestinationName string               `json:"destinationName"`
	Endpoints       []*registry.Endpoint `json:"endpoints"`
	HealthyCount    int                  `json:"healthyCount"`
	TotalCount      int                  `json:"totalCount"`
}

type ListEndpointsRequest struct {
	DestinationPrefix string `json:"destinationPrefix,omitempty"`
}

type ListEndpointsResponse struct {
	ByStatus   map[registry.Status][]*registry.Endpoint `json:"byStatus"`
	TotalCount int                                     `json:"totalCount"`
}

type RouteRequest struct {
	DestinationName string `json:"destinationName"`
	// Algorithm overrides the configured algorithm when set.
	Algorithm string `json:"algorithm,omitempty"`
}

type RouteResponse struct {
	DestinationName string               `json:"destinationName"`
	Algorithm       string               `json:"algorithm"`
	Primary         *registry.Endpoint   `json:"primary"`
	Alternates      []*registry.Endpoint `json:"alternates"`
	HealthyCount    int                  `json:"healthyCount"`
	TotalCount      int                  `json:"totalCount"`
	FellBack        bool                 `json:"fellBack"`
}

type MappingsResponse struct {
	Version            int64             `json:"version"`
	DefaultDestination string            `json:"defaultDestination"`
	Mappings           map[string]string `json:"mappings"`
}

type CircuitStatus struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

type HealthResponse struct {
	Status         string                   `json:"status"`
	InstanceID     string                   `json:"instanceId"`
	StoreConnected bool                     `json:"storeConnected"`
	StoreError     string                   `json:"storeError,omitempty"`
	EndpointCounts map[registry.Status]int  `json:"endpointCounts"`
	TotalEndpoints int                      `json:"totalEndpoints"`
	Circuits       map[string]CircuitStatus `json:"circuits"`
	MeshMembers    []string                 `json:"meshMembers,omitempty"`
	UptimeSeconds  int64                    `json:"uptimeSeconds"`
}

// ErrorResponse is the body of every non-2xx mesh API response.
type ErrorResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
