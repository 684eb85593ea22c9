// Package registry keeps TTL-bounded records of every running endpoint.
//
// Store layout:
//
//	endpoint:{instanceId}            encoded Endpoint, TTL = endpoint TTL
//	destination-index:{destination}  set of instance ids
//	global-index                     set of every instance id
//
// Absence of the endpoint key is deregistration. Index members whose
// record has expired are pruned lazily on read.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusHealthy     Status = "Healthy"
	StatusDegraded    Status = "Degraded"
	StatusUnavailable Status = "Unavailable"
	StatusDraining    Status = "Draining"
)

var Statuses = []Status{StatusHealthy, StatusDegraded, StatusUnavailable, StatusDraining}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidEndpoint, s)
}

type DeregisterReason string

const (
	ReasonShutdown           DeregisterReason = "Shutdown"
	ReasonHealthCheckFailure DeregisterReason = "HealthCheckFailure"
	ReasonManual             DeregisterReason = "Manual"
	ReasonExpired            DeregisterReason = "Expired"
)

var DeregisterReasons = []DeregisterReason{ReasonShutdown, ReasonHealthCheckFailure, ReasonManual, ReasonExpired}

// ParseDeregisterReason maps a wire value to a reason; empty means Manual.
func ParseDeregisterReason(s string) (DeregisterReason, error) {
	if s == "" {
		return ReasonManual, nil
	}
	for _, r := range DeregisterReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown deregister reason %q", ErrInvalidEndpoint, s)
}

// ErrInvalidEndpoint is wrapped by validation failures.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is one running instance of one destination.
type Endpoint struct {
	InstanceID         string    `json:"instanceId"`
	DestinationName    string    `json:"destinationName"`
	Host               string    `json:"host"`
	Port               int       `json:"port"`
	Status             Status    `json:"status"`
	LoadPercent        int       `json:"loadPercent"`
	CurrentConnections int       `json:"currentConnections"`
	MaxConnections     int       `json:"maxConnections"`
	ServicesOffered    []string  `json:"servicesOffered,omitempty"`
	LastHeartbeatAt    time.Time `json:"lastHeartbeatAt"`
	RegisteredAt       time.Time `json:"registeredAt"`
	Issues             []string  `json:"issues,omitempty"`
}

func (e *Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e *Endpoint) Offers(service string) bool {
	return slices.Contains(e.ServicesOffered, service)
}

func (e *Endpoint) Validate() error {
	if e.DestinationName == "" {
		return fmt.Errorf("%w: destination name is required", ErrInvalidEndpoint)
	}
	if e.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	if e.Status != "" && !slices.Contains(Statuses, e.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEndpoint, e.Status)
	}
	if e.LoadPercent < 0 || e.LoadPercent > 100 {
		return fmt.Errorf("%w: load percent %d out of range", ErrInvalidEndpoint, e.LoadPercent)
	}
	return nil
}

// HeartbeatUpdate carries the self-reported fields refreshed by a heartbeat.
// An empty Status leaves the status as the caller assessed it (Healthy).
type HeartbeatUpdate struct {
	Status             Status   `json:"status,omitempty"`
	LoadPercent        int      `json:"loadPercent"`
	CurrentConnections int      `json:"currentConnections"`
	MaxConnections     int      `json:"maxConnections"`
	Issues             []string `json:"issues,omitempty"`
}

type HeartbeatResult struct {
	Endpoint      *Endpoint
	NextHeartbeat time.Duration
	TTL           time.Duration
}

// Filter narrows GetEndpoints.
type Filter struct {
	HealthyOnly bool
	Service     string
}

func (f Filter) matches(e *Endpoint) bool {
	if f.HealthyOnly && e.Status != StatusHealthy {
		return false
	}
	if f.Service != "" && !e.Offers(f.Service) {
		return false
	}
	return true
}

type EndpointList struct {
	Endpoints    []*Endpoint
	HealthyCount int
	TotalCount   int
}

// ListFilter narrows ListEndpoints.
type ListFilter struct {
	DestinationPrefix string
}

type Listing struct {
	ByStatus   map[Status][]*Endpoint
	TotalCount int
}
