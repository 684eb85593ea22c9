package eventbus

import "time"

type EndpointRegistered struct {
	InstanceID      string   `json:"instanceId"`
	DestinationName string   `json:"destinationName"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ServicesOffered []string `json:"servicesOffered,omitempty"`
}

type EndpointDeregistered struct {
	InstanceID      string `json:"instanceId"`
	DestinationName string `json:"destinationName"`
	Reason          string `json:"reason"`
}

type EndpointDegraded struct {
	InstanceID      string `json:"instanceId"`
	DestinationName string `json:"destinationName"`
	Reason          string `json:"reason"`
	LoadPercent     int    `json:"loadPercent"`
}

type EndpointHealthFailed struct {
	InstanceID          string `json:"instanceId"`
	DestinationName     string `json:"destinationName"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	Error               string `json:"error"`
}

type CircuitChanged struct {
	DestinationName     string    `json:"destinationName"`
	OldState            string    `json:"oldState"`
	NewState            string    `json:"newState"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
}

// Heartbeat is announced by an instance through the orchestration layer.
// Port zero means the configured default port.
type Heartbeat struct {
	InstanceID         string   `json:"instanceId"`
	DestinationName    string   `json:"destinationName"`
	Host               string   `json:"host"`
	Port               int      `json:"port,omitempty"`
	Status             string   `json:"status,omitempty"`
	LoadPercent        int      `json:"loadPercent"`
	CurrentConnections int      `json:"currentConnections"`
	MaxConnections     int      `json:"maxConnections"`
	ServicesOffered    []string `json:"servicesOffered,omitempty"`
	Issues             []string `json:"issues,omitempty"`
}

// MappingsSnapshot replaces the whole service to destination table.
type MappingsSnapshot struct {
	Version  int64             `json:"version"`
	Mappings map[string]string `json:"mappings"`
}
