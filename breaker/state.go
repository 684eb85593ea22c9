package breaker

import "time"

type State string

const (
	StateClosed   State = "Closed"
	StateOpen     State = "Open"
	StateHalfOpen State = "HalfOpen"
)

// gauge is the metrics encoding of a state.
func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Record is the authoritative circuit state of one destination, as kept in
// the shared store.
type Record struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
	// ProbeStartedAt is when the current half-open probe was claimed.
	ProbeStartedAt time.Time `json:"probeStartedAt,omitempty"`
}

func closedRecord() Record {
	return Record{State: StateClosed}
}

// DestinationState pairs a destination with its record.
type DestinationState struct {
	Destination string `json:"destinationName"`
	Record
}
