// Package mesherr defines the error taxonomy returned by the mesh.
//
// Every failure that reaches a caller of the invocation client is one of
// the four kinds below, so call sites can choose between retrying later,
// failing the user request, or queueing, without knowing which transport
// library produced the underlying error.
package mesherr

import (
	"errors"
	"fmt"
	"time"
)

// ErrEndpointNotFound is returned by registry lookups for an instance id
// with no live record.
var ErrEndpointNotFound = errors.New("endpoint not found")

// CircuitOpenError reports that the destination's breaker is tripped.
type CircuitOpenError struct {
	Destination string
	OpenedAt    time.Time
	RetryAfter  time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for destination %q (retry after %s)", e.Destination, e.RetryAfter)
}

// NoHealthyEndpointError reports that a destination has no known endpoints,
// even after falling back to the unfiltered list.
type NoHealthyEndpointError struct {
	Destination string
}

func (e *NoHealthyEndpointError) Error() string {
	return fmt.Sprintf("no endpoints available for destination %q", e.Destination)
}

// TransientInvocationError reports that every retry attempt failed with a
// transient outcome. StatusCode is the last HTTP status observed, or 0 when
// the last attempt failed before a response was received.
type TransientInvocationError struct {
	Destination string
	Method      string
	Attempts    int
	StatusCode  int
	Cause       error
}

func (e *TransientInvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("invoke %s/%s failed after %d attempts: last status %d", e.Destination, e.Method, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("invoke %s/%s failed after %d attempts: %v", e.Destination, e.Method, e.Attempts, e.Cause)
}

func (e *TransientInvocationError) Unwrap() error { return e.Cause }

// RegistryUnavailableError reports that the shared store could not be reached.
type RegistryUnavailableError struct {
	Op    string
	Cause error
}

func (e *RegistryUnavailableError) Error() string {
	return fmt.Sprintf("registry unavailable during %s: %v", e.Op, e.Cause)
}

func (e *RegistryUnavailableError) Unwrap() error { return e.Cause }

// Unavailable wraps a store error. It returns nil for a nil cause and
// passes through errors that are already a RegistryUnavailableError.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *RegistryUnavailableError
	if errors.As(cause, &existing) {
		return cause
	}
	return &RegistryUnavailableError{Op: op, Cause: cause}
}

// IsCircuitOpen reports whether err is or wraps a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsNoHealthyEndpoint reports whether err is or wraps a NoHealthyEndpointError.
func IsNoHealthyEndpoint(err error) bool {
	var target *NoHealthyEndpointError
	return errors.As(err, &target)
}

// IsTransient reports whether err is or wraps a TransientInvocationError.
func IsTransient(err error) bool {
	var target *TransientInvocationError
	return errors.As(err, &target)
}

// IsRegistryUnavailable reports whether err is or wraps a RegistryUnavailableError.
func IsRegistryUnavailable(err error) bool {
	var target *RegistryUnavailableError
	return errors.As(err, &target)
}
