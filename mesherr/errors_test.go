package mesherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnavailableWrapsOnce(t *testing.T) {
	if Unavailable("get", nil) != nil {
		t.Fatal("expect nil for nil cause")
	}

	cause := errors.New("dial tcp: connection refused")
	err := Unavailable("get", cause)
	if !IsRegistryUnavailable(err) {
		t.Fatalf("expect RegistryUnavailableError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expect cause to be reachable through Unwrap")
	}

	again := Unavailable("heartbeat", fmt.Errorf("context: %w", err))
	var target *RegistryUnavailableError
	if !errors.As(again, &target) || target.Op != "get" {
		t.Fatalf("expect original op to be kept, got %v", again)
	}
}

func TestTaxonomyIsDistinct(t *testing.T) {
	errs := []error{
		&CircuitOpenError{Destination: "widgets"},
		&NoHealthyEndpointError{Destination: "widgets"},
		&TransientInvocationError{Destination: "widgets", StatusCode: 503, Attempts: 4},
		&RegistryUnavailableError{Op: "get", Cause: errors.New("down")},
	}
	checks := []func(error) bool{IsCircuitOpen, IsNoHealthyEndpoint, IsTransient, IsRegistryUnavailable}

	for i, err := range errs {
		for j, check := range checks {
			if got := check(err); got != (i == j) {
				t.Fatalf("check %d on error %d (%v): got %v", j, i, err, got)
			}
		}
	}
}
