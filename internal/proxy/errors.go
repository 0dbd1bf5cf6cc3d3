package proxy

import (
	"fmt"
	"time"

	"github.com/docufort/ragproxy/internal/breaker"
)

// Stable machine-readable error codes surfaced at the API boundary.
const (
	CodeValidation     = "validation_error"
	CodeExternal       = "external_service_error"
	CodeUnavailable    = "service_unavailable"
	CodeReconciliation = "reconciliation_error"
)

// ValidationError: bad caller input, detected before any I/O. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExternalError: the upstream was reachable but returned a failure.
// StatusCode is zero when the failure was not an HTTP response.
type ExternalError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ExternalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Service, e.Message)
}

// UnavailableError: the breaker is open or the call timed out. One unified
// shape regardless of which upstream tripped, so the API boundary renders a
// single consistent "try again in N seconds" response.
type UnavailableError struct {
	Service    string
	Reason     string // "circuit_open" or "timeout"
	RetryAfter time.Duration
	Breaker    breaker.Snapshot
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable (%s), retry after %s", e.Service, e.Reason, e.RetryAfter)
}

// fromOutcome converts a non-success breaker outcome into the taxonomy.
func fromOutcome(service string, out breaker.Outcome) error {
	switch out.Kind {
	case breaker.Rejected:
		return &UnavailableError{
			Service:    service,
			Reason:     "circuit_open",
			RetryAfter: out.Snapshot.RetryAfter,
			Breaker:    out.Snapshot,
		}
	case breaker.TimedOut:
		return &UnavailableError{
			Service:    service,
			Reason:     "timeout",
			RetryAfter: out.Snapshot.RetryAfter,
			Breaker:    out.Snapshot,
		}
	default:
		return out.Err
	}
}
