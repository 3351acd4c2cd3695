// Package coreerr defines the closed error taxonomy shared by the exchange
// client, execution engine, and orchestrator (spec §7).
package coreerr

import "fmt"

// Kind classifies an error for retry/propagation decisions.
type Kind string

const (
	KindConfig          Kind = "CONFIG"           // missing venue credentials; fatal at startup
	KindNetwork         Kind = "NETWORK"          // transport-level; retryable
	KindRateLimit       Kind = "RATE_LIMIT"       // rate limiter starved past configured wait; retryable
	KindBreakerOpen     Kind = "BREAKER_OPEN"     // circuit breaker short-circuit
	KindValidation      Kind = "VALIDATION"       // size/symbol/depth/spread/cooldown/churn; non-retryable
	KindInsufficientMargin Kind = "INSUFFICIENT_MARGIN"
	KindOverfill        Kind = "OVERFILL"
	KindUnknownOrderState Kind = "UNKNOWN_ORDER_STATE"
	KindStage           Kind = "STAGE"
)

// Error wraps an underlying cause with a Kind so callers can classify
// without type-switching on concrete Go error types.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error without an underlying cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap tags an underlying error with a Kind.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Retryable reports whether the error kind should be retried by a caller
// using exponential backoff (spec §4.5/§7).
func Retryable(err error) bool {
	var ce *Error
	if !asError(err, &ce) {
		return false
	}
	switch ce.Kind {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
