package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrderParams marks a caller error: bad side, quantity, or
	// price. Never retried and never sent to the exchange.
	ErrInvalidOrderParams = errors.New("invalid order parameters")

	// ErrPriceUnavailable means neither the stream cache nor a direct
	// connector query could produce a price. The evaluation tick for that
	// pair is skipped and retried on the next cycle.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInconsistentFill means a fill would push the book into a state the
	// engine's risk model does not allow (e.g. net short on a long-only
	// book). It halts the pair until manually reconciled.
	ErrInconsistentFill = errors.New("inconsistent fill")

	// ErrOrderRejected marks a venue rejection of a well-formed order
	// (insufficient funds, product halted). Always permanent; the order
	// lands in the rejected state rather than failed.
	ErrOrderRejected = errors.New("order rejected by venue")

	// ErrConnectionLost signals the streaming transport dropped; the stream
	// manager reconnects and does not propagate it further.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotFound is the generic store/cache miss.
	ErrNotFound = errors.New("not found")

	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderTerminal is reported when cancelling an order that already
	// reached a terminal state.
	ErrOrderTerminal = errors.New("order already terminal")
)

// ExchangeError wraps a connector failure with a transience classification.
// Transient failures (timeouts, rate limits, 5xx responses) are retried per
// the retry policy; permanent failures (bad symbol, insufficient balance)
// short-circuit to a failed order.
type ExchangeError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExchangeError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("exchange %s (%s): %v", e.Op, kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable exchange failure.
func Transient(op string, err error) error {
	return &ExchangeError{Op: op, Transient: true, Err: err}
}

// Permanent wraps err as a non-retryable exchange failure.
func Permanent(op string, err error) error {
	return &ExchangeError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient exchange error.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return false
}

// RiskRejectedError carries the first failing risk check. The candidate was
// never submitted to the exchange.
type RiskRejectedError struct {
	Reason string
	Detail string
}

func (e *RiskRejectedError) Error() string {
	if e.Detail == "" {
		return "risk rejected: " + e.Reason
	}
	return fmt.Sprintf("risk rejected: %s (%s)", e.Reason, e.Detail)
}

// RiskReason extracts the rejection reason from err, or "" if err is not a
// risk rejection.
func RiskReason(err error) string {
	var re *RiskRejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
