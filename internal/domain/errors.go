package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNoCredential    = errors.New("no credential for venue")
	ErrNoRiskLimit     = errors.New("no risk limits configured")
	ErrTraderExists    = errors.New("auto trader already running for user")
	ErrLockHeld        = errors.New("lock already held")
	ErrEngineStopped   = errors.New("engine not running")
	ErrContextDone     = errors.New("context cancelled")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPosition = errors.New("position not closeable")
)

// RiskCheckError aborts an execution before any order is placed. It is a
// clean refusal, not a fault; callers surface the reason verbatim.
type RiskCheckError struct {
	Reason string
}

func (e *RiskCheckError) Error() string {
	return "risk check failed: " + e.Reason
}

// RiskCheckFailed builds a RiskCheckError with a formatted reason.
func RiskCheckFailed(format string, args ...any) error {
	return &RiskCheckError{Reason: fmt.Sprintf(format, args...)}
}

// VenueErrorKind classifies an order submission failure reported by a venue.
type VenueErrorKind string

const (
	VenueErrInsufficientFunds VenueErrorKind = "insufficient_funds"
	VenueErrInvalidOrder      VenueErrorKind = "invalid_order"
	VenueErrExchange          VenueErrorKind = "exchange_error"
)

// VenueError is a per-leg submission failure. Execution of the remaining
// legs continues; the failed leg's order records the message.
type VenueError struct {
	Venue   string
	Kind    VenueErrorKind
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

// OrderStatusFor maps the failure class onto the terminal order status:
// the venue understood and refused insufficient-funds and invalid orders,
// anything else is a fault on our side of the fence.
func (e *VenueError) OrderStatusFor() OrderStatus {
	switch e.Kind {
	case VenueErrInsufficientFunds, VenueErrInvalidOrder:
		return OrderStatusRejected
	default:
		return OrderStatusFailed
	}
}
