package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent is returned when a LogEvent violates its invariants.
	ErrInvalidEvent = errors.New("invalid log event")
	// ErrEncoding marks an event that could not be serialized. Never retried.
	ErrEncoding = errors.New("encoding error")
	// ErrDecode marks a payload that could not be turned back into a LogEvent.
	ErrDecode = errors.New("decode error")
	// ErrConnection marks a broker or store that cannot be reached.
	ErrConnection = errors.New("connection error")
	// ErrBrokerFull marks a broker that refused the write for now (queue full, leader
	// election, not enough replicas).
	ErrBrokerFull = errors.New("broker full")
	// ErrSink is the generic handler-level failure.
	ErrSink = errors.New("sink error")
	// ErrPersist is the store-specific sink failure. It wraps ErrSink.
	ErrPersist = fmt.Errorf("%w: persist", ErrSink)
	// ErrConstraint marks a write rejected by the store's integrity rules.
	ErrConstraint = errors.New("constraint violation")
	// ErrTransientIO marks a store failure that may succeed on retry.
	ErrTransientIO = errors.New("transient io error")
)

// IsRetryable reports whether err belongs to a transient class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEncoding) || errors.Is(err, ErrDecode) || errors.Is(err, ErrConstraint) {
		return false
	}
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrBrokerFull) ||
		errors.Is(err, ErrTransientIO) ||
		errors.Is(err, context.DeadlineExceeded)
}
