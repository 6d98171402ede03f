package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidObservation marks an observation rejected by normalization.
	// The observation is dropped; the cycle continues.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrUpstreamUnavailable marks a failed or timed-out external lookup.
	// The cycle runs in degraded mode.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInconsistentMergeState marks a merge that would have broken a store
	// invariant. The affected event keeps its last-known-good state.
	ErrInconsistentMergeState = errors.New("inconsistent merge state")

	// ErrEventNotFound is returned for unknown fire event ids.
	ErrEventNotFound = errors.New("fire event not found")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidObservation, fmt.Sprintf(format, args...))
}
