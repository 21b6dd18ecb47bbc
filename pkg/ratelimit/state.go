// Package ratelimit paces outbound iNaturalist API calls to one per fixed
// interval and carries the cooperative cancellation flag checked before each
// call.
package ratelimit

import (
	"errors"
	"time"
)

// DefaultInterval is the minimum spacing between two calls from one client.
const DefaultInterval = 1000 * time.Millisecond

// ErrCancelled is returned by the first check point that observes a pending
// cancellation request.
var ErrCancelled = errors.New("query cancelled")

// State is a point-in-time snapshot of a Limiter.
type State struct {
	// LastCall is when the previous call was released. Zero before the first call.
	LastCall time.Time `json:"last_call"`

	// Interval is the configured minimum spacing.
	Interval time.Duration `json:"interval"`

	// CancelRequested is true while a cancellation is pending.
	CancelRequested bool `json:"cancel_requested"`
}

// NextAllowed returns the earliest time the next call may start.
func (s State) NextAllowed() time.Time {
	if s.LastCall.IsZero() {
		return time.Time{}
	}
	return s.LastCall.Add(s.Interval)
}

// TimeUntilNext returns how long a call made now would wait.
// Returns 0 if no wait is needed.
func (s State) TimeUntilNext() time.Duration {
	next := s.NextAllowed()
	if next.IsZero() {
		return 0
	}
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}
