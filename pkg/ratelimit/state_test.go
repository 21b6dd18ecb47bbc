package ratelimit

import (
	"testing"
	"time"
)

func TestState_NextAllowed(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    State
		expected time.Time
	}{
		{
			name:     "never called",
			state:    State{Interval: time.Second},
			expected: time.Time{},
		},
		{
			name:     "called just now",
			state:    State{LastCall: now, Interval: time.Second},
			expected: now.Add(time.Second),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NextAllowed(); !got.Equal(tt.expected) {
				t.Errorf("NextAllowed() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilNext(t *testing.T) {
	tests := []struct {
		name     string
		lastCall time.Time
		minWait  time.Duration
		maxWait  time.Duration
	}{
		{
			name:    "never called",
			minWait: 0,
			maxWait: 0,
		},
		{
			name:     "interval elapsed",
			lastCall: time.Now().Add(-2 * time.Second),
			minWait:  0,
			maxWait:  0,
		},
		{
			name:     "half interval elapsed",
			lastCall: time.Now().Add(-500 * time.Millisecond),
			minWait:  400 * time.Millisecond,
			maxWait:  500 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{LastCall: tt.lastCall, Interval: time.Second}
			got := s.TimeUntilNext()
			if got < tt.minWait || got > tt.maxWait {
				t.Errorf("TimeUntilNext() = %v, want between %v and %v", got, tt.minWait, tt.maxWait)
			}
		})
	}
}
