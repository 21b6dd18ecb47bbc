package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pacing and cancellation.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inat_throttle_wait_seconds",
		Help:    "Time calls spent waiting for the pacing interval",
		Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	cancelRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inat_cancel_requests_total",
		Help: "Total number of cancellation requests",
	})

	cancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inat_cancellations_total",
		Help: "Total number of calls aborted by a pending cancellation",
	})
)

// Limiter serializes calls so that no two start less than Interval apart,
// and holds a one-shot cancellation flag.
//
// Cancellation is cooperative: Cancel only sets the flag, and the flag is
// observed (and cleared) by the next CheckCancelled. A call that is already
// on the wire is never interrupted.
type Limiter struct {
	interval time.Duration
	logger   zerolog.Logger

	// gate serializes Throttle callers for the whole wait.
	gate sync.Mutex

	mu              sync.Mutex
	lastCall        time.Time
	cancelRequested bool
}

// NewLimiter creates a limiter. A non-positive interval uses DefaultInterval.
func NewLimiter(interval time.Duration, logger zerolog.Logger) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Limiter{
		interval: interval,
		logger:   logger,
	}
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Cancel sets or clears the pending cancellation flag.
func (l *Limiter) Cancel(flag bool) {
	l.mu.Lock()
	l.cancelRequested = flag
	l.mu.Unlock()

	if flag {
		cancelRequestsTotal.Inc()
		l.logger.Debug().Msg("Cancellation requested")
	}
}

// CheckCancelled returns ErrCancelled and clears the flag if a cancellation
// is pending. Otherwise it returns nil.
func (l *Limiter) CheckCancelled() error {
	l.mu.Lock()
	pending := l.cancelRequested
	l.cancelRequested = false
	l.mu.Unlock()

	if pending {
		cancellationsTotal.Inc()
		l.logger.Info().Msg("Query cancelled")
		return ErrCancelled
	}
	return nil
}

// Throttle checks for cancellation, then blocks until Interval has elapsed
// since the previous call and records the new call time. It returns
// ctx.Err() if the context ends while waiting.
func (l *Limiter) Throttle(ctx context.Context) error {
	if err := l.CheckCancelled(); err != nil {
		return err
	}

	l.gate.Lock()
	defer l.gate.Unlock()

	var waited time.Duration
	for {
		wait := l.State().TimeUntilNext()
		if wait <= 0 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		waited += wait
	}

	if waited > 0 {
		throttleWaitSeconds.Observe(waited.Seconds())
		l.logger.Debug().Dur("waited", waited).Msg("Throttled call")
	}

	l.touch()
	return nil
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		LastCall:        l.lastCall,
		Interval:        l.interval,
		CancelRequested: l.cancelRequested,
	}
}

func (l *Limiter) touch() {
	l.mu.Lock()
	l.lastCall = time.Now()
	l.mu.Unlock()
}

// Transport wraps next so that the recorded call time is refreshed at the
// moment each request is handed to the network. Spacing is then measured
// between actual request starts, not between Throttle returns.
func (l *Limiter) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &pacedTransport{limiter: l, next: next}
}

type pacedTransport struct {
	limiter *Limiter
	next    http.RoundTripper
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.limiter.touch()
	return t.next.RoundTrip(req)
}
