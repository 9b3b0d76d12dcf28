package execution

import (
	"context"
	"sync"

	"fleet-reports/internal/domain"
)

type trackerKey struct{}

// StatusTracker carries the cache status of the most recent Execute call made
// with its context. A boundary layer creates one per logical operation, so
// status never leaks between unrelated calls.
type StatusTracker struct {
	mu     sync.Mutex
	status domain.CacheStatus
}

// WithStatusTracker returns a child context carrying a fresh tracker.
func WithStatusTracker(ctx context.Context) (context.Context, *StatusTracker) {
	t := &StatusTracker{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

// TrackerFromContext returns the tracker stored in ctx, if any.
func TrackerFromContext(ctx context.Context) (*StatusTracker, bool) {
	t, ok := ctx.Value(trackerKey{}).(*StatusTracker)
	return t, ok
}

// Status returns the last recorded status, or "" when nothing ran.
func (t *StatusTracker) Status() domain.CacheStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Reset clears the recorded status.
func (t *StatusTracker) Reset() {
	t.mu.Lock()
	t.status = ""
	t.mu.Unlock()
}

func (t *StatusTracker) set(s domain.CacheStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func recordStatus(ctx context.Context, s domain.CacheStatus) {
	if t, ok := TrackerFromContext(ctx); ok {
		t.set(s)
	}
}
