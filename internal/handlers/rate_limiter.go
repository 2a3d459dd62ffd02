package handlers

import (
	"sync"
	"time"
)

// testRunLimiter caps test runs per automation, since a test run can call merchant webhooks.
type testRunLimiter interface {
	// Reserve records one run for key and reports how long the caller must wait when the
	// budget is exhausted.
	Reserve(key string) (ok bool, retryAfter time.Duration)
}

// fixedWindowLimiter counts runs per key in fixed windows that open on the first run.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*runWindow
	sweepAt time.Time
}

type runWindow struct {
	opened time.Time
	runs   int
}

// newTestRunLimiter returns nil, meaning unlimited, for a non-positive limit.
func newTestRunLimiter(limit int, window time.Duration, now func() time.Time) testRunLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	return &fixedWindowLimiter{limit: limit, window: window, now: now, windows: map[string]*runWindow{}}
}

func (l *fixedWindowLimiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		for k, w := range l.windows {
			if now.Sub(w.opened) >= l.window {
				delete(l.windows, k)
			}
		}
		l.sweepAt = now.Add(l.window)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.opened) >= l.window {
		l.windows[key] = &runWindow{opened: now, runs: 1}
		return true, 0
	}
	if w.runs >= l.limit {
		return false, w.opened.Add(l.window).Sub(now)
	}
	w.runs++
	return true, 0
}
