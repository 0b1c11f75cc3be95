// Package rate implements a fixed-window request counter keyed by
// (client identity, tier). Fixed-window counting approximates a sliding
// window: O(1) per check, minimal state, at the cost of some unfairness
// at window boundaries.
package rate

import (
	"context"
	"sync"
	"time"

	"storegate/edge-service/internal/metrics"
)

type Tier int

const (
	TierAuth Tier = iota
	TierAPI
	TierGeneral
)

func (t Tier) String() string {
	switch t {
	case TierAuth:
		return "auth"
	case TierAPI:
		return "api"
	default:
		return "general"
	}
}

type TierLimit struct {
	MaxRequests int
	Window      time.Duration
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// maxEvictionsPerCheck bounds the inline sweep performed when the key cap
// is hit, so a single request never pays for a full-map scan.
const maxEvictionsPerCheck = 128

type windowKey struct {
	identity string
	tier     Tier
}

type window struct {
	count int
	start time.Time
	reset time.Time
}

type Limiter struct {
	mu      sync.Mutex
	limits  map[Tier]TierLimit
	windows map[windowKey]*window

	maxKeys    int
	sweepEvery time.Duration
	nowFunc    func() time.Time // for tests
}

func New(limits map[Tier]TierLimit, maxKeys int, sweepEvery time.Duration) *Limiter {
	if maxKeys <= 0 {
		maxKeys = 10_000
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	return &Limiter{
		limits:     limits,
		windows:    make(map[windowKey]*window, 256),
		maxKeys:    maxKeys,
		sweepEvery: sweepEvery,
		nowFunc:    time.Now,
	}
}

// Check records one request for (identity, tier) and reports whether it is
// within the tier's limit. Increment-and-compare happens under a single
// lock, so concurrent checks for the same identity never lose counts.
func (l *Limiter) Check(identity string, tier Tier) Result {
	limit, ok := l.limits[tier]
	if !ok {
		limit = l.limits[TierGeneral]
	}
	now := l.nowFunc()
	key := windowKey{identity: identity, tier: tier}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if exists && now.After(w.reset) {
		w.count = 1
		w.start = now
		w.reset = now.Add(limit.Window)
		return resultFor(w, limit)
	}
	if exists {
		w.count++
		return resultFor(w, limit)
	}

	// New key. The cap bounds the map even under an identity-spoofing
	// flood; try to reclaim expired windows before refusing.
	if len(l.windows) >= l.maxKeys {
		l.sweepLocked(now, maxEvictionsPerCheck)
		if len(l.windows) >= l.maxKeys {
			// Fail closed for identities we cannot afford to track.
			return Result{Allowed: false, Remaining: 0, ResetTime: now.Add(limit.Window)}
		}
	}
	w = &window{count: 1, start: now, reset: now.Add(limit.Window)}
	l.windows[key] = w
	metrics.RateLimitKeys.Set(float64(len(l.windows)))
	return resultFor(w, limit)
}

// Status reports the current window for (identity, tier) without counting
// a request.
func (l *Limiter) Status(identity string, tier Tier) Result {
	limit, ok := l.limits[tier]
	if !ok {
		limit = l.limits[TierGeneral]
	}
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[windowKey{identity: identity, tier: tier}]
	if !exists || now.After(w.reset) {
		return Result{Allowed: true, Remaining: limit.MaxRequests, ResetTime: now.Add(limit.Window)}
	}
	return resultFor(w, limit)
}

func resultFor(w *window, limit TierLimit) Result {
	remaining := limit.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= limit.MaxRequests,
		Remaining: remaining,
		ResetTime: w.reset,
	}
}

// Start runs the background sweep until ctx is cancelled. The sweep keeps
// memory bounded to identities active within one window duration,
// independent of request traffic.
func (l *Limiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Sweep removes every expired window.
func (l *Limiter) Sweep() int {
	now := l.nowFunc()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now, 0)
}

// sweepLocked evicts expired windows; limit 0 means unbounded. Caller
// holds l.mu.
func (l *Limiter) sweepLocked(now time.Time, limit int) int {
	evicted := 0
	for key, w := range l.windows {
		if now.After(w.reset) {
			delete(l.windows, key)
			evicted++
			if limit > 0 && evicted >= limit {
				break
			}
		}
	}
	if evicted > 0 {
		metrics.RateLimitKeys.Set(float64(len(l.windows)))
	}
	return evicted
}

// Len reports the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
