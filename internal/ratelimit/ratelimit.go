// Package ratelimit implements per-identity admission control for inbound
// requests.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Class separates budgets so that one kind of request cannot starve another.
type Class string

const (
	// ClassMessage is the general per-user message budget.
	ClassMessage Class = "message"
	// ClassLesson is the stricter per-user "advance lesson" budget.
	ClassLesson Class = "lesson"
)

// Gate is a sliding-window rate limiter keyed by an opaque string.
// A key is admitted at most limit times within any trailing window.
type Gate struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewGate creates a gate admitting limit requests per window for every key.
func NewGate(limit int, window time.Duration) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Gate{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request for key at now is admitted. The window is
// only mutated when the request is admitted.
func (g *Gate) Allow(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	recent := prune(g.requests[key], now.Add(-g.window))
	if len(recent) >= g.limit {
		g.requests[key] = recent
		return false
	}

	g.requests[key] = append(recent, now)
	return true
}

// Remaining returns how many more requests key may make at now.
func (g *Gate) Remaining(key string, now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	left := g.limit - len(prune(g.requests[key], now.Add(-g.window)))
	if left < 0 {
		return 0
	}
	return left
}

// Sweep drops keys with no timestamps inside the window and returns how many
// were removed.
func (g *Gate) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	removed := 0
	for key, times := range g.requests {
		fresh := prune(times, cutoff)
		if len(fresh) == 0 {
			delete(g.requests, key)
			removed++
			continue
		}
		g.requests[key] = fresh
	}
	return removed
}

// Len returns the number of tracked keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// StartEviction sweeps idle keys every window until ctx is done.
func (g *Gate) StartEviction(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(g.window)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := g.Sweep(now); n > 0 {
					slog.Debug("Rate limiter evicted idle keys", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// prune returns the timestamps strictly after cutoff. Timestamps are appended
// in order, so the suffix after the first fresh entry is kept as is.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	for i, t := range times {
		if t.After(cutoff) {
			return times[i:]
		}
	}
	return times[:0]
}

// Classes holds one gate per rate-limit class.
type Classes struct {
	gates map[Class]*Gate
}

// NewClasses builds the message and lesson gates.
func NewClasses(messageLimit, lessonLimit int, window time.Duration) *Classes {
	return &Classes{gates: map[Class]*Gate{
		ClassMessage: NewGate(messageLimit, window),
		ClassLesson:  NewGate(lessonLimit, window),
	}}
}

// CheckAndRecord admits or denies a request for userID under class. Unknown
// classes are denied.
func (c *Classes) CheckAndRecord(userID string, class Class, now time.Time) bool {
	g, ok := c.gates[class]
	if !ok {
		return false
	}
	return g.Allow(string(class)+":"+userID, now)
}

// StartEviction starts the idle-key sweep for every class.
func (c *Classes) StartEviction(ctx context.Context) {
	for _, g := range c.gates {
		g.StartEviction(ctx)
	}
}
