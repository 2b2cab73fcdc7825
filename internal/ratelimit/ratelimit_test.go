package ratelimit

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestGateAllowsUpToLimit(t *testing.T) {
	g := NewGate(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, g.Allow("u1", epoch.Add(time.Duration(i)*time.Second)), "request %d", i)
	}
	assert.False(t, g.Allow("u1", epoch.Add(4*time.Second)))
	assert.Equal(t, 0, g.Remaining("u1", epoch.Add(5*time.Second)))

	// Other keys have their own window.
	assert.True(t, g.Allow("u2", epoch.Add(5*time.Second)))
}

func TestGateWindowSlides(t *testing.T) {
	g := NewGate(1, time.Minute)

	require.True(t, g.Allow("u", epoch))
	assert.False(t, g.Allow("u", epoch.Add(59*time.Second)))
	// Exactly one window later the first request has expired.
	assert.True(t, g.Allow("u", epoch.Add(time.Minute)))
}

func TestGateDeniedRequestsDoNotConsumeBudget(t *testing.T) {
	g := NewGate(2, time.Minute)

	require.True(t, g.Allow("u", epoch))
	require.True(t, g.Allow("u", epoch.Add(10*time.Second)))
	for i := 0; i < 20; i++ {
		require.False(t, g.Allow("u", epoch.Add(20*time.Second)))
	}
	// Only the two admitted requests count; both expire after a window.
	assert.True(t, g.Allow("u", epoch.Add(70*time.Second)))
}

// TestGateNeverExceedsLimitInTrailingWindow replays a random call pattern and
// checks every trailing window of admitted timestamps.
func TestGateNeverExceedsLimitInTrailingWindow(t *testing.T) {
	const limit = 4
	window := 10 * time.Second
	g := NewGate(limit, window)
	rng := rand.New(rand.NewSource(7))

	now := epoch
	var admitted []time.Time
	for i := 0; i < 2000; i++ {
		now = now.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)
		if g.Allow("k", now) {
			admitted = append(admitted, now)
		}
	}
	require.NotEmpty(t, admitted)

	for i := range admitted {
		count := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < window; j++ {
			count++
		}
		require.LessOrEqual(t, count, limit, "window starting at %v", admitted[i])
	}
}

func TestGateConcurrentAllow(t *testing.T) {
	g := NewGate(50, time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("shared", epoch) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
}

func TestGateSweepEvictsIdleKeys(t *testing.T) {
	g := NewGate(5, time.Minute)
	g.Allow("old", epoch)
	g.Allow("fresh", epoch.Add(50*time.Second))

	removed := g.Sweep(epoch.Add(90 * time.Second))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, 4, g.Remaining("fresh", epoch.Add(90*time.Second)))
}

func TestClassesAreIndependent(t *testing.T) {
	c := NewClasses(10, 1, time.Minute)

	require.True(t, c.CheckAndRecord("42", ClassLesson, epoch))
	assert.False(t, c.CheckAndRecord("42", ClassLesson, epoch.Add(time.Second)))

	// Exhausting the lesson budget leaves the message budget intact.
	for i := 0; i < 10; i++ {
		assert.True(t, c.CheckAndRecord("42", ClassMessage, epoch.Add(time.Second)))
	}
	assert.False(t, c.CheckAndRecord("42", ClassMessage, epoch.Add(2*time.Second)))

	assert.False(t, c.CheckAndRecord("42", Class("unknown"), epoch))
}
