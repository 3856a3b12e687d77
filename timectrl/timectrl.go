package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Clock supplies the current time to sessions, sweeps and simulators.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t, which may be in the past.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Mode describes how the TimeController advances simulated time.
type Mode int

const (
	// RealTime advances one Tick per wall-clock Tick.
	RealTime Mode = iota
	// Accelerated steps by Tick as fast as listeners return.
	Accelerated
)

// ParseMode maps "realtime" and "accelerated" onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "realtime", "real_time":
		return RealTime, true
	case "accelerated", "fast":
		return Accelerated, true
	default:
		return RealTime, false
	}
}

// TimeController drives simulated time and notifies registered listeners
// on every tick. It implements Clock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(context.Context, time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the simulated time to t.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked after every tick, in
// registration order, with the new simulated time.
func (tc *TimeController) AddListener(fn func(context.Context, time.Time)) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Start runs the controller for duration of simulated time (forever when
// duration is zero) in a separate goroutine. The returned channel is closed
// when the run completes or ctx ends.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if tc.Tick <= 0 {
			return
		}

		tc.mu.Lock()
		simTime := tc.StartTime
		tc.currentTime = simTime
		listeners := slices.Clone(tc.listeners)
		tc.mu.Unlock()

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}

			simTime = simTime.Add(tc.Tick)
			tc.SetTime(simTime)
			for _, fn := range listeners {
				fn(ctx, simTime)
			}
		}
	}()
	return done
}
