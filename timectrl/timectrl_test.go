package timectrl

import (
	"context"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerAcceleratedRun(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Hour, Accelerated)

	var ticks []time.Time
	tc.AddListener(func(_ context.Context, now time.Time) {
		ticks = append(ticks, now)
	})

	began := time.Now()
	<-tc.Start(context.Background(), 3*time.Hour)
	if time.Since(began) > time.Second {
		t.Fatalf("accelerated run took %v", time.Since(began))
	}

	expected := start.Add(3 * time.Hour)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
	if len(ticks) != 3 || !ticks[0].Equal(start.Add(time.Hour)) {
		t.Fatalf("ticks = %v", ticks)
	}
}

func TestTimeControllerRealTimeUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, RealTime)

	<-tc.Start(context.Background(), 15*time.Millisecond)

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStopsOnContext(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, RealTime)

	ctx, cancel := context.WithCancel(context.Background())
	done := tc.Start(ctx, 0)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("controller did not stop after cancel")
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	if got := c.Advance(time.Minute); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("Advance = %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now after Set = %v", c.Now())
	}

	var clk Clock = SystemClock{}
	if clk.Now().IsZero() {
		t.Fatal("SystemClock returned zero time")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": RealTime, "realtime": RealTime, "accelerated": Accelerated} {
		got, ok := ParseMode(in)
		if !ok || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseMode("warp"); ok {
		t.Fatal("ParseMode accepted unknown mode")
	}
}
