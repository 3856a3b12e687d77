package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/internal/tracker"
	"github.com/signalsfoundry/geotrack/model"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu        sync.Mutex
	byStatus  map[model.Status]int
	geofences int
	events    map[model.EventKind]int
	dropped   int
	updates   int
	sweeps    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{events: make(map[model.EventKind]int)}
}

func (f *fakeRecorder) SetTargetCounts(m map[model.Status]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byStatus = m
}

func (f *fakeRecorder) SetGeofenceCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geofences = n
}

func (f *fakeRecorder) RecordEvent(k model.EventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[k]++
}

func (f *fakeRecorder) RecordDroppedEvent(model.EventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped++
}

func (f *fakeRecorder) ObserveUpdateDuration(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
}

func (f *fakeRecorder) ObserveSweepDuration(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newSession(t *testing.T, cfg Config, opts ...Option) *Session {
	t.Helper()
	if cfg.Tracker.NewFilter == nil {
		f, err := core.FilterFactoryFor(core.FilterNone)
		if err != nil {
			t.Fatalf("FilterFactoryFor error: %v", err)
		}
		cfg.Tracker.NewFilter = f
	}
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func sample(id string, lat, lon float64, at time.Time) model.PositionSample {
	return model.PositionSample{EntityID: id, Lat: lat, Lon: lon, Accuracy: 5, TimestampMillis: at.UnixMilli()}
}

func circleFence(id string, radius float64) *model.Geofence {
	return &model.Geofence{
		ID:       id,
		Geometry: model.Circle{Center: model.Position{}, RadiusMeters: radius},
		Rules:    model.Rules{TriggerOnEntry: true, TriggerOnExit: true},
		Active:   true,
	}
}

func kinds(evs []model.Event) []model.EventKind {
	out := make([]model.EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind())
	}
	return out
}

func countKind(evs []model.Event, k model.EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind() == k {
			n++
		}
	}
	return n
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{MaxTargets: -1},
		{Area: &model.Bounds{MinLat: 10, MaxLat: 0, MinLon: 0, MaxLon: 1}},
		{Queue: events.QueueConfig{Policy: "spill"}},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, model.ErrInvalidArgument) {
			t.Fatalf("New(%+v) error = %v, want ErrInvalidArgument", cfg, err)
		}
	}
}

func TestIngestCircleEntry(t *testing.T) {
	s := newSession(t, Config{})
	if _, err := s.AddGeofence(circleFence("zone", 100)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	ctx := context.Background()

	outside, err := s.Ingest(ctx, sample("truck", 0.002, 0, t0))
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if len(outside) != 0 {
		t.Fatalf("outside sample produced %v", kinds(outside))
	}
	inside, err := s.Ingest(ctx, sample("truck", 0.0005, 0, t0.Add(10*time.Second)))
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if diff := cmp.Diff([]model.EventKind{model.EventEntry}, kinds(inside)); diff != "" {
		t.Fatalf("inside events mismatch (-want +got):\n%s", diff)
	}
	if inside[0].GeofenceID != "zone" || inside[0].TargetID != "truck" {
		t.Fatalf("entry event = %+v", inside[0])
	}

	select {
	case ev := <-s.Events():
		if ev.ID != inside[0].ID {
			t.Fatalf("published event %q, returned %q", ev.ID, inside[0].ID)
		}
	default:
		t.Fatalf("entry event not published")
	}
}

func TestIngestEntryExitSequence(t *testing.T) {
	s := newSession(t, Config{})
	if _, err := s.AddGeofence(circleFence("zone", 100)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	lats := []float64{0.002, 0.0005, 0.0003, 0.0001, 0.002}
	var all []model.Event
	for i, lat := range lats {
		evs, err := s.Ingest(context.Background(), sample("a", lat, 0, t0.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("Ingest %d error: %v", i, err)
		}
		all = append(all, evs...)
	}
	if countKind(all, model.EventEntry) != 1 || countKind(all, model.EventExit) != 1 {
		t.Fatalf("events = %v, want one entry and one exit", kinds(all))
	}
}

func TestIngestValidation(t *testing.T) {
	s := newSession(t, Config{})
	if _, err := s.Ingest(context.Background(), sample("", 0, 0, t0)); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("missing id error = %v", err)
	}
	if _, err := s.Ingest(context.Background(), sample("a", 91, 0, t0)); !errors.Is(err, model.ErrInvalidPosition) {
		t.Fatalf("bad latitude error = %v", err)
	}
	if _, err := s.GetTarget("a"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("invalid sample created a target: %v", err)
	}
	if _, err := s.UpdateTarget(context.Background(), "ghost", model.Position{Timestamp: t0}, nil); !errors.Is(err, model.ErrTargetNotFound) {
		t.Fatalf("UpdateTarget unknown error = %v", err)
	}
}

func TestIngestRejectedAttributesLeaveNoTarget(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	negative, nan, inf := -5.0, math.NaN(), math.Inf(1)

	cases := map[string]func(*model.PositionSample){
		"negative speed": func(smp *model.PositionSample) { smp.Speed = &negative },
		"infinite speed": func(smp *model.PositionSample) { smp.Speed = &inf },
		"nan bearing":    func(smp *model.PositionSample) { smp.Bearing = &nan },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			smp := sample("ghost", 0, 0, t0)
			mutate(&smp)
			if _, err := s.Ingest(ctx, smp); !errors.Is(err, model.ErrInvalidArgument) {
				t.Fatalf("Ingest error = %v, want ErrInvalidArgument", err)
			}
			if _, err := s.GetTarget("ghost"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("rejected sample created a target: %v", err)
			}
		})
	}
	if n := len(s.Snapshot().Targets); n != 0 {
		t.Fatalf("snapshot holds %d targets, want 0", n)
	}
}

func TestReplayedSamplesAgeFromSampleTime(t *testing.T) {
	clock := &testClock{now: t0.Add(24 * time.Hour)}
	s := newSession(t, Config{LostTimeout: 5 * time.Minute}, WithClock(clock.Now))
	ctx := context.Background()
	if _, err := s.Ingest(ctx, sample("old", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	tgt, err := s.GetTarget("old")
	if err != nil {
		t.Fatalf("GetTarget error: %v", err)
	}
	if !tgt.LastSeen.Equal(t0) {
		t.Fatalf("LastSeen = %v, want sample time %v", tgt.LastSeen, t0)
	}
	evs, err := s.Sweep(ctx, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if countKind(evs, model.EventTargetLost) != 1 {
		t.Fatalf("sweep events = %v, want one target_lost", kinds(evs))
	}
}

func TestIngestAppliesReportedMovement(t *testing.T) {
	s := newSession(t, Config{})
	speed, bearing := 12.5, 45.0
	smp := sample("a", 1, 1, t0)
	smp.Speed, smp.Bearing = &speed, &bearing
	if _, err := s.Ingest(context.Background(), smp); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	tgt, err := s.GetTarget("a")
	if err != nil {
		t.Fatalf("GetTarget error: %v", err)
	}
	if tgt.Movement.SpeedMps != 12.5 || tgt.Movement.Bearing != 45 {
		t.Fatalf("movement = %+v", tgt.Movement)
	}
	if tgt.Status != model.StatusActive {
		t.Fatalf("auto-created status = %s", tgt.Status)
	}
}

func TestProximityThroughSession(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	if err := s.RegisterProximityRule("a", "a", 200); !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("self rule error = %v", err)
	}
	if err := s.RegisterProximityRule("a", "b", 200); err != nil {
		t.Fatalf("RegisterProximityRule error: %v", err)
	}
	anchor := model.Position{}
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest a error: %v", err)
	}
	alerts := 0
	step := 0
	for dist := 500.0; dist >= 150; dist -= 50 {
		p := core.Destination(anchor, 90, dist)
		step++
		evs, err := s.Ingest(ctx, sample("b", p.Lat, p.Lon, t0.Add(time.Duration(step)*time.Second)))
		if err != nil {
			t.Fatalf("Ingest b error: %v", err)
		}
		alerts += countKind(evs, model.EventProximityAlert)
	}
	if alerts != 1 {
		t.Fatalf("proximity alerts = %d, want 1", alerts)
	}
}

func TestThreatDetectedOnEscalation(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	if _, err := s.Ingest(ctx, sample("x", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	hostile := model.ClassificationHostile
	evs, err := s.UpdateTarget(ctx, "x", model.Position{Lat: 0, Lon: 0.001, Timestamp: t0.Add(time.Second)},
		&tracker.Attributes{Classification: &hostile})
	if err != nil {
		t.Fatalf("UpdateTarget error: %v", err)
	}
	if countKind(evs, model.EventThreatDetected) != 1 {
		t.Fatalf("events = %v, want a threat_detected", kinds(evs))
	}
	assessment, err := s.AssessThreat("x")
	if err != nil {
		t.Fatalf("AssessThreat error: %v", err)
	}
	if assessment.Level != model.ThreatHigh {
		t.Fatalf("level = %s, want high", assessment.Level)
	}
}

func TestSweepLostAndRestore(t *testing.T) {
	clock := &testClock{now: t0}
	s := newSession(t, Config{LostTimeout: 5 * time.Minute}, WithClock(clock.Now))
	ctx := context.Background()
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}

	evs, err := s.Sweep(ctx, t0.Add(5*time.Minute))
	if err != nil || len(evs) != 0 {
		t.Fatalf("sweep at timeout = %v, %v; want nothing", kinds(evs), err)
	}
	evs, err = s.Sweep(ctx, t0.Add(6*time.Minute))
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if diff := cmp.Diff([]model.EventKind{model.EventTargetLost}, kinds(evs)); diff != "" {
		t.Fatalf("sweep events mismatch (-want +got):\n%s", diff)
	}
	if evs, _ := s.Sweep(ctx, t0.Add(7*time.Minute)); len(evs) != 0 {
		t.Fatalf("repeated sweep re-emitted %v", kinds(evs))
	}

	if _, err := s.Ingest(ctx, sample("a", 0, 0.0001, t0.Add(8*time.Minute))); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	tgt, _ := s.GetTarget("a")
	if tgt.Status != model.StatusActive {
		t.Fatalf("status after update = %s, want active", tgt.Status)
	}
}

func TestSweepReportsTimeRestrictions(t *testing.T) {
	s := newSession(t, Config{})
	fence := circleFence("night", 500)
	fence.Rules.TimeRestriction = &model.TimeRestriction{Start: 22 * 60, End: 6 * 60}
	if _, err := s.AddGeofence(fence); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	noon := t0.Add(12 * time.Hour)
	if _, err := s.Ingest(context.Background(), sample("a", 0, 0, noon)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if evs, _ := s.Sweep(context.Background(), noon.Add(time.Minute)); countKind(evs, model.EventViolation) != 0 {
		t.Fatalf("daytime sweep produced %v", kinds(evs))
	}
	for range 2 {
		evs, err := s.Sweep(context.Background(), t0.Add(23*time.Hour))
		if err != nil {
			t.Fatalf("Sweep error: %v", err)
		}
		if countKind(evs, model.EventViolation) != 1 {
			t.Fatalf("night sweep events = %v, want one violation", kinds(evs))
		}
	}
}

func TestCapacity(t *testing.T) {
	s := newSession(t, Config{MaxTargets: 1, MaxGeofences: 1})
	ctx := context.Background()
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if _, err := s.Ingest(ctx, sample("a", 0, 0.001, t0.Add(time.Second))); err != nil {
		t.Fatalf("existing target rejected at capacity: %v", err)
	}
	if _, err := s.Ingest(ctx, sample("b", 0, 0, t0)); !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("second target error = %v, want ErrCapacity", err)
	}
	if _, err := s.AddTarget(model.Target{ID: "c"}); !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("AddTarget error = %v, want ErrCapacity", err)
	}
	if _, err := s.AddGeofence(circleFence("one", 10)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	if _, err := s.AddGeofence(circleFence("two", 10)); !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("second geofence error = %v, want ErrCapacity", err)
	}
	if err := s.RemoveTarget("a"); err != nil {
		t.Fatalf("RemoveTarget error: %v", err)
	}
	if _, err := s.Ingest(ctx, sample("b", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest after removal error: %v", err)
	}
}

func TestStopFreezesSession(t *testing.T) {
	s := newSession(t, Config{})
	ctx := context.Background()
	if _, err := s.AddGeofence(circleFence("zone", 100)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	s.Stop()
	s.Stop()

	checks := map[string]error{
		"Ingest":          func() error { _, err := s.Ingest(ctx, sample("a", 0, 0, t0.Add(time.Second))); return err }(),
		"AddTarget":       func() error { _, err := s.AddTarget(model.Target{}); return err }(),
		"AddGeofence":     func() error { _, err := s.AddGeofence(circleFence("z2", 10)); return err }(),
		"RemoveGeofence":  s.RemoveGeofence("zone"),
		"SetTargetStatus": s.SetTargetStatus("a", model.StatusInactive),
		"Proximity":       s.RegisterProximityRule("a", "b", 10),
		"Sweep":           func() error { _, err := s.Sweep(ctx, t0); return err }(),
		"Start":           s.Start(ctx),
	}
	for name, err := range checks {
		if !errors.Is(err, model.ErrSessionStopped) {
			t.Errorf("%s after Stop error = %v, want ErrSessionStopped", name, err)
		}
	}

	if _, err := s.GetTarget("a"); err != nil {
		t.Fatalf("reads must work after Stop: %v", err)
	}
	if len(s.ListGeofences()) != 1 || !s.Snapshot().Stopped {
		t.Fatalf("snapshot after Stop = %+v", s.Snapshot())
	}

	var drained int
	for range s.Events() {
		drained++
	}
	if drained != 1 {
		t.Fatalf("drained %d events after Stop, want 1 entry", drained)
	}
}

func TestFiltersAndArea(t *testing.T) {
	area := &model.Bounds{MinLat: -1, MinLon: -1, MaxLat: 1, MaxLon: 1}
	s := newSession(t, Config{Area: area})
	ctx := context.Background()
	for _, tc := range []struct {
		id       string
		lat, lon float64
		class    model.Classification
		typ      string
	}{
		{"f1", 0.5, 0.5, model.ClassificationFriendly, "vehicle"},
		{"h1", -0.5, 0.5, model.ClassificationHostile, "vessel"},
		{"h2", 0.2, 0.2, model.ClassificationHostile, "vehicle"},
		{"far", 5, 5, model.ClassificationHostile, "vehicle"},
	} {
		if _, err := s.AddTarget(model.Target{ID: tc.id, Classification: tc.class, Type: tc.typ}); err != nil {
			t.Fatalf("AddTarget error: %v", err)
		}
		if _, err := s.Ingest(ctx, sample(tc.id, tc.lat, tc.lon, t0)); err != nil {
			t.Fatalf("Ingest error: %v", err)
		}
	}
	if _, err := s.AddTarget(model.Target{ID: "nofix"}); err != nil {
		t.Fatalf("AddTarget error: %v", err)
	}

	ids := func() []string {
		var out []string
		for _, tgt := range s.Targets() {
			out = append(out, tgt.ID)
		}
		return out
	}
	if diff := cmp.Diff([]string{"f1", "h1", "h2"}, ids()); diff != "" {
		t.Fatalf("area view mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetFilters(Filters{Classifications: []model.Classification{model.ClassificationHostile}, Types: []string{"vehicle"}}); err != nil {
		t.Fatalf("SetFilters error: %v", err)
	}
	if diff := cmp.Diff([]string{"h2"}, ids()); diff != "" {
		t.Fatalf("filtered view mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetFilters(Filters{Area: &model.Bounds{MinLat: -1, MinLon: 0, MaxLat: 0, MaxLon: 1}}); err != nil {
		t.Fatalf("SetFilters error: %v", err)
	}
	if diff := cmp.Diff([]string{"h1"}, ids()); diff != "" {
		t.Fatalf("sub-area view mismatch (-want +got):\n%s", diff)
	}
	if err := s.SetFilters(Filters{Area: &model.Bounds{MinLat: 1, MaxLat: -1}}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("invalid filter area error = %v", err)
	}
	if len(s.Snapshot().Targets) != 5 {
		t.Fatalf("snapshot should be unfiltered")
	}
}

func TestMetricsRecorderReceivesUpdates(t *testing.T) {
	rec := newFakeRecorder()
	s := newSession(t, Config{}, WithMetricsRecorder(rec))
	ctx := context.Background()
	if _, err := s.AddGeofence(circleFence("zone", 100)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if _, err := s.Sweep(ctx, t0.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.geofences != 1 || rec.byStatus[model.StatusLost] != 1 {
		t.Fatalf("counts = geofences %d, statuses %v", rec.geofences, rec.byStatus)
	}
	if rec.events[model.EventEntry] != 1 || rec.events[model.EventTargetLost] != 1 {
		t.Fatalf("event counts = %v", rec.events)
	}
	if rec.updates != 1 || rec.sweeps != 1 {
		t.Fatalf("durations = updates %d, sweeps %d", rec.updates, rec.sweeps)
	}
}

func TestQueueOverflowCountsDrops(t *testing.T) {
	rec := newFakeRecorder()
	s := newSession(t, Config{Queue: events.QueueConfig{Size: 1}}, WithMetricsRecorder(rec))
	if _, err := s.AddGeofence(circleFence("zone", 100)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	ctx := context.Background()
	for i, lat := range []float64{0, 0.01, 0, 0.01} {
		if _, err := s.Ingest(ctx, sample("a", lat, 0, t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Ingest error: %v", err)
		}
	}
	if s.DroppedEvents() != 3 {
		t.Fatalf("DroppedEvents() = %d, want 3", s.DroppedEvents())
	}
	ev := <-s.Events()
	if ev.Kind() != model.EventExit {
		t.Fatalf("surviving event = %s, want the newest exit", ev.Kind())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.dropped != 3 {
		t.Fatalf("recorded drops = %d, want 3", rec.dropped)
	}
}

func TestStartRunsPeriodicSweep(t *testing.T) {
	clock := &testClock{now: t0}
	s := newSession(t, Config{SweepInterval: 5 * time.Millisecond, LostTimeout: time.Minute}, WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := s.Ingest(ctx, sample("a", 0, 0, t0)); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	clock.Set(t0.Add(time.Hour))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind() == model.EventTargetLost {
				return
			}
		case <-timeout:
			t.Fatalf("sweep loop did not mark the target lost")
		}
	}
}

func TestConcurrentIngest(t *testing.T) {
	s := newSession(t, Config{Queue: events.QueueConfig{Size: 16}})
	if _, err := s.AddGeofence(circleFence("zone", 2000)); err != nil {
		t.Fatalf("AddGeofence error: %v", err)
	}
	if err := s.RegisterProximityRule("e0", "e1", 100); err != nil {
		t.Fatalf("RegisterProximityRule error: %v", err)
	}
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "e" + string(rune('0'+w))
			for i := range 50 {
				lat := 0.001 * float64(i%30)
				if _, err := s.Ingest(context.Background(), sample(id, lat, 0, t0.Add(time.Duration(i)*time.Second))); err != nil {
					t.Errorf("Ingest error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if got := len(s.Snapshot().Targets); got != 8 {
		t.Fatalf("targets = %d, want 8", got)
	}
}
