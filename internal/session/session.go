// Package session wires the tracker, geofence evaluator and alert
// dispatcher into one explicitly constructed tracking session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/geotrack/internal/alert"
	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/internal/geofence"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/internal/tracker"
	"github.com/signalsfoundry/geotrack/model"
)

const tracerName = "github.com/signalsfoundry/geotrack/internal/session"

const (
	DefaultLostTimeout   = 5 * time.Minute
	DefaultSweepInterval = 10 * time.Second
)

// Config sizes and tunes a Session. Zero values fall back to defaults;
// zero capacities mean unbounded.
type Config struct {
	ID           string
	MaxTargets   int
	MaxGeofences int
	// Area, when set, restricts Targets() views to positions inside it.
	Area          *model.Bounds
	LostTimeout   time.Duration
	SweepInterval time.Duration
	Queue         events.QueueConfig
	Tracker       tracker.Config
	Threat        alert.ThreatConfig
}

func (c *Config) applyDefaults() error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.MaxTargets < 0 || c.MaxGeofences < 0 {
		return fmt.Errorf("%w: capacities must not be negative", model.ErrInvalidArgument)
	}
	if c.Area != nil && !c.Area.Valid() {
		return invalidArea(*c.Area)
	}
	if c.LostTimeout <= 0 {
		c.LostTimeout = DefaultLostTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return nil
}

func invalidArea(b model.Bounds) error {
	return fmt.Errorf("%w: invalid area bounds %+v", model.ErrInvalidArgument, b)
}

// MetricsRecorder receives session measurements. observability.TrackerCollector
// implements it.
type MetricsRecorder interface {
	SetTargetCounts(byStatus map[model.Status]int)
	SetGeofenceCount(n int)
	RecordEvent(kind model.EventKind)
	RecordDroppedEvent(kind model.EventKind)
	ObserveUpdateDuration(d time.Duration)
	ObserveSweepDuration(d time.Duration)
}

// Option customises Session construction.
type Option func(*Session)

// WithLogger attaches a structured logger shared by all components.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.log = logging.OrNoop(l) }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock overrides the session clock used for sweeps and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer overrides the tracer; the global provider is used otherwise.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Session) {
		if tr != nil {
			s.tracer = tr
		}
	}
}

// Session owns the tracking components for one operational picture.
type Session struct {
	cfg Config

	tracker   *tracker.Tracker
	geofences *geofence.Evaluator
	alerts    *alert.Dispatcher
	queue     *events.Queue

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	now     func() time.Time

	// createMu serialises capacity checks with the inserts they guard.
	createMu sync.Mutex

	mu      sync.RWMutex
	filters Filters
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a session. It does not start the sweep loop.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg: cfg,
		log: logging.Noop(),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.log = s.log.With(logging.String("session_id", cfg.ID))

	queue, err := events.NewQueue(cfg.Queue,
		events.WithLogger(s.log),
		events.WithDropHook(func(ev model.Event) {
			if s.metrics != nil {
				s.metrics.RecordDroppedEvent(ev.Kind())
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	s.queue = queue
	s.geofences = geofence.NewEvaluator(geofence.WithLogger(s.log), geofence.WithClock(s.now))
	s.tracker = tracker.New(cfg.Tracker,
		tracker.WithLogger(s.log),
		tracker.WithGeofenceEvaluator(s.geofences),
		tracker.WithClock(s.now),
	)
	s.alerts = alert.NewDispatcher(cfg.Threat)
	s.refreshCounts()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Events returns the event stream. It is closed by Stop.
func (s *Session) Events() <-chan model.Event { return s.queue.C() }

// DroppedEvents returns how many events the queue has dropped.
func (s *Session) DroppedEvents() uint64 { return s.queue.Dropped() }

// Start launches the periodic sweep loop. It returns once the loop is
// running; the loop stops when ctx is done or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.stoppedErr()
	}
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.sweepLoop(ctx, s.done)
	s.log.Info(ctx, "session started",
		logging.Duration("sweep_interval", s.cfg.SweepInterval),
		logging.Duration("lost_timeout", s.cfg.LostTimeout),
	)
	return nil
}

func (s *Session) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				if errors.Is(err, model.ErrSessionStopped) {
					return
				}
				s.log.Warn(ctx, "sweep failed", logging.Err(err))
			}
		}
	}
}

// Stop freezes the session: the sweep loop exits, the event stream is
// closed, and every later mutation fails with ErrSessionStopped. Reads keep
// working. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.queue.Close()
	s.log.Info(context.Background(), "session stopped",
		logging.Any("dropped_events", s.queue.Dropped()),
	)
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *Session) checkRunning() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return s.stoppedErr()
	}
	return nil
}

func (s *Session) stoppedErr() error {
	return fmt.Errorf("%w: %q", model.ErrSessionStopped, s.cfg.ID)
}

// Ingest folds a raw sample into the session, creating the target on its
// first observation. It returns every event the sample produced; the same
// events are published on the event stream.
func (s *Session) Ingest(ctx context.Context, sample model.PositionSample) ([]model.Event, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	if sample.EntityID == "" {
		return nil, fmt.Errorf("%w: sample has no entity id", model.ErrInvalidArgument)
	}
	pos := sample.Position()
	if err := pos.Validate(); err != nil {
		return nil, fmt.Errorf("entity %q: %w", sample.EntityID, err)
	}
	attrs := &tracker.Attributes{SpeedMps: sample.Speed, BearingDeg: sample.Bearing}
	if err := attrs.Validate(); err != nil {
		return nil, fmt.Errorf("entity %q: %w", sample.EntityID, err)
	}

	ctx, span := s.startSpan(ctx, "session.Ingest", sample.EntityID)
	defer span.End()

	if err := s.ensureTarget(sample.EntityID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.update(ctx, span, sample.EntityID, pos, attrs)
}

// UpdateTarget applies a raw position and optional attribute updates to an
// existing target.
func (s *Session) UpdateTarget(ctx context.Context, id string, raw model.Position, attrs *tracker.Attributes) ([]model.Event, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "session.UpdateTarget", id)
	defer span.End()
	return s.update(ctx, span, id, raw, attrs)
}

func (s *Session) update(ctx context.Context, span trace.Span, id string, raw model.Position, attrs *tracker.Attributes) ([]model.Event, error) {
	start := time.Now()
	evs, err := s.tracker.UpdateTarget(ctx, id, raw, attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	evs = append(evs, s.alerts.CheckProximity(s.tracker.Positions(), raw.Timestamp)...)
	if tgt, err := s.tracker.GetTarget(id); err == nil {
		evs = append(evs, s.alerts.ObserveThreat(tgt, raw.Timestamp)...)
	}

	if s.metrics != nil {
		s.metrics.ObserveUpdateDuration(time.Since(start))
	}
	span.SetAttributes(attribute.Int("events.count", len(evs)))
	s.publish(ctx, evs)
	s.refreshCounts()
	return evs, nil
}

// ensureTarget creates id as an unseen target if it does not exist yet.
func (s *Session) ensureTarget(id string) error {
	if _, err := s.tracker.GetTarget(id); err == nil {
		return nil
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if _, err := s.tracker.GetTarget(id); err == nil {
		return nil
	}
	if err := s.checkCapacity(s.cfg.MaxTargets, s.tracker.Count(), "targets"); err != nil {
		return err
	}
	_, err := s.tracker.AddTarget(model.Target{ID: id})
	return err
}

// AddTarget registers a target explicitly.
func (s *Session) AddTarget(t model.Target) (string, error) {
	if err := s.checkRunning(); err != nil {
		return "", err
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if err := s.checkCapacity(s.cfg.MaxTargets, s.tracker.Count(), "targets"); err != nil {
		return "", err
	}
	id, err := s.tracker.AddTarget(t)
	if err != nil {
		return "", err
	}
	s.refreshCounts()
	return id, nil
}

func (s *Session) checkCapacity(limit, current int, what string) error {
	if limit > 0 && current >= limit {
		return fmt.Errorf("%w: session %q already holds %d %s", model.ErrCapacity, s.cfg.ID, current, what)
	}
	return nil
}

// Sweep marks stale targets Lost and re-checks time restrictions. It works
// on snapshots and never blocks concurrent updates for longer than one
// target's lock.
func (s *Session) Sweep(ctx context.Context, now time.Time) ([]model.Event, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "session.Sweep")
	defer span.End()

	start := time.Now()
	evs := s.tracker.Sweep(ctx, now, s.cfg.LostTimeout)
	evs = append(evs, s.geofences.CheckTimeRestrictions(now)...)
	if s.metrics != nil {
		s.metrics.ObserveSweepDuration(time.Since(start))
	}
	span.SetAttributes(attribute.Int("events.count", len(evs)))
	s.publish(ctx, evs)
	s.refreshCounts()
	return evs, nil
}

func (s *Session) publish(ctx context.Context, evs []model.Event) {
	if len(evs) == 0 {
		return
	}
	if s.metrics != nil {
		for _, ev := range evs {
			s.metrics.RecordEvent(ev.Kind())
		}
	}
	if err := s.queue.Publish(ctx, evs...); err != nil && !errors.Is(err, events.ErrQueueClosed) {
		s.log.Warn(ctx, "publish events failed", logging.Err(err))
	}
}

func (s *Session) refreshCounts() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetTargetCounts(s.tracker.CountByStatus())
	s.metrics.SetGeofenceCount(s.geofences.Count())
}

func (s *Session) startSpan(ctx context.Context, name, targetID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("session.id", s.cfg.ID),
		attribute.String("target.id", targetID),
	))
}
