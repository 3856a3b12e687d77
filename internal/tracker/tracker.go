// Package tracker maintains per-target state: filtered position, derived
// movement, bounded course history and lifecycle status.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/model"
)

// Default tuning values.
const (
	DefaultCourseCap               = 100
	DefaultPredictionStep          = 60 * time.Second
	DefaultMinPredictionConfidence = 0.1
	DefaultClassifyWindow          = 20
	DefaultStationarySpeedMps      = 0.5
	DefaultLinearTurnDeg           = 10.0
	DefaultRandomTurnDeg           = 45.0
	DefaultCircularToleranceDeg    = 45.0
)

// GeofenceEvaluator is the subset of the geofence evaluator the tracker
// delegates containment checks to.
type GeofenceEvaluator interface {
	Evaluate(targetID string, p model.Position, targetType string) []model.Event
	ForgetTarget(targetID string)
}

// Config tunes a Tracker. Zero values are replaced by defaults.
type Config struct {
	CourseCap               int
	PredictionStep          time.Duration
	MinPredictionConfidence float64
	ClassifyWindow          int
	StationarySpeedMps      float64
	LinearTurnDeg           float64
	RandomTurnDeg           float64
	CircularToleranceDeg    float64

	// NewFilter builds the per-target position filter.
	NewFilter core.FilterFactory
}

// DefaultConfig returns the default tuning with the smoothing filter.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.CourseCap <= 0 {
		c.CourseCap = DefaultCourseCap
	}
	if c.PredictionStep <= 0 {
		c.PredictionStep = DefaultPredictionStep
	}
	if c.MinPredictionConfidence < 0.1 || c.MinPredictionConfidence > 1 {
		c.MinPredictionConfidence = DefaultMinPredictionConfidence
	}
	if c.ClassifyWindow < 3 {
		c.ClassifyWindow = DefaultClassifyWindow
	}
	if c.StationarySpeedMps <= 0 {
		c.StationarySpeedMps = DefaultStationarySpeedMps
	}
	if c.LinearTurnDeg <= 0 {
		c.LinearTurnDeg = DefaultLinearTurnDeg
	}
	if c.RandomTurnDeg <= 0 {
		c.RandomTurnDeg = DefaultRandomTurnDeg
	}
	if c.CircularToleranceDeg <= 0 {
		c.CircularToleranceDeg = DefaultCircularToleranceDeg
	}
	if c.NewFilter == nil {
		c.NewFilter, _ = core.FilterFactoryFor(core.FilterSmoothing)
	}
}

// Attributes carries optional descriptive updates applied alongside a
// position update. Nil fields are left unchanged.
type Attributes struct {
	Name           *string
	Type           *string
	Classification *model.Classification
	Priority       *model.Priority
	Intelligence   *model.Intelligence
	SpeedMps       *float64
	BearingDeg     *float64
}

// entry owns one target. mu serialises all work on that target. removed is
// set under mu once the entry has left the map so in-flight updates stop.
type entry struct {
	mu      sync.Mutex
	target  *model.Target
	filter  core.PositionFilter
	route   *route
	removed bool
}

// Tracker is safe for concurrent use. The map lock is only held to look
// entries up; per-target work runs under the entry's own lock so updates
// for different targets proceed in parallel.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cfg       Config
	geofences GeofenceEvaluator
	log       logging.Logger
	now       func() time.Time
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = logging.OrNoop(l) }
}

// WithGeofenceEvaluator wires containment checks into UpdateTarget.
func WithGeofenceEvaluator(g GeofenceEvaluator) Option {
	return func(t *Tracker) { t.geofences = g }
}

// WithClock overrides the clock used for CreatedAt and LastSeen of targets
// added without a position.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New constructs an empty tracker.
func New(cfg Config, opts ...Option) *Tracker {
	cfg.applyDefaults()
	t := &Tracker{
		entries: make(map[string]*entry),
		cfg:     cfg,
		log:     logging.Noop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.cfg }

// AddTarget registers a new target. An empty ID is replaced by a generated
// one. A target with a non-zero position timestamp must carry a valid
// position; its position seeds the course and the filter. The returned ID
// is the stored target's ID.
func (t *Tracker) AddTarget(initial model.Target) (string, error) {
	hasFix := !initial.Position.Timestamp.IsZero()
	if hasFix {
		if err := initial.Position.Validate(); err != nil {
			return "", err
		}
	}
	if initial.Status == model.StatusLost {
		return "", fmt.Errorf("%w: new targets cannot start lost", model.ErrInvalidTransition)
	}

	stored := initial.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Classification == "" {
		stored.Classification = model.ClassificationUnknown
	}
	if stored.Priority == "" {
		stored.Priority = model.PriorityLow
	}
	if stored.Status == "" {
		stored.Status = model.StatusActive
	}
	now := t.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.Course = nil
	stored.LastSeen = now

	e := &entry{target: stored, filter: t.cfg.NewFilter()}
	if hasFix {
		stored.Position = e.filter.Observe(stored.Position)
		stored.Course = append(stored.Course, stored.Position)
		stored.LastSeen = stored.Position.Timestamp
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[stored.ID]; exists {
		return "", fmt.Errorf("%w: %q", model.ErrTargetExists, stored.ID)
	}
	t.entries[stored.ID] = e
	return stored.ID, nil
}

// UpdateTarget folds a raw fix into the target. It validates before
// mutating anything, fails with ErrTargetNotFound for unknown or destroyed
// targets, and returns the geofence and route events the update produced.
//
// A fix not newer than the previous one is still filtered and recorded,
// but speed and bearing keep their previous values.
func (t *Tracker) UpdateTarget(ctx context.Context, id string, raw model.Position, attrs *Attributes) ([]model.Event, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	e, err := t.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, fmt.Errorf("%w: %q", model.ErrTargetNotFound, id)
	}
	tgt := e.target
	if tgt.Status == model.StatusDestroyed {
		return nil, fmt.Errorf("%w: %q is destroyed", model.ErrTargetNotFound, id)
	}

	log := logging.ForTarget(t.log, id)
	prev, hadFix := lastFix(tgt)
	filtered := e.filter.Observe(raw)

	tgt.Position = filtered
	tgt.Course = append(tgt.Course, filtered)
	if over := len(tgt.Course) - t.cfg.CourseCap; over > 0 {
		tgt.Course = append(tgt.Course[:0], tgt.Course[over:]...)
	}

	if hadFix {
		dt := filtered.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt > 0 {
			dist := core.HaversineDistanceMeters(prev, filtered)
			tgt.Movement.SpeedMps = dist / dt
			if dist > 0 {
				tgt.Movement.Bearing = core.BearingDegrees(prev, filtered)
			}
		} else {
			log.Warn(ctx, "skipping movement recompute",
				logging.Err(fmt.Errorf("%w: fix at %s not after %s", model.ErrInvalidTimestamp,
					filtered.Timestamp.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))),
			)
		}
	}
	attrs.apply(tgt)

	// The first fix replaces the registration time.
	if !hadFix || filtered.Timestamp.After(tgt.LastSeen) {
		tgt.LastSeen = filtered.Timestamp
	}
	if tgt.Status == model.StatusLost {
		tgt.Status = model.StatusActive
		log.Info(ctx, "target reacquired")
	}

	var events []model.Event
	if t.geofences != nil {
		events = append(events, t.geofences.Evaluate(id, filtered, tgt.Type)...)
	}
	if ev, ok := e.checkRoute(id, filtered); ok {
		events = append(events, ev)
	}
	return events, nil
}

// GetTarget returns a copy of the target.
func (t *Tracker) GetTarget(id string) (*model.Target, error) {
	e, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target.Clone(), nil
}

// ListTargets returns copies of all targets ordered by ID.
func (t *Tracker) ListTargets() []*model.Target {
	entries := t.snapshotEntries()
	out := make([]*model.Target, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.target.Clone())
		e.mu.Unlock()
	}
	return out
}

// Positions returns the latest position of every target that has a fix and
// is not destroyed.
func (t *Tracker) Positions() map[string]model.Position {
	entries := t.snapshotEntries()
	out := make(map[string]model.Position, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if len(e.target.Course) > 0 && e.target.Status != model.StatusDestroyed {
			out[e.target.ID] = e.target.Position
		}
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of tracked targets.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// CountByStatus tallies targets per status.
func (t *Tracker) CountByStatus() map[model.Status]int {
	out := make(map[model.Status]int, 4)
	for _, e := range t.snapshotEntries() {
		e.mu.Lock()
		out[e.target.Status]++
		e.mu.Unlock()
	}
	return out
}

// SetStatus applies an explicit lifecycle transition.
func (t *Tracker) SetStatus(id string, status model.Status) error {
	e, err := t.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %q", model.ErrTargetNotFound, id)
	}
	if err := model.ValidateTransition(e.target.Status, status); err != nil {
		return fmt.Errorf("target %q: %w", id, err)
	}
	e.target.Status = status
	return nil
}

// RemoveTarget deletes a target and its geofence containment state. An
// update already holding the target finishes first; later ones fail with
// ErrTargetNotFound.
func (t *Tracker) RemoveTarget(id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %q", model.ErrTargetNotFound, id)
	}
	delete(t.entries, id)
	t.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	if t.geofences != nil {
		t.geofences.ForgetTarget(id)
	}
	return nil
}

// Sweep marks every Active target whose last fix is older than lostTimeout
// as Lost and returns one TargetLost event per transition. Repeated calls
// do not re-emit for targets that are already Lost.
func (t *Tracker) Sweep(ctx context.Context, now time.Time, lostTimeout time.Duration) []model.Event {
	var events []model.Event
	for _, e := range t.snapshotEntries() {
		ev, ok, err := t.sweepEntry(e, now, lostTimeout)
		if err != nil {
			t.log.Warn(ctx, "sweep skipped target", logging.Err(err))
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

var errMalformedEntry = errors.New("malformed tracker entry")

func (t *Tracker) sweepEntry(e *entry, now time.Time, lostTimeout time.Duration) (ev model.Event, lost bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errMalformedEntry, r)
		}
	}()

	tgt := e.target
	if tgt == nil {
		return model.Event{}, false, errMalformedEntry
	}
	if tgt.Status != model.StatusActive || now.Sub(tgt.LastSeen) <= lostTimeout {
		return model.Event{}, false, nil
	}
	tgt.Status = model.StatusLost
	return model.Event{
		ID:        uuid.NewString(),
		TargetID:  tgt.ID,
		Position:  tgt.Position,
		Timestamp: now,
		Payload:   model.TargetLost{LastSeen: tgt.LastSeen},
	}, true, nil
}

func (t *Tracker) lookup(id string) (*entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrTargetNotFound, id)
	}
	return e, nil
}

// snapshotEntries copies the entry set ordered by ID so callers can walk
// targets without holding the map lock.
func (t *Tracker) snapshotEntries() []*entry {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.entries[id])
	}
	t.mu.RUnlock()
	return out
}

func lastFix(tgt *model.Target) (model.Position, bool) {
	if len(tgt.Course) == 0 {
		return model.Position{}, false
	}
	return tgt.Course[len(tgt.Course)-1], true
}

// Validate checks the attributes without touching any target. A nil
// receiver is valid.
func (a *Attributes) Validate() error {
	if a == nil {
		return nil
	}
	if a.Classification != nil && !a.Classification.Valid() {
		return fmt.Errorf("%w: classification %q", model.ErrInvalidArgument, *a.Classification)
	}
	if a.Priority != nil && !a.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", model.ErrInvalidArgument, *a.Priority)
	}
	if a.SpeedMps != nil && (!(*a.SpeedMps >= 0) || math.IsInf(*a.SpeedMps, 1)) {
		return fmt.Errorf("%w: speed %v", model.ErrInvalidArgument, *a.SpeedMps)
	}
	if a.BearingDeg != nil && (math.IsNaN(*a.BearingDeg) || math.IsInf(*a.BearingDeg, 0)) {
		return fmt.Errorf("%w: bearing %v", model.ErrInvalidArgument, *a.BearingDeg)
	}
	if a.Intelligence != nil && !(a.Intelligence.Confidence >= 0 && a.Intelligence.Confidence <= 1) {
		return fmt.Errorf("%w: confidence %v", model.ErrInvalidArgument, a.Intelligence.Confidence)
	}
	return nil
}

func (a *Attributes) apply(tgt *model.Target) {
	if a == nil {
		return
	}
	if a.Name != nil {
		tgt.Name = *a.Name
	}
	if a.Type != nil {
		tgt.Type = *a.Type
	}
	if a.Classification != nil {
		tgt.Classification = *a.Classification
	}
	if a.Priority != nil {
		tgt.Priority = *a.Priority
	}
	if a.Intelligence != nil {
		tgt.Intelligence = *a.Intelligence
		if tgt.Intelligence.LastUpdated.IsZero() {
			tgt.Intelligence.LastUpdated = tgt.Position.Timestamp
		}
	}
	if a.SpeedMps != nil {
		tgt.Movement.SpeedMps = *a.SpeedMps
	}
	if a.BearingDeg != nil {
		tgt.Movement.Bearing = core.NormalizeBearing(*a.BearingDeg)
	}
}
