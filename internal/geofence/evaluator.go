// Package geofence tracks per-target containment against a set of
// geofences and turns containment transitions into events.
package geofence

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/model"
)

type stateKey struct {
	targetID   string
	geofenceID string
}

// containment is the per (target, geofence) memory used for edge
// detection. enteredAt is zero while outside.
type containment struct {
	inside     bool
	enteredAt  time.Time
	dwellFired bool
	last       model.Position
}

// Evaluator owns geofence definitions and containment state. It is safe
// for concurrent use.
type Evaluator struct {
	mu     sync.RWMutex
	fences map[string]*model.Geofence
	states map[stateKey]*containment

	log logging.Logger
	now func() time.Time
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) { e.log = logging.OrNoop(l) }
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator constructs an empty evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		fences: make(map[string]*model.Geofence),
		states: make(map[stateKey]*containment),
		log:    logging.Noop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// AddGeofence validates and stores a copy of g. An empty ID is replaced by
// a generated one, which is returned.
func (e *Evaluator) AddGeofence(g *model.Geofence) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}
	stored := g.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Zone == "" {
		stored.Zone = model.ZoneAlert
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.fences[stored.ID]; exists {
		return "", fmt.Errorf("%w: %q", model.ErrGeofenceExists, stored.ID)
	}
	e.fences[stored.ID] = stored
	return stored.ID, nil
}

// UpdateGeofence replaces an existing geofence. Containment state for it
// is discarded, so targets already inside report a fresh Entry on their
// next evaluation.
func (e *Evaluator) UpdateGeofence(g *model.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	stored := g.Clone()
	if stored.Zone == "" {
		stored.Zone = model.ZoneAlert
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.fences[stored.ID]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrGeofenceNotFound, stored.ID)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = prev.CreatedAt
	}
	e.fences[stored.ID] = stored
	e.dropGeofenceStatesLocked(stored.ID)
	return nil
}

// RemoveGeofence deletes a geofence and all containment state for it.
func (e *Evaluator) RemoveGeofence(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.fences[id]; !ok {
		return fmt.Errorf("%w: %q", model.ErrGeofenceNotFound, id)
	}
	delete(e.fences, id)
	e.dropGeofenceStatesLocked(id)
	return nil
}

// SetActive enables or disables evaluation of a geofence. Containment
// state is kept while inactive.
func (e *Evaluator) SetActive(id string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.fences[id]
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrGeofenceNotFound, id)
	}
	g.Active = active
	return nil
}

// GetGeofence returns a copy of the geofence.
func (e *Evaluator) GetGeofence(id string) (*model.Geofence, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.fences[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrGeofenceNotFound, id)
	}
	return g.Clone(), nil
}

// ListGeofences returns copies of all geofences ordered by ID.
func (e *Evaluator) ListGeofences() []*model.Geofence {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Geofence, 0, len(e.fences))
	for _, g := range e.fences {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of stored geofences.
func (e *Evaluator) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.fences)
}

// Inside reports whether the evaluator currently considers the target
// inside the geofence.
func (e *Evaluator) Inside(targetID, geofenceID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[stateKey{targetID, geofenceID}]
	return ok && st.inside
}

// Evaluate tests p against every active geofence and returns the events
// produced by containment transitions. Events are ordered by geofence ID.
func (e *Evaluator) Evaluate(targetID string, p model.Position, targetType string) []model.Event {
	now := p.Timestamp

	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.fences))
	for id, g := range e.fences {
		if g.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var events []model.Event
	for _, id := range ids {
		g := e.fences[id]
		key := stateKey{targetID, id}
		st, ok := e.states[key]
		if !ok {
			st = &containment{}
			e.states[key] = st
		}
		inside := core.Contains(g.Geometry, p)

		switch {
		case inside && !st.inside:
			st.inside = true
			st.enteredAt = now
			st.dwellFired = false
			if g.Rules.TriggerOnEntry {
				events = append(events, newEvent(targetID, id, p, model.Entry{}))
			}
			events = append(events, entryViolations(g, targetID, targetType, p)...)

		case !inside && st.inside:
			st.inside = false
			st.enteredAt = time.Time{}
			st.dwellFired = false
			if g.Rules.TriggerOnExit {
				events = append(events, newEvent(targetID, id, p, model.Exit{}))
			}
			if g.Zone == model.ZoneSafe && !slices.Contains(g.Rules.AuthorizedTargets, targetID) {
				events = append(events, newEvent(targetID, id, p, model.Violation{
					Type:   model.ViolationUnauthorizedExit,
					Detail: fmt.Sprintf("left safe zone %q", g.Name),
				}))
			}

		case inside && st.inside:
			if g.Rules.TriggerOnDwell && !st.dwellFired {
				if elapsed := now.Sub(st.enteredAt); elapsed >= g.Rules.Dwell {
					st.dwellFired = true
					events = append(events, newEvent(targetID, id, p, model.Dwell{Duration: elapsed}))
				}
			}
		}
		st.last = p
	}

	if len(events) > 0 {
		log := logging.ForTarget(e.log, targetID)
		for _, ev := range events {
			logging.ForGeofence(log, ev.GeofenceID).Debug(context.Background(), "geofence transition",
				logging.String("event_kind", string(ev.Kind())),
			)
		}
	}
	return events
}

// CheckTimeRestrictions emits a time-restriction violation for every
// target currently inside an active geofence whose restriction window is
// open at now. It fires on every call while the condition holds.
func (e *Evaluator) CheckTimeRestrictions(now time.Time) []model.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var events []model.Event
	for key, st := range e.states {
		if !st.inside {
			continue
		}
		g, ok := e.fences[key.geofenceID]
		if !ok || !g.Active || g.Rules.TimeRestriction == nil {
			continue
		}
		if !g.Rules.TimeRestriction.Active(now) {
			continue
		}
		ev := newEvent(key.targetID, key.geofenceID, st.last, model.Violation{
			Type:   model.ViolationTimeRestriction,
			Detail: fmt.Sprintf("inside %q during restricted hours", g.Name),
		})
		ev.Timestamp = now
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].TargetID != events[j].TargetID {
			return events[i].TargetID < events[j].TargetID
		}
		return events[i].GeofenceID < events[j].GeofenceID
	})
	return events
}

// ForgetTarget drops all containment state for a target.
func (e *Evaluator) ForgetTarget(targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.states {
		if key.targetID == targetID {
			delete(e.states, key)
		}
	}
}

func (e *Evaluator) dropGeofenceStatesLocked(geofenceID string) {
	for key := range e.states {
		if key.geofenceID == geofenceID {
			delete(e.states, key)
		}
	}
}

func entryViolations(g *model.Geofence, targetID, targetType string, p model.Position) []model.Event {
	var out []model.Event
	if len(g.Rules.AllowedTypes) > 0 && !slices.Contains(g.Rules.AllowedTypes, targetType) {
		out = append(out, newEvent(targetID, g.ID, p, model.Violation{
			Type:   model.ViolationUnauthorizedType,
			Detail: fmt.Sprintf("type %q not allowed in %q", targetType, g.Name),
		}))
	}
	if g.Zone == model.ZoneRestricted && !slices.Contains(g.Rules.AuthorizedTargets, targetID) {
		out = append(out, newEvent(targetID, g.ID, p, model.Violation{
			Type:   model.ViolationRestrictedEntry,
			Detail: fmt.Sprintf("entered restricted zone %q", g.Name),
		}))
	}
	if tr := g.Rules.TimeRestriction; tr != nil && tr.Active(p.Timestamp) {
		out = append(out, newEvent(targetID, g.ID, p, model.Violation{
			Type:   model.ViolationTimeRestriction,
			Detail: fmt.Sprintf("entered %q during restricted hours", g.Name),
		}))
	}
	return out
}

func newEvent(targetID, geofenceID string, p model.Position, payload model.Payload) model.Event {
	return model.Event{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		GeofenceID: geofenceID,
		Position:   p,
		Timestamp:  p.Timestamp,
		Payload:    payload,
	}
}
