package tracker

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/model"
)

// route is a planned path with a corridor half-width. offRoute remembers
// the last verdict so deviations are reported once per departure.
type route struct {
	path            []model.Position
	toleranceMeters float64
	offRoute        bool
}

// RouteStatus describes a target's position relative to its planned path.
type RouteStatus struct {
	Assigned        bool
	OffRoute        bool
	DistanceMeters  float64
	FractionAlong   float64
	Nearest         model.Position
	ToleranceMeters float64
}

// AssignRoute attaches a planned path to a target. Leaving the corridor of
// toleranceMeters around the path emits a route-deviation violation.
func (t *Tracker) AssignRoute(id string, path []model.Position, toleranceMeters float64) error {
	if len(path) < 2 {
		return fmt.Errorf("%w: route needs at least 2 points", model.ErrInvalidArgument)
	}
	if !(toleranceMeters > 0) {
		return fmt.Errorf("%w: route tolerance %v must be positive", model.ErrInvalidArgument, toleranceMeters)
	}
	for i, p := range path {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("route point %d: %w", i, err)
		}
	}

	e, err := t.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.route = &route{path: slices.Clone(path), toleranceMeters: toleranceMeters}
	return nil
}

// ClearRoute removes a target's planned path.
func (t *Tracker) ClearRoute(id string) error {
	e, err := t.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.route = nil
	return nil
}

// RouteStatus reports where the target sits relative to its route.
func (t *Tracker) RouteStatus(id string) (RouteStatus, error) {
	e, err := t.lookup(id)
	if err != nil {
		return RouteStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.route == nil || len(e.target.Course) == 0 {
		return RouteStatus{Assigned: e.route != nil}, nil
	}
	nearest, frac, dist := core.NearestPointOnPolyline(e.target.Position, e.route.path)
	return RouteStatus{
		Assigned:        true,
		OffRoute:        dist > e.route.toleranceMeters,
		DistanceMeters:  dist,
		FractionAlong:   frac,
		Nearest:         nearest,
		ToleranceMeters: e.route.toleranceMeters,
	}, nil
}

// checkRoute must be called with e.mu held.
func (e *entry) checkRoute(id string, p model.Position) (model.Event, bool) {
	if e.route == nil {
		return model.Event{}, false
	}
	_, frac, dist := core.NearestPointOnPolyline(p, e.route.path)
	off := dist > e.route.toleranceMeters
	wasOff := e.route.offRoute
	e.route.offRoute = off
	if !off || wasOff {
		return model.Event{}, false
	}
	return model.Event{
		ID:        uuid.NewString(),
		TargetID:  id,
		Position:  p,
		Timestamp: p.Timestamp,
		Payload: model.Violation{
			Type:   model.ViolationRouteDeviation,
			Detail: fmt.Sprintf("%.0f m off route at %.0f%% along", dist, frac*100),
		},
	}, true
}
