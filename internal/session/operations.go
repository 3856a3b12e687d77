package session

import (
	"slices"
	"time"

	"github.com/signalsfoundry/geotrack/internal/alert"
	"github.com/signalsfoundry/geotrack/internal/tracker"
	"github.com/signalsfoundry/geotrack/model"
)

// AddGeofence registers a geofence, enforcing MaxGeofences.
func (s *Session) AddGeofence(g *model.Geofence) (string, error) {
	if err := s.checkRunning(); err != nil {
		return "", err
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if err := s.checkCapacity(s.cfg.MaxGeofences, s.geofences.Count(), "geofences"); err != nil {
		return "", err
	}
	id, err := s.geofences.AddGeofence(g)
	if err != nil {
		return "", err
	}
	s.refreshCounts()
	return id, nil
}

// UpdateGeofence replaces a geofence definition.
func (s *Session) UpdateGeofence(g *model.Geofence) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.geofences.UpdateGeofence(g)
}

// RemoveGeofence deletes a geofence.
func (s *Session) RemoveGeofence(id string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	if err := s.geofences.RemoveGeofence(id); err != nil {
		return err
	}
	s.refreshCounts()
	return nil
}

// SetGeofenceActive enables or disables evaluation of a geofence.
func (s *Session) SetGeofenceActive(id string, active bool) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.geofences.SetActive(id, active)
}

func (s *Session) GetGeofence(id string) (*model.Geofence, error) {
	return s.geofences.GetGeofence(id)
}

func (s *Session) ListGeofences() []*model.Geofence {
	return s.geofences.ListGeofences()
}

// RegisterProximityRule watches the distance between two targets.
func (s *Session) RegisterProximityRule(a, b string, thresholdMeters float64, opts ...alert.RuleOption) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.alerts.RegisterProximityRule(a, b, thresholdMeters, opts...)
}

func (s *Session) RemoveProximityRule(a, b string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.alerts.RemoveProximityRule(a, b)
}

func (s *Session) GetTarget(id string) (*model.Target, error) {
	return s.tracker.GetTarget(id)
}

func (s *Session) PredictMovement(id string, horizon time.Duration) ([]model.Prediction, error) {
	return s.tracker.PredictMovement(id, horizon)
}

func (s *Session) ClassifyMovement(id string) (model.MovementPattern, error) {
	return s.tracker.ClassifyMovement(id)
}

// AssessThreat evaluates the threat rules for a target without recording
// the result.
func (s *Session) AssessThreat(id string) (model.ThreatAssessment, error) {
	tgt, err := s.tracker.GetTarget(id)
	if err != nil {
		return model.ThreatAssessment{}, err
	}
	return s.alerts.AssessThreat(tgt), nil
}

func (s *Session) SetTargetStatus(id string, status model.Status) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	if err := s.tracker.SetStatus(id, status); err != nil {
		return err
	}
	s.refreshCounts()
	return nil
}

// RemoveTarget drops a target with its containment and threat state.
func (s *Session) RemoveTarget(id string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	if err := s.tracker.RemoveTarget(id); err != nil {
		return err
	}
	s.alerts.ForgetTarget(id)
	s.refreshCounts()
	return nil
}

func (s *Session) AssignRoute(id string, path []model.Position, toleranceMeters float64) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.tracker.AssignRoute(id, path, toleranceMeters)
}

func (s *Session) ClearRoute(id string) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	return s.tracker.ClearRoute(id)
}

func (s *Session) RouteStatus(id string) (tracker.RouteStatus, error) {
	return s.tracker.RouteStatus(id)
}

// Filters narrows the Targets view. Empty fields match everything.
type Filters struct {
	Classifications []model.Classification
	Types           []string
	Statuses        []model.Status
	Area            *model.Bounds
}

// Match reports whether t passes every configured filter. Area filters
// only match targets that have a position.
func (f Filters) Match(t *model.Target) bool {
	if len(f.Classifications) > 0 && !slices.Contains(f.Classifications, t.Classification) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.Area != nil && (len(t.Course) == 0 || !f.Area.Contains(t.Position)) {
		return false
	}
	return true
}

// SetFilters replaces the active view filters.
func (s *Session) SetFilters(f Filters) error {
	if f.Area != nil && !f.Area.Valid() {
		return invalidArea(*f.Area)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = Filters{
		Classifications: slices.Clone(f.Classifications),
		Types:           slices.Clone(f.Types),
		Statuses:        slices.Clone(f.Statuses),
		Area:            f.Area,
	}
	return nil
}

// Filters returns the active view filters.
func (s *Session) Filters() Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// Targets returns copies of the targets passing the session area and the
// active filters, ordered by ID.
func (s *Session) Targets() []*model.Target {
	f := s.Filters()
	area := Filters{Area: s.cfg.Area}
	var out []*model.Target
	for _, t := range s.tracker.ListTargets() {
		if area.Match(t) && f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	ID              string
	TakenAt         time.Time
	Targets         []*model.Target
	Geofences       []*model.Geofence
	ProximityRules  []alert.ProximityRule
	TargetsByStatus map[model.Status]int
	QueuedEvents    int
	DroppedEvents   uint64
	Stopped         bool
}

// Snapshot copies the session state. Targets are not filtered.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:              s.cfg.ID,
		TakenAt:         s.now(),
		Targets:         s.tracker.ListTargets(),
		Geofences:       s.geofences.ListGeofences(),
		ProximityRules:  s.alerts.Rules(),
		TargetsByStatus: s.tracker.CountByStatus(),
		QueuedEvents:    s.queue.Len(),
		DroppedEvents:   s.queue.Dropped(),
		Stopped:         s.Stopped(),
	}
}
