// Package alert turns tracker state into proximity and threat events.
package alert

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/model"
)

// Threat factor names reported in assessments.
const (
	FactorHostile          = "hostile_classification"
	FactorCriticalPriority = "critical_priority"
	FactorHighPriority     = "high_priority"
	FactorHighSpeed        = "high_speed"
	FactorUnknown          = "unknown_classification"
	FactorLowConfidence    = "low_intelligence_confidence"
)

// ThreatConfig parameterises AssessThreat.
type ThreatConfig struct {
	// SpeedThresholdMps adds the high-speed factor above this speed.
	SpeedThresholdMps float64
	// LowConfidence adds an informational factor when the intelligence
	// confidence is known and below this value.
	LowConfidence float64
	// MinAlertLevel is the lowest level ObserveThreat reports.
	MinAlertLevel model.ThreatLevel
}

// DefaultThreatConfig returns the default threat rules.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		SpeedThresholdMps: 30,
		LowConfidence:     0.3,
		MinAlertLevel:     model.ThreatHigh,
	}
}

type pairKey struct{ a, b string }

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// ProximityRule watches the distance between two targets.
type ProximityRule struct {
	A, B            string
	ThresholdMeters float64
	Repeat          bool

	inRange bool
}

// RuleOption customises a proximity rule.
type RuleOption func(*ProximityRule)

// WithRepeat makes the rule alert on every check while in range instead
// of once per approach.
func WithRepeat() RuleOption {
	return func(r *ProximityRule) { r.Repeat = true }
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu         sync.Mutex
	rules      map[pairKey]*ProximityRule
	lastThreat map[string]model.ThreatLevel

	cfg ThreatConfig
}

// NewDispatcher constructs a dispatcher with the given threat rules.
func NewDispatcher(cfg ThreatConfig) *Dispatcher {
	def := DefaultThreatConfig()
	if cfg.SpeedThresholdMps <= 0 {
		cfg.SpeedThresholdMps = def.SpeedThresholdMps
	}
	if cfg.MinAlertLevel == "" {
		cfg.MinAlertLevel = def.MinAlertLevel
	}
	return &Dispatcher{
		rules:      make(map[pairKey]*ProximityRule),
		lastThreat: make(map[string]model.ThreatLevel),
		cfg:        cfg,
	}
}

// RegisterProximityRule watches the unordered pair (a, b). Registering an
// existing pair replaces its threshold and resets its state.
func (d *Dispatcher) RegisterProximityRule(a, b string, thresholdMeters float64, opts ...RuleOption) error {
	if a == "" || b == "" {
		return fmt.Errorf("%w: both target ids are required", model.ErrInvalidRule)
	}
	if a == b {
		return fmt.Errorf("%w: a target cannot be paired with itself (%q)", model.ErrInvalidRule, a)
	}
	if !(thresholdMeters > 0) || math.IsInf(thresholdMeters, 0) {
		return fmt.Errorf("%w: threshold %v must be positive", model.ErrInvalidRule, thresholdMeters)
	}
	key := newPairKey(a, b)
	rule := &ProximityRule{A: key.a, B: key.b, ThresholdMeters: thresholdMeters}
	for _, opt := range opts {
		if opt != nil {
			opt(rule)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[key] = rule
	return nil
}

// RemoveProximityRule stops watching the pair.
func (d *Dispatcher) RemoveProximityRule(a, b string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := newPairKey(a, b)
	if _, ok := d.rules[key]; !ok {
		return fmt.Errorf("%w: proximity rule %q/%q", model.ErrNotFound, a, b)
	}
	delete(d.rules, key)
	return nil
}

// Rules returns copies of the registered rules ordered by pair.
func (d *Dispatcher) Rules() []ProximityRule {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ProximityRule, 0, len(d.rules))
	for _, r := range d.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// CheckProximity evaluates every rule against a positions snapshot. A rule
// alerts when its pair crosses into range; it re-arms once the pair is out
// of range or either target is missing from the snapshot.
func (d *Dispatcher) CheckProximity(positions map[string]model.Position, now time.Time) []model.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []model.Event
	for _, rule := range d.rules {
		pa, okA := positions[rule.A]
		pb, okB := positions[rule.B]
		if !okA || !okB {
			rule.inRange = false
			continue
		}
		dist := core.HaversineDistanceMeters(pa, pb)
		if dist > rule.ThresholdMeters {
			rule.inRange = false
			continue
		}
		if rule.inRange && !rule.Repeat {
			continue
		}
		rule.inRange = true
		events = append(events, model.Event{
			ID:        uuid.NewString(),
			TargetID:  rule.A,
			Position:  pa,
			Timestamp: now,
			Payload: model.ProximityAlert{
				OtherID:         rule.B,
				DistanceMeters:  dist,
				ThresholdMeters: rule.ThresholdMeters,
			},
		})
	}
	sort.Slice(events, func(i, j int) bool {
		pi := events[i].Payload.(model.ProximityAlert)
		pj := events[j].Payload.(model.ProximityAlert)
		if events[i].TargetID != events[j].TargetID {
			return events[i].TargetID < events[j].TargetID
		}
		return pi.OtherID < pj.OtherID
	})
	return events
}

// AssessThreat applies the threat rule table to a target. It has no side
// effects.
func (d *Dispatcher) AssessThreat(t *model.Target) model.ThreatAssessment {
	return AssessThreat(t, d.cfg)
}

// AssessThreat is the pure rule table behind Dispatcher.AssessThreat.
//
//	hostile classification   => at least high
//	critical priority        => critical
//	high priority            => at least medium
//	speed above threshold    => factor, low raised to medium
//	unknown classification   => factor only
//	low intelligence         => factor only
func AssessThreat(t *model.Target, cfg ThreatConfig) model.ThreatAssessment {
	level := model.ThreatLow
	var factors []string
	raise := func(to model.ThreatLevel) {
		if to.Rank() > level.Rank() {
			level = to
		}
	}
	if t == nil {
		return model.ThreatAssessment{Level: level}
	}

	switch t.Classification {
	case model.ClassificationHostile:
		factors = append(factors, FactorHostile)
		raise(model.ThreatHigh)
	case model.ClassificationUnknown, "":
		factors = append(factors, FactorUnknown)
	}
	switch t.Priority {
	case model.PriorityCritical:
		factors = append(factors, FactorCriticalPriority)
		raise(model.ThreatCritical)
	case model.PriorityHigh:
		factors = append(factors, FactorHighPriority)
		raise(model.ThreatMedium)
	}
	if cfg.SpeedThresholdMps > 0 && t.Movement.SpeedMps > cfg.SpeedThresholdMps {
		factors = append(factors, FactorHighSpeed)
		raise(model.ThreatMedium)
	}
	if !t.Intelligence.LastUpdated.IsZero() && t.Intelligence.Confidence < cfg.LowConfidence {
		factors = append(factors, FactorLowConfidence)
	}
	return model.ThreatAssessment{Level: level, Factors: factors}
}

// ObserveThreat assesses t and emits ThreatDetected when the level reaches
// the configured minimum and is higher than the last level reported for
// the target. A drop below the minimum re-arms the target.
func (d *Dispatcher) ObserveThreat(t *model.Target, now time.Time) []model.Event {
	if t == nil {
		return nil
	}
	assessment := d.AssessThreat(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	if assessment.Level.Rank() < d.cfg.MinAlertLevel.Rank() {
		delete(d.lastThreat, t.ID)
		return nil
	}
	if prev, ok := d.lastThreat[t.ID]; ok && assessment.Level.Rank() <= prev.Rank() {
		return nil
	}
	d.lastThreat[t.ID] = assessment.Level
	return []model.Event{{
		ID:        uuid.NewString(),
		TargetID:  t.ID,
		Position:  t.Position,
		Timestamp: now,
		Payload: model.ThreatDetected{
			Level:   assessment.Level,
			Factors: slices.Clone(assessment.Factors),
		},
	}}
}

// ForgetTarget drops the threat memory for a target. Proximity rules that
// mention it are left in place and re-arm on the next check.
func (d *Dispatcher) ForgetTarget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastThreat, id)
}
