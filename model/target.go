package model

import (
	"fmt"
	"time"
)

// Classification is the identification of a target's allegiance.
type Classification string

const (
	ClassificationFriendly Classification = "friendly"
	ClassificationHostile  Classification = "hostile"
	ClassificationNeutral  Classification = "neutral"
	ClassificationUnknown  Classification = "unknown"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationFriendly, ClassificationHostile, ClassificationNeutral, ClassificationUnknown:
		return true
	}
	return false
}

// Priority ranks how much attention a target deserves.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from 0 (low) to 3 (critical); unknown values rank
// as low.
func (p Priority) Rank() int {
	switch p {
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	}
	return 0
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the lifecycle state of a target.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusLost      Status = "lost"
	StatusDestroyed Status = "destroyed"
)

// Movement is the derived kinematic state. SpeedMps is metres per second,
// Bearing is degrees clockwise from true north in [0, 360).
type Movement struct {
	SpeedMps float64
	Bearing  float64
}

// Intelligence carries provenance for a target's classification.
type Intelligence struct {
	Confidence  float64 // 0..1
	Reliability string  // source grade, e.g. "A".."F"
	Source      string
	LastUpdated time.Time
}

// Target is a tracked entity. Course holds the most recent filtered
// positions, oldest first.
type Target struct {
	ID             string
	Name           string
	Type           string // e.g. "vehicle", "vessel", "aircraft", "person"
	Classification Classification
	Priority       Priority
	Status         Status

	Position     Position
	Movement     Movement
	Course       []Position
	Intelligence Intelligence
	Metadata     map[string]string

	CreatedAt time.Time
	LastSeen  time.Time
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Target) Clone() *Target {
	if t == nil {
		return nil
	}
	out := *t
	out.Position = t.Position.WithLatLon(t.Position.Lat, t.Position.Lon)
	if t.Course != nil {
		out.Course = make([]Position, len(t.Course))
		copy(out.Course, t.Course)
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// ValidateTransition reports whether a target may move from one status to
// another through an explicit status update. Lost is only ever assigned by
// the sweep and nothing leaves Destroyed.
func ValidateTransition(from, to Status) error {
	switch {
	case from == StatusDestroyed:
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	case to == StatusLost:
		return fmt.Errorf("%w: %s is assigned by the lost sweep", ErrInvalidTransition, to)
	case to != StatusActive && to != StatusInactive && to != StatusDestroyed:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	return nil
}

// ThreatLevel grades an assessed threat.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Rank orders levels from 0 (low) to 3 (critical).
func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatMedium:
		return 1
	case ThreatHigh:
		return 2
	case ThreatCritical:
		return 3
	}
	return 0
}

// ThreatAssessment is the outcome of a threat rule evaluation.
type ThreatAssessment struct {
	Level   ThreatLevel
	Factors []string
}

// MovementPattern is the coarse classification of a target's recent course.
type MovementPattern string

const (
	PatternStationary MovementPattern = "stationary"
	PatternLinear     MovementPattern = "linear"
	PatternCircular   MovementPattern = "circular"
	PatternRandom     MovementPattern = "random"
	PatternPatrol     MovementPattern = "patrol"
)

// Prediction is one extrapolated future position.
type Prediction struct {
	Position   Position
	Confidence float64
}
