package model

import "time"

// EventKind names an Event payload variant.
type EventKind string

const (
	EventEntry          EventKind = "entry"
	EventExit           EventKind = "exit"
	EventDwell          EventKind = "dwell"
	EventViolation      EventKind = "violation"
	EventProximityAlert EventKind = "proximity_alert"
	EventThreatDetected EventKind = "threat_detected"
	EventTargetLost     EventKind = "target_lost"
)

// ViolationKind names the rule a Violation broke.
type ViolationKind string

const (
	ViolationUnauthorizedType ViolationKind = "unauthorized_type"
	ViolationRestrictedEntry  ViolationKind = "restricted_entry"
	ViolationUnauthorizedExit ViolationKind = "unauthorized_exit"
	ViolationTimeRestriction  ViolationKind = "time_restriction"
	ViolationRouteDeviation   ViolationKind = "route_deviation"
)

// Payload is the closed set of event bodies. Consumers type-switch on it.
type Payload interface {
	Kind() EventKind
	isPayload()
}

// Entry is emitted when a target crosses into a geofence.
type Entry struct{}

// Exit is emitted when a target leaves a geofence.
type Exit struct{}

// Dwell is emitted once per containment when a target has stayed inside
// for at least the configured dwell time.
type Dwell struct {
	Duration time.Duration
}

// Violation is emitted when a rule is broken.
type Violation struct {
	Type   ViolationKind
	Detail string
}

// ProximityAlert is emitted when two targets come within a threshold.
type ProximityAlert struct {
	OtherID         string
	DistanceMeters  float64
	ThresholdMeters float64
}

// ThreatDetected is emitted when a target's assessed threat rises.
type ThreatDetected struct {
	Level   ThreatLevel
	Factors []string
}

// TargetLost is emitted when a target stops reporting.
type TargetLost struct {
	LastSeen time.Time
}

func (Entry) Kind() EventKind          { return EventEntry }
func (Exit) Kind() EventKind           { return EventExit }
func (Dwell) Kind() EventKind          { return EventDwell }
func (Violation) Kind() EventKind      { return EventViolation }
func (ProximityAlert) Kind() EventKind { return EventProximityAlert }
func (ThreatDetected) Kind() EventKind { return EventThreatDetected }
func (TargetLost) Kind() EventKind     { return EventTargetLost }

func (Entry) isPayload()          {}
func (Exit) isPayload()           {}
func (Dwell) isPayload()          {}
func (Violation) isPayload()      {}
func (ProximityAlert) isPayload() {}
func (ThreatDetected) isPayload() {}
func (TargetLost) isPayload()     {}

// Event is a discrete occurrence produced by the engine. GeofenceID is set
// for geofence events only.
type Event struct {
	ID         string
	TargetID   string
	GeofenceID string
	Position   Position
	Timestamp  time.Time
	Payload    Payload
}

// Kind returns the payload kind, or "" for an empty event.
func (e Event) Kind() EventKind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}
