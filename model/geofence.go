package model

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// ShapeKind names a geometry variant.
type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

// Geometry is the closed set of geofence shapes. Only Circle and Polygon
// implement it.
type Geometry interface {
	Kind() ShapeKind
	Validate() error
	isGeometry()
}

// Circle is a disc around Center. Membership is inclusive of the edge.
type Circle struct {
	Center       Position
	RadiusMeters float64
}

func (Circle) Kind() ShapeKind { return ShapeCircle }
func (Circle) isGeometry()     {}

// Validate requires a valid center and a positive, finite radius.
func (c Circle) Validate() error {
	if err := c.Center.Validate(); err != nil {
		return fmt.Errorf("%w: circle center: %v", ErrInvalidGeometry, err)
	}
	if !(c.RadiusMeters > 0) || math.IsInf(c.RadiusMeters, 0) {
		return fmt.Errorf("%w: circle radius %v must be positive", ErrInvalidGeometry, c.RadiusMeters)
	}
	return nil
}

// Polygon is a simple ring of vertices. The ring is closed implicitly; a
// repeated first vertex at the end is tolerated.
type Polygon struct {
	Ring []Position
}

func (Polygon) Kind() ShapeKind { return ShapePolygon }
func (Polygon) isGeometry()     {}

// Validate requires at least three valid vertices.
func (p Polygon) Validate() error {
	ring := p.Ring
	if n := len(ring); n > 1 && ring[0].Lat == ring[n-1].Lat && ring[0].Lon == ring[n-1].Lon {
		ring = ring[:n-1]
	}
	if len(ring) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidGeometry, len(ring))
	}
	for i, v := range ring {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: vertex %d: %v", ErrInvalidGeometry, i, err)
		}
	}
	return nil
}

// NewCircle builds a validated circle.
func NewCircle(center Position, radiusMeters float64) (Circle, error) {
	c := Circle{Center: center, RadiusMeters: radiusMeters}
	if err := c.Validate(); err != nil {
		return Circle{}, err
	}
	return c, nil
}

// NewPolygon builds a validated polygon. The ring is copied.
func NewPolygon(ring []Position) (Polygon, error) {
	p := Polygon{Ring: slices.Clone(ring)}
	if err := p.Validate(); err != nil {
		return Polygon{}, err
	}
	return p, nil
}

// ValidateGeometry rejects nil and invalid shapes. Only Circle and Polygon
// values are accepted; pointers to them are not.
func ValidateGeometry(g Geometry) error {
	switch g.(type) {
	case nil:
		return fmt.Errorf("%w: geometry is required", ErrInvalidGeometry)
	case Circle, Polygon:
		return g.Validate()
	default:
		return fmt.Errorf("%w: unsupported shape %T", ErrInvalidGeometry, g)
	}
}

// Zone describes the purpose of a geofence.
type Zone string

const (
	// ZoneAlert only reports transitions.
	ZoneAlert Zone = "alert"
	// ZoneRestricted forbids entry to targets that are not authorized.
	ZoneRestricted Zone = "restricted"
	// ZoneSafe forbids exit to targets that are not authorized.
	ZoneSafe Zone = "safe"
)

// TimeRestriction describes recurring windows during which presence inside
// a geofence is a violation. Start and End are minutes since local
// midnight; End < Start wraps past midnight. Empty Days means every day.
type TimeRestriction struct {
	Days     []time.Weekday
	Start    int
	End      int
	Location *time.Location
}

// Active reports whether t falls inside a restricted window.
func (r TimeRestriction) Active(t time.Time) bool {
	if r.Location != nil {
		t = t.In(r.Location)
	}
	minute := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	if r.Start == r.End {
		return r.dayMatches(day)
	}
	if r.Start < r.End {
		return r.dayMatches(day) && minute >= r.Start && minute < r.End
	}
	// Window wraps midnight: the late part belongs to today, the early
	// part to the window that started yesterday.
	if minute >= r.Start {
		return r.dayMatches(day)
	}
	if minute < r.End {
		return r.dayMatches((day + 6) % 7)
	}
	return false
}

func (r TimeRestriction) dayMatches(d time.Weekday) bool {
	return len(r.Days) == 0 || slices.Contains(r.Days, d)
}

// Validate checks the window bounds.
func (r TimeRestriction) Validate() error {
	if r.Start < 0 || r.Start >= 24*60 || r.End < 0 || r.End >= 24*60 {
		return fmt.Errorf("%w: time restriction minutes must be within a day", ErrInvalidArgument)
	}
	return nil
}

// Rules governs which events a geofence produces.
type Rules struct {
	TriggerOnEntry bool
	TriggerOnExit  bool
	TriggerOnDwell bool
	Dwell          time.Duration

	// AllowedTypes restricts which target types may enter. Empty allows all.
	AllowedTypes []string
	// AuthorizedTargets may enter restricted zones and leave safe zones.
	AuthorizedTargets []string

	TimeRestriction *TimeRestriction
}

// Geofence is a named boundary with its rule set.
type Geofence struct {
	ID        string
	Name      string
	Zone      Zone
	Geometry  Geometry
	Rules     Rules
	Active    bool
	CreatedAt time.Time
	Metadata  map[string]string
}

// Validate checks geometry and rules.
func (g *Geofence) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: geofence is nil", ErrInvalidArgument)
	}
	if err := ValidateGeometry(g.Geometry); err != nil {
		return err
	}
	switch g.Zone {
	case "", ZoneAlert, ZoneRestricted, ZoneSafe:
	default:
		return fmt.Errorf("%w: unknown zone %q", ErrInvalidArgument, g.Zone)
	}
	if g.Rules.Dwell < 0 {
		return fmt.Errorf("%w: dwell must not be negative", ErrInvalidArgument)
	}
	if g.Rules.TimeRestriction != nil {
		if err := g.Rules.TimeRestriction.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of g.
func (g *Geofence) Clone() *Geofence {
	if g == nil {
		return nil
	}
	out := *g
	if poly, ok := g.Geometry.(Polygon); ok {
		out.Geometry = Polygon{Ring: slices.Clone(poly.Ring)}
	}
	out.Rules.AllowedTypes = slices.Clone(g.Rules.AllowedTypes)
	out.Rules.AuthorizedTargets = slices.Clone(g.Rules.AuthorizedTargets)
	if g.Rules.TimeRestriction != nil {
		tr := *g.Rules.TimeRestriction
		tr.Days = slices.Clone(tr.Days)
		out.Rules.TimeRestriction = &tr
	}
	if g.Metadata != nil {
		out.Metadata = make(map[string]string, len(g.Metadata))
		for k, v := range g.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
