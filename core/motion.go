package core

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/geotrack/model"
)

// MotionModel yields the true position of a synthetic entity. It feeds the
// simulator and tests; the tracker never sees these models.
type MotionModel interface {
	PositionAt(t time.Time) model.Position
}

// StaticMotionModel never moves.
type StaticMotionModel struct {
	Position model.Position
}

// PositionAt returns the fixed position stamped with t.
func (m StaticMotionModel) PositionAt(t time.Time) model.Position {
	p := m.Position.WithLatLon(m.Position.Lat, m.Position.Lon)
	p.Timestamp = t
	return p
}

// LinearMotionModel moves at a constant speed along a great circle.
type LinearMotionModel struct {
	Origin     model.Position
	BearingDeg float64
	SpeedMps   float64
	Start      time.Time
}

// PositionAt implements MotionModel.
func (m LinearMotionModel) PositionAt(t time.Time) model.Position {
	elapsed := math.Max(0, t.Sub(m.Start).Seconds())
	p := Destination(m.Origin, m.BearingDeg, m.SpeedMps*elapsed)
	p.Timestamp = t
	return p
}

// CircularMotionModel orbits Center clockwise once per Period.
type CircularMotionModel struct {
	Center       model.Position
	RadiusMeters float64
	Period       time.Duration
	Start        time.Time
}

// PositionAt implements MotionModel.
func (m CircularMotionModel) PositionAt(t time.Time) model.Position {
	angle := 0.0
	if m.Period > 0 {
		angle = 360 * t.Sub(m.Start).Seconds() / m.Period.Seconds()
	}
	p := Destination(m.Center, NormalizeBearing(angle), m.RadiusMeters)
	p.Timestamp = t
	return p
}

// WaypointMotionModel walks a polyline at constant speed and, when Loop is
// set, walks it back and forth like a patrol.
type WaypointMotionModel struct {
	Waypoints []model.Position
	SpeedMps  float64
	Start     time.Time
	Loop      bool
}

// PositionAt implements MotionModel.
func (m WaypointMotionModel) PositionAt(t time.Time) model.Position {
	if len(m.Waypoints) == 0 {
		return model.Position{Timestamp: t}
	}
	total := LineLengthMeters(m.Waypoints)
	along := math.Max(0, t.Sub(m.Start).Seconds()) * m.SpeedMps
	if total > 0 && m.Loop {
		along = math.Mod(along, 2*total)
		if along > total {
			along = 2*total - along
		}
	}
	along = math.Min(along, total)

	for i := 1; i < len(m.Waypoints); i++ {
		a, b := m.Waypoints[i-1], m.Waypoints[i]
		seg := HaversineDistanceMeters(a, b)
		if along <= seg || i == len(m.Waypoints)-1 {
			p := Destination(a, BearingDegrees(a, b), math.Min(along, seg))
			p.Timestamp = t
			return p
		}
		along -= seg
	}
	p := m.Waypoints[0].WithLatLon(m.Waypoints[0].Lat, m.Waypoints[0].Lon)
	p.Timestamp = t
	return p
}

// OrbitalSGP4MotionModel propagates a TLE with SGP4 and reports the
// sub-satellite point, with altitude in metres.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) *OrbitalSGP4MotionModel {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4MotionModel{sat: sat}
}

// PositionAt implements MotionModel. go-satellite works in kilometres.
func (m *OrbitalSGP4MotionModel) PositionAt(t time.Time) model.Position {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	v := Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	lat, lon := latLonFromVector(v)
	alt := (v.Norm() - EarthRadiusMeters/1000) * 1000
	return model.Position{Lat: lat, Lon: lon, Altitude: &alt, Timestamp: t}
}

// NoisyMotionModel perturbs an inner model with Gaussian horizontal noise
// and reports SigmaMeters as the fix accuracy.
type NoisyMotionModel struct {
	Inner       MotionModel
	SigmaMeters float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewNoisyMotionModel wraps inner with seeded noise.
func NewNoisyMotionModel(inner MotionModel, sigmaMeters float64, seed int64) *NoisyMotionModel {
	return &NoisyMotionModel{Inner: inner, SigmaMeters: sigmaMeters, rng: rand.New(rand.NewSource(seed))}
}

// PositionAt implements MotionModel.
func (m *NoisyMotionModel) PositionAt(t time.Time) model.Position {
	p := m.Inner.PositionAt(t)
	if m.SigmaMeters <= 0 {
		return p
	}
	m.mu.Lock()
	bearing := m.rng.Float64() * 360
	dist := math.Abs(m.rng.NormFloat64()) * m.SigmaMeters
	m.mu.Unlock()

	noisy := Destination(p, bearing, dist)
	noisy.Accuracy = m.SigmaMeters
	return noisy
}

// SampleSink receives generated samples.
type SampleSink interface {
	Ingest(sample model.PositionSample) error
}

// SampleSinkFunc adapts a function to SampleSink.
type SampleSinkFunc func(model.PositionSample) error

// Ingest implements SampleSink.
func (f SampleSinkFunc) Ingest(s model.PositionSample) error { return f(s) }

// Fleet drives a set of motion models and emits one sample per entity per
// tick.
type Fleet struct {
	mu     sync.RWMutex
	models map[string]MotionModel
	sink   SampleSink
}

// NewFleet constructs an empty fleet delivering to sink.
func NewFleet(sink SampleSink) *Fleet {
	return &Fleet{models: make(map[string]MotionModel), sink: sink}
}

// Add registers a model for an entity id.
func (f *Fleet) Add(id string, m MotionModel) error {
	if id == "" || m == nil {
		return fmt.Errorf("%w: fleet entity needs an id and a model", model.ErrInvalidArgument)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[id]; ok {
		return fmt.Errorf("%w: fleet entity %q", model.ErrAlreadyExists, id)
	}
	f.models[id] = m
	return nil
}

// Remove stops generating samples for id.
func (f *Fleet) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[id]; !ok {
		return fmt.Errorf("%w: fleet entity %q", model.ErrNotFound, id)
	}
	delete(f.models, id)
	return nil
}

// Step samples every entity at t in id order and delivers the samples. The
// first delivery error is returned after all entities were attempted.
func (f *Fleet) Step(t time.Time) error {
	f.mu.RLock()
	ids := make([]string, 0, len(f.models))
	for id := range f.models {
		ids = append(ids, id)
	}
	models := make(map[string]MotionModel, len(f.models))
	for id, m := range f.models {
		models[id] = m
	}
	f.mu.RUnlock()
	sort.Strings(ids)

	var firstErr error
	for _, id := range ids {
		p := models[id].PositionAt(t)
		sample := model.PositionSample{
			EntityID:        id,
			Lat:             p.Lat,
			Lon:             p.Lon,
			Altitude:        p.Altitude,
			Accuracy:        p.Accuracy,
			TimestampMillis: t.UnixMilli(),
		}
		if err := f.sink.Ingest(sample); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ingest %q: %w", id, err)
		}
	}
	return firstErr
}
