package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/geotrack/model"
)

// PositionFilter smooths a stream of raw fixes for a single entity.
// Implementations are not safe for concurrent use; the tracker serialises
// calls per entity.
type PositionFilter interface {
	// Observe folds raw into the filter state and returns the estimate.
	// The first observation is returned unchanged.
	Observe(raw model.Position) model.Position
	// Reset forgets all state.
	Reset()
}

// FilterFactory builds a fresh filter for a newly tracked entity.
type FilterFactory func() PositionFilter

// Filter strategy names accepted by FilterFactoryFor.
const (
	FilterSmoothing = "smoothing"
	FilterKalman    = "kalman"
	FilterNone      = "none"
)

// FilterFactoryFor resolves a strategy name to a factory using default
// parameters.
func FilterFactoryFor(name string) (FilterFactory, error) {
	switch strings.ToLower(name) {
	case "", FilterSmoothing:
		cfg := DefaultSmoothingConfig()
		return func() PositionFilter { return NewSmoothingFilter(cfg) }, nil
	case FilterKalman:
		cfg := DefaultKalmanConfig()
		return func() PositionFilter { return NewKalmanFilter(cfg) }, nil
	case FilterNone:
		return func() PositionFilter { return PassThroughFilter{} }, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", model.ErrInvalidArgument, name)
	}
}

// PassThroughFilter returns every observation unchanged.
type PassThroughFilter struct{}

func (PassThroughFilter) Observe(raw model.Position) model.Position { return raw }
func (PassThroughFilter) Reset()                                    {}

// SmoothingConfig tunes SmoothingFilter.
type SmoothingConfig struct {
	// ReferenceAccuracy is the accuracy in metres at which the filter
	// trusts prediction and measurement equally.
	ReferenceAccuracy float64
	// MinAccuracy floors reported accuracy so a zero never yields a
	// degenerate gain.
	MinAccuracy float64
	// DecayFactor scales each correction into the next velocity estimate.
	DecayFactor float64
}

// DefaultSmoothingConfig returns the tracker's default tuning.
func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		ReferenceAccuracy: 10,
		MinAccuracy:       1,
		DecayFactor:       0.5,
	}
}

// SmoothingFilter blends a velocity-predicted estimate with each raw fix.
// The blend gain grows as reported accuracy improves (smaller values).
// Velocities are in degrees per observation.
type SmoothingFilter struct {
	cfg SmoothingConfig

	lastLat, lastLon         float64
	velocityLat, velocityLon float64
	initialized              bool
}

// NewSmoothingFilter constructs a filter, substituting defaults for
// non-positive parameters.
func NewSmoothingFilter(cfg SmoothingConfig) *SmoothingFilter {
	def := DefaultSmoothingConfig()
	if !(cfg.ReferenceAccuracy > 0) {
		cfg.ReferenceAccuracy = def.ReferenceAccuracy
	}
	if !(cfg.MinAccuracy > 0) {
		cfg.MinAccuracy = def.MinAccuracy
	}
	if !(cfg.DecayFactor >= 0) || cfg.DecayFactor > 1 {
		cfg.DecayFactor = def.DecayFactor
	}
	return &SmoothingFilter{cfg: cfg}
}

// Observe implements PositionFilter.
func (f *SmoothingFilter) Observe(raw model.Position) model.Position {
	if !finite(raw.Lat) || !finite(raw.Lon) {
		if !f.initialized {
			return raw
		}
		return raw.WithLatLon(f.lastLat, f.lastLon)
	}
	if !f.initialized {
		f.lastLat, f.lastLon = raw.Lat, raw.Lon
		f.velocityLat, f.velocityLon = 0, 0
		f.initialized = true
		return raw
	}

	predLat := clampLat(f.lastLat + f.velocityLat)
	predLon := NormalizeLongitude(f.lastLon + f.velocityLon)

	gain := f.gain(raw.Accuracy)
	corrLat := gain * (raw.Lat - predLat)
	corrLon := gain * BearingDelta(predLon, raw.Lon)

	lat := clampLat(predLat + corrLat)
	lon := NormalizeLongitude(predLon + corrLon)

	f.velocityLat = corrLat * f.cfg.DecayFactor
	f.velocityLon = corrLon * f.cfg.DecayFactor
	f.lastLat, f.lastLon = lat, lon

	return raw.WithLatLon(lat, lon)
}

func (f *SmoothingFilter) gain(accuracy float64) float64 {
	if !(accuracy >= f.cfg.MinAccuracy) || math.IsInf(accuracy, 0) {
		if math.IsInf(accuracy, 1) {
			return 0
		}
		accuracy = f.cfg.MinAccuracy
	}
	return f.cfg.ReferenceAccuracy / (f.cfg.ReferenceAccuracy + accuracy)
}

// Reset implements PositionFilter.
func (f *SmoothingFilter) Reset() {
	f.lastLat, f.lastLon = 0, 0
	f.velocityLat, f.velocityLon = 0, 0
	f.initialized = false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}
