package model

import (
	"fmt"
	"math"
	"time"
)

// Position is a single WGS84 fix. Accuracy is the reported horizontal
// uncertainty in metres; Altitude is optional.
type Position struct {
	Lat       float64
	Lon       float64
	Altitude  *float64
	Accuracy  float64
	Timestamp time.Time
}

// Validate checks coordinate ranges and rejects non-finite values.
func (p Position) Validate() error {
	switch {
	case math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPosition, p.Lat)
	case math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPosition, p.Lon)
	case math.IsNaN(p.Accuracy) || math.IsInf(p.Accuracy, 0) || p.Accuracy < 0:
		return fmt.Errorf("%w: accuracy %v must be a non-negative number", ErrInvalidPosition, p.Accuracy)
	}
	if p.Altitude != nil && (math.IsNaN(*p.Altitude) || math.IsInf(*p.Altitude, 0)) {
		return fmt.Errorf("%w: altitude must be finite", ErrInvalidPosition)
	}
	return nil
}

// WithLatLon returns a copy of p moved to lat/lon.
func (p Position) WithLatLon(lat, lon float64) Position {
	p.Lat = lat
	p.Lon = lon
	if p.Altitude != nil {
		alt := *p.Altitude
		p.Altitude = &alt
	}
	return p
}

// PositionSample is a raw observation as delivered by a feed. Speed is in
// metres per second and Bearing in degrees clockwise from north; both are
// optional.
type PositionSample struct {
	EntityID        string   `json:"entity_id"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	Altitude        *float64 `json:"altitude,omitempty"`
	Accuracy        float64  `json:"accuracy"`
	Speed           *float64 `json:"speed,omitempty"`
	Bearing         *float64 `json:"bearing,omitempty"`
	TimestampMillis int64    `json:"timestamp"`
}

// Position converts the sample into a Position.
func (s PositionSample) Position() Position {
	return Position{
		Lat:       s.Lat,
		Lon:       s.Lon,
		Altitude:  s.Altitude,
		Accuracy:  s.Accuracy,
		Timestamp: time.UnixMilli(s.TimestampMillis).UTC(),
	}
}

// Bounds is a lat/lon bounding box. It does not handle boxes that cross
// the antimeridian.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// Contains reports whether p lies within b, edges included.
func (b Bounds) Contains(p Position) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Valid reports whether the box is non-empty and within coordinate ranges.
func (b Bounds) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}
