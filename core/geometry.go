package core

import (
	"math"

	"github.com/signalsfoundry/geotrack/model"
)

// EarthRadiusMeters is the mean Earth radius used for all spherical
// calculations.
const EarthRadiusMeters = 6371000.0

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// Vec3 is an earth-centred cartesian vector. Unit vectors are used for
// positions on the sphere.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// UnitVector maps a lat/lon onto the unit sphere.
func UnitVector(p model.Position) Vec3 {
	lat := p.Lat * degToRad
	lon := p.Lon * degToRad
	return Vec3{
		X: math.Cos(lat) * math.Cos(lon),
		Y: math.Cos(lat) * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

// latLonFromVector is the inverse of UnitVector. v need not be normalised.
func latLonFromVector(v Vec3) (lat, lon float64) {
	lat = math.Atan2(v.Z, math.Hypot(v.X, v.Y)) * radToDeg
	lon = math.Atan2(v.Y, v.X) * radToDeg
	return lat, lon
}

// HaversineDistanceMeters returns the great-circle distance between a and b.
func HaversineDistanceMeters(a, b model.Position) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * degToRad

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if s > 1 {
		s = 1
	}
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// BearingDegrees returns the initial great-circle bearing from a to b in
// [0, 360). Identical points yield 0.
func BearingDegrees(a, b model.Position) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	if x == 0 && y == 0 {
		return 0
	}
	return NormalizeBearing(math.Atan2(y, x) * radToDeg)
}

// NormalizeBearing maps any angle in degrees onto [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// BearingDelta returns the signed turn from one bearing to another in
// (-180, 180].
func BearingDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// NormalizeLongitude maps any longitude onto [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Destination returns the point reached by travelling distanceMeters from
// origin along the given initial bearing. Accuracy, altitude and timestamp
// are carried over from origin.
func Destination(origin model.Position, bearingDeg, distanceMeters float64) model.Position {
	delta := distanceMeters / EarthRadiusMeters
	theta := bearingDeg * degToRad
	lat1 := origin.Lat * degToRad
	lon1 := origin.Lon * degToRad

	sinLat2 := math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta)
	lat2 := math.Asin(math.Max(-1, math.Min(1, sinLat2)))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*sinLat2,
	)

	return origin.WithLatLon(lat2*radToDeg, NormalizeLongitude(lon2*radToDeg))
}

// PointInCircle reports whether p lies within radiusMeters of center,
// edge inclusive.
func PointInCircle(p, center model.Position, radiusMeters float64) bool {
	return HaversineDistanceMeters(p, center) <= radiusMeters
}

// PointInPolygon uses ray casting in the lat/lon plane. The ring is
// treated as closed. Results for self-intersecting rings follow the
// even-odd rule.
func PointInPolygon(p model.Position, ring []model.Position) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := ring[i].Lat, ring[i].Lon
		yj, xj := ring[j].Lat, ring[j].Lon
		if (yi > p.Lat) != (yj > p.Lat) {
			xCross := (xj-xi)*(p.Lat-yi)/(yj-yi) + xi
			if p.Lon < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// LineLengthMeters sums the great-circle lengths of consecutive segments.
func LineLengthMeters(line []model.Position) float64 {
	total := 0.0
	for i := 1; i < len(line); i++ {
		total += HaversineDistanceMeters(line[i-1], line[i])
	}
	return total
}

// NearestPointOnPolyline projects p onto each segment of line and returns
// the closest point, its fraction of the total line length in [0, 1], and
// the distance from p. Segments are treated as chords of the unit sphere,
// which is accurate for segments much shorter than the Earth radius.
//
// An empty line yields the zero Position and an infinite distance.
func NearestPointOnPolyline(p model.Position, line []model.Position) (model.Position, float64, float64) {
	switch len(line) {
	case 0:
		return model.Position{}, 0, math.Inf(1)
	case 1:
		return line[0], 0, HaversineDistanceMeters(p, line[0])
	}

	target := UnitVector(p)
	total := LineLengthMeters(line)

	var best model.Position
	var bestAlong, travelled float64
	bestDist := math.Inf(1)
	for i := 1; i < len(line); i++ {
		a, b := UnitVector(line[i-1]), UnitVector(line[i])
		seg := b.Sub(a)
		segLen := HaversineDistanceMeters(line[i-1], line[i])

		t := 0.0
		if denom := seg.Dot(seg); denom > 0 {
			t = target.Sub(a).Dot(seg) / denom
			t = math.Max(0, math.Min(1, t))
		}
		lat, lon := latLonFromVector(a.Add(seg.Scale(t)))
		candidate := line[i-1].WithLatLon(lat, lon)

		if d := HaversineDistanceMeters(p, candidate); d < bestDist {
			best = candidate
			bestDist = d
			bestAlong = travelled + t*segLen
		}
		travelled += segLen
	}

	fraction := 0.0
	if total > 0 {
		fraction = math.Max(0, math.Min(1, bestAlong/total))
	}
	return best, fraction, bestDist
}

// BoundingBox returns the lat/lon bounds of points. It returns false for an
// empty slice.
func BoundingBox(points []model.Position) (model.Bounds, bool) {
	if len(points) == 0 {
		return model.Bounds{}, false
	}
	b := model.Bounds{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, pt := range points[1:] {
		b.MinLat = math.Min(b.MinLat, pt.Lat)
		b.MaxLat = math.Max(b.MaxLat, pt.Lat)
		b.MinLon = math.Min(b.MinLon, pt.Lon)
		b.MaxLon = math.Max(b.MaxLon, pt.Lon)
	}
	return b, true
}

// Contains reports whether p is inside the geometry.
func Contains(g model.Geometry, p model.Position) bool {
	switch shape := g.(type) {
	case model.Circle:
		return PointInCircle(p, shape.Center, shape.RadiusMeters)
	case model.Polygon:
		return PointInPolygon(p, shape.Ring)
	default:
		return false
	}
}
