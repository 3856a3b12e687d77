package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/geotrack/model"
)

func pos(lat, lon float64) model.Position {
	return model.Position{Lat: lat, Lon: lon}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestHaversineKnownDistances(t *testing.T) {
	origin := pos(0, 0)

	if d := HaversineDistanceMeters(origin, origin); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
	if d := HaversineDistanceMeters(origin, pos(0.002, 0)); !approx(d, 222.4, 0.1) {
		t.Fatalf("distance to (0.002,0) = %.2f, want ~222.4", d)
	}
	if d := HaversineDistanceMeters(origin, pos(0.0005, 0)); !approx(d, 55.6, 0.1) {
		t.Fatalf("distance to (0.0005,0) = %.2f, want ~55.6", d)
	}
	// One degree of longitude on the equator.
	if d := HaversineDistanceMeters(origin, pos(0, 1)); !approx(d, 111194.9, 1) {
		t.Fatalf("distance to (0,1) = %.1f, want ~111194.9", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 200 {
		a := pos(rng.Float64()*180-90, rng.Float64()*360-180)
		b := pos(rng.Float64()*180-90, rng.Float64()*360-180)
		if d1, d2 := HaversineDistanceMeters(a, b), HaversineDistanceMeters(b, a); !approx(d1, d2, 1e-6) {
			t.Fatalf("distance not symmetric for %v %v: %v vs %v", a, b, d1, d2)
		}
	}
}

func TestBearingCardinalDirections(t *testing.T) {
	origin := pos(0, 0)
	cases := []struct {
		to   model.Position
		want float64
	}{
		{pos(1, 0), 0},
		{pos(0, 1), 90},
		{pos(-1, 0), 180},
		{pos(0, -1), 270},
	}
	for _, tc := range cases {
		if got := BearingDegrees(origin, tc.to); !approx(got, tc.want, 1e-9) {
			t.Fatalf("bearing to %v = %v, want %v", tc.to, got, tc.want)
		}
	}
	if got := BearingDegrees(origin, origin); got != 0 {
		t.Fatalf("bearing to self = %v, want 0", got)
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	start := pos(48.85, 2.35)
	for _, bearing := range []float64{0, 45, 133, 270, 359} {
		dest := Destination(start, bearing, 2500)
		if d := HaversineDistanceMeters(start, dest); !approx(d, 2500, 0.01) {
			t.Fatalf("bearing %v: travelled %v m, want 2500", bearing, d)
		}
		if b := BearingDegrees(start, dest); !approx(b, bearing, 0.01) && !approx(math.Abs(b-bearing), 360, 0.01) {
			t.Fatalf("bearing %v: back-computed %v", bearing, b)
		}
	}
}

func TestDestinationWrapsAntimeridian(t *testing.T) {
	dest := Destination(pos(0, 179.999), 90, 1000)
	if dest.Lon > -179 || dest.Lon < -180 {
		t.Fatalf("expected wrap to western hemisphere, got lon %v", dest.Lon)
	}
}

func TestPointInCircleMatchesHaversine(t *testing.T) {
	center := pos(51.5, -0.12)
	rng := rand.New(rand.NewSource(11))
	for range 500 {
		p := pos(center.Lat+(rng.Float64()-0.5)*0.01, center.Lon+(rng.Float64()-0.5)*0.01)
		radius := rng.Float64() * 600
		want := HaversineDistanceMeters(p, center) <= radius
		if got := PointInCircle(p, center, radius); got != want {
			t.Fatalf("PointInCircle(%v, r=%v) = %v, want %v", p, radius, got, want)
		}
	}
	if !PointInCircle(center, center, 0) {
		t.Fatalf("center must be inside a zero radius circle (inclusive edge)")
	}
}

func TestPointInPolygonSquare(t *testing.T) {
	square := []model.Position{pos(0, 0), pos(0, 1), pos(1, 1), pos(1, 0)}
	if !PointInPolygon(pos(0.5, 0.5), square) {
		t.Fatalf("(0.5,0.5) should be inside the unit square")
	}
	if PointInPolygon(pos(2, 2), square) {
		t.Fatalf("(2,2) should be outside the unit square")
	}
	closed := append(append([]model.Position{}, square...), square[0])
	if !PointInPolygon(pos(0.25, 0.75), closed) {
		t.Fatalf("explicitly closed ring should behave like the implicit one")
	}
}

func TestPointInPolygonConvexProperties(t *testing.T) {
	hexagon := make([]model.Position, 0, 6)
	center := pos(10, 20)
	for i := range 6 {
		hexagon = append(hexagon, Destination(center, float64(i)*60, 5000))
	}
	bounds, _ := BoundingBox(hexagon)

	rng := rand.New(rand.NewSource(3))
	for range 300 {
		// Strictly inside: inscribed circle radius is 5000*cos(30°).
		inside := Destination(center, rng.Float64()*360, rng.Float64()*4000)
		if !PointInPolygon(inside, hexagon) {
			t.Fatalf("%v should be inside the hexagon", inside)
		}
		outside := pos(bounds.MaxLat+0.001+rng.Float64(), bounds.MinLon-0.001-rng.Float64())
		if PointInPolygon(outside, hexagon) {
			t.Fatalf("%v is outside the bounding box and must be outside", outside)
		}
	}
}

func TestNearestPointOnPolyline(t *testing.T) {
	line := []model.Position{pos(0, 0), pos(0, 0.01), pos(0.01, 0.01)}

	nearest, frac, dist := NearestPointOnPolyline(pos(0.001, 0.005), line)
	if !approx(nearest.Lat, 0, 1e-7) || !approx(nearest.Lon, 0.005, 1e-7) {
		t.Fatalf("nearest = %v, want (0, 0.005)", nearest)
	}
	if !approx(frac, 0.25, 1e-3) {
		t.Fatalf("fraction = %v, want 0.25", frac)
	}
	if !approx(dist, 111.2, 0.2) {
		t.Fatalf("distance = %v, want ~111.2", dist)
	}

	// Beyond the end clamps to the last vertex.
	nearest, frac, _ = NearestPointOnPolyline(pos(0.02, 0.01), line)
	if !approx(nearest.Lat, 0.01, 1e-7) || frac != 1 {
		t.Fatalf("clamped nearest = %v frac %v, want last vertex and 1", nearest, frac)
	}

	if _, _, d := NearestPointOnPolyline(pos(0, 0), nil); !math.IsInf(d, 1) {
		t.Fatalf("empty line distance = %v, want +Inf", d)
	}
}

func TestLineLength(t *testing.T) {
	line := []model.Position{pos(0, 0), pos(0, 1), pos(0, 2)}
	if got := LineLengthMeters(line); !approx(got, 2*111194.9, 2) {
		t.Fatalf("LineLengthMeters = %v", got)
	}
	if got := LineLengthMeters(line[:1]); got != 0 {
		t.Fatalf("single point length = %v, want 0", got)
	}
}

func TestBearingDelta(t *testing.T) {
	cases := []struct{ from, to, want float64 }{
		{10, 20, 10},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
	}
	for _, tc := range cases {
		if got := BearingDelta(tc.from, tc.to); !approx(got, tc.want, 1e-9) {
			t.Fatalf("BearingDelta(%v,%v) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
