package core

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/geotrack/model"
)

// KalmanConfig tunes KalmanFilter.
type KalmanConfig struct {
	// ProcessNoise is the white-acceleration spectral density (m²/s³).
	ProcessNoise float64
	// MinAccuracy floors reported accuracy in metres.
	MinAccuracy float64
	// InitialVelocityVariance seeds the velocity covariance ((m/s)²).
	InitialVelocityVariance float64
}

// DefaultKalmanConfig suits pedestrian to road-vehicle targets.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		ProcessNoise:            0.5,
		MinAccuracy:             1,
		InitialVelocityVariance: 100,
	}
}

// KalmanFilter is a constant-velocity Kalman filter over a local
// north/east tangent plane anchored at the first fix. State is
// [north, east, vNorth, vEast] in metres and metres per second.
type KalmanFilter struct {
	cfg KalmanConfig

	originLat, originLon float64
	cosLat               float64
	last                 time.Time

	x *mat.VecDense
	p *mat.Dense

	initialized bool
}

// NewKalmanFilter constructs a filter, substituting defaults for
// non-positive parameters.
func NewKalmanFilter(cfg KalmanConfig) *KalmanFilter {
	def := DefaultKalmanConfig()
	if !(cfg.ProcessNoise > 0) {
		cfg.ProcessNoise = def.ProcessNoise
	}
	if !(cfg.MinAccuracy > 0) {
		cfg.MinAccuracy = def.MinAccuracy
	}
	if !(cfg.InitialVelocityVariance > 0) {
		cfg.InitialVelocityVariance = def.InitialVelocityVariance
	}
	return &KalmanFilter{cfg: cfg}
}

// Observe implements PositionFilter.
func (k *KalmanFilter) Observe(raw model.Position) model.Position {
	if !finite(raw.Lat) || !finite(raw.Lon) {
		if !k.initialized {
			return raw
		}
		lat, lon := k.toLatLon(k.x.AtVec(0), k.x.AtVec(1))
		return raw.WithLatLon(lat, lon)
	}

	r := k.measurementVariance(raw.Accuracy)
	if !k.initialized {
		k.originLat, k.originLon = raw.Lat, raw.Lon
		k.cosLat = math.Max(math.Cos(raw.Lat*degToRad), 1e-6)
		k.last = raw.Timestamp
		k.x = mat.NewVecDense(4, nil)
		v := k.cfg.InitialVelocityVariance
		k.p = mat.NewDense(4, 4, []float64{
			r, 0, 0, 0,
			0, r, 0, 0,
			0, 0, v, 0,
			0, 0, 0, v,
		})
		k.initialized = true
		return raw
	}

	if dt := raw.Timestamp.Sub(k.last).Seconds(); dt > 0 {
		k.predict(dt)
		k.last = raw.Timestamp
	}

	north, east := k.toLocal(raw.Lat, raw.Lon)
	k.update(north, east, r)

	lat, lon := k.toLatLon(k.x.AtVec(0), k.x.AtVec(1))
	return raw.WithLatLon(lat, lon)
}

// Velocity returns the current north and east velocity estimate in m/s.
func (k *KalmanFilter) Velocity() (north, east float64) {
	if !k.initialized {
		return 0, 0
	}
	return k.x.AtVec(2), k.x.AtVec(3)
}

// Reset implements PositionFilter.
func (k *KalmanFilter) Reset() {
	*k = KalmanFilter{cfg: k.cfg}
}

func (k *KalmanFilter) predict(dt float64) {
	f := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	q := k.cfg.ProcessNoise
	dt2, dt3 := dt*dt/2*q, dt*dt*dt/3*q
	noise := mat.NewDense(4, 4, []float64{
		dt3, 0, dt2, 0,
		0, dt3, 0, dt2,
		dt2, 0, dt * q, 0,
		0, dt2, 0, dt * q,
	})

	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x = &x

	var fp, fpf mat.Dense
	fp.Mul(f, k.p)
	fpf.Mul(&fp, f.T())
	fpf.Add(&fpf, noise)
	k.p = &fpf
}

func (k *KalmanFilter) update(north, east, r float64) {
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	z := mat.NewVecDense(2, []float64{north, east})

	var hx, innovation mat.VecDense
	hx.MulVec(h, k.x)
	innovation.SubVec(z, &hx)

	var ph, s mat.Dense
	ph.Mul(k.p, h.T())
	s.Mul(h, &ph)
	s.Add(&s, mat.NewDiagDense(2, []float64{r, r}))

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return
	}
	var gain mat.Dense
	gain.Mul(&ph, &sInv)

	var correction, x mat.VecDense
	correction.MulVec(&gain, &innovation)
	x.AddVec(k.x, &correction)
	k.x = &x

	var kh, ikh, p mat.Dense
	kh.Mul(&gain, h)
	ikh.Sub(identity4(), &kh)
	p.Mul(&ikh, k.p)
	k.p = &p
}

func (k *KalmanFilter) measurementVariance(accuracy float64) float64 {
	if !(accuracy >= k.cfg.MinAccuracy) || math.IsInf(accuracy, 0) {
		accuracy = k.cfg.MinAccuracy
	}
	return accuracy * accuracy
}

func (k *KalmanFilter) toLocal(lat, lon float64) (north, east float64) {
	north = (lat - k.originLat) * degToRad * EarthRadiusMeters
	east = BearingDelta(k.originLon, lon) * degToRad * EarthRadiusMeters * k.cosLat
	return north, east
}

func (k *KalmanFilter) toLatLon(north, east float64) (lat, lon float64) {
	lat = clampLat(k.originLat + north/EarthRadiusMeters*radToDeg)
	lon = NormalizeLongitude(k.originLon + east/(EarthRadiusMeters*k.cosLat)*radToDeg)
	return lat, lon
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}
