package tracker

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/model"
)

// minSegmentMeters ignores jitter-sized hops when measuring turns.
const minSegmentMeters = 1.0

// PredictMovement extrapolates the target along its current bearing at its
// current speed, one point per prediction step up to horizon. The last
// point lands exactly on the horizon. Confidence decays linearly from 1 to
// the configured floor at the horizon. A non-positive horizon yields no
// points.
func (t *Tracker) PredictMovement(id string, horizon time.Duration) ([]model.Prediction, error) {
	tgt, err := t.GetTarget(id)
	if err != nil {
		return nil, err
	}
	if horizon <= 0 {
		return nil, nil
	}

	step := t.cfg.PredictionStep
	floor := t.cfg.MinPredictionConfidence
	n := int(math.Ceil(float64(horizon) / float64(step)))
	out := make([]model.Prediction, 0, n)
	for i := 1; i <= n; i++ {
		offset := time.Duration(i) * step
		if offset > horizon {
			offset = horizon
		}
		frac := offset.Seconds() / horizon.Seconds()
		p := core.Destination(tgt.Position, tgt.Movement.Bearing, tgt.Movement.SpeedMps*offset.Seconds())
		p.Timestamp = tgt.Position.Timestamp.Add(offset)
		out = append(out, model.Prediction{
			Position:   p,
			Confidence: math.Max(floor, 1-(1-floor)*frac),
		})
	}
	return out, nil
}

// ClassifyMovement labels the target's recent course. With fewer than
// three course points the target is considered stationary.
//
// Order of checks: all segment speeds under the stationary threshold is
// Stationary; a small mean absolute turn is Linear; a net turn close to a
// full revolution is Circular; a large mean absolute turn is Random;
// anything else is Patrol.
func (t *Tracker) ClassifyMovement(id string) (model.MovementPattern, error) {
	tgt, err := t.GetTarget(id)
	if err != nil {
		return "", err
	}
	course := tgt.Course
	if len(course) > t.cfg.ClassifyWindow {
		course = course[len(course)-t.cfg.ClassifyWindow:]
	}
	return classify(course, t.cfg), nil
}

func classify(course []model.Position, cfg Config) model.MovementPattern {
	if len(course) < 3 {
		return model.PatternStationary
	}

	moving := false
	var bearings []float64
	for i := 1; i < len(course); i++ {
		a, b := course[i-1], course[i]
		dist := core.HaversineDistanceMeters(a, b)
		if dt := b.Timestamp.Sub(a.Timestamp).Seconds(); dt > 0 && dist/dt >= cfg.StationarySpeedMps {
			moving = true
		}
		if dist >= minSegmentMeters {
			bearings = append(bearings, core.BearingDegrees(a, b))
		}
	}
	if !moving || len(bearings) < 2 {
		return model.PatternStationary
	}

	turns := make([]float64, 0, len(bearings)-1)
	absTurns := make([]float64, 0, len(bearings)-1)
	net := 0.0
	for i := 1; i < len(bearings); i++ {
		d := core.BearingDelta(bearings[i-1], bearings[i])
		turns = append(turns, d)
		absTurns = append(absTurns, math.Abs(d))
		net += d
	}
	meanAbs := stat.Mean(absTurns, nil)

	switch {
	case meanAbs < cfg.LinearTurnDeg:
		return model.PatternLinear
	case math.Abs(net) >= 360-cfg.CircularToleranceDeg && consistentSign(turns):
		return model.PatternCircular
	case meanAbs > cfg.RandomTurnDeg:
		return model.PatternRandom
	default:
		return model.PatternPatrol
	}
}

// consistentSign reports whether most turns share the sign of the net turn.
func consistentSign(turns []float64) bool {
	pos, neg := 0, 0
	for _, d := range turns {
		switch {
		case d > 0:
			pos++
		case d < 0:
			neg++
		}
	}
	major := max(pos, neg)
	return float64(major) >= 0.75*float64(len(turns))
}
