package main

import (
	"time"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/model"
)

// ISS element set used for the orbital track.
const (
	issTLE1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issTLE2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

var harbourCenter = model.Position{Lat: 50.90, Lon: -1.40}

type actor struct {
	ID    string
	Model core.MotionModel
}

type proximityPair struct {
	A, B            string
	ThresholdMeters float64
}

// scenario is the harbour picture the simulator drives: a restricted
// basin, an approach channel, a patrol boat, a tug crossing the basin, a
// drone circling it and the ISS passing overhead.
type scenario struct {
	Actors    []actor
	Geofences []*model.Geofence
	Proximity []proximityPair
}

func harbourScenario(start time.Time, noiseSeed int64) scenario {
	west := core.Destination(harbourCenter, 270, 3000)
	patrol := []model.Position{
		core.Destination(harbourCenter, 0, 1200),
		core.Destination(harbourCenter, 90, 1200),
		core.Destination(harbourCenter, 180, 1200),
		core.Destination(harbourCenter, 270, 1200),
	}
	approach := []model.Position{
		core.Destination(harbourCenter, 200, 2500),
		core.Destination(harbourCenter, 160, 2500),
		core.Destination(harbourCenter, 160, 4500),
		core.Destination(harbourCenter, 200, 4500),
	}

	return scenario{
		Actors: []actor{
			{ID: "tug-1", Model: core.LinearMotionModel{Origin: west, BearingDeg: 90, SpeedMps: 8, Start: start}},
			{ID: "patrol-1", Model: core.WaypointMotionModel{Waypoints: patrol, SpeedMps: 6, Start: start, Loop: true}},
			{ID: "drone-1", Model: core.NewNoisyMotionModel(core.CircularMotionModel{
				Center:       harbourCenter,
				RadiusMeters: 800,
				Period:       4 * time.Minute,
				Start:        start,
			}, 5, noiseSeed)},
			{ID: "iss", Model: core.NewOrbitalModelFromTLE(issTLE1, issTLE2)},
		},
		Geofences: []*model.Geofence{
			{
				ID:       "harbour",
				Name:     "Inner harbour",
				Zone:     model.ZoneRestricted,
				Geometry: model.Circle{Center: harbourCenter, RadiusMeters: 1500},
				Rules: model.Rules{
					TriggerOnEntry:    true,
					TriggerOnExit:     true,
					AuthorizedTargets: []string{"patrol-1", "drone-1"},
				},
				Active: true,
			},
			{
				ID:       "approach",
				Name:     "Southern approach",
				Zone:     model.ZoneAlert,
				Geometry: model.Polygon{Ring: approach},
				Rules:    model.Rules{TriggerOnEntry: true, TriggerOnExit: true, TriggerOnDwell: true, Dwell: 2 * time.Minute},
				Active:   true,
			},
		},
		Proximity: []proximityPair{{A: "tug-1", B: "patrol-1", ThresholdMeters: 400}},
	}
}
