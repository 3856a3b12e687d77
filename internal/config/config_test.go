package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/model"
)

const sampleYAML = `
log:
  level: debug
  format: json
metrics:
  listen: ":9100"
session:
  id: harbour
  max_targets: 500
  lost_timeout: 2m
  sweep_interval: 5s
  backpressure: block
  area: {min_lat: 50, min_lon: -2, max_lat: 52, max_lon: 1}
tracker:
  filter: kalman
  course_cap: 50
threat:
  speed_threshold_mps: 25
  min_alert_level: medium
sink:
  stdout: false
  redis_url: redis://localhost:6379/0
geofences:
  - id: berth
    zone: restricted
    circle:
      center: {lat: 51.5, lon: -0.1}
      radius_meters: 250
    trigger_on_entry: true
    authorized_targets: [pilot-1]
  - id: channel
    polygon:
      - {lat: 51.0, lon: -1.0}
      - {lat: 51.0, lon: 0.0}
      - {lat: 51.2, lon: 0.0}
      - {lat: 51.2, lon: -1.0}
    trigger_on_dwell: true
    dwell: 10m
    active: false
    time_restriction:
      days: [mon, Friday]
      start: "22:00"
      end: "06:00"
      timezone: UTC
proximity:
  - {a: tug-1, b: tanker-9, threshold_meters: 150, repeat: true}
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if cfg.Log.Format != "json" || cfg.Metrics.Listen != ":9100" || !cfg.Metrics.Enabled {
		t.Fatalf("log/metrics = %+v %+v", cfg.Log, cfg.Metrics)
	}
	if cfg.Session.LostTimeout != 2*time.Minute || cfg.Session.SweepInterval != 5*time.Second {
		t.Fatalf("session durations = %+v", cfg.Session)
	}
	// Defaults survive for keys the file does not set.
	if cfg.Session.QueueSize != events.DefaultQueueSize || cfg.Threat.LowConfidence != 0.3 {
		t.Fatalf("defaults lost: queue %d low confidence %v", cfg.Session.QueueSize, cfg.Threat.LowConfidence)
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig error: %v", err)
	}
	if sc.ID != "harbour" || sc.MaxTargets != 500 || sc.Queue.Policy != events.PolicyBlock {
		t.Fatalf("session config = %+v", sc)
	}
	if sc.Threat.MinAlertLevel != model.ThreatMedium || sc.Tracker.CourseCap != 50 || sc.Tracker.NewFilter == nil {
		t.Fatalf("tracker/threat config = %+v %+v", sc.Tracker, sc.Threat)
	}

	berth, err := cfg.Geofences[0].ToGeofence()
	if err != nil {
		t.Fatalf("ToGeofence berth: %v", err)
	}
	if berth.Zone != model.ZoneRestricted || !berth.Active {
		t.Fatalf("berth = %+v", berth)
	}
	if c, ok := berth.Geometry.(model.Circle); !ok || c.RadiusMeters != 250 {
		t.Fatalf("berth geometry = %#v", berth.Geometry)
	}

	channel, err := cfg.Geofences[1].ToGeofence()
	if err != nil {
		t.Fatalf("ToGeofence channel: %v", err)
	}
	if channel.Active || channel.Rules.Dwell != 10*time.Minute {
		t.Fatalf("channel = %+v", channel)
	}
	tr := channel.Rules.TimeRestriction
	if tr == nil || tr.Start != 22*60 || tr.End != 6*60 {
		t.Fatalf("time restriction = %+v", tr)
	}
	if diff := cmp.Diff([]time.Weekday{time.Monday, time.Friday}, tr.Days); diff != "" {
		t.Fatalf("days mismatch (-want +got):\n%s", diff)
	}

	if len(cfg.Proximity) != 1 || len(cfg.Proximity[0].Options()) != 1 {
		t.Fatalf("proximity = %+v", cfg.Proximity)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("empty document mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"unknown key":         "sesion: {}\n",
		"bad filter":          "tracker: {filter: median}\n",
		"negative targets":    "session: {max_targets: -1}\n",
		"zero lost timeout":   "session: {lost_timeout: 0s}\n",
		"bad backpressure":    "session: {backpressure: spill}\n",
		"bad area":            "session: {area: {min_lat: 10, min_lon: 0, max_lat: 0, max_lon: 1}}\n",
		"no geometry":         "geofences: [{id: a}]\n",
		"both geometries":     "geofences: [{id: a, circle: {radius_meters: 5}, polygon: [{lat: 0, lon: 0}, {lat: 0, lon: 1}, {lat: 1, lon: 1}]}]\n",
		"short polygon":       "geofences: [{id: a, polygon: [{lat: 0, lon: 0}, {lat: 0, lon: 1}]}]\n",
		"zero radius":         "geofences: [{id: a, circle: {radius_meters: 0}}]\n",
		"bad zone":            "geofences: [{id: a, zone: quiet, circle: {radius_meters: 5}}]\n",
		"bad clock":           "geofences: [{id: a, circle: {radius_meters: 5}, time_restriction: {start: '25:00', end: '06:00'}}]\n",
		"bad weekday":         "geofences: [{id: a, circle: {radius_meters: 5}, time_restriction: {days: [someday], start: '22:00', end: '06:00'}}]\n",
		"self proximity":      "proximity: [{a: x, b: x, threshold_meters: 5}]\n",
		"zero proximity":      "proximity: [{a: x, b: y, threshold_meters: 0}]\n",
		"metrics no listen":   "metrics: {enabled: true, listen: ''}\n",
		"bad tracing ratio":   "tracing: {sample_ratio: 2}\n",
		"bad redis url":       "sink: {redis_url: 'not a url'}\n",
		"bad min alert":       "threat: {min_alert_level: severe}\n",
		"bad confidence":      "tracker: {min_prediction_confidence: 0.05}\n",
		"bad log level":       "log: {level: loud}\n",
		"bad classify window": "tracker: {classify_window: 2}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", body)
			}
		})
	}
}

func TestDuplicateGeofenceIDs(t *testing.T) {
	body := "geofences:\n  - {id: a, circle: {radius_meters: 5}}\n  - {id: a, circle: {radius_meters: 9}}\n"
	if _, err := Parse([]byte(body)); !errors.Is(err, model.ErrGeofenceExists) {
		t.Fatalf("duplicate ids error = %v, want ErrGeofenceExists", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_LOG_LEVEL", "WARN")
	t.Setenv("TRACKER_LOST_TIMEOUT", "90s")
	t.Setenv("TRACKER_MAX_TARGETS", "42")
	t.Setenv("TRACKER_FILTER", "none")
	t.Setenv("TRACKER_TRACING_ENABLED", "true")

	cfg, err := Parse([]byte("session: {lost_timeout: 10m}\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Session.LostTimeout != 90*time.Second ||
		cfg.Session.MaxTargets != 42 || cfg.Tracker.Filter != "none" || !cfg.Tracing.Enabled {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("TRACKER_SWEEP_INTERVAL", "soon")
	if _, err := Parse(nil); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("bad duration error = %v, want ErrInvalidArgument", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file error = %v", err)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "configs", "tracker.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if len(cfg.Geofences) != 3 || len(cfg.Proximity) != 1 {
		t.Fatalf("geofences %d proximity %d", len(cfg.Geofences), len(cfg.Proximity))
	}
	if cfg.Tracing.Attributes["deployment.site"] != "harbour" {
		t.Fatalf("tracing attributes = %v", cfg.Tracing.Attributes)
	}
	if _, err := cfg.SessionConfig(); err != nil {
		t.Fatalf("SessionConfig error: %v", err)
	}
}
