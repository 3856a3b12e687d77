// Package config loads the tracker's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/internal/alert"
	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/internal/observability"
	"github.com/signalsfoundry/geotrack/internal/session"
	"github.com/signalsfoundry/geotrack/internal/tracker"
	"github.com/signalsfoundry/geotrack/model"
)

type LogConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=text json"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen" validate:"required_if=Enabled true"`
}

type SessionConfig struct {
	ID            string        `yaml:"id"`
	MaxTargets    int           `yaml:"max_targets" validate:"gte=0"`
	MaxGeofences  int           `yaml:"max_geofences" validate:"gte=0"`
	Area          *model.Bounds `yaml:"area"`
	LostTimeout   time.Duration `yaml:"lost_timeout" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	QueueSize     int           `yaml:"event_queue_size" validate:"gte=0"`
	Backpressure  string        `yaml:"backpressure" validate:"omitempty,oneof=drop_oldest block"`
	BlockTimeout  time.Duration `yaml:"block_timeout" validate:"gte=0"`
}

type TrackerConfig struct {
	Filter                  string        `yaml:"filter" validate:"omitempty,oneof=smoothing kalman none"`
	CourseCap               int           `yaml:"course_cap" validate:"gte=0"`
	PredictionStep          time.Duration `yaml:"prediction_step" validate:"gte=0"`
	MinPredictionConfidence float64       `yaml:"min_prediction_confidence" validate:"omitempty,gte=0.1,lte=1"`
	ClassifyWindow          int           `yaml:"classify_window" validate:"omitempty,gte=3"`
}

type ThreatConfig struct {
	SpeedThresholdMps float64 `yaml:"speed_threshold_mps" validate:"gte=0"`
	LowConfidence     float64 `yaml:"low_confidence" validate:"gte=0,lte=1"`
	MinAlertLevel     string  `yaml:"min_alert_level" validate:"omitempty,oneof=low medium high critical"`
}

type SinkConfig struct {
	Stdout      bool   `yaml:"stdout"`
	File        string `yaml:"file"`
	RedisURL    string `yaml:"redis_url" validate:"omitempty,url"`
	RedisKey    string `yaml:"redis_key"`
	RedisMaxLen int64  `yaml:"redis_max_len" validate:"gte=0"`
}

type PointConfig struct {
	Lat float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

type CircleConfig struct {
	Center       PointConfig `yaml:"center"`
	RadiusMeters float64     `yaml:"radius_meters" validate:"gt=0"`
}

type TimeRestrictionConfig struct {
	Days     []string `yaml:"days"`
	Start    string   `yaml:"start" validate:"required"`
	End      string   `yaml:"end" validate:"required"`
	Timezone string   `yaml:"timezone"`
}

type GeofenceConfig struct {
	ID                string                 `yaml:"id" validate:"required"`
	Name              string                 `yaml:"name"`
	Zone              string                 `yaml:"zone" validate:"omitempty,oneof=alert restricted safe"`
	Circle            *CircleConfig          `yaml:"circle" validate:"required_without=Polygon,excluded_with=Polygon"`
	Polygon           []PointConfig          `yaml:"polygon" validate:"omitempty,min=3,dive"`
	Active            *bool                  `yaml:"active"`
	TriggerOnEntry    bool                   `yaml:"trigger_on_entry"`
	TriggerOnExit     bool                   `yaml:"trigger_on_exit"`
	TriggerOnDwell    bool                   `yaml:"trigger_on_dwell"`
	Dwell             time.Duration          `yaml:"dwell" validate:"gte=0"`
	AllowedTypes      []string               `yaml:"allowed_types"`
	AuthorizedTargets []string               `yaml:"authorized_targets"`
	TimeRestriction   *TimeRestrictionConfig `yaml:"time_restriction"`
}

type ProximityConfig struct {
	A               string  `yaml:"a" validate:"required"`
	B               string  `yaml:"b" validate:"required,nefield=A"`
	ThresholdMeters float64 `yaml:"threshold_meters" validate:"gt=0"`
	Repeat          bool    `yaml:"repeat"`
}

// Config is the root of the YAML document.
type Config struct {
	Log       LogConfig                   `yaml:"log"`
	Metrics   MetricsConfig               `yaml:"metrics"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
	Session   SessionConfig               `yaml:"session"`
	Tracker   TrackerConfig               `yaml:"tracker"`
	Threat    ThreatConfig                `yaml:"threat"`
	Sink      SinkConfig                  `yaml:"sink"`
	Geofences []GeofenceConfig            `yaml:"geofences" validate:"dive"`
	Proximity []ProximityConfig           `yaml:"proximity" validate:"dive"`
}

// DefaultConfig returns a configuration that runs a single unbounded
// session with JSON-lines events on stdout.
func DefaultConfig() Config {
	threat := alert.DefaultThreatConfig()
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Listen: ":9090"},
		Tracing: observability.DefaultTracingConfig(),
		Session: SessionConfig{
			LostTimeout:   session.DefaultLostTimeout,
			SweepInterval: session.DefaultSweepInterval,
			QueueSize:     events.DefaultQueueSize,
			Backpressure:  string(events.PolicyDropOldest),
			BlockTimeout:  events.DefaultBlockTimeout,
		},
		Tracker: TrackerConfig{Filter: core.FilterSmoothing},
		Threat: ThreatConfig{
			SpeedThresholdMps: threat.SpeedThresholdMps,
			LowConfidence:     threat.LowConfidence,
			MinAlertLevel:     string(threat.MinAlertLevel),
		},
		Sink: SinkConfig{Stdout: true},
	}
}

// LoadFromFile reads path over the defaults, applies environment overrides
// and validates the result.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults, applies environment
// overrides and validates the result. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints and the semantic rules the tags
// cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if c.Session.Area != nil && !c.Session.Area.Valid() {
		return fmt.Errorf("%w: session.area is not a valid bounding box", model.ErrInvalidArgument)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "" {
		return fmt.Errorf("%w: tracing.exporter is required when tracing is enabled", model.ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(c.Geofences))
	for _, g := range c.Geofences {
		if seen[g.ID] {
			return fmt.Errorf("%w: %q", model.ErrGeofenceExists, g.ID)
		}
		seen[g.ID] = true
		if _, err := g.ToGeofence(); err != nil {
			return fmt.Errorf("geofence %q: %w", g.ID, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies TRACKER_* environment variables on top of the
// file values.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRACKER_LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("TRACKER_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("TRACKER_FILTER"); v != "" {
		c.Tracker.Filter = strings.ToLower(v)
	}
	if v := os.Getenv("TRACKER_REDIS_URL"); v != "" {
		c.Sink.RedisURL = v
	}
	if err := envDuration("TRACKER_LOST_TIMEOUT", &c.Session.LostTimeout); err != nil {
		return err
	}
	if err := envDuration("TRACKER_SWEEP_INTERVAL", &c.Session.SweepInterval); err != nil {
		return err
	}
	if err := envInt("TRACKER_MAX_TARGETS", &c.Session.MaxTargets); err != nil {
		return err
	}
	if err := envInt("TRACKER_MAX_GEOFENCES", &c.Session.MaxGeofences); err != nil {
		return err
	}
	observability.ApplyTracingEnv(&c.Tracing)
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", model.ErrInvalidArgument, key, raw, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", model.ErrInvalidArgument, key, raw, err)
	}
	*dst = n
	return nil
}

// LoggingConfig converts the log section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, AddSource: c.Log.AddSource}
}

// SessionConfig converts the session, tracker and threat sections.
func (c Config) SessionConfig() (session.Config, error) {
	newFilter, err := core.FilterFactoryFor(c.Tracker.Filter)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		ID:            c.Session.ID,
		MaxTargets:    c.Session.MaxTargets,
		MaxGeofences:  c.Session.MaxGeofences,
		Area:          c.Session.Area,
		LostTimeout:   c.Session.LostTimeout,
		SweepInterval: c.Session.SweepInterval,
		Queue: events.QueueConfig{
			Size:         c.Session.QueueSize,
			Policy:       events.Policy(c.Session.Backpressure),
			BlockTimeout: c.Session.BlockTimeout,
		},
		Tracker: tracker.Config{
			CourseCap:               c.Tracker.CourseCap,
			PredictionStep:          c.Tracker.PredictionStep,
			MinPredictionConfidence: c.Tracker.MinPredictionConfidence,
			ClassifyWindow:          c.Tracker.ClassifyWindow,
			NewFilter:               newFilter,
		},
		Threat: alert.ThreatConfig{
			SpeedThresholdMps: c.Threat.SpeedThresholdMps,
			LowConfidence:     c.Threat.LowConfidence,
			MinAlertLevel:     model.ThreatLevel(c.Threat.MinAlertLevel),
		},
	}, nil
}

// ToGeofence builds the model geofence described by g.
func (g GeofenceConfig) ToGeofence() (*model.Geofence, error) {
	var geom model.Geometry
	switch {
	case g.Circle != nil:
		c, err := model.NewCircle(g.Circle.Center.position(), g.Circle.RadiusMeters)
		if err != nil {
			return nil, err
		}
		geom = c
	default:
		ring := make([]model.Position, len(g.Polygon))
		for i, p := range g.Polygon {
			ring[i] = p.position()
		}
		poly, err := model.NewPolygon(ring)
		if err != nil {
			return nil, err
		}
		geom = poly
	}

	active := true
	if g.Active != nil {
		active = *g.Active
	}
	fence := &model.Geofence{
		ID:       g.ID,
		Name:     g.Name,
		Zone:     model.Zone(g.Zone),
		Geometry: geom,
		Active:   active,
		Rules: model.Rules{
			TriggerOnEntry:    g.TriggerOnEntry,
			TriggerOnExit:     g.TriggerOnExit,
			TriggerOnDwell:    g.TriggerOnDwell,
			Dwell:             g.Dwell,
			AllowedTypes:      g.AllowedTypes,
			AuthorizedTargets: g.AuthorizedTargets,
		},
	}
	if g.TimeRestriction != nil {
		tr, err := g.TimeRestriction.toModel()
		if err != nil {
			return nil, err
		}
		fence.Rules.TimeRestriction = tr
	}
	if err := fence.Validate(); err != nil {
		return nil, err
	}
	return fence, nil
}

func (p PointConfig) position() model.Position {
	return model.Position{Lat: p.Lat, Lon: p.Lon}
}

func (t TimeRestrictionConfig) toModel() (*model.TimeRestriction, error) {
	start, err := parseClock(t.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(t.End)
	if err != nil {
		return nil, err
	}
	tr := &model.TimeRestriction{Start: start, End: end}
	for _, d := range t.Days {
		wd, err := parseWeekday(d)
		if err != nil {
			return nil, err
		}
		tr.Days = append(tr.Days, wd)
	}
	if t.Timezone != "" {
		loc, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", model.ErrInvalidArgument, t.Timezone, err)
		}
		tr.Location = loc
	}
	return tr, tr.Validate()
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	ts, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", model.ErrInvalidArgument, s)
	}
	return ts.Hour()*60 + ts.Minute(), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || key == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", model.ErrInvalidArgument, s)
}

// Options returns the rule options for p.
func (p ProximityConfig) Options() []alert.RuleOption {
	if p.Repeat {
		return []alert.RuleOption{alert.WithRepeat()}
	}
	return nil
}
