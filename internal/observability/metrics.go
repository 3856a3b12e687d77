package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/geotrack/model"
)

// TrackerCollector bundles Prometheus metrics for a tracking session and
// exposes them over HTTP.
type TrackerCollector struct {
	gatherer prometheus.Gatherer

	Targets        *prometheus.GaugeVec
	Geofences      prometheus.Gauge
	Events         *prometheus.CounterVec
	DroppedEvents  *prometheus.CounterVec
	UpdateDuration prometheus.Histogram
	SweepDuration  prometheus.Histogram
}

var allStatuses = []model.Status{
	model.StatusActive,
	model.StatusInactive,
	model.StatusLost,
	model.StatusDestroyed,
}

// NewTrackerCollector registers tracker metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewTrackerCollector(reg prometheus.Registerer) (*TrackerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	targets, err := registerOrReuse(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_targets",
		Help: "Current number of tracked targets, labeled by status.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}
	geofences, err := registerOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_geofences",
		Help: "Current number of registered geofences.",
	}))
	if err != nil {
		return nil, err
	}
	evs, err := registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_events_total",
		Help: "Total number of events published, labeled by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	dropped, err := registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_dropped_events_total",
		Help: "Total number of events dropped by the event queue, labeled by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	update, err := registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_update_duration_seconds",
		Help:    "Latency of a single position update including geofence and alert evaluation.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}))
	if err != nil {
		return nil, err
	}
	sweep, err := registerOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_sweep_duration_seconds",
		Help:    "Latency of lost-target and time-restriction sweeps.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}))
	if err != nil {
		return nil, err
	}

	return &TrackerCollector{
		gatherer:       gatherer,
		Targets:        targets,
		Geofences:      geofences,
		Events:         evs,
		DroppedEvents:  dropped,
		UpdateDuration: update,
		SweepDuration:  sweep,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TrackerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackerCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTargetCounts sets the per-status gauges. Statuses missing from the
// map are reported as zero.
func (c *TrackerCollector) SetTargetCounts(byStatus map[model.Status]int) {
	if c == nil || c.Targets == nil {
		return
	}
	for _, st := range allStatuses {
		c.Targets.WithLabelValues(string(st)).Set(float64(byStatus[st]))
	}
}

func (c *TrackerCollector) SetGeofenceCount(n int) {
	if c == nil || c.Geofences == nil {
		return
	}
	c.Geofences.Set(float64(n))
}

func (c *TrackerCollector) RecordEvent(kind model.EventKind) {
	if c == nil || c.Events == nil {
		return
	}
	c.Events.WithLabelValues(string(kind)).Inc()
}

func (c *TrackerCollector) RecordDroppedEvent(kind model.EventKind) {
	if c == nil || c.DroppedEvents == nil {
		return
	}
	c.DroppedEvents.WithLabelValues(string(kind)).Inc()
}

func (c *TrackerCollector) ObserveUpdateDuration(d time.Duration) {
	if c == nil || c.UpdateDuration == nil {
		return
	}
	c.UpdateDuration.Observe(d.Seconds())
}

func (c *TrackerCollector) ObserveSweepDuration(d time.Duration) {
	if c == nil || c.SweepDuration == nil {
		return
	}
	c.SweepDuration.Observe(d.Seconds())
}
