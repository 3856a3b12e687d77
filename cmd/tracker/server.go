package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/geotrack/internal/apierr"
	"github.com/signalsfoundry/geotrack/internal/events"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/internal/observability"
	"github.com/signalsfoundry/geotrack/internal/session"
	"github.com/signalsfoundry/geotrack/model"
)

const defaultHorizon = 5 * time.Minute

type api struct {
	sess *session.Session
	log  logging.Logger
}

// newRouter exposes the session over HTTP along with /metrics and /healthz.
func newRouter(sess *session.Session, collector *observability.TrackerCollector, log logging.Logger) http.Handler {
	h := &api{sess: sess, log: logging.OrNoop(log)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	if collector != nil {
		r.Handle("/metrics", collector.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/samples", h.ingest)
		r.Get("/snapshot", h.snapshot)
		r.Get("/geofences", h.listGeofences)
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", h.listTargets)
			r.Route("/{targetID}", func(r chi.Router) {
				r.Get("/", h.getTarget)
				r.Delete("/", h.removeTarget)
				r.Get("/prediction", h.prediction)
				r.Get("/pattern", h.pattern)
				r.Get("/threat", h.threat)
			})
		})
	})
	return r
}

type positionView struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func newPositionView(p model.Position) positionView {
	return positionView{Lat: p.Lat, Lon: p.Lon, Altitude: p.Altitude, Accuracy: p.Accuracy, Timestamp: p.Timestamp}
}

type targetView struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	Type           string        `json:"type,omitempty"`
	Classification string        `json:"classification"`
	Priority       string        `json:"priority"`
	Status         string        `json:"status"`
	Position       *positionView `json:"position,omitempty"`
	SpeedMps       float64       `json:"speed_mps"`
	Bearing        float64       `json:"bearing"`
	LastSeen       time.Time     `json:"last_seen"`
}

func newTargetView(t *model.Target) targetView {
	v := targetView{
		ID:             t.ID,
		Name:           t.Name,
		Type:           t.Type,
		Classification: string(t.Classification),
		Priority:       string(t.Priority),
		Status:         string(t.Status),
		SpeedMps:       t.Movement.SpeedMps,
		Bearing:        t.Movement.Bearing,
		LastSeen:       t.LastSeen,
	}
	if len(t.Course) > 0 {
		p := newPositionView(t.Position)
		v.Position = &p
	}
	return v
}

type geofenceView struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Zone   string `json:"zone"`
	Active bool   `json:"active"`
}

func (h *api) health(w http.ResponseWriter, _ *http.Request) {
	if h.sess.Stopped() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *api) ingest(w http.ResponseWriter, r *http.Request) {
	var sample model.PositionSample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLineBytes)).Decode(&sample); err != nil {
		http.Error(w, "invalid sample: "+err.Error(), http.StatusBadRequest)
		return
	}
	evs, err := h.sess.Ingest(r.Context(), sample)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]json.RawMessage, 0, len(evs))
	for _, ev := range evs {
		raw, err := events.MarshalJSON(ev)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, raw)
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *api) listTargets(w http.ResponseWriter, _ *http.Request) {
	targets := h.sess.Targets()
	out := make([]targetView, 0, len(targets))
	for _, t := range targets {
		out = append(out, newTargetView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *api) getTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.sess.GetTarget(chi.URLParam(r, "targetID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTargetView(t))
}

func (h *api) removeTarget(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.RemoveTarget(chi.URLParam(r, "targetID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *api) prediction(w http.ResponseWriter, r *http.Request) {
	horizon := defaultHorizon
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid horizon", http.StatusBadRequest)
			return
		}
		horizon = d
	}
	preds, err := h.sess.PredictMovement(chi.URLParam(r, "targetID"), horizon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type predictionView struct {
		Position   positionView `json:"position"`
		Confidence float64      `json:"confidence"`
	}
	out := make([]predictionView, 0, len(preds))
	for _, p := range preds {
		out = append(out, predictionView{Position: newPositionView(p.Position), Confidence: p.Confidence})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *api) pattern(w http.ResponseWriter, r *http.Request) {
	p, err := h.sess.ClassifyMovement(chi.URLParam(r, "targetID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pattern": string(p)})
}

func (h *api) threat(w http.ResponseWriter, r *http.Request) {
	a, err := h.sess.AssessThreat(chi.URLParam(r, "targetID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	factors := a.Factors
	if factors == nil {
		factors = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": string(a.Level), "factors": factors})
}

func (h *api) listGeofences(w http.ResponseWriter, _ *http.Request) {
	fences := h.sess.ListGeofences()
	out := make([]geofenceView, 0, len(fences))
	for _, g := range fences {
		out = append(out, geofenceView{ID: g.ID, Name: g.Name, Zone: string(g.Zone), Active: g.Active})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *api) snapshot(w http.ResponseWriter, _ *http.Request) {
	snap := h.sess.Snapshot()
	byStatus := make(map[string]int, len(snap.TargetsByStatus))
	for status, n := range snap.TargetsByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                snap.ID,
		"taken_at":          snap.TakenAt,
		"targets":           len(snap.Targets),
		"targets_by_status": byStatus,
		"geofences":         len(snap.Geofences),
		"proximity_rules":   len(snap.ProximityRules),
		"queued_events":     snap.QueuedEvents,
		"dropped_events":    snap.DroppedEvents,
		"stopped":           snap.Stopped,
	})
}

func (h *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apierr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.String("request_id", middleware.GetReqID(r.Context())),
			logging.Err(err),
		)
	}
	st, _ := status.FromError(apierr.ToStatusError(err))
	writeJSON(w, code, map[string]string{"code": st.Code().String(), "error": st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
