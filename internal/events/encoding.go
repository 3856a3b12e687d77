package events

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/signalsfoundry/geotrack/model"
)

// Field names used on the wire.
const (
	fieldID         = "id"
	fieldKind       = "kind"
	fieldTargetID   = "target_id"
	fieldGeofenceID = "geofence_id"
	fieldTimestamp  = "timestamp"
	fieldPosition   = "position"
	fieldPayload    = "payload"
)

// ToStruct renders an event as a protobuf Struct. Timestamps use the
// protobuf JSON timestamp format.
func ToStruct(ev model.Event) (*structpb.Struct, error) {
	if ev.Payload == nil {
		return nil, fmt.Errorf("%w: event %q has no payload", model.ErrInvalidArgument, ev.ID)
	}
	m := map[string]any{
		fieldID:        ev.ID,
		fieldKind:      string(ev.Kind()),
		fieldTargetID:  ev.TargetID,
		fieldTimestamp: formatTime(ev.Timestamp),
		fieldPosition:  positionMap(ev.Position),
		fieldPayload:   payloadMap(ev.Payload),
	}
	if ev.GeofenceID != "" {
		m[fieldGeofenceID] = ev.GeofenceID
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", ev.ID, err)
	}
	return s, nil
}

// MarshalJSON encodes an event as a single-line JSON object.
func MarshalJSON(ev model.Event) ([]byte, error) {
	s, err := ToStruct(ev)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{Multiline: false}.Marshal(s)
}

// UnmarshalJSON decodes an event produced by MarshalJSON.
func UnmarshalJSON(data []byte) (model.Event, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return model.Event{}, fmt.Errorf("%w: decode event: %v", model.ErrInvalidArgument, err)
	}
	return FromStruct(&s)
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (model.Event, error) {
	f := s.GetFields()
	ts, err := parseTime(f[fieldTimestamp].GetStringValue())
	if err != nil {
		return model.Event{}, err
	}
	pos, err := positionFrom(f[fieldPosition].GetStructValue())
	if err != nil {
		return model.Event{}, err
	}
	kind := model.EventKind(f[fieldKind].GetStringValue())
	payload, err := payloadFrom(kind, f[fieldPayload].GetStructValue())
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		ID:         f[fieldID].GetStringValue(),
		TargetID:   f[fieldTargetID].GetStringValue(),
		GeofenceID: f[fieldGeofenceID].GetStringValue(),
		Position:   pos,
		Timestamp:  ts,
		Payload:    payload,
	}, nil
}

func positionMap(p model.Position) map[string]any {
	m := map[string]any{
		"lat":      p.Lat,
		"lon":      p.Lon,
		"accuracy": p.Accuracy,
	}
	if p.Altitude != nil {
		m["altitude"] = *p.Altitude
	}
	if !p.Timestamp.IsZero() {
		m["timestamp"] = formatTime(p.Timestamp)
	}
	return m
}

func positionFrom(s *structpb.Struct) (model.Position, error) {
	f := s.GetFields()
	p := model.Position{
		Lat:      f["lat"].GetNumberValue(),
		Lon:      f["lon"].GetNumberValue(),
		Accuracy: f["accuracy"].GetNumberValue(),
	}
	if v, ok := f["altitude"]; ok {
		alt := v.GetNumberValue()
		p.Altitude = &alt
	}
	if v, ok := f["timestamp"]; ok {
		ts, err := parseTime(v.GetStringValue())
		if err != nil {
			return model.Position{}, err
		}
		p.Timestamp = ts
	}
	return p, nil
}

func payloadMap(p model.Payload) map[string]any {
	switch v := p.(type) {
	case model.Dwell:
		return map[string]any{"duration_seconds": v.Duration.Seconds()}
	case model.Violation:
		return map[string]any{"violation": string(v.Type), "detail": v.Detail}
	case model.ProximityAlert:
		return map[string]any{
			"other_id":         v.OtherID,
			"distance_meters":  v.DistanceMeters,
			"threshold_meters": v.ThresholdMeters,
		}
	case model.ThreatDetected:
		factors := make([]any, len(v.Factors))
		for i, f := range v.Factors {
			factors[i] = f
		}
		return map[string]any{"level": string(v.Level), "factors": factors}
	case model.TargetLost:
		return map[string]any{"last_seen": formatTime(v.LastSeen)}
	}
	return map[string]any{}
}

func payloadFrom(kind model.EventKind, s *structpb.Struct) (model.Payload, error) {
	f := s.GetFields()
	switch kind {
	case model.EventEntry:
		return model.Entry{}, nil
	case model.EventExit:
		return model.Exit{}, nil
	case model.EventDwell:
		secs := f["duration_seconds"].GetNumberValue()
		return model.Dwell{Duration: time.Duration(secs * float64(time.Second))}, nil
	case model.EventViolation:
		return model.Violation{
			Type:   model.ViolationKind(f["violation"].GetStringValue()),
			Detail: f["detail"].GetStringValue(),
		}, nil
	case model.EventProximityAlert:
		return model.ProximityAlert{
			OtherID:         f["other_id"].GetStringValue(),
			DistanceMeters:  f["distance_meters"].GetNumberValue(),
			ThresholdMeters: f["threshold_meters"].GetNumberValue(),
		}, nil
	case model.EventThreatDetected:
		var factors []string
		for _, v := range f["factors"].GetListValue().GetValues() {
			factors = append(factors, v.GetStringValue())
		}
		return model.ThreatDetected{
			Level:   model.ThreatLevel(f["level"].GetStringValue()),
			Factors: factors,
		}, nil
	case model.EventTargetLost:
		ts, err := parseTime(f["last_seen"].GetStringValue())
		if err != nil {
			return nil, err
		}
		return model.TargetLost{LastSeen: ts}, nil
	}
	return nil, fmt.Errorf("%w: unknown event kind %q", model.ErrInvalidArgument, kind)
}

// formatTime renders t the way protojson renders google.protobuf.Timestamp.
func formatTime(t time.Time) string {
	b, err := protojson.Marshal(timestamppb.New(t))
	if err != nil || len(b) < 2 {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return string(b[1 : len(b)-1])
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(`"`+s+`"`), &ts); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", model.ErrInvalidTimestamp, s, err)
	}
	return ts.AsTime(), nil
}
