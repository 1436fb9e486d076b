package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Detection is one automated seismic detection delivered by the queue.
// FirstTriggerTime only ever moves backwards once set.
type Detection struct {
	DetectionID      int64      `json:"detection_id"`
	Time             time.Time  `json:"time"`
	Latitude         float64    `json:"latitude"`
	Longitude        float64    `json:"longitude"`
	CreatedAt        time.Time  `json:"created_at"`
	FirstTriggerTime *time.Time `json:"first_trigger_time,omitempty"`
}

// CorrelationCandidate is a social-media message an external classifier marked
// as a possible trigger for a detection.
type CorrelationCandidate struct {
	DetectionID      int64     `json:"detection_id"`
	MessageID        int64     `json:"message_id"`
	MessageTimestamp time.Time `json:"message_time"`
}

type detectionPayload struct {
	ID         string `json:"id"`
	Hypocenter *struct {
		Latitude  *float64        `json:"latitude"`
		Longitude *float64        `json:"longitude"`
		Time      json.RawMessage `json:"time"`
	} `json:"hypocenter"`
}

// ParseDetectionID extracts the numeric id from a prefixed identifier such as "queue:00012345".
func ParseDetectionID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return 0, &ValidationError{Errs: []FieldError{{"id", "missing numeric part"}}}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Errs: []FieldError{{"id", "numeric part must be a positive integer"}}}
	}
	return id, nil
}

// ParseDetection decodes one queue payload. Any missing or unparseable field
// yields a ValidationError (ErrMalformedInput).
func ParseDetection(payload []byte) (Detection, error) {
	var p detectionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Detection{}, &ValidationError{Errs: []FieldError{{"payload", "invalid json: " + err.Error()}}}
	}

	var fe fieldErrors
	var d Detection

	if p.ID == "" {
		fe.add("id", "required")
	} else if id, err := ParseDetectionID(p.ID); err != nil {
		fe = append(fe, err.(*ValidationError).Errs...)
	} else {
		d.DetectionID = id
	}

	if p.Hypocenter == nil {
		fe.add("hypocenter", "required")
		return d, fe.err()
	}
	h := p.Hypocenter
	if h.Latitude == nil {
		fe.add("hypocenter.latitude", "required")
	} else {
		d.Latitude = *h.Latitude
		fe.latitude("hypocenter.latitude", d.Latitude)
	}
	if h.Longitude == nil {
		fe.add("hypocenter.longitude", "required")
	} else {
		d.Longitude = *h.Longitude
		fe.longitude("hypocenter.longitude", d.Longitude)
	}
	if t, ok := parseHypocenterTime(h.Time); !ok {
		fe.add("hypocenter.time", "required RFC 3339 string or epoch seconds")
	} else {
		d.Time = t
	}

	return d, fe.err()
}

func parseHypocenterTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil || secs <= 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC(), true
}
