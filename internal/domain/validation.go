package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// ValidationError carries every field problem found at the boundary.
// It matches ErrMalformedInput under errors.Is.
type ValidationError struct {
	Errs []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, fe := range e.Errs {
		parts = append(parts, fe.Error())
	}
	return "malformed input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrMalformedInput }

// Fields groups messages by field name, the shape used in problem responses.
func (e *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(e.Errs))
	for _, fe := range e.Errs {
		out[fe.Field] = append(out[fe.Field], fe.Msg)
	}
	return out
}

// fieldErrors accumulates FieldErrors while parsing one payload.
type fieldErrors []FieldError

func (fe *fieldErrors) add(field, msg string) { *fe = append(*fe, FieldError{field, msg}) }

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Errs: fe}
}

func (fe *fieldErrors) float(field, raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		fe.add(field, "required")
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		fe.add(field, "must be a decimal number")
		return 0
	}
	return v
}

func (fe *fieldErrors) latitude(field string, v float64) {
	if v < -90 || v > 90 {
		fe.add(field, "must be within [-90, 90]")
	}
}

func (fe *fieldErrors) longitude(field string, v float64) {
	if v < -180 || v > 180 {
		fe.add(field, "must be within [-180, 180]")
	}
}

// ParsedOrigin is the typed form of the numeric origin fields of Params, before rounding.
type ParsedOrigin struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Depth     float64
	Magnitude float64
}

// ParseOrigin validates and parses the preferred origin fields.
// preferredEventTime is ISO-8601 with fractional seconds and a Z suffix.
func ParseOrigin(p Params) (ParsedOrigin, error) {
	var fe fieldErrors
	var o ParsedOrigin

	o.Magnitude = fe.float("preferredMagnitude", p.PreferredMagnitude)
	o.Latitude = fe.float("preferredLatitude", p.PreferredLatitude)
	o.Longitude = fe.float("preferredLongitude", p.PreferredLongitude)
	o.Depth = fe.float("preferredDepth", p.PreferredDepth)
	fe.latitude("preferredLatitude", o.Latitude)
	fe.longitude("preferredLongitude", o.Longitude)

	raw := strings.TrimSpace(p.PreferredEventTime)
	if raw == "" {
		fe.add("preferredEventTime", "required")
	} else if t, err := time.Parse(time.RFC3339Nano, raw); err != nil {
		fe.add("preferredEventTime", "must be ISO-8601 UTC, e.g. 2024-01-02T03:04:05.678Z")
	} else {
		o.Time = t.UTC()
	}

	if strings.TrimSpace(p.Source) == "" {
		fe.add("source", "required")
	}
	if strings.TrimSpace(p.Code) == "" {
		fe.add("code", "required")
	}

	return o, fe.err()
}
