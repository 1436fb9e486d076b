package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Params is the flat parameter set the upstream event indexer hands over for
// one origin update. All values are raw strings; Normalize turns them into an Event.
type Params struct {
	Action             string `json:"action"`
	Source             string `json:"source"`
	Code               string `json:"code"`
	PreferredID        string `json:"preferredID"`
	PreferredMagnitude string `json:"preferredMagnitude"`
	PreferredLatitude  string `json:"preferredLatitude"`
	PreferredLongitude string `json:"preferredLongitude"`
	PreferredDepth     string `json:"preferredDepth"`
	PreferredEventTime string `json:"preferredEventTime"`

	// informational, not used in decisions
	Status      string `json:"status,omitempty"`
	TrackerURL  string `json:"trackerURL,omitempty"`
	Directory   string `json:"directory,omitempty"`
	Type        string `json:"type,omitempty"`
	EventIDList string `json:"eventIDList,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

// ParamsFromMap reads the indexer's string-keyed parameters. Unknown keys are ignored.
func ParamsFromMap(m map[string]string) Params {
	get := func(k string) string { return strings.TrimSpace(m[k]) }
	return Params{
		Action:             get("action"),
		Source:             get("source"),
		Code:               get("code"),
		PreferredID:        get("preferredID"),
		PreferredMagnitude: get("preferredMagnitude"),
		PreferredLatitude:  get("preferredLatitude"),
		PreferredLongitude: get("preferredLongitude"),
		PreferredDepth:     get("preferredDepth"),
		PreferredEventTime: get("preferredEventTime"),
		Status:             get("status"),
		TrackerURL:         get("trackerURL"),
		Directory:          get("directory"),
		Type:               get("type"),
		EventIDList:        get("eventIDList"),
		UpdateTime:         get("updateTime"),
	}
}

// Event is one canonical seismic origin update. Numeric fields hold the
// rounded values at the precision they are persisted with.
type Event struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Time            time.Time `json:"time"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Depth           float64   `json:"depth"`
	Magnitude       float64   `json:"magnitude"`
	RegionName      string    `json:"region_name"`
	NotificationURI string    `json:"notification_uri"`
}

func (e Event) TimeString() string      { return FormatTime(e.Time) }
func (e Event) LatitudeString() string  { return FormatCoord(e.Latitude) }
func (e Event) LongitudeString() string { return FormatCoord(e.Longitude) }
func (e Event) DepthString() string     { return FormatTenths(e.Depth) }
func (e Event) MagnitudeString() string { return FormatTenths(e.Magnitude) }

// NotificationAuditRecord is one published notification. Append-only.
type NotificationAuditRecord struct {
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Magnitude     float64   `json:"magnitude"`
	PublishedText string    `json:"published_text"`
	PublishedAt   time.Time `json:"published_at"`
}

func NewAuditRecord(ev Event, text string, publishedAt time.Time) NotificationAuditRecord {
	return NotificationAuditRecord{
		EventID:       ev.ID,
		EventTime:     ev.Time,
		Latitude:      ev.Latitude,
		Longitude:     ev.Longitude,
		Magnitude:     ev.Magnitude,
		PublishedText: text,
		PublishedAt:   publishedAt.UTC(),
	}
}

// KmPerDegree converts the proximity distance into a degree delta.
// Flat-degrees approximation applied to both latitude and longitude; not great-circle.
const KmPerDegree = 111.0

// ProximityQuery describes the time/distance envelope around an event used to
// find an earlier notification for the same physical event. Both bounds are inclusive.
type ProximityQuery struct {
	CenterTime time.Time
	Latitude   float64
	Longitude  float64
	Window     time.Duration
	DistanceKm float64
}

// degreeDeltaPlaces bounds the precision of the degree delta; coordinates carry CoordPlaces.
const degreeDeltaPlaces = 9

func (q ProximityQuery) degreeDelta() decimal.Decimal {
	return decimal.NewFromFloat(q.DistanceKm).DivRound(decimal.NewFromFloat(KmPerDegree), degreeDeltaPlaces)
}

func (q ProximityQuery) DegreeDelta() float64 { return q.degreeDelta().InexactFloat64() }

func (q ProximityQuery) TimeBounds() (time.Time, time.Time) {
	return q.CenterTime.Add(-q.Window), q.CenterTime.Add(q.Window)
}

// DegreeBounds returns the inclusive latitude/longitude box. The bounds are
// computed in decimal so a point exactly DistanceKm away equals its bound.
func (q ProximityQuery) DegreeBounds() (latMin, latMax, lonMin, lonMax float64) {
	d := q.degreeDelta()
	lat := decimal.NewFromFloat(q.Latitude)
	lon := decimal.NewFromFloat(q.Longitude)
	return lat.Sub(d).InexactFloat64(), lat.Add(d).InexactFloat64(),
		lon.Sub(d).InexactFloat64(), lon.Add(d).InexactFloat64()
}

// Contains mirrors the SQL predicate used by the relational store.
func (q ProximityQuery) Contains(t time.Time, lat, lon float64) bool {
	from, to := q.TimeBounds()
	if t.Before(from) || t.After(to) {
		return false
	}
	latMin, latMax, lonMin, lonMax := q.DegreeBounds()
	return lat >= latMin && lat <= latMax &&
		lon >= lonMin && lon <= lonMax
}
