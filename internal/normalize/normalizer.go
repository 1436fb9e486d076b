// Package normalize turns the indexer's flat parameter set into a canonical Event.
package normalize

import (
	"context"
	"strings"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/idempotency"
)

// Geocoder resolves a descriptive region name. Implementations must be
// side-effect free and total.
type Geocoder interface {
	RegionName(ctx context.Context, lat, lon float64) string
}

type Options struct {
	Actions       []string // update actions acted on, e.g. EVENT_ADDED, EVENT_UPDATED
	IgnoreSources []string // network codes never announced
	URITemplate   string   // deep link, {id} is replaced by the canonical id
}

// Result is either an applicable Event or a not-applicable reason.
type Result struct {
	Event      domain.Event
	Applicable bool
	Reason     string
}

type Normalizer struct {
	actions map[string]struct{}
	ignore  map[string]struct{}
	uri     string
	geo     Geocoder
}

func New(opts Options, geo Geocoder) *Normalizer {
	n := &Normalizer{
		actions: make(map[string]struct{}),
		ignore:  make(map[string]struct{}),
		uri:     opts.URITemplate,
		geo:     geo,
	}
	for _, a := range opts.Actions {
		n.actions[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
	}
	for _, s := range opts.IgnoreSources {
		n.ignore[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return n
}

// absentMagnitude holds the sentinels the indexer sends when no magnitude is known.
var absentMagnitude = map[string]struct{}{"null": {}, "none": {}}

// Normalize applies the applicability rules in order, then parses, rounds and
// enriches the origin. A not-applicable update is a Result, never an error;
// errors are ValidationError (ErrMalformedInput) only.
func (n *Normalizer) Normalize(ctx context.Context, p domain.Params) (Result, error) {
	if _, ok := n.actions[strings.ToUpper(strings.TrimSpace(p.Action))]; !ok {
		return notApplicable("action " + p.Action + " is not acted on"), nil
	}
	if _, ok := n.ignore[strings.ToLower(strings.TrimSpace(p.Source))]; ok {
		return notApplicable("source " + p.Source + " is ignored"), nil
	}
	if !strings.EqualFold(strings.TrimSpace(p.Code), strings.TrimSpace(p.PreferredID)) {
		return notApplicable("code " + p.Code + " is not the preferred id " + p.PreferredID), nil
	}
	if _, ok := absentMagnitude[strings.ToLower(strings.TrimSpace(p.PreferredMagnitude))]; ok {
		return notApplicable("magnitude is absent"), nil
	}

	o, err := domain.ParseOrigin(p)
	if err != nil {
		return Result{}, err
	}

	ev := domain.Event{
		ID:        idempotency.CanonicalEventID(p.Source, p.Code),
		Source:    strings.ToLower(strings.TrimSpace(p.Source)),
		Time:      domain.TruncateCentis(o.Time),
		Latitude:  domain.RoundTo(o.Latitude, domain.CoordPlaces),
		Longitude: domain.RoundTo(o.Longitude, domain.CoordPlaces),
		Depth:     domain.RoundTo(o.Depth, domain.TenthsPlaces),
		Magnitude: domain.RoundTo(o.Magnitude, domain.TenthsPlaces),
	}
	ev.NotificationURI = strings.ReplaceAll(n.uri, "{id}", ev.ID)

	if n.geo != nil {
		ev.RegionName = n.geo.RegionName(ctx, ev.Latitude, ev.Longitude)
	}
	if ev.RegionName == "" {
		ev.RegionName = "unknown region"
	}
	return Result{Event: ev, Applicable: true}, nil
}

func notApplicable(reason string) Result {
	return Result{Reason: reason}
}
