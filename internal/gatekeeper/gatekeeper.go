// Package gatekeeper decides whether a canonical earthquake event may be
// announced, against the history of notifications already published.
//
// Checks run in a fixed order and stop at the first failure:
// applicability, magnitude, staleness, future time, exact duplicate, then
// spatio-temporal proximity to an earlier notification.
package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/normalize"
)

// Store is the slice of the audit store the gatekeeper reads and appends to.
type Store interface {
	HasNotified(ctx context.Context, eventID string) (bool, error)
	FindConflicting(ctx context.Context, q domain.ProximityQuery) (eventID string, found bool, err error)
	// AppendNotification reports false when a record for the event id already exists.
	AppendNotification(ctx context.Context, rec domain.NotificationAuditRecord) (inserted bool, err error)
}

type Normalizer interface {
	Normalize(ctx context.Context, p domain.Params) (normalize.Result, error)
}

type Rules struct {
	MagnitudeThreshold  float64
	StaleWindow         time.Duration
	ProximityWindow     time.Duration
	ProximityDistanceKm float64
}

type Gatekeeper struct {
	rules Rules
	store Store
	norm  Normalizer
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Gatekeeper)

// WithClock replaces time.Now for the staleness and future checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) { g.now = now }
}

func New(rules Rules, store Store, norm Normalizer, log *zap.Logger, opts ...Option) *Gatekeeper {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gatekeeper{
		rules: rules,
		store: store,
		norm:  norm,
		now:   func() time.Time { return time.Now().UTC() },
		log:   log,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Normalize runs the applicability checks and builds the canonical event.
// A not-applicable update comes back as a RejectedNotApplicable decision.
func (g *Gatekeeper) Normalize(ctx context.Context, p domain.Params) (Decision, error) {
	res, err := g.norm.Normalize(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if !res.Applicable {
		return Decision{Outcome: RejectedNotApplicable, Reason: res.Reason}, nil
	}
	return Decision{Outcome: Accepted, Event: res.Event}, nil
}

// Decide is Normalize followed by Evaluate.
func (g *Gatekeeper) Decide(ctx context.Context, p domain.Params) (Decision, error) {
	d, err := g.Normalize(ctx, p)
	if err != nil || d.Outcome != Accepted {
		return d, err
	}
	return g.Evaluate(ctx, d.Event)
}

// Evaluate runs the magnitude, time and history checks on a canonical event.
// Errors are storage failures only; every rejection is a Decision.
func (g *Gatekeeper) Evaluate(ctx context.Context, ev domain.Event) (Decision, error) {
	r := g.rules
	reject := func(o Outcome, format string, args ...any) (Decision, error) {
		return Decision{Outcome: o, Reason: fmt.Sprintf(format, args...), Event: ev}, nil
	}

	if ev.Magnitude < r.MagnitudeThreshold {
		return reject(RejectedLowMagnitude, "magnitude %s below threshold %.1f", ev.MagnitudeString(), r.MagnitudeThreshold)
	}

	now := g.now().UTC()
	if ev.Time.Before(now.Add(-r.StaleWindow)) {
		return reject(RejectedStale, "origin time %s older than %s", ev.TimeString(), r.StaleWindow)
	}
	if ev.Time.After(now) {
		return reject(RejectedFuture, "origin time %s is after now %s", ev.TimeString(), domain.FormatTime(now))
	}

	notified, err := g.store.HasNotified(ctx, ev.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("has notified %s: %w", ev.ID, err)
	}
	if notified {
		return reject(RejectedDuplicate, "event %s already notified", ev.ID)
	}

	q := domain.ProximityQuery{
		CenterTime: ev.Time,
		Latitude:   ev.Latitude,
		Longitude:  ev.Longitude,
		Window:     r.ProximityWindow,
		DistanceKm: r.ProximityDistanceKm,
	}
	conflictID, found, err := g.store.FindConflicting(ctx, q)
	if err != nil {
		return Decision{}, fmt.Errorf("find conflicting %s: %w", ev.ID, err)
	}
	if found {
		d, _ := reject(RejectedProximate, "within %s and %.0f km of notified event %s", r.ProximityWindow, r.ProximityDistanceKm, conflictID)
		d.ConflictingID = conflictID
		return d, nil
	}

	return Decision{Outcome: Accepted, Event: ev}, nil
}

// Commit appends the audit record for an event whose notification was
// published. It must only be called after a successful publish. When a
// concurrent invocation appended first, the decision becomes RejectedDuplicate
// with Published set; the publish is treated as done and not retried.
func (g *Gatekeeper) Commit(ctx context.Context, ev domain.Event, text string, publishedAt time.Time) (Decision, error) {
	rec := domain.NewAuditRecord(ev, text, publishedAt)
	inserted, err := g.store.AppendNotification(ctx, rec)
	if err != nil {
		return Decision{}, fmt.Errorf("append notification %s: %w", ev.ID, err)
	}
	if !inserted {
		g.log.Warn("notification published but event already recorded by a concurrent invocation",
			zap.String("event_id", ev.ID))
		return Decision{
			Outcome:   RejectedDuplicate,
			Reason:    "concurrent notification recorded first",
			Event:     ev,
			Published: true,
			Text:      text,
		}, nil
	}
	return Decision{Outcome: Accepted, Event: ev, Published: true, Text: text}, nil
}
