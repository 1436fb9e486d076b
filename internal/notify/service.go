// Package notify runs one seismic update through the full announcement path:
// normalize, then under a per-event lock evaluate, shorten, publish and record.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/gatekeeper"
	"example.com/quakewatch/internal/metrics"
	"example.com/quakewatch/internal/publish"
)

// Locker serializes work per canonical event id across processes.
type Locker interface {
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, m publish.Message) (time.Duration, error)
}

type Shortener interface {
	Shorten(ctx context.Context, long string) (string, error)
}

type Options struct {
	// DryRun evaluates without shortening, publishing or recording.
	DryRun       bool
	TextTemplate string
	MessageType  string
}

// TextData is the data available to the notification text template.
type TextData struct {
	ID        string
	Source    string
	Magnitude string
	Depth     string
	Latitude  string
	Longitude string
	Region    string
	When      string
	Link      string
}

type Service struct {
	gk      *gatekeeper.Gatekeeper
	lock    Locker
	pub     Publisher
	short   Shortener
	text    *template.Template
	opts    Options
	metrics *metrics.Recorder
	log     *zap.Logger
	now     func() time.Time
}

// New builds the pipeline. short may be nil, in which case the long link is used.
func New(gk *gatekeeper.Gatekeeper, lock Locker, pub Publisher, short Shortener, rec *metrics.Recorder, log *zap.Logger, opts Options) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MessageType == "" {
		opts.MessageType = "earthquake"
	}
	if opts.TextTemplate == "" {
		return nil, errors.New("notification text template is empty")
	}
	tmpl, err := template.New("text").Parse(opts.TextTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}
	if pub == nil && !opts.DryRun {
		return nil, errors.New("publisher is required unless dry run")
	}
	return &Service{
		gk:      gk,
		lock:    lock,
		pub:     pub,
		short:   short,
		text:    tmpl,
		opts:    opts,
		metrics: rec,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle decides on one update and, if accepted, publishes and records it.
// Rejections come back as decisions with a nil error. Errors wrap one of the
// domain failure classes.
func (s *Service) Handle(ctx context.Context, p domain.Params) (gatekeeper.Decision, error) {
	d, err := s.gk.Normalize(ctx, p)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedInput) {
			s.metrics.Decision("malformed")
			s.log.Warn("dropping malformed update",
				zap.String("source", p.Source),
				zap.String("code", p.Code),
				zap.Error(err))
		}
		return d, err
	}
	if !d.Outcome.Accepted() {
		s.logDecision(d)
		return d, nil
	}

	ev := d.Event
	err = s.lock.WithEventLock(ctx, ev.ID, func(ctx context.Context) error {
		dec, err := s.gk.Evaluate(ctx, ev)
		if err != nil {
			return err
		}
		d = dec
		if !dec.Outcome.Accepted() {
			return nil
		}
		if s.opts.DryRun {
			d.Text, err = s.compose(ev, ev.NotificationURI)
			return err
		}
		return s.publishAndCommit(ctx, ev, &d)
	})
	if err != nil {
		s.log.Error("notification failed", zap.String("event_id", ev.ID), zap.Error(err))
		return d, err
	}
	s.logDecision(d)
	return d, nil
}

func (s *Service) publishAndCommit(ctx context.Context, ev domain.Event, d *gatekeeper.Decision) error {
	link := s.link(ctx, ev)
	text, err := s.compose(ev, link)
	if err != nil {
		return err
	}

	elapsed, err := s.pub.Publish(ctx, publish.MessageFor(s.opts.MessageType, ev, link, text))
	s.metrics.Published(elapsed, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}
	s.log.Info("notification published", zap.String("event_id", ev.ID), zap.Duration("elapsed", elapsed))

	dec, err := s.gk.Commit(ctx, ev, text, s.now())
	if err != nil {
		s.log.Error("notification published but not recorded", zap.String("event_id", ev.ID), zap.Error(err))
		return err
	}
	*d = dec
	return nil
}

// link prefers the short link; any shortener failure degrades to the long one.
func (s *Service) link(ctx context.Context, ev domain.Event) string {
	if s.short == nil || ev.NotificationURI == "" {
		return ev.NotificationURI
	}
	short, err := s.short.Shorten(ctx, ev.NotificationURI)
	if err != nil {
		s.log.Warn("link shortening failed, using long link", zap.String("event_id", ev.ID), zap.Error(err))
		return ev.NotificationURI
	}
	return short
}

func (s *Service) compose(ev domain.Event, link string) (string, error) {
	var b bytes.Buffer
	err := s.text.Execute(&b, TextData{
		ID:        ev.ID,
		Source:    ev.Source,
		Magnitude: ev.MagnitudeString(),
		Depth:     ev.DepthString(),
		Latitude:  ev.LatitudeString(),
		Longitude: ev.LongitudeString(),
		Region:    ev.RegionName,
		When:      ev.Time.UTC().Format("Jan 2 15:04:05"),
		Link:      link,
	})
	if err != nil {
		return "", fmt.Errorf("compose text for %s: %w", ev.ID, err)
	}
	return b.String(), nil
}

func (s *Service) logDecision(d gatekeeper.Decision) {
	s.metrics.Decision(string(d.Outcome))
	fields := []zap.Field{
		zap.String("event_id", d.Event.ID),
		zap.String("outcome", string(d.Outcome)),
	}
	if d.Reason != "" {
		fields = append(fields, zap.String("reason", d.Reason))
	}
	if d.ConflictingID != "" {
		fields = append(fields, zap.String("conflicting_id", d.ConflictingID))
	}
	if d.Outcome.Accepted() {
		fields = append(fields, zap.Bool("published", d.Published))
	}
	s.log.Info("eligibility decision", fields...)
}
