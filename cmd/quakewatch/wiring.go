package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/config"
	"example.com/quakewatch/internal/gatekeeper"
	"example.com/quakewatch/internal/geocode"
	"example.com/quakewatch/internal/logger"
	"example.com/quakewatch/internal/metrics"
	"example.com/quakewatch/internal/normalize"
	"example.com/quakewatch/internal/notify"
	"example.com/quakewatch/internal/publish"
	spg "example.com/quakewatch/internal/storage/postgres"
)

// app holds what every command builds once at start: config, logger and
// the resources to release on exit.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	closers []func()
}

func bootstrap() (*app, error) {
	// optional .env next to the binary's working dir
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.onClose(func() { _ = log.Sync() })
	return a, nil
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) openDB(ctx context.Context) (*spg.DB, error) {
	db, err := spg.Connect(ctx, a.cfg.DB.DSN, a.cfg.DB.MaxConns, a.cfg.DB.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.onClose(db.Close)
	a.log.Info("db: connected", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return db, nil
}

// geocoder builds the region resolver, backed by Redis when configured.
func (a *app) geocoder() *geocode.Resolver {
	r := &geocode.Resolver{
		HTTP:        &http.Client{Timeout: a.cfg.Geocode.Timeout},
		URLTemplate: a.cfg.Geocode.URLTemplate,
		TTL:         a.cfg.Redis.RegionTTL,
		Log:         a.log.Named("geocode"),
	}
	if a.cfg.Redis.URL == "" {
		r.Cache = geocode.NewMemoryCache()
		return r
	}
	rc, err := geocode.NewRedisCache(a.cfg.Redis.URL)
	if err != nil {
		a.log.Warn("redis region cache unavailable, using in-process cache", zap.Error(err))
		r.Cache = geocode.NewMemoryCache()
		return r
	}
	a.onClose(func() { _ = rc.Close() })
	r.Cache = rc
	return r
}

func (a *app) gatekeeper(store gatekeeper.Store) *gatekeeper.Gatekeeper {
	rules := a.cfg.Rules
	norm := normalize.New(normalize.Options{
		Actions:       rules.ActionList(),
		IgnoreSources: rules.IgnoredSources(),
		URITemplate:   a.cfg.Links.LongURLTemplate,
	}, a.geocoder())
	return gatekeeper.New(gatekeeper.Rules{
		MagnitudeThreshold:  rules.MagThresh,
		StaleWindow:         rules.StaleWindow(),
		ProximityWindow:     rules.ProximityWindow(),
		ProximityDistanceKm: rules.TooCloseDistance,
	}, store, norm, a.log.Named("gatekeeper"))
}

type notifyStore interface {
	gatekeeper.Store
	notify.Locker
}

func (a *app) notifier(store notifyStore, rec *metrics.Recorder, dryRun bool) (*notify.Service, error) {
	var pub notify.Publisher
	if !dryRun {
		p, err := publish.NewPublisher(a.cfg.Publish.URLTemplate, a.cfg.Publish.Method, a.cfg.Publish.Timeout)
		if err != nil {
			return nil, err
		}
		pub = p
	}
	var short notify.Shortener
	if a.cfg.Links.ShortURLTemplate != "" {
		short = publish.NewShortener(a.cfg.Links.ShortURLTemplate, a.cfg.Publish.Timeout)
	}
	return notify.New(a.gatekeeper(store), store, pub, short, rec, a.log.Named("notify"), notify.Options{
		DryRun:       dryRun,
		TextTemplate: a.cfg.Publish.TextTemplate,
		MessageType:  a.cfg.Publish.MessageType,
	})
}
