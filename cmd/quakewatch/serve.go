package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/quakewatch/internal/correlator"
	"example.com/quakewatch/internal/ingest"
	"example.com/quakewatch/internal/metrics"
	"example.com/quakewatch/internal/queue"
	transport "example.com/quakewatch/internal/transport/http"
)

func serveCmd() *cobra.Command {
	var (
		skipMigrate bool
		queueSize   int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the detection consumer and the correlation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a, skipMigrate, queueSize)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply the schema at startup")
	cmd.Flags().IntVar(&queueSize, "queue-size", 1024, "Detection queue capacity")
	return cmd
}

func serve(a *app, skipMigrate bool, queueSize int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	cfg := a.cfg

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	if !skipMigrate {
		if err := db.RunMigration(ctx, cfg.DB.MigrationPath); err != nil {
			return err
		}
		a.log.Info("db: migration applied", zap.String("path", cfg.DB.MigrationPath))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	svc, err := a.notifier(db, rec, false)
	if err != nil {
		return err
	}
	corr := correlator.New(db, rec, a.log.Named("correlator"))

	ingestor := ingest.NewIngestor(func(ctx context.Context, payload []byte) error {
		_, err := corr.Handle(ctx, payload)
		return err
	}, queueSize, cfg.Correlation.RetryWait, a.log.Named("ingest"))

	deps := &transport.ServerDeps{
		Cfg:        cfg.Server,
		Events:     svc,
		Correlator: corr,
		Store:      db,
		Queue:      ingestor,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:        a.log.Named("api"),
		Now:        func() time.Time { return time.Now().UTC() },
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ingestor.Run(ctx) })

	if cfg.Kafka.Enabled() {
		src, err := queue.NewKafkaSource(cfg.Kafka, a.log.Named("kafka"))
		if err != nil {
			return err
		}
		a.onClose(func() { _ = src.Close() })
		g.Go(func() error { return ingestor.Consume(ctx, src) })
	} else {
		a.log.Info("ingest: kafka not configured, HTTP intake only")
	}

	sched := cron.New()
	_, err = sched.AddFunc(cfg.Correlation.SweepSpec, func() {
		if _, err := corr.Sweep(ctx, cfg.Correlation.SweepLookback, cfg.Correlation.SweepLimit); err != nil {
			a.log.Error("correlation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	sched.Start()
	a.log.Info("cron started", zap.String("sweep", cfg.Correlation.SweepSpec))
	g.Go(func() error {
		<-ctx.Done()
		<-sched.Stop().Done()
		a.log.Info("cron stopped")
		return nil
	})

	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
