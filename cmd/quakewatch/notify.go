package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/storage/memory"
)

func notifyCmd() *cobra.Command {
	var (
		p       domain.Params
		dryRun  bool
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Decide on one origin update and announce it if eligible",
		Long: `notify handles exactly one update from the event indexer.

Rejections exit 0 and publish nothing. Malformed updates are logged and
dropped with exit 0. Storage or transport failures exit 1 so the caller
can retry the whole invocation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				dryRun = true
			}
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var store notifyStore
			if offline {
				store = memory.New()
			} else {
				db, err := a.openDB(ctx)
				if err != nil {
					return err
				}
				store = db
			}

			svc, err := a.notifier(store, nil, dryRun)
			if err != nil {
				return err
			}
			dec, err := svc.Handle(ctx, p)
			if errors.Is(err, domain.ErrMalformedInput) {
				// logged by the pipeline; a retry would fail the same way
				return nil
			}
			if err != nil {
				a.log.Error("notify failed", zap.String("code", p.Code), zap.Error(err))
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(dec)
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Action, "action", "", "Indexer action, e.g. EVENT_ADDED")
	f.StringVar(&p.Source, "source", "", "Network code of the origin source")
	f.StringVar(&p.Code, "code", "", "Event code from the source")
	f.StringVar(&p.PreferredID, "preferred-id", "", "Preferred event id")
	f.StringVar(&p.PreferredMagnitude, "preferred-magnitude", "", "Preferred magnitude (null or none when unknown)")
	f.StringVar(&p.PreferredLatitude, "preferred-latitude", "", "Preferred latitude in degrees")
	f.StringVar(&p.PreferredLongitude, "preferred-longitude", "", "Preferred longitude in degrees")
	f.StringVar(&p.PreferredDepth, "preferred-depth", "", "Preferred depth in km")
	f.StringVar(&p.PreferredEventTime, "preferred-eventtime", "", "Origin time, ISO-8601 with Z suffix")
	f.StringVar(&p.Status, "status", "", "Informational")
	f.StringVar(&p.TrackerURL, "tracker-url", "", "Informational")
	f.StringVar(&p.Directory, "directory", "", "Informational")
	f.StringVar(&p.Type, "type", "", "Informational")
	f.StringVar(&p.EventIDList, "event-ids", "", "Informational")
	f.StringVar(&p.UpdateTime, "update-time", "", "Informational")
	f.BoolVar(&dryRun, "dry-run", false, "Evaluate against the audit store without publishing or recording")
	f.BoolVar(&offline, "offline", false, "Dry run against an empty in-process store (no database)")
	return cmd
}
