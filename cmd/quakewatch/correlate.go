package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/correlator"
	"example.com/quakewatch/internal/domain"
)

func correlateCmd() *cobra.Command {
	var (
		file  string
		sweep bool
	)
	cmd := &cobra.Command{
		Use:   "correlate [detection-id...]",
		Short: "Store a detection payload or re-run correlation",
		Long: `Without arguments, correlate reads one detection payload from --file or
stdin, stores it and correlates it. With detection ids it re-runs
correlation for each. --sweep re-runs every pending detection within the
configured lookback.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			c := correlator.New(db, nil, a.log.Named("correlator"))
			out := json.NewEncoder(os.Stdout)

			switch {
			case sweep:
				n, err := c.Sweep(ctx, a.cfg.Correlation.SweepLookback, a.cfg.Correlation.SweepLimit)
				if err != nil {
					return err
				}
				return out.Encode(map[string]int{"correlated": n})

			case len(args) > 0:
				for _, arg := range args {
					id, err := domain.ParseDetectionID(arg)
					if err != nil {
						return err
					}
					res, err := c.Correlate(ctx, id)
					if err != nil {
						return err
					}
					if err := out.Encode(res); err != nil {
						return err
					}
				}
				return nil
			}

			payload, err := readPayload(file)
			if err != nil {
				return err
			}
			res, err := c.Handle(ctx, payload)
			if errors.Is(err, domain.ErrMalformedInput) {
				return nil
			}
			if err != nil {
				a.log.Error("correlate failed", zap.Error(err))
				return err
			}
			return out.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Detection payload file (default stdin)")
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Re-run correlation for pending detections")
	return cmd
}

func readPayload(file string) ([]byte, error) {
	if file == "" || file == "-" {
		b, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return b, nil
}
