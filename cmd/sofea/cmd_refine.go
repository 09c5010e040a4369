// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/minghao2016/OSPREY3/services/sofea"
	"github.com/minghao2016/OSPREY3/services/sofea/api"
	"github.com/minghao2016/OSPREY3/services/sofea/telemetry"
)

type refineOptions struct {
	maxSweeps int64
	timeout   time.Duration
	precision float64
	listen    string
}

// criterion combines the stopping flags with Any. No flags means run until
// the fringe is exhausted.
func (o refineOptions) criterion(precisionSet bool) sofea.Criterion {
	var crits []sofea.Criterion
	if o.maxSweeps > 0 {
		crits = append(crits, sofea.MaxSweeps(o.maxSweeps))
	}
	if o.timeout > 0 {
		crits = append(crits, sofea.Timeout(o.timeout))
	}
	if precisionSet {
		crits = append(crits, sofea.Precision(o.precision))
	}
	switch len(crits) {
	case 0:
		return nil
	case 1:
		return crits[0]
	default:
		return sofea.Any(crits...)
	}
}

func (a *app) refineCmd() *cobra.Command {
	var opts refineOptions
	cmd := &cobra.Command{
		Use:   "refine",
		Short: "Sweep the fringe until a stopping criterion is met",
		Long: `refine resumes an initialized design and sweeps its fringe. It stops
when any given criterion is met, when every conformation has been explored,
or after the running sweep when interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.precision < 0 {
				return fmt.Errorf("precision must be >= 0, got %v", opts.precision)
			}
			eng, err := a.loadEngine()
			if err != nil {
				return err
			}

			var srv *api.Server
			if opts.listen != "" {
				srv = api.New(api.Config{
					Addr:    opts.listen,
					Metrics: telemetry.MetricsHandler(),
					Logger:  a.logger.Slog(),
				})
				if err := srv.Start(); err != nil {
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
				eng.sofea.AddObserver(srv)
			}

			var sweeps int64
			eng.sofea.AddObserver(sofea.SweepObserverFunc(func(r sofea.SweepReport) {
				sweeps = r.Sweep
			}))

			start := time.Now()
			reason, err := eng.sofea.Refine(cmd.Context(), opts.criterion(cmd.Flags().Changed("precision")))
			if srv != nil {
				srv.Finish(reason, err)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			p := a.printer()
			if reason == sofea.StopCancelled {
				p.Warning("refine interrupted; run refine again to resume")
			} else {
				p.Success(fmt.Sprintf("refine finished: %s", reason))
			}
			p.KV(
				[2]string{"sweeps", fmt.Sprint(sweeps)},
				[2]string{"elapsed", time.Since(start).Round(time.Millisecond).String()},
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.maxSweeps, "max-sweeps", 0, "stop after this many sweeps")
	f.DurationVar(&opts.timeout, "timeout", 0, "stop at the first sweep boundary after this long")
	f.Float64Var(&opts.precision, "precision", 0, "stop when every full sequence's relative gap is at most this")
	f.StringVar(&opts.listen, "listen", "", "serve status and metrics on this address, e.g. localhost:9464")
	return cmd
}
