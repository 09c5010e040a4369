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
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/pkg/logging"
	"github.com/minghao2016/OSPREY3/pkg/ux"
	"github.com/minghao2016/OSPREY3/services/sofea"
	"github.com/minghao2016/OSPREY3/services/sofea/config"
	"github.com/minghao2016/OSPREY3/services/sofea/telemetry"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds the global flags and the per-invocation logger and telemetry.
type app struct {
	out    io.Writer
	errOut io.Writer

	designPath      string
	logLevel        string
	logDir          string
	jsonLogs        bool
	traceExporter   string
	metricsExporter string
	output          string

	logger   *logging.Logger
	shutdown func(context.Context) error
}

// execute runs the command line in args and always releases the logger
// and telemetry, whether or not the command failed.
func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "sofea",
		Short:   "Bound multi-state partition functions with sweep branch and bound",
		Version: version,
		Long: `sofea refines lower and upper bounds on the partition function of
every state and sequence of a multi-state design. Bounds live in two stores
on disk, so a refine can stop and resume at any sweep boundary.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.designPath, "config", "c", "design.yaml", "design file")
	pf.StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&a.logDir, "log-dir", "", "also write JSON logs to this directory")
	pf.BoolVar(&a.jsonLogs, "json-logs", false, "JSON console logs (default when stderr is not a terminal)")
	pf.StringVar(&a.traceExporter, "trace-exporter", "", "none, stdout or otlp (default $OTEL_TRACES_EXPORTER or none)")
	pf.StringVar(&a.metricsExporter, "metrics-exporter", "none", "none, prometheus or stdout")
	pf.StringVar(&a.output, "output", "", "rich or plain (default: rich on a terminal)")

	root.AddCommand(
		a.initCmd(),
		a.refineCmd(),
		a.reportCmd(),
		a.calcZCmd(),
	)
	return root
}

// setup builds the logger and starts telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  a.logDir,
		Service: "sofea",
		JSON:    a.jsonLogs || !isTerminal(a.errOut),
		Output:  a.errOut,
	})

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if a.traceExporter != "" {
		tcfg.TraceExporter = a.traceExporter
	}
	tcfg.MetricExporter = a.metricsExporter
	tcfg.Writer = a.errOut
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ux.IsTerminal(f)
}

func (a *app) printer() *ux.Printer {
	if a.output != "" {
		return ux.NewPrinter(a.out, ux.ParseMode(a.output))
	}
	if f, ok := a.out.(*os.File); ok {
		return ux.NewPrinter(a.out, ux.DetectMode(f))
	}
	return ux.NewPrinter(a.out, ux.ModePlain)
}

// engine is a loaded design and its driver.
type engine struct {
	design *config.Design
	sofea  *sofea.Sofea
	bc     bigmath.BoltzmannCalculator
}

// loadEngine reads the design file and builds the driver. Store paths
// resolve against the design file's directory.
func (a *app) loadEngine() (*engine, error) {
	d, err := config.Load(a.designPath)
	if err != nil {
		return nil, err
	}
	space, configs, err := d.Build()
	if err != nil {
		return nil, err
	}

	cfg := d.SofeaConfig(filepath.Dir(a.designPath))
	cfg.Logger = a.logger.Slog()
	s, err := sofea.New(space, configs, cfg)
	if err != nil {
		return nil, fmt.Errorf("design %s: %w", d.Name, err)
	}

	return &engine{
		design: d,
		sofea:  s,
		bc:     bigmath.NewBoltzmannCalculator(d.Temperature, bigmath.NewContext(s.Config().MathPrecision)),
	}, nil
}
