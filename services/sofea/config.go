// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sofea

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/fringedb"
	"github.com/minghao2016/OSPREY3/services/sofea/oracle"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
)

// DefaultSweepDivisor is e^4: each sweep lowers the expansion threshold by
// four natural-log units.
var DefaultSweepDivisor = math.Exp(4)

// StateConfig holds the oracles of one state.
type StateConfig struct {
	// Tuples provides Boltzmann-weighted pair and triple terms. Required.
	Tuples oracle.Tuples

	// Pruning marks impossible tuples. nil prunes nothing.
	Pruning oracle.Pruning
}

// ConfigEachState builds one StateConfig per state of space, in state order.
func ConfigEachState(space *confspace.MultiStateConfSpace, fn func(state *confspace.State) StateConfig) []StateConfig {
	out := make([]StateConfig, len(space.States))
	for _, state := range space.States {
		out[state.Index] = fn(state)
	}
	return out
}

// Config configures a Sofea run.
type Config struct {
	// MathPrecision is the significant-digit precision of bound arithmetic.
	MathPrecision int

	// SeqDBPrecision is the precision of ledger sums.
	SeqDBPrecision int

	// SeqDBPath is the ledger directory, used by Init and Refine.
	SeqDBPath string

	// FringeDBPath is the fringe directory, used by Init and Refine.
	FringeDBPath string

	// FringeDBBytes is the fringe budget when FringeDBNodes is 0.
	FringeDBBytes int64

	// FringeDBNodes is the fringe capacity in nodes. 0 derives it from
	// FringeDBBytes.
	FringeDBNodes int64

	// WriteBufferNodes is the fringe write buffer. 0 selects a quarter of
	// the capacity.
	WriteBufferNodes int

	// Parallelism is the number of sweep workers.
	Parallelism int

	// SweepDivisor divides each state's threshold before every sweep.
	// Must be > 1.
	SweepDivisor float64

	// ShowProgress logs intra-sweep progress and per-sweep statistics at
	// info level. Statistics are always logged at debug level.
	ShowProgress bool

	// ProgressInterval is the minimum interval between progress lines.
	ProgressInterval time.Duration

	// SyncWrites fsyncs every store commit.
	SyncWrites bool

	// Logger is the logger; nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the defaults for file-backed stores at the given
// paths.
func DefaultConfig(seqdbPath, fringedbPath string) Config {
	return Config{
		MathPrecision:    bigmath.DefaultPrecision,
		SeqDBPrecision:   bigmath.LedgerPrecision,
		SeqDBPath:        seqdbPath,
		FringeDBPath:     fringedbPath,
		FringeDBBytes:    fringedb.DefaultBytes,
		Parallelism:      1,
		SweepDivisor:     DefaultSweepDivisor,
		ProgressInterval: 5 * time.Second,
		SyncWrites:       true,
	}
}

// Validate checks ranges and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.MathPrecision == 0 {
		c.MathPrecision = bigmath.DefaultPrecision
	}
	if c.SeqDBPrecision == 0 {
		c.SeqDBPrecision = bigmath.LedgerPrecision
	}
	if c.Parallelism == 0 {
		c.Parallelism = 1
	}
	if c.SweepDivisor == 0 {
		c.SweepDivisor = DefaultSweepDivisor
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 5 * time.Second
	}
	if c.FringeDBBytes == 0 && c.FringeDBNodes == 0 {
		c.FringeDBBytes = fringedb.DefaultBytes
	}

	switch {
	case c.MathPrecision < 1:
		return fmt.Errorf("%w: math precision %d", ErrInvalidConfig, c.MathPrecision)
	case c.SeqDBPrecision < c.MathPrecision:
		return fmt.Errorf("%w: ledger precision %d below math precision %d",
			ErrInvalidConfig, c.SeqDBPrecision, c.MathPrecision)
	case c.Parallelism < 1:
		return fmt.Errorf("%w: parallelism %d", ErrInvalidConfig, c.Parallelism)
	case !(c.SweepDivisor > 1) || math.IsInf(c.SweepDivisor, 0):
		return fmt.Errorf("%w: sweep divisor %v must be > 1", ErrInvalidConfig, c.SweepDivisor)
	case c.FringeDBNodes < 0 || c.FringeDBBytes < 0 || c.WriteBufferNodes < 0:
		return fmt.Errorf("%w: negative fringe size", ErrInvalidConfig)
	}
	return nil
}

// seqdbConfig returns the ledger configuration for file-backed stores.
func (c *Config) seqdbConfig() seqdb.Config {
	cfg := seqdb.DefaultConfig(c.SeqDBPath)
	cfg.Precision = c.SeqDBPrecision
	cfg.SyncWrites = c.SyncWrites
	cfg.Logger = c.Logger
	return cfg
}

// fringedbConfig returns the fringe configuration for file-backed stores.
func (c *Config) fringedbConfig() fringedb.Config {
	cfg := fringedb.DefaultConfig(c.FringeDBPath)
	cfg.CapacityNodes = c.FringeDBNodes
	cfg.CapacityBytes = c.FringeDBBytes
	cfg.WriteBufferNodes = c.WriteBufferNodes
	cfg.Precision = c.MathPrecision
	cfg.SyncWrites = c.SyncWrites
	cfg.Logger = c.Logger
	return cfg
}

// InMemoryStores opens an empty in-memory ledger and fringe sized by c,
// for InitWith and RefineWith.
func (c *Config) InMemoryStores(space *confspace.MultiStateConfSpace) (*seqdb.SeqDB, *fringedb.FringeDB, error) {
	sc := seqdb.InMemoryConfig()
	sc.Precision = c.SeqDBPrecision
	sc.Logger = c.Logger
	sdb, err := seqdb.Open(space, sc)
	if err != nil {
		return nil, nil, err
	}

	fc := fringedb.InMemoryConfig(c.FringeDBNodes)
	fc.CapacityBytes = c.FringeDBBytes
	fc.WriteBufferNodes = c.WriteBufferNodes
	fc.Precision = c.MathPrecision
	fc.Logger = c.Logger
	fdb, err := fringedb.Create(space, fc)
	if err != nil {
		sdb.Close()
		return nil, nil, err
	}
	return sdb, fdb, nil
}
