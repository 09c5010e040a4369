// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sofea bounds the partition function Z of every sequence of a
// multi-state design by sweeping a branch-and-bound fringe.
//
// # Algorithm
//
// Each state's conformation tree starts as one root node bounded by
// optimized pair and triple weights. Every sweep lowers a per-state
// threshold by SweepDivisor and expands each fringe node whose upper bound
// is at least the threshold: subtrees that fall below it go back to the
// fringe with fresh bounds, leaves are recorded exactly. The ledger
// (seqdb) accounts every bound by sequence, so full-sequence bounds tighten
// monotonically as sweeps proceed.
//
// # Persistence
//
// The fringe and the ledger are badger stores. Work is committed in
// fringe-then-ledger order whenever the fringe write buffer fills, and at
// the end of each sweep; an interrupted run resumes with Refine.
//
// # Thread Safety
//
// A Sofea is safe for one Init or Refine at a time. Within a sweep,
// Parallelism workers expand nodes concurrently; reads from and writes to
// both stores are serialized under one mutex.
package sofea

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/pkg/logging"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/fringedb"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
	storage "github.com/minghao2016/OSPREY3/services/sofea/storage/badger"
)

// StopReason says why Refine returned.
type StopReason string

const (
	// StopCriterion means the criterion was satisfied.
	StopCriterion StopReason = "criterion"

	// StopExhausted means every node was explored.
	StopExhausted StopReason = "exhausted"

	// StopCancelled means the context was cancelled between sweeps.
	StopCancelled StopReason = "cancelled"
)

// StateStats counts what one sweep did to one state's nodes.
type StateStats struct {
	State string `json:"state"`

	// Read is the number of nodes read.
	Read int64 `json:"read"`

	// Deferred nodes had an upper bound below the threshold and were
	// requeued unchanged.
	Deferred int64 `json:"deferred"`

	// Expanded nodes took at least one descent step.
	Expanded int64 `json:"expanded"`

	// Replaced expansions were committed.
	Replaced int64 `json:"replaced"`

	// Added is the number of replacement nodes written by committed
	// expansions.
	Added int64 `json:"added"`

	// Requeued expansions were discarded for lack of fringe capacity.
	Requeued int64 `json:"requeued"`

	// Leaves is the number of exact leaf values recorded.
	Leaves int64 `json:"leaves"`
}

// SweepReport describes one finished sweep.
type SweepReport struct {
	RunID          string            `json:"run_id"`
	Sweep          int64             `json:"sweep"`
	Finished       time.Time         `json:"finished"`
	Duration       time.Duration     `json:"duration"`
	States         []StateStats      `json:"states"`
	Thresholds     []decimal.Decimal `json:"thresholds"`
	FringeNodes    int64             `json:"fringe_nodes"`
	FringeCapacity int64             `json:"fringe_capacity"`
}

// SweepObserver receives a report after every sweep.
type SweepObserver interface {
	ObserveSweep(report SweepReport)
}

// SweepObserverFunc adapts a function to SweepObserver.
type SweepObserverFunc func(report SweepReport)

// ObserveSweep calls f.
func (f SweepObserverFunc) ObserveSweep(report SweepReport) { f(report) }

// Sofea is the sweep driver.
type Sofea struct {
	space   *confspace.MultiStateConfSpace
	configs []StateConfig
	cfg     Config
	math    bigmath.Context
	infos   []*stateInfo
	logger  *slog.Logger

	obsMu     sync.Mutex
	observers []SweepObserver
}

// New validates the configuration and precomputes per-state bound tables.
//
// Inputs:
//
//	space - The multi-state conf space.
//	configs - One StateConfig per state, in state order.
//	cfg - Run configuration. Zero values select defaults.
//
// Outputs:
//
//	*Sofea - The driver.
//	error - ErrTooFewPositions, ErrStateNotConfigured or ErrInvalidConfig.
func New(space *confspace.MultiStateConfSpace, configs []StateConfig, cfg Config) (*Sofea, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(configs) != len(space.States) {
		return nil, fmt.Errorf("%w: %d configs for %d states", ErrStateNotConfigured, len(configs), len(space.States))
	}

	s := &Sofea{
		space:   space,
		configs: configs,
		cfg:     cfg,
		math:    bigmath.NewContext(cfg.MathPrecision),
		logger:  logging.OrDefault(cfg.Logger).With(slog.String("component", "sofea")),
	}
	for _, state := range space.States {
		if state.ConfSpace.NumPositions() < 2 {
			return nil, fmt.Errorf("%w: %s has %d", ErrTooFewPositions, state.Name, state.ConfSpace.NumPositions())
		}
		if configs[state.Index].Tuples == nil {
			return nil, fmt.Errorf("%w: %s has no tuple oracle", ErrStateNotConfigured, state.Name)
		}
		s.infos = append(s.infos, newStateInfo(space, state, configs[state.Index], s.math))
	}
	return s, nil
}

// ConfSpace returns the conf space.
func (s *Sofea) ConfSpace() *confspace.MultiStateConfSpace {
	return s.space
}

// Config returns the validated configuration.
func (s *Sofea) Config() Config {
	return s.cfg
}

// AddObserver registers o for sweep reports.
func (s *Sofea) AddObserver(o SweepObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Sofea) notify(report SweepReport) {
	s.obsMu.Lock()
	observers := append([]SweepObserver(nil), s.observers...)
	s.obsMu.Unlock()
	for _, o := range observers {
		o.ObserveSweep(report)
	}
}

func (s *Sofea) requirePaths() error {
	if s.cfg.SeqDBPath == "" || s.cfg.FringeDBPath == "" {
		return fmt.Errorf("%w: store paths are required; use InitWith/RefineWith for in-memory stores", ErrInvalidConfig)
	}
	return nil
}

// OpenSeqDB opens the file-backed ledger for reading results.
func (s *Sofea) OpenSeqDB() (*seqdb.SeqDB, error) {
	if err := s.requirePaths(); err != nil {
		return nil, err
	}
	return seqdb.Open(s.space, s.cfg.seqdbConfig())
}

// OpenFringeDB opens the file-backed fringe of an initialized run.
func (s *Sofea) OpenFringeDB() (*fringedb.FringeDB, error) {
	if err := s.requirePaths(); err != nil {
		return nil, err
	}
	return fringedb.Open(s.space, s.cfg.fringedbConfig())
}

// -----------------------------------------------------------------------------
// Init
// -----------------------------------------------------------------------------

// Init starts a new design in the file-backed stores.
//
// Inputs:
//
//	ctx - Cancellation.
//	overwrite - Remove existing stores instead of failing.
//
// Outputs:
//
//	error - ErrResultsExist if stores exist and overwrite is false.
func (s *Sofea) Init(ctx context.Context, overwrite bool) error {
	if err := s.requirePaths(); err != nil {
		return err
	}
	if !overwrite && (storage.Exists(s.cfg.SeqDBPath) || storage.Exists(s.cfg.FringeDBPath)) {
		return fmt.Errorf("%w: %s, %s", ErrResultsExist, s.cfg.SeqDBPath, s.cfg.FringeDBPath)
	}
	if err := storage.Remove(s.cfg.SeqDBPath); err != nil {
		return err
	}
	if err := storage.Remove(s.cfg.FringeDBPath); err != nil {
		return err
	}

	sdb, err := seqdb.Open(s.space, s.cfg.seqdbConfig())
	if err != nil {
		return err
	}
	defer sdb.Close()

	fdb, err := fringedb.Create(s.space, s.cfg.fringedbConfig())
	if err != nil {
		return err
	}
	defer fdb.Close()

	return s.InitWith(ctx, sdb, fdb)
}

// InitWith writes one root node and one root ledger entry per state into
// caller-opened, empty stores.
func (s *Sofea) InitWith(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB) error {
	ctx, span := tracer.Start(ctx, "sofea.Init",
		trace.WithAttributes(attribute.Int("states", len(s.space.States))),
	)
	defer span.End()

	if !fdb.IsEmpty() || fdb.SweepCount() > 0 {
		return fmt.Errorf("%w: fringe %s already initialized", ErrResultsExist, fdb.RunID())
	}

	fringetx := fdb.Transaction()
	seqtx := sdb.Transaction()
	root := s.space.SeqSpace.MakeUnassignedSequence()
	for _, info := range s.infos {
		bound := info.rootBound()
		if err := fringetx.WriteRootNode(info.state, bound, info.tuples.Factor()); err != nil {
			return s.fail(span, err)
		}
		if err := seqtx.AddZBounds(info.state, root, bound); err != nil {
			return s.fail(span, err)
		}
		s.logger.Debug("root bound",
			slog.String("state", info.state.Name),
			slog.String("z", bound.String()))
	}
	if err := commitBoth(ctx, fringetx, seqtx); err != nil {
		return s.fail(span, err)
	}
	if err := fdb.FinishSweep(ctx); err != nil {
		return s.fail(span, err)
	}

	s.logger.Info("sofea initialized",
		slog.String("run_id", fdb.RunID()),
		slog.Int("states", len(s.space.States)),
		slog.Int64("fringe_capacity", fdb.Capacity()))
	return nil
}

func (s *Sofea) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// -----------------------------------------------------------------------------
// Refine
// -----------------------------------------------------------------------------

// Refine sweeps the file-backed stores of an initialized run until the
// criterion is satisfied, the fringe is exhausted or ctx is cancelled.
func (s *Sofea) Refine(ctx context.Context, criterion Criterion) (StopReason, error) {
	sdb, err := s.OpenSeqDB()
	if err != nil {
		return "", err
	}
	defer sdb.Close()

	fdb, err := s.OpenFringeDB()
	if err != nil {
		return "", err
	}
	defer fdb.Close()

	return s.RefineWith(ctx, sdb, fdb, criterion)
}

// RefineWith sweeps caller-opened stores.
//
// Description:
//
//	Before each sweep the criterion and ctx are checked, then every
//	state's threshold is divided by SweepDivisor. A partially finished
//	sweep (after a crash or error) is resumed where it stopped.
//
// Inputs:
//
//	ctx - Checked once per sweep; a running sweep always completes.
//	sdb, fdb - The ledger and fringe of one run.
//	criterion - Stopping rule. nil runs until the fringe is exhausted.
//
// Outputs:
//
//	StopReason - Why refinement stopped.
//	error - ctx.Err() on cancellation, or the first store or capacity
//	error.
func (s *Sofea) RefineWith(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, criterion Criterion) (StopReason, error) {
	batch, err := RecoverLedger(ctx, sdb, fdb)
	if err != nil {
		return "", err
	}
	if batch > 0 {
		s.logger.Warn("ledger batch replayed after an interrupted commit",
			slog.String("run_id", fdb.RunID()),
			slog.Uint64("batch", batch))
	}

	zmax := make([]decimal.Decimal, len(s.space.States))
	for _, state := range s.space.States {
		zmax[state.Index] = fdb.ZMax(state)
	}

	var sweepCount int64
	for {
		if criterion != nil {
			done, err := criterion.IsFinished(ctx, sdb, fdb, sweepCount)
			if err != nil {
				return "", fmt.Errorf("evaluate criterion: %w", err)
			}
			if done {
				s.logger.Info("sofea finished, criterion satisfied", slog.Int64("sweeps", sweepCount))
				return StopCriterion, nil
			}
		}
		if fdb.IsEmpty() {
			s.logger.Info("sofea finished, explored every node", slog.Int64("sweeps", sweepCount))
			return StopExhausted, nil
		}
		if err := ctx.Err(); err != nil {
			s.logger.Info("sofea stopped, context cancelled", slog.Int64("sweeps", sweepCount))
			return StopCancelled, err
		}

		for i := range zmax {
			zmax[i] = s.math.Set(zmax[i]).DivFloat(s.cfg.SweepDivisor).Get()
		}

		sweepCount++
		report, err := s.sweep(ctx, sdb, fdb, zmax, sweepCount)
		if err != nil {
			return "", err
		}
		recordSweep(ctx, report)
		s.logSweep(report)
		s.notify(*report)
	}
}

// RecoverLedger applies the ledger redo record of the fringe's latest
// batch if the ledger never committed it.
//
// Description:
//
//	Every commit pair writes the fringe first with the ledger deltas
//	attached, then the ledger with the batch number. A crash between the
//	two leaves the fringe one batch ahead; replaying the record restores
//	the ledger to match the fringe exactly.
//
// Outputs:
//
//	uint64 - The replayed batch, or 0 if the stores already agree.
//	error - Non-nil on store or decode errors.
func RecoverLedger(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB) (uint64, error) {
	batch, record, err := fdb.PendingLedger(ctx)
	if err != nil || batch == 0 {
		return 0, err
	}
	applied, err := sdb.AppliedBatch(ctx)
	if err != nil {
		return 0, err
	}
	if applied >= batch {
		return 0, nil
	}
	tx, err := sdb.DecodeTransaction(record)
	if err != nil {
		return 0, fmt.Errorf("decode ledger batch %d: %w", batch, err)
	}
	if err := tx.CommitBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("replay ledger batch %d: %w", batch, err)
	}
	return batch, nil
}

// sweep expands every node of the current sweep once.
func (s *Sofea) sweep(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, zmax []decimal.Decimal, sweep int64) (*SweepReport, error) {
	ctx, span := tracer.Start(ctx, "sofea.Sweep",
		trace.WithAttributes(
			attribute.Int64("sweep", sweep),
			attribute.Int64("fringe_nodes", fdb.NumNodes()),
		),
	)
	defer span.End()

	// a started sweep runs to completion
	storeCtx := context.WithoutCancel(ctx)
	start := time.Now()

	stats := make([]StateStats, len(s.space.States))
	for _, state := range s.space.States {
		stats[state.Index].State = state.Name
	}

	fringetx := fdb.Transaction()
	seqtx := sdb.Transaction()

	logLevel := slog.LevelDebug
	if s.cfg.ShowProgress {
		logLevel = slog.LevelInfo
	}
	prog := newProgress(s.logger, sweep, fringetx.NumNodesToRead(), s.cfg.ProgressInterval)

	var (
		mu     sync.Mutex
		failed error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Parallelism)

	for {
		mu.Lock()
		if failed != nil || !fringetx.HasNodesToRead() {
			mu.Unlock()
			break
		}
		node, err := fringetx.ReadNode(storeCtx)
		if err != nil {
			failed = err
			mu.Unlock()
			break
		}
		stats[node.StateIndex].Read++
		mu.Unlock()

		nodetx := newNodeTx(s.infos[node.StateIndex], node)
		threshold := zmax[node.StateIndex]

		g.Go(func() error {
			expanded := s.design(nodetx, threshold, nodetx.index, node.ZBounds, node.ZPath)

			mu.Lock()
			defer mu.Unlock()

			st := &stats[node.StateIndex]
			var err error
			switch {
			case !expanded:
				st.Deferred++
				err = nodetx.requeue(storeCtx, fringetx, seqtx)
			case nodetx.hasRoomToReplace(fringetx):
				st.Expanded++
				st.Replaced++
				st.Added += int64(len(nodetx.replacements))
				st.Leaves += int64(len(nodetx.zvals))
				err = nodetx.replace(storeCtx, fringetx, seqtx)
			default:
				st.Expanded++
				st.Requeued++
				err = nodetx.requeue(storeCtx, fringetx, seqtx)
			}
			if err != nil && failed == nil {
				failed = err
			}
			if s.cfg.ShowProgress {
				prog.increment()
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		err = failed
	}
	if err == nil {
		err = commitBoth(storeCtx, fringetx, seqtx)
	}
	if err == nil {
		err = fdb.FinishSweep(storeCtx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		s.logger.Error("sweep failed", slog.Int64("sweep", sweep), slog.String("error", err.Error()))
		return nil, fmt.Errorf("sweep %d: %w", sweep, err)
	}

	report := &SweepReport{
		RunID:          fdb.RunID(),
		Sweep:          sweep,
		Finished:       time.Now(),
		Duration:       time.Since(start),
		States:         stats,
		Thresholds:     append([]decimal.Decimal(nil), zmax...),
		FringeNodes:    fdb.NumNodes(),
		FringeCapacity: fdb.Capacity(),
	}
	s.logger.Log(ctx, logLevel, "sweep finished",
		slog.Int64("sweep", sweep),
		slog.Duration("duration", report.Duration.Round(time.Millisecond)))
	return report, nil
}

func (s *Sofea) logSweep(report *SweepReport) {
	level := slog.LevelDebug
	if s.cfg.ShowProgress {
		level = slog.LevelInfo
	}
	ctx := context.Background()
	pct := 0.0
	if report.FringeCapacity > 0 {
		pct = 100 * float64(report.FringeNodes) / float64(report.FringeCapacity)
	}
	s.logger.Log(ctx, level, "fringe size",
		slog.Int64("sweep", report.Sweep),
		slog.Int64("nodes", report.FringeNodes),
		slog.Int64("capacity", report.FringeCapacity),
		slog.Float64("percent", pct))
	for _, st := range report.States {
		s.logger.Log(ctx, level, "sweep stats",
			slog.String("state", st.State),
			slog.Int64("read", st.Read),
			slog.Int64("deferred", st.Deferred),
			slog.Int64("expanded", st.Expanded),
			slog.Int64("replaced", st.Replaced),
			slog.Int64("added", st.Added),
			slog.Int64("requeued", st.Requeued),
			slog.Int64("leaves", st.Leaves))
	}
}

// design expands the subtree at index in place.
//
// Description:
//
//	A subtree whose upper bound is below zmax becomes a replacement node.
//	Otherwise the next position is assigned each RC in turn: leaves are
//	recorded exactly, non-empty subtrees are bounded and recursed into.
//
// Outputs:
//
//	bool - false if the subtree itself was below zmax.
func (s *Sofea) design(t *nodeTx, zmax decimal.Decimal, index *confspace.ConfIndex, zbounds bigmath.DecimalBounds, zpath decimal.Decimal) bool {
	if zbounds.Upper.LessThan(zmax) {
		t.addReplacement(index, zbounds, zpath)
		return false
	}

	info := t.info
	isRoot := index.NumDefined() == 0
	isLeaf := index.NumDefined()+1 == index.NumPos()
	pos := index.Undefined[0]

	for _, rc := range info.rcs[pos] {
		zpathrc := zpath
		if isRoot {
			if info.pruning.IsPrunedSingle(pos, rc) {
				continue
			}
		} else {
			zrc := info.getZPart(index, pos, rc)
			if zrc.IsZero() {
				continue
			}
			zpathrc = s.math.Mul(zpath, zrc)
		}

		index.Assign(pos, rc)
		if isLeaf {
			t.addZVal(index, zpathrc)
		} else if zb, ok := info.boundZ(index, zpathrc); ok {
			s.design(t, zmax, index, zb, zpathrc)
		}
		index.Unassign(pos)
	}
	return true
}

// -----------------------------------------------------------------------------
// Brute force reference
// -----------------------------------------------------------------------------

// CalcZ enumerates every conformation of seq in state and sums its weight.
// Positions unassigned in seq keep every RC. Small spaces only.
func (s *Sofea) CalcZ(state *confspace.State, seq *confspace.Sequence) decimal.Decimal {
	return s.infos[state.Index].calcZ(seq)
}

// CalcG returns the free energy of CalcZ.
func (s *Sofea) CalcG(state *confspace.State, seq *confspace.Sequence, temperature float64) float64 {
	return bigmath.NewBoltzmannCalculator(temperature, s.math).FreeEnergy(s.CalcZ(state, seq))
}
