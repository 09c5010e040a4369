// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/oracle"
)

// Build constructs the conf space and one StateConfig per state, in design
// order.
//
// Outputs:
//
//	*confspace.MultiStateConfSpace - The states and derived sequence space.
//	[]sofea.StateConfig - Tuple tables and pruning per state.
//	error - ErrInvalidDesign wrapping the conf-space or table error.
func (d *Design) Build() (*confspace.MultiStateConfSpace, []sofea.StateConfig, error) {
	b := confspace.NewBuilder()
	for _, s := range d.States {
		cs := confspace.NewConfSpace()
		for _, p := range s.Positions {
			cs.AddPosition(p.ResNum, p.Mutable, p.RCs...)
		}
		if s.Mutable {
			b.AddMutableState(s.Name, cs)
		} else {
			b.AddUnmutableState(s.Name, cs)
		}
	}
	space, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDesign, err)
	}

	ctx := bigmath.NewContext(d.mathPrecision())
	configs := make([]sofea.StateConfig, len(d.States))
	for i := range d.States {
		cfg, err := d.States[i].build(space.States[i].ConfSpace, ctx, d.Temperature)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: state %s: %v", ErrInvalidDesign, d.States[i].Name, err)
		}
		configs[i] = cfg
	}
	return space, configs, nil
}

func (d *Design) mathPrecision() int {
	if d.Run.MathPrecision > 0 {
		return d.Run.MathPrecision
	}
	return bigmath.DefaultPrecision
}

func (s *StateDesign) build(cs *confspace.ConfSpace, ctx bigmath.Context, temperature float64) (sofea.StateConfig, error) {
	pos := func(resNum string) int {
		return cs.Position(resNum).Index
	}

	tb := oracle.NewTableBuilder(cs, ctx, temperature)
	if s.OffsetEnergy != nil {
		tb.OffsetEnergy(*s.OffsetEnergy)
	}
	if s.Factor != "" {
		tb.Factor(decimal.RequireFromString(s.Factor))
	}
	for _, t := range s.Singles {
		if t.Energy != nil {
			tb.SingleEnergy(pos(t.Pos), t.RC, *t.Energy)
		} else {
			tb.Single(pos(t.Pos), t.RC, decimal.RequireFromString(t.Weight))
		}
	}
	for _, t := range s.Pairs {
		if t.Energy != nil {
			tb.PairEnergy(pos(t.Pos1), t.RC1, pos(t.Pos2), t.RC2, *t.Energy)
		} else {
			tb.Pair(pos(t.Pos1), t.RC1, pos(t.Pos2), t.RC2, decimal.RequireFromString(t.Weight))
		}
	}
	for _, t := range s.Triples {
		tr := oracle.NewTriple(pos(t.Pos1), t.RC1, pos(t.Pos2), t.RC2, pos(t.Pos3), t.RC3)
		if t.Energy != nil {
			tb.TripleEnergy(tr, *t.Energy)
		} else {
			tb.Triple(tr, decimal.RequireFromString(t.Weight))
		}
	}
	table, err := tb.Build()
	if err != nil {
		return sofea.StateConfig{}, err
	}

	cfg := sofea.StateConfig{Tuples: table}
	p := s.Pruned
	if len(p.Singles)+len(p.Pairs)+len(p.Triples) > 0 {
		m := oracle.NewPruningMatrix()
		for _, r := range p.Singles {
			m.PruneSingle(pos(r.Pos), r.RC)
		}
		for _, r := range p.Pairs {
			m.PrunePair(pos(r.Pos1), r.RC1, pos(r.Pos2), r.RC2)
		}
		for _, r := range p.Triples {
			m.PruneTriple(oracle.NewTriple(pos(r.Pos1), r.RC1, pos(r.Pos2), r.RC2, pos(r.Pos3), r.RC3))
		}
		cfg.Pruning = m
	}
	return cfg, nil
}

// SofeaConfig returns the engine configuration of the run. Relative store
// paths resolve against baseDir, normally the design file's directory.
func (d *Design) SofeaConfig(baseDir string) sofea.Config {
	resolve := func(path, fallback string) string {
		if path == "" {
			path = fallback
		}
		if filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(baseDir, path)
	}

	r := d.Run
	cfg := sofea.DefaultConfig(
		resolve(r.SeqDB, d.Name+".seq.db"),
		resolve(r.FringeDB, d.Name+".fringe.db"),
	)
	if r.FringeDBMiB > 0 {
		cfg.FringeDBBytes = int64(r.FringeDBMiB * 1024 * 1024)
	}
	cfg.FringeDBNodes = r.FringeDBNodes
	cfg.WriteBufferNodes = r.WriteBufferNodes
	if r.Parallelism > 0 {
		cfg.Parallelism = r.Parallelism
	}
	if r.SweepDivisor > 0 {
		cfg.SweepDivisor = r.SweepDivisor
	}
	cfg.MathPrecision = d.mathPrecision()
	if r.SeqDBPrecision > 0 {
		cfg.SeqDBPrecision = r.SeqDBPrecision
	}
	cfg.ShowProgress = r.ShowProgress
	if r.ProgressInterval > 0 {
		cfg.ProgressInterval = r.ProgressInterval
	}
	if r.SyncWrites != nil {
		cfg.SyncWrites = *r.SyncWrites
	}
	return cfg
}
