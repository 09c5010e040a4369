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
	"context"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
)

// StateResult is the bracket of one state. G is omitted from JSON because
// an empty bracket maps to an infinite free energy.
type StateResult struct {
	State string                `json:"state"`
	Z     bigmath.DecimalBounds `json:"z"`
	G     bigmath.FloatBounds   `json:"-"`
}

// SeqResult holds the current brackets of one sequence.
//
// For full sequences, sequenced states carry effective bounds including
// ancestor uncertainty. Partial sequences carry only their own sums.
type SeqResult struct {
	Sequence *confspace.Sequence `json:"-"`
	Text     string              `json:"sequence"`
	Full     bool                `json:"full"`
	States   []StateResult       `json:"states"`
}

// Unsequenced returns the brackets of every unsequenced state.
func Unsequenced(ctx context.Context, sdb *seqdb.SeqDB, bc bigmath.BoltzmannCalculator) ([]StateResult, error) {
	var out []StateResult
	for _, state := range sdb.ConfSpace().UnsequencedStates {
		z, err := sdb.UnsequencedSum(ctx, state)
		if err != nil {
			return nil, err
		}
		out = append(out, StateResult{State: state.Name, Z: z, G: bc.FreeEnergyBounds(z)})
	}
	return out, nil
}

// SequenceResult returns the effective brackets of seq in every sequenced
// state.
func SequenceResult(ctx context.Context, sdb *seqdb.SeqDB, bc bigmath.BoltzmannCalculator, seq *confspace.Sequence) (SeqResult, error) {
	info, err := sdb.SequencedBounds(ctx, seq)
	if err != nil {
		return SeqResult{}, err
	}
	return makeSeqResult(sdb.ConfSpace(), bc, seq, info), nil
}

// Results returns the brackets of every sequence with a ledger entry, in
// ledger key order. Partial sequences are included only when partial is
// set.
func Results(ctx context.Context, sdb *seqdb.SeqDB, bc bigmath.BoltzmannCalculator, partial bool) ([]SeqResult, error) {
	space := sdb.ConfSpace()
	var out []SeqResult
	err := sdb.ForEachSequencedBound(ctx, func(seq *confspace.Sequence, info seqdb.SeqInfo) error {
		if !partial && !seq.IsFullyAssigned() {
			return nil
		}
		out = append(out, makeSeqResult(space, bc, seq, info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func makeSeqResult(space *confspace.MultiStateConfSpace, bc bigmath.BoltzmannCalculator, seq *confspace.Sequence, info seqdb.SeqInfo) SeqResult {
	r := SeqResult{
		Sequence: seq,
		Text:     seq.String(),
		Full:     seq.IsFullyAssigned(),
	}
	for _, state := range space.SequencedStates {
		z := info.Get(state)
		r.States = append(r.States, StateResult{State: state.Name, Z: z, G: bc.FreeEnergyBounds(z)})
	}
	return r
}
