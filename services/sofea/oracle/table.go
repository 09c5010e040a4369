// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
)

var (
	// ErrOutOfRange is returned for positions or RCs outside the conf space.
	ErrOutOfRange = errors.New("tuple position or RC out of range")

	// ErrSamePosition is returned for tuples that repeat a position.
	ErrSamePosition = errors.New("tuple repeats a position")

	// ErrNegativeWeight is returned for weights below zero.
	ErrNegativeWeight = errors.New("negative Boltzmann weight")
)

type single struct{ pos, rc int }

// TableBuilder collects single, pair and triple weights for a TupleTable.
//
// Weights can be given directly or as energies, which are converted with
// the builder's Boltzmann calculator. Setting the same tuple twice
// multiplies the weights.
type TableBuilder struct {
	cs      *confspace.ConfSpace
	ctx     bigmath.Context
	bc      bigmath.BoltzmannCalculator
	factor  decimal.Decimal
	singles map[single]decimal.Decimal
	pairs   map[[4]int]decimal.Decimal
	triples map[Triple]decimal.Decimal
	err     error
}

// NewTableBuilder returns a builder for the positions of cs.
//
// Inputs:
//
//	cs - Conf space the tuples index into.
//	ctx - Precision for weight products.
//	temperature - Kelvin, for energy conversion. <= 0 selects the default.
func NewTableBuilder(cs *confspace.ConfSpace, ctx bigmath.Context, temperature float64) *TableBuilder {
	return &TableBuilder{
		cs:      cs,
		ctx:     ctx,
		bc:      bigmath.NewBoltzmannCalculator(temperature, ctx),
		factor:  bigmath.One,
		singles: make(map[single]decimal.Decimal),
		pairs:   make(map[[4]int]decimal.Decimal),
		triples: make(map[Triple]decimal.Decimal),
	}
}

func (b *TableBuilder) check(pos, rc int) bool {
	if b.err != nil {
		return false
	}
	if pos < 0 || pos >= len(b.cs.Positions) || rc < 0 || rc >= len(b.cs.Positions[pos].ResConfs) {
		b.err = fmt.Errorf("%w: %d:%d", ErrOutOfRange, pos, rc)
		return false
	}
	return true
}

func (b *TableBuilder) checkWeight(w decimal.Decimal) bool {
	if b.err == nil && w.Sign() < 0 {
		b.err = fmt.Errorf("%w: %s", ErrNegativeWeight, w)
	}
	return b.err == nil
}

func mulInto[K comparable](ctx bigmath.Context, m map[K]decimal.Decimal, k K, w decimal.Decimal) {
	if old, ok := m[k]; ok {
		w = ctx.Mul(old, w)
	}
	m[k] = w
}

// Factor multiplies the global factor by w.
func (b *TableBuilder) Factor(w decimal.Decimal) *TableBuilder {
	if b.checkWeight(w) {
		b.factor = b.ctx.Mul(b.factor, w)
	}
	return b
}

// OffsetEnergy multiplies the global factor by the weight of energy.
func (b *TableBuilder) OffsetEnergy(energy float64) *TableBuilder {
	return b.Factor(b.bc.Weight(energy))
}

// Single sets the weight of one (pos, rc) choice.
func (b *TableBuilder) Single(pos, rc int, w decimal.Decimal) *TableBuilder {
	if b.check(pos, rc) && b.checkWeight(w) {
		mulInto(b.ctx, b.singles, single{pos, rc}, w)
	}
	return b
}

// SingleEnergy sets a single from its energy.
func (b *TableBuilder) SingleEnergy(pos, rc int, energy float64) *TableBuilder {
	return b.Single(pos, rc, b.bc.Weight(energy))
}

// Pair sets the weight of a pair of choices at distinct positions.
func (b *TableBuilder) Pair(pos1, rc1, pos2, rc2 int, w decimal.Decimal) *TableBuilder {
	if !b.check(pos1, rc1) || !b.check(pos2, rc2) || !b.checkWeight(w) {
		return b
	}
	if pos1 == pos2 {
		b.err = fmt.Errorf("%w: %d", ErrSamePosition, pos1)
		return b
	}
	mulInto(b.ctx, b.pairs, pairKey(pos1, rc1, pos2, rc2), w)
	return b
}

// PairEnergy sets a pair from its energy.
func (b *TableBuilder) PairEnergy(pos1, rc1, pos2, rc2 int, energy float64) *TableBuilder {
	return b.Pair(pos1, rc1, pos2, rc2, b.bc.Weight(energy))
}

// Triple sets the weight of a triple.
func (b *TableBuilder) Triple(t Triple, w decimal.Decimal) *TableBuilder {
	for i := 0; i < 3; i++ {
		if !b.check(t.Pos[i], t.RC[i]) {
			return b
		}
	}
	if !b.checkWeight(w) {
		return b
	}
	if t.Pos[0] >= t.Pos[1] || t.Pos[1] >= t.Pos[2] {
		b.err = fmt.Errorf("%w: %s", ErrSamePosition, t)
		return b
	}
	mulInto(b.ctx, b.triples, t, w)
	return b
}

// TripleEnergy sets a triple from its energy.
func (b *TableBuilder) TripleEnergy(t Triple, energy float64) *TableBuilder {
	return b.Triple(t, b.bc.Weight(energy))
}

// Build folds singles into pairs and returns the table.
//
// Description:
//
//	A single at position p > 0 is multiplied into every pair (p, 0); a
//	single at position 0 into every pair (1, 0). Every full conformation
//	contains each of those pairs exactly once, so its product picks up
//	each single exactly once. Conf spaces with fewer than two positions
//	keep singles in the factor only when there is exactly one choice.
//
// Outputs:
//
//	*TupleTable - The table.
//	error - The first error recorded by a setter, or a fold error.
func (b *TableBuilder) Build() (*TupleTable, error) {
	if b.err != nil {
		return nil, b.err
	}

	numPos := len(b.cs.Positions)
	t := &TupleTable{
		factor:  b.factor,
		sizes:   make([]int, numPos),
		pairs:   make([][]decimal.Decimal, numPos*numPos),
		triples: b.triples,
	}
	for pos, p := range b.cs.Positions {
		t.sizes[pos] = len(p.ResConfs)
	}
	for pos1 := 1; pos1 < numPos; pos1++ {
		for pos2 := 0; pos2 < pos1; pos2++ {
			block := make([]decimal.Decimal, t.sizes[pos1]*t.sizes[pos2])
			for i := range block {
				block[i] = bigmath.One
			}
			t.pairs[pos1*numPos+pos2] = block
		}
	}

	for k, w := range b.pairs {
		t.mulPair(b.ctx, k[0], k[1], k[2], k[3], w)
	}

	for s, w := range b.singles {
		switch {
		case numPos < 2:
			if t.sizes[s.pos] != 1 {
				return nil, fmt.Errorf("%w: cannot fold single %d:%d without a second position",
					ErrOutOfRange, s.pos, s.rc)
			}
			t.factor = b.ctx.Mul(t.factor, w)
		case s.pos > 0:
			for rc0 := 0; rc0 < t.sizes[0]; rc0++ {
				t.mulPair(b.ctx, s.pos, s.rc, 0, rc0, w)
			}
		default:
			for rc1 := 0; rc1 < t.sizes[1]; rc1++ {
				t.mulPair(b.ctx, 1, rc1, 0, s.rc, w)
			}
		}
	}

	return t, nil
}

// pairKey orders a pair with the higher position first.
func pairKey(pos1, rc1, pos2, rc2 int) [4]int {
	if pos1 < pos2 {
		return [4]int{pos2, rc2, pos1, rc1}
	}
	return [4]int{pos1, rc1, pos2, rc2}
}

// -----------------------------------------------------------------------------
// TupleTable
// -----------------------------------------------------------------------------

// TupleTable is a dense pair table plus sparse triples.
type TupleTable struct {
	factor  decimal.Decimal
	sizes   []int
	pairs   [][]decimal.Decimal
	triples map[Triple]decimal.Decimal
}

var _ Tuples = (*TupleTable)(nil)

func (t *TupleTable) mulPair(ctx bigmath.Context, pos1, rc1, pos2, rc2 int, w decimal.Decimal) {
	k := pairKey(pos1, rc1, pos2, rc2)
	block := t.pairs[k[0]*len(t.sizes)+k[2]]
	i := k[1]*t.sizes[k[2]] + k[3]
	block[i] = ctx.Mul(block[i], w)
}

// Factor returns the global factor.
func (t *TupleTable) Factor() decimal.Decimal {
	return t.factor
}

// Pair returns the pair weight, with folded singles.
func (t *TupleTable) Pair(pos1, rc1, pos2, rc2 int) decimal.Decimal {
	k := pairKey(pos1, rc1, pos2, rc2)
	block := t.pairs[k[0]*len(t.sizes)+k[2]]
	if block == nil {
		return bigmath.One
	}
	return block[k[1]*t.sizes[k[2]]+k[3]]
}

// Triple returns the triple weight if present.
func (t *TupleTable) Triple(tr Triple) (decimal.Decimal, bool) {
	w, ok := t.triples[tr]
	return w, ok
}

// NumTriples returns the number of triples with a weight.
func (t *TupleTable) NumTriples() int {
	return len(t.triples)
}

// -----------------------------------------------------------------------------
// UniformTuples
// -----------------------------------------------------------------------------

// UniformTuples weighs every pair the same and defines no triples.
type UniformTuples struct {
	Weight     decimal.Decimal
	NormFactor decimal.Decimal
}

var _ Tuples = UniformTuples{}

func (u UniformTuples) Factor() decimal.Decimal { return u.NormFactor }

func (u UniformTuples) Pair(int, int, int, int) decimal.Decimal { return u.Weight }

func (u UniformTuples) Triple(Triple) (decimal.Decimal, bool) { return decimal.Zero, false }
