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
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
)

func threePos() *confspace.ConfSpace {
	cs := confspace.NewConfSpace()
	cs.AddPosition("1", true, "ALA", "GLY")
	cs.AddPosition("2", true, "VAL", "LEU")
	cs.AddPosition("3", false, "PHE", "PHE", "PHE")
	return cs
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestNewTriple(t *testing.T) {
	tr := NewTriple(2, 1, 0, 3, 1, 0)
	assert.Equal(t, [3]int{0, 1, 2}, tr.Pos)
	assert.Equal(t, [3]int{3, 0, 1}, tr.RC)
	assert.Equal(t, "(0:3,1:0,2:1)", tr.String())
}

func TestTupleTable(t *testing.T) {
	ctx := bigmath.NewContext(bigmath.DefaultPrecision)
	table, err := NewTableBuilder(threePos(), ctx, 0).
		Factor(d(2)).
		Pair(1, 0, 0, 1, d(3)).
		Pair(0, 1, 1, 0, d(2)).
		Triple(NewTriple(0, 0, 1, 0, 2, 2), d(5)).
		Build()
	require.NoError(t, err)

	assert.True(t, table.Factor().Equal(d(2)))
	assert.True(t, table.Pair(1, 0, 0, 1).Equal(d(6)), "repeated pairs multiply")
	assert.True(t, table.Pair(0, 1, 1, 0).Equal(d(6)), "pair lookup is symmetric")
	assert.True(t, table.Pair(2, 0, 1, 1).Equal(bigmath.One), "absent pairs weigh 1")

	w, ok := table.Triple(NewTriple(2, 2, 0, 0, 1, 0))
	require.True(t, ok)
	assert.True(t, w.Equal(d(5)))
	_, ok = table.Triple(NewTriple(0, 1, 1, 0, 2, 2))
	assert.False(t, ok)
	assert.Equal(t, 1, table.NumTriples())
}

func TestTupleTableFoldsSingles(t *testing.T) {
	cs := threePos()
	ctx := bigmath.NewContext(bigmath.DefaultPrecision)
	table, err := NewTableBuilder(cs, ctx, 0).
		Single(0, 1, d(2)).
		Single(2, 0, d(3)).
		Build()
	require.NoError(t, err)

	// every full conformation picks up each of its singles exactly once
	rcs := cs.AllRCs()
	for _, rc0 := range rcs[0] {
		for _, rc1 := range rcs[1] {
			for _, rc2 := range rcs[2] {
				got := ctx.Set(table.Pair(1, rc1, 0, rc0)).
					Mul(table.Pair(2, rc2, 0, rc0)).
					Mul(table.Pair(2, rc2, 1, rc1)).
					Get()
				want := 1.0
				if rc0 == 1 {
					want *= 2
				}
				if rc2 == 0 {
					want *= 3
				}
				assert.True(t, got.Equal(d(want)), "conf %d,%d,%d: got %s", rc0, rc1, rc2, got)
			}
		}
	}
}

func TestTupleTableEnergies(t *testing.T) {
	ctx := bigmath.NewContext(bigmath.DefaultPrecision)
	bc := bigmath.NewBoltzmannCalculator(0, ctx)
	table, err := NewTableBuilder(threePos(), ctx, 0).
		OffsetEnergy(-1).
		PairEnergy(1, 1, 0, 0, 0.5).
		TripleEnergy(NewTriple(0, 0, 1, 0, 2, 0), 0).
		Build()
	require.NoError(t, err)

	assert.True(t, table.Factor().Equal(bc.Weight(-1)))
	assert.True(t, table.Pair(1, 1, 0, 0).Equal(bc.Weight(0.5)))
	w, ok := table.Triple(NewTriple(0, 0, 1, 0, 2, 0))
	require.True(t, ok)
	assert.True(t, w.Equal(bigmath.One))
}

func TestTableBuilderErrors(t *testing.T) {
	ctx := bigmath.NewContext(bigmath.DefaultPrecision)

	tests := []struct {
		name  string
		build func(b *TableBuilder) *TableBuilder
		want  error
	}{
		{"rc out of range", func(b *TableBuilder) *TableBuilder { return b.Single(0, 5, d(1)) }, ErrOutOfRange},
		{"pos out of range", func(b *TableBuilder) *TableBuilder { return b.Pair(3, 0, 0, 0, d(1)) }, ErrOutOfRange},
		{"same position pair", func(b *TableBuilder) *TableBuilder { return b.Pair(1, 0, 1, 1, d(1)) }, ErrSamePosition},
		{"unsorted triple", func(b *TableBuilder) *TableBuilder {
			return b.Triple(Triple{Pos: [3]int{2, 1, 0}}, d(1))
		}, ErrSamePosition},
		{"negative weight", func(b *TableBuilder) *TableBuilder { return b.Factor(d(-1)) }, ErrNegativeWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build(NewTableBuilder(threePos(), ctx, 0)).Build()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPruningMatrix(t *testing.T) {
	m := NewPruningMatrix().
		PruneSingle(0, 1).
		PrunePair(2, 0, 1, 1).
		PruneTriple(NewTriple(0, 0, 1, 0, 2, 2))

	assert.True(t, m.IsPrunedSingle(0, 1))
	assert.False(t, m.IsPrunedSingle(0, 0))

	assert.True(t, m.IsPrunedPair(1, 1, 2, 0), "pairs are symmetric")
	assert.True(t, m.IsPrunedPair(0, 1, 2, 2), "pruned single prunes its pairs")
	assert.False(t, m.IsPrunedPair(0, 0, 2, 2))

	assert.True(t, m.IsPrunedTriple(NewTriple(0, 0, 1, 0, 2, 2)))
	assert.True(t, m.IsPrunedTriple(NewTriple(0, 0, 1, 1, 2, 0)), "pruned pair prunes its triples")
	assert.False(t, m.IsPrunedTriple(NewTriple(0, 0, 1, 0, 2, 1)))
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, 1, m.NumPrunedTriples())

	var none NoPruning
	assert.False(t, none.IsPrunedSingle(0, 0))
	assert.False(t, none.IsPrunedPair(0, 0, 1, 0))
	assert.False(t, none.IsPrunedTriple(NewTriple(0, 0, 1, 0, 2, 0)))
	assert.Equal(t, 0, none.NumPrunedTriples())
}

func TestUniformTuples(t *testing.T) {
	u := UniformTuples{Weight: d(2), NormFactor: d(3)}
	assert.True(t, u.Pair(0, 0, 1, 1).Equal(d(2)))
	assert.True(t, u.Factor().Equal(d(3)))
	_, ok := u.Triple(NewTriple(0, 0, 1, 0, 2, 0))
	assert.False(t, ok)
}
