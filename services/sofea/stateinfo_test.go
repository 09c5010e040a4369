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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/oracle"
)

func infoFor(t *testing.T, space *confspace.MultiStateConfSpace, configs []StateConfig, name string) *stateInfo {
	t.Helper()
	state := space.State(name)
	require.NotNil(t, state)
	return newStateInfo(space, state, configs[state.Index], bigmath.NewContext(bigmath.DefaultPrecision))
}

func TestBoundLeavesPerSequence(t *testing.T) {
	space := mixedSpace(t)
	info := infoFor(t, space, mixedConfigs(t, space), "complex")
	index := info.makeConfIndex()

	// ALA has two RCs at position 1, GLY one; position 3 is not designed
	// and one of its two RCs is pruned
	count := info.boundLeavesPerSequence(index)
	assert.Equal(t, "[1,2]", count.String())

	byKey := info.countLeavesBySequence(index)
	require.Len(t, byKey, 4)
	for _, lc := range byKey {
		assert.True(t, lc.count.Cmp(count.Lower) >= 0, "%s: %s leaves", lc.seq, lc.count)
		assert.True(t, lc.count.Cmp(count.Upper) <= 0, "%s: %s leaves", lc.seq, lc.count)
	}

	index.Assign(0, 2)
	count = info.boundLeavesPerSequence(index)
	assert.True(t, count.IsExact())
	assert.Equal(t, "[1,1]", count.String())
	index.Unassign(0)

	unpruned := infoFor(t, space, []StateConfig{{Tuples: info.tuples}, {}, {}}, "complex")
	assert.Equal(t, "[2,4]", unpruned.boundLeavesPerSequence(unpruned.makeConfIndex()).String())

	target := infoFor(t, space, mixedConfigs(t, space), "target")
	assert.Equal(t, "[6,6]", target.boundLeavesPerSequence(target.makeConfIndex()).String())
}

func TestOptimizeZBracketsLeaves(t *testing.T) {
	space := mixedSpace(t)
	configs := mixedConfigs(t, space)

	for _, state := range space.States {
		t.Run(state.Name, func(t *testing.T) {
			info := infoFor(t, space, configs, state.Name)
			check := func(index *confspace.ConfIndex) {
				exact, ok := info.exactBoundZ(index)
				require.True(t, ok)
				upper := info.optimizeZ(index, bigmath.Maximize)
				lower := info.optimizeZ(index, bigmath.Minimize)
				assert.True(t, upper.Cmp(exact.Upper) >= 0, "upper %s below max leaf %s", upper, exact.Upper)
				assert.True(t, lower.Cmp(exact.Lower) <= 0, "lower %s above min leaf %s", lower, exact.Lower)
			}

			index := info.makeConfIndex()
			check(index)
			for _, rc := range info.rcs[0] {
				if info.pruning.IsPrunedSingle(0, rc) {
					continue
				}
				index.Assign(0, rc)
				check(index)
				index.Unassign(0)
			}
			assert.Equal(t, 0, index.NumDefined(), "index restored")
		})
	}
}

func TestRootBoundContainsEverySequence(t *testing.T) {
	space := mixedSpace(t)
	configs := mixedConfigs(t, space)

	for _, state := range space.SequencedStates {
		info := infoFor(t, space, configs, state.Name)
		root := info.rootBound()
		require.True(t, root.IsValid(), root.String())
		for _, seq := range confspace.AllSequences(space.SeqSpace) {
			z := info.calcZ(seq)
			assert.True(t, root.Contains(z), "%s %s: %s outside %s", state.Name, seq, z, root)
		}
	}

	target := infoFor(t, space, configs, "target")
	z := target.calcZ(space.SeqSpace.MakeUnassignedSequence())
	assert.True(t, target.rootBound().Contains(z), "%s outside %s", z, target.rootBound())
}

func TestCalcZWithTriples(t *testing.T) {
	cs := confspace.NewConfSpace()
	cs.AddPosition("A", false, "PHE", "PHE")
	cs.AddPosition("B", false, "PHE", "PHE")
	cs.AddPosition("C", false, "PHE", "PHE")
	space, err := confspace.NewBuilder().AddUnmutableState("target", cs).Build()
	require.NoError(t, err)

	ctx := bigmath.NewContext(bigmath.DefaultPrecision)
	b := oracle.NewTableBuilder(cs, ctx, 0).Factor(w(2))
	want := ctx.Set(bigmath.Zero)
	i := 0
	for rc0 := 0; rc0 < 2; rc0++ {
		for rc1 := 0; rc1 < 2; rc1++ {
			for rc2 := 0; rc2 < 2; rc2++ {
				tw := testWeights[i%len(testWeights)]
				b.Triple(oracle.NewTriple(0, rc0, 1, rc1, 2, rc2), tw)
				want.Add(tw)
				i++
			}
		}
	}
	table, err := b.Build()
	require.NoError(t, err)

	configs := []StateConfig{{Tuples: table}}
	info := infoFor(t, space, configs, "target")
	z := info.calcZ(space.SeqSpace.MakeUnassignedSequence())
	assert.True(t, ctx.Mul(want.Get(), w(2)).Equal(z), "got %s", z)

	root := info.rootBound()
	assert.True(t, root.Contains(z), "%s outside %s", z, root)
	exact, ok := info.exactBoundZ(info.makeConfIndex())
	require.True(t, ok)
	assert.True(t, info.optimizeZ(info.makeConfIndex(), bigmath.Maximize).Cmp(exact.Upper) >= 0)
	assert.True(t, info.optimizeZ(info.makeConfIndex(), bigmath.Minimize).Cmp(exact.Lower) <= 0)
}

func TestOptimizeZSparseTriples(t *testing.T) {
	cs := confspace.NewConfSpace()
	cs.AddPosition("A", false, "PHE", "PHE")
	cs.AddPosition("B", false, "PHE", "PHE")
	cs.AddPosition("C", false, "PHE", "PHE")
	space, err := confspace.NewBuilder().AddUnmutableState("target", cs).Build()
	require.NoError(t, err)

	ctx := bigmath.NewContext(bigmath.DefaultPrecision)
	table, err := oracle.NewTableBuilder(cs, ctx, 0).
		Triple(oracle.NewTriple(0, 0, 1, 0, 2, 0), w(0.5)).
		Triple(oracle.NewTriple(0, 1, 1, 1, 2, 1), w(3)).
		Build()
	require.NoError(t, err)

	info := infoFor(t, space, []StateConfig{{Tuples: table}}, "target")
	index := info.makeConfIndex()
	exact, ok := info.exactBoundZ(index)
	require.True(t, ok)
	assert.True(t, exact.Upper.Equal(w(3)), "max leaf %s", exact.Upper)
	assert.True(t, exact.Lower.Equal(w(0.5)), "min leaf %s", exact.Lower)

	// absent triples weigh 1, so they bound the optima from the other side
	assert.True(t, info.optimizeZ(index, bigmath.Maximize).Cmp(exact.Upper) >= 0)
	assert.True(t, info.optimizeZ(index, bigmath.Minimize).Cmp(exact.Lower) <= 0)

	z := info.calcZ(space.SeqSpace.MakeUnassignedSequence())
	assert.True(t, w(9.5).Equal(z), "got %s", z)
	assert.True(t, info.rootBound().Contains(z), "%s outside %s", z, info.rootBound())
}

func TestBoundZSkipsEmptySubtrees(t *testing.T) {
	cs := confspace.NewConfSpace()
	cs.AddPosition("A", false, "PHE", "PHE")
	cs.AddPosition("B", false, "PHE", "PHE")
	cs.AddPosition("C", false, "PHE")
	space, err := confspace.NewBuilder().AddUnmutableState("target", cs).Build()
	require.NoError(t, err)

	configs := []StateConfig{{
		Tuples:  pairTable(t, cs, bigmath.One, 0),
		Pruning: oracle.NewPruningMatrix().PruneSingle(2, 0),
	}}
	info := infoFor(t, space, configs, "target")

	index := info.makeConfIndex()
	index.Assign(0, 0)
	_, ok := info.boundZ(index, bigmath.One)
	assert.False(t, ok, "the only RC at C is pruned")
	assert.True(t, info.calcZ(space.SeqSpace.MakeUnassignedSequence()).IsZero())
}

func TestMinimizeZFindsALeaf(t *testing.T) {
	space := unsequencedSpace(t, 3, 2)
	configs := []StateConfig{{
		Tuples:  pairTable(t, space.States[0].ConfSpace, bigmath.One, 1),
		Pruning: oracle.NewPruningMatrix().PruneSingle(0, 0),
	}}
	info := infoFor(t, space, configs, "target")

	index := info.makeConfIndex()
	z := info.minimizeZ(index)
	exact, ok := info.exactBoundZ(index)
	require.True(t, ok)
	assert.False(t, z.IsZero())
	assert.True(t, z.Cmp(exact.Upper) <= 0)
	assert.Equal(t, 0, index.NumDefined())
}

func TestOptimizeZPrunedTriple(t *testing.T) {
	space := unsequencedSpace(t, 3, 2)
	configs := []StateConfig{{
		Tuples:  uniform(1).Tuples,
		Pruning: oracle.NewPruningMatrix().PruneTriple(oracle.NewTriple(0, 0, 1, 0, 2, 0)),
	}}
	info := infoFor(t, space, configs, "target")
	require.NotNil(t, info.optrc3[bigmath.Minimize], "pruned triples need the triple optima")

	check := func(index *confspace.ConfIndex, label string) {
		exact, ok := info.exactBoundZ(index)
		require.True(t, ok)
		assert.True(t, exact.Lower.IsZero(), "%s: the pruned leaf weighs 0", label)
		upper := info.optimizeZ(index, bigmath.Maximize)
		lower := info.optimizeZ(index, bigmath.Minimize)
		assert.True(t, upper.Cmp(exact.Upper) >= 0, "%s: upper %s below max leaf %s", label, upper, exact.Upper)
		assert.True(t, lower.Cmp(exact.Lower) <= 0, "%s: lower %s above min leaf %s", label, lower, exact.Lower)
	}

	index := info.makeConfIndex()
	check(index, "root")
	index.Assign(0, 0)
	check(index, "A=0")
	index.Assign(1, 0)
	check(index, "A=0 B=0")
	index.Unassign(1)
	index.Unassign(0)

	z := info.calcZ(space.SeqSpace.MakeUnassignedSequence())
	assert.True(t, w(7).Equal(z), "got %s", z)
	root := info.rootBound()
	assert.True(t, root.Contains(z), "%s outside %s", z, root)
}
