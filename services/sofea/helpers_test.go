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

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/fringedb"
	"github.com/minghao2016/OSPREY3/services/sofea/oracle"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
)

func w(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// testWeights are exact in decimal, so sums and products in tests compare
// with Equal.
var testWeights = []decimal.Decimal{w(0.5), w(1), w(2), w(3)}

// pairTable weighs every pair of cs deterministically from testWeights.
func pairTable(t *testing.T, cs *confspace.ConfSpace, factor decimal.Decimal, seed int) *oracle.TupleTable {
	t.Helper()
	b := oracle.NewTableBuilder(cs, bigmath.NewContext(bigmath.DefaultPrecision), 0).Factor(factor)
	i := seed
	for pos1 := range cs.Positions {
		for pos2 := 0; pos2 < pos1; pos2++ {
			for rc1 := range cs.Positions[pos1].ResConfs {
				for rc2 := range cs.Positions[pos2].ResConfs {
					b.Pair(pos1, rc1, pos2, rc2, testWeights[(i*7+3)%len(testWeights)])
					i++
				}
			}
		}
	}
	table, err := b.Build()
	require.NoError(t, err)
	return table
}

func uniform(weight float64) StateConfig {
	return StateConfig{Tuples: oracle.UniformTuples{Weight: w(weight), NormFactor: bigmath.One}}
}

// unsequencedSpace is one unmutable state with numPos positions of
// numRCs RCs each.
func unsequencedSpace(t *testing.T, numPos, numRCs int) *confspace.MultiStateConfSpace {
	t.Helper()
	cs := confspace.NewConfSpace()
	for i := 0; i < numPos; i++ {
		rts := make([]string, numRCs)
		for j := range rts {
			rts[j] = "PHE"
		}
		cs.AddPosition(string(rune('A'+i)), false, rts...)
	}
	space, err := confspace.NewBuilder().AddUnmutableState("target", cs).Build()
	require.NoError(t, err)
	return space
}

// binarySpace is one mutable state with numPos positions offering ALA or
// GLY, one RC each.
func binarySpace(t *testing.T, numPos int) *confspace.MultiStateConfSpace {
	t.Helper()
	cs := confspace.NewConfSpace()
	for i := 0; i < numPos; i++ {
		cs.AddPosition(string(rune('1'+i)), true, "ALA", "GLY")
	}
	space, err := confspace.NewBuilder().AddMutableState("design", cs).Build()
	require.NoError(t, err)
	return space
}

// mixedSpace has two mutable states with uneven RCs per residue type and
// one unmutable state.
func mixedSpace(t *testing.T) *confspace.MultiStateConfSpace {
	t.Helper()
	complex := confspace.NewConfSpace()
	complex.AddPosition("1", true, "ALA", "ALA", "GLY")
	complex.AddPosition("2", true, "VAL", "LEU")
	complex.AddPosition("3", false, "PHE", "PHE")

	ligand := confspace.NewConfSpace()
	ligand.AddPosition("1", true, "ALA", "GLY")
	ligand.AddPosition("2", true, "VAL", "LEU", "LEU")

	target := confspace.NewConfSpace()
	target.AddPosition("7", false, "TRP", "TRP")
	target.AddPosition("8", false, "PHE", "PHE", "PHE")

	space, err := confspace.NewBuilder().
		AddMutableState("complex", complex).
		AddMutableState("ligand", ligand).
		AddUnmutableState("target", target).
		Build()
	require.NoError(t, err)
	return space
}

// mixedConfigs weighs every state of mixedSpace with pair tables and
// prunes part of the complex.
func mixedConfigs(t *testing.T, space *confspace.MultiStateConfSpace) []StateConfig {
	t.Helper()
	return ConfigEachState(space, func(state *confspace.State) StateConfig {
		cfg := StateConfig{Tuples: pairTable(t, state.ConfSpace, w(2), state.Index)}
		if state.Name == "complex" {
			cfg.Pruning = oracle.NewPruningMatrix().
				PrunePair(1, 1, 0, 0).
				PruneSingle(2, 1)
		}
		return cfg
	})
}

// newTestSofea builds a driver and in-memory stores.
func newTestSofea(t *testing.T, space *confspace.MultiStateConfSpace, configs []StateConfig, mutate func(cfg *Config)) (*Sofea, *seqdb.SeqDB, *fringedb.FringeDB) {
	t.Helper()
	cfg := Config{FringeDBNodes: 1000}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(space, configs, cfg)
	require.NoError(t, err)

	c := s.Config()
	sdb, fdb, err := c.InMemoryStores(space)
	require.NoError(t, err)
	t.Cleanup(func() {
		fdb.Close()
		sdb.Close()
	})
	return s, sdb, fdb
}

func assertBounds(t *testing.T, want, got bigmath.DecimalBounds, label string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: want %s, got %s", label, want, got)
}
