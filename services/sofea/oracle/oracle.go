// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle defines the per-state tuple weight and pruning oracles the
// bound calculator consumes, with in-memory table implementations.
//
// A weight oracle returns Boltzmann weights for pairs and optional triples
// of (position, RC) choices, plus one global factor. Single-position terms
// are folded into pairs so a full conformation's weight is
//
//	Factor * prod(pairs) * prod(present triples)
//
// # Thread Safety
//
// Built tables are read-only and safe for concurrent use by sweep workers.
package oracle

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Triple is a 3-tuple of (position, RC) choices with positions strictly
// ascending.
type Triple struct {
	Pos [3]int
	RC  [3]int
}

// NewTriple returns the triple with its choices sorted by position.
//
// Positions must be distinct.
func NewTriple(pos1, rc1, pos2, rc2, pos3, rc3 int) Triple {
	if pos1 > pos2 {
		pos1, rc1, pos2, rc2 = pos2, rc2, pos1, rc1
	}
	if pos2 > pos3 {
		pos2, rc2, pos3, rc3 = pos3, rc3, pos2, rc2
	}
	if pos1 > pos2 {
		pos1, rc1, pos2, rc2 = pos2, rc2, pos1, rc1
	}
	return Triple{Pos: [3]int{pos1, pos2, pos3}, RC: [3]int{rc1, rc2, rc3}}
}

// String formats the triple as "(pos:rc,pos:rc,pos:rc)".
func (t Triple) String() string {
	return fmt.Sprintf("(%d:%d,%d:%d,%d:%d)", t.Pos[0], t.RC[0], t.Pos[1], t.RC[1], t.Pos[2], t.RC[2])
}

// Tuples is the Boltzmann tuple oracle of one state.
type Tuples interface {
	// Factor returns the global multiplicative normalization.
	Factor() decimal.Decimal

	// Pair returns the weight of a pair. Absent pairs weigh 1.
	Pair(pos1, rc1, pos2, rc2 int) decimal.Decimal

	// Triple returns the weight of a triple, if one is defined. An absent
	// triple is multiplicatively neutral.
	Triple(t Triple) (decimal.Decimal, bool)
}

// Pruning is the pruning oracle of one state.
type Pruning interface {
	IsPrunedSingle(pos, rc int) bool
	IsPrunedPair(pos1, rc1, pos2, rc2 int) bool
	IsPrunedTriple(t Triple) bool
}

// NoPruning prunes nothing.
type NoPruning struct{}

func (NoPruning) IsPrunedSingle(int, int) bool { return false }
func (NoPruning) IsPrunedPair(int, int, int, int) bool { return false }
func (NoPruning) IsPrunedTriple(Triple) bool { return false }
func (NoPruning) NumPrunedTriples() int { return 0 }

var _ Pruning = NoPruning{}
