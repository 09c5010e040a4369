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
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/oracle"
)

// stateInfo bounds the Z contribution of subtrees of one state's
// conformation tree.
//
// Positions are assigned in conf-space order, so the defined positions of
// any tree node are a prefix. Every method that takes a ConfIndex restores
// it before returning.
//
// Thread Safety: read-only after construction; safe for concurrent use
// with one ConfIndex per goroutine.
type stateInfo struct {
	space   *confspace.MultiStateConfSpace
	state   *confspace.State
	tuples  oracle.Tuples
	pruning oracle.Pruning
	math    bigmath.Context

	// rcs holds every RC index per position.
	rcs [][]int

	// optrc3[opt][pos1][rc1][pos2][rc2][pos3] is the optimal triple weight
	// over rc3 for pos3 < pos2 < pos1, 0 for pruned triples. nil when
	// neither oracle defines triples.
	optrc3 [2][][][][][]bigmath.Optimum

	// rtsByRcByPos maps each RC to its sequence residue type index, or
	// Unassigned at positions outside the sequence space.
	rtsByRcByPos [][]int

	// numRtsByPos is the residue type count of each position's sequence
	// position, or 0 outside the sequence space.
	numRtsByPos []int
}

// tripleCounter is implemented by oracles that know their triple count.
type tripleCounter interface {
	NumTriples() int
}

// prunedTripleCounter is implemented by pruning oracles that know how
// many triples they prune explicitly.
type prunedTripleCounter interface {
	NumPrunedTriples() int
}

func newStateInfo(space *confspace.MultiStateConfSpace, state *confspace.State, cfg StateConfig, ctx bigmath.Context) *stateInfo {
	cs := state.ConfSpace
	s := &stateInfo{
		space:        space,
		state:        state,
		tuples:       cfg.Tuples,
		pruning:      cfg.Pruning,
		math:         ctx,
		rcs:          cs.AllRCs(),
		rtsByRcByPos: make([][]int, cs.NumPositions()),
		numRtsByPos:  make([]int, cs.NumPositions()),
	}
	if s.pruning == nil {
		s.pruning = oracle.NoPruning{}
	}

	for _, pos := range cs.Positions {
		rts := make([]int, len(pos.ResConfs))
		sp := state.SeqPosFor(pos.Index)
		if sp < 0 {
			for i := range rts {
				rts[i] = confspace.Unassigned
			}
		} else {
			seqPos := space.SeqSpace.Positions[sp]
			s.numRtsByPos[pos.Index] = len(seqPos.ResTypes)
			for _, rc := range pos.ResConfs {
				rt, _ := seqPos.ResType(rc.ResType)
				rts[rc.Index] = rt.Index
			}
		}
		s.rtsByRcByPos[pos.Index] = rts
	}

	if s.hasTriples() {
		s.buildOptRC3()
	}
	return s
}

// hasTriples reports whether either oracle may define a triple term.
// Pruned singles and pairs are already zeroed by the pair bounds.
func (s *stateInfo) hasTriples() bool {
	if tc, ok := s.tuples.(tripleCounter); !ok || tc.NumTriples() > 0 {
		return true
	}
	pc, ok := s.pruning.(prunedTripleCounter)
	return !ok || pc.NumPrunedTriples() > 0
}

func (s *stateInfo) buildOptRC3() {
	numPos := len(s.rcs)
	for _, opt := range bigmath.Optimizers {
		table := make([][][][][]bigmath.Optimum, numPos)
		for pos1 := 0; pos1 < numPos; pos1++ {
			table[pos1] = make([][][][]bigmath.Optimum, len(s.rcs[pos1]))
			for _, rc1 := range s.rcs[pos1] {
				byPos2 := make([][][]bigmath.Optimum, pos1)
				for pos2 := 0; pos2 < pos1; pos2++ {
					byPos2[pos2] = make([][]bigmath.Optimum, len(s.rcs[pos2]))
					for _, rc2 := range s.rcs[pos2] {
						byPos3 := make([]bigmath.Optimum, pos2)
						for pos3 := 0; pos3 < pos2; pos3++ {
							o := opt.Start()
							for _, rc3 := range s.rcs[pos3] {
								t := oracle.NewTriple(pos1, rc1, pos2, rc2, pos3, rc3)
								if s.pruning.IsPrunedTriple(t) {
									o.Offer(bigmath.Zero)
									continue
								}
								// an absent triple weighs 1 and still competes
								w, ok := s.tuples.Triple(t)
								if !ok {
									w = bigmath.One
								}
								o.Offer(w)
							}
							byPos3[pos3] = o
						}
						byPos2[pos2][rc2] = byPos3
					}
				}
				table[pos1][rc1] = byPos2
			}
		}
		s.optrc3[opt] = table
	}
}

func (s *stateInfo) triple(pos1, rc1, pos2, rc2, pos3, rc3 int) (decimal.Decimal, bool) {
	return s.tuples.Triple(oracle.NewTriple(pos1, rc1, pos2, rc2, pos3, rc3))
}

func (s *stateInfo) makeConfIndex() *confspace.ConfIndex {
	return confspace.NewConfIndex(len(s.rcs))
}

func (s *stateInfo) makeSeq(conf []int) *confspace.Sequence {
	return s.space.MakeSequence(s.state, conf)
}

// getZPart returns the weight gained by assigning rc1 at pos1: its pairs
// with every defined position and any triples with two of them. Zero if
// anything involved is pruned.
func (s *stateInfo) getZPart(index *confspace.ConfIndex, pos1, rc1 int) decimal.Decimal {
	if s.pruning.IsPrunedSingle(pos1, rc1) {
		return bigmath.Zero
	}

	m := s.math.Set(bigmath.One)
	for i, pos2 := range index.Defined {
		rc2 := index.RC(i)
		if s.pruning.IsPrunedPair(pos1, rc1, pos2, rc2) {
			return bigmath.Zero
		}
		m.Mul(s.tuples.Pair(pos1, rc1, pos2, rc2))

		for j := 0; j < i; j++ {
			pos3 := index.Defined[j]
			rc3 := index.RC(j)
			if s.pruning.IsPrunedPair(pos1, rc1, pos3, rc3) || s.pruning.IsPrunedPair(pos2, rc2, pos3, rc3) {
				return bigmath.Zero
			}
			t := oracle.NewTriple(pos1, rc1, pos2, rc2, pos3, rc3)
			if s.pruning.IsPrunedTriple(t) {
				return bigmath.Zero
			}
			if w, ok := s.tuples.Triple(t); ok {
				m.Mul(w)
			}
		}
	}
	return m.Get()
}

// isPruned reports whether assigning rc1 at pos1 conflicts with pruning
// against the defined positions.
func (s *stateInfo) isPruned(index *confspace.ConfIndex, pos1, rc1 int) bool {
	if s.pruning.IsPrunedSingle(pos1, rc1) {
		return true
	}
	for i, pos2 := range index.Defined {
		rc2 := index.RC(i)
		if s.pruning.IsPrunedPair(pos1, rc1, pos2, rc2) {
			return true
		}
		for j := 0; j < i; j++ {
			pos3 := index.Defined[j]
			rc3 := index.RC(j)
			if s.pruning.IsPrunedPair(pos1, rc1, pos3, rc3) || s.pruning.IsPrunedPair(pos2, rc2, pos3, rc3) {
				return true
			}
			if s.pruning.IsPrunedTriple(oracle.NewTriple(pos1, rc1, pos2, rc2, pos3, rc3)) {
				return true
			}
		}
	}
	return false
}

// isPrunedAgainstDefined reports whether rc2 at the undefined pos2 is
// pruned with any defined choice, alone or in a triple with rc1 at pos1.
func (s *stateInfo) isPrunedAgainstDefined(index *confspace.ConfIndex, pos1, rc1, pos2, rc2 int) bool {
	for k, pos3 := range index.Defined {
		rc3 := index.RC(k)
		if s.pruning.IsPrunedPair(pos2, rc2, pos3, rc3) {
			return true
		}
		if s.pruning.IsPrunedTriple(oracle.NewTriple(pos1, rc1, pos2, rc2, pos3, rc3)) {
			return true
		}
	}
	return false
}

// isSingleSequence reports whether every undefined position's RCs share
// one residue type, so the subtree projects onto a single sequence.
func (s *stateInfo) isSingleSequence(index *confspace.ConfIndex) bool {
	for _, pos := range index.Undefined {
		rts := s.rtsByRcByPos[pos]
		for _, rc := range s.rcs[pos] {
			if rts[rc] != rts[s.rcs[pos][0]] {
				return false
			}
		}
	}
	return true
}

// boundLeavesPerSequence brackets the number of leaves under index that
// project onto any one sequence.
//
// Description:
//
//	At each undefined sequence position the RCs that are not pruned
//	singles are counted per residue type; the smallest and largest
//	non-zero counts multiply into the lower and upper brackets. Positions
//	outside the sequence space contribute their unpruned RC count to both.
func (s *stateInfo) boundLeavesPerSequence(index *confspace.ConfIndex) bigmath.IntBounds {
	lower := big.NewInt(1)
	upper := big.NewInt(1)
	for _, pos := range index.Undefined {
		legal := 0
		for _, rc := range s.rcs[pos] {
			if !s.pruning.IsPrunedSingle(pos, rc) {
				legal++
			}
		}
		minCount, maxCount := legal, legal
		if numRts := s.numRtsByPos[pos]; numRts > 0 && legal > 0 {
			counts := make([]int, numRts)
			for _, rc := range s.rcs[pos] {
				if !s.pruning.IsPrunedSingle(pos, rc) {
					counts[s.rtsByRcByPos[pos][rc]]++
				}
			}
			minCount, maxCount = 0, 0
			for _, c := range counts {
				if c == 0 {
					continue
				}
				if minCount == 0 || c < minCount {
					minCount = c
				}
				maxCount = max(maxCount, c)
			}
		}
		lower.Mul(lower, big.NewInt(int64(minCount)))
		upper.Mul(upper, big.NewInt(int64(maxCount)))
	}
	return bigmath.IntBounds{Lower: lower, Upper: upper}
}

// optimizeZ returns a bound on the per-leaf weight of any leaf under index,
// excluding the path weight: an upper bound for Maximize, a lower bound for
// Minimize.
//
// Description:
//
//	For each undefined pos1, the weight of every rc1 against the defined
//	positions is exact. Its pairs with the undefined positions before it
//	are optimized independently per pos2, each with the precomputed
//	optimal triples against undefined pos3 < pos2. The per-position optima
//	multiply, so every pair and triple is counted once.
func (s *stateInfo) optimizeZ(index *confspace.ConfIndex, opt bigmath.Optimizer) decimal.Decimal {
	z := s.math.Set(bigmath.One)
	table := s.optrc3[opt]

	for i, pos1 := range index.Undefined {
		pos1Opt := opt.Start()
		for _, rc1 := range s.rcs[pos1] {
			if s.isPruned(index, pos1, rc1) {
				pos1Opt.Offer(bigmath.Zero)
				continue
			}

			rc1Z := s.math.Set(bigmath.One)

			for j, pos2 := range index.Defined {
				rc2 := index.RC(j)
				rc1Z.Mul(s.tuples.Pair(pos1, rc1, pos2, rc2))
				for k := 0; k < j; k++ {
					if w, ok := s.triple(pos1, rc1, pos2, rc2, index.Defined[k], index.RC(k)); ok {
						rc1Z.Mul(w)
					}
				}
			}

			for j := 0; j < i; j++ {
				pos2 := index.Undefined[j]
				rc2Opt := opt.Start()
				for _, rc2 := range s.rcs[pos2] {
					if s.pruning.IsPrunedPair(pos1, rc1, pos2, rc2) {
						rc2Opt.Offer(bigmath.Zero)
						continue
					}

					if s.isPrunedAgainstDefined(index, pos1, rc1, pos2, rc2) {
						rc2Opt.Offer(bigmath.Zero)
						continue
					}

					rc2Z := s.math.Set(s.tuples.Pair(pos1, rc1, pos2, rc2))
					for k, pos3 := range index.Defined {
						if w, ok := s.triple(pos1, rc1, pos2, rc2, pos3, index.RC(k)); ok {
							rc2Z.Mul(w)
						}
					}
					if table != nil {
						for k := 0; k < j; k++ {
							// undefined positions ascend, so pos3 < pos2 < pos1
							if w, ok := table[pos1][rc1][pos2][rc2][index.Undefined[k]].Value(); ok {
								rc2Z.Mul(w)
							}
						}
					}
					rc2Opt.Offer(rc2Z.Get())
				}
				w, _ := rc2Opt.Value()
				rc1Z.Mul(w)
			}

			pos1Opt.Offer(rc1Z.Get())
		}
		w, _ := pos1Opt.Value()
		z.Mul(w)
	}
	return z.Get()
}

// minimizeZ descends depth first to any leaf with non-zero weight and
// returns its weight excluding the path weight, or 0 if none exists.
//
// Only a sound lower bound on the subtree's Z when the subtree is single
// sequence.
func (s *stateInfo) minimizeZ(index *confspace.ConfIndex) decimal.Decimal {
	pos := index.Undefined[0]
	for _, rc := range s.rcs[pos] {
		zpart := bigmath.One
		if index.NumDefined() > 0 {
			zpart = s.getZPart(index, pos, rc)
		} else if s.pruning.IsPrunedSingle(pos, rc) {
			continue
		}
		if zpart.IsZero() {
			continue
		}

		if index.NumDefined() == index.NumPos()-1 {
			return zpart
		}

		index.Assign(pos, rc)
		zsub := s.minimizeZ(index)
		index.Unassign(pos)
		if zsub.IsZero() {
			continue
		}
		return s.math.Mul(zpart, zsub)
	}
	return bigmath.Zero
}

// boundZ brackets the total Z of the subtree under index, whose path
// weight is zpath.
//
// Outputs:
//
//	bigmath.DecimalBounds - The bracket.
//	bool - false if the subtree provably contributes nothing.
func (s *stateInfo) boundZ(index *confspace.ConfIndex, zpath decimal.Decimal) (bigmath.DecimalBounds, bool) {
	count := s.boundLeavesPerSequence(index)
	if count.Upper.Sign() == 0 {
		return bigmath.DecimalBounds{}, false
	}

	zmax := s.optimizeZ(index, bigmath.Maximize)
	if zmax.IsZero() {
		return bigmath.DecimalBounds{}, false
	}
	upper := s.math.Set(zmax).MulInt(count.Upper).Mul(zpath).Get()

	var lower decimal.Decimal
	if s.isSingleSequence(index) {
		lower = s.math.Set(s.minimizeZ(index)).Mul(zpath).Get()
	} else {
		lower = s.math.Set(s.optimizeZ(index, bigmath.Minimize)).MulInt(count.Lower).Mul(zpath).Get()
	}
	return bigmath.NewDecimalBounds(lower, upper), true
}

// rootBound brackets the whole tree of the state, including the global
// factor.
func (s *stateInfo) rootBound() bigmath.DecimalBounds {
	index := s.makeConfIndex()
	count := s.boundLeavesPerSequence(index)
	factor := s.tuples.Factor()
	return bigmath.NewDecimalBounds(
		s.math.Set(s.optimizeZ(index, bigmath.Minimize)).MulInt(count.Lower).Mul(factor).Get(),
		s.math.Set(s.optimizeZ(index, bigmath.Maximize)).MulInt(count.Upper).Mul(factor).Get(),
	)
}

// -----------------------------------------------------------------------------
// Brute force
// -----------------------------------------------------------------------------

// exactBoundZ returns the smallest and largest leaf weight under index,
// excluding the path weight, by enumeration. ok is false for an empty
// subtree. Small trees only.
func (s *stateInfo) exactBoundZ(index *confspace.ConfIndex) (bigmath.DecimalBounds, bool) {
	var (
		out bigmath.DecimalBounds
		ok  bool
	)
	var visit func(zpath decimal.Decimal)
	visit = func(zpath decimal.Decimal) {
		if index.IsFullyDefined() {
			switch {
			case !ok:
				out, ok = bigmath.ExactBounds(zpath), true
			case zpath.LessThan(out.Lower):
				out.Lower = zpath
			case zpath.GreaterThan(out.Upper):
				out.Upper = zpath
			}
			return
		}
		pos := index.Undefined[0]
		for _, rc := range s.rcs[pos] {
			zpathrc := zpath
			if index.NumDefined() > 0 {
				zpathrc = s.math.Mul(zpath, s.getZPart(index, pos, rc))
			} else if s.pruning.IsPrunedSingle(pos, rc) {
				zpathrc = bigmath.Zero
			}
			index.Assign(pos, rc)
			visit(zpathrc)
			index.Unassign(pos)
		}
	}
	visit(bigmath.One)
	return out, ok
}

// leafCount is a per-sequence leaf tally.
type leafCount struct {
	seq   *confspace.Sequence
	count *big.Int
}

// countLeavesBySequence counts the leaves under index that avoid pruned
// singles, by the sequence they project onto, keyed by Sequence.Key. Small
// trees only.
func (s *stateInfo) countLeavesBySequence(index *confspace.ConfIndex) map[string]*leafCount {
	out := make(map[string]*leafCount)
	var visit func()
	visit = func() {
		if index.IsFullyDefined() {
			seq := s.makeSeq(index.MakeConf())
			lc, ok := out[seq.Key()]
			if !ok {
				lc = &leafCount{seq: seq, count: new(big.Int)}
				out[seq.Key()] = lc
			}
			lc.count.Add(lc.count, big.NewInt(1))
			return
		}
		pos := index.Undefined[0]
		for _, rc := range s.rcs[pos] {
			if s.pruning.IsPrunedSingle(pos, rc) {
				continue
			}
			index.Assign(pos, rc)
			visit()
			index.Unassign(pos)
		}
	}
	visit()
	return out
}

// calcZ sums the weights of every leaf of seq by enumeration, including
// the global factor. Small trees only.
func (s *stateInfo) calcZ(seq *confspace.Sequence) decimal.Decimal {
	return s.calcZWith(s.makeConfIndex(), seq.MakeRCs(s.state), s.tuples.Factor())
}

func (s *stateInfo) calcZWith(index *confspace.ConfIndex, rcs [][]int, rootFactor decimal.Decimal) decimal.Decimal {
	z := bigmath.Zero
	pos := index.Undefined[0]
	for _, rc := range rcs[pos] {
		var zpart decimal.Decimal
		if index.NumDefined() == 0 {
			if s.pruning.IsPrunedSingle(pos, rc) {
				continue
			}
			zpart = rootFactor
		} else {
			zpart = s.getZPart(index, pos, rc)
		}
		if zpart.IsZero() {
			continue
		}

		if index.NumDefined() < index.NumPos()-1 {
			index.Assign(pos, rc)
			z = s.math.Set(s.calcZWith(index, rcs, rootFactor)).Mul(zpart).Add(z).Get()
			index.Unassign(pos)
		} else {
			z = s.math.Add(z, zpart)
		}
	}
	return z
}
