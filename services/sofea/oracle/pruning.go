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

// PruningMatrix is a sparse set of pruned singles, pairs and triples.
//
// A pruned single also prunes every pair and triple containing it, and a
// pruned pair every triple containing it.
//
// Thread Safety: mutate before the run starts; concurrent reads only.
type PruningMatrix struct {
	singles map[single]struct{}
	pairs   map[[4]int]struct{}
	triples map[Triple]struct{}
}

var _ Pruning = (*PruningMatrix)(nil)

// NewPruningMatrix returns a matrix that prunes nothing.
func NewPruningMatrix() *PruningMatrix {
	return &PruningMatrix{
		singles: make(map[single]struct{}),
		pairs:   make(map[[4]int]struct{}),
		triples: make(map[Triple]struct{}),
	}
}

// PruneSingle marks a choice as pruned.
func (m *PruningMatrix) PruneSingle(pos, rc int) *PruningMatrix {
	m.singles[single{pos, rc}] = struct{}{}
	return m
}

// PrunePair marks a pair as pruned.
func (m *PruningMatrix) PrunePair(pos1, rc1, pos2, rc2 int) *PruningMatrix {
	m.pairs[pairKey(pos1, rc1, pos2, rc2)] = struct{}{}
	return m
}

// PruneTriple marks a triple as pruned.
func (m *PruningMatrix) PruneTriple(t Triple) *PruningMatrix {
	m.triples[t] = struct{}{}
	return m
}

// IsPrunedSingle reports whether the choice is pruned.
func (m *PruningMatrix) IsPrunedSingle(pos, rc int) bool {
	_, ok := m.singles[single{pos, rc}]
	return ok
}

// IsPrunedPair reports whether the pair or either of its singles is pruned.
func (m *PruningMatrix) IsPrunedPair(pos1, rc1, pos2, rc2 int) bool {
	if _, ok := m.pairs[pairKey(pos1, rc1, pos2, rc2)]; ok {
		return true
	}
	return m.IsPrunedSingle(pos1, rc1) || m.IsPrunedSingle(pos2, rc2)
}

// IsPrunedTriple reports whether the triple or any sub-tuple is pruned.
func (m *PruningMatrix) IsPrunedTriple(t Triple) bool {
	if _, ok := m.triples[t]; ok {
		return true
	}
	return m.IsPrunedPair(t.Pos[0], t.RC[0], t.Pos[1], t.RC[1]) ||
		m.IsPrunedPair(t.Pos[0], t.RC[0], t.Pos[2], t.RC[2]) ||
		m.IsPrunedPair(t.Pos[1], t.RC[1], t.Pos[2], t.RC[2])
}

// Size returns the number of explicitly pruned tuples.
func (m *PruningMatrix) Size() int {
	return len(m.singles) + len(m.pairs) + len(m.triples)
}

// NumPrunedTriples returns the number of explicitly pruned triples.
func (m *PruningMatrix) NumPrunedTriples() int {
	return len(m.triples)
}
