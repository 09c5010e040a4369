// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confspace models the combinatorial design space: per-state
// conformation spaces, the shared sequence space, and partial assignments.
//
// # Model
//
// A ConfSpace is an ordered list of positions. Each position has a finite
// list of residue conformations (RCs), each tagged with the residue type it
// belongs to. A MultiStateConfSpace groups several conformation spaces as
// states. Mutable positions of mutable states form the SeqSpace; a sequence
// is an assignment of residue types over it.
//
// # Thread Safety
//
// Everything built by the Builder is read-only afterwards and safe for
// concurrent reads. ConfIndex and Sequence values are mutable and owned by
// one goroutine.
package confspace

import "fmt"

// ResConf is one discrete conformation choice at a position.
type ResConf struct {
	Index   int
	ResType string
	ID      string
}

// Position is one conf space position.
type Position struct {
	Index    int
	ResNum   string
	Mutable  bool
	ResConfs []ResConf
}

// ResTypes returns the distinct residue types at the position, in RC order.
func (p *Position) ResTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rc := range p.ResConfs {
		if !seen[rc.ResType] {
			seen[rc.ResType] = true
			out = append(out, rc.ResType)
		}
	}
	return out
}

// ConfSpace is the ordered set of positions of one state.
type ConfSpace struct {
	Positions []*Position
}

// NewConfSpace returns an empty conf space.
func NewConfSpace() *ConfSpace {
	return &ConfSpace{}
}

// AddPosition appends a position whose conformations are given as residue
// type names, one entry per RC. RC IDs default to "<resType>:<n>".
//
// Inputs:
//
//	resNum - Residue number, unique within the conf space.
//	mutable - Whether the position is designable.
//	resTypes - Residue type of every RC, in RC index order.
//
// Outputs:
//
//	*Position - The new position.
func (cs *ConfSpace) AddPosition(resNum string, mutable bool, resTypes ...string) *Position {
	pos := &Position{Index: len(cs.Positions), ResNum: resNum, Mutable: mutable}
	counts := make(map[string]int)
	for i, rt := range resTypes {
		pos.ResConfs = append(pos.ResConfs, ResConf{
			Index:   i,
			ResType: rt,
			ID:      fmt.Sprintf("%s:%d", rt, counts[rt]),
		})
		counts[rt]++
	}
	cs.Positions = append(cs.Positions, pos)
	return pos
}

// NumPositions returns the number of positions.
func (cs *ConfSpace) NumPositions() int {
	return len(cs.Positions)
}

// NumConfs returns the number of full conformations as a float, which is
// exact for the small spaces it is used on and saturates otherwise.
func (cs *ConfSpace) NumConfs() float64 {
	if len(cs.Positions) == 0 {
		return 0
	}
	n := 1.0
	for _, pos := range cs.Positions {
		n *= float64(len(pos.ResConfs))
	}
	return n
}

// Position returns the position with resNum, or nil.
func (cs *ConfSpace) Position(resNum string) *Position {
	for _, pos := range cs.Positions {
		if pos.ResNum == resNum {
			return pos
		}
	}
	return nil
}

// AllRCs returns every RC index at every position.
func (cs *ConfSpace) AllRCs() [][]int {
	out := make([][]int, len(cs.Positions))
	for _, pos := range cs.Positions {
		out[pos.Index] = make([]int, len(pos.ResConfs))
		for i := range pos.ResConfs {
			out[pos.Index][i] = i
		}
	}
	return out
}
