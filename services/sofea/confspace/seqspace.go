// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confspace

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Unassigned marks a position with no choice, in both sequences and confs.
const Unassigned = -1

// ResType is one residue type available at a sequence position.
type ResType struct {
	Index int
	Name  string
}

// SeqPos is one designable position shared by the mutable states.
type SeqPos struct {
	Index    int
	ResNum   string
	ResTypes []ResType

	byName map[string]int
}

// ResType returns the residue type with the given name.
func (p *SeqPos) ResType(name string) (ResType, bool) {
	i, ok := p.byName[name]
	if !ok {
		return ResType{}, false
	}
	return p.ResTypes[i], true
}

func (p *SeqPos) addResType(name string) {
	if _, ok := p.byName[name]; ok {
		return
	}
	p.byName[name] = len(p.ResTypes)
	p.ResTypes = append(p.ResTypes, ResType{Index: len(p.ResTypes), Name: name})
}

// SeqSpace is the ordered set of sequence positions.
//
// Thread Safety: immutable after the multi-state builder returns it.
type SeqSpace struct {
	Positions []*SeqPos

	byResNum map[string]int
}

func newSeqSpace() *SeqSpace {
	return &SeqSpace{byResNum: make(map[string]int)}
}

func (s *SeqSpace) addPosition(resNum string) *SeqPos {
	if i, ok := s.byResNum[resNum]; ok {
		return s.Positions[i]
	}
	pos := &SeqPos{Index: len(s.Positions), ResNum: resNum, byName: make(map[string]int)}
	s.byResNum[resNum] = pos.Index
	s.Positions = append(s.Positions, pos)
	return pos
}

// Position returns the sequence position for a residue number, or nil.
func (s *SeqSpace) Position(resNum string) *SeqPos {
	i, ok := s.byResNum[resNum]
	if !ok {
		return nil
	}
	return s.Positions[i]
}

// NumPositions returns the number of sequence positions.
func (s *SeqSpace) NumPositions() int {
	return len(s.Positions)
}

// MaxResTypeIndex returns the largest residue type index at any position,
// or -1 for an empty space.
func (s *SeqSpace) MaxResTypeIndex() int {
	max := -1
	for _, pos := range s.Positions {
		if n := len(pos.ResTypes) - 1; n > max {
			max = n
		}
	}
	return max
}

// NumSequences returns the number of full sequences.
func (s *SeqSpace) NumSequences() int {
	if len(s.Positions) == 0 {
		return 0
	}
	n := 1
	for _, pos := range s.Positions {
		n *= len(pos.ResTypes)
	}
	return n
}

// MakeUnassignedSequence returns a sequence with every position unassigned.
func (s *SeqSpace) MakeUnassignedSequence() *Sequence {
	rts := make([]int, len(s.Positions))
	for i := range rts {
		rts[i] = Unassigned
	}
	return &Sequence{Space: s, RTIndices: rts}
}

// MakeSequence wraps residue type indices. The slice is not copied.
func (s *SeqSpace) MakeSequence(rtIndices []int) *Sequence {
	return &Sequence{Space: s, RTIndices: rtIndices}
}

// ParseSequence parses "resNum=RES" pairs separated by commas or spaces.
//
// Positions not mentioned stay unassigned.
//
// Inputs:
//
//	text - For example "A23=ALA,B7=GLY".
//
// Outputs:
//
//	*Sequence - The parsed sequence.
//	error - Non-nil for unknown positions, residue types, or bad syntax.
func (s *SeqSpace) ParseSequence(text string) (*Sequence, error) {
	seq := s.MakeUnassignedSequence()
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' })
	for _, field := range fields {
		resNum, resType, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected resNum=RES, got %q", ErrBadSequence, field)
		}
		if err := seq.Set(resNum, resType); err != nil {
			return nil, err
		}
	}
	return seq, nil
}

// AllSequences enumerates every full sequence in position order, with the
// last position varying fastest.
func AllSequences(s *SeqSpace) []*Sequence {
	if len(s.Positions) == 0 {
		return nil
	}
	var out []*Sequence
	rts := make([]int, len(s.Positions))
	var walk func(i int)
	walk = func(i int) {
		if i == len(rts) {
			out = append(out, s.MakeSequence(append([]int(nil), rts...)))
			return
		}
		for rt := range s.Positions[i].ResTypes {
			rts[i] = rt
			walk(i + 1)
		}
	}
	walk(0)
	return out
}

// Sequence is a partial or full assignment of residue types.
//
// Two sequences are equal iff their RTIndices are equal.
type Sequence struct {
	Space     *SeqSpace
	RTIndices []int
}

// Copy returns an independent copy.
func (q *Sequence) Copy() *Sequence {
	return &Sequence{Space: q.Space, RTIndices: append([]int(nil), q.RTIndices...)}
}

// Set assigns a residue type by name at the position with resNum.
func (q *Sequence) Set(resNum, resType string) error {
	pos := q.Space.Position(resNum)
	if pos == nil {
		return fmt.Errorf("%w: no sequence position %q", ErrBadSequence, resNum)
	}
	rt, ok := pos.ResType(resType)
	if !ok {
		return fmt.Errorf("%w: residue type %q not allowed at %s", ErrBadSequence, resType, resNum)
	}
	q.RTIndices[pos.Index] = rt.Index
	return nil
}

// IsFullyAssigned reports whether no position is unassigned.
func (q *Sequence) IsFullyAssigned() bool {
	for _, rt := range q.RTIndices {
		if rt == Unassigned {
			return false
		}
	}
	return true
}

// IsUnassigned reports whether every position is unassigned.
func (q *Sequence) IsUnassigned() bool {
	for _, rt := range q.RTIndices {
		if rt != Unassigned {
			return false
		}
	}
	return true
}

// Equal reports whether both sequences assign the same residue types.
func (q *Sequence) Equal(other *Sequence) bool {
	if len(q.RTIndices) != len(other.RTIndices) {
		return false
	}
	for i, rt := range q.RTIndices {
		if other.RTIndices[i] != rt {
			return false
		}
	}
	return true
}

// Key returns a compact string usable as a map key.
func (q *Sequence) Key() string {
	buf := make([]byte, 0, 2*len(q.RTIndices))
	for _, rt := range q.RTIndices {
		buf = binary.BigEndian.AppendUint16(buf, uint16(rt+1))
	}
	return string(buf)
}

// ResTypeName returns the residue type name at a sequence position, or ""
// when unassigned.
func (q *Sequence) ResTypeName(pos int) string {
	rt := q.RTIndices[pos]
	if rt == Unassigned {
		return ""
	}
	return q.Space.Positions[pos].ResTypes[rt].Name
}

// String formats the sequence as "resNum=RES" pairs; unassigned positions
// print as "resNum=?".
func (q *Sequence) String() string {
	parts := make([]string, len(q.RTIndices))
	for i, pos := range q.Space.Positions {
		name := q.ResTypeName(i)
		if name == "" {
			name = "?"
		}
		parts[i] = pos.ResNum + "=" + name
	}
	return strings.Join(parts, " ")
}

// MakeRCs restricts each conf position of the state to the conformations
// whose residue type matches the sequence. Positions the state does not
// design, or that are unassigned in the sequence, keep all conformations.
func (q *Sequence) MakeRCs(state *State) [][]int {
	cs := state.ConfSpace
	out := make([][]int, len(cs.Positions))
	for _, pos := range cs.Positions {
		var want string
		if sp := state.SeqPosFor(pos.Index); sp >= 0 {
			want = q.ResTypeName(sp)
		}
		for _, rc := range pos.ResConfs {
			if want == "" || rc.ResType == want {
				out[pos.Index] = append(out[pos.Index], rc.Index)
			}
		}
	}
	return out
}
