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
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBadSequence is returned for unknown positions or residue types.
	ErrBadSequence = errors.New("invalid sequence")

	// ErrDuplicateState is returned when two states share a name.
	ErrDuplicateState = errors.New("duplicate state name")

	// ErrNoStates is returned when building an empty multi-state space.
	ErrNoStates = errors.New("no states")

	// ErrSeqPosMismatch is returned when mutable states disagree on the
	// sequence positions or their order.
	ErrSeqPosMismatch = errors.New("mutable states must share the same sequence positions in the same order")
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is one independent subproblem of the design.
type State struct {
	Index     int
	Name      string
	ConfSpace *ConfSpace

	// IsSequenced is true for mutable states. Their Z is tracked per
	// sequence; unsequenced states have a single Z.
	IsSequenced bool

	// SequencedIndex is the index among sequenced states, or -1.
	SequencedIndex int

	// UnsequencedIndex is the index among unsequenced states, or -1.
	UnsequencedIndex int

	// seqPosByConfPos maps conf positions to sequence positions, or -1.
	seqPosByConfPos []int
}

// SeqPosFor returns the sequence position index of conf position pos, or -1
// if the position is not designable in this state.
func (s *State) SeqPosFor(pos int) int {
	return s.seqPosByConfPos[pos]
}

// String returns the state name.
func (s *State) String() string {
	return s.Name
}

// -----------------------------------------------------------------------------
// MultiStateConfSpace
// -----------------------------------------------------------------------------

// MultiStateConfSpace is the set of states plus the shared sequence space.
type MultiStateConfSpace struct {
	States            []*State
	SequencedStates   []*State
	UnsequencedStates []*State
	SeqSpace          *SeqSpace
}

// State returns the state with the given name, or nil.
func (m *MultiStateConfSpace) State(name string) *State {
	for _, s := range m.States {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// MakeSequence projects a conformation of state onto the sequence space.
//
// Unassigned conf positions and positions the state does not design leave
// the sequence position unassigned.
func (m *MultiStateConfSpace) MakeSequence(state *State, conf []int) *Sequence {
	seq := m.SeqSpace.MakeUnassignedSequence()
	if !state.IsSequenced {
		return seq
	}
	for _, pos := range state.ConfSpace.Positions {
		sp := state.seqPosByConfPos[pos.Index]
		rc := conf[pos.Index]
		if sp < 0 || rc == Unassigned {
			continue
		}
		rt, _ := m.SeqSpace.Positions[sp].ResType(pos.ResConfs[rc].ResType)
		seq.RTIndices[sp] = rt.Index
	}
	return seq
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

type stateSpec struct {
	name    string
	cs      *ConfSpace
	mutable bool
}

// Builder assembles a MultiStateConfSpace.
type Builder struct {
	states []stateSpec
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddMutableState adds a sequenced state.
func (b *Builder) AddMutableState(name string, cs *ConfSpace) *Builder {
	b.states = append(b.states, stateSpec{name: name, cs: cs, mutable: true})
	return b
}

// AddUnmutableState adds an unsequenced state. Its positions never map onto
// sequence positions, even when flagged mutable.
func (b *Builder) AddUnmutableState(name string, cs *ConfSpace) *Builder {
	b.states = append(b.states, stateSpec{name: name, cs: cs, mutable: false})
	return b
}

// Build validates the states and derives the sequence space.
//
// Description:
//
//	The sequence space is the mutable positions of the mutable states in
//	first-seen order; each position's residue types are the union of its
//	RC residue types in first-seen order. Every mutable state must design
//	the same sequence positions, in sequence order, so that the ledger's
//	ancestor walk over trailing positions matches each state's tree order.
//
// Outputs:
//
//	*MultiStateConfSpace - The built space.
//	error - ErrNoStates, ErrDuplicateState or ErrSeqPosMismatch.
func (b *Builder) Build() (*MultiStateConfSpace, error) {
	if len(b.states) == 0 {
		return nil, ErrNoStates
	}

	m := &MultiStateConfSpace{SeqSpace: newSeqSpace()}
	names := make(map[string]bool)

	for _, sd := range b.states {
		if names[sd.name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateState, sd.name)
		}
		names[sd.name] = true
		if !sd.mutable {
			continue
		}
		for _, pos := range sd.cs.Positions {
			if !pos.Mutable {
				continue
			}
			sp := m.SeqSpace.addPosition(pos.ResNum)
			for _, rc := range pos.ResConfs {
				sp.addResType(rc.ResType)
			}
		}
	}

	for i, sd := range b.states {
		state := &State{
			Index:            i,
			Name:             sd.name,
			ConfSpace:        sd.cs,
			IsSequenced:      sd.mutable,
			SequencedIndex:   -1,
			UnsequencedIndex: -1,
			seqPosByConfPos:  make([]int, len(sd.cs.Positions)),
		}
		next := 0
		for _, pos := range sd.cs.Positions {
			state.seqPosByConfPos[pos.Index] = -1
			if !sd.mutable || !pos.Mutable {
				continue
			}
			sp := m.SeqSpace.Position(pos.ResNum)
			if sp.Index != next {
				return nil, fmt.Errorf("%w: state %q position %s", ErrSeqPosMismatch, sd.name, pos.ResNum)
			}
			state.seqPosByConfPos[pos.Index] = sp.Index
			next++
		}
		if sd.mutable && next != m.SeqSpace.NumPositions() {
			return nil, fmt.Errorf("%w: state %q designs %d of %d positions",
				ErrSeqPosMismatch, sd.name, next, m.SeqSpace.NumPositions())
		}

		if state.IsSequenced {
			state.SequencedIndex = len(m.SequencedStates)
			m.SequencedStates = append(m.SequencedStates, state)
		} else {
			state.UnsequencedIndex = len(m.UnsequencedStates)
			m.UnsequencedStates = append(m.UnsequencedStates, state)
		}
		m.States = append(m.States, state)
	}

	return m, nil
}
