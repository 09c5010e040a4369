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

// ConfIndex is a partial conformation with sorted defined and undefined
// position lists.
//
// Assign and Unassign update the lists in place so a recursion frame can
// try each choice and restore the index afterwards.
type ConfIndex struct {
	// Conf holds the RC per position, or Unassigned.
	Conf []int

	// Defined lists assigned positions in ascending order.
	Defined []int

	// Undefined lists unassigned positions in ascending order.
	Undefined []int
}

// NewConfIndex returns an index with numPos unassigned positions.
func NewConfIndex(numPos int) *ConfIndex {
	c := &ConfIndex{
		Conf:      make([]int, numPos),
		Defined:   make([]int, 0, numPos),
		Undefined: make([]int, numPos),
	}
	for i := range c.Conf {
		c.Conf[i] = Unassigned
		c.Undefined[i] = i
	}
	return c
}

// IndexConf returns an index for an existing conformation.
func IndexConf(conf []int) *ConfIndex {
	c := &ConfIndex{
		Conf:      append([]int(nil), conf...),
		Defined:   make([]int, 0, len(conf)),
		Undefined: make([]int, 0, len(conf)),
	}
	for pos, rc := range conf {
		if rc == Unassigned {
			c.Undefined = append(c.Undefined, pos)
		} else {
			c.Defined = append(c.Defined, pos)
		}
	}
	return c
}

// NumPos returns the number of positions.
func (c *ConfIndex) NumPos() int { return len(c.Conf) }

// NumDefined returns the number of assigned positions.
func (c *ConfIndex) NumDefined() int { return len(c.Defined) }

// IsFullyDefined reports whether every position is assigned.
func (c *ConfIndex) IsFullyDefined() bool { return len(c.Undefined) == 0 }

// RC returns the choice at the i-th defined position.
func (c *ConfIndex) RC(i int) int { return c.Conf[c.Defined[i]] }

// Assign sets pos to rc. pos must be unassigned.
func (c *ConfIndex) Assign(pos, rc int) {
	c.Conf[pos] = rc
	c.Undefined = removeSorted(c.Undefined, pos)
	c.Defined = insertSorted(c.Defined, pos)
}

// Unassign clears pos. pos must be assigned.
func (c *ConfIndex) Unassign(pos int) {
	c.Conf[pos] = Unassigned
	c.Defined = removeSorted(c.Defined, pos)
	c.Undefined = insertSorted(c.Undefined, pos)
}

// MakeConf returns a copy of the current conformation.
func (c *ConfIndex) MakeConf() []int {
	return append([]int(nil), c.Conf...)
}

func insertSorted(s []int, v int) []int {
	i := len(s)
	for i > 0 && s[i-1] > v {
		i--
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeSorted(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
