// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bigmath

import "github.com/shopspring/decimal"

// Optimizer selects an optimization direction.
type Optimizer int

const (
	// Minimize keeps the smaller of two values.
	Minimize Optimizer = iota

	// Maximize keeps the larger of two values.
	Maximize
)

// Optimizers lists both directions in index order.
var Optimizers = []Optimizer{Minimize, Maximize}

// String returns "minimize" or "maximize".
func (o Optimizer) String() string {
	if o == Maximize {
		return "maximize"
	}
	return "minimize"
}

// Opt returns the better of a and b in this direction.
func (o Optimizer) Opt(a, b decimal.Decimal) decimal.Decimal {
	if o == Maximize {
		return Max(a, b)
	}
	return Min(a, b)
}

// Start returns an empty accumulator for this direction.
func (o Optimizer) Start() Optimum {
	return Optimum{opt: o}
}

// Optimum accumulates the optimal value of a sequence.
//
// An Optimum with no values stands in for the infinite identity element
// of the direction: Value reports ok=false until something is offered.
type Optimum struct {
	opt Optimizer
	val decimal.Decimal
	set bool
}

// Offer folds v into the accumulator.
func (o *Optimum) Offer(v decimal.Decimal) {
	if !o.set {
		o.val = v
		o.set = true
		return
	}
	o.val = o.opt.Opt(o.val, v)
}

// Value returns the optimum and whether any value was offered.
func (o Optimum) Value() (decimal.Decimal, bool) {
	return o.val, o.set
}

// IsSet reports whether any value was offered.
func (o Optimum) IsSet() bool {
	return o.set
}
