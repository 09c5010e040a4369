// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bigmath provides fixed-precision arbitrary-size decimal arithmetic
// for partition function bounds.
//
// Partition function values span hundreds of orders of magnitude, so all Z
// arithmetic is done on github.com/shopspring/decimal values rounded to a
// fixed number of significant digits after every operation. A Context
// carries that precision:
//
//	ctx := bigmath.NewContext(32)
//	z := ctx.Set(zpath).Mul(zpart).Add(z).Get()
//
// # Thread Safety
//
// Context is an immutable value and safe for concurrent use. Math chains
// are not shared between goroutines; create one per computation.
package bigmath

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the significant-digit precision for bound math.
const DefaultPrecision = 32

// LedgerPrecision is the significant-digit precision for ledger sums, which
// accumulate many additions and subtractions of nearly equal values.
const LedgerPrecision = 128

var (
	// Zero is the decimal 0.
	Zero = decimal.Zero

	// One is the decimal 1.
	One = decimal.NewFromInt(1)
)

// Context rounds decimal results to a fixed number of significant digits.
type Context struct {
	// Precision is the number of significant decimal digits kept.
	// Values <= 0 disable rounding.
	Precision int
}

// NewContext returns a Context with the given significant-digit precision.
func NewContext(precision int) Context {
	return Context{Precision: precision}
}

// TinyPlaceholder returns the value substituted for a zero divisor.
//
// Description:
//
//	Score combinations can divide by a sum that accumulated to exactly zero.
//	Rather than failing, the divisor is replaced by 10^-(4*precision), a
//	value far below anything the context can otherwise represent relative
//	to its operands.
//
// Outputs:
//
//	decimal.Decimal - The placeholder divisor.
func (c Context) TinyPlaceholder() decimal.Decimal {
	p := c.Precision
	if p <= 0 {
		p = DefaultPrecision
	}
	return decimal.New(1, int32(-4*p))
}

// Round rounds d to the context precision.
//
// Description:
//
//	Keeps Precision significant digits, rounding half away from zero.
//	Zero and values that already fit are returned unchanged.
//
// Inputs:
//
//	d - The value to round.
//
// Outputs:
//
//	decimal.Decimal - The rounded value.
func (c Context) Round(d decimal.Decimal) decimal.Decimal {
	if c.Precision <= 0 || d.IsZero() {
		return d
	}
	digits := NumDigits(d)
	places := int32(c.Precision) - int32(digits) - d.Exponent()
	if places >= -d.Exponent() {
		return d
	}
	return d.Round(places)
}

// Set starts a math chain at val.
func (c Context) Set(val decimal.Decimal) *Math {
	return &Math{ctx: c, d: c.Round(val)}
}

// SetInt starts a math chain at an integer value.
func (c Context) SetInt(val *big.Int) *Math {
	return c.Set(decimal.NewFromBigInt(val, 0))
}

// SetFloat starts a math chain at a float value.
func (c Context) SetFloat(val float64) *Math {
	return c.Set(decimal.NewFromFloat(val))
}

// Add returns a+b rounded to the context precision.
func (c Context) Add(a, b decimal.Decimal) decimal.Decimal {
	return c.Round(a.Add(b))
}

// Sub returns a-b rounded to the context precision.
func (c Context) Sub(a, b decimal.Decimal) decimal.Decimal {
	return c.Round(a.Sub(b))
}

// Mul returns a*b rounded to the context precision.
func (c Context) Mul(a, b decimal.Decimal) decimal.Decimal {
	return c.Round(a.Mul(b))
}

// Div returns a/b rounded to the context precision.
//
// A zero divisor is replaced by TinyPlaceholder.
func (c Context) Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		b = c.TinyPlaceholder()
	}
	if a.IsZero() {
		return Zero
	}
	p := c.Precision
	if p <= 0 {
		p = DefaultPrecision
	}
	// enough places to hold p significant digits of the quotient
	places := int32(p) - (magnitude(a) - magnitude(b)) + 2
	return c.Round(a.DivRound(b, places))
}

// Math is a chained arithmetic helper bound to a Context.
//
// Each operation rounds its result, matching the behavior of a fixed
// MathContext. Math is not safe for concurrent use.
type Math struct {
	ctx Context
	d   decimal.Decimal
}

// Get returns the current value.
func (m *Math) Get() decimal.Decimal {
	return m.d
}

// Add adds other to the current value.
func (m *Math) Add(other decimal.Decimal) *Math {
	m.d = m.ctx.Add(m.d, other)
	return m
}

// Sub subtracts other from the current value.
func (m *Math) Sub(other decimal.Decimal) *Math {
	m.d = m.ctx.Sub(m.d, other)
	return m
}

// Mul multiplies the current value by other.
func (m *Math) Mul(other decimal.Decimal) *Math {
	m.d = m.ctx.Mul(m.d, other)
	return m
}

// MulInt multiplies the current value by an integer.
func (m *Math) MulInt(other *big.Int) *Math {
	return m.Mul(decimal.NewFromBigInt(other, 0))
}

// Div divides the current value by other.
func (m *Math) Div(other decimal.Decimal) *Math {
	m.d = m.ctx.Div(m.d, other)
	return m
}

// DivFloat divides the current value by a float.
func (m *Math) DivFloat(other float64) *Math {
	return m.Div(decimal.NewFromFloat(other))
}

// AtLeast raises the current value to min if it is below.
func (m *Math) AtLeast(min decimal.Decimal) *Math {
	if m.d.LessThan(min) {
		m.d = min
	}
	return m
}

// AtMost lowers the current value to max if it is above.
func (m *Math) AtMost(max decimal.Decimal) *Math {
	if m.d.GreaterThan(max) {
		m.d = max
	}
	return m
}

// NumDigits returns the number of digits in the coefficient of d.
func NumDigits(d decimal.Decimal) int {
	c := d.Coefficient()
	if c.Sign() == 0 {
		return 1
	}
	return len(c.Abs(c).String())
}

// magnitude returns the power of ten of the most significant digit of d.
func magnitude(d decimal.Decimal) int32 {
	return int32(NumDigits(d)) + d.Exponent() - 1
}

// IsZero reports whether d is exactly zero.
func IsZero(d decimal.Decimal) bool {
	return d.IsZero()
}

// IsLessThan reports whether a < b.
func IsLessThan(a, b decimal.Decimal) bool {
	return a.Cmp(b) < 0
}

// IsGreaterThan reports whether a > b.
func IsGreaterThan(a, b decimal.Decimal) bool {
	return a.Cmp(b) > 0
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Float64 converts d to the nearest float64, saturating to ±Inf or 0 when
// the value is outside the float64 range.
func Float64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
