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

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DecimalBounds is a bracket [Lower, Upper] on an unknown non-negative sum.
type DecimalBounds struct {
	Lower decimal.Decimal
	Upper decimal.Decimal
}

// NewDecimalBounds returns the bracket [lower, upper].
func NewDecimalBounds(lower, upper decimal.Decimal) DecimalBounds {
	return DecimalBounds{Lower: lower, Upper: upper}
}

// ExactBounds returns the degenerate bracket [z, z].
func ExactBounds(z decimal.Decimal) DecimalBounds {
	return DecimalBounds{Lower: z, Upper: z}
}

// EmptySum returns the bracket [0, 0].
func EmptySum() DecimalBounds {
	return DecimalBounds{Lower: Zero, Upper: Zero}
}

// IsEmptySum reports whether both ends are zero.
func (b DecimalBounds) IsEmptySum() bool {
	return b.Lower.IsZero() && b.Upper.IsZero()
}

// IsValid reports whether Lower <= Upper.
func (b DecimalBounds) IsValid() bool {
	return b.Lower.Cmp(b.Upper) <= 0
}

// Contains reports whether z lies within the bracket.
func (b DecimalBounds) Contains(z decimal.Decimal) bool {
	return b.Lower.Cmp(z) <= 0 && z.Cmp(b.Upper) <= 0
}

// Gap returns Upper - Lower.
func (b DecimalBounds) Gap() decimal.Decimal {
	return b.Upper.Sub(b.Lower)
}

// RelativeGap returns (Upper-Lower)/Upper as a float, or 0 when Upper is 0.
func (b DecimalBounds) RelativeGap() float64 {
	if b.Upper.IsZero() {
		return 0
	}
	ctx := NewContext(DefaultPrecision)
	return Float64(ctx.Div(b.Gap(), b.Upper))
}

// Equal reports whether both ends compare equal by value.
func (b DecimalBounds) Equal(other DecimalBounds) bool {
	return b.Lower.Equal(other.Lower) && b.Upper.Equal(other.Upper)
}

// String formats the bracket in scientific notation.
func (b DecimalBounds) String() string {
	return fmt.Sprintf("[%s,%s]", FormatSci(b.Lower), FormatSci(b.Upper))
}

// IntBounds is a bracket on an integer count.
type IntBounds struct {
	Lower *big.Int
	Upper *big.Int
}

// NewIntBounds returns the bracket [lower, upper].
func NewIntBounds(lower, upper int64) IntBounds {
	return IntBounds{Lower: big.NewInt(lower), Upper: big.NewInt(upper)}
}

// IsExact reports whether Lower == Upper.
func (b IntBounds) IsExact() bool {
	return b.Lower.Cmp(b.Upper) == 0
}

// String formats the bracket.
func (b IntBounds) String() string {
	return fmt.Sprintf("[%s,%s]", b.Lower.String(), b.Upper.String())
}

// FloatBounds is a bracket on a float quantity such as a free energy.
type FloatBounds struct {
	Lower float64
	Upper float64
}

// String formats the bracket.
func (b FloatBounds) String() string {
	return fmt.Sprintf("[%.4f,%.4f]", b.Lower, b.Upper)
}

// Size returns Upper - Lower, or +Inf if either end is infinite.
func (b FloatBounds) Size() float64 {
	if math.IsInf(b.Lower, 0) || math.IsInf(b.Upper, 0) {
		return math.Inf(1)
	}
	return b.Upper - b.Lower
}

// FormatSci formats d as d.ddddde±x with up to six significant digits.
// Trailing zeros are dropped.
func FormatSci(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	r := NewContext(6).Round(d)
	coef := r.Coefficient()
	neg := coef.Sign() < 0
	digits := coef.Abs(coef).String()
	exp := int(r.Exponent()) + len(digits) - 1
	digits = strings.TrimRight(digits, "0")
	mant := digits[:1]
	if len(digits) > 1 {
		mant += "." + digits[1:]
	}
	if neg {
		mant = "-" + mant
	}
	return fmt.Sprintf("%se%+d", mant, exp)
}
