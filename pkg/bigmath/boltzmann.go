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
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Boltzmann constant in kcal/(mol*K) and the default temperature in K.
const (
	BoltzmannConstant  = 1.9891e-3
	DefaultTemperature = 298.15
)

// DefaultRT is RT at the default temperature, in kcal/mol.
const DefaultRT = BoltzmannConstant * DefaultTemperature

// mantissaDigits is the number of coefficient digits kept when converting
// a decimal to a float for logarithms.
const mantissaDigits = 17

// BoltzmannCalculator converts between energies and Boltzmann weights.
//
// Thread Safety: immutable after construction, safe for concurrent use.
type BoltzmannCalculator struct {
	RT  float64
	ctx Context
}

// NewBoltzmannCalculator returns a calculator at the given temperature.
//
// A temperature <= 0 selects DefaultTemperature.
func NewBoltzmannCalculator(temperature float64, ctx Context) BoltzmannCalculator {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return BoltzmannCalculator{RT: BoltzmannConstant * temperature, ctx: ctx}
}

// Weight returns exp(-energy/RT) as a decimal.
//
// Description:
//
//	The exponent is split into a power of ten and a float mantissa so
//	weights far outside the float64 range are still representable.
func (b BoltzmannCalculator) Weight(energy float64) decimal.Decimal {
	if math.IsInf(energy, 1) {
		return Zero
	}
	log10w := -energy / (b.RT * math.Ln10)
	k := math.Floor(log10w)
	mant := math.Pow(10, log10w-k)
	return b.ctx.Round(decimal.NewFromFloat(mant).Shift(int32(k)))
}

// FreeEnergy returns G = -RT ln z. Zero maps to +Inf.
func (b BoltzmannCalculator) FreeEnergy(z decimal.Decimal) float64 {
	if z.Sign() <= 0 {
		return math.Inf(1)
	}
	return -b.RT * Ln(z)
}

// FreeEnergyBounds maps Z bounds to G bounds. The upper Z gives the lower G.
func (b BoltzmannCalculator) FreeEnergyBounds(zb DecimalBounds) FloatBounds {
	return FloatBounds{
		Lower: b.FreeEnergy(zb.Upper),
		Upper: b.FreeEnergy(zb.Lower),
	}
}

// Ln returns the natural logarithm of a positive decimal.
//
// Only the leading mantissaDigits digits of the coefficient are used,
// which is well beyond float64 precision.
func Ln(d decimal.Decimal) float64 {
	if d.Sign() <= 0 {
		return math.NaN()
	}
	digits := d.Coefficient().String()
	shift := len(digits) - mantissaDigits
	if shift < 0 {
		shift = 0
	}
	mant, err := strconv.ParseFloat(digits[:len(digits)-shift], 64)
	if err != nil {
		return math.NaN()
	}
	exp10 := float64(int(d.Exponent()) + shift)
	return math.Log(mant) + exp10*math.Ln10
}
