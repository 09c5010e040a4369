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
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestContextRound(t *testing.T) {
	ctx := NewContext(3)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"integer", "12345", "12300"},
		{"half away from zero", "12350", "12400"},
		{"fraction", "0.0012345", "0.00123"},
		{"already fits", "1.2", "1.2"},
		{"zero", "0", "0"},
		{"negative", "-98765", "-98800"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ctx.Round(dec(t, tt.in))
			assert.True(t, got.Equal(dec(t, tt.want)), "got %s", got)
		})
	}
}

func TestContextUnlimited(t *testing.T) {
	ctx := NewContext(0)
	d := dec(t, "1.234567890123456789012345678901234567890")
	assert.True(t, ctx.Round(d).Equal(d))
}

func TestMathChain(t *testing.T) {
	ctx := NewContext(DefaultPrecision)

	got := ctx.SetFloat(2).Mul(decimal.NewFromInt(3)).Add(One).Sub(decimal.NewFromInt(2)).Get()
	assert.True(t, got.Equal(decimal.NewFromInt(5)))

	clamped := ctx.Set(decimal.NewFromInt(-1)).AtLeast(Zero).Get()
	assert.True(t, clamped.IsZero())

	capped := ctx.Set(decimal.NewFromInt(10)).AtMost(decimal.NewFromInt(4)).Get()
	assert.True(t, capped.Equal(decimal.NewFromInt(4)))
}

func TestContextDiv(t *testing.T) {
	t.Run("repeating fraction", func(t *testing.T) {
		got := NewContext(5).Div(One, decimal.NewFromInt(3))
		assert.True(t, got.Equal(dec(t, "0.33333")), "got %s", got)
	})

	t.Run("huge magnitudes", func(t *testing.T) {
		a := decimal.New(6, 400)
		b := decimal.New(3, -400)
		got := NewContext(10).Div(a, b)
		assert.True(t, got.Equal(decimal.New(2, 800)), "got %s", got)
	})

	t.Run("zero numerator", func(t *testing.T) {
		assert.True(t, NewContext(5).Div(Zero, One).IsZero())
	})

	t.Run("zero divisor uses placeholder", func(t *testing.T) {
		ctx := NewContext(DefaultPrecision)
		got := ctx.Div(One, Zero)
		assert.True(t, got.Equal(decimal.New(1, 4*DefaultPrecision)), "got %s", got)
		assert.True(t, ctx.TinyPlaceholder().Equal(decimal.New(1, -4*DefaultPrecision)))
	})
}

func TestCompareHelpers(t *testing.T) {
	a := decimal.NewFromInt(1)
	b := decimal.NewFromInt(2)

	assert.True(t, IsLessThan(a, b))
	assert.False(t, IsLessThan(b, a))
	assert.True(t, IsGreaterThan(b, a))
	assert.True(t, Max(a, b).Equal(b))
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, IsZero(Zero))
	assert.Equal(t, 5, NumDigits(dec(t, "-12.345")))
}

func TestOptimizer(t *testing.T) {
	vals := []decimal.Decimal{decimal.NewFromInt(3), decimal.NewFromInt(1), decimal.NewFromInt(7)}

	minOpt := Minimize.Start()
	maxOpt := Maximize.Start()
	_, ok := minOpt.Value()
	assert.False(t, ok)

	for _, v := range vals {
		minOpt.Offer(v)
		maxOpt.Offer(v)
	}
	got, ok := minOpt.Value()
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(1)))
	got, ok = maxOpt.Value()
	require.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(7)))

	assert.Equal(t, "minimize", Minimize.String())
	assert.Equal(t, "maximize", Maximize.String())
}

func TestDecimalCodec(t *testing.T) {
	b := NewDecimalBounds(dec(t, "1.5e-300"), dec(t, "42.125e120"))

	buf, err := AppendBounds([]byte{0xAB}, b)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf[0])

	got, rest, err := ReadBounds(buf[1:])
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, got.Equal(b), "got %s", got)

	_, _, err = ReadDecimal(buf[1:3])
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecimalBounds(t *testing.T) {
	b := NewDecimalBounds(decimal.NewFromInt(2), decimal.NewFromInt(8))

	assert.True(t, b.IsValid())
	assert.False(t, b.IsEmptySum())
	assert.True(t, b.Contains(decimal.NewFromInt(5)))
	assert.False(t, b.Contains(decimal.NewFromInt(9)))
	assert.True(t, b.Gap().Equal(decimal.NewFromInt(6)))
	assert.InDelta(t, 0.75, b.RelativeGap(), 1e-12)
	assert.True(t, EmptySum().IsEmptySum())
	assert.Zero(t, EmptySum().RelativeGap())
	assert.Equal(t, "[2e+0,8e+0]", b.String())

	ib := NewIntBounds(3, 3)
	assert.True(t, ib.IsExact())
	assert.Equal(t, "[3,3]", ib.String())
}

func TestFormatSci(t *testing.T) {
	assert.Equal(t, "0", FormatSci(Zero))
	assert.Equal(t, "1.2345e+4", FormatSci(dec(t, "12345")))
	assert.Equal(t, "1e-3", FormatSci(dec(t, "0.001")))
	assert.Equal(t, "-1.23457e+2", FormatSci(dec(t, "-123.4567")))
	assert.Equal(t, "8e+0", FormatSci(dec(t, "8.000")))
	assert.Equal(t, "1.5e+3", FormatSci(dec(t, "1500")))
}

func TestBoltzmann(t *testing.T) {
	bc := NewBoltzmannCalculator(0, NewContext(DefaultPrecision))
	assert.InDelta(t, DefaultRT, bc.RT, 1e-12)

	t.Run("weight of zero energy is one", func(t *testing.T) {
		assert.True(t, bc.Weight(0).Equal(One))
	})

	t.Run("weight matches exp", func(t *testing.T) {
		w := Float64(bc.Weight(-1.5))
		assert.InEpsilon(t, math.Exp(1.5/bc.RT), w, 1e-9)
	})

	t.Run("weight below float range", func(t *testing.T) {
		w := bc.Weight(1000)
		assert.True(t, w.Sign() > 0)
		assert.InEpsilon(t, -1000/bc.RT, Ln(w), 1e-9)
	})

	t.Run("free energy", func(t *testing.T) {
		assert.InDelta(t, 0, bc.FreeEnergy(One), 1e-12)
		assert.True(t, math.IsInf(bc.FreeEnergy(Zero), 1))
		assert.InDelta(t, -bc.RT*1000*math.Ln10, bc.FreeEnergy(decimal.New(1, 1000)), 1e-6)
	})

	t.Run("bounds swap ends", func(t *testing.T) {
		g := bc.FreeEnergyBounds(NewDecimalBounds(Zero, decimal.NewFromInt(10)))
		assert.InDelta(t, -bc.RT*math.Log(10), g.Lower, 1e-12)
		assert.True(t, math.IsInf(g.Upper, 1))
		assert.True(t, math.IsInf(g.Size(), 1))
	})
}
