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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrShortBuffer is returned when a record ends before a value is complete.
var ErrShortBuffer = errors.New("bigmath: short buffer")

// AppendDecimal appends a length-prefixed binary encoding of d to buf.
//
// Layout: uvarint(n) followed by n bytes of decimal.MarshalBinary output.
func AppendDecimal(buf []byte, d decimal.Decimal) ([]byte, error) {
	data, err := d.MarshalBinary()
	if err != nil {
		return buf, fmt.Errorf("marshal decimal: %w", err)
	}
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...), nil
}

// ReadDecimal decodes a value written by AppendDecimal.
//
// Outputs:
//
//	decimal.Decimal - The decoded value.
//	[]byte - The remaining bytes after the value.
//	error - Non-nil if the buffer is truncated or malformed.
func ReadDecimal(buf []byte) (decimal.Decimal, []byte, error) {
	n, k := binary.Uvarint(buf)
	if k <= 0 || uint64(len(buf)-k) < n {
		return decimal.Zero, buf, ErrShortBuffer
	}
	buf = buf[k:]
	var d decimal.Decimal
	if err := d.UnmarshalBinary(buf[:n]); err != nil {
		return decimal.Zero, buf, fmt.Errorf("unmarshal decimal: %w", err)
	}
	return d, buf[n:], nil
}

// AppendBounds appends both ends of b.
func AppendBounds(buf []byte, b DecimalBounds) ([]byte, error) {
	buf, err := AppendDecimal(buf, b.Lower)
	if err != nil {
		return buf, err
	}
	return AppendDecimal(buf, b.Upper)
}

// ReadBounds decodes a value written by AppendBounds.
func ReadBounds(buf []byte) (DecimalBounds, []byte, error) {
	lower, buf, err := ReadDecimal(buf)
	if err != nil {
		return DecimalBounds{}, buf, err
	}
	upper, buf, err := ReadDecimal(buf)
	if err != nil {
		return DecimalBounds{}, buf, err
	}
	return DecimalBounds{Lower: lower, Upper: upper}, buf, nil
}
