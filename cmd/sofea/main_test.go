// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/services/sofea"
)

const testDesign = `
name: demo
states:
  - name: complex
    mutable: true
    positions:
      - res_num: "1"
        mutable: true
        rcs: [ALA, GLY]
      - res_num: "2"
        rcs: [VAL, VAL]
    factor: "2"
    singles:
      - {pos: "1", rc: 1, weight: "0.5"}
    pairs:
      - {pos1: "1", rc1: 0, pos2: "2", rc2: 0, weight: "3"}
  - name: target
    positions:
      - res_num: X
        rcs: [TRP]
      - res_num: "Y"
        rcs: [PHE, PHE]
    pairs:
      - {pos1: X, rc1: 0, pos2: "Y", rc2: 1, weight: "4"}
run:
  fringedb_nodes: 100
  sweep_divisor: 4
  sync_writes: false
`

// =============================================================================
// Test Helpers
// =============================================================================

func writeDesign(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDesign), 0o600))
	return path
}

// run executes one command line and returns stdout.
func run(t *testing.T, design string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	args = append(args, "-c", design, "--trace-exporter", "none", "--metrics-exporter", "none", "--output", "plain")
	err := execute(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func zEquals(t *testing.T, want int64, got sofea.StateResult) {
	t.Helper()
	w := decimal.NewFromInt(want)
	assert.True(t, got.Z.Lower.Equal(w) && got.Z.Upper.Equal(w),
		"%s: want [%d,%d], got %s", got.State, want, want, got.Z)
}

// =============================================================================
// Command Tests
// =============================================================================

func TestInitRefineReport(t *testing.T) {
	design := writeDesign(t)
	dir := filepath.Dir(design)

	out, err := run(t, design, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: initialized demo")
	assert.Contains(t, out, filepath.Join(dir, "demo.seq.db"))
	assert.DirExists(t, filepath.Join(dir, "demo.fringe.db"))

	_, err = run(t, design, "init")
	assert.ErrorIs(t, err, sofea.ErrResultsExist)

	_, err = run(t, design, "init", "--overwrite")
	require.NoError(t, err)

	out, err = run(t, design, "refine")
	require.NoError(t, err)
	assert.Contains(t, out, "refine finished: exhausted")

	out, err = run(t, design, "report", "--json")
	require.NoError(t, err)

	var rep reportJSON
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "demo", rep.Design)
	assert.NotEmpty(t, rep.RunID)
	assert.Positive(t, rep.Sweeps)
	assert.Zero(t, rep.FringeNodes)

	require.Len(t, rep.Unsequenced, 1)
	zEquals(t, 5, rep.Unsequenced[0])

	require.Len(t, rep.Sequences, 2)
	want := map[string]int64{"1=ALA": 8, "1=GLY": 2}
	for _, seq := range rep.Sequences {
		assert.True(t, seq.Full)
		require.Len(t, seq.States, 1)
		zEquals(t, want[seq.Text], seq.States[0])
	}

	out, err = run(t, design, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "sequence\tstate\tz lower")
	assert.Contains(t, out, "1=ALA\tcomplex\t8e+0\t8e+0")
	assert.Contains(t, out, "(unsequenced)\ttarget")
}

func TestRefineCriteria(t *testing.T) {
	design := writeDesign(t)
	_, err := run(t, design, "init")
	require.NoError(t, err)

	out, err := run(t, design, "refine", "--max-sweeps", "1", "--timeout", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "refine finished: criterion")
	assert.Contains(t, out, "sweeps\t1")

	out, err = run(t, design, "refine", "--precision", "0", "--listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "refine finished")

	_, err = run(t, design, "refine", "--precision", "-1")
	assert.ErrorContains(t, err, "precision")
}

func TestRefineBeforeInit(t *testing.T) {
	design := writeDesign(t)
	_, err := run(t, design, "refine")
	assert.Error(t, err)
}

func TestCalcZ(t *testing.T) {
	design := writeDesign(t)

	out, err := run(t, design, "calcz", "--state", "complex", "--seq", "1=ALA")
	require.NoError(t, err)
	assert.Contains(t, out, "z\t8\n")

	out, err = run(t, design, "calcz", "--state", "target")
	require.NoError(t, err)
	assert.Contains(t, out, "z\t5\n")

	_, err = run(t, design, "calcz", "--state", "nope")
	assert.ErrorContains(t, err, "unknown state")

	_, err = run(t, design, "calcz", "--state", "complex", "--seq", "1=TRP")
	assert.Error(t, err)

	_, err = run(t, design, "calcz")
	assert.ErrorContains(t, err, "state")
}

func TestBadFlags(t *testing.T) {
	design := writeDesign(t)

	_, err := run(t, design, "init", "--log-level", "loud")
	assert.Error(t, err)

	_, err = run(t, filepath.Join(t.TempDir(), "missing.yaml"), "init")
	assert.Error(t, err)
}

func TestRefineOptionsCriterion(t *testing.T) {
	assert.Nil(t, refineOptions{}.criterion(false))

	single := refineOptions{maxSweeps: 2}.criterion(false)
	require.NotNil(t, single)

	combined := refineOptions{maxSweeps: 2, timeout: time.Hour}.criterion(true)
	require.NotNil(t, combined)
}
