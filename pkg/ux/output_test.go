// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"plain", ModePlain},
		{"MACHINE", ModePlain},
		{"q", ModePlain},
		{"rich", ModeRich},
		{"", ModeRich},
		{"sparkly", ModeRich},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestDetectMode(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	t.Setenv(ModeEnv, "")
	assert.False(t, IsTerminal(f))
	assert.False(t, IsTerminal(nil))
	assert.Equal(t, ModePlain, DetectMode(f), "files are not terminals")

	t.Setenv(ModeEnv, "rich")
	assert.Equal(t, ModeRich, DetectMode(f))
}

func TestPrinterPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	assert.Equal(t, ModePlain, p.Mode())

	p.Title("ignored")
	p.Success("done")
	p.Warning("careful")
	p.Info("fyi")
	p.KV([2]string{"run", "abc"}, [2]string{"sweeps", "3"})
	p.Box("title", "body")
	p.Table([]string{"seq", "z"}, [][]string{{"A=ALA", "1"}, {"A=GLY", "2"}})

	want := strings.Join([]string{
		"OK: done",
		"WARN: careful",
		"fyi",
		"run\tabc",
		"sweeps\t3",
		"title: body",
		"seq\tz",
		"A=ALA\t1",
		"A=GLY\t2",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
	assert.Equal(t, "3/4", p.ProgressBar(3, 4, 10))
}

func TestPrinterRichTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)
	p.Table([]string{"sequence", "z"}, [][]string{{"A=ALA", "1"}, {"A=GLY", "22"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "sequence")
	assert.Contains(t, lines[1], "A=ALA")
	assert.Contains(t, lines[2], "22")
}

func TestPrinterRichMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)
	p.Title("Results")
	p.Success("done")
	p.KV([2]string{"run", "abc"})

	out := buf.String()
	assert.Contains(t, out, "Results")
	assert.Contains(t, out, string(IconSuccess))
	assert.Contains(t, out, "abc")
	assert.Contains(t, p.ProgressBar(1, 2, 10), "50%")
	assert.Contains(t, p.ProgressBar(0, 0, 10), "0%")
}

func TestIconRender(t *testing.T) {
	for _, i := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconArrow} {
		assert.Contains(t, i.Render(), string(i))
	}
}
