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
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how output is rendered.
type Mode string

const (
	// ModeRich enables colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain outputs tab-separated text suitable for scripting.
	ModePlain Mode = "plain"
)

// ModeEnv overrides terminal detection.
const ModeEnv = "SOFEA_OUTPUT"

// ParseMode converts a string to a Mode. Unknown names select ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "plain", "machine", "quiet", "q":
		return ModePlain
	default:
		return ModeRich
	}
}

// DetectMode returns the mode for f: ModeEnv if set, otherwise ModeRich on
// a terminal and ModePlain anywhere else.
func DetectMode(f *os.File) Mode {
	if env := os.Getenv(ModeEnv); env != "" {
		return ParseMode(env)
	}
	if IsTerminal(f) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether f is a terminal, including Cygwin ptys.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
