// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sofea

import "errors"

var (
	// ErrTooFewPositions is returned for states with fewer than two
	// positions; single-position tuples are folded into pairs.
	ErrTooFewPositions = errors.New("state needs at least two positions")

	// ErrStateNotConfigured is returned when a state has no tuple oracle.
	ErrStateNotConfigured = errors.New("state is not configured")

	// ErrResultsExist is returned by Init when store files exist and
	// overwrite was not requested.
	ErrResultsExist = errors.New("result stores already exist")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("invalid sofea configuration")
)
