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

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/fringedb"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
)

// errShortCircuit stops store iteration early.
var errShortCircuit = errors.New("short circuit")

// Criterion decides when refinement stops. It is checked before every
// sweep, with the number of sweeps this Refine call has completed.
type Criterion interface {
	IsFinished(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, sweepCount int64) (bool, error)
}

// CriterionFunc adapts a function to Criterion.
type CriterionFunc func(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, sweepCount int64) (bool, error)

// IsFinished calls f.
func (f CriterionFunc) IsFinished(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, sweepCount int64) (bool, error) {
	return f(ctx, sdb, fdb, sweepCount)
}

// MaxSweeps stops after n sweeps.
func MaxSweeps(n int64) Criterion {
	return CriterionFunc(func(_ context.Context, _ *seqdb.SeqDB, _ *fringedb.FringeDB, sweepCount int64) (bool, error) {
		return sweepCount >= n, nil
	})
}

// Timeout stops at the first check at least d after the first check.
func Timeout(d time.Duration) Criterion {
	var (
		once  sync.Once
		start time.Time
	)
	return CriterionFunc(func(context.Context, *seqdb.SeqDB, *fringedb.FringeDB, int64) (bool, error) {
		once.Do(func() { start = time.Now() })
		return time.Since(start) >= d, nil
	})
}

// Any stops when any of criteria does.
func Any(criteria ...Criterion) Criterion {
	return CriterionFunc(func(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, sweepCount int64) (bool, error) {
		for _, c := range criteria {
			done, err := c.IsFinished(ctx, sdb, fdb, sweepCount)
			if err != nil || done {
				return done, err
			}
		}
		return false, nil
	})
}

// All stops when every one of criteria does. Every criterion is evaluated
// at each check.
func All(criteria ...Criterion) Criterion {
	return CriterionFunc(func(ctx context.Context, sdb *seqdb.SeqDB, fdb *fringedb.FringeDB, sweepCount int64) (bool, error) {
		all := true
		for _, c := range criteria {
			done, err := c.IsFinished(ctx, sdb, fdb, sweepCount)
			if err != nil {
				return false, err
			}
			all = all && done
		}
		return all, nil
	})
}

// Precision stops once every full sequence and every unsequenced state has
// a relative gap (upper-lower)/upper of at most eps.
//
// Description:
//
//	Full sequences with no ledger entry of their own are bounded only by
//	their ancestors, with a lower bound of zero. While any exist and any
//	partial entry still carries weight, the criterion is not met unless
//	eps >= 1.
func Precision(eps float64) Criterion {
	return CriterionFunc(func(ctx context.Context, sdb *seqdb.SeqDB, _ *fringedb.FringeDB, _ int64) (bool, error) {
		space := sdb.ConfSpace()
		ok, err := unsequencedPrecise(ctx, sdb, space, eps)
		if err != nil || !ok {
			return false, err
		}
		if len(space.SequencedStates) == 0 {
			return true, nil
		}

		var (
			numFull     int
			partialMass bool
		)
		err = sdb.ForEachSequencedBound(ctx, func(seq *confspace.Sequence, info seqdb.SeqInfo) error {
			if !seq.IsFullyAssigned() {
				for _, z := range info.Z {
					if z.Upper.Sign() > 0 {
						partialMass = true
					}
				}
				return nil
			}
			numFull++
			for _, z := range info.Z {
				if z.RelativeGap() > eps {
					return errShortCircuit
				}
			}
			return nil
		})
		if errors.Is(err, errShortCircuit) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if numFull < space.SeqSpace.NumSequences() && partialMass && eps < 1 {
			return false, nil
		}
		return true, nil
	})
}

// SequencePrecision stops once seq, and every unsequenced state, has a
// relative gap of at most eps.
func SequencePrecision(seq *confspace.Sequence, eps float64) Criterion {
	return CriterionFunc(func(ctx context.Context, sdb *seqdb.SeqDB, _ *fringedb.FringeDB, _ int64) (bool, error) {
		ok, err := unsequencedPrecise(ctx, sdb, sdb.ConfSpace(), eps)
		if err != nil || !ok {
			return false, err
		}
		info, err := sdb.SequencedBounds(ctx, seq)
		if err != nil {
			return false, err
		}
		for _, z := range info.Z {
			if z.RelativeGap() > eps {
				return false, nil
			}
		}
		return true, nil
	})
}

func unsequencedPrecise(ctx context.Context, sdb *seqdb.SeqDB, space *confspace.MultiStateConfSpace, eps float64) (bool, error) {
	for _, state := range space.UnsequencedStates {
		b, ok, err := sdb.UnsequencedBound(ctx, state)
		if err != nil {
			return false, err
		}
		if !ok || b.RelativeGap() > eps {
			return false, nil
		}
	}
	return true, nil
}
