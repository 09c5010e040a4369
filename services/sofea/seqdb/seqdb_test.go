// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package seqdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
)

func testSpace(t *testing.T) *confspace.MultiStateConfSpace {
	t.Helper()

	complex := confspace.NewConfSpace()
	complex.AddPosition("1", true, "ALA", "GLY")
	complex.AddPosition("2", true, "VAL", "LEU")

	design := confspace.NewConfSpace()
	design.AddPosition("1", true, "ALA", "GLY")
	design.AddPosition("2", true, "VAL", "LEU")

	target := confspace.NewConfSpace()
	target.AddPosition("9", false, "TRP", "TRP")

	space, err := confspace.NewBuilder().
		AddMutableState("complex", complex).
		AddMutableState("design", design).
		AddUnmutableState("target", target).
		Build()
	require.NoError(t, err)
	return space
}

func openMem(t *testing.T, space *confspace.MultiStateConfSpace) *SeqDB {
	t.Helper()
	db, err := Open(space, InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func bounds(lo, hi int64) bigmath.DecimalBounds {
	return bigmath.NewDecimalBounds(d(lo), d(hi))
}

func assertBounds(t *testing.T, want, got bigmath.DecimalBounds) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func TestAddAndCommit(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	complex := space.State("complex")
	design := space.State("design")
	seq := space.SeqSpace.MakeSequence([]int{0, 1})

	tx := db.Transaction()
	assert.True(t, tx.IsEmpty())
	require.NoError(t, tx.AddZ(complex, seq, d(3)))
	require.NoError(t, tx.AddZ(complex, seq, d(4)))
	require.NoError(t, tx.AddZBounds(design, seq, bounds(1, 5)))
	assert.False(t, tx.IsEmpty())

	// nothing is visible before commit
	info, err := db.SequencedSums(ctx, seq)
	require.NoError(t, err)
	assert.True(t, info.IsEmpty())

	require.NoError(t, tx.Commit(ctx))
	assert.True(t, tx.IsEmpty())

	info, err = db.SequencedSums(ctx, seq)
	require.NoError(t, err)
	assertBounds(t, bounds(7, 7), info.Get(complex))
	assertBounds(t, bounds(1, 5), info.Get(design))

	// a second commit accumulates onto the stored value
	require.NoError(t, tx.AddZ(complex, seq, d(1)))
	require.NoError(t, tx.Commit(ctx))
	info, err = db.SequencedSums(ctx, seq)
	require.NoError(t, err)
	assertBounds(t, bounds(8, 8), info.Get(complex))
}

func TestCommitEmptyIsNoop(t *testing.T) {
	db := openMem(t, testSpace(t))
	assert.NoError(t, db.Transaction().Commit(context.Background()))
}

func TestSubZClamps(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	complex := space.State("complex")
	root := space.SeqSpace.MakeUnassignedSequence()

	tx := db.Transaction()
	require.NoError(t, tx.AddZBounds(complex, root, bounds(2, 10)))
	require.NoError(t, tx.Commit(ctx))

	tx = db.Transaction()
	require.NoError(t, tx.SubZ(complex, root, bounds(2, 10)))
	require.NoError(t, tx.Commit(ctx))

	info, err := db.SequencedSums(ctx, root)
	require.NoError(t, err)
	assertBounds(t, bounds(0, 0), info.Get(complex))

	// oversubtracting clamps upper at zero and keeps lower <= upper
	tx = db.Transaction()
	require.NoError(t, tx.SubZ(complex, root, bounds(1, 3)))
	require.NoError(t, tx.Commit(ctx))
	info, err = db.SequencedSums(ctx, root)
	require.NoError(t, err)
	assert.True(t, info.Get(complex).Upper.IsZero())
	assert.True(t, info.Get(complex).Lower.LessThanOrEqual(info.Get(complex).Upper))
}

func TestInvalidInput(t *testing.T) {
	space := testSpace(t)
	db := openMem(t, space)
	complex := space.State("complex")
	seq := space.SeqSpace.MakeSequence([]int{0, 0})

	tx := db.Transaction()
	assert.ErrorIs(t, tx.AddZ(complex, seq, d(-1)), ErrNegative)
	assert.ErrorIs(t, tx.AddZBounds(complex, seq, bounds(-1, 2)), ErrNegative)
	assert.ErrorIs(t, tx.SubZ(complex, seq, bounds(0, -2)), ErrNegative)
	assert.True(t, tx.IsEmpty())

	other := testSpace(t)
	assert.ErrorIs(t, tx.AddZ(other.State("complex"), seq, d(1)), ErrWrongState)

	_, _, err := db.UnsequencedBound(context.Background(), complex)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestSequencedBoundsAddsAncestorUppers(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	complex := space.State("complex")
	ss := space.SeqSpace

	tx := db.Transaction()
	require.NoError(t, tx.AddZBounds(complex, ss.MakeSequence([]int{-1, -1}), bounds(1, 10)))
	require.NoError(t, tx.AddZBounds(complex, ss.MakeSequence([]int{0, -1}), bounds(2, 5)))
	require.NoError(t, tx.AddZBounds(complex, ss.MakeSequence([]int{1, -1}), bounds(3, 100)))
	require.NoError(t, tx.AddZ(complex, ss.MakeSequence([]int{0, 1}), d(2)))
	require.NoError(t, tx.Commit(ctx))

	// own sums plus the uppers of (0,?) and (?,?); never the sibling (1,?)
	info, err := db.SequencedBounds(ctx, ss.MakeSequence([]int{0, 1}))
	require.NoError(t, err)
	assertBounds(t, bounds(2, 17), info.Get(complex))

	// absent full sequences still inherit ancestor uncertainty
	info, err = db.SequencedBounds(ctx, ss.MakeSequence([]int{0, 0}))
	require.NoError(t, err)
	assertBounds(t, bounds(0, 15), info.Get(complex))

	// partial sequences report only their own sums
	info, err = db.SequencedBounds(ctx, ss.MakeSequence([]int{0, -1}))
	require.NoError(t, err)
	assertBounds(t, bounds(2, 5), info.Get(complex))

	sums, err := db.SequencedSums(ctx, ss.MakeSequence([]int{0, 1}))
	require.NoError(t, err)
	assertBounds(t, bounds(2, 2), sums.Get(complex))
}

func TestUnsequenced(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	target := space.State("target")

	_, ok, err := db.UnsequencedBound(ctx, target)
	require.NoError(t, err)
	assert.False(t, ok, "nothing recorded means an unbounded state")

	sum, err := db.UnsequencedSum(ctx, target)
	require.NoError(t, err)
	assert.True(t, sum.IsEmptySum())

	tx := db.Transaction()
	require.NoError(t, tx.AddZBounds(target, nil, bounds(4, 9)))
	require.NoError(t, tx.AddZ(target, nil, d(1)))
	require.NoError(t, tx.Commit(ctx))

	b, ok, err := db.UnsequencedBound(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)
	assertBounds(t, bounds(5, 10), b)
}

func TestForEach(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	complex := space.State("complex")
	ss := space.SeqSpace

	tx := db.Transaction()
	require.NoError(t, tx.AddZBounds(complex, ss.MakeSequence([]int{-1, -1}), bounds(0, 4)))
	for _, seq := range confspace.AllSequences(ss) {
		require.NoError(t, tx.AddZ(complex, seq, d(1)))
	}
	require.NoError(t, tx.Commit(ctx))

	sums := make(map[string]bigmath.DecimalBounds)
	require.NoError(t, db.ForEachSequencedSum(ctx, func(seq *confspace.Sequence, info SeqInfo) error {
		sums[seq.String()] = info.Get(complex)
		return nil
	}))
	assert.Len(t, sums, 5)
	assertBounds(t, bounds(0, 4), sums["1=? 2=?"])
	assertBounds(t, bounds(1, 1), sums["1=GLY 2=LEU"])

	full := 0
	require.NoError(t, db.ForEachSequencedBound(ctx, func(seq *confspace.Sequence, info SeqInfo) error {
		if seq.IsFullyAssigned() {
			full++
			assertBounds(t, bounds(1, 5), info.Get(complex))
		}
		return nil
	}))
	assert.Equal(t, 4, full)

	stop := fmt.Errorf("stop")
	err := db.ForEachSequencedSum(ctx, func(*confspace.Sequence, SeqInfo) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	path := filepath.Join(t.TempDir(), "seq.db")
	complex := space.State("complex")
	seq := space.SeqSpace.MakeSequence([]int{1, 0})

	cfg := DefaultConfig(path)
	cfg.GCInterval = 0
	db, err := Open(space, cfg)
	require.NoError(t, err)
	tx := db.Transaction()
	require.NoError(t, tx.AddZ(complex, seq, d(42)))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, db.Close())

	db, err = Open(space, cfg)
	require.NoError(t, err)
	defer db.Close()
	info, err := db.SequencedSums(ctx, seq)
	require.NoError(t, err)
	assertBounds(t, bounds(42, 42), info.Get(complex))
}

func TestWideKeys(t *testing.T) {
	names := make([]string, 300)
	for i := range names {
		names[i] = fmt.Sprintf("R%03d", i)
	}
	cs := confspace.NewConfSpace()
	cs.AddPosition("1", true, names...)
	cs.AddPosition("2", true, "ALA")
	space, err := confspace.NewBuilder().AddMutableState("s", cs).Build()
	require.NoError(t, err)

	db := openMem(t, space)
	assert.Equal(t, 2, db.keyWidth)

	seq := space.SeqSpace.MakeSequence([]int{299, confspace.Unassigned})
	got, err := db.decodeSeqKey(db.seqKey(seq.RTIndices))
	require.NoError(t, err)
	assert.True(t, seq.Equal(got))

	_, err = db.decodeSeqKey([]byte{prefixSequenced, 1})
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestCorruptedRecord(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	db := openMem(t, space)
	seq := space.SeqSpace.MakeSequence([]int{0, 0})

	require.NoError(t, db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(db.seqKey(seq.RTIndices), []byte{0, 0, 0, 0, 1})
	}))
	_, err := db.SequencedSums(ctx, seq)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestRedoRecordReplaysCommit(t *testing.T) {
	ctx := context.Background()
	space := testSpace(t)
	complex := space.State("complex")
	design := space.State("design")
	target := space.State("target")
	seq := space.SeqSpace.MakeSequence([]int{1, 0})
	partial := space.SeqSpace.MakeSequence([]int{confspace.Unassigned, 1})

	fill := func(tx *Transaction) {
		require.NoError(t, tx.AddZ(complex, seq, d(5)))
		require.NoError(t, tx.AddZBounds(design, partial, bounds(2, 9)))
		require.NoError(t, tx.AddZBounds(target, nil, bounds(3, 4)))
		require.NoError(t, tx.SubZ(target, nil, bounds(1, 1)))
	}

	direct := openMem(t, space)
	tx := direct.Transaction()
	fill(tx)
	require.NoError(t, tx.Commit(ctx))

	replayed := openMem(t, space)
	tx = replayed.Transaction()
	fill(tx)
	record, err := tx.MarshalBinary()
	require.NoError(t, err)
	require.NotEmpty(t, record)

	decoded, err := replayed.DecodeTransaction(record)
	require.NoError(t, err)
	assert.False(t, decoded.IsEmpty())
	require.NoError(t, decoded.CommitBatch(ctx, 3))

	applied, err := replayed.AppliedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), applied)
	applied, err = direct.AppliedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), applied, "plain commits record no batch")

	for _, s := range []*confspace.Sequence{seq, partial} {
		want, err := direct.SequencedSums(ctx, s)
		require.NoError(t, err)
		got, err := replayed.SequencedSums(ctx, s)
		require.NoError(t, err)
		for _, state := range space.SequencedStates {
			assertBounds(t, want.Get(state), got.Get(state))
		}
	}
	want, err := direct.UnsequencedSum(ctx, target)
	require.NoError(t, err)
	got, err := replayed.UnsequencedSum(ctx, target)
	require.NoError(t, err)
	assertBounds(t, bounds(2, 3), want)
	assertBounds(t, want, got)
}

func TestRedoRecordEmpty(t *testing.T) {
	ctx := context.Background()
	db := openMem(t, testSpace(t))

	record, err := db.Transaction().MarshalBinary()
	require.NoError(t, err)
	assert.Nil(t, record)

	tx, err := db.DecodeTransaction(nil)
	require.NoError(t, err)
	assert.True(t, tx.IsEmpty())

	// an empty batch still advances the marker
	require.NoError(t, tx.CommitBatch(ctx, 7))
	applied, err := db.AppliedBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), applied)
}

func TestRedoRecordCorrupted(t *testing.T) {
	space := testSpace(t)
	db := openMem(t, space)
	tx := db.Transaction()
	require.NoError(t, tx.AddZ(space.State("complex"), space.SeqSpace.MakeSequence([]int{0, 1}), d(2)))
	record, err := tx.MarshalBinary()
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated":      record[:len(record)-1],
		"trailing bytes": append(append([]byte(nil), record...), 0),
		"wrong width":    append([]byte{1, 3}, record[2:]...),
		"bad res type":   append([]byte{1, 2, 99}, record[3:]...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := db.DecodeTransaction(data)
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}
