// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package seqdb is the persistent per-sequence ledger of partition function
// bounds.
//
// # Model
//
// For every sequence key (full or partial) the ledger stores one Z bracket
// per sequenced state. Each bracket is the sum of everything the sweep has
// attributed to exactly that sequence: exact leaf values for full
// sequences and bounds on still-unexplored subtrees for partial ones.
// Unsequenced states have one bracket each, keyed by state.
//
// A full sequence's effective bound (SequencedBounds) adds the upper bound
// of every ancestor partial sequence, built by resetting trailing positions
// to unassigned one at a time. Ancestor lower bounds are never added: an
// unexplored subtree need not contain any conformation of this sequence.
//
// # Storage
//
//	s + (rt+1 per position, 1 or 2 bytes)  -> Frame(uvarint n, n bounds)
//	u + uint32 unsequenced state index     -> Frame(bounds)
//
// # Thread Safety
//
// SeqDB reads are safe for concurrent use. A Transaction is not.
package seqdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/pkg/logging"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	storage "github.com/minghao2016/OSPREY3/services/sofea/storage/badger"
)

var (
	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = errors.New("seqdb: corrupted record")

	// ErrNegative is returned when a Z delta is negative.
	ErrNegative = errors.New("seqdb: Z must be non-negative")

	// ErrWrongState is returned when a state does not belong to the space.
	ErrWrongState = errors.New("seqdb: state does not belong to this conf space")
)

const (
	prefixSequenced   = 's'
	prefixUnsequenced = 'u'
)

// batchKey holds the number of the last fringe commit batch applied.
var batchKey = []byte("b")

// Config configures a SeqDB.
type Config struct {
	// Path is the badger directory. Ignored when InMemory.
	Path string

	// InMemory keeps the ledger in RAM only.
	InMemory bool

	// Precision is the significant-digit precision of ledger sums.
	Precision int

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is the value log GC interval. 0 disables GC.
	GCInterval time.Duration

	// Logger is the logger; nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a durable file-backed configuration at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		Precision:  bigmath.LedgerPrecision,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns an in-memory configuration.
func InMemoryConfig() Config {
	return Config{InMemory: true, Precision: bigmath.LedgerPrecision}
}

// SeqInfo holds one Z bracket per sequenced state.
type SeqInfo struct {
	Z []bigmath.DecimalBounds
}

func emptySeqInfo(n int) SeqInfo {
	info := SeqInfo{Z: make([]bigmath.DecimalBounds, n)}
	for i := range info.Z {
		info.Z[i] = bigmath.EmptySum()
	}
	return info
}

// Get returns the bracket of a sequenced state.
func (s SeqInfo) Get(state *confspace.State) bigmath.DecimalBounds {
	return s.Z[state.SequencedIndex]
}

// IsEmpty reports whether every bracket is [0, 0].
func (s SeqInfo) IsEmpty() bool {
	for _, z := range s.Z {
		if !z.IsEmptySum() {
			return false
		}
	}
	return true
}

// String formats the brackets.
func (s SeqInfo) String() string {
	return fmt.Sprint(s.Z)
}

// SeqDB is the sequence ledger.
type SeqDB struct {
	space    *confspace.MultiStateConfSpace
	db       *storage.DB
	math     bigmath.Context
	logger   *slog.Logger
	keyWidth int
}

// Open opens or creates a ledger for space.
//
// Inputs:
//
//	space - The multi-state conf space; its sequence space fixes the key width.
//	cfg - Store configuration.
//
// Outputs:
//
//	*SeqDB - The ledger. Call Close when done.
//	error - Non-nil if the store cannot be opened.
func Open(space *confspace.MultiStateConfSpace, cfg Config) (*SeqDB, error) {
	logger := logging.OrDefault(cfg.Logger).With(slog.String("component", "seqdb"))

	if cfg.Precision <= 0 {
		cfg.Precision = bigmath.LedgerPrecision
	}

	db, err := storage.OpenDB(storage.Config{
		Path:           cfg.Path,
		InMemory:       cfg.InMemory,
		SyncWrites:     cfg.SyncWrites,
		Logger:         cfg.Logger,
		GCInterval:     cfg.GCInterval,
		GCDiscardRatio: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("open seqdb: %w", err)
	}

	keyWidth := 1
	if space.SeqSpace.MaxResTypeIndex()+1 > 0xFF {
		keyWidth = 2
	}

	logger.Debug("seqdb opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Int("precision", cfg.Precision),
		slog.Int("key_width", keyWidth))

	return &SeqDB{
		space:    space,
		db:       db,
		math:     bigmath.NewContext(cfg.Precision),
		logger:   logger,
		keyWidth: keyWidth,
	}, nil
}

// Close closes the underlying store.
func (s *SeqDB) Close() error {
	return s.db.Close()
}

// ConfSpace returns the conf space the ledger was opened with.
func (s *SeqDB) ConfSpace() *confspace.MultiStateConfSpace {
	return s.space
}

// -----------------------------------------------------------------------------
// Keys and values
// -----------------------------------------------------------------------------

func (s *SeqDB) seqKey(rts []int) []byte {
	key := make([]byte, 1, 1+s.keyWidth*len(rts))
	key[0] = prefixSequenced
	for _, rt := range rts {
		if s.keyWidth == 1 {
			key = append(key, byte(rt+1))
		} else {
			key = binary.BigEndian.AppendUint16(key, uint16(rt+1))
		}
	}
	return key
}

func (s *SeqDB) decodeSeqKey(key []byte) (*confspace.Sequence, error) {
	n := s.space.SeqSpace.NumPositions()
	if len(key) != 1+s.keyWidth*n {
		return nil, fmt.Errorf("%w: key length %d", ErrCorrupted, len(key))
	}
	rts := make([]int, n)
	for i := range rts {
		if s.keyWidth == 1 {
			rts[i] = int(key[1+i]) - 1
		} else {
			rts[i] = int(binary.BigEndian.Uint16(key[1+2*i:])) - 1
		}
	}
	return s.space.SeqSpace.MakeSequence(rts), nil
}

func unseqKey(index int) []byte {
	key := make([]byte, 5)
	key[0] = prefixUnsequenced
	binary.BigEndian.PutUint32(key[1:], uint32(index))
	return key
}

func encodeSeqInfo(info SeqInfo) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(len(info.Z)))
	var err error
	for _, z := range info.Z {
		if buf, err = bigmath.AppendBounds(buf, z); err != nil {
			return nil, err
		}
	}
	return storage.Frame(buf), nil
}

func decodeSeqInfo(data []byte, want int) (SeqInfo, error) {
	payload, err := storage.Unframe(data)
	if err != nil {
		return SeqInfo{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	n, k := binary.Uvarint(payload)
	if k <= 0 || int(n) != want {
		return SeqInfo{}, fmt.Errorf("%w: expected %d bounds", ErrCorrupted, want)
	}
	payload = payload[k:]
	info := SeqInfo{Z: make([]bigmath.DecimalBounds, n)}
	for i := range info.Z {
		if info.Z[i], payload, err = bigmath.ReadBounds(payload); err != nil {
			return SeqInfo{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}
	return info, nil
}

func encodeBounds(b bigmath.DecimalBounds) ([]byte, error) {
	buf, err := bigmath.AppendBounds(nil, b)
	if err != nil {
		return nil, err
	}
	return storage.Frame(buf), nil
}

func decodeBounds(data []byte) (bigmath.DecimalBounds, error) {
	payload, err := storage.Unframe(data)
	if err != nil {
		return bigmath.DecimalBounds{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	b, _, err := bigmath.ReadBounds(payload)
	if err != nil {
		return bigmath.DecimalBounds{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return b, nil
}

// getSeqInfo reads a sequenced entry; ok is false if it is absent.
func (s *SeqDB) getSeqInfo(txn *badger.Txn, rts []int) (SeqInfo, bool, error) {
	item, err := txn.Get(s.seqKey(rts))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return SeqInfo{}, false, nil
	}
	if err != nil {
		return SeqInfo{}, false, err
	}
	var info SeqInfo
	err = item.Value(func(val []byte) error {
		info, err = decodeSeqInfo(val, len(s.space.SequencedStates))
		return err
	})
	return info, err == nil, err
}

func (s *SeqDB) getUnseq(txn *badger.Txn, index int) (bigmath.DecimalBounds, bool, error) {
	item, err := txn.Get(unseqKey(index))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return bigmath.DecimalBounds{}, false, nil
	}
	if err != nil {
		return bigmath.DecimalBounds{}, false, err
	}
	var b bigmath.DecimalBounds
	err = item.Value(func(val []byte) error {
		b, err = decodeBounds(val)
		return err
	})
	return b, err == nil, err
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// SequencedSums returns the accumulated brackets stored for exactly seq,
// without ancestor uncertainty. Absent entries read as empty sums.
func (s *SeqDB) SequencedSums(ctx context.Context, seq *confspace.Sequence) (SeqInfo, error) {
	var info SeqInfo
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		got, ok, err := s.getSeqInfo(txn, seq.RTIndices)
		if err != nil {
			return err
		}
		if !ok {
			got = emptySeqInfo(len(s.space.SequencedStates))
		}
		info = got
		return nil
	})
	return info, err
}

// SequencedBounds returns the effective brackets of seq.
//
// Description:
//
//	For a full sequence, adds the upper bound of each ancestor partial
//	sequence to the stored sums. Partial sequences return their stored
//	sums, which only describe still-unexplored subtrees.
func (s *SeqDB) SequencedBounds(ctx context.Context, seq *confspace.Sequence) (SeqInfo, error) {
	var info SeqInfo
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		got, ok, err := s.getSeqInfo(txn, seq.RTIndices)
		if err != nil {
			return err
		}
		if !ok {
			got = emptySeqInfo(len(s.space.SequencedStates))
		}
		if seq.IsFullyAssigned() {
			if err := s.addAncestry(txn, seq.RTIndices, got); err != nil {
				return err
			}
		}
		info = got
		return nil
	})
	return info, err
}

// addAncestry adds ancestor upper bounds into info in place.
func (s *SeqDB) addAncestry(txn *badger.Txn, rts []int, info SeqInfo) error {
	anc := append([]int(nil), rts...)
	for i := len(anc) - 1; i >= 0; i-- {
		anc[i] = confspace.Unassigned
		parent, ok, err := s.getSeqInfo(txn, anc)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for j := range info.Z {
			info.Z[j].Upper = s.math.Add(info.Z[j].Upper, parent.Z[j].Upper)
		}
	}
	return nil
}

// UnsequencedSum returns the accumulated bracket of an unsequenced state,
// or [0, 0] if nothing was recorded.
func (s *SeqDB) UnsequencedSum(ctx context.Context, state *confspace.State) (bigmath.DecimalBounds, error) {
	b, ok, err := s.UnsequencedBound(ctx, state)
	if err != nil || ok {
		return b, err
	}
	return bigmath.EmptySum(), nil
}

// UnsequencedBound returns the current bracket of an unsequenced state.
//
// Outputs:
//
//	bigmath.DecimalBounds - The bracket, when ok.
//	bool - false if nothing was ever recorded, meaning the bound is [0, +Inf).
//	error - Non-nil on store errors.
func (s *SeqDB) UnsequencedBound(ctx context.Context, state *confspace.State) (bigmath.DecimalBounds, bool, error) {
	if state.IsSequenced {
		return bigmath.DecimalBounds{}, false, fmt.Errorf("%w: %s is sequenced", ErrWrongState, state.Name)
	}
	var (
		b  bigmath.DecimalBounds
		ok bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		b, ok, err = s.getUnseq(txn, state.UnsequencedIndex)
		return err
	})
	return b, ok, err
}

// ForEachSequencedSum calls fn with every stored entry's own sums.
func (s *SeqDB) ForEachSequencedSum(ctx context.Context, fn func(seq *confspace.Sequence, info SeqInfo) error) error {
	return s.forEach(ctx, false, fn)
}

// ForEachSequencedBound calls fn with every stored entry's effective bounds.
// Full sequences include ancestor upper bounds.
func (s *SeqDB) ForEachSequencedBound(ctx context.Context, fn func(seq *confspace.Sequence, info SeqInfo) error) error {
	return s.forEach(ctx, true, fn)
}

func (s *SeqDB) forEach(ctx context.Context, ancestry bool, fn func(*confspace.Sequence, SeqInfo) error) error {
	return s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixSequenced}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, err := s.decodeSeqKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			var info SeqInfo
			if err := item.Value(func(val []byte) error {
				info, err = decodeSeqInfo(val, len(s.space.SequencedStates))
				return err
			}); err != nil {
				return err
			}
			if ancestry && seq.IsFullyAssigned() {
				if err := s.addAncestry(txn, seq.RTIndices, info); err != nil {
					return err
				}
			}
			if err := fn(seq, info); err != nil {
				return err
			}
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// Transaction
// -----------------------------------------------------------------------------

type txSeq struct {
	rts  []int
	info SeqInfo
}

// Transaction buffers additive ledger updates until Commit.
//
// Updates are summed in memory per key; Commit combines each buffered sum
// with the stored value and writes everything in one badger transaction.
type Transaction struct {
	db      *SeqDB
	seqs    map[string]*txSeq
	unseqs  map[int]bigmath.DecimalBounds
	isEmpty bool
}

// Transaction starts a new, empty transaction.
func (s *SeqDB) Transaction() *Transaction {
	return &Transaction{
		db:      s,
		seqs:    make(map[string]*txSeq),
		unseqs:  make(map[int]bigmath.DecimalBounds),
		isEmpty: true,
	}
}

func (tx *Transaction) update(state *confspace.State, seq *confspace.Sequence, f func(sum bigmath.DecimalBounds) bigmath.DecimalBounds) error {
	if state.Index >= len(tx.db.space.States) || tx.db.space.States[state.Index] != state {
		return fmt.Errorf("%w: %s", ErrWrongState, state.Name)
	}
	if state.IsSequenced {
		key := seq.Key()
		entry, ok := tx.seqs[key]
		if !ok {
			entry = &txSeq{
				rts:  append([]int(nil), seq.RTIndices...),
				info: emptySeqInfo(len(tx.db.space.SequencedStates)),
			}
			tx.seqs[key] = entry
		}
		entry.info.Z[state.SequencedIndex] = f(entry.info.Z[state.SequencedIndex])
	} else {
		sum, ok := tx.unseqs[state.UnsequencedIndex]
		if !ok {
			sum = bigmath.EmptySum()
		}
		tx.unseqs[state.UnsequencedIndex] = f(sum)
	}
	tx.isEmpty = false
	return nil
}

func checkNonNegative(vals ...decimal.Decimal) error {
	for _, v := range vals {
		if v.Sign() < 0 {
			return fmt.Errorf("%w: %s", ErrNegative, v)
		}
	}
	return nil
}

// AddZ adds an exact value to the sum of (state, seq).
func (tx *Transaction) AddZ(state *confspace.State, seq *confspace.Sequence, z decimal.Decimal) error {
	return tx.AddZBounds(state, seq, bigmath.ExactBounds(z))
}

// AddZBounds adds a bracket to the sum of (state, seq).
func (tx *Transaction) AddZBounds(state *confspace.State, seq *confspace.Sequence, z bigmath.DecimalBounds) error {
	if err := checkNonNegative(z.Lower, z.Upper); err != nil {
		return err
	}
	m := tx.db.math
	return tx.update(state, seq, func(sum bigmath.DecimalBounds) bigmath.DecimalBounds {
		return bigmath.DecimalBounds{Lower: m.Add(sum.Lower, z.Lower), Upper: m.Add(sum.Upper, z.Upper)}
	})
}

// SubZ subtracts a previously added bracket from the sum of (state, seq).
func (tx *Transaction) SubZ(state *confspace.State, seq *confspace.Sequence, z bigmath.DecimalBounds) error {
	if err := checkNonNegative(z.Lower, z.Upper); err != nil {
		return err
	}
	m := tx.db.math
	return tx.update(state, seq, func(sum bigmath.DecimalBounds) bigmath.DecimalBounds {
		return bigmath.DecimalBounds{Lower: m.Sub(sum.Lower, z.Lower), Upper: m.Sub(sum.Upper, z.Upper)}
	})
}

// IsEmpty reports whether the transaction has no buffered updates.
func (tx *Transaction) IsEmpty() bool {
	return tx.isEmpty
}

// combine merges a buffered delta into the stored sum.
//
// upper = max(0, old.upper + delta.upper) absorbs rounding below zero, and
// lower = min(upper, old.lower + delta.lower) keeps the bracket ordered.
func (tx *Transaction) combine(delta, old bigmath.DecimalBounds) bigmath.DecimalBounds {
	m := tx.db.math
	upper := m.Set(delta.Upper).Add(old.Upper).AtLeast(bigmath.Zero).Get()
	lower := m.Set(delta.Lower).Add(old.Lower).AtMost(upper).Get()
	return bigmath.DecimalBounds{Lower: lower, Upper: upper}
}

// Commit applies every buffered update atomically and resets the
// transaction. An empty transaction is a no-op.
//
// Outputs:
//
//	error - Non-nil if the store write fails; the buffer is kept so the
//	caller may retry or abort the run.
func (tx *Transaction) Commit(ctx context.Context) error {
	return tx.CommitBatch(ctx, 0)
}

// CommitBatch is Commit that also records batch as the last applied fringe
// commit batch, in the same store transaction. batch 0 records nothing.
func (tx *Transaction) CommitBatch(ctx context.Context, batch uint64) error {
	if tx.isEmpty && batch == 0 {
		return nil
	}

	ctx, span := otel.Tracer("seqdb").Start(ctx, "seqdb.Commit",
		trace.WithAttributes(
			attribute.Int("sequenced_entries", len(tx.seqs)),
			attribute.Int("unsequenced_entries", len(tx.unseqs)),
		),
	)
	defer span.End()

	s := tx.db
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, entry := range tx.seqs {
			old, ok, err := s.getSeqInfo(txn, entry.rts)
			if err != nil {
				return err
			}
			if !ok {
				old = emptySeqInfo(len(s.space.SequencedStates))
			}
			merged := SeqInfo{Z: make([]bigmath.DecimalBounds, len(entry.info.Z))}
			for i := range merged.Z {
				merged.Z[i] = tx.combine(entry.info.Z[i], old.Z[i])
			}
			val, err := encodeSeqInfo(merged)
			if err != nil {
				return err
			}
			if err := txn.Set(s.seqKey(entry.rts), val); err != nil {
				return err
			}
		}
		for index, delta := range tx.unseqs {
			old, ok, err := s.getUnseq(txn, index)
			if err != nil {
				return err
			}
			if !ok {
				old = bigmath.EmptySum()
			}
			val, err := encodeBounds(tx.combine(delta, old))
			if err != nil {
				return err
			}
			if err := txn.Set(unseqKey(index), val); err != nil {
				return err
			}
		}
		if batch > 0 {
			return txn.Set(batchKey, storage.Frame(binary.BigEndian.AppendUint64(nil, batch)))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("commit seqdb: %w", err)
	}

	s.logger.Debug("seqdb committed",
		slog.Int("sequenced_entries", len(tx.seqs)),
		slog.Int("unsequenced_entries", len(tx.unseqs)),
		slog.Uint64("batch", batch))

	tx.seqs = make(map[string]*txSeq)
	tx.unseqs = make(map[int]bigmath.DecimalBounds)
	tx.isEmpty = true
	return nil
}

// -----------------------------------------------------------------------------
// Redo records
// -----------------------------------------------------------------------------

// MarshalBinary encodes the buffered deltas so the fringe can store them
// as a redo record next to its own commit. An empty transaction encodes to
// nil.
//
// Layout: uvarint(#seqs), per entry uvarint(#rts), uvarint(rt+1) each,
// uvarint(#states) and the bounds; then uvarint(#unseqs), per entry
// uvarint(index) and the bounds.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	if tx.isEmpty {
		return nil, nil
	}
	buf := binary.AppendUvarint(nil, uint64(len(tx.seqs)))
	var err error
	for _, entry := range tx.seqs {
		buf = binary.AppendUvarint(buf, uint64(len(entry.rts)))
		for _, rt := range entry.rts {
			buf = binary.AppendUvarint(buf, uint64(rt+1))
		}
		buf = binary.AppendUvarint(buf, uint64(len(entry.info.Z)))
		for _, z := range entry.info.Z {
			if buf, err = bigmath.AppendBounds(buf, z); err != nil {
				return nil, err
			}
		}
	}
	buf = binary.AppendUvarint(buf, uint64(len(tx.unseqs)))
	for index, z := range tx.unseqs {
		buf = binary.AppendUvarint(buf, uint64(index))
		if buf, err = bigmath.AppendBounds(buf, z); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// readUvarint reads one uvarint no larger than limit.
func readUvarint(buf []byte, limit uint64) (uint64, []byte, error) {
	v, k := binary.Uvarint(buf)
	if k <= 0 || v > limit {
		return 0, buf, fmt.Errorf("%w: redo record", ErrCorrupted)
	}
	return v, buf[k:], nil
}

// DecodeTransaction rebuilds a transaction from MarshalBinary output.
func (s *SeqDB) DecodeTransaction(data []byte) (*Transaction, error) {
	tx := s.Transaction()
	if len(data) == 0 {
		return tx, nil
	}

	numPos := s.space.SeqSpace.NumPositions()
	numSeqStates := len(s.space.SequencedStates)
	numUnseqStates := len(s.space.UnsequencedStates)
	maxRT := uint64(s.space.SeqSpace.MaxResTypeIndex() + 1)

	n, buf, err := readUvarint(data, uint64(len(data)))
	if err != nil {
		return nil, err
	}
	for ; n > 0; n-- {
		var width, v uint64
		if width, buf, err = readUvarint(buf, uint64(numPos)); err != nil {
			return nil, err
		}
		if width != uint64(numPos) {
			return nil, fmt.Errorf("%w: redo record has %d positions", ErrCorrupted, width)
		}
		rts := make([]int, numPos)
		for i := range rts {
			if v, buf, err = readUvarint(buf, maxRT); err != nil {
				return nil, err
			}
			rts[i] = int(v) - 1
		}
		if v, buf, err = readUvarint(buf, uint64(numSeqStates)); err != nil {
			return nil, err
		}
		if v != uint64(numSeqStates) {
			return nil, fmt.Errorf("%w: redo record has %d states", ErrCorrupted, v)
		}
		info := SeqInfo{Z: make([]bigmath.DecimalBounds, numSeqStates)}
		for i := range info.Z {
			if info.Z[i], buf, err = bigmath.ReadBounds(buf); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
		}
		seq := s.space.SeqSpace.MakeSequence(rts)
		tx.seqs[seq.Key()] = &txSeq{rts: rts, info: info}
		tx.isEmpty = false
	}

	if n, buf, err = readUvarint(buf, uint64(numUnseqStates)); err != nil {
		return nil, err
	}
	for ; n > 0; n-- {
		var index uint64
		if index, buf, err = readUvarint(buf, uint64(numUnseqStates)-1); err != nil {
			return nil, err
		}
		var z bigmath.DecimalBounds
		if z, buf, err = bigmath.ReadBounds(buf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		tx.unseqs[int(index)] = z
		tx.isEmpty = false
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in redo record", ErrCorrupted, len(buf))
	}
	return tx, nil
}

// AppliedBatch returns the last fringe commit batch recorded by
// CommitBatch, or 0.
func (s *SeqDB) AppliedBatch(ctx context.Context) (uint64, error) {
	var batch uint64
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(batchKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload, err := storage.Unframe(val)
			if err != nil || len(payload) != 8 {
				return fmt.Errorf("%w: batch marker", ErrCorrupted)
			}
			batch = binary.BigEndian.Uint64(payload)
			return nil
		})
	})
	return batch, err
}
