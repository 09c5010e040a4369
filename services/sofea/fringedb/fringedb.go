// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fringedb is the bounded, persistent FIFO of unexplored
// conformation-tree nodes ("the fringe").
//
// # Layout
//
// Nodes live under 9-byte keys, 'n' plus a big-endian sequence number. A
// sweep reads the keys in [Head, SweepEnd); replacement and requeued nodes
// are appended at Tail. FinishSweep moves SweepEnd to Tail so the next
// sweep reads everything the previous one wrote.
//
//	m                 -> JSON metadata
//	n + uint64 index  -> Frame(state, conf, zbounds, zpath)
//
// # Crash Safety
//
// Reading a node does not remove it. The node is deleted only when the
// commit carrying its resolution (replacement or requeue) lands, and Head
// never passes an unresolved node. After a crash every unresolved node of
// the interrupted sweep is read again.
//
// # Thread Safety
//
// FringeDB metadata accessors are safe for concurrent use. A Transaction is
// not; the sweep driver serializes access to it.
package fringedb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
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
	ErrCorrupted = errors.New("fringedb: corrupted record")

	// ErrNotFound is returned by Open when the store was never created.
	ErrNotFound = errors.New("fringedb: not initialized")

	// ErrExists is returned by Create when the store already holds a fringe.
	ErrExists = errors.New("fringedb: already initialized")

	// ErrWrongConfSpace is returned when a stored fringe was built for a
	// different number of states.
	ErrWrongConfSpace = errors.New("fringedb: stored fringe does not match the conf space")

	// ErrFringeFull is returned when a root node does not fit.
	ErrFringeFull = errors.New("fringedb: no room for root node")

	// ErrWriteBufferTooSmall is returned when one expansion produces more
	// nodes than the write buffer holds.
	ErrWriteBufferTooSmall = errors.New("fringedb: write buffer too small")

	// ErrSweepInProgress is returned by FinishSweep while nodes of the
	// current sweep are still unresolved.
	ErrSweepInProgress = errors.New("fringedb: sweep still has unresolved nodes")

	// ErrNoNodes is returned by ReadNode when the sweep has nothing left.
	ErrNoNodes = errors.New("fringedb: no nodes to read")

	// ErrNotOutstanding is returned when consuming a node that was not read
	// by this transaction, or was already consumed.
	ErrNotOutstanding = errors.New("fringedb: node is not outstanding")
)

const (
	prefixNode = 'n'

	// DefaultBytes is the default fringe budget.
	DefaultBytes = 10 * 1024 * 1024
)

var (
	metaKey = []byte("m")

	// ledgerKey holds the ledger redo record of the latest batch.
	ledgerKey = []byte("l")
)

// Config configures a FringeDB.
type Config struct {
	// Path is the badger directory. Ignored when InMemory.
	Path string

	// InMemory keeps the fringe in RAM only.
	InMemory bool

	// CapacityNodes is the node capacity. When 0 it is derived from
	// CapacityBytes.
	CapacityNodes int64

	// CapacityBytes is the storage budget used to derive CapacityNodes.
	CapacityBytes int64

	// WriteBufferNodes is the transaction write buffer size. 0 selects
	// max(1, capacity/4).
	WriteBufferNodes int

	// Precision is the significant-digit precision of stored Z values, used
	// to estimate the size of one node.
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
		Path:          path,
		CapacityBytes: DefaultBytes,
		Precision:     bigmath.DefaultPrecision,
		SyncWrites:    true,
		GCInterval:    5 * time.Minute,
	}
}

// InMemoryConfig returns an in-memory configuration with the given node
// capacity.
func InMemoryConfig(capacityNodes int64) Config {
	return Config{
		InMemory:      true,
		CapacityNodes: capacityNodes,
		Precision:     bigmath.DefaultPrecision,
	}
}

// EstimateNodeBytes estimates the stored size of one node of space,
// including key and per-entry store overhead.
func EstimateNodeBytes(space *confspace.MultiStateConfSpace, precision int) int64 {
	maxPos := 0
	for _, s := range space.States {
		maxPos = max(maxPos, s.ConfSpace.NumPositions())
	}
	// a gob-encoded big.Int carries ~0.42 bytes per decimal digit
	decimalBytes := 4 + 2 + precision/2 + 2
	return int64(9 + 4 + 2 + 1 + 2*maxPos + 3*decimalBytes + 48)
}

// Node is one fringe entry: a partial conformation of one state with its
// bound on the subtree's Z and the product of its defined tuple weights.
type Node struct {
	StateIndex int
	Conf       []int
	ZBounds    bigmath.DecimalBounds
	ZPath      decimal.Decimal

	index uint64
}

// Index returns the storage sequence number of a node that was read.
func (n *Node) Index() uint64 {
	return n.index
}

type meta struct {
	RunID            string            `json:"run_id"`
	NumStates        int               `json:"num_states"`
	Capacity         int64             `json:"capacity"`
	WriteBufferNodes int               `json:"write_buffer_nodes"`
	Head             uint64            `json:"head"`
	SweepEnd         uint64            `json:"sweep_end"`
	Tail             uint64            `json:"tail"`
	NumNodes         int64             `json:"num_nodes"`
	NumSweepNodes    int64             `json:"num_sweep_nodes"`
	ZMax             []decimal.Decimal `json:"zmax"`
	ZMaxNext         []decimal.Decimal `json:"zmax_next"`
	SweepCount       int64             `json:"sweep_count"`
	LedgerBatch      uint64            `json:"ledger_batch,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func (m meta) clone() meta {
	m.ZMax = append([]decimal.Decimal(nil), m.ZMax...)
	m.ZMaxNext = append([]decimal.Decimal(nil), m.ZMaxNext...)
	return m
}

// FringeDB is the fringe store.
type FringeDB struct {
	space  *confspace.MultiStateConfSpace
	db     *storage.DB
	logger *slog.Logger

	mu   sync.RWMutex
	meta meta
}

// Create initializes an empty fringe.
//
// Description:
//
//	Sizes the fringe from cfg, stamps a new run ID and writes the
//	metadata. Fails with ErrExists if the store already holds a fringe.
//
// Outputs:
//
//	*FringeDB - The fringe. Call Close when done.
//	error - Non-nil on store errors or ErrExists.
func Create(space *confspace.MultiStateConfSpace, cfg Config) (*FringeDB, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	f := &FringeDB{space: space, db: db, logger: componentLogger(cfg.Logger)}

	ctx := context.Background()
	if _, ok, err := f.loadMeta(ctx); err != nil || ok {
		db.Close()
		if err == nil {
			err = ErrExists
		}
		return nil, err
	}

	precision := cfg.Precision
	if precision <= 0 {
		precision = bigmath.DefaultPrecision
	}
	nodeBytes := EstimateNodeBytes(space, precision)
	capacity := cfg.CapacityNodes
	if capacity <= 0 {
		bytes := cfg.CapacityBytes
		if bytes <= 0 {
			bytes = DefaultBytes
		}
		capacity = max(1, bytes/nodeBytes)
	}
	buffer := cfg.WriteBufferNodes
	if buffer <= 0 {
		buffer = int(max(1, capacity/4))
	}

	n := len(space.States)
	f.meta = meta{
		RunID:            uuid.NewString(),
		NumStates:        n,
		Capacity:         capacity,
		WriteBufferNodes: buffer,
		ZMax:             zeros(n),
		ZMaxNext:         zeros(n),
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putMeta(txn, f.meta)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("write fringe metadata: %w", err)
	}

	f.logger.Info("fringe created",
		slog.String("run_id", f.meta.RunID),
		slog.Int64("capacity", capacity),
		slog.Int("write_buffer", buffer),
		slog.String("budget", humanize.IBytes(uint64(capacity*nodeBytes))))
	return f, nil
}

// Open opens an existing fringe.
//
// Outputs:
//
//	*FringeDB - The fringe. Call Close when done.
//	error - ErrNotFound if the store was never created, ErrWrongConfSpace
//	if it belongs to a different conf space.
func Open(space *confspace.MultiStateConfSpace, cfg Config) (*FringeDB, error) {
	if !cfg.InMemory && !storage.Exists(cfg.Path) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cfg.Path)
	}
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	f := &FringeDB{space: space, db: db, logger: componentLogger(cfg.Logger)}

	m, ok, err := f.loadMeta(context.Background())
	if err == nil && !ok {
		err = ErrNotFound
	}
	if err == nil && m.NumStates != len(space.States) {
		err = fmt.Errorf("%w: stored %d states, have %d", ErrWrongConfSpace, m.NumStates, len(space.States))
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	f.meta = m

	f.logger.Info("fringe opened",
		slog.String("run_id", m.RunID),
		slog.Int64("nodes", m.NumNodes),
		slog.Int64("capacity", m.Capacity),
		slog.Int64("sweeps", m.SweepCount))
	return f, nil
}

func openStore(cfg Config) (*storage.DB, error) {
	db, err := storage.OpenDB(storage.Config{
		Path:           cfg.Path,
		InMemory:       cfg.InMemory,
		SyncWrites:     cfg.SyncWrites,
		Logger:         cfg.Logger,
		GCInterval:     cfg.GCInterval,
		GCDiscardRatio: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("open fringedb: %w", err)
	}
	return db, nil
}

func componentLogger(l *slog.Logger) *slog.Logger {
	return logging.OrDefault(l).With(slog.String("component", "fringedb"))
}

func zeros(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = bigmath.Zero
	}
	return out
}

// Close closes the underlying store.
func (f *FringeDB) Close() error {
	return f.db.Close()
}

func (f *FringeDB) loadMeta(ctx context.Context) (meta, bool, error) {
	var (
		m  meta
		ok bool
	)
	err := f.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload, err := storage.Unframe(val)
			if err != nil {
				return fmt.Errorf("%w: metadata: %v", ErrCorrupted, err)
			}
			if err := json.Unmarshal(payload, &m); err != nil {
				return fmt.Errorf("%w: metadata: %v", ErrCorrupted, err)
			}
			ok = true
			return nil
		})
	})
	return m, ok, err
}

func putMeta(txn *badger.Txn, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return txn.Set(metaKey, storage.Frame(data))
}

// -----------------------------------------------------------------------------
// Metadata accessors
// -----------------------------------------------------------------------------

// RunID returns the run ID stamped at Create.
func (f *FringeDB) RunID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.RunID
}

// Capacity returns the node capacity.
func (f *FringeDB) Capacity() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.Capacity
}

// NumNodes returns the number of stored nodes.
func (f *FringeDB) NumNodes() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.NumNodes
}

// IsEmpty reports whether the fringe holds no nodes.
func (f *FringeDB) IsEmpty() bool {
	return f.NumNodes() == 0
}

// SweepCount returns the number of finished sweeps, including the one
// closed by initialization.
func (f *FringeDB) SweepCount() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.SweepCount
}

// ZMax returns the largest node upper bound of state written during the
// last finished sweep, or 0 if it wrote none.
func (f *FringeDB) ZMax(state *confspace.State) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.ZMax[state.Index]
}

// FinishSweep closes the current sweep.
//
// Description:
//
//	Every node written since the previous FinishSweep becomes the next
//	sweep's input, and their per-state zmax becomes ZMax.
//
// Outputs:
//
//	error - ErrSweepInProgress if nodes of the current sweep remain
//	unresolved, or a store error.
func (f *FringeDB) FinishSweep(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.meta.NumSweepNodes > 0 {
		return fmt.Errorf("%w: %d nodes", ErrSweepInProgress, f.meta.NumSweepNodes)
	}

	next := f.meta.clone()
	next.Head = next.SweepEnd
	next.SweepEnd = next.Tail
	next.NumSweepNodes = next.NumNodes
	next.ZMax = next.ZMaxNext
	next.ZMaxNext = zeros(next.NumStates)
	next.SweepCount++

	if err := f.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putMeta(txn, next)
	}); err != nil {
		return fmt.Errorf("finish sweep: %w", err)
	}
	f.meta = next

	f.logger.Debug("sweep finished",
		slog.Int64("sweep", next.SweepCount),
		slog.Int64("nodes", next.NumNodes))
	return nil
}

// -----------------------------------------------------------------------------
// Node codec
// -----------------------------------------------------------------------------

func nodeKey(index uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixNode
	binary.BigEndian.PutUint64(key[1:], index)
	return key
}

func encodeNode(n *Node) ([]byte, error) {
	buf := binary.AppendUvarint(nil, uint64(n.StateIndex))
	buf = binary.AppendUvarint(buf, uint64(len(n.Conf)))
	for _, rc := range n.Conf {
		buf = binary.AppendUvarint(buf, uint64(rc+1))
	}
	buf, err := bigmath.AppendBounds(buf, n.ZBounds)
	if err != nil {
		return nil, err
	}
	if buf, err = bigmath.AppendDecimal(buf, n.ZPath); err != nil {
		return nil, err
	}
	return storage.Frame(buf), nil
}

func decodeNode(data []byte) (*Node, error) {
	payload, err := storage.Unframe(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	uvarint := func() (uint64, error) {
		v, k := binary.Uvarint(payload)
		if k <= 0 {
			return 0, fmt.Errorf("%w: truncated node", ErrCorrupted)
		}
		payload = payload[k:]
		return v, nil
	}

	state, err := uvarint()
	if err != nil {
		return nil, err
	}
	numPos, err := uvarint()
	if err != nil {
		return nil, err
	}
	n := &Node{StateIndex: int(state), Conf: make([]int, numPos)}
	for i := range n.Conf {
		v, err := uvarint()
		if err != nil {
			return nil, err
		}
		n.Conf[i] = int(v) - 1
	}
	if n.ZBounds, payload, err = bigmath.ReadBounds(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if n.ZPath, _, err = bigmath.ReadDecimal(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Transaction
// -----------------------------------------------------------------------------

// Transaction reads the current sweep and buffers writes.
//
// Every node handed out by ReadNode is outstanding until Consume resolves
// it. Commit deletes the consumed nodes, appends the buffered writes and
// advances Head up to the oldest node still outstanding.
type Transaction struct {
	f *FringeDB

	nextRead    uint64
	outstanding map[uint64]struct{}
	consumed    []uint64
	writes      []*Node
	zmaxNext    []decimal.Decimal
}

// Transaction starts a transaction positioned at the sweep's Head.
func (f *FringeDB) Transaction() *Transaction {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &Transaction{
		f:           f,
		nextRead:    f.meta.Head,
		outstanding: make(map[uint64]struct{}),
		zmaxNext:    zeros(f.meta.NumStates),
	}
}

// MaxWriteBufferNodes returns the write buffer capacity.
func (tx *Transaction) MaxWriteBufferNodes() int {
	tx.f.mu.RLock()
	defer tx.f.mu.RUnlock()
	return tx.f.meta.WriteBufferNodes
}

// TxHasRoomFor reports whether n more writes fit in the buffer.
func (tx *Transaction) TxHasRoomFor(n int) bool {
	return len(tx.writes)+n <= tx.MaxWriteBufferNodes()
}

// liveNodes is the node count after this transaction would commit.
func (tx *Transaction) liveNodes() int64 {
	tx.f.mu.RLock()
	defer tx.f.mu.RUnlock()
	return tx.f.meta.NumNodes + int64(len(tx.writes)) - int64(len(tx.consumed))
}

// HasRoomToReplace reports whether one outstanding node can be replaced by
// k nodes without exceeding capacity. Outstanding nodes are still counted,
// so every other in-flight node keeps its slot for a requeue.
func (tx *Transaction) HasRoomToReplace(k int) bool {
	return tx.liveNodes()-1+int64(k) <= tx.f.Capacity()
}

// NumNodesToRead returns how many nodes of the sweep remain unread.
func (tx *Transaction) NumNodesToRead() int64 {
	tx.f.mu.RLock()
	defer tx.f.mu.RUnlock()
	return tx.f.meta.NumSweepNodes - int64(len(tx.outstanding)) - int64(len(tx.consumed))
}

// HasNodesToRead reports whether the sweep has unread nodes.
func (tx *Transaction) HasNodesToRead() bool {
	return tx.NumNodesToRead() > 0
}

// ReadNode returns the next unread node of the sweep and marks it
// outstanding.
//
// Outputs:
//
//	*Node - The node.
//	error - ErrNoNodes when the sweep is exhausted, or a store error.
func (tx *Transaction) ReadNode(ctx context.Context) (*Node, error) {
	if !tx.HasNodesToRead() {
		return nil, ErrNoNodes
	}
	tx.f.mu.RLock()
	sweepEnd := tx.f.meta.SweepEnd
	tx.f.mu.RUnlock()

	var node *Node
	err := tx.f.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixNode}
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(nodeKey(tx.nextRead)); it.Valid(); it.Next() {
			item := it.Item()
			index := binary.BigEndian.Uint64(item.Key()[1:])
			if index >= sweepEnd {
				break
			}
			return item.Value(func(val []byte) error {
				n, err := decodeNode(val)
				if err != nil {
					return fmt.Errorf("node %d: %w", index, err)
				}
				n.index = index
				node = n
				return nil
			})
		}
		return fmt.Errorf("%w: sweep count says nodes remain before %d", ErrCorrupted, sweepEnd)
	})
	if err != nil {
		return nil, err
	}
	if node.StateIndex >= len(tx.f.space.States) {
		return nil, fmt.Errorf("%w: node %d has state %d", ErrCorrupted, node.index, node.StateIndex)
	}

	tx.nextRead = node.index + 1
	tx.outstanding[node.index] = struct{}{}
	return node, nil
}

// Consume resolves an outstanding node. It is deleted at Commit.
func (tx *Transaction) Consume(node *Node) error {
	if _, ok := tx.outstanding[node.index]; !ok {
		return fmt.Errorf("%w: %d", ErrNotOutstanding, node.index)
	}
	delete(tx.outstanding, node.index)
	tx.consumed = append(tx.consumed, node.index)
	return nil
}

// WriteRootNode buffers the root node of state: every position unassigned.
//
// Outputs:
//
//	error - ErrFringeFull if the fringe has no room for another node.
func (tx *Transaction) WriteRootNode(state *confspace.State, zbounds bigmath.DecimalBounds, zpath decimal.Decimal) error {
	if tx.liveNodes()+1 > tx.f.Capacity() {
		return fmt.Errorf("%w: capacity %d", ErrFringeFull, tx.f.Capacity())
	}
	conf := make([]int, state.ConfSpace.NumPositions())
	for i := range conf {
		conf[i] = confspace.Unassigned
	}
	tx.WriteReplacementNode(state, conf, zbounds, zpath)
	return nil
}

// WriteReplacementNode buffers a node for the next sweep. conf is copied.
//
// Callers check TxHasRoomFor and HasRoomToReplace first.
func (tx *Transaction) WriteReplacementNode(state *confspace.State, conf []int, zbounds bigmath.DecimalBounds, zpath decimal.Decimal) {
	tx.writes = append(tx.writes, &Node{
		StateIndex: state.Index,
		Conf:       append([]int(nil), conf...),
		ZBounds:    zbounds,
		ZPath:      zpath,
	})
	tx.zmaxNext[state.Index] = bigmath.Max(tx.zmaxNext[state.Index], zbounds.Upper)
}

// Commit applies the buffered writes and deletions in one store
// transaction. Outstanding nodes stay stored and keep Head from passing
// them.
func (tx *Transaction) Commit(ctx context.Context) error {
	_, err := tx.CommitWithLedger(ctx, nil)
	return err
}

// CommitWithLedger is Commit plus a redo record of the ledger deltas that
// belong to it, written in the same store transaction.
//
// Description:
//
//	A non-empty ledger record gets the next batch number, which the caller
//	passes to the ledger's own commit. If the process dies between the two
//	commits, PendingLedger still returns the record so it can be applied
//	on resume. Only the latest record is kept: the caller commits the
//	ledger before the next fringe commit.
//
// Outputs:
//
//	uint64 - The batch number, or 0 when ledger is empty.
//	error - Non-nil if the store write fails.
func (tx *Transaction) CommitWithLedger(ctx context.Context, ledger []byte) (uint64, error) {
	if len(tx.writes) == 0 && len(tx.consumed) == 0 && len(ledger) == 0 {
		return 0, nil
	}

	ctx, span := otel.Tracer("fringedb").Start(ctx, "fringedb.Commit",
		trace.WithAttributes(
			attribute.Int("writes", len(tx.writes)),
			attribute.Int("consumed", len(tx.consumed)),
			attribute.Int("outstanding", len(tx.outstanding)),
		),
	)
	defer span.End()

	f := tx.f
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.meta.clone()
	head := tx.nextRead
	for index := range tx.outstanding {
		head = min(head, index)
	}
	next.Head = max(next.Head, head)
	next.NumNodes += int64(len(tx.writes)) - int64(len(tx.consumed))
	next.NumSweepNodes -= int64(len(tx.consumed))
	for i, z := range tx.zmaxNext {
		next.ZMaxNext[i] = bigmath.Max(next.ZMaxNext[i], z)
	}
	var batch uint64
	if len(ledger) > 0 {
		next.LedgerBatch++
		batch = next.LedgerBatch
	}

	err := f.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, index := range tx.consumed {
			if err := txn.Delete(nodeKey(index)); err != nil {
				return err
			}
		}
		for _, n := range tx.writes {
			val, err := encodeNode(n)
			if err != nil {
				return err
			}
			if err := txn.Set(nodeKey(next.Tail), val); err != nil {
				return err
			}
			next.Tail++
		}
		if batch > 0 {
			record := binary.BigEndian.AppendUint64(nil, batch)
			if err := txn.Set(ledgerKey, storage.Frame(append(record, ledger...))); err != nil {
				return err
			}
		}
		return putMeta(txn, next)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return 0, fmt.Errorf("commit fringedb: %w", err)
	}
	f.meta = next

	f.logger.Debug("fringe committed",
		slog.Int("writes", len(tx.writes)),
		slog.Int("consumed", len(tx.consumed)),
		slog.Int64("nodes", next.NumNodes),
		slog.Uint64("ledger_batch", batch))

	tx.writes = nil
	tx.consumed = nil
	tx.zmaxNext = zeros(next.NumStates)
	return batch, nil
}

// PendingLedger returns the latest ledger redo record written by
// CommitWithLedger, or batch 0 if there is none.
func (f *FringeDB) PendingLedger(ctx context.Context) (uint64, []byte, error) {
	var (
		batch  uint64
		ledger []byte
	)
	err := f.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(ledgerKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payload, err := storage.Unframe(val)
			if err != nil || len(payload) < 8 {
				return fmt.Errorf("%w: ledger record", ErrCorrupted)
			}
			batch = binary.BigEndian.Uint64(payload)
			ledger = append([]byte(nil), payload[8:]...)
			return nil
		})
	})
	return batch, ledger, err
}

// LedgerBatch returns the number of the latest ledger batch.
func (f *FringeDB) LedgerBatch() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.meta.LedgerBatch
}
