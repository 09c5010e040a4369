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
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea/confspace"
	"github.com/minghao2016/OSPREY3/services/sofea/fringedb"
	"github.com/minghao2016/OSPREY3/services/sofea/seqdb"
)

type replacement struct {
	conf    []int
	zbounds bigmath.DecimalBounds
	zpath   decimal.Decimal
}

type zval struct {
	conf []int
	z    decimal.Decimal
}

// nodeTx collects the outcome of expanding one fringe node: replacement
// subtrees for the next sweep and exact leaf values.
//
// A worker fills it without locks; replace and requeue run under the sweep
// mutex.
type nodeTx struct {
	info  *stateInfo
	node  *fringedb.Node
	index *confspace.ConfIndex

	replacements []replacement
	zvals        []zval
}

func newNodeTx(info *stateInfo, node *fringedb.Node) *nodeTx {
	return &nodeTx{
		info:  info,
		node:  node,
		index: confspace.IndexConf(node.Conf),
	}
}

func (t *nodeTx) state() *confspace.State {
	return t.info.state
}

func (t *nodeTx) addReplacement(index *confspace.ConfIndex, zbounds bigmath.DecimalBounds, zpath decimal.Decimal) {
	t.replacements = append(t.replacements, replacement{conf: index.MakeConf(), zbounds: zbounds, zpath: zpath})
}

func (t *nodeTx) addZVal(index *confspace.ConfIndex, z decimal.Decimal) {
	t.zvals = append(t.zvals, zval{conf: index.MakeConf(), z: z})
}

// hasRoomToReplace reports whether the fringe can take the replacements
// while every other in-flight node keeps room for a requeue.
func (t *nodeTx) hasRoomToReplace(fringetx *fringedb.Transaction) bool {
	return fringetx.HasRoomToReplace(len(t.replacements))
}

// replace swaps the node for its replacements in both stores.
//
// Description:
//
//	The node's bound is subtracted from its sequence, each replacement is
//	written to the fringe and added to its sequence, then the leaf values
//	are added.
func (t *nodeTx) replace(ctx context.Context, fringetx *fringedb.Transaction, seqtx *seqdb.Transaction) error {
	if err := flushIfNeeded(ctx, fringetx, seqtx, len(t.replacements)); err != nil {
		return err
	}
	if err := fringetx.Consume(t.node); err != nil {
		return err
	}

	state := t.state()
	if err := seqtx.SubZ(state, t.info.makeSeq(t.node.Conf), t.node.ZBounds); err != nil {
		return err
	}
	for _, r := range t.replacements {
		fringetx.WriteReplacementNode(state, r.conf, r.zbounds, r.zpath)
		if err := seqtx.AddZBounds(state, t.info.makeSeq(r.conf), r.zbounds); err != nil {
			return err
		}
	}
	for _, zv := range t.zvals {
		if err := seqtx.AddZ(state, t.info.makeSeq(zv.conf), zv.z); err != nil {
			return err
		}
	}
	return nil
}

// requeue moves the node unchanged to the end of the fringe and discards
// the expansion.
func (t *nodeTx) requeue(ctx context.Context, fringetx *fringedb.Transaction, seqtx *seqdb.Transaction) error {
	if err := flushIfNeeded(ctx, fringetx, seqtx, 1); err != nil {
		return err
	}
	if err := fringetx.Consume(t.node); err != nil {
		return err
	}
	fringetx.WriteReplacementNode(t.state(), t.node.Conf, t.node.ZBounds, t.node.ZPath)
	return nil
}

// flushIfNeeded commits both transactions, fringe first, when n more
// fringe writes would not fit in the buffer.
func flushIfNeeded(ctx context.Context, fringetx *fringedb.Transaction, seqtx *seqdb.Transaction, n int) error {
	if fringetx.TxHasRoomFor(n) {
		return nil
	}
	if n > fringetx.MaxWriteBufferNodes() {
		return fmt.Errorf("%w: holds %d nodes, need %d",
			fringedb.ErrWriteBufferTooSmall, fringetx.MaxWriteBufferNodes(), n)
	}
	return commitBoth(ctx, fringetx, seqtx)
}

// commitBoth commits the fringe first, carrying the ledger deltas as a
// redo record, then the ledger under the same batch number. RecoverLedger
// finishes the pair if the process dies in between.
func commitBoth(ctx context.Context, fringetx *fringedb.Transaction, seqtx *seqdb.Transaction) error {
	ledger, err := seqtx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode ledger batch: %w", err)
	}
	batch, err := fringetx.CommitWithLedger(ctx, ledger)
	if err != nil {
		return err
	}
	return seqtx.CommitBatch(ctx, batch)
}
