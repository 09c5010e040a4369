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
	"encoding/json"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
	"github.com/minghao2016/OSPREY3/services/sofea"
)

// reportJSON is the --json form of a report.
type reportJSON struct {
	Design      string              `json:"design"`
	RunID       string              `json:"run_id"`
	Sweeps      int64               `json:"sweeps"`
	FringeNodes int64               `json:"fringe_nodes"`
	Unsequenced []sofea.StateResult `json:"unsequenced"`
	Sequences   []sofea.SeqResult   `json:"sequences"`
}

func (a *app) reportCmd() *cobra.Command {
	var partial, asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the current bounds of every sequence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := a.loadEngine()
			if err != nil {
				return err
			}

			fdb, err := eng.sofea.OpenFringeDB()
			if err != nil {
				return err
			}
			runID, sweeps, nodes, capacity := fdb.RunID(), fdb.SweepCount(), fdb.NumNodes(), fdb.Capacity()
			if err := fdb.Close(); err != nil {
				return err
			}

			sdb, err := eng.sofea.OpenSeqDB()
			if err != nil {
				return err
			}
			defer sdb.Close()

			unseq, err := sofea.Unsequenced(ctx, sdb, eng.bc)
			if err != nil {
				return err
			}
			seqs, err := sofea.Results(ctx, sdb, eng.bc, partial)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(reportJSON{
					Design:      eng.design.Name,
					RunID:       runID,
					Sweeps:      sweeps,
					FringeNodes: nodes,
					Unsequenced: unseq,
					Sequences:   seqs,
				})
			}

			p := a.printer()
			p.Title(fmt.Sprintf("SOFEA report: %s", eng.design.Name))
			p.KV(
				[2]string{"run", runID},
				[2]string{"sweeps", humanize.Comma(sweeps)},
				[2]string{"fringe", fmt.Sprintf("%s / %s nodes", humanize.Comma(nodes), humanize.Comma(capacity))},
			)

			header := []string{"sequence", "state", "z lower", "z upper", "g lower", "g upper", "gap"}
			var rows [][]string
			for _, r := range unseq {
				rows = append(rows, stateRow("(unsequenced)", r))
			}
			for _, seq := range seqs {
				for _, r := range seq.States {
					rows = append(rows, stateRow(seq.Text, r))
				}
			}
			p.Table(header, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&partial, "partial", false, "include partial sequences")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func stateRow(seq string, r sofea.StateResult) []string {
	return []string{
		seq,
		r.State,
		bigmath.FormatSci(r.Z.Lower),
		bigmath.FormatSci(r.Z.Upper),
		formatG(r.G.Lower),
		formatG(r.G.Upper),
		fmt.Sprintf("%.3g", r.Z.RelativeGap()),
	}
}

func formatG(g float64) string {
	if math.IsInf(g, 0) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", g)
}
