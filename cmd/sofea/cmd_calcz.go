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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minghao2016/OSPREY3/pkg/bigmath"
)

func (a *app) calcZCmd() *cobra.Command {
	var stateName, seqText string
	cmd := &cobra.Command{
		Use:   "calcz",
		Short: "Enumerate every conformation of one state and sequence (small spaces only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.loadEngine()
			if err != nil {
				return err
			}
			space := eng.sofea.ConfSpace()
			state := space.State(stateName)
			if state == nil {
				return fmt.Errorf("unknown state %q", stateName)
			}
			seq, err := space.SeqSpace.ParseSequence(seqText)
			if err != nil {
				return err
			}

			z := eng.sofea.CalcZ(state, seq)
			p := a.printer()
			p.KV(
				[2]string{"state", state.Name},
				[2]string{"sequence", seq.String()},
				[2]string{"z", z.String()},
				[2]string{"z (sci)", bigmath.FormatSci(z)},
				[2]string{"g", formatG(eng.bc.FreeEnergy(z))},
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&stateName, "state", "", "state name")
	cmd.Flags().StringVar(&seqText, "seq", "", `sequence, e.g. "A23=ALA,B7=GLY"; unassigned positions keep every residue type`)
	_ = cmd.MarkFlagRequired("state")
	return cmd
}
