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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) initCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the stores of a design and write the root bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.loadEngine()
			if err != nil {
				return err
			}
			if err := eng.sofea.Init(cmd.Context(), overwrite); err != nil {
				return err
			}

			cfg := eng.sofea.Config()
			p := a.printer()
			p.Success(fmt.Sprintf("initialized %s", eng.design.Name))
			capacity := fmt.Sprintf("%s nodes", humanize.Comma(cfg.FringeDBNodes))
			if cfg.FringeDBNodes == 0 {
				capacity = humanize.IBytes(uint64(cfg.FringeDBBytes))
			}
			p.KV(
				[2]string{"seqdb", cfg.SeqDBPath},
				[2]string{"fringedb", cfg.FringeDBPath},
				[2]string{"fringe capacity", capacity},
				[2]string{"states", fmt.Sprint(len(eng.sofea.ConfSpace().States))},
				[2]string{"sequences", humanize.Comma(int64(eng.sofea.ConfSpace().SeqSpace.NumSequences()))},
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "remove existing stores first")
	return cmd
}
