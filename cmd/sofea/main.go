// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sofea bounds the partition functions of a multi-state design.
//
// Usage:
//
//	sofea init   -c design.yaml [--overwrite]
//	sofea refine -c design.yaml [--max-sweeps N] [--timeout D] [--precision EPS] [--listen ADDR]
//	sofea report -c design.yaml [--partial] [--json]
//	sofea calcz  -c design.yaml --state NAME [--seq "A23=ALA,B7=GLY"]
//
// Refine resumes from the stores named in the design file; interrupt it
// with Ctrl-C and it stops after the running sweep, leaving the stores
// consistent for the next refine.
//
// While refining with --listen, the status server answers:
//
//	curl http://localhost:9464/v1/sofea/status | jq
//	curl http://localhost:9464/metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
