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
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// progress logs how far a sweep has come, at most once per interval.
//
// Thread Safety: increment is called under the sweep mutex.
type progress struct {
	logger  *slog.Logger
	sweep   int64
	total   int64
	done    int64
	started time.Time
	every   rate.Sometimes
}

func newProgress(logger *slog.Logger, sweep, total int64, interval time.Duration) *progress {
	return &progress{
		logger:  logger,
		sweep:   sweep,
		total:   total,
		started: time.Now(),
		every:   rate.Sometimes{Interval: interval},
	}
}

func (p *progress) increment() {
	p.done++
	p.every.Do(func() {
		pct := 100.0
		if p.total > 0 {
			pct = 100 * float64(p.done) / float64(p.total)
		}
		p.logger.Info("sweep progress",
			slog.Int64("sweep", p.sweep),
			slog.String("nodes", humanize.Comma(p.done)+"/"+humanize.Comma(p.total)),
			slog.Float64("percent", pct),
			slog.Duration("elapsed", time.Since(p.started).Round(time.Millisecond)))
	})
}
