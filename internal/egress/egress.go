// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package egress routes finished match results to their consumers:
// the compressed JSON archive and the XonStat submission endpoint.
//
// Feeds emit results synchronously, so the egress worker takes them
// over a buffered queue and does the disk and HTTP work on its own
// goroutine. Results whose submission fails are parked in the
// archive's errors folder and retried by ReprocessErrors.
package egress

import (
	"context"
	"errors"

	"github.com/qlstats/feeder/internal/archive"
	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
	"github.com/qlstats/feeder/internal/report"
)

const queueSize = 64

// Egress archives and submits finished matches. It satisfies
// feeder.MatchSink; Run must be started for queued results to be
// processed.
type Egress struct {
	archive   *archive.Writer
	submitter *report.Submitter
	queue     chan *feeder.MatchResult
}

// New creates an egress pipeline. submitter may be nil when no
// submission endpoint is configured; results are then only archived.
func New(w *archive.Writer, submitter *report.Submitter) *Egress {
	return &Egress{
		archive:   w,
		submitter: submitter,
		queue:     make(chan *feeder.MatchResult, queueSize),
	}
}

// OnMatchFinished implements feeder.MatchSink. Never blocks; if the
// queue is full the result is archived inline and not submitted.
func (e *Egress) OnMatchFinished(result *feeder.MatchResult) {
	select {
	case e.queue <- result:
	default:
		logging.Warn().Str("match_guid", result.MatchGUID()).Msg("egress queue full, archiving without submission")
		if err := e.archive.SaveError(result); err != nil {
			logging.Error().Err(err).Msg("failed archiving overflow result")
		}
	}
}

// Run processes queued results until ctx is canceled.
func (e *Egress) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result := <-e.queue:
			e.process(ctx, result)
		}
	}
}

func (e *Egress) process(ctx context.Context, result *feeder.MatchResult) {
	if err := e.archive.Save(result); err != nil {
		logging.Error().Err(err).Str("match_guid", result.MatchGUID()).Msg("archive write failed")
	}
	e.submit(ctx, result)
}

func (e *Egress) submit(ctx context.Context, result *feeder.MatchResult) {
	if e.submitter == nil {
		return
	}

	addr := result.Addr()
	guid := result.MatchGUID()
	if ok, reason := report.Eligible(result); !ok {
		metrics.RecordSubmission("skipped", 0)
		logging.Debug().
			Str("addr", addr).
			Str("match_guid", guid).
			Str("reason", reason).
			Msg("match not submitted")
		return
	}

	body := report.Build(result)
	_, err := e.submitter.Submit(ctx, guid, body)
	switch {
	case err == nil, errors.Is(err, report.ErrRejected):
		// Rejected reports are final; retrying yields the same answer.
	case ctx.Err() != nil:
	default:
		logging.Warn().Err(err).Str("addr", addr).Msg("submission failed, parking result for retry")
		if serr := e.archive.SaveError(result); serr != nil {
			logging.Error().Err(serr).Str("match_guid", guid).Msg("failed parking result")
		}
	}
}

// ReprocessErrors resubmits every result parked in the errors folder.
// Successfully handled files are removed; a submission failure stops
// the pass so the remaining files stay parked.
func (e *Egress) ReprocessErrors(ctx context.Context) error {
	if e.submitter == nil {
		return nil
	}
	return e.archive.WalkErrors(func(result *feeder.MatchResult) error {
		if result.Aborted() {
			return nil
		}
		if ok, _ := report.Eligible(result); !ok {
			return nil
		}
		guid := result.MatchGUID()
		_, err := e.submitter.Submit(ctx, guid, report.Build(result))
		if err != nil && !errors.Is(err, report.ErrRejected) {
			return err
		}
		return nil
	})
}

var _ feeder.MatchSink = (*Egress)(nil)
