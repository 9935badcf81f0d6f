// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

const submitTimeout = 10 * time.Second

// ErrRejected is returned when submission.py answered but did not
// accept the report.
var ErrRejected = errors.New("report rejected by submission endpoint")

// SubmitResponse is the JSON body submission.py answers with.
type SubmitResponse struct {
	OK     bool  `json:"ok"`
	GameID int64 `json:"game_id"`
}

// Submitter posts XonStat reports over HTTP. A circuit breaker guards
// the endpoint: sustained failures stop submissions for a cooldown
// instead of hammering a dead stats server, and rejected results go to
// the archive's errors folder for reprocessing.
type Submitter struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[*SubmitResponse]
}

// NewSubmitter creates a submitter for a submission.py URL.
func NewSubmitter(url string) *Submitter {
	cb := gobreaker.NewCircuitBreaker[*SubmitResponse](gobreaker.Settings{
		Name:        "xonstat-submission",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("submission circuit breaker state change")
		},
	})
	return &Submitter{
		url:    url,
		client: &http.Client{Timeout: submitTimeout},
		cb:     cb,
	}
}

// Submit posts one report body and returns the parsed response.
func (s *Submitter) Submit(ctx context.Context, matchGUID, body string) (*SubmitResponse, error) {
	start := time.Now()
	resp, err := s.cb.Execute(func() (*SubmitResponse, error) {
		return s.post(ctx, body)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordSubmission("breaker_open", time.Since(start))
		return nil, fmt.Errorf("submission suspended: %w", err)
	case err != nil:
		metrics.RecordSubmission("error", time.Since(start))
		return nil, fmt.Errorf("upload failed: %s: %w", matchGUID, err)
	case !resp.OK:
		metrics.RecordSubmission("rejected", time.Since(start))
		return resp, fmt.Errorf("%w: %s", ErrRejected, matchGUID)
	}
	metrics.RecordSubmission("ok", time.Since(start))
	logging.Info().Str("match_guid", matchGUID).Int64("game_id", resp.GameID).Msg("match uploaded")
	return resp, nil
}

func (s *Submitter) post(ctx context.Context, body string) (*SubmitResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	// submission.py expects a blind-ID signature header; QLStats
	// deployments run with signature checks disabled.
	req.Header.Set("X-D0-Blind-Id-Detached-Signature", "dummy")
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d %s", resp.StatusCode, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed SubmitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse submission response: %w", err)
	}
	return &parsed, nil
}
