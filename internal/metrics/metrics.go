// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Feed connection lifecycle (ZeroMQ subscriptions)
// - Match event ingestion and aggregation
// - Result egress (archive, XonStat submission, NATS publishing)
// - Admin API latency and throughput
// - WebSocket connections

var (
	// Feed Lifecycle Metrics
	FeedsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feeder_feeds",
			Help: "Current number of feeds per connection state",
		},
		[]string{"state"}, // "disconnected", "connecting", "connected"
	)

	FeedReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_feed_reconnects_total",
			Help: "Total number of feed reconnect cycles by trigger",
		},
		[]string{"reason"}, // "idle", "offline", "bad_password", "drop", "monitor_error"
	)

	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feeder_registry_feeds",
			Help: "Current number of feeds tracked by the registry",
		},
	)

	// Ingestion Metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_events_received_total",
			Help: "Total number of game events received by type",
		},
		[]string{"type"},
	)

	EventParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeder_event_parse_errors_total",
			Help: "Total number of published messages that failed to parse",
		},
	)

	MatchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_matches_finished_total",
			Help: "Total number of completed matches by game type",
		},
		[]string{"gametype"},
	)

	QuittersFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeder_quitters_flagged_total",
			Help: "Total number of players flagged for quitting an unbalanced match",
		},
	)

	// Egress Metrics
	MatchesArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeder_matches_archived_total",
			Help: "Total number of match results written to the archive",
		},
	)

	ArchiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeder_archive_errors_total",
			Help: "Total number of archive write failures",
		},
	)

	ReportSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_report_submissions_total",
			Help: "Total number of XonStat report submissions by outcome",
		},
		[]string{"outcome"}, // "ok", "rejected", "error", "skipped", "breaker_open"
	)

	ReportSubmissionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feeder_report_submission_duration_seconds",
			Help:    "Duration of XonStat report submissions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MatchesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_matches_published_total",
			Help: "Total number of match results published to the message broker",
		},
		[]string{"gametype"},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feeder_publish_errors_total",
			Help: "Total number of broker publish failures",
		},
	)

	// Game Port Store Metrics
	GamePortLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_gameport_lookups_total",
			Help: "Total number of game port store lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// WebSocket Metrics
	WSActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_active_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Total number of WebSocket messages dropped on slow clients",
		},
	)

	// Configuration Metrics
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feeder_config_reloads_total",
			Help: "Total number of configuration reloads by outcome",
		},
		[]string{"outcome"}, // "applied", "invalid", "rejected"
	)
)

// RecordAPIRequest records metrics for an API request
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSubmission records one XonStat submission attempt
func RecordSubmission(outcome string, duration time.Duration) {
	ReportSubmissions.WithLabelValues(outcome).Inc()
	if outcome == "ok" || outcome == "rejected" || outcome == "error" {
		ReportSubmissionDuration.Observe(duration.Seconds())
	}
}

// TrackActiveRequest increments or decrements the active request gauge
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
