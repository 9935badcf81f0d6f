// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package publish pushes finished match results onto NATS so live
// consumers (rating engine, web frontends) receive them without
// polling the archive.
package publish

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

// Config configures the NATS publisher.
type Config struct {
	// URL is the NATS server URL, e.g. nats://localhost:4222.
	URL string

	// SubjectPrefix is prepended to the per-gametype subject. Finished
	// matches go to "<prefix>.finished.<gametype>". Default "match".
	SubjectPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher is a Watermill NATS publisher for match results. It
// satisfies the feeder.MatchSink interface.
type Publisher struct {
	publisher message.Publisher
	prefix    string

	mu     sync.Mutex
	closed bool
}

// New connects to NATS and returns a match result publisher.
func New(cfg Config) (*Publisher, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "match"
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}

	logger := watermill.NewStdLogger(false, false)
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	return &Publisher{publisher: pub, prefix: prefix}, nil
}

// Emit publishes one finished match. The message UUID is the result's
// ingest ID so consumers can deduplicate replays.
func (p *Publisher) Emit(result *feeder.MatchResult) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.Unlock()

	payload, err := json.Marshal(result)
	if err != nil {
		metrics.PublishErrors.Inc()
		return fmt.Errorf("marshal match result: %w", err)
	}

	gametype := strings.ToLower(result.GameType)
	if gametype == "" {
		gametype = "unknown"
	}
	topic := p.prefix + ".finished." + gametype

	msg := message.NewMessage(result.IngestID, payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		metrics.PublishErrors.Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	metrics.MatchesPublished.WithLabelValues(gametype).Inc()
	logging.Debug().
		Str("topic", topic).
		Str("match_guid", result.MatchGUID()).
		Msg("match result published")
	return nil
}

// OnMatchFinished implements feeder.MatchSink. Publish failures are
// logged and counted; ingestion never blocks on the broker.
func (p *Publisher) OnMatchFinished(result *feeder.MatchResult) {
	if err := p.Emit(result); err != nil {
		logging.Error().Err(err).Str("match_guid", result.MatchGUID()).Msg("match publish failed")
	}
}

// Close shuts the underlying NATS connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

var _ feeder.MatchSink = (*Publisher)(nil)
