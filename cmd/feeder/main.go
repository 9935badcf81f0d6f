// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Command feeder subscribes to Quake Live game servers, aggregates
// their match statistics and forwards finished matches to the
// archive, the XonStat submission endpoint and NATS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/qlstats/feeder/internal/api"
	"github.com/qlstats/feeder/internal/archive"
	"github.com/qlstats/feeder/internal/config"
	"github.com/qlstats/feeder/internal/egress"
	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/gameport"
	"github.com/qlstats/feeder/internal/hub"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/publish"
	"github.com/qlstats/feeder/internal/report"
	"github.com/qlstats/feeder/internal/supervisor"
	"github.com/qlstats/feeder/internal/transport"
)

const statusBroadcastInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the config file")
	reprocess := flag.Bool("e", false, "reprocess results from the errors folder and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	logging.Info().
		Int("servers", len(cfg.Servers)).
		Str("jsondir", cfg.Feeder.JSONDir).
		Bool("nats", cfg.NATS.Enabled).
		Msg("starting qlstats feeder")

	if err := run(cfg, *configPath, *reprocess); err != nil {
		logging.Fatal().Err(err).Msg("feeder terminated")
	}
}

func run(cfg *config.Config, configPath string, reprocessOnly bool) error {
	archiveWriter := archive.NewWriter(cfg.Feeder.JSONDir)

	var submitter *report.Submitter
	if cfg.Feeder.XonstatSubmissionURL != "" {
		submitter = report.NewSubmitter(cfg.Feeder.XonstatSubmissionURL)
	}
	pipeline := egress.New(archiveWriter, submitter)

	if reprocessOnly {
		return pipeline.ReprocessErrors(context.Background())
	}

	sinks := feeder.MultiSink{pipeline}

	var publisher *publish.Publisher
	if cfg.NATS.Enabled {
		var err error
		publisher, err = publish.New(publish.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	liveHub := hub.NewHub()
	sinks = append(sinks, liveHub)

	var ports *gameport.Store
	if cfg.Feeder.GamePortDB != "" {
		var err error
		ports, err = gameport.Open(cfg.Feeder.GamePortDB)
		if err != nil {
			return fmt.Errorf("open game port store: %w", err)
		}
		defer ports.Close()
	}

	registry := feeder.NewRegistry(feeder.RegistryConfig{
		Capacity:  cfg.Feeder.Capacity,
		Dialer:    transport.NewZMQDialer(),
		Timing:    feeder.DefaultTiming(),
		Sink:      sinks,
		GamePorts: gamePortLookup(ports),
	})
	defer registry.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(cfg.Servers) > 0 {
		if err := registry.Reconcile(ctx, cfg.Servers); err != nil {
			return fmt.Errorf("initial server list: %w", err)
		}
	} else {
		logging.Warn().Msg("no servers configured, waiting for API or config updates")
	}

	if path := watchPath(configPath); path != "" {
		err := config.Watch(path, func(next *config.Config) {
			if err := registry.Reconcile(ctx, next.Servers); err != nil {
				logging.Error().Err(err).Msg("server list reconciliation failed")
			}
		})
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("config watch unavailable")
		}
	}

	if cfg.Feeder.ReprocessErrors {
		go func() {
			if err := pipeline.ReprocessErrors(ctx); err != nil {
				logging.Warn().Err(err).Msg("error reprocessing parked results")
			}
		}()
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddEgressService(supervisor.RunFunc{Name: "egress-pipeline", Run: pipeline.Run})
	tree.AddIngestService(supervisor.RunFunc{Name: "websocket-hub", Run: liveHub.Run})
	tree.AddIngestService(supervisor.TickerService{
		Name:     "feed-status-broadcast",
		Interval: statusBroadcastInterval,
		Fn: func(context.Context) {
			if liveHub.ClientCount() > 0 {
				liveHub.BroadcastFeedStatus(registry.Snapshots())
			}
		},
	})
	if ports != nil {
		tree.AddIngestService(supervisor.TickerService{
			Name:     "gameport-gc",
			Interval: 10 * time.Minute,
			Fn:       func(context.Context) { ports.RunGC() },
		})
	}

	if cfg.HTTP.Enabled {
		handler := api.NewHandler(registry, ports, liveHub)
		server := &http.Server{
			Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
			Handler:           api.NewRouter(handler, cfg.HTTP),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", server.Addr).Msg("admin API enabled")
	}

	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

// gamePortLookup avoids handing the registry a non-nil interface
// wrapping a nil *gameport.Store.
func gamePortLookup(ports *gameport.Store) feeder.GamePortLookup {
	if ports == nil {
		return nil
	}
	return ports
}

// watchPath resolves the file to watch for live reloads. An explicit
// -config path wins; otherwise whatever Load discovered.
func watchPath(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}
	return config.FindConfigFile()
}
