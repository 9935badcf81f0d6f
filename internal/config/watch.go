// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package config

import (
	"sync"
	"time"

	"github.com/knadh/koanf/providers/file"

	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

// watchDebounce coalesces the burst of fs events editors produce for
// one logical save.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the config file on change and hands the validated
// result to apply. Invalid configs are logged and discarded; the
// running config stays as it was.
func Watch(path string, apply func(*Config)) error {
	provider := file.Provider(path)

	var mu sync.Mutex
	var pending *time.Timer

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("config watch error")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(watchDebounce, func() {
			cfg, err := Load(path)
			if err != nil {
				metrics.ConfigReloads.WithLabelValues("invalid").Inc()
				logging.Error().Err(err).Str("path", path).Msg("config reload failed, keeping previous configuration")
				return
			}
			metrics.ConfigReloads.WithLabelValues("applied").Inc()
			logging.Info().Str("path", path).Msg("configuration reloaded")
			apply(cfg)
		})
	})
}
