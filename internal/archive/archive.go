// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package archive persists finished match results as compressed JSON.
//
// Results land under <base>/YYYY-MM/DD/<match-guid>.json.gz keyed by
// the match end timestamp. Results whose upstream submission failed go
// to <base>/errors/ instead, from where they can be reprocessed later.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

// Writer persists match results below a base directory.
type Writer struct {
	base string
}

// NewWriter creates a writer rooted at base. The directory is created
// on first write.
func NewWriter(base string) *Writer {
	return &Writer{base: base}
}

// Save writes the result to its date-keyed archive path.
func (w *Writer) Save(result *feeder.MatchResult) error {
	date := time.Unix(result.GameEndTimestamp, 0).UTC()
	dir := filepath.Join(w.base,
		fmt.Sprintf("%04d-%02d", date.Year(), date.Month()),
		fmt.Sprintf("%02d", date.Day()))
	return w.write(dir, result)
}

// SaveError writes the result to the errors directory for later
// reprocessing.
func (w *Writer) SaveError(result *feeder.MatchResult) error {
	return w.write(filepath.Join(w.base, "errors"), result)
}

func (w *Writer) write(dir string, result *feeder.MatchResult) error {
	guid := result.MatchGUID()
	if guid == "" {
		guid = result.IngestID
	}
	path := filepath.Join(dir, guid+".json.gz")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		metrics.ArchiveErrors.Inc()
		return fmt.Errorf("create archive directory: %w", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		metrics.ArchiveErrors.Inc()
		return fmt.Errorf("marshal match result: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*.json.gz")
	if err != nil {
		metrics.ArchiveErrors.Inc()
		return fmt.Errorf("create archive file: %w", err)
	}
	tmpName := f.Name()

	gz := gzip.NewWriter(f)
	_, werr := gz.Write(data)
	if cerr := gz.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		os.Remove(tmpName)
		metrics.ArchiveErrors.Inc()
		return fmt.Errorf("write %s: %w", path, werr)
	}

	metrics.MatchesArchived.Inc()
	logging.Debug().Str("path", path).Msg("match result archived")
	return nil
}

// Load reads one archived result, transparently decompressing .gz
// files.
func Load(path string) (*feeder.MatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		if data, err = io.ReadAll(gz); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
	}

	var result feeder.MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &result, nil
}

// WalkErrors visits every archived result in the errors directory.
// Files that fail to load are skipped with a warning; visit errors
// abort the walk. A visited file whose visit returns nil is deleted.
func (w *Writer) WalkErrors(visit func(*feeder.MatchResult) error) error {
	dir := filepath.Join(w.base, "errors")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read errors directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json.gz") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		result, err := Load(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("skipping unreadable archive file")
			continue
		}
		if err := visit(result); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("cannot remove reprocessed file")
		}
	}
	return nil
}
