// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package gameport persists the mapping from a server's stats
// subscription address to the game port players actually connect to.
//
// The two ports differ on most hosting setups: the ZeroMQ stats socket
// listens on its own port while clients join on the game port. The
// mapping is learned from the admin API and server-list configuration
// and must survive restarts, so it lives in a small BadgerDB store.
package gameport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

// Key prefix for BadgerDB storage
const portKeyPrefix = "gameport:"

// ErrNotFound is returned when no mapping exists for an address.
var ErrNotFound = errors.New("game port not found")

// Store is a BadgerDB-backed game port mapping.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	logging.Info().Str("path", path).Msg("game port store opened")
	return &Store{db: db}, nil
}

// NewWithDB wraps an already open database, for tests and shared
// deployments.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Set stores the game port for a subscription address ("ip:port").
func (s *Store) Set(ctx context.Context, addr string, gamePort int) error {
	if gamePort < 1 || gamePort > 65535 {
		return fmt.Errorf("invalid game port %d", gamePort)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(portKeyPrefix + addr)
		return txn.Set(key, []byte(strconv.Itoa(gamePort)))
	})
}

// Get returns the game port mapped to addr.
func (s *Store) Get(ctx context.Context, addr string) (int, error) {
	var port int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(portKeyPrefix + addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get game port: %w", err)
		}
		return item.Value(func(val []byte) error {
			port, err = strconv.Atoi(string(val))
			return err
		})
	})
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.GamePortLookups.WithLabelValues("miss").Inc()
	case err != nil:
		metrics.GamePortLookups.WithLabelValues("error").Inc()
	default:
		metrics.GamePortLookups.WithLabelValues("hit").Inc()
	}
	return port, err
}

// Delete removes the mapping for addr. Deleting an unknown address is
// not an error.
func (s *Store) Delete(ctx context.Context, addr string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(portKeyPrefix + addr))
	})
}

// GamePorts returns every stored mapping keyed by subscription
// address. Satisfies the registry's lookup interface.
func (s *Store) GamePorts(ctx context.Context) (map[string]int, error) {
	ports := make(map[string]int)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(portKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			addr := strings.TrimPrefix(string(item.Key()), portKeyPrefix)
			err := item.Value(func(val []byte) error {
				port, err := strconv.Atoi(string(val))
				if err != nil {
					return fmt.Errorf("corrupt entry for %s: %w", addr, err)
				}
				ports[addr] = port
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ports, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs one value log garbage collection pass. Intended to be
// called periodically by the owning service.
func (s *Store) RunGC() {
	// badger returns ErrNoRewrite when there was nothing to collect.
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		logging.Warn().Err(err).Msg("game port store GC failed")
	}
}
