// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
	"github.com/qlstats/feeder/internal/transport"
)

// DefaultCapacity is the hard ceiling on concurrent feeds. ZeroMQ uses
// three file handles per connection against a hardcoded 1024-handle
// select limit; 300 keeps a safety margin below it.
const DefaultCapacity = 300

// Registry errors.
var (
	// ErrDuplicateFeed is returned when a feed for the address already
	// exists.
	ErrDuplicateFeed = errors.New("duplicate feed address")

	// ErrCapacityExceeded is returned when an operation would push the
	// registry past its capacity ceiling.
	ErrCapacityExceeded = errors.New("feed capacity exceeded")

	// ErrNoServers is returned when a reconciliation receives an empty
	// server list.
	ErrNoServers = errors.New("no servers configured")

	// ErrFeedNotFound is returned when removing an unknown address.
	ErrFeedNotFound = errors.New("feed not found")
)

// GamePortLookup resolves subscription addresses to the game ports
// players actually connect to. Implementations may hit storage; the
// registry awaits the lookup before creating feeds.
type GamePortLookup interface {
	GamePorts(ctx context.Context) (map[string]int, error)
}

// RegistryConfig configures a feed registry.
type RegistryConfig struct {
	// Capacity is the feed ceiling; zero means DefaultCapacity.
	Capacity int

	Dialer transport.Dialer
	Timing Timing
	Sink   MatchSink

	// GamePorts is optional enrichment for newly created feeds.
	GamePorts GamePortLookup

	// Now overrides the clock for feeds created by this registry.
	Now func() time.Time
}

// Registry owns the address-keyed map of active feeds. Reconciliation
// is the sole writer; admin mutations go through the same capacity and
// duplicate checks. A failure on one feed never crashes the process:
// errors are returned to the caller and the prior feed set stays up.
type Registry struct {
	// mu guards feeds. Feed-internal state has its own lock; the
	// registry lock is never held while delivering feed events.
	mu    sync.Mutex
	feeds map[string]*Feed

	capacity  int
	dialer    transport.Dialer
	timing    Timing
	sink      MatchSink
	gamePorts GamePortLookup
	now       func() time.Time
	log       zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		feeds:     make(map[string]*Feed),
		capacity:  capacity,
		dialer:    cfg.Dialer,
		timing:    cfg.Timing,
		sink:      cfg.Sink,
		gamePorts: cfg.GamePorts,
		now:       cfg.Now,
		log:       logging.With().Str("component", "registry").Logger(),
	}
}

// Reconcile diffs the desired server list against the active feeds and
// applies the minimal set of changes: feeds whose address and password
// are unchanged are kept (the owner label may change in place),
// removed or re-passworded feeds are torn down, and only then are new
// feeds created, so the transport's handle ceiling is never transiently
// exceeded.
//
// Malformed lines are skipped with a warning. A desired list larger
// than the capacity ceiling rejects the whole reconciliation with no
// changes applied.
func (r *Registry) Reconcile(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return ErrNoServers
	}

	entries := make([]ServerEntry, 0, len(lines))
	for _, line := range lines {
		entry, err := ParseServerEntry(line)
		if err != nil {
			r.log.Warn().Err(err).Msg("ignoring server entry")
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) > r.capacity {
		return fmt.Errorf("%w: %d servers configured, maximum is %d",
			ErrCapacityExceeded, len(entries), r.capacity)
	}

	pending := r.applyKeepAndTeardown(entries)
	if len(pending) == 0 {
		return nil
	}

	// Enrich new feeds with their game ports before creating them.
	// The lookup runs outside the registry lock so feed event
	// processing and snapshot reads are never blocked on storage.
	gamePorts := map[string]int{}
	if r.gamePorts != nil {
		ports, err := r.gamePorts.GamePorts(ctx)
		if err != nil {
			r.log.Warn().Err(err).Msg("game port lookup failed, defaulting to subscription ports")
		} else {
			gamePorts = ports
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range pending {
		_, err := r.addLocked(entry.Owner, entry.IP, entry.Port, entry.Password, gamePorts[entry.Addr()])
		if err != nil {
			// Feeds created earlier in this pass stay up.
			return fmt.Errorf("creating feed %d/%d (%s): %w", i+1, len(pending), entry.Addr(), err)
		}
	}
	metrics.RegistrySize.Set(float64(len(r.feeds)))
	return nil
}

// applyKeepAndTeardown partitions the desired entries against the
// active feeds, tears down stale feeds and returns the entries still
// to be created.
func (r *Registry) applyKeepAndTeardown(entries []ServerEntry) []ServerEntry {
	r.mu.Lock()

	var pending []ServerEntry
	desired := make(map[string]bool, len(entries))
	var stale []*Feed
	for _, entry := range entries {
		if desired[entry.Addr()] {
			r.log.Warn().Str("addr", entry.Addr()).Msg("ignoring duplicate server entry")
			continue
		}
		desired[entry.Addr()] = true

		existing := r.feeds[entry.Addr()]
		if existing != nil && existing.Password() == entry.Password {
			// Unchanged subscription; the owner may change without
			// reconnecting.
			existing.SetOwner(entry.Owner)
			continue
		}
		if existing != nil {
			// Password changed: destroy and recreate rather than
			// mutate, for clean socket and timer teardown.
			stale = append(stale, existing)
			delete(r.feeds, entry.Addr())
		}
		pending = append(pending, entry)
	}
	for addr, feed := range r.feeds {
		if !desired[addr] {
			r.log.Info().Str("addr", addr).Msg("server removed from config, disconnecting")
			stale = append(stale, feed)
			delete(r.feeds, addr)
		}
	}
	metrics.RegistrySize.Set(float64(len(r.feeds)))
	r.mu.Unlock()

	// Teardown happens outside the registry lock (Shutdown takes the
	// feed lock) but strictly before any creation.
	for _, feed := range stale {
		feed.Shutdown()
	}
	return pending
}

// AddFeed creates and connects a feed. Used by reconciliation and the
// admin API; both share the capacity and duplicate checks. gamePort
// zero defaults to the subscription port.
func (r *Registry) AddFeed(owner, ip string, port int, password string, gamePort int) (*Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	feed, err := r.addLocked(owner, ip, port, password, gamePort)
	if err != nil {
		return nil, err
	}
	metrics.RegistrySize.Set(float64(len(r.feeds)))
	return feed, nil
}

func (r *Registry) addLocked(owner, ip string, port int, password string, gamePort int) (*Feed, error) {
	feed := NewFeed(FeedConfig{
		Owner:    owner,
		IP:       ip,
		Port:     port,
		Password: password,
		GamePort: gamePort,
		Dialer:   r.dialer,
		Timing:   r.timing,
		Sink:     r.sink,
		Now:      r.now,
	})
	if _, exists := r.feeds[feed.Addr()]; exists {
		feed.Shutdown()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFeed, feed.Addr())
	}
	if len(r.feeds) >= r.capacity {
		feed.Shutdown()
		return nil, fmt.Errorf("%w: %d feeds active", ErrCapacityExceeded, len(r.feeds))
	}
	feed.Connect(false)
	r.feeds[feed.Addr()] = feed
	return feed, nil
}

// RemoveFeed tears a feed down and removes it from the registry.
func (r *Registry) RemoveFeed(addr string) error {
	r.mu.Lock()
	feed, ok := r.feeds[addr]
	if ok {
		delete(r.feeds, addr)
	}
	metrics.RegistrySize.Set(float64(len(r.feeds)))
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrFeedNotFound, addr)
	}
	feed.Shutdown()
	return nil
}

// Snapshots returns a point-in-time view of every active feed, keyed
// by address.
func (r *Registry) Snapshots() map[string]FeedSnapshot {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, feed := range r.feeds {
		feeds = append(feeds, feed)
	}
	r.mu.Unlock()

	snapshots := make(map[string]FeedSnapshot, len(feeds))
	for _, feed := range feeds {
		snapshots[feed.Addr()] = feed.Snapshot()
	}
	return snapshots
}

// Len returns the number of active feeds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// Shutdown tears down every feed. The registry is unusable afterward.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	feeds := make([]*Feed, 0, len(r.feeds))
	for _, feed := range r.feeds {
		feeds = append(feeds, feed)
	}
	r.feeds = make(map[string]*Feed)
	metrics.RegistrySize.Set(0)
	r.mu.Unlock()

	for _, feed := range feeds {
		feed.Shutdown()
	}
}
