// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"math/rand/v2"
	"time"
)

// Timing holds the tuned intervals driving feed and session timers.
// The values are empirically calibrated against live Quake Live server
// behavior; treat them as product constants, not knobs to re-derive.
type Timing struct {
	// ConnectAttemptTimeout bounds how long a connect attempt may keep
	// retrying before the server is considered offline.
	ConnectAttemptTimeout time.Duration

	// OfflineRetryInterval is the backoff before reconnecting to a
	// server classified as offline or rejecting the password.
	OfflineRetryInterval time.Duration

	// IdleTimeout forces a reconnect when no message arrived for this
	// long. QL servers silently stop publishing after a while without
	// closing the socket.
	IdleTimeout time.Duration

	// WrongPasswordWindow classifies a disconnect this close after a
	// successful connect as an authentication failure.
	WrongPasswordWindow time.Duration

	// FirstSnapshotDelay is the time between MATCH_STARTED and the
	// first round-participation snapshot ("prepare to fight! round
	// begins in: 10 ... FIGHT!").
	FirstSnapshotDelay time.Duration

	// NextSnapshotDelay is the time between ROUND_OVER and the next
	// round's snapshot (includes the win announcement).
	NextSnapshotDelay time.Duration

	// LateStatsGrace is how close before the next MATCH_STARTED a
	// buffered post-report stat block must have arrived to still be
	// attached to the new session.
	LateStatsGrace time.Duration

	// PlayerRetention is how long an inactive player survives in the
	// session after a match report before being pruned.
	PlayerRetention time.Duration

	// JitterFraction spreads retry and idle timers by ±fraction so a
	// fleet of feeds does not reconnect in lockstep.
	JitterFraction float64
}

// DefaultTiming returns the production intervals.
func DefaultTiming() Timing {
	return Timing{
		ConnectAttemptTimeout: 60 * time.Second,
		OfflineRetryInterval:  5 * time.Minute,
		IdleTimeout:           15 * time.Minute,
		WrongPasswordWindow:   5 * time.Second,
		FirstSnapshotDelay:    10 * time.Second,
		NextSnapshotDelay:     14 * time.Second,
		LateStatsGrace:        30 * time.Second,
		PlayerRetention:       2 * time.Hour,
		JitterFraction:        0.1,
	}
}

// jittered returns d shifted by a uniform random offset within
// ±d*JitterFraction.
func (t Timing) jittered(d time.Duration) time.Duration {
	if t.JitterFraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * t.JitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}
