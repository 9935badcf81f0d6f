// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package feeder is the live ingestion engine: it maintains one stats
// subscription per configured game server and folds each server's
// event stream into finished-match records.
//
// The package has three parts:
//
//   - Feed: the connection-lifecycle state machine for one server
//     (connect attempts, wrong-password detection, idle reconnects).
//   - MatchSession: the per-feed aggregation state machine that turns
//     raw events into round, team and play-time aggregates.
//   - Registry: the address-keyed feed map and the reconciliation
//     algorithm that syncs it against the configured server list under
//     a hard capacity ceiling.
//
// Each feed is a single logical actor: its state and timers are only
// touched under its own mutex, by its own transport callbacks and its
// own scheduled timers. Feeds share no mutable state with each other;
// the registry map is the only cross-feed structure.
package feeder
