// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"strconv"

	"github.com/qlstats/feeder/internal/events"
)

// RoundResult summarizes one completed round.
type RoundResult struct {
	TeamWon events.Team `json:"teamWon"`
	// Length is the round length in seconds.
	Length int `json:"roundLength"`
	// Teams lists the steam IDs credited with participating, per
	// playing team (red, blue).
	Teams map[events.Team][]string `json:"TEAMS"`
}

// RoundCount counts the rounds a player participated in, per team.
type RoundCount struct {
	Red  int `json:"r"`
	Blue int `json:"b"`
}

// RoundInfo aggregates round participation for a finished match.
type RoundInfo struct {
	Total   int                   `json:"total"`
	Players map[string]RoundCount `json:"players"`
}

// PlayTimeInfo aggregates accumulated play time for a finished match.
// Each player entry holds seconds on [free, red, blue].
type PlayTimeInfo struct {
	Total   int               `json:"total"`
	Players map[string][3]int `json:"players"`
}

// MatchResult is the finished-match record emitted to the event sink.
// The JSON field names match the feeder's archival format, which the
// downstream rating and persistence consumers already read.
type MatchResult struct {
	// IngestID uniquely identifies this ingestion of the match.
	IngestID string `json:"ingestId"`

	ServerOwner string `json:"serverOwner,omitempty"`
	ServerIP    string `json:"serverIp"`
	ServerPort  int    `json:"serverPort"`

	GameType string `json:"gameType"`
	Factory  string `json:"factory,omitempty"`

	// GameEndTimestamp is the match end in unix seconds; the rating
	// engine buckets it into its Glicko period.
	GameEndTimestamp int64 `json:"gameEndTimestamp"`

	// MatchStats is the raw MATCH_REPORT payload as received.
	MatchStats map[string]any `json:"matchStats"`

	// PlayerStats holds one merged stat block per player (counters
	// summed across team switches, best rank kept, play time
	// substituted from the accumulators).
	PlayerStats []map[string]any `json:"playerStats"`

	Rounds       *RoundInfo    `json:"roundCount,omitempty"`
	PlayTimes    *PlayTimeInfo `json:"playTimes,omitempty"`
	RoundResults []RoundResult `json:"roundStats,omitempty"`

	Quitters []string `json:"quitters"`
}

// Addr returns the source server's subscription address.
func (r *MatchResult) Addr() string {
	return r.ServerIP + ":" + strconv.Itoa(r.ServerPort)
}

// MatchGUID returns the server-assigned match GUID, or "" when the
// report lacked one.
func (r *MatchResult) MatchGUID() string {
	guid, _ := r.MatchStats["MATCH_GUID"].(string)
	return guid
}

// GameLength returns the match length in seconds as reported upstream,
// preferring the accumulator total when play-time tracking was active.
func (r *MatchResult) GameLength() int {
	if r.PlayTimes != nil && r.PlayTimes.Total > 0 {
		return r.PlayTimes.Total
	}
	if length, ok := r.MatchStats["GAME_LENGTH"].(float64); ok {
		return int(length)
	}
	return 0
}

// Aborted reports whether the upstream report flagged the match as
// aborted. Aborted matches are never emitted, so this is a guard for
// replayed archives.
func (r *MatchResult) Aborted() bool {
	aborted, _ := r.MatchStats["ABORTED"].(bool)
	return aborted
}
