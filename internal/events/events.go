// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package events defines the Quake Live stats wire protocol.
//
// Game servers publish JSON envelopes of the form
//
//	{"TYPE": "PLAYER_KILL", "DATA": {...}}
//
// over their ZeroMQ stats socket. Parse decodes one envelope into a typed
// event so the match session operates on an exhaustively-matched union
// instead of untyped maps. Unknown TYPE values decode to Unknown and are
// ignored downstream; a malformed envelope is an error for the caller to
// log, never a reason to abort the session.
package events

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Team is a Quake Live team number.
type Team int

// Team numbers as used on the wire. TeamUnset marks a player whose team
// has not been seen yet.
const (
	TeamUnset     Team = -1
	TeamFree      Team = 0
	TeamRed       Team = 1
	TeamBlue      Team = 2
	TeamSpectator Team = 3
)

// Opponent returns the opposing playing team, or TeamUnset for
// non-playing teams.
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	default:
		return TeamUnset
	}
}

// Playing reports whether t is one of the play-time tracked teams
// (free, red, blue).
func (t Team) Playing() bool {
	return t >= TeamFree && t <= TeamBlue
}

// UnmarshalJSON accepts both wire forms of a team: a number (0..3) or a
// name ("FREE", "RED", "BLUE", "SPECTATOR").
func (t *Team) UnmarshalJSON(data []byte) error {
	var num int
	if err := json.Unmarshal(data, &num); err == nil {
		*t = Team(num)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("team: %w", err)
	}
	switch name {
	case "FREE":
		*t = TeamFree
	case "RED":
		*t = TeamRed
	case "BLUE":
		*t = TeamBlue
	case "SPECTATOR":
		*t = TeamSpectator
	default:
		*t = TeamUnset
	}
	return nil
}

// Kind identifies the event type of the tagged union.
type Kind string

// Wire TYPE values.
const (
	KindMatchStarted     Kind = "MATCH_STARTED"
	KindPlayerConnect    Kind = "PLAYER_CONNECT"
	KindPlayerDisconnect Kind = "PLAYER_DISCONNECT"
	KindPlayerSwitchTeam Kind = "PLAYER_SWITCHTEAM"
	KindPlayerKill       Kind = "PLAYER_KILL"
	KindPlayerDeath      Kind = "PLAYER_DEATH"
	KindRoundOver        Kind = "ROUND_OVER"
	KindPlayerStats      Kind = "PLAYER_STATS"
	KindMatchReport      Kind = "MATCH_REPORT"
	KindUnknown          Kind = ""
)

// Event is one decoded stats event.
type Event interface {
	Kind() Kind
}

// PlayerRef identifies a player within an event payload.
type PlayerRef struct {
	SteamID string `json:"STEAM_ID"`
	Name    string `json:"NAME"`
	Team    Team   `json:"TEAM"`
}

// MatchStarted begins a new match.
type MatchStarted struct {
	GameType string `json:"GAME_TYPE"`
	Factory  string `json:"FACTORY"`
	Map      string `json:"MAP"`
}

// Kind implements Event.
func (MatchStarted) Kind() Kind { return KindMatchStarted }

// PlayerConnect reports a player joining the server (always a spectator
// until a team event arrives).
type PlayerConnect struct {
	PlayerRef
}

// Kind implements Event.
func (PlayerConnect) Kind() Kind { return KindPlayerConnect }

// PlayerDisconnect reports a player leaving the server.
type PlayerDisconnect struct {
	PlayerRef
}

// Kind implements Event.
func (PlayerDisconnect) Kind() Kind { return KindPlayerDisconnect }

// PlayerSwitchTeam reports a team change. The wire payload nests the
// switching player under KILLER.
type PlayerSwitchTeam struct {
	Player PlayerRef
}

// Kind implements Event.
func (PlayerSwitchTeam) Kind() Kind { return KindPlayerSwitchTeam }

// PlayerKill reports a frag.
type PlayerKill struct {
	Killer PlayerRef `json:"KILLER"`
	Victim PlayerRef `json:"VICTIM"`
}

// Kind implements Event.
func (PlayerKill) Kind() Kind { return KindPlayerKill }

// PlayerDeath reports a death without crediting a killer (world deaths,
// suicides).
type PlayerDeath struct {
	Victim PlayerRef `json:"VICTIM"`
}

// Kind implements Event.
func (PlayerDeath) Kind() Kind { return KindPlayerDeath }

// RoundOver closes a round in round-based game types.
type RoundOver struct {
	TeamWon Team `json:"TEAM_WON"`
}

// Kind implements Event.
func (RoundOver) Kind() Kind { return KindRoundOver }

// PlayerStats is one per-player stat block. A match can emit several
// partial blocks per player before the final report. Raw retains the
// full decoded payload for merging and archival; the typed fields cover
// what the session needs to route the block.
type PlayerStats struct {
	SteamID string
	Name    string
	Team    Team
	Warmup  bool
	Raw     map[string]any
}

// Kind implements Event.
func (PlayerStats) Kind() Kind { return KindPlayerStats }

// MatchReport ends a match. Raw retains the full decoded payload, which
// is carried through to the finished-match record unmodified.
type MatchReport struct {
	Aborted      bool
	MatchGUID    string
	GameType     string
	Factory      string
	FactoryTitle string
	Map          string
	ServerTitle  string
	GameLength   int
	TScore0      int
	TScore1      int
	Raw          map[string]any
}

// Kind implements Event.
func (MatchReport) Kind() Kind { return KindMatchReport }

// Unknown is an event with an unrecognized TYPE.
type Unknown struct {
	Type string
}

// Kind implements Event.
func (Unknown) Kind() Kind { return KindUnknown }
