// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package events

import (
	"fmt"

	"github.com/goccy/go-json"
)

type envelope struct {
	Type string          `json:"TYPE"`
	Data json.RawMessage `json:"DATA"`
}

// Parse decodes one stats envelope into a typed event.
//
// An envelope with an unrecognized TYPE returns Unknown with a nil
// error; only malformed JSON or a payload that does not match its
// declared TYPE is an error.
func Parse(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch Kind(env.Type) {
	case KindMatchStarted:
		var ev MatchStarted
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindPlayerConnect:
		var ev PlayerConnect
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindPlayerDisconnect:
		var ev PlayerDisconnect
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindPlayerSwitchTeam:
		// The switching player is nested under KILLER; the KILLER.TEAM
		// field carries the destination team.
		var payload struct {
			Killer PlayerRef `json:"KILLER"`
		}
		if err := decodeData(env, &payload); err != nil {
			return nil, err
		}
		return PlayerSwitchTeam{Player: payload.Killer}, nil

	case KindPlayerKill:
		var ev PlayerKill
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindPlayerDeath:
		var ev PlayerDeath
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindRoundOver:
		var ev RoundOver
		if err := decodeData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case KindPlayerStats:
		return parsePlayerStats(env)

	case KindMatchReport:
		return parseMatchReport(env)

	default:
		return Unknown{Type: env.Type}, nil
	}
}

func decodeData(env envelope, v any) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

func parsePlayerStats(env envelope) (Event, error) {
	var typed struct {
		SteamID string `json:"STEAM_ID"`
		Name    string `json:"NAME"`
		Team    Team   `json:"TEAM"`
		Warmup  bool   `json:"WARMUP"`
	}
	if err := decodeData(env, &typed); err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := decodeData(env, &raw); err != nil {
		return nil, err
	}
	return PlayerStats{
		SteamID: typed.SteamID,
		Name:    typed.Name,
		Team:    typed.Team,
		Warmup:  typed.Warmup,
		Raw:     raw,
	}, nil
}

func parseMatchReport(env envelope) (Event, error) {
	var typed struct {
		Aborted      bool   `json:"ABORTED"`
		MatchGUID    string `json:"MATCH_GUID"`
		GameType     string `json:"GAME_TYPE"`
		Factory      string `json:"FACTORY"`
		FactoryTitle string `json:"FACTORY_TITLE"`
		Map          string `json:"MAP"`
		ServerTitle  string `json:"SERVER_TITLE"`
		GameLength   int    `json:"GAME_LENGTH"`
		TScore0      int    `json:"TSCORE0"`
		TScore1      int    `json:"TSCORE1"`
	}
	if err := decodeData(env, &typed); err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := decodeData(env, &raw); err != nil {
		return nil, err
	}
	return MatchReport{
		Aborted:      typed.Aborted,
		MatchGUID:    typed.MatchGUID,
		GameType:     typed.GameType,
		Factory:      typed.Factory,
		FactoryTitle: typed.FactoryTitle,
		Map:          typed.Map,
		ServerTitle:  typed.ServerTitle,
		GameLength:   typed.GameLength,
		TScore0:      typed.TScore0,
		TScore1:      typed.TScore1,
		Raw:          raw,
	}, nil
}
