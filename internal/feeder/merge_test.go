// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"testing"

	"github.com/qlstats/feeder/internal/events"
)

func statBlock(steamID string, raw map[string]any) events.PlayerStats {
	raw["STEAM_ID"] = steamID
	return events.PlayerStats{SteamID: steamID, Raw: raw}
}

func TestMergeSumsCountersAcrossTeamSwitch(t *testing.T) {
	t.Parallel()

	blocks := []events.PlayerStats{
		statBlock("7656", map[string]any{
			"TEAM":   float64(1),
			"KILLS":  float64(5),
			"DEATHS": float64(3),
			"DAMAGE": map[string]any{"DEALT": float64(1200), "TAKEN": float64(800)},
		}),
		statBlock("7656", map[string]any{
			"TEAM":   float64(2),
			"KILLS":  float64(3),
			"DEATHS": float64(4),
			"DAMAGE": map[string]any{"DEALT": float64(600), "TAKEN": float64(500)},
		}),
	}

	merged := mergePlayerStats(blocks, nil, 0)
	if len(merged) != 1 {
		t.Fatalf("merged %d blocks, want 1", len(merged))
	}
	stats := merged[0]
	if kills, _ := stats["KILLS"].(float64); kills != 8 {
		t.Errorf("KILLS = %v, want 8", stats["KILLS"])
	}
	if deaths, _ := stats["DEATHS"].(float64); deaths != 7 {
		t.Errorf("DEATHS = %v, want 7", stats["DEATHS"])
	}
	if team, _ := stats["TEAM"].(float64); team != 2 {
		t.Errorf("TEAM = %v, want last block's 2", stats["TEAM"])
	}
	damage, _ := stats["DAMAGE"].(map[string]any)
	if dealt, _ := damage["DEALT"].(float64); dealt != 1800 {
		t.Errorf("DAMAGE.DEALT = %v, want 1800", damage["DEALT"])
	}
}

func TestMergeKeepsBestRank(t *testing.T) {
	t.Parallel()

	blocks := []events.PlayerStats{
		statBlock("7656", map[string]any{"RANK": float64(-1)}),
		statBlock("7656", map[string]any{"RANK": float64(3)}),
		statBlock("7656", map[string]any{"RANK": float64(1)}),
		statBlock("7656", map[string]any{"RANK": float64(2)}),
	}
	merged := mergePlayerStats(blocks, nil, 0)
	if rank, _ := merged[0]["RANK"].(float64); rank != 1 {
		t.Errorf("RANK = %v, want lowest positive 1", merged[0]["RANK"])
	}
}

func TestMergeSubstitutesTrackedPlayTime(t *testing.T) {
	t.Parallel()

	blocks := []events.PlayerStats{
		statBlock("7656", map[string]any{"PLAY_TIME": float64(1200)}),
		statBlock("7657", map[string]any{"PLAY_TIME": float64(950)}),
	}
	playTimes := map[string][3]int{
		"7656": {0, 300, 200},
	}

	merged := mergePlayerStats(blocks, playTimes, 600)
	byID := make(map[string]map[string]any)
	for _, stats := range merged {
		id, _ := stats["STEAM_ID"].(string)
		byID[id] = stats
	}

	// Tracked player gets the accumulator, not the upstream value.
	if pt, _ := byID["7656"]["PLAY_TIME"].(float64); pt != 500 {
		t.Errorf("tracked PLAY_TIME = %v, want 500", byID["7656"]["PLAY_TIME"])
	}
	// Untracked player keeps upstream, clamped to the match length.
	if pt, _ := byID["7657"]["PLAY_TIME"].(float64); pt != 600 {
		t.Errorf("untracked PLAY_TIME = %v, want clamped 600", byID["7657"]["PLAY_TIME"])
	}
}

func TestMergePreservesBlockOrder(t *testing.T) {
	t.Parallel()

	blocks := []events.PlayerStats{
		statBlock("3", map[string]any{}),
		statBlock("1", map[string]any{}),
		statBlock("2", map[string]any{}),
		statBlock("1", map[string]any{}),
	}
	merged := mergePlayerStats(blocks, nil, 0)
	want := []string{"3", "1", "2"}
	if len(merged) != len(want) {
		t.Fatalf("merged %d blocks, want %d", len(merged), len(want))
	}
	for i, id := range want {
		if got, _ := merged[i]["STEAM_ID"].(string); got != id {
			t.Errorf("merged[%d] = %q, want %q", i, got, id)
		}
	}
}

func TestMergeDoesNotMutateSource(t *testing.T) {
	t.Parallel()

	raw := map[string]any{"KILLS": float64(5)}
	blocks := []events.PlayerStats{
		statBlock("7656", raw),
		statBlock("7656", map[string]any{"KILLS": float64(2)}),
	}
	mergePlayerStats(blocks, nil, 0)
	if kills, _ := raw["KILLS"].(float64); kills != 5 {
		t.Errorf("source block mutated, KILLS = %v, want 5", raw["KILLS"])
	}
}
