// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package report

import (
	"strings"
	"testing"

	"github.com/qlstats/feeder/internal/feeder"
)

func player(steamID, name string, team int, extra map[string]any) map[string]any {
	p := map[string]any{
		"STEAM_ID":  steamID,
		"NAME":      name,
		"TEAM":      float64(team),
		"RANK":      float64(1),
		"SCORE":     float64(10),
		"KILLS":     float64(10),
		"DEATHS":    float64(5),
		"PLAY_TIME": float64(600),
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func duelResult() *feeder.MatchResult {
	return &feeder.MatchResult{
		ServerIP:         "10.0.0.1",
		ServerPort:       27960,
		GameType:         "duel",
		GameEndTimestamp: 1700000000,
		MatchStats: map[string]any{
			"MATCH_GUID":   "guid-1",
			"SERVER_TITLE": "Test Server",
			"MAP":          "bloodrun",
			"FACTORY":      "duel",
			"GAME_LENGTH":  float64(600),
		},
		PlayerStats: []map[string]any{
			player("111", "alpha", 0, nil),
			player("222", "beta", 0, map[string]any{"RANK": float64(2)}),
		},
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		mutate     func(*feeder.MatchResult)
		wantOK     bool
		wantReason string
	}{
		{
			name:   "duel with two players",
			mutate: func(*feeder.MatchResult) {},
			wantOK: true,
		},
		{
			name: "aborted",
			mutate: func(r *feeder.MatchResult) {
				r.MatchStats["ABORTED"] = true
			},
			wantOK:     false,
			wantReason: SkipAborted,
		},
		{
			name: "untracked factory",
			mutate: func(r *feeder.MatchResult) {
				r.MatchStats["FACTORY_TITLE"] = "UnTracked test factory"
			},
			wantOK:     false,
			wantReason: SkipUntracked,
		},
		{
			name: "duel with one player",
			mutate: func(r *feeder.MatchResult) {
				r.PlayerStats = r.PlayerStats[:1]
			},
			wantOK:     false,
			wantReason: SkipTooFew,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := duelResult()
			tc.mutate(result)
			ok, reason := Eligible(result)
			if ok != tc.wantOK || reason != tc.wantReason {
				t.Errorf("Eligible() = %v/%q, want %v/%q", ok, reason, tc.wantOK, tc.wantReason)
			}
		})
	}
}

func TestEligibleTeamGameNeedsTwoPerSide(t *testing.T) {
	t.Parallel()

	result := &feeder.MatchResult{
		GameType:   "ca",
		MatchStats: map[string]any{},
		PlayerStats: []map[string]any{
			player("1", "a", 1, nil),
			player("2", "b", 1, nil),
			player("3", "c", 2, nil),
		},
	}
	if ok, reason := Eligible(result); ok || reason != SkipTooFew {
		t.Errorf("Eligible() = %v/%q, want short blue side rejected", ok, reason)
	}

	result.PlayerStats = append(result.PlayerStats, player("4", "d", 2, nil))
	if ok, reason := Eligible(result); !ok || reason != "" {
		t.Errorf("Eligible() = %v/%q, want 2v2 accepted", ok, reason)
	}
}

func TestEligibleRace(t *testing.T) {
	t.Parallel()

	result := &feeder.MatchResult{
		GameType:    "race",
		MatchStats:  map[string]any{},
		PlayerStats: []map[string]any{player("1", "a", 0, nil)},
	}
	if ok, reason := Eligible(result); !ok {
		t.Errorf("Eligible() = false/%q, want single racer accepted", reason)
	}
}

func TestEligibleRedRoverCountsAllTeams(t *testing.T) {
	t.Parallel()

	result := &feeder.MatchResult{
		GameType:   "rr",
		MatchStats: map[string]any{},
		PlayerStats: []map[string]any{
			player("1", "a", 1, nil),
			player("2", "b", 1, nil),
			player("3", "c", 2, nil),
			player("4", "d", 2, nil),
		},
	}
	if ok, reason := Eligible(result); !ok {
		t.Errorf("Eligible() = false/%q, want 4 players accepted", reason)
	}
}

func TestBuildHeader(t *testing.T) {
	t.Parallel()

	lines := strings.Split(Build(duelResult()), "\n")
	want := []string{
		"0 10.0.0.1",
		"1 1700000000",
		"S Test Server",
		"I guid-1",
		"G duel",
		"M bloodrun",
		"O duel",
		"V 7",
		"R .1",
		"U 27960",
		"D 600",
	}
	if len(lines) < len(want) {
		t.Fatalf("report has %d lines, want at least %d", len(lines), len(want))
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestBuildFreeScoreboard(t *testing.T) {
	t.Parallel()

	report := Build(duelResult())
	for _, line := range []string{
		"P 111",
		"n alpha",
		"e matches 1",
		"e scoreboardvalid 1",
		"e alivetime 600",
		"e rank 1",
		"e scoreboard-score 10",
		"e scoreboard-kills 10",
		"e scoreboard-deaths 5",
	} {
		if !strings.Contains(report, line+"\n") && !strings.HasSuffix(report, line) {
			t.Errorf("report missing line %q", line)
		}
	}

	// Only the rank 1 player wins; no team records in a free game.
	if got := strings.Count(report, "\ne wins 1"); got != 1 {
		t.Errorf("wins lines = %d, want 1", got)
	}
	if strings.Contains(report, "\nt ") {
		t.Error("free scoreboard must not carry team records")
	}
	if strings.Contains(report, "Q team#") {
		t.Error("free game must not carry team summaries")
	}
}

func TestBuildTeamGame(t *testing.T) {
	t.Parallel()

	result := &feeder.MatchResult{
		ServerIP:         "10.0.0.1",
		ServerPort:       27960,
		GameType:         "ca",
		GameEndTimestamp: 1700000000,
		MatchStats: map[string]any{
			"MATCH_GUID":  "guid-2",
			"GAME_LENGTH": float64(900),
			"TSCORE0":     float64(10),
			"TSCORE1":     float64(4),
		},
		PlayerStats: []map[string]any{
			player("1", "r1", 1, nil),
			player("2", "r2", 1, nil),
			player("3", "b1", 2, nil),
			player("4", "b2", 2, nil),
		},
		Rounds: &feeder.RoundInfo{
			Total: 14,
			Players: map[string]feeder.RoundCount{
				"1": {Red: 14},
				"3": {Blue: 12},
			},
		},
	}

	report := Build(result)
	lines := strings.Split(report, "\n")

	redSummary := indexOf(lines, "Q team#1")
	blueSummary := indexOf(lines, "Q team#2")
	if redSummary < 0 || blueSummary < 0 || redSummary > blueSummary {
		t.Fatalf("team summaries at %d/%d, want red before blue", redSummary, blueSummary)
	}
	if lines[redSummary+1] != "e scoreboard-rounds 10" {
		t.Errorf("red summary = %q, want rounds 10", lines[redSummary+1])
	}
	if lines[blueSummary+1] != "e scoreboard-rounds 4" {
		t.Errorf("blue summary = %q, want rounds 4", lines[blueSummary+1])
	}

	if !strings.Contains(report, "\n2 14\n") {
		t.Error("missing round total record")
	}
	if !strings.Contains(report, "\ne scoreboard-lives 14\n") {
		t.Error("missing red lives record")
	}
	if !strings.Contains(report, "\nt 1\n") || !strings.Contains(report, "\nt 2\n") {
		t.Error("missing team records")
	}

	// Red won, so both red players carry the win marker.
	if got := strings.Count(report, "\ne wins 1"); got != 2 {
		t.Errorf("wins lines = %d, want 2", got)
	}
}

func TestBuildWeaponAccuracy(t *testing.T) {
	t.Parallel()

	result := duelResult()
	result.PlayerStats = []map[string]any{
		player("111", "alpha", 0, map[string]any{
			"WEAPONS": map[string]any{
				"RAILGUN": map[string]any{
					"S": float64(40), "H": float64(22), "K": float64(7),
					"DG": float64(1760), "DR": float64(0),
				},
				// No kill count recorded: the weapon is skipped.
				"SHOTGUN": map[string]any{"S": float64(10), "H": float64(3)},
			},
		}),
		player("222", "beta", 0, nil),
	}

	report := Build(result)
	for _, line := range []string{
		"e acc-rg-cnt-fired 40",
		"e acc-rg-cnt-hit 22",
		"e acc-rg-frags 7",
		"e acc-rg-fired 1760",
		"e acc-rg-hit 0",
	} {
		if !strings.Contains(report, line) {
			t.Errorf("report missing %q", line)
		}
	}
	if strings.Contains(report, "acc-sg-") {
		t.Error("weapon without kill count must be skipped")
	}
}

func TestBuildMedals(t *testing.T) {
	t.Parallel()

	result := duelResult()
	result.PlayerStats = []map[string]any{
		player("111", "alpha", 0, map[string]any{
			"MEDALS": map[string]any{
				"IMPRESSIVE": float64(3),
				"EXCELLENT":  float64(2),
			},
		}),
		player("222", "beta", 0, nil),
	}

	report := Build(result)
	if !strings.Contains(report, "e medal-impressive 3") {
		t.Error("missing impressive medal record")
	}
	if !strings.Contains(report, "e medal-excellent 2") {
		t.Error("missing excellent medal record")
	}

	// Medal lines come out in name order so repeated builds of the same
	// result produce identical reports.
	lines := strings.Split(report, "\n")
	excellent := indexOf(lines, "e medal-excellent 2")
	impressive := indexOf(lines, "e medal-impressive 3")
	if excellent < 0 || impressive < 0 || excellent > impressive {
		t.Errorf("medal lines at %d/%d, want excellent before impressive", excellent, impressive)
	}
}

func TestBuildClampsAliveTime(t *testing.T) {
	t.Parallel()

	result := duelResult()
	result.PlayerStats[0]["PLAY_TIME"] = float64(4000)

	report := Build(result)
	if !strings.Contains(report, "e alivetime 600") {
		t.Error("alive time not clamped to game length")
	}
	if strings.Contains(report, "e alivetime 4000") {
		t.Error("unclamped alive time leaked into the report")
	}
}

func indexOf(lines []string, want string) int {
	for i, line := range lines {
		if line == want {
			return i
		}
	}
	return -1
}
