// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qlstats/feeder/internal/events"
)

var sessionBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestSession() *MatchSession {
	return NewMatchSession("owner", "10.0.0.1", 27960, DefaultTiming(), zerolog.Nop())
}

func switchTeam(s *MatchSession, steamID string, team events.Team, now time.Time) {
	s.Handle(events.PlayerSwitchTeam{
		Player: events.PlayerRef{SteamID: steamID, Name: "p" + steamID, Team: team},
	}, now)
}

func startMatch(s *MatchSession, gameType string, now time.Time) SessionUpdate {
	return s.Handle(events.MatchStarted{GameType: gameType, Factory: gameType}, now)
}

func finishMatch(s *MatchSession, now time.Time) SessionUpdate {
	return s.Handle(events.MatchReport{
		GameLength: 600,
		Raw:        map[string]any{"MATCH_GUID": "guid-1", "GAME_LENGTH": float64(600)},
	}, now)
}

func TestMatchStartedSchedulesFirstSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	update := startMatch(s, "CA", sessionBase)
	if !s.Active() {
		t.Fatal("session not active after MATCH_STARTED")
	}
	if s.GameType() != "ca" {
		t.Errorf("GameType() = %q, want lowercased ca", s.GameType())
	}
	if update.SnapshotDelay != DefaultTiming().FirstSnapshotDelay {
		t.Errorf("SnapshotDelay = %v, want %v", update.SnapshotDelay, DefaultTiming().FirstSnapshotDelay)
	}
}

func TestQuitterPenalizedWhenLeavingSmallerTeam(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "r2", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	switchTeam(s, "b2", events.TeamBlue, sessionBase)
	switchTeam(s, "b3", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)

	s.Handle(events.PlayerDisconnect{
		PlayerRef: events.PlayerRef{SteamID: "r1"},
	}, sessionBase.Add(2*time.Minute))

	update := finishMatch(s, sessionBase.Add(10*time.Minute))
	if update.Result == nil {
		t.Fatal("no result emitted")
	}
	if len(update.Result.Quitters) != 1 || update.Result.Quitters[0] != "r1" {
		t.Errorf("Quitters = %v, want [r1]", update.Result.Quitters)
	}
}

func TestQuitterExemptWhenTeamNotOutnumbered(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "r2", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	switchTeam(s, "b2", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)

	s.Handle(events.PlayerDisconnect{
		PlayerRef: events.PlayerRef{SteamID: "r1"},
	}, sessionBase.Add(2*time.Minute))

	update := finishMatch(s, sessionBase.Add(10*time.Minute))
	if update.Result == nil {
		t.Fatal("no result emitted")
	}
	if len(update.Result.Quitters) != 0 {
		t.Errorf("Quitters = %v, want none", update.Result.Quitters)
	}
}

func TestQuitterExemptWhenAlreadyHopelesslyOutnumbered(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	switchTeam(s, "b2", events.TeamBlue, sessionBase)
	switchTeam(s, "b3", events.TeamBlue, sessionBase)
	switchTeam(s, "b4", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)

	switchTeam(s, "r1", events.TeamSpectator, sessionBase.Add(time.Minute))

	update := finishMatch(s, sessionBase.Add(10*time.Minute))
	if update.Result == nil {
		t.Fatal("no result emitted")
	}
	if len(update.Result.Quitters) != 0 {
		t.Errorf("Quitters = %v, want none", update.Result.Quitters)
	}
}

func TestQuitterNotFlaggedBeforeMatch(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	switchTeam(s, "b2", events.TeamBlue, sessionBase)

	// Leaving during warmup is always free.
	s.Handle(events.PlayerDisconnect{
		PlayerRef: events.PlayerRef{SteamID: "r1"},
	}, sessionBase)

	startMatch(s, "CA", sessionBase.Add(time.Minute))
	update := finishMatch(s, sessionBase.Add(10*time.Minute))
	if update.Result == nil {
		t.Fatal("no result emitted")
	}
	if len(update.Result.Quitters) != 0 {
		t.Errorf("Quitters = %v, want none", update.Result.Quitters)
	}
}

func TestRoundPlayTimeCreditedToSnapshottedTeam(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)

	s.TakeRoundSnapshot(s.Epoch())
	roundEnd := sessionBase.Add(90 * time.Second)
	update := s.Handle(events.RoundOver{TeamWon: events.TeamRed}, roundEnd)
	if update.SnapshotDelay != DefaultTiming().NextSnapshotDelay {
		t.Errorf("SnapshotDelay = %v, want %v", update.SnapshotDelay, DefaultTiming().NextSnapshotDelay)
	}

	s.TakeRoundSnapshot(s.Epoch())
	update = s.Handle(events.RoundOver{TeamWon: events.TeamBlue}, roundEnd.Add(60*time.Second))
	if update.Result != nil {
		t.Fatal("round over must not finish the match")
	}

	result := finishMatch(s, roundEnd.Add(70*time.Second)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if result.PlayTimes == nil {
		t.Fatal("no play time info")
	}
	if result.PlayTimes.Total != 150 {
		t.Errorf("total play time = %d, want 150", result.PlayTimes.Total)
	}
	if got := result.PlayTimes.Players["r1"]; got != [3]int{0, 150, 0} {
		t.Errorf("r1 play time = %v, want 150s red", got)
	}
	if got := result.PlayTimes.Players["b1"]; got != [3]int{0, 0, 150} {
		t.Errorf("b1 play time = %v, want 150s blue", got)
	}
	if result.Rounds == nil || result.Rounds.Total != 2 {
		t.Fatalf("rounds = %+v, want total 2", result.Rounds)
	}
	if got := result.Rounds.Players["r1"]; got != (RoundCount{Red: 2}) {
		t.Errorf("r1 rounds = %+v, want 2 red", got)
	}
	if len(result.RoundResults) != 2 {
		t.Fatalf("round results = %d, want 2", len(result.RoundResults))
	}
	if result.RoundResults[0].TeamWon != events.TeamRed || result.RoundResults[0].Length != 90 {
		t.Errorf("round 1 = %+v, want red win after 90s", result.RoundResults[0])
	}
}

func TestLateJoinerNotCreditedForRunningRound(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)
	s.TakeRoundSnapshot(s.Epoch())

	// Joins after the round snapshot fired.
	switchTeam(s, "late", events.TeamRed, sessionBase.Add(30*time.Second))

	s.Handle(events.RoundOver{TeamWon: events.TeamRed}, sessionBase.Add(90*time.Second))
	result := finishMatch(s, sessionBase.Add(2*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if _, tracked := result.PlayTimes.Players["late"]; tracked {
		t.Errorf("late joiner credited with play time: %v", result.PlayTimes.Players["late"])
	}
}

func TestStaleSnapshotEpochIsNoOp(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "r1", events.TeamRed, sessionBase)
	switchTeam(s, "b1", events.TeamBlue, sessionBase)
	startMatch(s, "CA", sessionBase)

	stale := s.Epoch()
	s.Handle(events.RoundOver{TeamWon: events.TeamRed}, sessionBase.Add(90*time.Second))

	// The round over bumped the epoch; the pending timer must not
	// credit anyone for the new round.
	s.TakeRoundSnapshot(stale)
	s.Handle(events.RoundOver{TeamWon: events.TeamBlue}, sessionBase.Add(3*time.Minute))

	result := finishMatch(s, sessionBase.Add(4*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if len(result.PlayTimes.Players) != 0 {
		t.Errorf("play time credited from stale snapshot: %v", result.PlayTimes.Players)
	}
}

func TestNonRoundGamePlayTimeFromTimestamps(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "p1", events.TeamFree, sessionBase)
	switchTeam(s, "p2", events.TeamFree, sessionBase)
	startMatch(s, "FFA", sessionBase)

	result := finishMatch(s, sessionBase.Add(10*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if result.PlayTimes.Total != 600 {
		t.Errorf("total play time = %d, want 600", result.PlayTimes.Total)
	}
	if got := result.PlayTimes.Players["p1"]; got != [3]int{600, 0, 0} {
		t.Errorf("p1 play time = %v, want 600s free", got)
	}
}

func TestStatsMergedPerPlayerInResult(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	switchTeam(s, "7656", events.TeamRed, sessionBase)
	startMatch(s, "CA", sessionBase)

	s.Handle(events.PlayerStats{
		SteamID: "7656",
		Team:    events.TeamRed,
		Raw:     map[string]any{"STEAM_ID": "7656", "KILLS": float64(5)},
	}, sessionBase.Add(time.Minute))
	s.Handle(events.PlayerStats{
		SteamID: "7656",
		Team:    events.TeamBlue,
		Raw:     map[string]any{"STEAM_ID": "7656", "KILLS": float64(3)},
	}, sessionBase.Add(2*time.Minute))

	result := finishMatch(s, sessionBase.Add(3*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if len(result.PlayerStats) != 1 {
		t.Fatalf("player stats = %d entries, want 1", len(result.PlayerStats))
	}
	if kills, _ := result.PlayerStats[0]["KILLS"].(float64); kills != 8 {
		t.Errorf("KILLS = %v, want 8", result.PlayerStats[0]["KILLS"])
	}
}

func TestWarmupStatsIgnored(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	startMatch(s, "CA", sessionBase)
	s.Handle(events.PlayerStats{
		SteamID: "7656",
		Warmup:  true,
		Raw:     map[string]any{"STEAM_ID": "7656", "KILLS": float64(9)},
	}, sessionBase.Add(time.Minute))

	result := finishMatch(s, sessionBase.Add(2*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if len(result.PlayerStats) != 0 {
		t.Errorf("warmup stats leaked into result: %v", result.PlayerStats)
	}
}

func TestLateStatsSalvagedIntoNextMatch(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	startMatch(s, "CA", sessionBase)
	finishMatch(s, sessionBase.Add(5*time.Minute))

	// The stat block straggles in after the report.
	lateAt := sessionBase.Add(5*time.Minute + 2*time.Second)
	s.Handle(events.PlayerStats{
		SteamID: "7656",
		Raw:     map[string]any{"STEAM_ID": "7656", "KILLS": float64(4)},
	}, lateAt)

	startMatch(s, "CA", lateAt.Add(10*time.Second))
	result := finishMatch(s, lateAt.Add(6*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if len(result.PlayerStats) != 1 {
		t.Fatalf("salvaged stats = %d entries, want 1", len(result.PlayerStats))
	}
}

func TestStaleLateStatsDiscarded(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	startMatch(s, "CA", sessionBase)
	finishMatch(s, sessionBase.Add(5*time.Minute))

	lateAt := sessionBase.Add(5*time.Minute + 2*time.Second)
	s.Handle(events.PlayerStats{
		SteamID: "7656",
		Raw:     map[string]any{"STEAM_ID": "7656", "KILLS": float64(4)},
	}, lateAt)

	// Next match starts well past the grace window.
	startMatch(s, "CA", lateAt.Add(DefaultTiming().LateStatsGrace+time.Minute))
	result := finishMatch(s, lateAt.Add(10*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if len(result.PlayerStats) != 0 {
		t.Errorf("stale stats salvaged: %v", result.PlayerStats)
	}
}

func TestAbortedReportRetiresSession(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	startMatch(s, "CA", sessionBase)
	update := s.Handle(events.MatchReport{Aborted: true, Raw: map[string]any{"ABORTED": true}}, sessionBase.Add(time.Minute))
	if update.Result != nil {
		t.Error("aborted match emitted a result")
	}
	if !update.CancelSnapshot {
		t.Error("aborted match did not cancel the snapshot timer")
	}
	if s.Active() {
		t.Error("session still active after aborted report")
	}
}

func TestReportWithoutMatchIgnored(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	update := finishMatch(s, sessionBase)
	if update.Result != nil || update.CancelSnapshot || update.SnapshotDelay != 0 {
		t.Errorf("idle report produced update %+v, want zero", update)
	}
}

func TestResultCarriesServerIdentity(t *testing.T) {
	t.Parallel()

	s := newTestSession()
	startMatch(s, "DUEL", sessionBase)
	result := finishMatch(s, sessionBase.Add(10*time.Minute)).Result
	if result == nil {
		t.Fatal("no result emitted")
	}
	if result.ServerOwner != "owner" || result.ServerIP != "10.0.0.1" || result.ServerPort != 27960 {
		t.Errorf("server identity = %s/%s:%d", result.ServerOwner, result.ServerIP, result.ServerPort)
	}
	if result.IngestID == "" {
		t.Error("missing ingest id")
	}
	if result.GameEndTimestamp != sessionBase.Add(10*time.Minute).Unix() {
		t.Errorf("GameEndTimestamp = %d", result.GameEndTimestamp)
	}
	if result.MatchGUID() != "guid-1" {
		t.Errorf("MatchGUID() = %q, want guid-1", result.MatchGUID())
	}
}
