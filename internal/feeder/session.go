// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qlstats/feeder/internal/events"
)

// roundTrackedGameTypes are the game types whose play time is credited
// at round boundaries instead of immediately (clan arena, freeze tag,
// attack & defend).
var roundTrackedGameTypes = map[string]bool{"ca": true, "ft": true, "ad": true}

// PlayerState tracks one player within a match session. It is created
// lazily on the first event referencing the steam ID and never removed
// mid-match; pruning happens after the match report.
type PlayerState struct {
	SteamID    string
	Name       string
	Team       events.Team
	JoinedAt   time.Time
	LastSeenAt time.Time
	Quit       bool
	Dead       bool

	// PlayTime holds accumulated seconds on [free, red, blue].
	PlayTime [3]int

	// Rounds maps round number to the team the player was snapshotted
	// on near that round's start. A player joining mid-round before
	// the snapshot fires is credited; after it, not.
	Rounds map[int]events.Team

	// baseline is the start of the currently accumulating play-time
	// span for non-round game types.
	baseline time.Time
}

type lateStatBlock struct {
	at    time.Time
	stats events.PlayerStats
}

// MatchSession folds one server's event stream into match aggregates.
// One session object lives inside each feed and is reset, never
// replaced, between matches so that stat blocks straggling in after a
// report are not lost.
//
// All methods must be called from the owning feed's serialized context.
type MatchSession struct {
	timing Timing
	log    zerolog.Logger

	serverOwner string
	serverIP    string
	serverPort  int

	active    bool
	startedAt time.Time
	// duration accumulates completed round lengths; for non-round
	// games it is computed from timestamps at report time.
	duration int

	gameType string
	factory  string

	players map[string]*PlayerState

	round          int
	roundStartedAt time.Time
	rounds         []RoundResult
	quitters       []string

	statsBuffer []events.PlayerStats
	lateStats   []lateStatBlock

	// epoch invalidates pending round-snapshot timers: any scheduled
	// snapshot captures the epoch at schedule time and is a no-op if
	// the session has moved on.
	epoch uint64
}

// NewMatchSession creates an idle session for the given server.
func NewMatchSession(owner, ip string, port int, timing Timing, log zerolog.Logger) *MatchSession {
	return &MatchSession{
		timing:      timing,
		log:         log,
		serverOwner: owner,
		serverIP:    ip,
		serverPort:  port,
		players:     make(map[string]*PlayerState),
	}
}

// SessionUpdate tells the owning feed what to do with its round
// snapshot timer after an event, and carries the finished-match record
// when the event completed a match.
type SessionUpdate struct {
	Result *MatchResult

	// SnapshotDelay > 0 requests (re)scheduling the round snapshot
	// timer; CancelSnapshot requests cancelling a pending one. At most
	// one of the two is set.
	SnapshotDelay  time.Duration
	CancelSnapshot bool
}

// Active reports whether a match is in progress.
func (s *MatchSession) Active() bool { return s.active }

// GameType returns the last known game type, kept between matches for
// external queries.
func (s *MatchSession) GameType() string { return s.gameType }

// Factory returns the last known factory (ruleset variant).
func (s *MatchSession) Factory() string { return s.factory }

// Epoch returns the snapshot-invalidation counter. The feed captures
// it when scheduling a round snapshot and passes it back to
// TakeRoundSnapshot.
func (s *MatchSession) Epoch() uint64 { return s.epoch }

// Handle applies one event to the session. Unknown event types and
// events referencing unknown players degrade gracefully; a single
// malformed event never aborts the session.
func (s *MatchSession) Handle(ev events.Event, now time.Time) SessionUpdate {
	switch ev := ev.(type) {
	case events.MatchStarted:
		return s.onMatchStarted(ev, now)

	case events.PlayerConnect:
		p := s.touchPlayer(ev.PlayerRef, now, events.TeamSpectator)
		p.JoinedAt = now

	case events.PlayerDisconnect:
		s.onPlayerDisconnect(ev, now)

	case events.PlayerSwitchTeam:
		s.onPlayerSwitchTeam(ev, now)

	case events.PlayerKill:
		s.touchPlayer(ev.Killer, now, ev.Killer.Team).Dead = false
		s.touchPlayer(ev.Victim, now, ev.Victim.Team)

	case events.PlayerDeath:
		s.touchPlayer(ev.Victim, now, ev.Victim.Team).Dead = true

	case events.RoundOver:
		if s.active {
			return s.onRoundOver(ev, now)
		}

	case events.PlayerStats:
		s.onPlayerStats(ev, now)

	case events.MatchReport:
		return s.onMatchReport(ev, now)
	}
	return SessionUpdate{}
}

// touchPlayer creates or refreshes the player state referenced by an
// event, assigning the given team.
func (s *MatchSession) touchPlayer(ref events.PlayerRef, now time.Time, team events.Team) *PlayerState {
	p := s.players[ref.SteamID]
	if p == nil {
		p = &PlayerState{
			SteamID:  ref.SteamID,
			Team:     events.TeamUnset,
			JoinedAt: now,
			Rounds:   make(map[int]events.Team),
			baseline: now,
		}
		s.players[ref.SteamID] = p
	}
	p.Team = team
	if ref.Name != "" {
		p.Name = ref.Name
	}
	p.Quit = false
	p.LastSeenAt = now
	return p
}

func (s *MatchSession) onPlayerDisconnect(ev events.PlayerDisconnect, now time.Time) {
	p := s.players[ev.SteamID]
	if p == nil {
		return
	}
	s.checkQuitter(ev.SteamID)
	s.flushPlayTime(p, now)
	p.Quit = true
	p.Team = events.TeamSpectator
	p.LastSeenAt = now
}

func (s *MatchSession) onPlayerSwitchTeam(ev events.PlayerSwitchTeam, now time.Time) {
	// Flush accumulated time under the old team before the switch
	// takes effect.
	s.flushPlayTime(s.players[ev.Player.SteamID], now)
	if ev.Player.Team == events.TeamSpectator {
		s.checkQuitter(ev.Player.SteamID)
	}
	s.touchPlayer(ev.Player, now, ev.Player.Team)
}

func (s *MatchSession) onMatchStarted(ev events.MatchStarted, now time.Time) SessionUpdate {
	s.gameType = strings.ToLower(ev.GameType)
	s.factory = strings.ToLower(ev.Factory)

	s.active = true
	s.startedAt = now
	s.duration = 0
	for _, p := range s.players {
		p.baseline = now
		p.PlayTime = [3]int{}
		p.Rounds = make(map[int]events.Team)
		p.Dead = false
	}
	s.round = 1
	s.roundStartedAt = now
	s.rounds = nil
	s.quitters = nil

	s.statsBuffer = s.salvageLateStats(now)
	s.epoch++
	return SessionUpdate{SnapshotDelay: s.timing.FirstSnapshotDelay}
}

// salvageLateStats carries stat blocks that arrived between the last
// report and this match start into the new session, provided they are
// recent enough; stale blocks are discarded and logged.
func (s *MatchSession) salvageLateStats(now time.Time) []events.PlayerStats {
	var kept []events.PlayerStats
	discarded := 0
	for _, late := range s.lateStats {
		if now.Sub(late.at) <= s.timing.LateStatsGrace {
			kept = append(kept, late.stats)
		} else {
			discarded++
		}
	}
	if discarded > 0 {
		s.log.Debug().Int("count", discarded).Msg("discarding stale post-report stat blocks")
	}
	s.lateStats = nil
	return kept
}

func (s *MatchSession) onRoundOver(ev events.RoundOver, now time.Time) SessionUpdate {
	length := roundSeconds(now.Sub(s.roundStartedAt))
	s.duration += length

	rr := RoundResult{
		TeamWon: ev.TeamWon,
		Length:  length,
		Teams: map[events.Team][]string{
			events.TeamRed:  {},
			events.TeamBlue: {},
		},
	}
	for id, p := range s.players {
		team := p.Rounds[s.round]
		if team == events.TeamRed || team == events.TeamBlue {
			// Credit the team the player was snapshotted on for this
			// round, which may differ from their current team.
			p.PlayTime[team] += length
			rr.Teams[team] = append(rr.Teams[team], id)
		}
		p.Dead = false
	}
	sort.Strings(rr.Teams[events.TeamRed])
	sort.Strings(rr.Teams[events.TeamBlue])
	s.rounds = append(s.rounds, rr)

	s.round++
	s.roundStartedAt = now
	s.epoch++
	return SessionUpdate{SnapshotDelay: s.timing.NextSnapshotDelay}
}

func (s *MatchSession) onPlayerStats(ev events.PlayerStats, now time.Time) {
	if ev.Warmup {
		return
	}
	if !s.active {
		s.lateStats = append(s.lateStats, lateStatBlock{at: now, stats: ev})
		return
	}
	s.statsBuffer = append(s.statsBuffer, ev)
}

func (s *MatchSession) onMatchReport(ev events.MatchReport, now time.Time) SessionUpdate {
	if !s.active {
		s.log.Debug().Msg("match report without a started match, ignoring")
		return SessionUpdate{}
	}
	if ev.Aborted {
		s.log.Debug().Msg("match aborted")
		s.retire()
		return SessionUpdate{CancelSnapshot: true}
	}

	for _, p := range s.players {
		s.flushPlayTime(p, now)
	}
	if s.round <= 1 {
		// Non-round game types have no accumulated round lengths.
		s.duration = roundSeconds(now.Sub(s.startedAt))
	}

	result := s.buildResult(ev, now)
	s.prunePlayers(now)
	s.retire()
	return SessionUpdate{Result: result, CancelSnapshot: true}
}

// TakeRoundSnapshot records which players count as participating in the
// current round. It is timed to the server's own "FIGHT!" announcement
// so a player joining after the round is underway is not credited. The
// epoch argument is the value captured when the snapshot was scheduled;
// a stale epoch makes the call a provable no-op.
func (s *MatchSession) TakeRoundSnapshot(epoch uint64) {
	if epoch != s.epoch || !s.active {
		return
	}
	for _, p := range s.players {
		if (p.Team == events.TeamRed || p.Team == events.TeamBlue) && !p.Quit {
			p.Rounds[s.round] = p.Team
			if p.Rounds[s.round-1] != p.Team {
				p.baseline = s.roundStartedAt
			}
		}
	}
}

// checkQuitter applies the quitter fairness rule: once a match has
// started, leaving a red/blue team is penalized only when it hurts the
// remaining players. Leaving the team that is at least as large as the
// opposition is free, and so is leaving when the opposition already
// outnumbers the team by three or more (a two-player gap is recoverable
// by one switch).
func (s *MatchSession) checkQuitter(steamID string) {
	if !s.active {
		return
	}
	p := s.players[steamID]
	if p == nil || (p.Team != events.TeamRed && p.Team != events.TeamBlue) {
		return
	}

	var size [4]int
	for _, other := range s.players {
		if other.Team >= 0 && int(other.Team) < len(size) {
			size[other.Team]++
		}
	}
	own := size[p.Team]
	opp := size[p.Team.Opponent()]
	if own >= opp {
		return
	}
	if own+3 <= opp {
		return
	}
	s.quitters = append(s.quitters, steamID)
}

// flushPlayTime folds the open play-time span into the accumulator for
// non-round game types. Round-tracked types credit time only at round
// boundaries.
func (s *MatchSession) flushPlayTime(p *PlayerState, now time.Time) {
	if p == nil || p.Quit {
		return
	}
	if roundTrackedGameTypes[s.gameType] {
		return
	}
	if p.Team.Playing() {
		if delta := roundSeconds(now.Sub(p.baseline)); delta > 0 {
			p.PlayTime[p.Team] += delta
		}
	}
	p.baseline = now
}

func (s *MatchSession) buildResult(ev events.MatchReport, now time.Time) *MatchResult {
	result := &MatchResult{
		IngestID:         uuid.NewString(),
		ServerOwner:      s.serverOwner,
		ServerIP:         s.serverIP,
		ServerPort:       s.serverPort,
		GameType:         s.gameType,
		Factory:          s.factory,
		GameEndTimestamp: now.Unix(),
		MatchStats:       ev.Raw,
		Quitters:         append([]string{}, s.quitters...),
		RoundResults:     s.rounds,
	}

	playTimes := &PlayTimeInfo{Total: s.duration, Players: make(map[string][3]int)}
	for id, p := range s.players {
		if p.PlayTime[0]+p.PlayTime[1]+p.PlayTime[2] > 0 {
			playTimes.Players[id] = p.PlayTime
		}
	}
	result.PlayTimes = playTimes

	if s.round > 1 {
		rounds := &RoundInfo{Total: s.round - 1, Players: make(map[string]RoundCount)}
		for id, p := range s.players {
			var count RoundCount
			for _, team := range p.Rounds {
				if team == events.TeamBlue {
					count.Blue++
				} else {
					count.Red++
				}
			}
			if count.Red+count.Blue > 0 {
				rounds.Players[id] = count
			}
		}
		result.Rounds = rounds
	}

	matchLength := s.duration
	if matchLength <= 0 {
		matchLength = ev.GameLength
	}
	result.PlayerStats = mergePlayerStats(s.statsBuffer, playTimes.Players, matchLength)
	return result
}

// ClearPlayers drops all transient player state. The feed calls this
// when its socket goes down: roster changes that happen while the feed
// is blind cannot be observed, so a stale roster must not feed the
// quitter team counts or collect round credit after a reconnect. Match
// aggregates (completed rounds, buffered stat blocks, quitters already
// flagged) survive so a quick reconnect resumes the match.
func (s *MatchSession) ClearPlayers() {
	s.players = make(map[string]*PlayerState)
}

// prunePlayers drops players who quit during the match or have not been
// seen within the retention window.
func (s *MatchSession) prunePlayers(now time.Time) {
	for id, p := range s.players {
		if p.Quit || p.LastSeenAt.Add(s.timing.PlayerRetention).Before(now) {
			delete(s.players, id)
		}
	}
}

// retire resets the per-match fields, keeping player identities and the
// last known game type for the next match.
func (s *MatchSession) retire() {
	s.active = false
	s.startedAt = time.Time{}
	s.duration = 0
	s.round = 0
	s.rounds = nil
	s.quitters = nil
	s.statsBuffer = nil
	s.epoch++
}

func roundSeconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}
