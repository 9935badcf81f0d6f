// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package report converts finished match results to the XonStat text
// report format and submits them to a submission.py endpoint.
package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/qlstats/feeder/internal/events"
	"github.com/qlstats/feeder/internal/feeder"
)

// teamGameTypes lists the game types scored per team.
var teamGameTypes = map[string]bool{
	"ca": true, "tdm": true, "ctf": true, "ft": true, "ad": true,
	"a&d": true, "dom": true, "1fctf": true, "harvester": true,
}

// IsTeamGame reports whether gt is scored per team.
func IsTeamGame(gt string) bool {
	return teamGameTypes[gt]
}

var untrackedFactory = regexp.MustCompile(`(?i)untracked`)

// Skip reasons returned by Eligible.
const (
	SkipAborted   = "aborted"
	SkipUntracked = "untracked"
	SkipTooFew    = "too_few_players"
)

// Eligible reports whether a match qualifies for submission. The
// returned reason is empty when it does.
//
// Matches on factories titled "untracked" are never submitted, and
// each game type has a minimum head count: 2 per side for team games,
// 2 for duel, 1 for race, 4 total for red rover, 4 for everything
// else.
func Eligible(result *feeder.MatchResult) (bool, string) {
	if result.Aborted() {
		return false, SkipAborted
	}
	if title, _ := result.MatchStats["FACTORY_TITLE"].(string); untrackedFactory.MatchString(title) {
		return false, SkipUntracked
	}

	// Head counts per team slot [free, red, blue].
	var counts [3]int
	for _, p := range result.PlayerStats {
		team := statTeam(p)
		if team >= 0 && team <= 2 {
			counts[team]++
		}
	}

	gt := strings.ToLower(result.GameType)
	if gt == "rr" {
		if counts[0]+counts[1]+counts[2] < 4 {
			return false, SkipTooFew
		}
		return true, ""
	}

	var min [3]int
	switch {
	case gt == "duel":
		min = [3]int{2, 0, 0}
	case gt == "race":
		min = [3]int{1, 0, 0}
	case IsTeamGame(gt):
		min = [3]int{0, 2, 2}
	default:
		min = [3]int{4, 0, 0}
	}
	for i := range min {
		if counts[i] < min[i] {
			return false, SkipTooFew
		}
	}
	return true, ""
}

// weaponTags maps report weapon tags to the stat block keys.
var weaponTags = []struct {
	tag  string
	stat string
}{
	{"gt", "GAUNTLET"}, {"mg", "MACHINEGUN"}, {"sg", "SHOTGUN"},
	{"gl", "GRENADE"}, {"rl", "ROCKET"}, {"lg", "LIGHTNING"},
	{"rg", "RAILGUN"}, {"pg", "PLASMA"}, {"bfg", "BFG"},
	{"hmg", "HMG"}, {"cg", "CHAINGUN"}, {"ng", "NAILGUN"},
	{"pm", "PROXMINE"}, {"gh", "OTHER_WEAPON"},
}

// Build renders the XonStat text report for a finished match. Team
// games export a team summary and scoreboard per side; everything else
// is a single scoreboard.
func Build(result *feeder.MatchResult) string {
	gt := strings.ToLower(result.GameType)
	var lines []string

	lines = matchInformation(gt, result, lines)

	if IsTeamGame(gt) {
		score0 := statInt(result.MatchStats, "TSCORE0")
		score1 := statInt(result.MatchStats, "TSCORE1")
		lines = teamSummary(gt, result, events.TeamRed, lines)
		lines = scoreboard(gt, result, events.TeamRed, score0 > score1, lines)
		lines = teamSummary(gt, result, events.TeamBlue, lines)
		lines = scoreboard(gt, result, events.TeamBlue, score0 < score1, lines)
	} else {
		lines = scoreboard(gt, result, events.TeamFree, true, lines)
	}
	return strings.Join(lines, "\n")
}

func matchInformation(gt string, result *feeder.MatchResult, lines []string) []string {
	// The leading 0/1/2 records are QLStats extensions, not XonStat
	// standard.
	lines = append(lines, "0 "+result.ServerIP)
	lines = append(lines, "1 "+strconv.FormatInt(result.GameEndTimestamp, 10))
	if result.Rounds != nil {
		lines = append(lines, "2 "+strconv.Itoa(result.Rounds.Total))
	}
	lines = append(lines, "S "+statString(result.MatchStats, "SERVER_TITLE"))
	lines = append(lines, "I "+statString(result.MatchStats, "MATCH_GUID"))
	lines = append(lines, "G "+gt)
	lines = append(lines, "M "+statString(result.MatchStats, "MAP"))
	lines = append(lines, "O "+statString(result.MatchStats, "FACTORY"))
	// submission.py requires version >= 6 for CA reports.
	lines = append(lines, "V 7")
	lines = append(lines, "R .1")
	lines = append(lines, "U "+strconv.Itoa(result.ServerPort))
	lines = append(lines, "D "+strconv.Itoa(statInt(result.MatchStats, "GAME_LENGTH")))
	return lines
}

func teamSummary(gt string, result *feeder.MatchResult, team events.Team, lines []string) []string {
	score := statInt(result.MatchStats, "TSCORE"+strconv.Itoa(int(team)-1))

	lines = append(lines, "Q team#"+strconv.Itoa(int(team)))
	switch gt {
	case "ctf":
		lines = append(lines, "e scoreboard-caps "+strconv.Itoa(score))
	case "ca", "ft":
		lines = append(lines, "e scoreboard-rounds "+strconv.Itoa(score))
	default:
		lines = append(lines, "e scoreboard-score "+strconv.Itoa(score))
	}
	return lines
}

func scoreboard(gt string, result *feeder.MatchResult, team events.Team, isWinnerTeam bool, lines []string) []string {
	gameLength := statInt(result.MatchStats, "GAME_LENGTH")

	for _, p := range result.PlayerStats {
		playerTeam := statTeam(p)
		// Red rover assigns teams in its reports even though it is not
		// scored per team; everyone lands on the one scoreboard.
		if gt != "rr" && (team != events.TeamFree || playerTeam != 0) && playerTeam != int(team) {
			continue
		}

		steamID := statString(p, "STEAM_ID")
		lines = append(lines, "P "+steamID)
		lines = append(lines, "n "+statString(p, "NAME"))
		if team != events.TeamFree {
			lines = append(lines, "t "+strconv.Itoa(int(team)))
		}
		lines = append(lines, "e playermodel "+statString(p, "MODEL"))
		lines = append(lines, "e matches 1")
		lines = append(lines, "e scoreboardvalid 1")

		aliveTime := statInt(p, "PLAY_TIME")
		if aliveTime > gameLength {
			aliveTime = gameLength
		}
		lines = append(lines, "e alivetime "+strconv.Itoa(aliveTime))

		rank := statInt(p, "RANK")
		lines = append(lines, "e rank "+strconv.Itoa(rank))
		if (team == events.TeamFree && rank == 1) || (team != events.TeamFree && isWinnerTeam) {
			lines = append(lines, "e wins 1")
		}
		lines = append(lines, "e scoreboardpos "+strconv.Itoa(rank))

		if result.Rounds != nil {
			if rounds, ok := result.Rounds.Players[steamID]; ok {
				lives := rounds.Blue
				if playerTeam == int(events.TeamRed) {
					lives = rounds.Red
				}
				lines = append(lines, "e scoreboard-lives "+strconv.Itoa(lives))
			}
		}

		lines = mapFields(p, [][2]string{
			{"SCORE", "score"}, {"KILLS", "kills"}, {"DEATHS", "deaths"},
		}, lines)
		if damage, ok := p["DAMAGE"].(map[string]any); ok {
			lines = mapFields(damage, [][2]string{
				{"DEALT", "pushes"}, {"TAKEN", "destroyed"},
			}, lines)
		}
		medals, _ := p["MEDALS"].(map[string]any)
		if medals != nil {
			assists := "returns"
			if gt == "ft" {
				assists = "revivals"
			}
			lines = mapFields(medals, [][2]string{
				{"CAPTURES", "captured"}, {"ASSISTS", assists}, {"DEFENDS", "drops"},
			}, lines)
		}

		if weapons, ok := p["WEAPONS"].(map[string]any); ok {
			for _, w := range weaponTags {
				wstats, ok := weapons[w.stat].(map[string]any)
				if !ok {
					continue
				}
				if _, ok := wstats["K"]; !ok {
					continue
				}
				lines = append(lines, "e acc-"+w.tag+"-cnt-fired "+anyNum(wstats["S"]))
				lines = append(lines, "e acc-"+w.tag+"-cnt-hit "+anyNum(wstats["H"]))
				lines = append(lines, "e acc-"+w.tag+"-frags "+anyNum(wstats["K"]))
				lines = append(lines, "e acc-"+w.tag+"-fired "+anyNum(wstats["DG"]))
				lines = append(lines, "e acc-"+w.tag+"-hit "+anyNum(wstats["DR"]))
			}
		}

		medalNames := make([]string, 0, len(medals))
		for name := range medals {
			medalNames = append(medalNames, name)
		}
		sort.Strings(medalNames)
		for _, name := range medalNames {
			lines = append(lines, "e medal-"+strings.ToLower(name)+" "+anyNum(medals[name]))
		}
	}
	return lines
}

func mapFields(block map[string]any, mapping [][2]string, lines []string) []string {
	for _, m := range mapping {
		if val, ok := block[m[0]]; ok {
			lines = append(lines, "e scoreboard-"+m[1]+" "+anyNum(val))
		}
	}
	return lines
}

// Stat blocks come from generic JSON, so numbers are float64 and keys
// may be missing. The accessors below tolerate both.

func statString(block map[string]any, key string) string {
	switch v := block[key].(type) {
	case string:
		return v
	case float64:
		return anyNum(v)
	default:
		return ""
	}
}

func statInt(block map[string]any, key string) int {
	switch v := block[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func statTeam(block map[string]any) int {
	return statInt(block, "TEAM")
}

func anyNum(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
