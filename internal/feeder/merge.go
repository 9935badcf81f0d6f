// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"strings"

	"github.com/qlstats/feeder/internal/events"
)

// mergePlayerStats collapses the buffered per-player stat blocks into
// one record per steam ID. A player who switched teams emits multiple
// partial blocks; counters are summed, rank-like fields keep the best
// (lowest positive) value, TEAM keeps the last block's team, and
// PLAY_TIME is replaced by the session accumulator when available —
// the upstream field includes warm-up and is unreliable. Play time is
// clamped to the match length as a guard against upstream clock bugs.
func mergePlayerStats(blocks []events.PlayerStats, playTimes map[string][3]int, matchLength int) []map[string]any {
	merged := make(map[string]map[string]any)
	var order []string

	for _, block := range blocks {
		id := block.SteamID
		if existing, ok := merged[id]; ok {
			summarize(existing, block.Raw)
		} else {
			merged[id] = copyStatBlock(block.Raw)
			order = append(order, id)
		}
	}

	result := make([]map[string]any, 0, len(order))
	for _, id := range order {
		stats := merged[id]
		if times, ok := playTimes[id]; ok && times[0]+times[1]+times[2] > 0 {
			stats["PLAY_TIME"] = float64(clampPlayTime(times[0]+times[1]+times[2], matchLength))
		} else if upstream, ok := stats["PLAY_TIME"].(float64); ok {
			stats["PLAY_TIME"] = float64(clampPlayTime(int(upstream), matchLength))
		}
		result = append(result, stats)
	}
	return result
}

// summarize folds src into dst recursively. Keys containing RANK keep
// the best (lowest positive) value, TEAM keeps the latest, numbers sum,
// nested objects recurse, everything else keeps the first-seen value.
func summarize(dst, src map[string]any) {
	for key, val := range src {
		switch {
		case strings.Contains(key, "RANK"):
			current, _ := dst[key].(float64)
			next, ok := val.(float64)
			if !ok {
				continue
			}
			if current <= 0 || (next > 0 && next < current) {
				dst[key] = next
			}

		case key == "TEAM":
			dst[key] = val

		default:
			switch typed := val.(type) {
			case float64:
				current, _ := dst[key].(float64)
				dst[key] = current + typed
			case map[string]any:
				nested, ok := dst[key].(map[string]any)
				if !ok {
					nested = make(map[string]any)
					dst[key] = nested
				}
				summarize(nested, typed)
			default:
				if _, exists := dst[key]; !exists {
					dst[key] = val
				}
			}
		}
	}
}

func copyStatBlock(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, val := range src {
		if nested, ok := val.(map[string]any); ok {
			dst[key] = copyStatBlock(nested)
			continue
		}
		dst[key] = val
	}
	return dst
}

func clampPlayTime(seconds, matchLength int) int {
	if seconds < 0 {
		return 0
	}
	if matchLength > 0 && seconds > matchLength {
		return matchLength
	}
	return seconds
}
