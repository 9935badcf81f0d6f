// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

// MatchSink receives finished-match records. OnMatchFinished is called
// at most once per completed match, synchronously from the owning
// feed's processing context; slow consumers must hand off internally
// rather than block the feed.
type MatchSink interface {
	OnMatchFinished(result *MatchResult)
}

// MatchSinkFunc adapts a function to MatchSink.
type MatchSinkFunc func(*MatchResult)

// OnMatchFinished implements MatchSink.
func (f MatchSinkFunc) OnMatchFinished(result *MatchResult) { f(result) }

// MultiSink fans a record out to several sinks in order.
type MultiSink []MatchSink

// OnMatchFinished implements MatchSink.
func (m MultiSink) OnMatchFinished(result *MatchResult) {
	for _, sink := range m {
		sink.OnMatchFinished(result)
	}
}
