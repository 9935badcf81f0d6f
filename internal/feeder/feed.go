// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package feeder

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qlstats/feeder/internal/events"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
	"github.com/qlstats/feeder/internal/transport"
)

// State is a feed's connection state.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// FeedConfig configures one feed.
type FeedConfig struct {
	Owner    string
	IP       string
	Port     int
	Password string

	// GamePort is the port players connect to; zero defaults to the
	// subscription port.
	GamePort int

	Dialer transport.Dialer
	Timing Timing
	Sink   MatchSink

	// Now overrides the clock; nil means time.Now. Used by tests.
	Now func() time.Time
}

// Feed owns one subscription to one game server's stats stream: the
// socket, the reconnect/idle timers and the embedded match session.
//
// A feed is driven entirely by its transport callbacks and its own
// timers; all of them serialize on the feed mutex. Every scheduled
// callback captures the feed's generation counter, which increments on
// every connect and teardown, so a callback belonging to a previous
// socket or a cancelled timer is a provable no-op.
type Feed struct {
	mu sync.Mutex

	owner    string
	ip       string
	port     int
	password string
	gamePort int

	dialer transport.Dialer
	timing Timing
	sink   MatchSink
	now    func() time.Time
	log    zerolog.Logger

	state         State
	badPassword   bool
	connectedAt   time.Time
	lastMessageAt time.Time

	sub    transport.Subscriber
	gen    uint64
	closed bool

	reconnectTimer *time.Timer
	idleTimer      *time.Timer
	snapshotTimer  *time.Timer

	// reconnecting marks the current attempt as a reconnect, for log
	// levels only.
	reconnecting bool

	// attemptLogged throttles the offline warning to once per failed
	// connect attempt; the transport can emit retry signals many times
	// per second.
	attemptLogged bool

	session *MatchSession
}

// NewFeed creates a feed in the disconnected state. Call Connect to
// open the subscription.
func NewFeed(cfg FeedConfig) *Feed {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	gamePort := cfg.GamePort
	if gamePort == 0 {
		gamePort = cfg.Port
	}
	log := logging.With().
		Str("component", "feed").
		Str("addr", cfg.IP+":"+strconv.Itoa(cfg.Port)).
		Logger()
	f := &Feed{
		owner:    cfg.Owner,
		ip:       cfg.IP,
		port:     cfg.Port,
		password: cfg.Password,
		gamePort: gamePort,
		dialer:   cfg.Dialer,
		timing:   cfg.Timing,
		sink:     cfg.Sink,
		now:      now,
		log:      log,
	}
	f.session = NewMatchSession(cfg.Owner, cfg.IP, cfg.Port, cfg.Timing, log)
	metrics.FeedsByState.WithLabelValues(StateDisconnected.String()).Inc()
	return f
}

// Addr returns the subscription address ip:port, the registry key.
func (f *Feed) Addr() string {
	return f.ip + ":" + strconv.Itoa(f.port)
}

// Owner returns the operator label, which may be empty.
func (f *Feed) Owner() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// SetOwner relabels the feed without reconnecting.
func (f *Feed) SetOwner(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = owner
	f.session.serverOwner = owner
}

// Password returns the configured stats password.
func (f *Feed) Password() string { return f.password }

// GamePort returns the port players connect to.
func (f *Feed) GamePort() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gamePort
}

// Connect opens a new subscription. It is idempotent in effect: any
// pending reconnect timer is cleared and the bad-password flag reset.
// Callers must not invoke Connect while a socket is live; Disconnect
// first.
func (f *Feed) Connect(isReconnect bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectLocked(isReconnect)
}

// Disconnect tears the subscription down. Idempotent and safe from any
// state; errors from an already-broken socket are logged, never
// propagated. The match session is kept so a reconnect resumes the
// match, but its transient player roster is cleared.
func (f *Feed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownLocked()
}

// Shutdown disconnects and permanently retires the feed: no timer or
// transport callback will touch it afterward.
func (f *Feed) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.teardownLocked()
	f.closed = true
	metrics.FeedsByState.WithLabelValues(f.state.String()).Dec()
}

// FeedSnapshot is the read-only view of a feed exposed to the admin
// and query APIs.
type FeedSnapshot struct {
	Owner         string    `json:"owner"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
	GamePort      int       `json:"gamePort"`
	State         string    `json:"state"`
	BadPassword   bool      `json:"badPassword"`
	GameType      string    `json:"gameType,omitempty"`
	Factory       string    `json:"factory,omitempty"`
	InMatch       bool      `json:"inMatch"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Addr returns the snapshot's subscription address.
func (s FeedSnapshot) Addr() string {
	return s.IP + ":" + strconv.Itoa(s.Port)
}

// Snapshot returns the feed's current state for external consumers.
func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FeedSnapshot{
		Owner:         f.owner,
		IP:            f.ip,
		Port:          f.port,
		GamePort:      f.gamePort,
		State:         f.state.String(),
		BadPassword:   f.badPassword,
		GameType:      f.session.GameType(),
		Factory:       f.session.Factory(),
		InMatch:       f.session.Active(),
		ConnectedAt:   f.connectedAt,
		LastMessageAt: f.lastMessageAt,
	}
}

func (f *Feed) connectLocked(isReconnect bool) {
	if f.closed {
		return
	}
	f.stopTimer(&f.reconnectTimer)
	f.stopTimer(&f.idleTimer)
	f.badPassword = false
	f.reconnecting = isReconnect
	f.attemptLogged = false
	f.gen++
	f.setStateLocked(StateConnecting)
	// Until the transport confirms, connectedAt marks the attempt
	// start and drives the connect-attempt timeout.
	f.connectedAt = f.now()

	sub, err := f.dialer.Dial(f.Addr(), f.password, &feedEvents{f: f, gen: f.gen})
	if err != nil {
		f.log.Error().Err(err).Msg("failed to open subscription")
		f.setStateLocked(StateDisconnected)
		f.scheduleReconnectLocked()
		return
	}
	f.sub = sub
}

// teardownLocked closes the socket, cancels every timer and bumps the
// generation so no pending callback can act on the old connection.
// Total: it never fails, regardless of state.
func (f *Feed) teardownLocked() {
	f.gen++
	if f.sub != nil {
		if err := f.sub.Close(); err != nil {
			f.log.Debug().Err(err).Msg("error closing subscription")
		}
		f.sub = nil
	}
	f.setStateLocked(StateDisconnected)
	f.lastMessageAt = time.Time{}
	f.stopTimer(&f.reconnectTimer)
	f.stopTimer(&f.idleTimer)
	f.stopTimer(&f.snapshotTimer)
	f.session.ClearPlayers()
}

func (f *Feed) setStateLocked(next State) {
	if next == f.state {
		return
	}
	metrics.FeedsByState.WithLabelValues(f.state.String()).Dec()
	metrics.FeedsByState.WithLabelValues(next.String()).Inc()
	f.state = next
}

func (f *Feed) stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// stale reports whether a callback captured at gen refers to a torn
// down connection or a retired feed.
func (f *Feed) stale(gen uint64) bool {
	return f.closed || gen != f.gen
}

func (f *Feed) scheduleReconnectLocked() {
	f.stopTimer(&f.reconnectTimer)
	f.stopTimer(&f.idleTimer)
	gen := f.gen
	f.reconnectTimer = time.AfterFunc(f.timing.jittered(f.timing.OfflineRetryInterval), func() {
		f.onReconnectTimer(gen)
	})
}

func (f *Feed) onReconnectTimer(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) {
		return
	}
	f.connectLocked(true)
}

func (f *Feed) resetIdleTimerLocked() {
	f.stopTimer(&f.idleTimer)
	gen := f.gen
	f.idleTimer = time.AfterFunc(f.timing.jittered(f.timing.IdleTimeout), func() {
		f.onIdleTimeout(gen)
	})
}

// onIdleTimeout reconnects a server that stopped publishing without
// closing the socket. The teardown bumps the generation, so a backoff
// timer pending at the same moment cannot double-reconnect.
func (f *Feed) onIdleTimeout(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) {
		return
	}
	f.log.Debug().Msg("reconnecting to idle server")
	metrics.FeedReconnects.WithLabelValues("idle").Inc()
	f.teardownLocked()
	f.connectLocked(true)
}

func (f *Feed) scheduleSnapshotLocked(delay time.Duration) {
	f.stopTimer(&f.snapshotTimer)
	epoch := f.session.Epoch()
	f.snapshotTimer = time.AfterFunc(delay, func() {
		f.onSnapshotTimer(epoch)
	})
}

func (f *Feed) onSnapshotTimer(epoch uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.session.TakeRoundSnapshot(epoch)
}

// feedEvents binds a transport subscription to its feed at a fixed
// generation; events from a superseded socket are dropped.
type feedEvents struct {
	f   *Feed
	gen uint64
}

func (e *feedEvents) OnConnect()               { e.f.onConnect(e.gen) }
func (e *feedEvents) OnConnectRetry()          { e.f.onConnectRetry(e.gen) }
func (e *feedEvents) OnMessage(data []byte)    { e.f.onMessage(e.gen, data) }
func (e *feedEvents) OnDisconnect()            { e.f.onDisconnect(e.gen) }
func (e *feedEvents) OnMonitorError(err error) { e.f.onMonitorError(e.gen, err) }

func (f *Feed) onConnect(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) {
		return
	}
	f.setStateLocked(StateConnected)
	// From here connectedAt marks the successful connect; a disconnect
	// shortly after lands in the wrong-password window.
	f.connectedAt = f.now()
	f.attemptLogged = false
	if f.reconnecting {
		f.log.Debug().Msg("reconnected successfully")
	} else {
		f.log.Info().Msg("connected successfully")
	}
	f.resetIdleTimerLocked()
}

func (f *Feed) onConnectRetry(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) || f.state != StateConnecting {
		return
	}
	if f.now().Sub(f.connectedAt) < f.timing.ConnectAttemptTimeout {
		return
	}
	if !f.attemptLogged {
		f.log.Warn().Msg("failed to connect, server considered offline")
		f.attemptLogged = true
	}
	metrics.FeedReconnects.WithLabelValues("offline").Inc()
	f.teardownLocked()
	f.scheduleReconnectLocked()
}

func (f *Feed) onDisconnect(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) {
		return
	}
	wrongPassword := f.state == StateConnected &&
		f.now().Sub(f.connectedAt) <= f.timing.WrongPasswordWindow
	f.teardownLocked()
	if wrongPassword {
		f.log.Warn().Msg("disconnected right after connecting, probably wrong password")
		f.badPassword = true
		metrics.FeedReconnects.WithLabelValues("bad_password").Inc()
		f.scheduleReconnectLocked()
		return
	}
	// A genuine drop implies the server was reachable a moment ago;
	// retry immediately without backoff.
	f.log.Warn().Msg("disconnected, reconnecting")
	metrics.FeedReconnects.WithLabelValues("drop").Inc()
	f.connectLocked(true)
}

func (f *Feed) onMonitorError(gen uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(gen) {
		// A teardown is already in progress; do not double-schedule.
		return
	}
	f.log.Error().Err(err).Msg("connection monitoring failed")
	metrics.FeedReconnects.WithLabelValues("monitor_error").Inc()
	f.teardownLocked()
	f.scheduleReconnectLocked()
}

func (f *Feed) onMessage(gen uint64, data []byte) {
	f.mu.Lock()
	if f.stale(gen) {
		f.mu.Unlock()
		return
	}
	now := f.now()
	f.lastMessageAt = now
	f.resetIdleTimerLocked()

	ev, err := events.Parse(data)
	if err != nil {
		metrics.EventParseErrors.Inc()
		f.log.Warn().Err(err).Msg("dropping malformed event")
		f.mu.Unlock()
		return
	}
	metrics.EventsReceived.WithLabelValues(string(ev.Kind())).Inc()

	update := f.session.Handle(ev, now)
	switch {
	case update.SnapshotDelay > 0:
		f.scheduleSnapshotLocked(update.SnapshotDelay)
	case update.CancelSnapshot:
		f.stopTimer(&f.snapshotTimer)
	}
	result := update.Result
	f.mu.Unlock()

	// Emit outside the feed mutex: still synchronous in the feed's
	// processing context, but a sink may legitimately read snapshots.
	if result != nil {
		metrics.MatchesFinished.WithLabelValues(result.GameType).Inc()
		metrics.QuittersFlagged.Add(float64(len(result.Quitters)))
		f.log.Info().
			Str("match_guid", result.MatchGUID()).
			Str("game_type", result.GameType).
			Int("players", len(result.PlayerStats)).
			Msg("match finished")
		if f.sink != nil {
			f.sink.OnMatchFinished(result)
		}
	}
}
