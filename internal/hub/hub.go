// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package hub fans live feeder updates out to WebSocket clients.
//
// Browsers watching the live match view subscribe once and receive
// finished-match records and feed status transitions as they happen.
// Slow clients are dropped rather than allowed to stall the hub.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/logging"
	"github.com/qlstats/feeder/internal/metrics"
)

// Message types pushed to clients.
const (
	MessageTypeMatchFinished = "match_finished"
	MessageTypeFeedStatus    = "feed_status"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// Message is one WebSocket frame payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to
// them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run services registrations and broadcasts until ctx is canceled,
// then closes every client. Designed to run under a supervisor.
//
// Lifecycle events are drained before broadcasts so client state is
// consistent when a message goes out.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSActiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSActiveConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients sends to every client in ID order. Clients whose
// send buffer is full are dropped.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WSMessagesSent.Inc()
		default:
			metrics.WSMessagesDropped.Inc()
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSActiveConnections.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSActiveConnections.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastMatchFinished pushes a finished match record to all clients.
func (h *Hub) BroadcastMatchFinished(result *feeder.MatchResult) {
	h.enqueue(Message{Type: MessageTypeMatchFinished, Data: result})
}

// OnMatchFinished implements feeder.MatchSink.
func (h *Hub) OnMatchFinished(result *feeder.MatchResult) {
	h.BroadcastMatchFinished(result)
}

// FeedStatusData is the payload of a feed_status message.
type FeedStatusData struct {
	Timestamp time.Time                      `json:"timestamp"`
	Feeds     map[string]feeder.FeedSnapshot `json:"feeds"`
}

// BroadcastFeedStatus pushes the current feed snapshot table to all
// clients.
func (h *Hub) BroadcastFeedStatus(feeds map[string]feeder.FeedSnapshot) {
	h.enqueue(Message{
		Type: MessageTypeFeedStatus,
		Data: FeedStatusData{Timestamp: time.Now().UTC(), Feeds: feeds},
	})
}

func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

var _ feeder.MatchSink = (*Hub)(nil)
