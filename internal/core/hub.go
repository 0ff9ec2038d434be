package core

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks connected clients and channel rooms and performs fan-out
// delivery. It is the in-process implementation of the coordinator's
// Transport interface.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client

	log *zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
		log:     logger,
	}
}

var _ Transport = (*Hub)(nil)

// Register makes the client addressable by the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
	h.log.Debug().Str("socket_id", c.ID()).Msg("client registered")
}

// Unregister removes the client from every room and forgets it. The caller
// is responsible for running coordinator leave flows first so presence and
// webhooks observe the disconnect.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, room := range h.rooms {
		if room.RemoveClient(c) && room.Empty() {
			delete(h.rooms, name)
		}
	}
	delete(h.clients, c.ID())
	h.log.Debug().Str("socket_id", c.ID()).Msg("client unregistered")
}

// JoinRoom adds the connection to the channel's room and confirms the
// subscription to the client.
func (h *Hub) JoinRoom(conn Connection, channel string) {
	client := h.resolve(conn)
	if client == nil {
		return
	}

	h.mu.Lock()
	room := h.rooms[channel]
	if room == nil {
		room = NewRoom(channel)
		h.rooms[channel] = room
	}
	room.AddClient(client)
	h.mu.Unlock()

	client.send(&Event{Kind: EventSubscribed, Channel: channel})
}

// LeaveRoom removes the connection from the channel's room.
func (h *Hub) LeaveRoom(conn Connection, channel string) {
	client := h.resolve(conn)
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[channel]
	if room == nil {
		return
	}
	if room.RemoveClient(client) && room.Empty() {
		delete(h.rooms, channel)
	}
}

// Relay delivers an event to every subscriber of the channel except exclude.
func (h *Hub) Relay(channel string, exclude Connection, event string, payload json.RawMessage) {
	excluded := h.resolve(exclude)
	ev := &Event{
		Kind:    EventChannelMessage,
		Channel: channel,
		Name:    event,
		Payload: payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[channel]
	if room == nil {
		return
	}
	room.Broadcast(ev, excluded)
}

// Reject informs the connection that its subscription was refused.
func (h *Hub) Reject(conn Connection, channel string, statusCode int) {
	client := h.resolve(conn)
	if client == nil {
		return
	}
	client.send(&Event{
		Kind:    EventSubscriptionRejected,
		Channel: channel,
		Status:  statusCode,
	})
}

// Broadcast delivers an event to every subscriber of the channel. Used by
// the REST publish endpoint, where there is no sender to exclude.
func (h *Hub) Broadcast(channel, event string, payload json.RawMessage) {
	h.Relay(channel, nil, event, payload)
}

func (h *Hub) resolve(conn Connection) *Client {
	if conn == nil {
		return nil
	}
	if client, ok := conn.(*Client); ok {
		return client
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[conn.ID()]
}
