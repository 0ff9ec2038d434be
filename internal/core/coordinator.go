package core

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Connection is one transport-level socket, referenced by identity only.
type Connection interface {
	ID() string
	RequestHeaders() http.Header
	AuthHeaders() http.Header
	// Identity returns the connection-level member identity, or nil when the
	// client connected anonymously.
	Identity() *Member
}

// Transport is the capability surface the coordinator needs from the
// underlying message transport.
type Transport interface {
	JoinRoom(conn Connection, channel string)
	LeaveRoom(conn Connection, channel string)
	Relay(channel string, exclude Connection, event string, payload json.RawMessage)
	Reject(conn Connection, channel string, statusCode int)
}

// AuthResult is the outcome of authenticating a connection against a channel.
type AuthResult struct {
	Authorized  bool
	ChannelData json.RawMessage
	Reason      string
	StatusCode  int
}

// Authenticator performs the external authentication handshake for private
// and presence channels. Implementations must not fail with an error: every
// transport or protocol failure is converted to an unauthorized result.
type Authenticator interface {
	Authenticate(ctx context.Context, conn Connection, channel, authToken, channelData string) AuthResult
}

// Hooks notifies the external application server of lifecycle transitions.
// Dispatch is fire-and-forget; delivery failures never reach the caller.
type Hooks interface {
	Dispatch(event LifecycleEvent, headers http.Header)
}

type subscription struct {
	kind   ChannelKind
	userID string
}

// Coordinator orchestrates the join, leave, and client-event flows: it
// classifies the channel, runs the auth handshake for private and presence
// channels, keeps the per-user presence bookkeeping, and fires webhooks
// exactly once per true transition.
type Coordinator struct {
	classifier *Classifier
	presence   *PresenceRegistry
	authn      Authenticator
	hooks      Hooks
	transport  Transport
	noHook     map[string]struct{}
	log        *zerolog.Logger

	mu   sync.Mutex
	subs map[string]map[string]subscription // connID -> channel -> subscription
}

// NewCoordinator wires the coordinator's collaborators. hookExcludedEvents
// lists client-event names that are relayed but never webhook-notified.
func NewCoordinator(
	classifier *Classifier,
	presence *PresenceRegistry,
	authn Authenticator,
	hooks Hooks,
	transport Transport,
	hookExcludedEvents []string,
	logger *zerolog.Logger,
) *Coordinator {
	noHook := make(map[string]struct{}, len(hookExcludedEvents))
	for _, name := range hookExcludedEvents {
		noHook[name] = struct{}{}
	}
	return &Coordinator{
		classifier: classifier,
		presence:   presence,
		authn:      authn,
		hooks:      hooks,
		transport:  transport,
		noHook:     noHook,
		log:        logger,
		subs:       make(map[string]map[string]subscription),
	}
}

// Presence exposes the registry for roster queries.
func (c *Coordinator) Presence() *PresenceRegistry { return c.presence }

// Join subscribes the connection to the channel. Public channels subscribe
// immediately; private and presence channels authenticate first and a denial
// rejects the connection with the reported status code, touching neither the
// presence registry nor the webhook path. A presence FirstJoin dispatches a
// join webhook; an AlreadyPresent user produces no duplicate notification.
func (c *Coordinator) Join(ctx context.Context, conn Connection, channel, authToken, channelData string) {
	if channel == "" || c.isSubscribed(conn, channel) {
		return
	}

	kind := c.classifier.Classify(channel)
	if kind == ChannelPublic {
		c.setSubscription(conn, channel, subscription{kind: kind})
		c.transport.JoinRoom(conn, channel)
		return
	}

	// Authentication is awaited before any registry mutation; no lock is
	// held across this round trip.
	res := c.authn.Authenticate(ctx, conn, channel, authToken, channelData)
	if !res.Authorized {
		c.log.Debug().
			Str("channel", channel).
			Str("socket_id", conn.ID()).
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("subscription denied")
		c.transport.Reject(conn, channel, res.StatusCode)
		return
	}

	if kind == ChannelPresence {
		member, ok := memberFromChannelData(res.ChannelData)
		if !ok {
			if id := conn.Identity(); id != nil {
				member, ok = *id, true
			}
		}
		if !ok || member.UserID == "" {
			c.log.Warn().
				Str("channel", channel).
				Str("socket_id", conn.ID()).
				Msg("presence join without user identity")
			c.transport.Reject(conn, channel, http.StatusBadRequest)
			return
		}

		c.setSubscription(conn, channel, subscription{kind: kind, userID: member.UserID})
		c.transport.JoinRoom(conn, channel)
		if c.presence.Join(channel, conn.ID(), member) == FirstJoin {
			c.dispatch(conn, LifecycleEvent{
				Kind:    LifecycleJoin,
				Channel: channel,
				UserID:  member.UserID,
				Payload: userPayload(member.UserID),
			})
		}
		return
	}

	c.setSubscription(conn, channel, subscription{kind: kind})
	c.transport.JoinRoom(conn, channel)
}

// Leave unsubscribes the connection from the channel. Presence channels
// dispatch a leave webhook only when the user's last connection departs;
// other channels always dispatch a leave webhook with an empty payload.
// Leaving a channel the connection never joined is a silent no-op.
func (c *Coordinator) Leave(conn Connection, channel string) {
	sub, ok := c.takeSubscription(conn, channel)
	if !ok {
		return
	}

	c.transport.LeaveRoom(conn, channel)

	if sub.kind == ChannelPresence {
		if c.presence.Leave(channel, conn.ID(), sub.userID) == LastLeave {
			c.dispatch(conn, LifecycleEvent{
				Kind:    LifecycleLeave,
				Channel: channel,
				UserID:  sub.userID,
				Payload: userPayload(sub.userID),
			})
		}
		return
	}

	c.dispatch(conn, LifecycleEvent{
		Kind:    LifecycleLeave,
		Channel: channel,
		Payload: json.RawMessage("{}"),
	})
}

// ClientEvent relays an application-defined event to the channel's other
// subscribers. Permitted only while subscribed to a private or presence
// channel and only for event names classified as client events; any failing
// condition relays nothing. Relayed events dispatch a client_event webhook
// unless the event name is in the configured exclusion set.
func (c *Coordinator) ClientEvent(conn Connection, channel, event string, payload json.RawMessage) {
	if !c.classifier.IsClientEvent(event) {
		return
	}
	sub, ok := c.getSubscription(conn, channel)
	if !ok || sub.kind == ChannelPublic {
		return
	}

	c.transport.Relay(channel, conn, event, payload)

	if _, excluded := c.noHook[event]; excluded {
		return
	}
	c.dispatch(conn, LifecycleEvent{
		Kind:    LifecycleClientEvent,
		Channel: channel,
		UserID:  sub.userID,
		Payload: mergeEventPayload(event, payload),
	})
}

// Disconnect runs the leave flow for every channel the connection occupies,
// so an abrupt socket loss produces the same presence transitions and
// webhooks as orderly unsubscribes.
func (c *Coordinator) Disconnect(conn Connection) {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subs[conn.ID()]))
	for channel := range c.subs[conn.ID()] {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	for _, channel := range channels {
		c.Leave(conn, channel)
	}
}

func (c *Coordinator) dispatch(conn Connection, ev LifecycleEvent) {
	c.hooks.Dispatch(ev, conn.AuthHeaders())
}

func (c *Coordinator) isSubscribed(conn Connection, channel string) bool {
	_, ok := c.getSubscription(conn, channel)
	return ok
}

func (c *Coordinator) getSubscription(conn Connection, channel string) (subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[conn.ID()][channel]
	return sub, ok
}

func (c *Coordinator) setSubscription(conn Connection, channel string, sub subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byChannel := c.subs[conn.ID()]
	if byChannel == nil {
		byChannel = make(map[string]subscription)
		c.subs[conn.ID()] = byChannel
	}
	byChannel[channel] = sub
}

func (c *Coordinator) takeSubscription(conn Connection, channel string) (subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byChannel := c.subs[conn.ID()]
	sub, ok := byChannel[channel]
	if ok {
		delete(byChannel, channel)
		if len(byChannel) == 0 {
			delete(c.subs, conn.ID())
		}
	}
	return sub, ok
}

// memberFromChannelData extracts the presence identity the auth endpoint
// returned. The payload may arrive as a JSON object or as a JSON-encoded
// string; anything else yields no member.
func memberFromChannelData(data json.RawMessage) (Member, bool) {
	if len(data) == 0 {
		return Member{}, false
	}
	var member Member
	if err := json.Unmarshal(data, &member); err != nil || member.UserID == "" {
		return Member{}, false
	}
	return member, true
}

func userPayload(userID string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"user_id": userID})
	return payload
}

// mergeEventPayload folds the client event name into the webhook payload. An
// object payload gains an "event" field; any other payload is wrapped.
func mergeEventPayload(event string, payload json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if len(payload) > 0 && json.Unmarshal(payload, &obj) == nil && obj != nil {
		obj["event"], _ = json.Marshal(event)
		merged, err := json.Marshal(obj)
		if err == nil {
			return merged
		}
	}
	wrapped, _ := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: event, Data: payload})
	return wrapped
}
