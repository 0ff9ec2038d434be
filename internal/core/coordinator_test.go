package core

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeConn struct {
	id       string
	identity *Member
	headers  http.Header
}

func (f *fakeConn) ID() string                  { return f.id }
func (f *fakeConn) RequestHeaders() http.Header { return f.headers }
func (f *fakeConn) AuthHeaders() http.Header    { return f.headers }
func (f *fakeConn) Identity() *Member           { return f.identity }

type rejection struct {
	connID  string
	channel string
	status  int
}

type relayCall struct {
	channel   string
	excludeID string
	event     string
	payload   string
}

type fakeTransport struct {
	mu      sync.Mutex
	joins   []string
	leaves  []string
	rejects []rejection
	relays  []relayCall
}

func (f *fakeTransport) JoinRoom(conn Connection, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, conn.ID()+":"+channel)
}

func (f *fakeTransport) LeaveRoom(conn Connection, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, conn.ID()+":"+channel)
}

func (f *fakeTransport) Relay(channel string, exclude Connection, event string, payload json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := relayCall{channel: channel, event: event, payload: string(payload)}
	if exclude != nil {
		call.excludeID = exclude.ID()
	}
	f.relays = append(f.relays, call)
}

func (f *fakeTransport) Reject(conn Connection, channel string, statusCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, rejection{connID: conn.ID(), channel: channel, status: statusCode})
}

type fakeAuthenticator struct {
	mu     sync.Mutex
	result AuthResult
	calls  int
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _ Connection, _, _, _ string) AuthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type hookRecorder struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (h *hookRecorder) Dispatch(event LifecycleEvent, _ http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *hookRecorder) byKind(kind LifecycleKind) []LifecycleEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []LifecycleEvent
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func authorized(channelData string) AuthResult {
	res := AuthResult{Authorized: true}
	if channelData != "" {
		res.ChannelData = json.RawMessage(channelData)
	}
	return res
}

func newTestCoordinator(authn Authenticator) (*Coordinator, *fakeTransport, *hookRecorder) {
	transport := &fakeTransport{}
	hooks := &hookRecorder{}
	logger := zerolog.Nop()
	coord := NewCoordinator(
		newTestClassifier(),
		NewPresenceRegistry(),
		authn,
		hooks,
		transport,
		[]string{"client-typing"},
		&logger,
	)
	return coord, transport, hooks
}

func TestJoinPublicSkipsAuthentication(t *testing.T) {
	authn := &fakeAuthenticator{result: AuthResult{StatusCode: 403}}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "lobby", "", "")

	if authn.calls != 0 {
		t.Fatalf("expected no auth call for a public channel, got %d", authn.calls)
	}
	if len(transport.joins) != 1 || transport.joins[0] != "c1:lobby" {
		t.Fatalf("expected room join for c1:lobby, got %v", transport.joins)
	}
	if len(hooks.events) != 0 {
		t.Fatalf("expected no webhooks for public join, got %+v", hooks.events)
	}
}

func TestJoinPrivateDenied(t *testing.T) {
	authn := &fakeAuthenticator{result: AuthResult{Reason: "forbidden", StatusCode: 403}}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "private-orders", "tok", "")

	if len(transport.rejects) != 1 {
		t.Fatalf("expected one rejection, got %v", transport.rejects)
	}
	rej := transport.rejects[0]
	if rej.channel != "private-orders" || rej.status != 403 {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if len(transport.joins) != 0 {
		t.Fatalf("expected no room join after denial, got %v", transport.joins)
	}
	if len(hooks.events) != 0 {
		t.Fatalf("expected no webhooks after denial, got %+v", hooks.events)
	}
	if members := coord.Presence().Members("private-orders"); len(members) != 0 {
		t.Fatalf("expected presence untouched, got %+v", members)
	}
}

func TestJoinPresenceDeniedLeavesRegistryUntouched(t *testing.T) {
	authn := &fakeAuthenticator{result: AuthResult{Reason: "forbidden", StatusCode: 403}}
	coord, transport, _ := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1", identity: &Member{UserID: "u1"}}

	coord.Join(context.Background(), conn, "presence-room1", "tok", "")

	if len(transport.rejects) != 1 || transport.rejects[0].status != 403 {
		t.Fatalf("expected 403 rejection, got %v", transport.rejects)
	}
	if members := coord.Presence().Members("presence-room1"); len(members) != 0 {
		t.Fatalf("expected empty roster, got %+v", members)
	}
}

func TestPresenceJoinWebhookOncePerUser(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized(`{"user_id":"u1"}`)}
	coord, transport, hooks := newTestCoordinator(authn)
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	coord.Join(context.Background(), c1, "presence-room1", "tok", "")
	coord.Join(context.Background(), c2, "presence-room1", "tok", "")

	joins := hooks.byKind(LifecycleJoin)
	if len(joins) != 1 {
		t.Fatalf("expected exactly one join webhook, got %d", len(joins))
	}
	if joins[0].UserID != "u1" || joins[0].Channel != "presence-room1" {
		t.Fatalf("unexpected join webhook: %+v", joins[0])
	}
	var payload map[string]string
	if err := json.Unmarshal(joins[0].Payload, &payload); err != nil || payload["user_id"] != "u1" {
		t.Fatalf("unexpected join payload: %s", joins[0].Payload)
	}
	if len(transport.joins) != 2 {
		t.Fatalf("expected both sockets in the room, got %v", transport.joins)
	}

	coord.Leave(c1, "presence-room1")
	if leaves := hooks.byKind(LifecycleLeave); len(leaves) != 0 {
		t.Fatalf("expected no leave webhook while a connection remains, got %+v", leaves)
	}

	coord.Leave(c2, "presence-room1")
	leaves := hooks.byKind(LifecycleLeave)
	if len(leaves) != 1 {
		t.Fatalf("expected exactly one leave webhook, got %d", len(leaves))
	}
	if leaves[0].UserID != "u1" {
		t.Fatalf("unexpected leave webhook: %+v", leaves[0])
	}
	if members := coord.Presence().Members("presence-room1"); len(members) != 0 {
		t.Fatalf("expected empty roster at the end, got %+v", members)
	}
}

func TestPresenceIdentityFallsBackToConnection(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, _, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1", identity: &Member{UserID: "u7"}}

	coord.Join(context.Background(), conn, "presence-room1", "tok", "")

	joins := hooks.byKind(LifecycleJoin)
	if len(joins) != 1 || joins[0].UserID != "u7" {
		t.Fatalf("expected join webhook for token identity u7, got %+v", joins)
	}
}

func TestPresenceJoinWithoutIdentityRejected(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "presence-room1", "tok", "")

	if len(transport.rejects) != 1 || transport.rejects[0].status != 400 {
		t.Fatalf("expected 400 rejection, got %v", transport.rejects)
	}
	if len(hooks.events) != 0 {
		t.Fatalf("expected no webhooks, got %+v", hooks.events)
	}
}

func TestLeaveNonPresenceAlwaysHooks(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "private-orders", "tok", "")
	coord.Leave(conn, "private-orders")

	leaves := hooks.byKind(LifecycleLeave)
	if len(leaves) != 1 {
		t.Fatalf("expected one leave webhook, got %d", len(leaves))
	}
	if string(leaves[0].Payload) != "{}" {
		t.Fatalf("expected empty payload, got %s", leaves[0].Payload)
	}
	if len(transport.leaves) != 1 || transport.leaves[0] != "c1:private-orders" {
		t.Fatalf("expected room leave, got %v", transport.leaves)
	}
}

func TestLeaveNeverJoinedIsNoop(t *testing.T) {
	authn := &fakeAuthenticator{}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Leave(conn, "private-orders")

	if len(transport.leaves) != 0 || len(hooks.events) != 0 {
		t.Fatalf("expected complete no-op, got leaves=%v hooks=%+v", transport.leaves, hooks.events)
	}
}

func TestClientEventRelayAndHook(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "private-orders", "tok", "")
	coord.ClientEvent(conn, "private-orders", "client-update", json.RawMessage(`{"status":"shipped"}`))

	if len(transport.relays) != 1 {
		t.Fatalf("expected one relay, got %v", transport.relays)
	}
	relay := transport.relays[0]
	if relay.event != "client-update" || relay.excludeID != "c1" {
		t.Fatalf("unexpected relay: %+v", relay)
	}

	events := hooks.byKind(LifecycleClientEvent)
	if len(events) != 1 {
		t.Fatalf("expected one client_event webhook, got %d", len(events))
	}
	var payload map[string]any
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal hook payload: %v", err)
	}
	if payload["event"] != "client-update" || payload["status"] != "shipped" {
		t.Fatalf("expected event name merged into payload, got %v", payload)
	}
}

func TestClientEventExcludedFromHooksStillRelays(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}

	coord.Join(context.Background(), conn, "private-orders", "tok", "")
	coord.ClientEvent(conn, "private-orders", "client-typing", json.RawMessage(`{}`))

	if len(transport.relays) != 1 {
		t.Fatalf("expected relay for excluded event, got %v", transport.relays)
	}
	if events := hooks.byKind(LifecycleClientEvent); len(events) != 0 {
		t.Fatalf("expected no webhook for excluded event, got %+v", events)
	}
}

func TestClientEventConditions(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized("")}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}
	ctx := context.Background()

	// Not a client event name.
	coord.Join(ctx, conn, "private-orders", "tok", "")
	coord.ClientEvent(conn, "private-orders", "server-update", json.RawMessage(`{}`))

	// Not subscribed to the channel.
	coord.ClientEvent(conn, "private-other", "client-update", json.RawMessage(`{}`))

	// Public channel.
	coord.Join(ctx, conn, "lobby", "", "")
	coord.ClientEvent(conn, "lobby", "client-update", json.RawMessage(`{}`))

	if len(transport.relays) != 0 {
		t.Fatalf("expected nothing relayed, got %v", transport.relays)
	}
	if events := hooks.byKind(LifecycleClientEvent); len(events) != 0 {
		t.Fatalf("expected no client_event webhooks, got %+v", events)
	}
}

func TestDisconnectRunsLeaveFlows(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized(`{"user_id":"u1"}`)}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}
	ctx := context.Background()

	coord.Join(ctx, conn, "presence-room1", "tok", "")
	coord.Join(ctx, conn, "lobby", "", "")

	coord.Disconnect(conn)

	if len(transport.leaves) != 2 {
		t.Fatalf("expected both rooms left, got %v", transport.leaves)
	}
	leaves := hooks.byKind(LifecycleLeave)
	if len(leaves) != 2 {
		t.Fatalf("expected presence and public leave webhooks, got %+v", leaves)
	}
	if members := coord.Presence().Members("presence-room1"); len(members) != 0 {
		t.Fatalf("expected empty roster after disconnect, got %+v", members)
	}

	// A second disconnect is a no-op.
	coord.Disconnect(conn)
	if len(transport.leaves) != 2 {
		t.Fatalf("expected no further leaves, got %v", transport.leaves)
	}
}

func TestJoinIsIdempotentPerConnection(t *testing.T) {
	authn := &fakeAuthenticator{result: authorized(`{"user_id":"u1"}`)}
	coord, transport, hooks := newTestCoordinator(authn)
	conn := &fakeConn{id: "c1"}
	ctx := context.Background()

	coord.Join(ctx, conn, "presence-room1", "tok", "")
	coord.Join(ctx, conn, "presence-room1", "tok", "")

	if authn.calls != 1 {
		t.Fatalf("expected a single auth round trip, got %d", authn.calls)
	}
	if len(transport.joins) != 1 {
		t.Fatalf("expected a single room join, got %v", transport.joins)
	}
	if joins := hooks.byKind(LifecycleJoin); len(joins) != 1 {
		t.Fatalf("expected a single join webhook, got %+v", joins)
	}
}
