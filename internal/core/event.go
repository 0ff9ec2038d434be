package core

import "encoding/json"

// EventKind is a notification the core emits to connected clients.
type EventKind int

const (
	// EventSubscribed confirms a successful channel subscription.
	EventSubscribed EventKind = iota
	// EventSubscriptionRejected reports a refused subscription with a status code.
	EventSubscriptionRejected
	// EventChannelMessage delivers a channel event to a subscriber.
	EventChannelMessage
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Channel string
	Name    string          // event name for EventChannelMessage
	Payload json.RawMessage // event payload for EventChannelMessage
	Status  int             // HTTP-style status for EventSubscriptionRejected
	Error   *CoreError
}

// LifecycleKind names a webhook-notified lifecycle transition.
type LifecycleKind string

const (
	// LifecycleJoin fires when a user truly enters a presence channel.
	LifecycleJoin LifecycleKind = "join"
	// LifecycleLeave fires when a user truly exits a channel.
	LifecycleLeave LifecycleKind = "leave"
	// LifecycleClientEvent fires when a subscriber relays a client event.
	LifecycleClientEvent LifecycleKind = "client_event"
)

// LifecycleEvent is the ephemeral record handed to the webhook dispatcher.
// It is produced and consumed within a single flow, never persisted.
type LifecycleEvent struct {
	Kind    LifecycleKind
	Channel string
	UserID  string
	Payload json.RawMessage
}
