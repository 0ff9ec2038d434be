package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"
	InboundTypeEvent       = "event"

	OutboundTypeEstablished       = "connection_established"
	OutboundTypeSubscribed        = "subscription_succeeded"
	OutboundTypeSubscriptionError = "subscription_error"
	OutboundTypeEvent             = "event"
	OutboundTypeError             = "error"
)

// SubscribeData requests a channel subscription. Auth and ChannelData are
// produced by the application's auth flow and forwarded verbatim.
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribeData leaves a channel.
type UnsubscribeData struct {
	Channel string `json:"channel"`
}

// EventData is a client event broadcast to channel peers.
type EventData struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
	Status  int    `json:"status,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// EstablishedData introduces the socket to the client.
type EstablishedData struct {
	SocketID string `json:"socket_id"`
	Protocol int    `json:"protocol"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
