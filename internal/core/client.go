package core

import "net/http"

// Client is one transport-level connection as seen by the core layer. The
// transport owns the socket; the core references the client by identity only.
type Client struct {
	id          string
	headers     http.Header
	authHeaders http.Header
	identity    *Member

	Events chan *Event
}

// NewClient constructs a client. requestHeaders are the headers of the
// original upgrade request; identity is the optional connect-token identity
// used as the presence fallback when the auth endpoint returns no member data.
func NewClient(id string, requestHeaders http.Header, identity *Member) *Client {
	return &Client{
		id:          id,
		headers:     requestHeaders,
		authHeaders: extractAuthHeaders(requestHeaders),
		identity:    identity,
		Events:      make(chan *Event, 16),
	}
}

// ID returns the unique socket identifier.
func (c *Client) ID() string { return c.id }

// RequestHeaders returns the headers of the original upgrade request.
func (c *Client) RequestHeaders() http.Header { return c.headers }

// AuthHeaders returns the subset of request headers forwarded to the
// application server on auth and webhook calls.
func (c *Client) AuthHeaders() http.Header { return c.authHeaders }

// Identity returns the connect-token identity, or nil for anonymous clients.
func (c *Client) Identity() *Member { return c.identity }

// send delivers an event to the client, dropping it if the consumer is slow.
func (c *Client) send(ev *Event) {
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer.
	}
}

func extractAuthHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for _, name := range []string{"Authorization", "Cookie", "X-Csrf-Token"} {
		if values := h.Values(name); len(values) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
	return out
}
