package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/core"
)

// Config holds the external application auth endpoint settings.
type Config struct {
	// Host is the base URL of the application server, e.g. "https://app.local".
	Host string
	// Endpoint is the auth path, e.g. "/pulsewire/auth".
	Endpoint string
	// Timeout bounds one auth round trip.
	Timeout time.Duration
}

// Authenticator performs the channel authentication handshake against the
// external application server. It has a single failure channel: every
// transport, protocol, or parse failure becomes an unauthorized result, so
// callers fail closed without a second error path.
type Authenticator struct {
	cfg    Config
	client *http.Client
	log    *zerolog.Logger
}

// NewAuthenticator builds an authenticator with its own HTTP client.
func NewAuthenticator(cfg Config, logger *zerolog.Logger) *Authenticator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Authenticator{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

var _ core.Authenticator = (*Authenticator)(nil)

// Authenticate posts channel_name and socket_id (plus the client-supplied
// token and channel_data when present) to the auth endpoint, forwarding the
// connection's original auth headers. A 200 authorizes the subscription; any
// other status or failure denies it with the reported reason and status.
func (a *Authenticator) Authenticate(ctx context.Context, conn core.Connection, channel, authToken, channelData string) core.AuthResult {
	if a.cfg.Host == "" || a.cfg.Endpoint == "" {
		return core.AuthResult{
			Reason:     "auth endpoint not configured",
			StatusCode: http.StatusForbidden,
		}
	}

	form := url.Values{}
	form.Set("channel_name", channel)
	form.Set("socket_id", conn.ID())
	if authToken != "" {
		form.Set("token", authToken)
	}
	if channelData != "" {
		form.Set("channel_data", channelData)
	}

	endpoint := strings.TrimRight(a.cfg.Host, "/") + a.cfg.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return a.transportFailure(channel, err)
	}
	for name, values := range conn.AuthHeaders() {
		req.Header[name] = values
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.transportFailure(channel, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return a.transportFailure(channel, err)
	}

	if resp.StatusCode != http.StatusOK {
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return core.AuthResult{Reason: reason, StatusCode: resp.StatusCode}
	}

	return core.AuthResult{
		Authorized:  true,
		ChannelData: extractChannelData(body),
	}
}

func (a *Authenticator) transportFailure(channel string, err error) core.AuthResult {
	a.log.Warn().Err(err).Str("channel", channel).Msg("auth request failed")
	return core.AuthResult{
		Reason:     "auth request failed",
		StatusCode: http.StatusInternalServerError,
	}
}

// extractChannelData pulls channel_data out of a 200 response. The endpoint
// may return it as a JSON object or as a string; a string whose content is
// itself valid JSON is unwrapped, otherwise the raw value is forwarded
// unchanged.
func extractChannelData(body []byte) json.RawMessage {
	var envelope struct {
		ChannelData json.RawMessage `json:"channel_data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	data := envelope.ChannelData

	var s string
	if json.Unmarshal(data, &s) == nil {
		if json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return data
}
