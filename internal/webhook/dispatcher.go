package webhook

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/core"
)

// Config holds webhook endpoint and client-certificate settings.
type Config struct {
	// Host is the base URL of the application server.
	Host string
	// Endpoint is the webhook path. Empty disables webhooks entirely.
	Endpoint string
	// CertPath/KeyPath/Passphrase configure the mutual-TLS client
	// certificate attached when the endpoint is HTTPS.
	CertPath   string
	KeyPath    string
	Passphrase string
	// SkipVerify relaxes peer verification; the operator opts into accepting
	// endpoints with self-issued certificates.
	SkipVerify bool
	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}

// Dispatcher posts lifecycle notifications to the application server.
// Delivery is fire-and-forget, best-effort, at-most-once: failures are
// logged and swallowed, there is no retry, and the join/leave/client-event
// flows never block on the outcome.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	wg       sync.WaitGroup
	log      *zerolog.Logger
}

// NewDispatcher builds a dispatcher. An unconfigured endpoint yields a
// dispatcher whose Dispatch is a no-op. Certificate material that cannot be
// loaded is an error: a misconfigured operator should find out at startup,
// not per delivery.
func NewDispatcher(cfg Config, logger *zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{log: logger}
	if cfg.Endpoint == "" {
		return d, nil
	}

	endpoint := strings.TrimRight(cfg.Host, "/") + cfg.Endpoint
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook endpoint: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	if parsed.Scheme == "https" && cfg.CertPath != "" && cfg.KeyPath != "" {
		cert, err := loadClientCert(cfg.CertPath, cfg.KeyPath, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load webhook client certificate: %w", err)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates:       []tls.Certificate{cert},
				InsecureSkipVerify: cfg.SkipVerify,
			},
		}
	}

	d.endpoint = endpoint
	d.client = client
	return d, nil
}

var _ core.Hooks = (*Dispatcher)(nil)

// Dispatch queues one delivery and returns immediately. headers carry the
// originating connection's auth headers; the session cookie is forwarded and
// an X-Requested-With marker is added.
func (d *Dispatcher) Dispatch(event core.LifecycleEvent, headers http.Header) {
	if d.endpoint == "" {
		return
	}

	d.wg.Add(1)
	go d.deliver(event, headers.Clone())
}

// Close waits for in-flight deliveries. Shutdown hygiene only; it does not
// change the at-most-once contract.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(event core.LifecycleEvent, headers http.Header) {
	defer d.wg.Done()

	form := url.Values{}
	form.Set("event", string(event.Kind))
	form.Set("channel", event.Channel)
	form.Set("payload", string(event.Payload))

	req, err := http.NewRequest(http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		d.log.Warn().Err(err).Str("event", string(event.Kind)).Msg("build webhook request")
		return
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn().Err(err).
			Str("event", string(event.Kind)).
			Str("channel", event.Channel).
			Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.log.Warn().
			Int("status", resp.StatusCode).
			Str("event", string(event.Kind)).
			Str("channel", event.Channel).
			Msg("webhook endpoint returned non-200")
	}
}

func loadClientCert(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	if passphrase == "" {
		return tls.LoadX509KeyPair(certPath, keyPath)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("no PEM block in %s", keyPath)
	}
	// Legacy PEM encryption is the only passphrase scheme the config
	// supports; keys without it should omit ssl_passphrase.
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decrypt key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})

	return tls.X509KeyPair(certPEM, keyPEM)
}
