package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	// DevMode raises log verbosity; it has no behavioral effect on
	// correctness.
	DevMode bool `mapstructure:"dev_mode" yaml:"dev_mode"`
	// APIKey guards the REST publish API. Empty leaves the API open.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	Channels ChannelsConfig `mapstructure:"channels" yaml:"channels"`
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Token    TokenConfig    `mapstructure:"token" yaml:"token"`
}

// ChannelsConfig configures channel-name and event-name classification.
type ChannelsConfig struct {
	// PresencePatterns/PrivatePatterns classify channel names; a trailing
	// '*' matches any suffix. Presence wins over private.
	PresencePatterns []string `mapstructure:"presence_patterns" yaml:"presence_patterns"`
	PrivatePatterns  []string `mapstructure:"private_patterns" yaml:"private_patterns"`
	// ClientEventPatterns recognize client-originated event names.
	ClientEventPatterns []string `mapstructure:"client_event_patterns" yaml:"client_event_patterns"`
	// HookExcludedEvents lists client-event names that are relayed to peers
	// but never trigger a webhook (high-frequency events such as typing
	// indicators).
	HookExcludedEvents []string `mapstructure:"hook_excluded_events" yaml:"hook_excluded_events"`
}

// AppConfig points at the external application server.
type AppConfig struct {
	AuthHost     string `mapstructure:"auth_host" yaml:"auth_host"`
	AuthEndpoint string `mapstructure:"auth_endpoint" yaml:"auth_endpoint"`
	HookHost     string `mapstructure:"hook_host" yaml:"hook_host"`
	// HookEndpoint disables webhooks when empty.
	HookEndpoint string `mapstructure:"hook_endpoint" yaml:"hook_endpoint"`

	SSLCertPath   string `mapstructure:"ssl_cert_path" yaml:"ssl_cert_path"`
	SSLKeyPath    string `mapstructure:"ssl_key_path" yaml:"ssl_key_path"`
	SSLPassphrase string `mapstructure:"ssl_passphrase" yaml:"ssl_passphrase"`
	// SSLSkipVerify accepts application endpoints with self-issued
	// certificates.
	SSLSkipVerify bool `mapstructure:"ssl_skip_verify" yaml:"ssl_skip_verify"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TokenConfig configures optional connect-token validation. An empty secret
// disables tokens; clients then connect anonymously.
type TokenConfig struct {
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Channels: ChannelsConfig{
			PresencePatterns:    []string{"presence-*"},
			PrivatePatterns:     []string{"private-*"},
			ClientEventPatterns: []string{"client-*"},
			HookExcludedEvents:  []string{"client-typing"},
		},
		App: AppConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DevMode {
		c.DevMode = true
	}
}
