package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/auth"
	"github.com/pulsewire/pulsewire-server/internal/config"
	"github.com/pulsewire/pulsewire-server/internal/core"
	transporthttp "github.com/pulsewire/pulsewire-server/internal/transport/http"
	"github.com/pulsewire/pulsewire-server/internal/webhook"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hooks           *webhook.Dispatcher
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	classifier := core.NewClassifier(
		cfg.Channels.PresencePatterns,
		cfg.Channels.PrivatePatterns,
		cfg.Channels.ClientEventPatterns,
	)
	presence := core.NewPresenceRegistry()

	hooks, err := webhook.NewDispatcher(webhook.Config{
		Host:       cfg.App.HookHost,
		Endpoint:   cfg.App.HookEndpoint,
		CertPath:   cfg.App.SSLCertPath,
		KeyPath:    cfg.App.SSLKeyPath,
		Passphrase: cfg.App.SSLPassphrase,
		SkipVerify: cfg.App.SSLSkipVerify,
		Timeout:    cfg.App.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init webhook dispatcher: %w", err)
	}
	if cfg.App.HookEndpoint == "" {
		logger.Info().Msg("webhooks disabled: no hook endpoint configured")
	}

	authn := auth.NewAuthenticator(auth.Config{
		Host:     cfg.App.AuthHost,
		Endpoint: cfg.App.AuthEndpoint,
		Timeout:  cfg.App.Timeout,
	}, logger)

	hub := core.NewHub(logger)
	coord := core.NewCoordinator(
		classifier,
		presence,
		authn,
		hooks,
		hub,
		cfg.Channels.HookExcludedEvents,
		logger,
	)

	tokens := &auth.TokenConfig{
		Secret:   []byte(cfg.Token.Secret),
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		TTL:      24 * time.Hour,
	}

	server := transporthttp.NewServer(hub, coord, tokens, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hooks:           hooks,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup waits for in-flight webhook deliveries.
func (a *App) cleanup() {
	a.hooks.Close()
	a.log.Info().Msg("webhook dispatcher drained")
}
