package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/auth"
	"github.com/pulsewire/pulsewire-server/internal/config"
	"github.com/pulsewire/pulsewire-server/internal/core"
)

// NewServer builds the HTTP server: health, the WebSocket endpoint, and the
// REST API the application server publishes through.
func NewServer(hub *core.Hub, coord *core.Coordinator, tokens *auth.TokenConfig, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, coord, tokens, logger)))

	handlers := NewAPIHandlers(hub, coord, logger)
	api := router.Group("/api", APIKeyMiddleware(cfg.APIKey, logger))
	api.POST("/events", handlers.PublishEvent)
	api.GET("/channels/:channel/users", handlers.ChannelUsers)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
