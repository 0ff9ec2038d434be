package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/core"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub   *core.Hub
	coord *core.Coordinator
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, coord *core.Coordinator, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:   hub,
		coord: coord,
		log:   logger,
	}
}

// PublishRequest represents the publish request body.
type PublishRequest struct {
	Channel string          `json:"channel" binding:"required"`
	Event   string          `json:"event" binding:"required"`
	Data    json.RawMessage `json:"data"`
}

// PublishResponse acknowledges a publish.
type PublishResponse struct {
	Published bool `json:"published"`
}

// ChannelUsersResponse is the presence roster of one channel.
type ChannelUsersResponse struct {
	Users []core.Member `json:"users"`
}

// PublishEvent broadcasts an application event to all channel subscribers.
// POST /api/events
func (h *APIHandlers) PublishEvent(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid publish request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.hub.Broadcast(req.Channel, req.Event, req.Data)
	c.JSON(http.StatusOK, PublishResponse{Published: true})
}

// ChannelUsers returns the presence roster of a channel.
// GET /api/channels/:channel/users
func (h *APIHandlers) ChannelUsers(c *gin.Context) {
	channel := c.Param("channel")
	members := h.coord.Presence().Members(channel)
	if members == nil {
		members = []core.Member{}
	}
	c.JSON(http.StatusOK, ChannelUsersResponse{Users: members})
}
