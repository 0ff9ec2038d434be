package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/pulsewire/pulsewire-server/internal/auth"
	"github.com/pulsewire/pulsewire-server/internal/core"
	"github.com/pulsewire/pulsewire-server/internal/proto"
	"github.com/pulsewire/pulsewire-server/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub    *core.Hub
	coord  *core.Coordinator
	tokens *auth.TokenConfig
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, coord *core.Coordinator, tokens *auth.TokenConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, coord: coord, tokens: tokens, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	identity, err := h.identityFromRequest(r)
	if err != nil {
		h.log.Debug().Err(err).Msg("rejected ws connect token")
		stdhttp.Error(w, "invalid connect token", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(utils.NewID(), r.Header.Clone(), identity)
	h.hub.Register(client)
	defer func() {
		// Leave flows first so presence transitions and webhooks observe
		// the disconnect before the client becomes unaddressable.
		h.coord.Disconnect(client)
		h.hub.Unregister(client)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type: proto.OutboundTypeEstablished,
		Data: proto.EstablishedData{SocketID: client.ID(), Protocol: proto.ProtocolVersion},
	}); err != nil {
		h.log.Warn().Err(err).Msg("write ws established")
		return
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// identityFromRequest resolves the optional connect-token identity. A token
// may arrive as a "token" query parameter or a bearer Authorization header.
// No token means an anonymous connection; an invalid one refuses the upgrade.
func (h *WSHandler) identityFromRequest(r *stdhttp.Request) (*core.Member, error) {
	if !h.tokens.Enabled() {
		return nil, nil
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		return nil, nil
	}

	claims, err := auth.ValidateToken(h.tokens, token)
	if err != nil {
		return nil, err
	}
	return &core.Member{UserID: claims.UserID, UserInfo: claims.UserInfo}, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		protoErr, err := h.handleInbound(ctx, client, inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID()).Msg("failed to map inbound")
			return err
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID()).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
