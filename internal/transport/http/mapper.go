package http

import (
	"context"
	"encoding/json"

	"github.com/pulsewire/pulsewire-server/internal/core"
	"github.com/pulsewire/pulsewire-server/internal/proto"
)

// handleInbound maps a wire envelope onto a coordinator operation. A
// malformed-but-parseable request yields a protocol error for the client; an
// undecodable frame yields a hard error that closes the connection.
func (h *WSHandler) handleInbound(ctx context.Context, client *core.Client, inbound proto.Inbound) (*proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeSubscribe:
		var sub proto.SubscribeData
		if err := json.Unmarshal(inbound.Data, &sub); err != nil {
			return nil, err
		}
		if sub.Channel == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel is required"}, nil
		}
		h.coord.Join(ctx, client, sub.Channel, sub.Auth, sub.ChannelData)
		return nil, nil
	case proto.InboundTypeUnsubscribe:
		var unsub proto.UnsubscribeData
		if err := json.Unmarshal(inbound.Data, &unsub); err != nil {
			return nil, err
		}
		if unsub.Channel == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel is required"}, nil
		}
		h.coord.Leave(client, unsub.Channel)
		return nil, nil
	case proto.InboundTypeEvent:
		var ev proto.EventData
		if err := json.Unmarshal(inbound.Data, &ev); err != nil {
			return nil, err
		}
		if ev.Channel == "" || ev.Event == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel and event are required"}, nil
		}
		h.coord.ClientEvent(client, ev.Channel, ev.Event, ev.Data)
		return nil, nil
	default:
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventSubscribed:
		return proto.Outbound{
			Type:    proto.OutboundTypeSubscribed,
			Channel: event.Channel,
		}
	case core.EventSubscriptionRejected:
		return proto.Outbound{
			Type:    proto.OutboundTypeSubscriptionError,
			Channel: event.Channel,
			Status:  event.Status,
		}
	case core.EventChannelMessage:
		return proto.Outbound{
			Type:    proto.OutboundTypeEvent,
			Channel: event.Channel,
			Event:   event.Name,
			Data:    event.Payload,
		}
	case core.EventError:
		if event.Error != nil {
			return proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
			}
		}
	}
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "internal", Msg: "unknown event"}}
}
