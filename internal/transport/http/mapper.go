package http

import (
	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/proto"
)

// outboundFromEvent maps an engine event to its wire envelope.
func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventSnapshot:
		return eventOutbound(proto.EventNameSnapshot, proto.SnapshotData{
			Scope:     event.Scope,
			Occupants: event.Occupants,
		})
	case core.EventUserJoined:
		return eventOutbound(proto.EventNameUserJoined, proto.MembershipData{
			Scope:    event.Scope,
			Identity: event.Identity,
			Name:     event.Name,
			Reason:   event.Reason,
		})
	case core.EventUserLeft:
		return eventOutbound(proto.EventNameUserLeft, proto.MembershipData{
			Scope:    event.Scope,
			Identity: event.Identity,
			Name:     event.Name,
			Reason:   event.Reason,
		})
	case core.EventChannelMessage:
		if event.Message == nil {
			return proto.Outbound{Type: proto.OutboundTypeEvent}
		}
		return eventOutbound(proto.EventNameMessage, proto.MessageData{Message: *event.Message})
	case core.EventAreaChanged:
		return eventOutbound(proto.EventNameAreaChanged, proto.AreaChangedData{Location: event.Scope})
	case core.EventJoinInfo:
		return eventOutbound(proto.EventNameJoinInfo, proto.JoinInfoData{
			Scope:    event.Scope,
			JoinInfo: event.JoinInfo,
		})
	case core.EventHistory:
		return eventOutbound(proto.EventNameHistory, proto.HistoryData{
			Scope:    event.Scope,
			Messages: event.Messages,
		})
	case core.EventPing:
		return eventOutbound(proto.EventNamePing, proto.PingData{SentAt: event.SentAt.UnixMilli()})
	case core.EventEvicted:
		return eventOutbound(proto.EventNameEvicted, proto.EvictedData{Reason: event.Reason})
	case core.EventSpaceClosed:
		return eventOutbound(proto.EventNameSpaceClosed, proto.MembershipData{
			Scope:  event.Scope,
			Reason: event.Reason,
		})
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func eventOutbound(name string, data any) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

// errorOutbound maps a domain error to an error envelope.
func errorOutbound(err error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: domainError(err)}
}
