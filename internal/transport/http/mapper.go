package http

import (
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// inboundToCommand decodes and validates an inbound frame. Malformed or
// unknown frames come back as a protocol error and never reach the hub.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeRegister:
		var data proto.RegisterData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandRegister, Identity: data.Identity}, nil
	case proto.InboundTypePrivateMessage:
		var data proto.PrivateMessageData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandSendPrivate, To: data.To, Text: data.Text}, nil
	case proto.InboundTypeGroupMessage:
		var data proto.GroupMessageData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandSendGroup, Group: data.GroupName, Text: data.Text}, nil
	case proto.InboundTypeJoinGroup, proto.InboundTypeLeaveGroup:
		var data proto.GroupData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		kind := core.CommandJoinGroup
		if inbound.Type == proto.InboundTypeLeaveGroup {
			kind = core.CommandLeaveGroup
		}
		return &core.Command{Kind: kind, Group: data.GroupName}, nil
	case proto.InboundTypeAddUserToGroup, proto.InboundTypeRemoveFromGroup:
		var data proto.MemberData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		kind := core.CommandAddToGroup
		if inbound.Type == proto.InboundTypeRemoveFromGroup {
			kind = core.CommandRemoveFromGroup
		}
		return &core.Command{Kind: kind, Group: data.GroupName, Target: data.Username}, nil
	case proto.InboundTypeDelivered, proto.InboundTypeRead:
		var data proto.AckData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		kind := core.CommandAckDelivered
		if inbound.Type == proto.InboundTypeRead {
			kind = core.CommandAckRead
		}
		return &core.Command{Kind: kind, MessageID: data.MessageID, From: data.From}, nil
	case proto.InboundTypeGetUsers:
		return &core.Command{Kind: core.CommandListUsers}, nil
	case proto.InboundTypeGetGroups:
		return &core.Command{Kind: core.CommandListGroups}, nil
	case proto.InboundTypeHistory:
		var data proto.HistoryData
		if perr := decode(inbound, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandHistory, With: data.With, Group: data.GroupName, Limit: data.Limit}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

func decode(inbound proto.Inbound, dst any) *proto.Error {
	if err := proto.Decode(inbound.Data, dst); err != nil {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()}
	}
	return nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	out := proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Kind.String()}

	switch event.Kind {
	case core.EventRegistered:
		out.Data = proto.EventRegistered{User: event.User, Users: nonNil(event.Users)}
	case core.EventPrivateMessage, core.EventGroupMessage:
		out.Data = messageToProto(*event.Message)
	case core.EventUserJoinedGroup, core.EventUserLeftGroup, core.EventUserAddedToGroup,
		core.EventUserRemovedFromGroup, core.EventRemovedFromGroup:
		out.Data = proto.EventMembership{
			GroupName: event.Group.Name,
			GroupID:   event.Group.ID,
			User:      event.User,
			By:        event.Actor,
			Members:   nonNil(event.Group.Members),
		}
	case core.EventMessageDelivered, core.EventMessageRead:
		out.Data = receiptToProto(event.Receipt)
	case core.EventUserList:
		out.Data = proto.EventUserList{Users: nonNil(event.Users)}
	case core.EventGroupList:
		out.Data = proto.EventGroupList{Groups: groupsToProto(event.Groups)}
	case core.EventUserStatus:
		out.Data = proto.EventUserStatus{User: event.User, Online: event.Online}
	case core.EventHistory:
		hist := proto.EventHistory{
			With:     event.Peer,
			Messages: lo.Map(event.Messages, func(m core.Message, _ int) proto.Message { return messageToProto(m) }),
		}
		if event.Group != nil {
			hist.GroupName = event.Group.Name
		}
		out.Data = hist
	case core.EventError:
		out = proto.Outbound{Type: proto.OutboundTypeError}
		if event.Error == nil {
			out.Error = &proto.Error{Code: "unknown", Msg: "unknown error"}
		} else {
			out.Error = &proto.Error{Code: event.Error.Code, Msg: event.Error.Message}
		}
	}
	return out
}

func messageToProto(m core.Message) proto.Message {
	return proto.Message{
		ID:          m.ID,
		ChatType:    string(m.Kind),
		From:        m.From,
		To:          m.To,
		GroupID:     m.GroupID,
		GroupName:   m.GroupName,
		Text:        m.Text,
		Status:      string(m.Status),
		Total:       m.Total,
		DeliveredBy: m.DeliveredBy,
		ReadBy:      m.ReadBy,
		TS:          m.CreatedAt.Unix(),
	}
}

func receiptToProto(r *core.Receipt) proto.EventReceipt {
	out := proto.EventReceipt{
		MessageID: r.MessageID,
		ChatType:  string(r.Kind),
		By:        r.Actor,
		GroupName: r.GroupName,
		Status:    string(r.Status),
	}
	if r.Kind == store.ChatKindGroup {
		out.DeliveredTo = r.DeliveredCount
		out.ReadBy = r.ReadCount
		out.Total = r.Total
	}
	if r.DeliveredAt != nil {
		out.DeliveredAt = r.DeliveredAt.Unix()
	}
	if r.ReadAt != nil {
		out.ReadAt = r.ReadAt.Unix()
	}
	return out
}

func groupsToProto(groups []core.GroupInfo) []proto.Group {
	return lo.Map(groups, func(g core.GroupInfo, _ int) proto.Group {
		return proto.Group{ID: g.ID, Name: g.Name, Members: nonNil(g.Members)}
	})
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
