package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeRegister        = "register"
	InboundTypePrivateMessage  = "privateMessage"
	InboundTypeGroupMessage    = "groupMessage"
	InboundTypeJoinGroup       = "joinGroup"
	InboundTypeLeaveGroup      = "leaveGroup"
	InboundTypeAddUserToGroup  = "addUserToGroup"
	InboundTypeRemoveFromGroup = "removeUserFromGroup"
	InboundTypeDelivered       = "message_delivered"
	InboundTypeRead            = "message_read"
	InboundTypeGetUsers        = "getUsers"
	InboundTypeGetGroups       = "getGroups"
	InboundTypeHistory         = "history"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// RegisterData binds an identity to the connection.
type RegisterData struct {
	Identity string `json:"identity" validate:"required,max=64"`
}

// PrivateMessageData sends text to one online identity.
type PrivateMessageData struct {
	To   string `json:"to" validate:"required,max=64"`
	Text string `json:"text" validate:"required"`
}

// GroupMessageData sends text to a group.
type GroupMessageData struct {
	GroupName string `json:"groupName" validate:"required,max=64"`
	Text      string `json:"text" validate:"required"`
}

// GroupData names a group to join or leave.
type GroupData struct {
	GroupName string `json:"groupName" validate:"required,max=64"`
}

// MemberData names a member to add to or remove from a group.
type MemberData struct {
	GroupName string `json:"groupName" validate:"required,max=64"`
	Username  string `json:"username" validate:"required,max=64"`
}

// AckData acknowledges delivery or reading of a message.
type AckData struct {
	MessageID string `json:"messageId" validate:"required"`
	From      string `json:"from,omitempty"`
}

// HistoryData asks for stored messages with a peer or of a group.
type HistoryData struct {
	With      string `json:"with,omitempty" validate:"required_without=GroupName,excluded_with=GroupName"`
	GroupName string `json:"groupName,omitempty"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is a private or group message as clients see it.
type Message struct {
	ID          string   `json:"id"`
	ChatType    string   `json:"chatType"`
	From        string   `json:"from"`
	To          string   `json:"to,omitempty"`
	GroupID     string   `json:"groupId,omitempty"`
	GroupName   string   `json:"groupName,omitempty"`
	Text        string   `json:"text"`
	Status      string   `json:"status"`
	Total       int      `json:"totalRecipients,omitempty"`
	DeliveredBy []string `json:"deliveredBy,omitempty"`
	ReadBy      []string `json:"readBy,omitempty"`
	TS          int64    `json:"ts"`
}

// Group is a live group.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// EventRegistered confirms registration.
type EventRegistered struct {
	User  string   `json:"user"`
	Users []string `json:"users"`
}

// EventMembership reports a join, leave, add or removal.
type EventMembership struct {
	GroupName string   `json:"groupName"`
	GroupID   string   `json:"groupId"`
	User      string   `json:"user"`
	By        string   `json:"by,omitempty"`
	Members   []string `json:"members"`
}

// EventReceipt tells a sender about an acknowledgment.
type EventReceipt struct {
	MessageID   string `json:"messageId"`
	ChatType    string `json:"chatType"`
	By          string `json:"by"`
	GroupName   string `json:"groupName,omitempty"`
	Status      string `json:"status"`
	DeliveredTo int    `json:"deliveredTo,omitempty"`
	ReadBy      int    `json:"readBy,omitempty"`
	Total       int    `json:"total,omitempty"`
	DeliveredAt int64  `json:"deliveredAt,omitempty"`
	ReadAt      int64  `json:"readAt,omitempty"`
}

// EventUserList lists online identities.
type EventUserList struct {
	Users []string `json:"users"`
}

// EventGroupList lists live groups.
type EventGroupList struct {
	Groups []Group `json:"groups"`
}

// EventUserStatus announces presence.
type EventUserStatus struct {
	User   string `json:"user"`
	Online bool   `json:"online"`
}

// EventHistory carries stored messages.
type EventHistory struct {
	With      string    `json:"with,omitempty"`
	GroupName string    `json:"groupName,omitempty"`
	Messages  []Message `json:"messages"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
