package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRegistered confirms the identity is bound to the session.
	EventRegistered EventKind = iota
	// EventPrivateMessage carries a private message to its recipient, and back to the sender as confirmation.
	EventPrivateMessage
	// EventGroupMessage carries a group message to every member.
	EventGroupMessage
	// EventUserJoinedGroup notifies members that someone joined.
	EventUserJoinedGroup
	// EventUserLeftGroup notifies members that someone left or disconnected.
	EventUserLeftGroup
	// EventUserAddedToGroup notifies members that someone was added by another member.
	EventUserAddedToGroup
	// EventUserRemovedFromGroup notifies remaining members about a removal.
	EventUserRemovedFromGroup
	// EventRemovedFromGroup tells the removed identity it is out.
	EventRemovedFromGroup
	// EventMessageDelivered tells the sender a delivery acknowledgment was recorded.
	EventMessageDelivered
	// EventMessageRead tells the sender a read acknowledgment was recorded.
	EventMessageRead
	// EventUserList delivers the online identities.
	EventUserList
	// EventGroupList delivers the live groups.
	EventGroupList
	// EventUserStatus announces presence changes.
	EventUserStatus
	// EventHistory delivers stored messages.
	EventHistory
	// EventError notifies a client about a failed operation.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventPrivateMessage:
		return "privateMessage"
	case EventGroupMessage:
		return "groupMessage"
	case EventUserJoinedGroup:
		return "userJoinedGroup"
	case EventUserLeftGroup:
		return "userLeftGroup"
	case EventUserAddedToGroup:
		return "userAddedToGroup"
	case EventUserRemovedFromGroup:
		return "userRemovedFromGroup"
	case EventRemovedFromGroup:
		return "removedFromGroup"
	case EventMessageDelivered:
		return "messageDelivered"
	case EventMessageRead:
		return "messageRead"
	case EventUserList:
		return "userList"
	case EventGroupList:
		return "groupList"
	case EventUserStatus:
		return "userStatus"
	case EventHistory:
		return "history"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	User     string // subject identity
	Actor    string // identity that caused a membership change
	Online   bool   // EventUserStatus
	Peer     string // EventHistory of a private conversation
	Group    *GroupInfo
	Message  *Message
	Receipt  *Receipt
	Users    []string
	Groups   []GroupInfo
	Messages []Message
	Error    *CoreError
}
