package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegister binds an identity to the session.
	CommandRegister CommandKind = iota
	// CommandSendPrivate sends a text to one online identity.
	CommandSendPrivate
	// CommandSendGroup fans a text out to a group.
	CommandSendGroup
	// CommandJoinGroup creates the group on first join.
	CommandJoinGroup
	// CommandLeaveGroup removes the sender from a group.
	CommandLeaveGroup
	// CommandAddToGroup adds another identity to a group the sender belongs to.
	CommandAddToGroup
	// CommandRemoveFromGroup removes another identity from a group the sender belongs to.
	CommandRemoveFromGroup
	// CommandAckDelivered confirms a message reached the client.
	CommandAckDelivered
	// CommandAckRead confirms a message was read.
	CommandAckRead
	// CommandListUsers asks for the online identities.
	CommandListUsers
	// CommandListGroups asks for the live groups.
	CommandListGroups
	// CommandHistory asks for stored messages of a conversation or group.
	CommandHistory
)

func (k CommandKind) String() string {
	switch k {
	case CommandRegister:
		return "register"
	case CommandSendPrivate:
		return "private_message"
	case CommandSendGroup:
		return "group_message"
	case CommandJoinGroup:
		return "join_group"
	case CommandLeaveGroup:
		return "leave_group"
	case CommandAddToGroup:
		return "add_to_group"
	case CommandRemoveFromGroup:
		return "remove_from_group"
	case CommandAckDelivered:
		return "ack_delivered"
	case CommandAckRead:
		return "ack_read"
	case CommandListUsers:
		return "list_users"
	case CommandListGroups:
		return "list_groups"
	case CommandHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client. Only the fields
// relevant to Kind are set.
type Command struct {
	Kind      CommandKind
	Identity  string // register
	To        string // private message
	Group     string // group operations, group history
	Target    string // add/remove member
	Text      string
	MessageID string // acknowledgments
	From      string // acknowledgments: original sender as the client saw it
	With      string // private history peer
	Limit     int
}
