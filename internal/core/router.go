package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

func (h *Hub) handle(c *Client, cmd *Command) {
	if cmd.Kind == CommandRegister {
		h.handleRegister(c, cmd)
		return
	}

	identity, ok := h.registry.IdentityOf(c)
	if !ok {
		h.fail(c, ErrCodeNotRegistered, "register before "+cmd.Kind.String())
		return
	}

	switch cmd.Kind {
	case CommandSendPrivate:
		h.handlePrivate(c, identity, cmd)
	case CommandSendGroup:
		h.handleGroup(c, identity, cmd)
	case CommandJoinGroup:
		h.handleJoin(c, identity, cmd)
	case CommandLeaveGroup:
		h.handleLeave(c, identity, cmd)
	case CommandAddToGroup:
		h.handleAdd(c, identity, cmd)
	case CommandRemoveFromGroup:
		h.handleRemove(c, identity, cmd)
	case CommandAckDelivered:
		h.handleAck(identity, store.ReceiptDelivered, cmd)
	case CommandAckRead:
		h.handleAck(identity, store.ReceiptRead, cmd)
	case CommandListUsers:
		h.send(c, h.userList())
	case CommandListGroups:
		h.send(c, h.groupList())
	case CommandHistory:
		h.handleHistory(c, identity, cmd)
	default:
		h.fail(c, ErrCodeBadRequest, "unsupported command")
	}
}

func (h *Hub) handleRegister(c *Client, cmd *Command) {
	identity := strings.TrimSpace(cmd.Identity)
	if identity == "" {
		h.fail(c, ErrCodeBadRequest, "identity is required")
		return
	}
	if current, ok := h.registry.IdentityOf(c); ok && current == identity {
		h.send(c, &Event{Kind: EventRegistered, User: identity, Users: h.registry.Identities()})
		return
	}

	if err := h.registry.Register(identity, c); err != nil {
		h.log.Debug().Err(err).Str("client_id", c.ID).Msg("register rejected")
		h.fail(c, errorCode(err), err.Error())
		return
	}
	h.log.Info().Str("client_id", c.ID).Str("identity", identity).Msg("identity registered")

	h.send(c, &Event{Kind: EventRegistered, User: identity, Users: h.registry.Identities()})
	h.broadcast(&Event{Kind: EventUserStatus, User: identity, Online: true})
	h.broadcast(h.userList())
}

func (h *Hub) handlePrivate(c *Client, sender string, cmd *Command) {
	to := strings.TrimSpace(cmd.To)
	switch {
	case to == "":
		h.fail(c, ErrCodeBadRequest, "recipient is required")
		return
	case cmd.Text == "":
		h.fail(c, ErrCodeBadRequest, "text is required")
		return
	case to == sender:
		h.fail(c, ErrCodeBadRequest, "cannot message yourself")
		return
	}
	if _, ok := h.registry.Resolve(to); !ok {
		h.fail(c, ErrCodeUserNotFound, fmt.Sprintf("user %q is not online", to))
		return
	}

	rec := &store.Message{
		ID:        h.newID(),
		Kind:      store.ChatKindPrivate,
		Sender:    sender,
		Recipient: to,
		Body:      cmd.Text,
		Status:    store.StatusSent,
		SentAt:    h.now(),
	}
	h.persist(func(ctx context.Context) func() {
		err := h.store.CreateMessage(ctx, rec)
		return func() { h.afterPrivateCreated(c, rec, err) }
	})
}

func (h *Hub) afterPrivateCreated(c *Client, rec *store.Message, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("message_id", rec.ID).Str("identity", rec.Sender).Msg("persist private message")
		h.fail(c, ErrCodePersistence, "message could not be stored")
		return
	}

	h.tracker.Track(rec)
	msg := messageFromRecord(rec)
	ev := &Event{Kind: EventPrivateMessage, Message: &msg}

	// The recipient may have gone away while the record was written; the
	// message then stays at sent.
	if !h.sendTo(rec.Recipient, ev) {
		h.log.Debug().Str("message_id", rec.ID).Str("identity", rec.Recipient).Msg("recipient went offline before push")
	}
	h.send(c, ev)
}

func (h *Hub) handleGroup(c *Client, sender string, cmd *Command) {
	name := strings.TrimSpace(cmd.Group)
	if name == "" {
		h.fail(c, ErrCodeBadRequest, "group name is required")
		return
	}
	if cmd.Text == "" {
		h.fail(c, ErrCodeBadRequest, "text is required")
		return
	}
	info, ok := h.groups.Lookup(name)
	if !ok {
		h.fail(c, ErrCodeGroupNotFound, fmt.Sprintf("group %q does not exist", name))
		return
	}
	if !lo.Contains(info.Members, sender) {
		h.fail(c, ErrCodeNotAMember, fmt.Sprintf("not a member of %q", name))
		return
	}

	recipients := lo.Without(info.Members, sender)
	rec := &store.Message{
		ID:              h.newID(),
		Kind:            store.ChatKindGroup,
		Sender:          sender,
		GroupID:         info.ID,
		GroupName:       info.Name,
		Recipients:      recipients,
		TotalRecipients: len(recipients),
		Body:            cmd.Text,
		Status:          store.StatusSent,
		SentAt:          h.now(),
	}
	h.persist(func(ctx context.Context) func() {
		err := h.store.CreateMessage(ctx, rec)
		return func() { h.afterGroupCreated(c, rec, err) }
	})
}

func (h *Hub) afterGroupCreated(c *Client, rec *store.Message, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("message_id", rec.ID).Str("group", rec.GroupName).Msg("persist group message")
		h.fail(c, ErrCodePersistence, "message could not be stored")
		return
	}

	h.tracker.Track(rec)
	msg := messageFromRecord(rec)
	ev := &Event{Kind: EventGroupMessage, Message: &msg}

	// Fan out to the recorded recipients that are still online.
	h.broadcastMembers(rec.Recipients, ev)
	h.send(c, ev)
}

func (h *Hub) handleJoin(c *Client, identity string, cmd *Command) {
	name := strings.TrimSpace(cmd.Group)
	if name == "" {
		h.fail(c, ErrCodeBadRequest, "group name is required")
		return
	}

	res := h.groups.CreateOrJoin(name, identity)
	if !res.Added {
		h.send(c, &Event{Kind: EventUserJoinedGroup, User: identity, Group: &res.Group})
		return
	}
	if res.Created {
		h.log.Info().Str("group", name).Str("group_id", res.Group.ID).Msg("group created")
	}

	h.broadcastMembers(res.Group.Members, &Event{Kind: EventUserJoinedGroup, User: identity, Group: &res.Group})
	if res.Created {
		h.broadcast(h.groupList())
	}
}

func (h *Hub) handleLeave(c *Client, identity string, cmd *Command) {
	name := strings.TrimSpace(cmd.Group)
	if name == "" {
		h.fail(c, ErrCodeBadRequest, "group name is required")
		return
	}

	res, err := h.groups.Leave(name, identity)
	if err != nil {
		h.fail(c, errorCode(err), err.Error())
		return
	}

	ev := &Event{Kind: EventUserLeftGroup, User: identity, Group: &res.Group}
	h.send(c, ev)
	h.afterMembershipLoss(res, ev)
}

func (h *Hub) handleAdd(c *Client, requester string, cmd *Command) {
	name := strings.TrimSpace(cmd.Group)
	target := strings.TrimSpace(cmd.Target)
	if name == "" || target == "" {
		h.fail(c, ErrCodeBadRequest, "group name and username are required")
		return
	}
	if _, ok := h.registry.Resolve(target); !ok {
		h.fail(c, ErrCodeUserNotFound, fmt.Sprintf("user %q is not online", target))
		return
	}

	info, err := h.groups.AddMember(name, target, requester)
	if err != nil {
		h.fail(c, errorCode(err), err.Error())
		return
	}
	h.log.Debug().Str("group", name).Str("identity", target).Str("actor", requester).Msg("member added")

	h.broadcastMembers(info.Members, &Event{Kind: EventUserAddedToGroup, User: target, Actor: requester, Group: &info})
}

func (h *Hub) handleRemove(c *Client, requester string, cmd *Command) {
	name := strings.TrimSpace(cmd.Group)
	target := strings.TrimSpace(cmd.Target)
	if name == "" || target == "" {
		h.fail(c, ErrCodeBadRequest, "group name and username are required")
		return
	}

	res, err := h.groups.RemoveMember(name, target, requester)
	if err != nil {
		h.fail(c, errorCode(err), err.Error())
		return
	}
	h.log.Debug().Str("group", name).Str("identity", target).Str("actor", requester).Msg("member removed")

	h.sendTo(target, &Event{Kind: EventRemovedFromGroup, User: target, Actor: requester, Group: &res.Group})
	h.afterMembershipLoss(res, &Event{Kind: EventUserRemovedFromGroup, User: target, Actor: requester, Group: &res.Group})
}

// afterMembershipLoss notifies the remaining members, or everyone when the
// group is gone.
func (h *Hub) afterMembershipLoss(res LeaveResult, ev *Event) {
	if res.Deleted {
		h.log.Info().Str("group", res.Group.Name).Str("group_id", res.Group.ID).Msg("group deleted")
		h.broadcast(h.groupList())
		return
	}
	h.broadcastMembers(res.Group.Members, ev)
}

func (h *Hub) handleAck(actor string, kind store.ReceiptKind, cmd *Command) {
	id := strings.TrimSpace(cmd.MessageID)
	if id == "" {
		h.log.Debug().Str("identity", actor).Msg("acknowledgment without message id")
		return
	}

	if !h.tracker.Has(id) {
		h.persist(func(ctx context.Context) func() {
			rec, err := h.store.GetMessage(ctx, id)
			return func() { h.afterHydrate(actor, kind, id, rec, err) }
		})
		return
	}
	h.acknowledge(actor, kind, id)
}

// afterHydrate seeds the tracker from the durable log after a cache miss.
func (h *Hub) afterHydrate(actor string, kind store.ReceiptKind, id string, rec *store.Message, err error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.log.Debug().Str("message_id", id).Str("identity", actor).Msg("acknowledgment for unknown message dropped")
		} else {
			h.log.Error().Err(err).Str("message_id", id).Msg("load message for acknowledgment")
		}
		return
	}
	h.tracker.Track(rec)
	h.acknowledge(actor, kind, id)
}

// acknowledge validates against the tracker, writes the receipt, and only then
// updates the tracker and tells the sender.
func (h *Hub) acknowledge(actor string, kind store.ReceiptKind, id string) {
	if err := h.tracker.Check(id, kind, actor); err != nil {
		h.log.Debug().Err(err).Str("identity", actor).Msg("acknowledgment dropped")
		return
	}

	at := h.now()
	h.persist(func(ctx context.Context) func() {
		rec, err := h.store.AddReceipt(ctx, id, actor, kind, at)
		return func() { h.afterReceipt(actor, kind, id, at, rec, err) }
	})
}

func (h *Hub) afterReceipt(actor string, kind store.ReceiptKind, id string, at time.Time, rec *store.Message, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("message_id", id).Str("identity", actor).Msg("persist acknowledgment")
		if c, ok := h.registry.Resolve(actor); ok {
			h.fail(c, ErrCodePersistence, "acknowledgment could not be stored")
		}
		return
	}

	recorded, err := h.tracker.Record(id, kind, actor, at)
	if err != nil {
		// Reset between the write and its completion.
		h.log.Debug().Err(err).Msg("acknowledgment recorded after tracker reset")
		return
	}
	if !recorded.Changed {
		return
	}
	h.tracker.Reconcile(rec)
	receipt, _ := h.tracker.Receipt(id, kind, actor)
	receipt.Changed = true

	evKind := EventMessageDelivered
	if kind == store.ReceiptRead {
		evKind = EventMessageRead
	}
	if !h.sendTo(receipt.Sender, &Event{Kind: evKind, User: actor, Receipt: &receipt}) {
		h.log.Debug().Str("message_id", id).Str("identity", receipt.Sender).Msg("sender offline, receipt notification dropped")
	}
}

func (h *Hub) handleHistory(c *Client, identity string, cmd *Command) {
	limit := cmd.Limit
	if limit <= 0 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	if name := strings.TrimSpace(cmd.Group); name != "" {
		info, ok := h.groups.Lookup(name)
		if !ok {
			h.fail(c, ErrCodeGroupNotFound, fmt.Sprintf("group %q does not exist", name))
			return
		}
		if !lo.Contains(info.Members, identity) {
			h.fail(c, ErrCodeNotAMember, fmt.Sprintf("not a member of %q", name))
			return
		}
		h.persist(func(ctx context.Context) func() {
			recs, err := h.store.ListGroupMessages(ctx, info.ID, limit)
			return func() { h.afterHistory(c, &Event{Kind: EventHistory, Group: &info}, recs, err) }
		})
		return
	}

	peer := strings.TrimSpace(cmd.With)
	if peer == "" {
		h.fail(c, ErrCodeBadRequest, "history needs a peer or a group name")
		return
	}
	h.persist(func(ctx context.Context) func() {
		recs, err := h.store.ListConversation(ctx, identity, peer, limit)
		return func() { h.afterHistory(c, &Event{Kind: EventHistory, Peer: peer}, recs, err) }
	})
}

func (h *Hub) afterHistory(c *Client, ev *Event, recs []*store.Message, err error) {
	if err != nil {
		h.log.Error().Err(err).Str("client_id", c.ID).Msg("load history")
		h.fail(c, ErrCodePersistence, "history could not be loaded")
		return
	}
	ev.Messages = lo.Map(recs, func(rec *store.Message, _ int) Message {
		return messageFromRecord(rec)
	})
	h.send(c, ev)
}

// disconnect tears a session down: the identity goes offline and leaves every
// group it joined, in one pass on the loop.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	identity, registered := h.registry.Unregister(c)
	delete(h.clients, c)
	c.close()

	if !registered {
		return
	}
	h.log.Info().Str("client_id", c.ID).Str("identity", identity).Msg("identity offline")

	groupsChanged := false
	for _, name := range h.groups.GroupsOf(identity) {
		res, err := h.groups.Leave(name, identity)
		if err != nil {
			h.log.Warn().Err(err).Str("group", name).Msg("disconnect sweep")
			continue
		}
		if res.Deleted {
			h.log.Info().Str("group", res.Group.Name).Str("group_id", res.Group.ID).Msg("group deleted")
			groupsChanged = true
			continue
		}
		h.broadcastMembers(res.Group.Members, &Event{Kind: EventUserLeftGroup, User: identity, Group: &res.Group})
	}

	h.broadcast(&Event{Kind: EventUserStatus, User: identity, Online: false})
	h.broadcast(h.userList())
	if groupsChanged {
		h.broadcast(h.groupList())
	}
}
