package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/memory"
)

func joinedBy(user string) func(*Event) bool {
	return func(ev *Event) bool { return ev.User == user }
}

// joinGroup has each identity join name in turn and waits until all of them
// are in.
func joinGroup(t *testing.T, name string, clients map[string]*Client, order ...string) {
	t.Helper()
	for _, identity := range order {
		c := clients[identity]
		c.Commands <- &Command{Kind: CommandJoinGroup, Group: name}
		mustEventMatching(t, c.Events, EventUserJoinedGroup, joinedBy(identity))
	}
}

func trackedCount(t *testing.T, hub *Hub) int {
	t.Helper()
	var n int
	require.NoError(t, hub.do(context.Background(), func() { n = hub.tracker.Len() }))
	return n
}

func TestHubPrivateMessageLifecycle(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "hi"}

	msgEv := mustEvent(t, bob.Events, EventPrivateMessage)
	req.Equal("alice", msgEv.Message.From)
	req.Equal("bob", msgEv.Message.To)
	req.Equal("hi", msgEv.Message.Text)
	req.Equal(store.StatusSent, msgEv.Message.Status)
	req.NotEmpty(msgEv.Message.ID)

	echo := mustEvent(t, alice.Events, EventPrivateMessage)
	req.Equal(msgEv.Message.ID, echo.Message.ID)

	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: msgEv.Message.ID, From: "alice"}
	delivered := mustEvent(t, alice.Events, EventMessageDelivered)
	req.Equal("bob", delivered.User)
	req.Equal(store.StatusDelivered, delivered.Receipt.Status)
	req.NotNil(delivered.Receipt.DeliveredAt)

	bob.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID, From: "alice"}
	read := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(store.StatusRead, read.Receipt.Status)
	req.NotNil(read.Receipt.ReadAt)

	rec, err := hub.Store().GetMessage(context.Background(), msgEv.Message.ID)
	req.NoError(err)
	req.Equal(store.StatusRead, rec.Status)
}

func TestHubGroupMessageExcludesSenderFromTotal(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
	}
	alice, bob := clients["alice"], clients["bob"]
	joinGroup(t, "team", clients, "alice", "bob")

	alice.Commands <- &Command{Kind: CommandSendGroup, Group: "team", Text: "standup"}
	msgEv := mustEvent(t, bob.Events, EventGroupMessage)
	req.Equal("team", msgEv.Message.GroupName)
	req.Equal(1, msgEv.Message.Total)

	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: msgEv.Message.ID}
	delivered := mustEvent(t, alice.Events, EventMessageDelivered)
	req.Equal(store.StatusDelivered, delivered.Receipt.Status)
	req.Equal(1, delivered.Receipt.DeliveredCount)
	req.Equal(1, delivered.Receipt.Total)

	bob.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID}
	read := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(store.StatusRead, read.Receipt.Status)
	req.Equal(1, read.Receipt.ReadCount)
	req.Equal(1, read.Receipt.Total)
}

func TestHubPrivateToOfflineUserCreatesNothing(t *testing.T) {
	req := require.New(t)
	st := memory.New()
	hub := startHub(t, st)
	alice := connect(t, hub, "alice")

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "carol", Text: "hi"}

	ev := mustEvent(t, alice.Events, EventError)
	req.Equal(ErrCodeUserNotFound, ev.Error.Code)

	msgs, err := st.ListConversation(context.Background(), "alice", "carol", 0)
	req.NoError(err)
	req.Empty(msgs)
	req.Zero(trackedCount(t, hub))
}

func TestHubLastLeaveDeletesGroup(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub := startHub(t, nil)
	bob := connect(t, hub, "bob")
	joinGroup(t, "team", map[string]*Client{"bob": bob}, "bob")

	info, ok, err := hub.Group(ctx, "team")
	req.NoError(err)
	req.True(ok)
	original := info.ID

	bob.Commands <- &Command{Kind: CommandLeaveGroup, Group: "team"}
	mustEvent(t, bob.Events, EventUserLeftGroup)

	bob.Commands <- &Command{Kind: CommandListGroups}
	list := mustEvent(t, bob.Events, EventGroupList)
	req.Empty(list.Groups)

	joinGroup(t, "team", map[string]*Client{"bob": bob}, "bob")
	info, ok, err = hub.Group(ctx, "team")
	req.NoError(err)
	req.True(ok)
	req.NotEqual(original, info.ID)
}

func TestHubDuplicateIdentityRejected(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	impostor := NewClient("impostor", 16)
	hub.RegisterClient(impostor)
	impostor.Commands <- &Command{Kind: CommandRegister, Identity: "alice"}

	ev := mustEvent(t, impostor.Events, EventError)
	req.Equal(ErrCodeDuplicateIdentity, ev.Error.Code)

	users, err := hub.OnlineUsers(context.Background())
	req.NoError(err)
	req.Equal([]string{"alice", "bob"}, users)

	// The original session still receives alice's traffic.
	bob.Commands <- &Command{Kind: CommandSendPrivate, To: "alice", Text: "still you?"}
	msg := mustEvent(t, alice.Events, EventPrivateMessage)
	req.Equal("still you?", msg.Message.Text)
	noEvent(t, impostor.Events, EventPrivateMessage)
}

func TestHubCommandsRequireRegistration(t *testing.T) {
	hub := startHub(t, nil)
	anon := NewClient("anon", 16)
	hub.RegisterClient(anon)

	anon.Commands <- &Command{Kind: CommandJoinGroup, Group: "team"}

	ev := mustEvent(t, anon.Events, EventError)
	require.Equal(t, ErrCodeNotRegistered, ev.Error.Code)
}

func TestHubSendPersistenceFailure(t *testing.T) {
	req := require.New(t)
	st := newFaultyStore()
	hub := startHub(t, st)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	st.failCreate.Store(true)
	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "lost"}

	ev := mustEvent(t, alice.Events, EventError)
	req.Equal(ErrCodePersistence, ev.Error.Code)
	noEvent(t, bob.Events, EventPrivateMessage)
	req.Zero(trackedCount(t, hub))
}

func TestHubAckPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	req := require.New(t)
	st := newFaultyStore()
	hub := startHub(t, st)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "hi"}
	msgEv := mustEvent(t, bob.Events, EventPrivateMessage)
	id := msgEv.Message.ID

	st.failReceipt.Store(true)
	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: id}
	ev := mustEvent(t, bob.Events, EventError)
	req.Equal(ErrCodePersistence, ev.Error.Code)
	noEvent(t, alice.Events, EventMessageDelivered)

	rec, err := st.GetMessage(context.Background(), id)
	req.NoError(err)
	req.Equal(store.StatusSent, rec.Status)
	var status store.MessageStatus
	req.NoError(hub.do(context.Background(), func() { status, _ = hub.tracker.Status(id) }))
	req.Equal(store.StatusSent, status)

	// A retry after the store recovers goes through.
	st.failReceipt.Store(false)
	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: id}
	delivered := mustEvent(t, alice.Events, EventMessageDelivered)
	req.Equal(store.StatusDelivered, delivered.Receipt.Status)
}

func TestHubDuplicateAckNotifiesOnce(t *testing.T) {
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "hi"}
	msgEv := mustEvent(t, bob.Events, EventPrivateMessage)

	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: msgEv.Message.ID}
	bob.Commands <- &Command{Kind: CommandAckDelivered, MessageID: msgEv.Message.ID}

	mustEvent(t, alice.Events, EventMessageDelivered)
	noEvent(t, alice.Events, EventMessageDelivered)
}

func TestHubIgnoresUnentitledAndUnknownAcks(t *testing.T) {
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")
	carol := connect(t, hub, "carol")

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "hi"}
	msgEv := mustEvent(t, bob.Events, EventPrivateMessage)

	carol.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID}
	carol.Commands <- &Command{Kind: CommandAckRead, MessageID: "no-such-message"}

	noEvent(t, alice.Events, EventMessageRead)
	noEvent(t, carol.Events, EventError)
}

func TestHubReadCompletesAfterMemberLeaves(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
		"carol": connect(t, hub, "carol"),
	}
	alice, bob, carol := clients["alice"], clients["bob"], clients["carol"]
	joinGroup(t, "team", clients, "alice", "bob", "carol")

	alice.Commands <- &Command{Kind: CommandSendGroup, Group: "team", Text: "retro"}
	msgEv := mustEvent(t, bob.Events, EventGroupMessage)
	mustEvent(t, carol.Events, EventGroupMessage)
	req.Equal(2, msgEv.Message.Total)

	carol.Commands <- &Command{Kind: CommandLeaveGroup, Group: "team"}
	mustEventMatching(t, alice.Events, EventUserLeftGroup, joinedBy("carol"))

	bob.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID}
	first := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(store.StatusDelivered, first.Receipt.Status)
	req.Equal(1, first.Receipt.ReadCount)
	req.Equal(2, first.Receipt.Total)

	carol.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID}
	second := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(store.StatusRead, second.Receipt.Status)
	req.Equal(2, second.Receipt.ReadCount)
}

func TestHubLateJoinerCannotAcknowledge(t *testing.T) {
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
		"dave":  connect(t, hub, "dave"),
	}
	alice, bob, dave := clients["alice"], clients["bob"], clients["dave"]
	joinGroup(t, "team", clients, "alice", "bob")

	alice.Commands <- &Command{Kind: CommandSendGroup, Group: "team", Text: "before dave"}
	msgEv := mustEvent(t, bob.Events, EventGroupMessage)

	joinGroup(t, "team", clients, "dave")
	dave.Commands <- &Command{Kind: CommandAckRead, MessageID: msgEv.Message.ID}
	noEvent(t, alice.Events, EventMessageRead)
}

func TestHubAckHydratesFromStore(t *testing.T) {
	req := require.New(t)
	st := memory.New()
	req.NoError(st.CreateMessage(context.Background(), &store.Message{
		ID:        "persisted-1",
		Kind:      store.ChatKindPrivate,
		Sender:    "alice",
		Recipient: "bob",
		Body:      "from before the restart",
		Status:    store.StatusSent,
		SentAt:    time.Now().UTC(),
	}))

	hub := startHub(t, st)
	alice := connect(t, hub, "alice")
	bob := connect(t, hub, "bob")

	bob.Commands <- &Command{Kind: CommandAckRead, MessageID: "persisted-1"}
	ev := mustEvent(t, alice.Events, EventMessageRead)
	req.Equal(store.StatusRead, ev.Receipt.Status)
	req.Equal(1, trackedCount(t, hub))
}

func TestHubDisconnectSweep(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
	}
	alice, bob := clients["alice"], clients["bob"]
	joinGroup(t, "team", clients, "alice", "bob")
	joinGroup(t, "solo", clients, "bob")

	hub.UnregisterClient(bob)

	left := mustEventMatching(t, alice.Events, EventUserLeftGroup, joinedBy("bob"))
	req.Equal([]string{"alice"}, left.Group.Members)
	status := mustEventMatching(t, alice.Events, EventUserStatus, func(ev *Event) bool {
		return ev.User == "bob" && !ev.Online
	})
	req.False(status.Online)

	select {
	case <-bob.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session was not torn down")
	}

	users, err := hub.OnlineUsers(ctx)
	req.NoError(err)
	req.Equal([]string{"alice"}, users)

	groups, err := hub.Groups(ctx)
	req.NoError(err)
	req.Len(groups, 1)
	req.Equal("team", groups[0].Name)
}

func TestHubMembershipManagement(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
	}
	alice, bob := clients["alice"], clients["bob"]
	joinGroup(t, "team", clients, "alice")

	alice.Commands <- &Command{Kind: CommandAddToGroup, Group: "team", Target: "carol"}
	ev := mustEvent(t, alice.Events, EventError)
	req.Equal(ErrCodeUserNotFound, ev.Error.Code)

	bob.Commands <- &Command{Kind: CommandAddToGroup, Group: "team", Target: "alice"}
	ev = mustEvent(t, bob.Events, EventError)
	req.Equal(ErrCodeNotAMember, ev.Error.Code)

	alice.Commands <- &Command{Kind: CommandAddToGroup, Group: "team", Target: "bob"}
	added := mustEvent(t, bob.Events, EventUserAddedToGroup)
	req.Equal("bob", added.User)
	req.Equal("alice", added.Actor)
	req.Equal([]string{"alice", "bob"}, added.Group.Members)

	alice.Commands <- &Command{Kind: CommandAddToGroup, Group: "team", Target: "bob"}
	ev = mustEvent(t, alice.Events, EventError)
	req.Equal(ErrCodeAlreadyMember, ev.Error.Code)

	alice.Commands <- &Command{Kind: CommandRemoveFromGroup, Group: "team", Target: "bob"}
	removed := mustEvent(t, bob.Events, EventRemovedFromGroup)
	req.Equal("alice", removed.Actor)
	notice := mustEvent(t, alice.Events, EventUserRemovedFromGroup)
	req.Equal("bob", notice.User)
	req.Equal([]string{"alice"}, notice.Group.Members)

	alice.Commands <- &Command{Kind: CommandRemoveFromGroup, Group: "ghost", Target: "bob"}
	ev = mustEvent(t, alice.Events, EventError)
	req.Equal(ErrCodeGroupNotFound, ev.Error.Code)
}

func TestHubValidation(t *testing.T) {
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")

	cases := []struct {
		name string
		cmd  *Command
		code string
	}{
		{"empty recipient", &Command{Kind: CommandSendPrivate, Text: "hi"}, ErrCodeBadRequest},
		{"empty text", &Command{Kind: CommandSendPrivate, To: "bob"}, ErrCodeBadRequest},
		{"message to self", &Command{Kind: CommandSendPrivate, To: "alice", Text: "hi"}, ErrCodeBadRequest},
		{"unknown group", &Command{Kind: CommandSendGroup, Group: "ghost", Text: "hi"}, ErrCodeGroupNotFound},
		{"leave unknown group", &Command{Kind: CommandLeaveGroup, Group: "ghost"}, ErrCodeGroupNotFound},
		{"rebind session", &Command{Kind: CommandRegister, Identity: "mallory"}, ErrCodeAlreadyRegistered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alice.Commands <- tc.cmd
			ev := mustEvent(t, alice.Events, EventError)
			require.Equal(t, tc.code, ev.Error.Code)
		})
	}
}

func TestHubHistory(t *testing.T) {
	req := require.New(t)
	hub := startHub(t, nil)
	clients := map[string]*Client{
		"alice": connect(t, hub, "alice"),
		"bob":   connect(t, hub, "bob"),
	}
	alice, bob := clients["alice"], clients["bob"]

	alice.Commands <- &Command{Kind: CommandSendPrivate, To: "bob", Text: "one"}
	mustEvent(t, bob.Events, EventPrivateMessage)
	bob.Commands <- &Command{Kind: CommandSendPrivate, To: "alice", Text: "two"}
	mustEvent(t, alice.Events, EventPrivateMessage)

	alice.Commands <- &Command{Kind: CommandHistory, With: "bob"}
	hist := mustEvent(t, alice.Events, EventHistory)
	req.Equal("bob", hist.Peer)
	req.Len(hist.Messages, 2)
	req.Equal("one", hist.Messages[0].Text)
	req.Equal("two", hist.Messages[1].Text)

	joinGroup(t, "team", clients, "alice")
	alice.Commands <- &Command{Kind: CommandSendGroup, Group: "team", Text: "note to self"}
	mustEvent(t, alice.Events, EventGroupMessage)

	alice.Commands <- &Command{Kind: CommandHistory, Group: "team", Limit: 10}
	hist = mustEvent(t, alice.Events, EventHistory)
	req.Equal("team", hist.Group.Name)
	req.Len(hist.Messages, 1)

	bob.Commands <- &Command{Kind: CommandHistory, Group: "team"}
	ev := mustEvent(t, bob.Events, EventError)
	req.Equal(ErrCodeNotAMember, ev.Error.Code)
}

func TestHubReset(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	hub := startHub(t, nil)
	alice := connect(t, hub, "alice")
	joinGroup(t, "team", map[string]*Client{"alice": alice}, "alice")

	req.NoError(hub.Reset(ctx))

	users, err := hub.OnlineUsers(ctx)
	req.NoError(err)
	req.Empty(users)
	groups, err := hub.Groups(ctx)
	req.NoError(err)
	req.Empty(groups)

	// The session is still attached and may register again.
	alice.Commands <- &Command{Kind: CommandRegister, Identity: "alice"}
	mustEvent(t, alice.Events, EventRegistered)
}

func TestHubStopClosesSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	alice := NewClient("a", 0)
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandRegister, Identity: "alice"}
	mustEvent(t, alice.Events, EventRegistered)

	cancel()
	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still open after hub stop")
	}

	_, err := hub.OnlineUsers(context.Background())
	require.ErrorIs(t, err, ErrHubStopped)
}
