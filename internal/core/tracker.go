package core

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Receipt is the outcome of recording one acknowledgment. It carries what the
// original sender needs to be told.
type Receipt struct {
	MessageID      string
	Kind           store.ChatKind
	Ack            store.ReceiptKind
	Sender         string
	Actor          string
	GroupID        string
	GroupName      string
	Status         store.MessageStatus
	Changed        bool // the acknowledgment added something new
	DeliveredCount int
	ReadCount      int
	Total          int
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

type trackedMessage struct {
	id          string
	kind        store.ChatKind
	sender      string
	recipient   string
	groupID     string
	groupName   string
	recipients  map[string]struct{}
	total       int
	status      store.MessageStatus
	deliveredAt *time.Time
	readAt      *time.Time
	deliveredBy map[string]struct{}
	readBy      map[string]struct{}
}

// entitled reports whether actor may acknowledge the message: the recorded
// recipient for private messages, a member of the send-time snapshot for groups.
func (m *trackedMessage) entitled(actor string) bool {
	if m.kind == store.ChatKindGroup {
		_, ok := m.recipients[actor]
		return ok
	}
	return actor == m.recipient
}

// derived is the aggregate status implied by the acknowledgment sets.
func (m *trackedMessage) derived() store.MessageStatus {
	if m.kind == store.ChatKindGroup {
		if m.total > 0 && len(m.readBy) >= m.total {
			return store.StatusRead
		}
	} else if len(m.readBy) > 0 {
		return store.StatusRead
	}
	if len(m.deliveredBy) > 0 {
		return store.StatusDelivered
	}
	return store.StatusSent
}

// advance moves the status forward to the derived one and stamps the first
// time each level was reached.
func (m *trackedMessage) advance(at time.Time) bool {
	next := m.status.Max(m.derived())
	if next.Rank() >= store.StatusDelivered.Rank() && m.deliveredAt == nil {
		m.deliveredAt = lo.ToPtr(at)
	}
	if next == store.StatusRead && m.readAt == nil {
		m.readAt = lo.ToPtr(at)
	}
	if next == m.status {
		return false
	}
	m.status = next
	return true
}

func (m *trackedMessage) receipt(ack store.ReceiptKind, actor string, changed bool) Receipt {
	return Receipt{
		MessageID:      m.id,
		Kind:           m.kind,
		Ack:            ack,
		Sender:         m.sender,
		Actor:          actor,
		GroupID:        m.groupID,
		GroupName:      m.groupName,
		Status:         m.status,
		Changed:        changed,
		DeliveredCount: len(m.deliveredBy),
		ReadCount:      len(m.readBy),
		Total:          m.total,
		DeliveredAt:    m.deliveredAt,
		ReadAt:         m.readAt,
	}
}

// Tracker owns the acknowledgment state of in-flight messages. It is a cache
// of the durable log: records are hydrated with Track and reconciled with
// Reconcile. It is owned by the hub loop and is not safe for concurrent use.
type Tracker struct {
	messages map[string]*trackedMessage
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{messages: make(map[string]*trackedMessage)}
}

// Track starts tracking a freshly created message. Tracking a known id merges
// the record into the existing state instead.
func (t *Tracker) Track(rec *store.Message) {
	if _, ok := t.messages[rec.ID]; ok {
		t.Reconcile(rec)
		return
	}

	m := &trackedMessage{
		id:          rec.ID,
		kind:        rec.Kind,
		sender:      rec.Sender,
		recipient:   rec.Recipient,
		groupID:     rec.GroupID,
		groupName:   rec.GroupName,
		recipients:  lo.Keyify(rec.Recipients),
		total:       rec.TotalRecipients,
		status:      store.StatusSent,
		deliveredBy: make(map[string]struct{}),
		readBy:      make(map[string]struct{}),
	}
	if m.kind == "" {
		m.kind = store.ChatKindPrivate
	}
	t.messages[rec.ID] = m
	t.Reconcile(rec)
}

// Has reports whether the message is tracked.
func (t *Tracker) Has(id string) bool {
	_, ok := t.messages[id]
	return ok
}

// Sender returns the sender identity of a tracked message.
func (t *Tracker) Sender(id string) (string, bool) {
	m, ok := t.messages[id]
	if !ok {
		return "", false
	}
	return m.sender, true
}

// Status returns the aggregate status of a tracked message.
func (t *Tracker) Status(id string) (store.MessageStatus, bool) {
	m, ok := t.messages[id]
	if !ok {
		return "", false
	}
	return m.status, true
}

// Check validates an acknowledgment without mutating anything.
func (t *Tracker) Check(id string, ack store.ReceiptKind, actor string) error {
	m, ok := t.messages[id]
	if !ok {
		return fmt.Errorf("%s ack for %s: %w", ack, id, ErrUnknownMessage)
	}
	if !m.entitled(actor) {
		return fmt.Errorf("%s ack for %s by %q: %w", ack, id, actor, ErrActorNotEntitled)
	}
	return nil
}

// Record applies an acknowledgment. Recording is idempotent and commutative:
// any order or repetition of the same acknowledgments ends in the same state.
// A read acknowledgment implies delivery by the same actor.
func (t *Tracker) Record(id string, ack store.ReceiptKind, actor string, at time.Time) (Receipt, error) {
	if err := t.Check(id, ack, actor); err != nil {
		return Receipt{}, err
	}
	m := t.messages[id]

	added := false
	if _, ok := m.deliveredBy[actor]; !ok {
		m.deliveredBy[actor] = struct{}{}
		added = true
	}
	if ack == store.ReceiptRead {
		if _, ok := m.readBy[actor]; !ok {
			m.readBy[actor] = struct{}{}
			added = true
		}
	}
	advanced := m.advance(at)

	return m.receipt(ack, actor, added || advanced), nil
}

// Receipt describes the current state of a tracked message from the point of
// view of one acknowledgment.
func (t *Tracker) Receipt(id string, ack store.ReceiptKind, actor string) (Receipt, bool) {
	m, ok := t.messages[id]
	if !ok {
		return Receipt{}, false
	}
	return m.receipt(ack, actor, false), true
}

// Reconcile merges a durable record into the tracked state. Sets are unioned
// and the status only moves forward, so the cache never regresses.
func (t *Tracker) Reconcile(rec *store.Message) {
	m, ok := t.messages[rec.ID]
	if !ok {
		return
	}
	for _, identity := range rec.DeliveredBy {
		m.deliveredBy[identity] = struct{}{}
	}
	for _, identity := range rec.ReadBy {
		m.readBy[identity] = struct{}{}
		m.deliveredBy[identity] = struct{}{}
	}
	if m.deliveredAt == nil && rec.DeliveredAt != nil {
		m.deliveredAt = lo.ToPtr(*rec.DeliveredAt)
	}
	if m.readAt == nil && rec.ReadAt != nil {
		m.readAt = lo.ToPtr(*rec.ReadAt)
	}
	m.status = m.status.Max(rec.Status)
	m.advance(time.Now())
}

// Len returns the number of tracked messages.
func (t *Tracker) Len() int {
	return len(t.messages)
}

// Reset forgets every tracked message.
func (t *Tracker) Reset() {
	clear(t.messages)
}
