package store

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned when a message id is not in the store.
	ErrNotFound = errors.New("message not found")
	// ErrDuplicateID is returned when a message id is already taken.
	ErrDuplicateID = errors.New("duplicate message id")
)

// ChatKind tells private and group messages apart.
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

// MessageStatus is the externally visible acknowledgment state of a message.
// Values are ordered: sent < delivered < read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank returns the position of the status in the sent < delivered < read order.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return 0
	}
}

// Max returns the later of the two statuses.
func (s MessageStatus) Max(other MessageStatus) MessageStatus {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// ReceiptKind is the type of acknowledgment a recipient sends back.
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// Message is the persisted message record.
type Message struct {
	ID        string
	Kind      ChatKind
	Sender    string
	Recipient string // private only
	GroupID   string // group only
	GroupName string // group only
	// Recipients is the group membership minus the sender, captured at send time.
	Recipients      []string
	TotalRecipients int
	Body            string
	Status          MessageStatus
	SentAt          time.Time
	DeliveredAt     *time.Time
	ReadAt          *time.Time
	DeliveredBy     []string
	ReadBy          []string
}

// Clone returns a deep copy so callers can't alias store internals.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Recipients = append([]string(nil), m.Recipients...)
	c.DeliveredBy = append([]string(nil), m.DeliveredBy...)
	c.ReadBy = append([]string(nil), m.ReadBy...)
	if m.DeliveredAt != nil {
		c.DeliveredAt = lo.ToPtr(*m.DeliveredAt)
	}
	if m.ReadAt != nil {
		c.ReadAt = lo.ToPtr(*m.ReadAt)
	}
	return &c
}

// AggregateStatus derives the status implied by the acknowledgment sets.
// The stored status only ever moves forward, so callers combine this with Max.
func AggregateStatus(m *Message) MessageStatus {
	switch m.Kind {
	case ChatKindGroup:
		if m.TotalRecipients > 0 && len(m.ReadBy) >= m.TotalRecipients {
			return StatusRead
		}
	default:
		if len(m.ReadBy) > 0 {
			return StatusRead
		}
	}
	if len(m.DeliveredBy) > 0 {
		return StatusDelivered
	}
	return StatusSent
}

// ApplyReceipt unions identity into the acknowledgment sets of m and advances
// its status and timestamps. A read implies delivery by the same identity.
// Returns false when nothing changed.
func ApplyReceipt(m *Message, identity string, kind ReceiptKind, at time.Time) bool {
	changed := false
	if !lo.Contains(m.DeliveredBy, identity) {
		m.DeliveredBy = append(m.DeliveredBy, identity)
		changed = true
	}
	if kind == ReceiptRead && !lo.Contains(m.ReadBy, identity) {
		m.ReadBy = append(m.ReadBy, identity)
		changed = true
	}

	next := m.Status.Max(AggregateStatus(m))
	if next.Rank() >= StatusDelivered.Rank() && m.DeliveredAt == nil {
		m.DeliveredAt = lo.ToPtr(at)
	}
	if next == StatusRead && m.ReadAt == nil {
		m.ReadAt = lo.ToPtr(at)
	}
	if next != m.Status {
		m.Status = next
		changed = true
	}
	return changed
}

// MessageStore is the durable message log. Receipts use set-union semantics:
// applying the same (message, identity, kind) twice leaves the record unchanged.
type MessageStore interface {
	// CreateMessage appends a new record. Returns ErrDuplicateID if the id exists.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage finds a record by id. Returns ErrNotFound if absent.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// AddReceipt records an acknowledgment and returns the record after the update.
	AddReceipt(ctx context.Context, id, identity string, kind ReceiptKind, at time.Time) (*Message, error)

	// ListConversation returns private messages exchanged between a and b, oldest first.
	ListConversation(ctx context.Context, a, b string, limit int) ([]*Message, error)

	// ListGroupMessages returns messages sent to a group id, oldest first.
	ListGroupMessages(ctx context.Context, groupID string, limit int) ([]*Message, error)

	// Close releases the underlying resources.
	Close() error
}
