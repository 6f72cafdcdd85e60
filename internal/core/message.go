package core

import (
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Message is the routed view of a stored message.
type Message struct {
	ID          string
	Kind        store.ChatKind
	From        string
	To          string
	GroupID     string
	GroupName   string
	Text        string
	Status      store.MessageStatus
	Total       int
	CreatedAt   time.Time
	DeliveredBy []string
	ReadBy      []string
}

func messageFromRecord(rec *store.Message) Message {
	return Message{
		ID:          rec.ID,
		Kind:        rec.Kind,
		From:        rec.Sender,
		To:          rec.Recipient,
		GroupID:     rec.GroupID,
		GroupName:   rec.GroupName,
		Text:        rec.Body,
		Status:      rec.Status,
		Total:       rec.TotalRecipients,
		CreatedAt:   rec.SentAt,
		DeliveredBy: rec.DeliveredBy,
		ReadBy:      rec.ReadBy,
	}
}
