// Package memory is an in-process store.MessageStore. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// MemoryStore keeps message records in maps guarded by a mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*store.Message
	byGroup  map[string][]string
	byPair   map[string][]string
}

var _ store.MessageStore = (*MemoryStore)(nil)

// New creates an empty store.
func New() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*store.Message),
		byGroup:  make(map[string][]string),
		byPair:   make(map[string][]string),
	}
}

// CreateMessage stores a copy of msg.
func (s *MemoryStore) CreateMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return store.ErrDuplicateID
	}
	rec := msg.Clone()
	if rec.Status == "" {
		rec.Status = store.StatusSent
	}
	s.messages[rec.ID] = rec

	switch rec.Kind {
	case store.ChatKindGroup:
		s.byGroup[rec.GroupID] = append(s.byGroup[rec.GroupID], rec.ID)
	default:
		key := pairKey(rec.Sender, rec.Recipient)
		s.byPair[key] = append(s.byPair[key], rec.ID)
	}
	return nil
}

// GetMessage returns a copy of the stored record.
func (s *MemoryStore) GetMessage(_ context.Context, id string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// AddReceipt unions the receipt into the record.
func (s *MemoryStore) AddReceipt(_ context.Context, id, identity string, kind store.ReceiptKind, at time.Time) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	store.ApplyReceipt(rec, identity, kind, at)
	return rec.Clone(), nil
}

// ListConversation returns private messages between a and b in send order.
func (s *MemoryStore) ListConversation(_ context.Context, a, b string, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := append(append([]string(nil), s.byPair[pairKey(a, b)]...), s.byPair[pairKey(b, a)]...)
	return s.collect(ids, limit), nil
}

// ListGroupMessages returns messages of a group id in send order.
func (s *MemoryStore) ListGroupMessages(_ context.Context, groupID string, limit int) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.byGroup[groupID], limit), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// collect resolves ids, sorts them by send time and keeps the newest limit records.
func (s *MemoryStore) collect(ids []string, limit int) []*store.Message {
	out := lo.FilterMap(ids, func(id string, _ int) (*store.Message, bool) {
		rec, ok := s.messages[id]
		if !ok {
			return nil, false
		}
		return rec.Clone(), true
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func pairKey(sender, recipient string) string {
	return sender + "\x00" + recipient
}
