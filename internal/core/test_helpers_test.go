package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/memory"
)

var errStoreDown = errors.New("store unavailable")

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()
	return mustEventMatching(t, ch, kind, nil)
}

// mustEventMatching skips events until one of kind satisfies match.
func mustEventMatching(t *testing.T, ch <-chan *Event, kind EventKind, match func(*Event) bool) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind && (match == nil || match(ev)) {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind shows up within a short window.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func startHub(t *testing.T, st store.MessageStore, opts ...Option) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(st, nil, opts...)
	go hub.Run(ctx)
	return hub
}

// connect attaches a client and registers identity, waiting for the confirmation.
func connect(t *testing.T, hub *Hub, identity string) *Client {
	t.Helper()

	c := NewClient("session-"+identity, 64)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandRegister, Identity: identity}
	mustEvent(t, c.Events, EventRegistered)
	return c
}

// faultyStore wraps the in-memory store and fails writes on demand.
type faultyStore struct {
	*memory.MemoryStore
	failCreate  atomic.Bool
	failReceipt atomic.Bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: memory.New()}
}

func (s *faultyStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	if s.failCreate.Load() {
		return errStoreDown
	}
	return s.MemoryStore.CreateMessage(ctx, msg)
}

func (s *faultyStore) AddReceipt(ctx context.Context, id, identity string, kind store.ReceiptKind, at time.Time) (*store.Message, error) {
	if s.failReceipt.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.AddReceipt(ctx, id, identity, kind, at)
}
