package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/memory"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

const defaultHistoryLimit = 50

// persistJob runs on the persistence worker and returns a continuation that
// runs back on the hub loop.
type persistJob func(ctx context.Context) func()

type inboundCommand struct {
	client *Client
	cmd    *Command
}

// sessionChange attaches or detaches a client. Both travel on one channel so a
// quick connect and disconnect are seen in order.
type sessionChange struct {
	client *Client
	attach bool
}

// Hub routes commands between sessions. All registry, directory and tracker
// state is owned by the goroutine running Run; everything else talks to it
// through channels. Store calls run on a single FIFO worker, so handlers never
// block the loop and completions come back in submission order.
type Hub struct {
	registry *Registry
	groups   *Directory
	tracker  *Tracker
	store    store.MessageStore
	log      *zerolog.Logger

	clients map[*Client]struct{}
	pending []persistJob

	sessions    chan sessionChange
	inbound     chan inboundCommand
	jobs        chan persistJob
	completions chan func()
	control     chan func()
	stopped     chan struct{}

	now          func() time.Time
	newID        func() string
	historyLimit int
}

// Option customizes a Hub.
type Option func(*Hub)

// WithHistoryLimit caps how many stored messages a history request returns.
func WithHistoryLimit(limit int) Option {
	return func(h *Hub) {
		if limit > 0 {
			h.historyLimit = limit
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
		h.groups.now = now
	}
}

// WithIDGenerator replaces the message and group id generator.
func WithIDGenerator(newID func() string) Option {
	return func(h *Hub) {
		h.newID = newID
		h.groups.newID = newID
	}
}

// NewHub creates a hub persisting messages to st. A nil store falls back to
// an in-memory one and a nil logger discards output.
func NewHub(st store.MessageStore, logger *zerolog.Logger, opts ...Option) *Hub {
	if st == nil {
		st = memory.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	h := &Hub{
		registry:     NewRegistry(),
		groups:       NewDirectory(),
		tracker:      NewTracker(),
		store:        st,
		log:          logger,
		clients:      make(map[*Client]struct{}),
		sessions:     make(chan sessionChange, 32),
		inbound:      make(chan inboundCommand, 256),
		jobs:         make(chan persistJob),
		completions:  make(chan func()),
		control:      make(chan func()),
		stopped:      make(chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        utils.NewID,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	worker := make(chan struct{})
	go func() {
		defer close(worker)
		h.persistLoop(ctx)
	}()

	h.log.Info().Msg("hub started")
	for {
		var jobs chan persistJob
		var next persistJob
		if len(h.pending) > 0 {
			jobs = h.jobs
			next = h.pending[0]
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			<-worker
			h.log.Info().Msg("hub stopped")
			return
		case change := <-h.sessions:
			if change.attach {
				h.attach(ctx, change.client)
			} else {
				h.disconnect(change.client)
			}
		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; ok {
				h.handle(in.client, in.cmd)
			}
		case jobs <- next:
			h.pending[0] = nil
			h.pending = h.pending[1:]
		case cont := <-h.completions:
			cont()
		case fn := <-h.control:
			fn()
		}
	}
}

// Done is closed once Run has returned and no store call is in flight.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

// RegisterClient attaches a session to the hub. The session is anonymous until
// it sends CommandRegister.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.sessions <- sessionChange{client: c, attach: true}:
	case <-h.stopped:
	}
}

// UnregisterClient tears a session down: presence, group membership and the
// client's channels.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.sessions <- sessionChange{client: c}:
	case <-h.stopped:
	}
}

// Reset clears the registry, the directory and the tracker. Connected clients
// stay attached but become anonymous.
func (h *Hub) Reset(ctx context.Context) error {
	return h.do(ctx, func() {
		h.registry.Reset()
		h.groups.Reset()
		h.tracker.Reset()
		h.log.Debug().Msg("hub state reset")
	})
}

// OnlineUsers returns the registered identities.
func (h *Hub) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := h.do(ctx, func() { users = h.registry.Identities() })
	return users, err
}

// Groups returns every live group.
func (h *Hub) Groups(ctx context.Context) ([]GroupInfo, error) {
	var groups []GroupInfo
	err := h.do(ctx, func() { groups = h.groups.List() })
	return groups, err
}

// Group returns the live group called name.
func (h *Hub) Group(ctx context.Context, name string) (GroupInfo, bool, error) {
	var info GroupInfo
	var ok bool
	err := h.do(ctx, func() { info, ok = h.groups.Lookup(name) })
	return info, ok, err
}

// Store exposes the durable message log for read-only callers.
func (h *Hub) Store() store.MessageStore {
	return h.store
}

// do runs fn on the hub loop and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case h.control <- func() { fn(); close(done) }:
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) attach(ctx context.Context, c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	h.log.Debug().Str("client_id", c.ID).Msg("client attached")
	go h.pump(ctx, c)
}

// pump forwards a client's commands to the loop, preserving their order.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			if cmd == nil {
				continue
			}
			select {
			case h.inbound <- inboundCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// persistLoop executes store jobs one at a time.
func (h *Hub) persistLoop(ctx context.Context) {
	for {
		select {
		case job := <-h.jobs:
			cont := job(ctx)
			if cont == nil {
				continue
			}
			select {
			case h.completions <- cont:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// persist queues a store call. Whatever the job returns runs on the loop.
func (h *Hub) persist(job persistJob) {
	h.pending = append(h.pending, job)
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		c.close()
	}
	clear(h.clients)
	h.registry.Reset()
	h.groups.Reset()
	h.tracker.Reset()
	h.pending = nil
}

// send delivers an event to a session that is still attached. A slow consumer
// loses the event rather than stalling the loop.
func (h *Hub) send(c *Client, ev *Event) {
	if c == nil {
		return
	}
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("client_id", c.ID).Str("event", ev.Kind.String()).Msg("client event buffer full, dropping event")
	}
}

// sendTo delivers an event to the session of identity, if online.
func (h *Hub) sendTo(identity string, ev *Event) bool {
	c, ok := h.registry.Resolve(identity)
	if !ok {
		return false
	}
	h.send(c, ev)
	return true
}

// broadcast delivers an event to every registered session.
func (h *Hub) broadcast(ev *Event) {
	for _, c := range h.registry.Sessions() {
		h.send(c, ev)
	}
}

// broadcastMembers delivers an event to the online sessions of identities.
func (h *Hub) broadcastMembers(identities []string, ev *Event) {
	for _, identity := range identities {
		h.sendTo(identity, ev)
	}
}

func (h *Hub) fail(c *Client, code, msg string) {
	h.send(c, &Event{Kind: EventError, Error: coreError(code, msg)})
}

func (h *Hub) userList() *Event {
	return &Event{Kind: EventUserList, Users: h.registry.Identities()}
}

func (h *Hub) groupList() *Event {
	return &Event{Kind: EventGroupList, Groups: h.groups.List()}
}
