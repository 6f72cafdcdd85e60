package core

import "sync"

const defaultClientBuffer = 16

// Client is one live session as seen by the core layer. The transport owns it;
// the hub only keeps references for routing.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has torn the session down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// close is called from the hub loop only, which is also the only writer of Events.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.Events)
	})
}
