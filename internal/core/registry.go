package core

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Registry maps identities to live sessions in both directions.
// It is owned by the hub loop and is not safe for concurrent use.
type Registry struct {
	sessions   map[string]*Client
	identities map[*Client]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*Client),
		identities: make(map[*Client]string),
	}
}

// Register binds identity to c. Registering the same pair twice is a no-op.
// It fails with ErrDuplicateIdentity when another session holds the identity,
// and with ErrAlreadyRegistered when c is bound to a different identity.
func (r *Registry) Register(identity string, c *Client) error {
	if holder, ok := r.sessions[identity]; ok {
		if holder == c {
			return nil
		}
		return fmt.Errorf("register %q: %w", identity, ErrDuplicateIdentity)
	}
	if current, ok := r.identities[c]; ok {
		return fmt.Errorf("register %q: session bound to %q: %w", identity, current, ErrAlreadyRegistered)
	}

	r.sessions[identity] = c
	r.identities[c] = identity
	return nil
}

// Resolve returns the live session of identity.
func (r *Registry) Resolve(identity string) (*Client, bool) {
	c, ok := r.sessions[identity]
	return c, ok
}

// IdentityOf returns the identity bound to c.
func (r *Registry) IdentityOf(c *Client) (string, bool) {
	identity, ok := r.identities[c]
	return identity, ok
}

// Unregister drops both directions of the mapping for c.
func (r *Registry) Unregister(c *Client) (string, bool) {
	identity, ok := r.identities[c]
	if !ok {
		return "", false
	}
	delete(r.identities, c)
	delete(r.sessions, identity)
	return identity, true
}

// Identities returns the online identities in lexical order.
func (r *Registry) Identities() []string {
	ids := lo.Keys(r.sessions)
	sort.Strings(ids)
	return ids
}

// Sessions returns every registered session.
func (r *Registry) Sessions() []*Client {
	return lo.Values(r.sessions)
}

// Len returns the number of online identities.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Reset forgets every mapping.
func (r *Registry) Reset() {
	clear(r.sessions)
	clear(r.identities)
}
