package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

// GroupInfo is a point-in-time view of a group.
type GroupInfo struct {
	ID        string
	Name      string
	Members   []string
	CreatedAt time.Time
}

// JoinResult describes the outcome of CreateOrJoin.
type JoinResult struct {
	Group   GroupInfo
	Created bool // a new identifier was minted
	Added   bool // identity was not a member before
}

// LeaveResult describes the outcome of removing a member.
type LeaveResult struct {
	Group   GroupInfo // remaining members; empty when deleted
	Deleted bool
}

type group struct {
	id        string
	name      string
	members   map[string]struct{}
	createdAt time.Time
}

func (g *group) info() GroupInfo {
	members := lo.Keys(g.members)
	sort.Strings(members)
	return GroupInfo{ID: g.id, Name: g.name, Members: members, CreatedAt: g.createdAt}
}

// Directory maps group names to identifiers and identifiers to member sets.
// A group exists exactly while it has members. The reverse index from
// identity to joined group names is updated with every membership change.
// It is owned by the hub loop and is not safe for concurrent use.
type Directory struct {
	ids    map[string]string              // name -> id
	groups map[string]*group              // id -> group
	joined map[string]map[string]struct{} // identity -> names
	newID  func() string
	now    func() time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		ids:    make(map[string]string),
		groups: make(map[string]*group),
		joined: make(map[string]map[string]struct{}),
		newID:  utils.NewID,
		now:    time.Now,
	}
}

// CreateOrJoin adds identity to the group called name, minting the group if
// no live identifier exists for the name. Joining twice is a no-op.
func (d *Directory) CreateOrJoin(name, identity string) JoinResult {
	g, created := d.lookup(name), false
	if g == nil {
		g = &group{
			id:        d.newID(),
			name:      name,
			members:   make(map[string]struct{}),
			createdAt: d.now(),
		}
		d.ids[name] = g.id
		d.groups[g.id] = g
		created = true
	}

	_, already := g.members[identity]
	if !already {
		d.addMember(g, identity)
	}
	return JoinResult{Group: g.info(), Created: created, Added: !already}
}

// Leave removes identity from the group. Removing the last member deletes the
// group; a later join with the same name mints a new identifier.
func (d *Directory) Leave(name, identity string) (LeaveResult, error) {
	g := d.lookup(name)
	if g == nil {
		return LeaveResult{}, fmt.Errorf("leave %q: %w", name, ErrGroupNotFound)
	}
	if _, ok := g.members[identity]; !ok {
		return LeaveResult{}, fmt.Errorf("leave %q: %w", name, ErrNotAMember)
	}
	return d.removeMember(g, identity), nil
}

// AddMember adds identity on behalf of requester, who must already be a member.
func (d *Directory) AddMember(name, identity, requester string) (GroupInfo, error) {
	g := d.lookup(name)
	if g == nil {
		return GroupInfo{}, fmt.Errorf("add to %q: %w", name, ErrGroupNotFound)
	}
	if _, ok := g.members[requester]; !ok {
		return GroupInfo{}, fmt.Errorf("add to %q: requester %q: %w", name, requester, ErrNotAMember)
	}
	if _, ok := g.members[identity]; ok {
		return GroupInfo{}, fmt.Errorf("add %q to %q: %w", identity, name, ErrAlreadyMember)
	}
	d.addMember(g, identity)
	return g.info(), nil
}

// RemoveMember removes identity on behalf of requester. Both must be members.
func (d *Directory) RemoveMember(name, identity, requester string) (LeaveResult, error) {
	g := d.lookup(name)
	if g == nil {
		return LeaveResult{}, fmt.Errorf("remove from %q: %w", name, ErrGroupNotFound)
	}
	if _, ok := g.members[requester]; !ok {
		return LeaveResult{}, fmt.Errorf("remove from %q: requester %q: %w", name, requester, ErrNotAMember)
	}
	if _, ok := g.members[identity]; !ok {
		return LeaveResult{}, fmt.Errorf("remove %q from %q: %w", identity, name, ErrNotAMember)
	}
	return d.removeMember(g, identity), nil
}

// MembersOf returns the members of the group, sorted for display.
func (d *Directory) MembersOf(name string) ([]string, bool) {
	g := d.lookup(name)
	if g == nil {
		return nil, false
	}
	return g.info().Members, true
}

// Lookup returns a snapshot of the live group called name.
func (d *Directory) Lookup(name string) (GroupInfo, bool) {
	g := d.lookup(name)
	if g == nil {
		return GroupInfo{}, false
	}
	return g.info(), true
}

// IsMember reports whether identity belongs to the group called name.
func (d *Directory) IsMember(name, identity string) bool {
	g := d.lookup(name)
	if g == nil {
		return false
	}
	_, ok := g.members[identity]
	return ok
}

// GroupsOf returns the names of the groups identity belongs to.
func (d *Directory) GroupsOf(identity string) []string {
	names := lo.Keys(d.joined[identity])
	sort.Strings(names)
	return names
}

// List returns every live group ordered by name.
func (d *Directory) List() []GroupInfo {
	infos := lo.MapToSlice(d.groups, func(_ string, g *group) GroupInfo {
		return g.info()
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Reset drops every group.
func (d *Directory) Reset() {
	clear(d.ids)
	clear(d.groups)
	clear(d.joined)
}

func (d *Directory) lookup(name string) *group {
	id, ok := d.ids[name]
	if !ok {
		return nil
	}
	return d.groups[id]
}

func (d *Directory) addMember(g *group, identity string) {
	g.members[identity] = struct{}{}
	names, ok := d.joined[identity]
	if !ok {
		names = make(map[string]struct{})
		d.joined[identity] = names
	}
	names[g.name] = struct{}{}
}

func (d *Directory) removeMember(g *group, identity string) LeaveResult {
	delete(g.members, identity)
	if names, ok := d.joined[identity]; ok {
		delete(names, g.name)
		if len(names) == 0 {
			delete(d.joined, identity)
		}
	}

	if len(g.members) > 0 {
		return LeaveResult{Group: g.info()}
	}
	delete(d.ids, g.name)
	delete(d.groups, g.id)
	return LeaveResult{Group: GroupInfo{ID: g.id, Name: g.name, CreatedAt: g.createdAt}, Deleted: true}
}
