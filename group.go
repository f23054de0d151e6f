package minnow

import (
	"sort"
	"strings"

	"github.com/minnow-im/minnow/dcp"
)

// Group is a named channel. Created lazily when the first user enters and
// reclaimed when the last member leaves, so an empty group is never
// observable.
type Group struct {
	Name string
	ACL  *GroupACL

	members map[*User]struct{}
}

func newGroup(name string) *Group {
	return &Group{
		Name:    strings.ToLower(name),
		ACL:     NewGroupACL(),
		members: make(map[*User]struct{}),
	}
}

// memberAdd enters the user and broadcasts group-enter to every member,
// the new one included.
func (g *Group) memberAdd(u *User, reason string) {
	g.members[u] = struct{}{}
	u.groups[g] = struct{}{}

	kval := dcp.Kval{}
	if reason != "" {
		kval["reason"] = []string{reason}
	}
	g.broadcast(u, "group-enter", kval)
}

// memberDel broadcasts group-exit to every member, the leaver included,
// then removes the two-sided membership.
func (g *Group) memberDel(u *User, reason string) {
	kval := dcp.Kval{}
	if reason != "" {
		kval["reason"] = []string{reason}
	}
	g.broadcast(u, "group-exit", kval)

	delete(g.members, u)
	delete(u.groups, g)
}

// Message fans a frame out to every member except the sender. Delivery is
// best effort per member.
func (g *Group) Message(from *User, kval dcp.Kval) {
	for member := range g.members {
		if member == from {
			continue
		}
		member.Send(from, g, "message", kval)
	}
}

func (g *Group) broadcast(from *User, command string, kval dcp.Kval) {
	for member := range g.members {
		member.Send(from, g, command, kval)
	}
}

func (g *Group) HasMember(u *User) bool {
	_, ok := g.members[u]
	return ok
}

func (g *Group) HasProperty(prop string) bool {
	// Group-wide properties ride on the group's own ACL slot.
	return g.ACL.Has(g.Name, prop)
}

// MemberHandles returns the member handles, sorted.
func (g *Group) MemberHandles() []string {
	out := make([]string, 0, len(g.members))
	for m := range g.members {
		out = append(out, m.Handle)
	}
	sort.Strings(out)
	return out
}

func (g *Group) Empty() bool { return len(g.members) == 0 }
