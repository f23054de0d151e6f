package minnow

import (
	"strings"

	"github.com/minnow-im/minnow/dcp"
)

// User is one signed-on handle. The server owns the users map; the session
// and every entered group hold non-owning references.
type User struct {
	Handle     string
	Gecos      string
	ACLs       *ACLSet
	Properties *ACLSet
	Options    []string

	session *Session
	groups  map[*Group]struct{}

	// pendingPing is set when a ping was sent and no pong has arrived yet.
	pendingPing bool
}

func newUser(sess *Session, handle, gecos string, acls, properties []string, options []string) *User {
	return &User{
		Handle:     strings.ToLower(handle),
		Gecos:      gecos,
		ACLs:       NewACLSet(acls...),
		Properties: NewACLSet(properties...),
		Options:    options,
		session:    sess,
		groups:     make(map[*Group]struct{}),
	}
}

// Send emits a frame on the user's session.
func (u *User) Send(source, target interface{}, command string, kval dcp.Kval) {
	if u.session != nil {
		u.session.Send(source, target, command, kval)
	}
}

// Groups returns the names of the groups the user has entered, sorted.
func (u *User) Groups() []*Group {
	out := make([]*Group, 0, len(u.groups))
	for g := range u.groups {
		out = append(out, g)
	}
	return out
}

func (u *User) inGroup(g *Group) bool {
	_, ok := u.groups[g]
	return ok
}
