package minnow

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrACLExists = errors.New("minnow: ACL exists")
	ErrACLAbsent = errors.New("minnow: ACL does not exist")
)

// The two fixed ACL vocabularies. Tokens outside them are rejected at the
// handler boundary.
var (
	UserACLValues = map[string]struct{}{
		"user:auspex": {},
		"user:grant":  {},
		"user:revoke": {},
		"user:ban":    {},
		"group:grant": {},
	}

	GroupACLValues = map[string]struct{}{
		"grant":    {},
		"voice":    {},
		"topic":    {},
		"moderate": {},
		"private":  {},
	}
)

// ValidUserACL reports whether acl belongs to the user vocabulary.
func ValidUserACL(acl string) bool {
	_, ok := UserACLValues[strings.ToLower(acl)]
	return ok
}

// ValidGroupACL reports whether acl belongs to the group vocabulary.
// grant:* and grant:<token> forms are derived from the base vocabulary.
func ValidGroupACL(acl string) bool {
	acl = strings.ToLower(acl)
	if _, ok := GroupACLValues[acl]; ok {
		return true
	}
	if rest, ok := strings.CutPrefix(acl, "grant:"); ok {
		if rest == "*" {
			return true
		}
		_, ok := GroupACLValues[rest]
		return ok
	}
	return false
}

// ACLSet is a set of ACL tokens attached to a user, or to one member within
// a group.
type ACLSet struct {
	tokens map[string]struct{}
}

func NewACLSet(tokens ...string) *ACLSet {
	s := &ACLSet{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		s.tokens[strings.ToLower(t)] = struct{}{}
	}
	return s
}

func (s *ACLSet) Has(acl string) bool {
	_, ok := s.tokens[strings.ToLower(acl)]
	return ok
}

func (s *ACLSet) HasAny(acls ...string) bool {
	for _, a := range acls {
		if s.Has(a) {
			return true
		}
	}
	return false
}

func (s *ACLSet) HasAll(acls ...string) bool {
	for _, a := range acls {
		if !s.Has(a) {
			return false
		}
	}
	return true
}

func (s *ACLSet) Add(acl string) error {
	acl = strings.ToLower(acl)
	if _, ok := s.tokens[acl]; ok {
		return ErrACLExists
	}
	s.tokens[acl] = struct{}{}
	return nil
}

func (s *ACLSet) Del(acl string) error {
	acl = strings.ToLower(acl)
	if _, ok := s.tokens[acl]; !ok {
		return ErrACLAbsent
	}
	delete(s.tokens, acl)
	return nil
}

// List returns the tokens in sorted order.
func (s *ACLSet) List() []string {
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *ACLSet) Len() int { return len(s.tokens) }

// GroupACL maps member handles to the tokens they hold on the group.
type GroupACL struct {
	members map[string]*ACLSet
}

func NewGroupACL() *GroupACL {
	return &GroupACL{members: make(map[string]*ACLSet)}
}

func (g *GroupACL) For(handle string) *ACLSet {
	handle = strings.ToLower(handle)
	set, ok := g.members[handle]
	if !ok {
		set = NewACLSet()
		g.members[handle] = set
	}
	return set
}

func (g *GroupACL) Has(handle, acl string) bool {
	if set, ok := g.members[strings.ToLower(handle)]; ok {
		return set.Has(acl)
	}
	return false
}

func (g *GroupACL) HasAny(handle string, acls ...string) bool {
	if set, ok := g.members[strings.ToLower(handle)]; ok {
		return set.HasAny(acls...)
	}
	return false
}
