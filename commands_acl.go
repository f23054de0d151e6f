package minnow

import (
	"context"
	"strconv"
	"strings"

	"github.com/minnow-im/minnow/dcp"
)

// aclTargets is the resolved scope of an ACL operation: group-scoped when
// group is non-nil, user-scoped otherwise. user is the affected user in
// both scopes.
type aclTargets struct {
	group *Group
	user  *User
	acls  []string
}

// resolveACLTargets validates the target and the acl tokens against the
// vocabulary the target selects. needACL and needUser are relaxed for
// acl-list, which reads instead of mutating.
func (s *Server) resolveACLTargets(sess *Session, frame *dcp.Frame, needACL, needUser bool) (*aclTargets, bool) {
	acls := make([]string, 0, len(frame.Kval["acl"]))
	for _, a := range frame.Kval["acl"] {
		acls = append(acls, strings.ToLower(a))
	}
	if needACL && len(acls) == 0 {
		sess.Error(frame.Command, "No ACL", false, dcp.Kval{"target": {frame.Target}})
		return nil, false
	}

	target := frame.Target
	switch {
	case target == "*":
		sess.Error(frame.Command, "No valid target", false, dcp.Kval{"acl": acls})
		return nil, false

	case strings.HasPrefix(target, "="):
		sess.Error(frame.Command, "ACLs can't be set on servers yet", false,
			dcp.Kval{"target": {target}, "acl": acls})
		return nil, false

	case strings.HasPrefix(target, "#"):
		for _, a := range acls {
			if !ValidGroupACL(a) {
				sess.Error(frame.Command, "Invalid ACL", false,
					dcp.Kval{"target": {target}, "acl": acls})
				return nil, false
			}
		}
		group, ok := s.groups[target]
		if !ok {
			sess.Error(frame.Command, "No such group", false, dcp.Kval{"target": {target}})
			return nil, false
		}
		out := &aclTargets{group: group, acls: acls}
		if needUser {
			uname := frame.Kval.First("user", "")
			if uname == "" {
				sess.Error(frame.Command, "No valid user for target", false,
					dcp.Kval{"target": {target}, "acl": acls})
				return nil, false
			}
			affected, ok := s.users[strings.ToLower(uname)]
			if !ok {
				sess.Error(frame.Command, "No such user", false,
					dcp.Kval{"target": {target}, "user": {uname}})
				return nil, false
			}
			out.user = affected
		}
		return out, true

	default:
		for _, a := range acls {
			if !ValidUserACL(a) {
				sess.Error(frame.Command, "Invalid ACL", false,
					dcp.Kval{"target": {target}, "acl": acls})
				return nil, false
			}
		}
		affected, ok := s.users[target]
		if !ok {
			sess.Error(frame.Command, "No such user", false, dcp.Kval{"target": {target}})
			return nil, false
		}
		return &aclTargets{user: affected, acls: acls}, true
	}
}

// hasGrantGroup authorizes a group-scoped mutation: the requester must be a
// member and hold grant, grant:* or grant:<acl> on the group, with
// group:grant at user scope as a fallback.
func hasGrantGroup(u *User, g *Group, acls []string) (bool, string) {
	if !g.HasMember(u) {
		return false, "Must be in group to alter ACLs in it"
	}
	check := []string{"grant", "grant:*"}
	for _, a := range acls {
		check = append(check, "grant:"+a)
	}
	if g.ACL.HasAny(u.Handle, check...) {
		return true, ""
	}
	if u.ACLs.Has("group:grant") {
		return true, ""
	}
	return false, "No permission to alter ACL"
}

// hasGrantUser authorizes a user-scoped operation: user:grant plus every
// token involved. You cannot grant what you do not have.
func hasGrantUser(u *User, acls []string) (bool, string) {
	check := append([]string{"user:grant"}, acls...)
	if !u.ACLs.HasAll(check...) {
		return false, "No permission to alter ACL"
	}
	return true, ""
}

func (t *aclTargets) kwds(frame *dcp.Frame) dcp.Kval {
	var kwds dcp.Kval
	if t.group != nil {
		kwds = dcp.Kval{"target": {t.group.Name}}
		if t.user != nil {
			kwds["user"] = []string{t.user.Handle}
		}
	} else {
		kwds = dcp.Kval{"target": {t.user.Handle}}
	}
	if reason := frame.Kval.First("reason", ""); reason != "" {
		kwds["reason"] = []string{reason}
	}
	return kwds
}

// confirm reports an ACL change to the requester and the affected target:
// every member for a group target, the user's own session otherwise.
func (s *Server) confirm(sess *Session, t *aclTargets, src interface{}, command string, kwds dcp.Kval) {
	if t.group != nil {
		for member := range t.group.members {
			if member.session == sess {
				continue
			}
			member.Send(src, t.group, command, kwds)
		}
	} else if t.user.session != nil && t.user.session != sess {
		t.user.Send(src, t.user, command, kwds)
	}
	sess.Send(src, sess.user, command, kwds)
}

func (s *Server) cmdACLSet(sess *Session, frame *dcp.Frame, authorized bool) {
	t, ok := s.resolveACLTargets(sess, frame, true, true)
	if !ok {
		return
	}
	kwds := t.kwds(frame)

	var src interface{} = s
	setter := "*"
	if !authorized {
		requester := sess.user
		setter = requester.Handle
		var granted bool
		var msg string
		if t.group != nil {
			granted, msg = hasGrantGroup(requester, t.group, t.acls)
		} else {
			granted, msg = hasGrantUser(requester, t.acls)
		}
		if !granted {
			sess.Error(frame.Command, msg, false, kwds)
			return
		}
	} else {
		src = nil
	}

	// All or nothing: reject the whole request before touching state, so a
	// token that fails partway cannot leave earlier ones applied.
	seen := make(map[string]struct{}, len(t.acls))
	for _, acl := range t.acls {
		_, dup := seen[acl]
		held := t.user.ACLs.Has(acl)
		if t.group != nil {
			held = t.group.ACL.Has(t.user.Handle, acl)
		}
		if dup || held {
			sess.Error(frame.Command, "ACL exists", false, kwds)
			return
		}
		seen[acl] = struct{}{}
	}

	for _, acl := range t.acls {
		var err error
		if t.group != nil {
			t.group.ACL.For(t.user.Handle).Add(acl)
			err = s.store.AddGroupACL(context.Background(), t.group.Name, acl, setter)
		} else {
			t.user.ACLs.Add(acl)
			err = s.store.AddUserACL(context.Background(), t.user.Handle, acl, setter)
		}
		if err != nil {
			s.log.Error().Err(err).Str("acl", acl).Msg("ACL write failed")
		}
	}

	s.confirm(sess, t, src, frame.Command, kwds)
}

func (s *Server) cmdACLDel(sess *Session, frame *dcp.Frame, authorized bool) {
	t, ok := s.resolveACLTargets(sess, frame, true, true)
	if !ok {
		return
	}
	kwds := t.kwds(frame)

	var src interface{} = s
	if !authorized {
		requester := sess.user
		var granted bool
		var msg string
		if t.group != nil {
			granted, msg = hasGrantGroup(requester, t.group, t.acls)
		} else {
			granted, msg = hasGrantUser(requester, t.acls)
		}
		if !granted {
			sess.Error(frame.Command, msg, false, kwds)
			return
		}
	} else {
		src = nil
	}

	// Mirror of acl-set: every token must be present before any is removed.
	seen := make(map[string]struct{}, len(t.acls))
	for _, acl := range t.acls {
		_, dup := seen[acl]
		held := t.user.ACLs.Has(acl)
		if t.group != nil {
			held = t.group.ACL.Has(t.user.Handle, acl)
		}
		if dup || !held {
			sess.Error(frame.Command, "ACL does not exist", false, kwds)
			return
		}
		seen[acl] = struct{}{}
	}

	for _, acl := range t.acls {
		var err error
		if t.group != nil {
			t.group.ACL.For(t.user.Handle).Del(acl)
			err = s.store.DelGroupACL(context.Background(), t.group.Name, acl)
		} else {
			t.user.ACLs.Del(acl)
			err = s.store.DelUserACL(context.Background(), t.user.Handle, acl)
		}
		if err != nil {
			s.log.Error().Err(err).Str("acl", acl).Msg("ACL delete failed")
		}
	}

	s.confirm(sess, t, src, frame.Command, kwds)
}

func (s *Server) cmdACLList(sess *Session, frame *dcp.Frame, authorized bool) {
	t, ok := s.resolveACLTargets(sess, frame, false, false)
	if !ok {
		return
	}
	kwds := t.kwds(frame)

	requester := sess.user
	var src, dst interface{} = s, requester
	if authorized {
		src, dst = nil, nil
	}

	var data []aclRecord
	var err error
	if t.group != nil {
		// Listing is open to members; grant is only needed to mutate.
		if !authorized && !t.group.HasMember(requester) {
			sess.Error(frame.Command, "Must be in group to view ACLs", false, kwds)
			return
		}
		data, err = s.readACLRecords(true, t.group.Name)
	} else {
		// User records need user:grant to view, one's own included.
		if !authorized {
			if granted, msg := hasGrantUser(requester, t.acls); !granted {
				sess.Error(frame.Command, msg, false, kwds)
				return
			}
		}
		data, err = s.readACLRecords(false, t.user.Handle)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("ACL read failed")
		sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
		return
	}

	if len(data) == 0 {
		sess.Send(src, dst, frame.Command, kwds)
		return
	}

	entries := make([]string, 0, len(data))
	times := make([]string, 0, len(data))
	setters := make([]string, 0, len(data))
	for _, rec := range data {
		if rec.acl == "" {
			continue
		}
		setter := rec.setter
		if setter == "" {
			setter = "*"
		}
		entries = append(entries, rec.acl)
		times = append(times, strconv.FormatInt(rec.timestamp, 10))
		setters = append(setters, setter)
	}
	kwds["acl"] = entries
	kwds["acl-time"] = times
	kwds["acl-setter"] = setters

	sess.SendMultipart(src, dst, frame.Command,
		[]string{"acl", "acl-time", "acl-setter"}, kwds)
}

type aclRecord struct {
	acl       string
	timestamp int64
	setter    string
}

func (s *Server) readACLRecords(group bool, name string) ([]aclRecord, error) {
	var out []aclRecord
	if group {
		recs, err := s.store.GroupACL(context.Background(), name)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, aclRecord{r.ACL, r.Timestamp, r.Setter})
		}
		return out, nil
	}
	recs, err := s.store.UserACL(context.Background(), name)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out = append(out, aclRecord{r.ACL, r.Timestamp, r.Setter})
	}
	return out, nil
}
