package minnow

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/minnow-im/minnow/dcp"
)

// Password floor for register. Short of real password policy, but keeps the
// obviously hopeless ones out of the store.
const minPasswordLen = 5

func (s *Server) checkServpass(sess *Session, frame *dcp.Frame) bool {
	if s.servpass == "" {
		return true
	}
	if frame.Kval.First("servpass", "") != s.servpass {
		sess.Error(frame.Command, "Bad server password", true, nil)
		return false
	}
	return true
}

func (s *Server) cmdSignon(sess *Session, frame *dcp.Frame, _ bool) {
	if !s.checkServpass(sess, frame) {
		return
	}

	handle := frame.Kval.First("handle", "")
	if handle == "" {
		sess.Error(frame.Command, "No handle", true, nil)
		return
	}
	handle = strings.ToLower(handle)
	if !validHandle.MatchString(handle) {
		sess.Error(frame.Command, "Invalid handle", true, dcp.Kval{"handle": {handle}})
		return
	}
	if len(handle) > dcp.MaxTarget {
		sess.Error(frame.Command, "Handle is too long", true, dcp.Kval{"handle": {handle}})
		return
	}

	cred, err := s.store.Get(context.Background(), handle)
	if err != nil {
		s.log.Error().Err(err).Str("handle", handle).Msg("credential lookup failed")
		sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
		return
	}
	if cred == nil {
		sess.Error(frame.Command, "You are not registered with the server", false,
			dcp.Kval{"handle": {handle}})
		return
	}

	password := frame.Kval.First("password", "*")
	if bcrypt.CompareHashAndPassword([]byte(cred.Hash), []byte(password)) != nil {
		sess.Error(frame.Command, "Invalid password", true, nil)
		return
	}

	if _, online := s.users[handle]; online {
		// TODO burst state to the second session instead of refusing it
		sess.Error(frame.Command, "No multiple users at the moment", true,
			dcp.Kval{"handle": {handle}})
		return
	}

	s.userEnter(sess, handle, cred.Gecos, cred.ACLs, frame.Kval["options"])
}

func (s *Server) cmdRegister(sess *Session, frame *dcp.Frame, _ bool) {
	if !s.checkServpass(sess, frame) {
		return
	}

	handle := frame.Kval.First("handle", "")
	if handle == "" {
		sess.Error(frame.Command, "No handle", true, nil)
		return
	}
	handle = strings.ToLower(handle)
	if !validHandle.MatchString(handle) {
		sess.Error(frame.Command, "Invalid handle", false, dcp.Kval{"handle": {handle}})
		return
	}
	if len(handle) > dcp.MaxTarget {
		sess.Error(frame.Command, "Handle is too long", false, dcp.Kval{"handle": {handle}})
		return
	}

	cred, err := s.store.Get(context.Background(), handle)
	if err != nil {
		s.log.Error().Err(err).Str("handle", handle).Msg("credential lookup failed")
		sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
		return
	}
	if cred != nil {
		sess.Error(frame.Command, "Handle already registered", false,
			dcp.Kval{"handle": {handle}})
		return
	}

	gecos := frame.Kval.First("gecos", handle)
	if len(gecos) > dcp.MaxTarget {
		sess.Error(frame.Command, "GECOS is too long", false, dcp.Kval{"gecos": {gecos}})
		return
	}

	// The password itself is never echoed back.
	password := frame.Kval.First("password", "")
	if len(password) < minPasswordLen {
		sess.Error(frame.Command, "Bad password", false, nil)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error().Err(err).Msg("password hashing failed")
		sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
		return
	}

	if err := s.store.Add(context.Background(), handle, string(hash), gecos, nil); err != nil {
		s.log.Error().Err(err).Str("handle", handle).Msg("registration write failed")
		sess.Error(frame.Command, "Handle already registered", false,
			dcp.Kval{"handle": {handle}})
		return
	}

	sess.Send(s, nil, frame.Command, dcp.Kval{
		"handle":  {handle},
		"gecos":   {gecos},
		"message": {"Registration successful, beginning signon"},
	})

	s.userEnter(sess, handle, gecos, nil, frame.Kval["options"])
}

func (s *Server) cmdMessage(sess *Session, frame *dcp.Frame, _ bool) {
	user := sess.user
	target := frame.Target
	if target == "*" {
		sess.Error(frame.Command, "No valid target", false, nil)
		return
	}

	body := frame.Kval["body"]
	if len(body) == 0 {
		body = []string{""}
	}
	kval := dcp.Kval{"body": body}

	switch {
	case strings.HasPrefix(target, "="), strings.HasPrefix(target, "&"):
		sess.Error(frame.Command, "Cannot message servers yet, sorry", false,
			dcp.Kval{"target": {target}})
	case strings.HasPrefix(target, "#"):
		group, ok := s.groups[target]
		if !ok {
			sess.Error(frame.Command, "No such group", false, dcp.Kval{"target": {target}})
			return
		}
		group.Message(user, kval)
	default:
		peer, ok := s.users[target]
		if !ok {
			sess.Error(frame.Command, "No such user", false, dcp.Kval{"target": {target}})
			return
		}
		peer.Send(user, peer, "message", kval)
	}
}

func (s *Server) cmdMotd(sess *Session, frame *dcp.Frame, _ bool) {
	s.sendMOTD(sess.user)
}

func (s *Server) cmdWhois(sess *Session, frame *dcp.Frame, _ bool) {
	requester := sess.user
	target := frame.Target
	if target == "*" || strings.HasPrefix(target, "=") || strings.HasPrefix(target, "#") {
		sess.Error(frame.Command, "No valid target", false, nil)
		return
	}

	subject, ok := s.users[target]
	if !ok {
		sess.Error(frame.Command, "No such user", false, nil)
		return
	}

	auspex := requester.ACLs.Has("user:auspex")

	kval := dcp.Kval{
		"handle": {subject.Handle},
		"gecos":  {subject.Gecos},
	}
	if auspex && subject.ACLs.Len() > 0 {
		kval["acl"] = subject.ACLs.List()
	}

	var groups []string
	for _, g := range subject.Groups() {
		if g.HasProperty("private") && !auspex {
			continue
		}
		groups = append(groups, g.Name)
	}
	if len(groups) > 0 {
		sort.Strings(groups)
		kval["groups"] = groups
	}

	sess.SendMultipart(s, requester, frame.Command, []string{"acl", "groups"}, kval)
}

func (s *Server) cmdGroupEnter(sess *Session, frame *dcp.Frame, _ bool) {
	user := sess.user
	target := frame.Target
	if target == "*" {
		sess.Error(frame.Command, "No valid target", false, nil)
		return
	}
	if !strings.HasPrefix(target, "#") {
		sess.Error(frame.Command, "Invalid group", false, dcp.Kval{"target": {target}})
		return
	}
	if len(target) > dcp.MaxTarget {
		sess.Error(frame.Command, "Group name too long", false, dcp.Kval{"target": {target}})
		return
	}

	group, ok := s.groups[target]
	if !ok {
		s.log.Info().Str("group", target).Msg("creating group")
		group = newGroup(target)
		s.groups[group.Name] = group
	}

	if group.HasMember(user) {
		sess.Error(frame.Command, "You are already entered", false,
			dcp.Kval{"target": {target}})
		return
	}

	group.memberAdd(user, frame.Kval.First("reason", ""))
}

func (s *Server) cmdGroupExit(sess *Session, frame *dcp.Frame, _ bool) {
	user := sess.user
	target := frame.Target
	if target == "*" {
		sess.Error(frame.Command, "No valid target", false, nil)
		return
	}
	group, ok := s.groups[target]
	if !strings.HasPrefix(target, "#") || !ok {
		sess.Error(frame.Command, "Invalid group", false, dcp.Kval{"target": {target}})
		return
	}
	if !group.HasMember(user) {
		sess.Error(frame.Command, "You are not in that group", false,
			dcp.Kval{"target": {target}})
		return
	}

	group.memberDel(user, frame.Kval.First("reason", ""))
	if group.Empty() {
		delete(s.groups, group.Name)
	}
}

func (s *Server) cmdPong(sess *Session, frame *dcp.Frame, _ bool) {
	sess.user.pendingPing = false
}
