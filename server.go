// Package minnow implements a DCP chat server: authenticated sessions over
// TLS, a framed wire protocol in two dialects, and relay of messages
// between users and named groups.
package minnow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/minnow-im/minnow/dcp"
	"github.com/minnow-im/minnow/store"
)

const (
	Product = "minnow prototype server"
	Release = "v0.1.0"

	// A connection that has not completed signon within this window is
	// timed out.
	signonTimeout = 60 * time.Second
)

// Handles must not collide with the sigil namespaces (#group, =server,
// &service) nor contain wire metacharacters.
var validHandle = regexp.MustCompile(`^[^#!=&$,?*\[\]][^=$,?*\[\]]+$`)

type regState int

const (
	stateUnregistered regState = iota
	stateRegistered
)

// command binds a canonical (underscore) command name to its handler and
// the registration state it requires. The dispatcher enforces the guard
// uniformly. The authorized flag is raised only for the trusted IPC path
// and skips grant checks in the ACL handlers.
type command struct {
	requires regState
	handler  func(s *Server, sess *Session, frame *dcp.Frame, authorized bool)
}

// Server owns the users and groups maps and the command table. A single
// mutex serializes dispatch and timer callbacks, which gives per-session
// serialization and torn-read-free map access in one stroke.
type Server struct {
	name       string
	servpass   string
	codec      dcp.Codec
	store      store.Store
	clock      clockwork.Clock
	log        zerolog.Logger
	motd       [][]string
	pingJitter func() time.Duration

	commands map[string]command

	mu       sync.Mutex
	users    map[string]*User
	groups   map[string]*Group
	sessions map[*Session]struct{}
	ln       net.Listener
	closed   bool
}

type ServerOption func(s *Server) error

// WithServerLogger allows customizing the server logger.
func WithServerLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

// WithStore sets the credential store backend. Default is an in-memory
// store.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) error {
		s.store = st
		return nil
	}
}

// WithDialect selects the wire dialect, "binary" or "json".
func WithDialect(dialect string) ServerOption {
	return func(s *Server) error {
		codec, err := dcp.NewCodec(dialect)
		if err != nil {
			return err
		}
		s.codec = codec
		return nil
	}
}

// WithServerPassword requires the servpass kval on signon and register.
func WithServerPassword(pass string) ServerOption {
	return func(s *Server) error {
		s.servpass = pass
		return nil
	}
}

// WithMOTD sets the pre-computed MOTD blocks, one frame's worth of lines
// per block.
func WithMOTD(blocks [][]string) ServerOption {
	return func(s *Server) error {
		s.motd = blocks
		return nil
	}
}

// WithClock substitutes the timer source. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) ServerOption {
	return func(s *Server) error {
		s.clock = clock
		return nil
	}
}

// WithPingJitter overrides the ping interval source. Tests freeze it.
func WithPingJitter(f func() time.Duration) ServerOption {
	return func(s *Server) error {
		s.pingJitter = f
		return nil
	}
}

// NewServer creates a DCP server named name, which clients see as =name in
// source fields.
func NewServer(name string, options ...ServerOption) (*Server, error) {
	if name == "" {
		return nil, errors.New("minnow: server name must not be empty")
	}
	s := &Server{
		name:     strings.ToLower(name),
		codec:    dcp.BinaryCodec{},
		store:    store.NewMemory(),
		clock:    clockwork.NewRealClock(),
		log:      log.Logger.With().Str("caller", "Server").Logger(),
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		sessions: make(map[*Session]struct{}),
	}
	s.pingJitter = defaultPingJitter
	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	s.commands = map[string]command{
		"signon":      {stateUnregistered, (*Server).cmdSignon},
		"register":    {stateUnregistered, (*Server).cmdRegister},
		"message":     {stateRegistered, (*Server).cmdMessage},
		"motd":        {stateRegistered, (*Server).cmdMotd},
		"whois":       {stateRegistered, (*Server).cmdWhois},
		"group_enter": {stateRegistered, (*Server).cmdGroupEnter},
		"group_exit":  {stateRegistered, (*Server).cmdGroupExit},
		"pong":        {stateRegistered, (*Server).cmdPong},
		"acl_set":     {stateRegistered, (*Server).cmdACLSet},
		"acl_del":     {stateRegistered, (*Server).cmdACLDel},
		"acl_list":    {stateRegistered, (*Server).cmdACLList},
	}
	return s, nil
}

// The ping interval is uniform over [45.00, 60.00] seconds in centisecond
// steps, spreading pings so thousands of sessions do not emit a
// synchronized burst.
func defaultPingJitter() time.Duration {
	return time.Duration(4500+rand.Intn(1501)) * 10 * time.Millisecond
}

// ListenAndServe accepts TLS connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, conf *tls.Config) error {
	l, err := tls.Listen("tcp", addr, conf)
	if err != nil {
		return fmt.Errorf("listen tls error. err=%w", err)
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	return s.Serve(l)
}

// Serve runs the accept loop, constructing one Session per connection.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.ln = l
	s.mu.Unlock()
	s.log.Info().Str("addr", l.Addr().String()).Msg("listening")

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept error. err=%w", err)
		}
		s.startSession(conn)
	}
}

// startSession wires a Session onto an accepted connection and arms its
// signon deadline.
func (s *Server) startSession(conn net.Conn) *Session {
	sess := newSession(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.sessions[sess] = struct{}{}
	sessionsActive.Inc()
	sess.schedule("signon", signonTimeout, func() { s.connTimeout(sess) })
	s.mu.Unlock()

	sess.log.Info().Msg("connection accepted")
	go sess.readLoop()
	return sess
}

// Shutdown closes the acceptor, then every session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	open := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.Close()
	}
}

// dispatch routes one decoded frame in the server's serialization domain.
func (s *Server) dispatch(sess *Session, frame *dcp.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(sess, frame, false)
}

// DispatchTrusted routes a frame from a trusted internal peer: ACL grant
// checks are skipped and replies render the source as nil.
func (s *Server) DispatchTrusted(sess *Session, frame *dcp.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked(sess, frame, true)
}

func (s *Server) dispatchLocked(sess *Session, frame *dcp.Frame, authorized bool) {
	framesReceived.Inc()
	if sess.closed() {
		return
	}

	cmd, ok := s.commands[strings.ReplaceAll(frame.Command, "-", "_")]
	if !ok {
		sess.Error(frame.Command, "No such command", false, nil)
		return
	}

	switch cmd.requires {
	case stateRegistered:
		if sess.user == nil {
			sess.Error(frame.Command, "You are not registered", false, nil)
			return
		}
	case stateUnregistered:
		if sess.user != nil {
			sess.Error(frame.Command, "This command is only usable before registration", false, nil)
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			dispatchErrors.Inc()
			s.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
				Str("command", frame.Command).Msg("handler crashed")
			sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
		}
	}()
	cmd.handler(s, sess, frame, authorized)
}

// userEnter completes registration: the session becomes a user, the signon
// deadline is disarmed, the signon frame and MOTD go out, and the liveness
// ping cycle starts.
func (s *Server) userEnter(sess *Session, handle, gecos string, acls, options []string) {
	user := newUser(sess, handle, gecos, acls, nil, options)
	sess.user = user
	s.users[user.Handle] = user

	sess.cancelCallback("signon")

	sess.Send(s, user, "signon", dcp.Kval{
		"name":    {s.name},
		"time":    {s.unixNow()},
		"version": {Product, Release},
		"options": {},
	})
	s.sendMOTD(user)

	user.pendingPing = false
	s.schedulePing(user)

	sess.log.Info().Str("handle", user.Handle).Msg("user signed on")
}

// userExit tears the user out of the server: departure from every group,
// reclamation of groups left empty, removal from the users map.
func (s *Server) userExit(u *User) {
	delete(s.users, u.Handle)
	for _, g := range u.Groups() {
		g.memberDel(u, "")
		if g.Empty() {
			delete(s.groups, g.Name)
		}
	}
}

// sessionClosed runs once the read loop exits. It owns all server-side
// teardown, so no timer belonging to the session can fire an effect on the
// maps afterwards.
func (s *Server) sessionClosed(sess *Session) {
	sess.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess]; !ok {
		return
	}
	delete(s.sessions, sess)
	sessionsActive.Dec()
	sess.cancelAllCallbacks()
	if sess.user != nil {
		s.userExit(sess.user)
		sess.user = nil
	}
	sess.log.Info().Msg("connection closed")
}

// connTimeout fires when the signon deadline lapses.
func (s *Server) connTimeout(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.user != nil || sess.closed() {
		return
	}
	sess.Error("*", "Timed out", true, nil)
}

func (s *Server) schedulePing(u *User) {
	sess := u.session
	if sess == nil {
		return
	}
	sess.schedule("ping", s.pingJitter(), func() { s.pingTick(u) })
}

// pingTick either declares the session dead or sends the next ping and
// rearms itself with fresh jitter.
func (s *Server) pingTick(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := u.session
	if sess == nil || sess.closed() {
		return
	}
	if u.pendingPing {
		sess.Error("ping", "Ping timeout", true, nil)
		return
	}
	sess.Send(s, u, "ping", dcp.Kval{"time": {s.unixNow()}})
	u.pendingPing = true
	s.schedulePing(u)
}

func (s *Server) unixNow() string {
	return strconv.FormatInt(s.clock.Now().Round(time.Second).Unix(), 10)
}

// Name returns the configured server name.
func (s *Server) Name() string { return s.name }
