package minnow

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/minnow-im/minnow/dcp"
)

const readBufferSize = 2048

// writeTimeout bounds a single frame write. Dispatch runs under the server
// mutex, so a stalled peer must not be able to hold a write open forever.
const writeTimeout = 10 * time.Second

// Opaque names a frame source or target that is neither a local user, group
// nor this server, rendered as &name on the wire.
type Opaque string

// Session is the live connection object, one per accepted TLS stream. All
// state except the write path is mutated only inside the server's
// serialization domain (under Server.mu).
type Session struct {
	ID   string
	Peer string

	server   *Server
	conn     net.Conn
	codec    dcp.Codec
	splitter *dcp.Splitter
	clock    clockwork.Clock
	log      zerolog.Logger

	// wmu orders outbound frames and guards closing against the write path.
	wmu     sync.Mutex
	closing bool

	user      *User
	callbacks map[string]clockwork.Timer
}

func newSession(srv *Server, conn net.Conn) *Session {
	id := uuid.NewString()
	peer := conn.RemoteAddr().String()
	return &Session{
		ID:        id,
		Peer:      peer,
		server:    srv,
		conn:      conn,
		codec:     srv.codec,
		splitter:  dcp.NewSplitter(srv.codec),
		clock:     srv.clock,
		log:       srv.log.With().Str("sid", id).Str("peer", peer).Logger(),
		callbacks: make(map[string]clockwork.Timer),
	}
}

// readLoop pulls bytes off the connection, assembles frames and hands them
// to the server. Runs on its own goroutine until the transport goes away.
func (s *Session) readLoop() {
	buf := make([]byte, readBufferSize)
	defer s.server.sessionClosed(s)

	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		frames, serr := s.splitter.Push(buf[:n])
		for _, raw := range frames {
			frame, derr := s.codec.Decode(raw)
			if derr != nil {
				if errors.Is(derr, dcp.ErrFrameIncomplete) {
					continue
				}
				framesDropped.Inc()
				s.Error("*", frameErrorReason(derr), false, nil)
				continue
			}
			s.server.dispatch(s, frame)
		}
		if serr != nil {
			framesDropped.Inc()
			s.Error("*", frameErrorReason(serr), false, nil)
		}
	}
}

// Send constructs a frame and writes it. Source and target may be a *User,
// *Group, *Server, *Session, Opaque or nil; the usual coercion applies.
func (s *Session) Send(source, target interface{}, command string, kval dcp.Kval) error {
	frame := dcp.NewFrame(s.entityName(source), s.entityName(target), command, kval)
	data, err := s.codec.Encode(frame)
	if err != nil {
		s.log.Warn().Err(err).Str("command", command).Msg("dropping unencodable frame")
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closing {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.conn.Write(data); err != nil {
		// A dead or stalled transport. Drop the session; the read loop
		// observes the closed conn and tears the rest down.
		s.log.Debug().Err(err).Str("command", command).Msg("write failed, dropping session")
		s.closing = true
		s.conn.Close()
		return err
	}
	framesSent.Inc()
	return nil
}

// SendMultipart splits kval across several frames when the whole of it
// would not fit the wire. Only the listed paging keys are sliced; their
// value lists are cut row by row so parallel lists stay aligned. Every part
// carries multipart=*, part=i and total=N. Non-paging keys repeat in each
// part.
func (s *Session) SendMultipart(source, target interface{}, command string, pagingKeys []string, kval dcp.Kval) {
	static := dcp.Kval{}
	rows := 0
	for k, v := range kval {
		if !containsKey(pagingKeys, k) {
			static[k] = v
		} else if len(v) > rows {
			rows = len(v)
		}
	}
	if rows == 0 {
		s.Send(source, target, command, kval)
		return
	}

	// Reserve worst case room for the multipart markers up front.
	base := static.Clone()
	base["multipart"] = []string{"*"}
	base["part"] = []string{"9999"}
	base["total"] = []string{"9999"}
	budget := s.codec.Fit(command, base)

	var parts []dcp.Kval
	cur := dcp.Kval{}
	curcost := 0
	for i := 0; i < rows; i++ {
		rowcost := 0
		for _, k := range pagingKeys {
			if i < len(kval[k]) {
				rowcost += len(k) + len(kval[k][i]) + 3
			}
		}
		if curcost > 0 && curcost+rowcost > budget {
			parts = append(parts, cur)
			cur = dcp.Kval{}
			curcost = 0
		}
		for _, k := range pagingKeys {
			if i < len(kval[k]) {
				cur[k] = append(cur[k], kval[k][i])
			}
		}
		curcost += rowcost
	}
	parts = append(parts, cur)

	total := strconv.Itoa(len(parts))
	for i, page := range parts {
		out := static.Clone()
		for k, v := range page {
			out[k] = v
		}
		out["multipart"] = []string{"*"}
		out["part"] = []string{strconv.Itoa(i + 1)}
		out["total"] = []string{total}
		s.Send(source, target, command, out)
	}
}

// Error emits an error frame naming the failing command and reason. A fatal
// error closes the transport after the write.
func (s *Session) Error(command, reason string, fatal bool, extargs dcp.Kval) {
	kval := dcp.Kval{
		"command": {command},
		"reason":  {reason},
	}
	for k, v := range extargs {
		kval[k] = v
	}

	if fatal {
		s.log.Debug().Str("command", command).Str("reason", reason).Msg("fatal error for client")
	}
	s.Send(s.server, s.user, "error", kval)
	if fatal {
		s.Close()
	}
}

// Close shuts the transport down. Timers are cancelled and server-side
// bookkeeping is torn down by sessionClosed once the read loop observes the
// closed connection. Safe to call more than once.
func (s *Session) Close() {
	s.wmu.Lock()
	already := s.closing
	s.closing = true
	s.wmu.Unlock()
	if already {
		return
	}
	s.conn.Close()
}

func (s *Session) closed() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.closing
}

// schedule arms a named timer, replacing any previous one under the same
// name. Runs in the server's serialization domain, as does the callback.
func (s *Session) schedule(name string, d time.Duration, f func()) {
	s.cancelCallback(name)
	s.callbacks[name] = s.clock.AfterFunc(d, f)
}

func (s *Session) cancelCallback(name string) {
	if t, ok := s.callbacks[name]; ok {
		t.Stop()
		delete(s.callbacks, name)
	}
}

func (s *Session) cancelAllCallbacks() {
	for name, t := range s.callbacks {
		t.Stop()
		delete(s.callbacks, name)
	}
}

// entityName is the single translation point for frame source and target
// coercion.
func (s *Session) entityName(e interface{}) string {
	switch v := e.(type) {
	case nil:
		return "*"
	case *User:
		if v == nil {
			return "*"
		}
		return v.Handle
	case *Group:
		if v == nil {
			return "*"
		}
		return v.Name
	case *Server:
		return "=" + v.name
	case *Session:
		if v == nil || v.user == nil {
			return "*"
		}
		return v.user.Handle
	case Opaque:
		return "&" + string(v)
	case string:
		return v
	}
	return "*"
}

func frameErrorReason(err error) string {
	return strings.TrimPrefix(err.Error(), "dcp: ")
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
