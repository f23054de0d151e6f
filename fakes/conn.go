// Package fakes provides in-memory transport doubles for tests.
package fakes

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"
)

// Conn is an in-memory net.Conn half: Read blocks on chunks fed by the
// test, Write accumulates into a buffer the test drains.
type Conn struct {
	LAddr net.TCPAddr
	RAddr net.TCPAddr

	incoming chan []byte
	pending  []byte

	mu   sync.Mutex
	wbuf bytes.Buffer

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn() *Conn {
	return &Conn{
		LAddr:    net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7266},
		RAddr:    net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 49152},
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) LocalAddr() net.Addr  { return &c.LAddr }
func (c *Conn) RemoteAddr() net.Addr { return &c.RAddr }

func (c *Conn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case chunk, ok := <-c.incoming:
			if !ok {
				return 0, net.ErrClosed
			}
			c.pending = chunk
		case <-c.closed:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wbuf.Write(p)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) SetDeadline(t time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(t time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(t time.Time) error { return nil }

// TestFeed injects bytes as if the client had written them.
func (c *Conn) TestFeed(t testing.TB, data []byte) {
	t.Helper()
	select {
	case c.incoming <- append([]byte(nil), data...):
	case <-c.closed:
		t.Fatal("feeding a closed connection")
	}
}

// Drain returns and clears everything the server wrote so far.
func (c *Conn) Drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]byte(nil), c.wbuf.Bytes()...)
	c.wbuf.Reset()
	return out
}

// Written returns the accumulated server output without clearing it.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wbuf.Bytes()...)
}

// IsClosed reports whether the server closed the connection.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Listener hands pre-built Conns to an accept loop.
type Listener struct {
	LAddr net.TCPAddr
	Conns chan *Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func NewListener() *Listener {
	return &Listener{
		LAddr:  net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7266},
		Conns:  make(chan *Conn, 8),
		closed: make(chan struct{}),
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.Conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *Listener) Addr() net.Addr { return &l.LAddr }
