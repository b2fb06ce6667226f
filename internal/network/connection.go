// Package network implements the raw TCP side of every socket role: the
// accept loop, the per-connection read loop that splits the byte stream
// into sub-frames, the policy reply, and a non-blocking send path.
// Protocol state machines plug in through FrameHandler.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/protocol"
)

var (
	// ErrLoginFailure is the only handler error that closes a connection.
	ErrLoginFailure = errors.New("login failure")

	// ErrConnectionClosed is returned by Send on a closed connection.
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrSendBufferFull is returned when a peer stops draining its socket.
	// The connection is closed.
	ErrSendBufferFull = errors.New("send buffer full")
)

const (
	// sendQueueSize bounds outbound frames waiting for the writer.
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
	readChunkSize = 4096
)

// FrameHandler is the protocol state machine bound to one connection.
// HandleFrame receives each trimmed, non-empty sub-frame in arrival order
// on the connection's read goroutine.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame []byte) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, frame []byte) error

// HandleFrame calls f.
func (f FrameHandlerFunc) HandleFrame(ctx context.Context, frame []byte) error {
	return f(ctx, frame)
}

// Observer receives per-connection counters.
type Observer interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	FrameReceived(role string)
	FrameDropped(role string, reason string)
}

// ConnOptions configures the read loop.
type ConnOptions struct {
	Format         protocol.Format
	PolicyDocument string
	ReadTimeout    time.Duration
	MaxPacketSize  int
	Observer       Observer
}

// Connection wraps one accepted TCP connection for any role.
type Connection struct {
	id     string
	role   Role
	conn   net.Conn
	opts   ConnOptions
	logger zerolog.Logger

	sendCh chan []byte
	done   chan struct{}

	mu           sync.Mutex
	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
	idle         bool
}

// NewConnection wraps an accepted net.Conn and starts its writer.
func NewConnection(conn net.Conn, role Role, opts ConnOptions) *Connection {
	now := time.Now()
	id := uuid.NewString()
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = protocol.MaxPacketSize
	}
	c := &Connection{
		id:           id,
		role:         role,
		conn:         conn,
		opts:         opts,
		sendCh:       make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Str("role", string(role)).
			Str("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection's unique id.
func (c *Connection) ID() string {
	return c.id
}

// Role returns the listener role that accepted the connection.
func (c *Connection) Role() Role {
	return c.role
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() zerolog.Logger {
	return c.logger
}

// Serve runs the read loop until the peer disconnects, the context ends,
// or the handler reports ErrLoginFailure. It closes the connection on
// return.
func (c *Connection) Serve(ctx context.Context, h FrameHandler) {
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	splitter := protocol.NewSplitter(c.opts.Format, c.opts.MaxPacketSize)
	chunk := make([]byte, readChunkSize)

	for {
		if c.opts.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.touch()
			frames, ferr := splitter.Feed(chunk[:n])
			if ferr != nil {
				c.logger.Warn().Err(ferr).Msg("dropping oversized frame")
				c.dropped("oversized")
			}
			for _, frame := range frames {
				if !c.handle(ctx, h, frame) {
					return
				}
			}
		}
		if err != nil {
			c.logReadError(err)
			return
		}
	}
}

// handle processes one sub-frame and reports whether the read loop should
// continue.
func (c *Connection) handle(ctx context.Context, h FrameHandler, frame []byte) bool {
	if c.Idle() {
		c.dropped("idle")
		return true
	}
	if c.opts.Observer != nil {
		c.opts.Observer.FrameReceived(string(c.role))
	}

	if protocol.IsPolicyRequest(frame) {
		c.logger.Debug().Msg("policy request served")
		c.Send(protocol.PolicyResponse(c.opts.PolicyDocument))
		c.mu.Lock()
		c.idle = true
		c.mu.Unlock()
		return true
	}

	err := h.HandleFrame(ctx, frame)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrLoginFailure):
		c.logger.Warn().Err(err).Msg("login failed, closing connection")
		c.dropped("login_failure")
		return false
	case errors.Is(err, ErrConnectionClosed):
		return false
	default:
		c.logger.Debug().Err(err).Bytes("frame", truncate(frame, 64)).Msg("frame skipped")
		return true
	}
}

func (c *Connection) logReadError(err error) {
	if c.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Msg("peer disconnected")
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Info().Dur("timeout", c.opts.ReadTimeout).Msg("read timeout, closing connection")
		return
	}
	c.logger.Warn().Err(err).Msg("read error, closing connection")
}

// Send queues a terminated frame for the writer without blocking. A nil
// frame is ignored. A peer that lets the queue fill up is disconnected.
func (c *Connection) Send(frame []byte) error {
	if frame == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		c.logger.Warn().Int("queued", len(c.sendCh)).Msg("send buffer full, closing connection")
		c.closeLocked()
		return ErrSendBufferFull
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(frame); err != nil {
				if !c.IsClosed() {
					c.logger.Debug().Err(err).Msg("write failed")
				}
				c.Close()
				c.conn.Close()
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued so a closing connection gets its
// final frames.
func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := c.conn.Write(frame); err != nil {
				c.conn.Close()
				return
			}
		default:
			c.conn.Close()
			return
		}
	}
}

// Close marks the connection closed; the writer flushes pending frames
// and releases the socket. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	// Unblock a pending Read; the writer still owns the final flush.
	c.conn.SetReadDeadline(time.Now())
	c.logger.Debug().Msg("connection closed")
}

// IsClosed reports whether the connection has been closed by either side.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Idle reports whether a policy reply was served; later frames are ignored.
func (c *Connection) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the last inbound read.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP returns the peer address without the port.
func (c *Connection) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

func (c *Connection) dropped(reason string) {
	if c.opts.Observer != nil {
		c.opts.Observer.FrameDropped(string(c.role), reason)
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s/%s(%s)", c.role, c.id, c.RemoteAddr())
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
