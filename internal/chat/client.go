package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/protocol"
)

// Client is the chat protocol state machine for one connection. It moves
// from awaiting authentication to authenticated exactly once, when the
// login handler stores a session.
type Client struct {
	conn     Conn
	manager  *Manager
	session  atomic.Pointer[Session]
	lastPong atomic.Int64
	logger   zerolog.Logger
}

// NewClient binds a connection to the manager.
func NewClient(conn Conn, m *Manager) *Client {
	return &Client{
		conn:    conn,
		manager: m,
		logger:  log.With().Str("component", "chat_client").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// HandleFrame decodes one sub-frame and routes it. Refusals raised by
// immediate handlers are replied to here; queued ones by the tick.
func (c *Client) HandleFrame(_ context.Context, frame []byte) error {
	pkt, err := protocol.Decode(protocol.ChatFormat, frame)
	if err != nil {
		return err
	}

	err = c.manager.router.Route(c, pkt)
	var re *ReplyError
	if errors.As(err, &re) {
		c.conn.Send(systemMessage(re.Text))
	}
	return err
}

// Authenticated reports whether login completed on this connection.
func (c *Client) Authenticated() bool {
	return c.session.Load() != nil
}

// Enqueue hands a job to the session queue matching the affinity.
func (c *Client) Enqueue(a dispatch.Affinity, j dispatch.Job) bool {
	s := c.session.Load()
	if s == nil {
		return false
	}
	switch a {
	case dispatch.GlobalTick:
		return s.global.Push(j)
	case dispatch.EntityTick:
		return s.entity.Push(j)
	}
	return false
}

// Session returns the session bound by login, or nil.
func (c *Client) Session() *Session {
	return c.session.Load()
}

// LastPong returns when the client last answered a ping.
func (c *Client) LastPong() time.Time {
	v := c.lastPong.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// live returns the client's session if the manager still holds it. Tick
// handlers call it before touching session state.
func (c *Client) live() (*Session, error) {
	s := c.session.Load()
	if s == nil || c.manager.sessions[s.ID] != s {
		return nil, ErrSessionGone
	}
	return s, nil
}
