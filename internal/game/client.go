package game

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/protocol"
)

// Client is the game protocol state machine for one connection.
type Client struct {
	conn     Conn
	world    *World
	player   atomic.Pointer[Player]
	lastPong atomic.Int64
	logger   zerolog.Logger
}

// NewClient binds a connection to the world.
func NewClient(conn Conn, w *World) *Client {
	return &Client{
		conn:   conn,
		world:  w,
		logger: log.With().Str("component", "game_client").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// HandleFrame decodes one sub-frame and routes it.
func (c *Client) HandleFrame(_ context.Context, frame []byte) error {
	pkt, err := c.decode(frame)
	if err != nil {
		return err
	}
	return c.world.router.Route(c, pkt)
}

// decode applies the game socket's framing precedence: a frame carrying
// the web secret is trusted and its opcode follows the secret; before
// login the LOGIN literal maps to the login opcode; anything else has a
// one-byte opcode. Policy probes never get here.
func (c *Client) decode(frame []byte) (*protocol.Packet, error) {
	if secret := c.world.opts.WebSecret; secret != "" && bytes.HasPrefix(frame, []byte(secret)) {
		rest := frame[len(secret):]
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: empty side-channel frame", protocol.ErrMalformedField)
		}
		pkt := protocol.NewPacket(protocol.Opcode(rest[0]), protocol.GameFormat.Separator, rest[1:])
		pkt.Trusted = true
		return pkt, nil
	}
	if !c.Authenticated() && isLoginLiteral(frame) {
		return protocol.NewPacket(protocol.GameLogin, protocol.GameFormat.Separator, frame[len(protocol.LoginToken):]), nil
	}
	return protocol.Decode(protocol.GameFormat, frame)
}

func isLoginLiteral(frame []byte) bool {
	token := []byte(protocol.LoginToken)
	if !bytes.HasPrefix(frame, token) {
		return false
	}
	return len(frame) == len(token) || frame[len(token)] == protocol.GameFormat.Separator
}

// Authenticated reports whether login completed on this connection.
func (c *Client) Authenticated() bool {
	return c.player.Load() != nil
}

// Enqueue hands a job to the player's queue for the given tick. Trusted
// side-channel frames on a connection without a player go straight to
// the world tick.
func (c *Client) Enqueue(a dispatch.Affinity, j dispatch.Job) bool {
	p := c.player.Load()
	if p == nil {
		if a != dispatch.GlobalTick {
			return false
		}
		c.world.Submit(func(w *World) { w.runJob(nil, j) })
		return true
	}
	switch a {
	case dispatch.GlobalTick:
		return p.global.Push(j)
	case dispatch.EntityTick:
		return p.entity.Push(j)
	}
	return false
}

// Player returns the player bound by login, or nil.
func (c *Client) Player() *Player {
	return c.player.Load()
}

// LastPong returns when the client last sent a keepalive.
func (c *Client) LastPong() time.Time {
	v := c.lastPong.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// live returns the player if the world still holds it. World-tick
// handlers only.
func (c *Client) live() (*Player, error) {
	p := c.player.Load()
	if p == nil || c.world.players[p.ID] != p {
		return nil, ErrPlayerGone
	}
	return p, nil
}
