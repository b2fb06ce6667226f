package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/protocol"
)

// NewRegistry builds the sealed game opcode table.
func NewRegistry() *dispatch.Registry[*Client] {
	reg := dispatch.NewRegistry[*Client]("game")
	reg.Register(protocol.GameLogin, "login", dispatch.RequiresUnauthenticated, dispatch.Immediate, handleLogin)
	reg.Register(protocol.GameKeepAlive, "keepalive", dispatch.RequiresAuthenticated, dispatch.Immediate, handleKeepAlive)
	reg.Register(protocol.GameMove, "move", dispatch.RequiresAuthenticated, dispatch.EntityTick, handleMove)
	reg.Register(protocol.GameJump, "jump", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleJump)
	reg.Register(protocol.GameLogout, "logout", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleLogout)
	reg.Register(protocol.GameWebKick, "web_kick", dispatch.TrustedSideChannel, dispatch.GlobalTick, handleWebKick)
	reg.Register(protocol.GameWebNotice, "web_notice", dispatch.TrustedSideChannel, dispatch.GlobalTick, handleWebNotice)
	reg.Seal()
	return reg
}

func handleLogin(c *Client, pkt *protocol.Packet) error {
	w := c.world
	userID, err := pkt.Int()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}
	token, err := pkt.String()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}

	ctx, cancel := w.storeContext()
	defer cancel()

	acct, err := w.store.LoadSession(ctx, userID, token)
	if err != nil {
		w.loginFailed(c, userID, err.Error())
		return fmt.Errorf("%w: user %d: %w", ErrLoginFailure, userID, err)
	}
	now := w.now()
	if ban, err := w.store.ActiveBan(ctx, userID, now); err == nil {
		c.conn.Send(notice(fmt.Sprintf("You are banned until %s", ban.ExpiresAt.Format(time.RFC1123))))
		w.loginFailed(c, userID, "banned")
		return fmt.Errorf("%w: user %d is banned", ErrLoginFailure, userID)
	} else if !errors.Is(err, db.ErrNotFound) {
		w.loginFailed(c, userID, err.Error())
		return fmt.Errorf("%w: ban lookup: %w", ErrLoginFailure, err)
	}

	p := newPlayer(acct, c.conn, now)
	if !c.player.CompareAndSwap(nil, p) {
		return fmt.Errorf("%w: already authenticated", dispatch.ErrPreconditionViolation)
	}
	w.Submit(func(w *World) { w.register(p) })
	return nil
}

func (w *World) loginFailed(c *Client, userID int64, reason string) {
	w.emit(events.EventLoginFailed, events.LoginFailedPayload{
		UserID: userID, Remote: c.conn.RemoteAddr().String(), Reason: reason,
	})
}

func handleKeepAlive(c *Client, _ *protocol.Packet) error {
	c.lastPong.Store(time.Now().UnixNano())
	return nil
}

// handleMove runs on the tick of the map holding the player.
func handleMove(c *Client, pkt *protocol.Packet) error {
	p := c.player.Load()
	m := p.Shard()
	if m == nil {
		return ErrPlayerGone
	}
	x, err := pkt.Int()
	if err != nil {
		return err
	}
	y, err := pkt.Int()
	if err != nil {
		return err
	}
	return m.move(p, int(x), int(y))
}

func handleJump(c *Client, pkt *protocol.Packet) error {
	p, err := c.live()
	if err != nil {
		return err
	}
	id, err := pkt.Int()
	if err != nil {
		return err
	}
	w := c.world
	to, ok := w.maps[int(id)]
	if !ok {
		p.Notice("Unknown map")
		return fmt.Errorf("%w: %d", ErrUnknownMap, id)
	}
	return w.transfer(p, to.ID, to.Width/2, to.Height/2)
}

func handleLogout(c *Client, _ *protocol.Packet) error {
	p, err := c.live()
	if err != nil {
		return err
	}
	p.conn.Close()
	c.world.destroyPlayer(p, "logout")
	return nil
}

func handleWebKick(c *Client, pkt *protocol.Packet) error {
	id, err := pkt.Int()
	if err != nil {
		return err
	}
	w := c.world
	if err := w.Kick(id, "You have been kicked"); err != nil {
		return err
	}
	w.emit(events.EventUserKicked, events.ModerationPayload{IssuerName: "web", TargetID: id})
	return nil
}

func handleWebNotice(c *Client, pkt *protocol.Packet) error {
	text, err := pkt.Rest()
	if err != nil {
		return err
	}
	n := c.world.Broadcast(text)
	c.world.logger.Info().Int("recipients", n).Msg("web notice broadcast")
	return nil
}
