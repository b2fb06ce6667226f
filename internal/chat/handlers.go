package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/protocol"
)

// NewRegistry builds the sealed chat opcode table.
func NewRegistry() *dispatch.Registry[*Client] {
	reg := dispatch.NewRegistry[*Client]("chat")
	reg.Register(protocol.ChatLogin, "login", dispatch.RequiresUnauthenticated, dispatch.Immediate, handleLogin)
	reg.Register(protocol.ChatPong, "pong", dispatch.RequiresAuthenticated, dispatch.Immediate, handlePong)
	reg.Register(protocol.ChatMessage, "message", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleMessage)
	reg.Register(protocol.ChatJoinRoom, "join_room", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleJoinRoom)
	reg.Register(protocol.ChatLeaveRoom, "leave_room", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleLeaveRoom)
	reg.Register(protocol.ChatSwitchRoom, "switch_room", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleSwitchRoom)
	reg.Register(protocol.ChatCreatePrivate, "create_private", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleCreatePrivate)
	reg.Register(protocol.ChatInvite, "invite", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleInvite)
	reg.Register(protocol.ChatIgnore, "ignore", dispatch.RequiresAuthenticated, dispatch.EntityTick, handleIgnore)
	reg.Register(protocol.ChatUnignore, "unignore", dispatch.RequiresAuthenticated, dispatch.EntityTick, handleUnignore)
	reg.Register(protocol.ChatWhisper, "whisper", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleWhisper)
	reg.Register(protocol.ChatRoomList, "room_list", dispatch.RequiresAuthenticated, dispatch.GlobalTick, handleRoomList)
	reg.Seal()
	return reg
}

// handleLogin runs on the network goroutine: it loads the account, checks
// bans, binds the session to the client and submits its registration to
// the tick.
func handleLogin(c *Client, pkt *protocol.Packet) error {
	m := c.manager
	userID, err := pkt.Int()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}
	token, err := pkt.String()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}

	ctx, cancel := m.storeContext()
	defer cancel()

	acct, err := m.store.LoadSession(ctx, userID, token)
	if err != nil {
		m.loginFailed(c, userID, err.Error())
		return fmt.Errorf("%w: user %d: %w", ErrLoginFailure, userID, err)
	}

	now := m.now()
	ban, err := m.store.ActiveBan(ctx, userID, now)
	switch {
	case err == nil:
		c.conn.Send(systemMessage(fmt.Sprintf("You are banned until %s", ban.ExpiresAt.Format(time.RFC1123))))
		m.loginFailed(c, userID, "banned")
		return fmt.Errorf("%w: user %d is banned", ErrLoginFailure, userID)
	case !errors.Is(err, db.ErrNotFound):
		m.loginFailed(c, userID, err.Error())
		return fmt.Errorf("%w: ban lookup: %w", ErrLoginFailure, err)
	}

	s := newSession(acct, c.conn, m.opts, now)
	if !c.session.CompareAndSwap(nil, s) {
		return fmt.Errorf("%w: already authenticated", dispatch.ErrPreconditionViolation)
	}
	m.Submit(func(m *Manager) { m.register(s) })
	return nil
}

func (m *Manager) loginFailed(c *Client, userID int64, reason string) {
	m.emit(events.EventLoginFailed, events.LoginFailedPayload{
		UserID: userID, Remote: c.conn.RemoteAddr().String(), Reason: reason,
	})
}

func handlePong(c *Client, _ *protocol.Packet) error {
	c.lastPong.Store(time.Now().UnixNano())
	return nil
}

func handleMessage(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	roomID, err := pkt.Int()
	if err != nil {
		return err
	}
	text, err := pkt.Rest()
	if err != nil {
		return err
	}
	m := c.manager
	text = clip(strings.TrimSpace(text), m.opts.MaxMessageLength)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, m.opts.CommandPrefix) {
		return m.execCommand(s, text)
	}

	r, ok := s.rooms[roomID]
	if !ok {
		return reply("You are not in this room")
	}
	if !s.limiter.AllowN(m.now(), 1) {
		return reply("You are sending messages too fast")
	}
	r.Broadcast(s, text)
	return nil
}

func handleJoinRoom(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	roomID, err := pkt.Int()
	if err != nil {
		return err
	}
	m := c.manager
	r, ok := m.rooms[roomID]
	if !ok {
		return &ReplyError{Text: "Room not found", Err: ErrRoomNotFound}
	}
	if err := m.canJoin(s, r); err != nil {
		return err
	}
	m.join(s, r)
	return nil
}

func handleLeaveRoom(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	roomID, err := pkt.Int()
	if err != nil {
		return err
	}
	r, ok := s.rooms[roomID]
	if !ok {
		return reply("You are not in this room")
	}
	c.manager.leave(s, r, true)
	return nil
}

func handleSwitchRoom(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	roomID, err := pkt.Int()
	if err != nil {
		return err
	}
	if !s.InRoom(roomID) {
		return reply("You are not in this room")
	}
	s.currentRoom = roomID
	return nil
}

func handleCreatePrivate(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	name, err := pkt.Rest()
	if err != nil {
		return err
	}
	m := c.manager
	name = clip(strings.TrimSpace(name), m.opts.MaxRoomName)
	if name == "" {
		return reply("Room name required")
	}
	if _, err := m.CreatePrivateRoom(s, name); err != nil {
		return &ReplyError{Text: "No room available, try again later", Err: err}
	}
	return nil
}

func handleInvite(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	roomID, err := pkt.Int()
	if err != nil {
		return err
	}
	name, err := pkt.String()
	if err != nil {
		return err
	}
	m := c.manager
	r, ok := s.rooms[roomID]
	if !ok || r.Type != RoomPrivate {
		return &ReplyError{Text: "Room not found", Err: ErrRoomNotFound}
	}
	if r.OwnerID != s.ID {
		return denied()
	}
	target := m.FindSessionByName(name)
	if target == nil || !target.Alive() {
		return reply("User is not online")
	}
	if target.Ignores(s.ID) {
		return reply("User is not accepting invitations")
	}
	m.join(target, r)
	return nil
}

func handleIgnore(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	peer, err := pkt.Int()
	if err != nil {
		return err
	}
	s.Ignore(peer)
	return nil
}

func handleUnignore(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	peer, err := pkt.Int()
	if err != nil {
		return err
	}
	s.Unignore(peer)
	return nil
}

func handleWhisper(c *Client, pkt *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	name, err := pkt.String()
	if err != nil {
		return err
	}
	text, err := pkt.Rest()
	if err != nil {
		return err
	}
	m := c.manager
	text = clip(strings.TrimSpace(text), m.opts.MaxMessageLength)
	if text == "" {
		return nil
	}

	target := m.FindSessionByName(name)
	if target == nil || !target.Alive() {
		return reply("User is not online")
	}
	if !s.limiter.AllowN(m.now(), 1) {
		return reply("You are sending messages too fast")
	}
	if !target.Ignores(s.ID) {
		target.Send(whisper(s, text))
	}
	return nil
}

func handleRoomList(c *Client, _ *protocol.Packet) error {
	s, err := c.live()
	if err != nil {
		return err
	}
	s.Send(roomList(c.manager.visibleRooms(s)))
	return nil
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
