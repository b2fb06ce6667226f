package chat

import (
	"net"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
)

// Conn is the transport a session writes to. *network.Connection
// satisfies it.
type Conn interface {
	Send(frame []byte) error
	Close() error
	IsClosed() bool
	RemoteAddr() net.Addr
}

// Session is an authenticated chat user. Every field below the identity
// block is owned by the manager's tick.
type Session struct {
	ID       int64
	Name     string
	Level    Level
	Faction  int
	ClanID   int64
	ClanName string

	conn        Conn
	connectedAt time.Time
	logger      zerolog.Logger

	// Filled by the connection goroutine, drained by the tick.
	global *dispatch.Queue
	entity *dispatch.Queue

	rooms       map[int64]*Room
	currentRoom int64
	ignores     map[int64]struct{}
	sincePing   time.Duration
	limiter     *rate.Limiter
}

func newSession(a *db.Account, conn Conn, opts Options, now time.Time) *Session {
	return &Session{
		ID:          a.ID,
		Name:        a.Name,
		Level:       LevelFromInt(a.Level),
		Faction:     a.Faction,
		ClanID:      a.ClanID,
		ClanName:    a.ClanName,
		conn:        conn,
		connectedAt: now,
		logger: log.With().
			Str("component", "chat").
			Int64("session_id", a.ID).
			Str("name", a.Name).
			Logger(),
		global:  dispatch.NewQueue(),
		entity:  dispatch.NewQueue(),
		rooms:   make(map[int64]*Room),
		ignores: make(map[int64]struct{}),
		limiter: rate.NewLimiter(rate.Limit(opts.MessageRate), opts.MessageBurst),
	}
}

// Alive reports whether the underlying connection is still open.
func (s *Session) Alive() bool {
	return !s.conn.IsClosed()
}

// Send writes a frame to the session's connection.
func (s *Session) Send(frame []byte) {
	if err := s.conn.Send(frame); err != nil {
		s.logger.Debug().Err(err).Msg("send failed")
	}
}

// SystemMessage sends a private system message.
func (s *Session) SystemMessage(text string) {
	s.Send(systemMessage(text))
}

// InRoom reports whether the session belongs to room id.
func (s *Session) InRoom(id int64) bool {
	_, ok := s.rooms[id]
	return ok
}

// Rooms returns the ids of the rooms the session belongs to, ascending.
func (s *Session) Rooms() []int64 {
	ids := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// CurrentRoom resolves the current-room id through the membership map.
// It returns nil when the session has no current room or has left it.
func (s *Session) CurrentRoom() *Room {
	if s.currentRoom == 0 {
		return nil
	}
	return s.rooms[s.currentRoom]
}

// Ignores reports whether messages from peer are suppressed.
func (s *Session) Ignores(peer int64) bool {
	_, ok := s.ignores[peer]
	return ok
}

// Ignore adds peer to the ignore list. Ignoring oneself is a no-op.
func (s *Session) Ignore(peer int64) {
	if peer != s.ID {
		s.ignores[peer] = struct{}{}
	}
}

// Unignore removes peer from the ignore list.
func (s *Session) Unignore(peer int64) {
	delete(s.ignores, peer)
}

// Remote returns the peer address.
func (s *Session) Remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// closeQueues rejects further packets and discards queued ones.
func (s *Session) closeQueues() int {
	return s.global.Close() + s.entity.Close()
}

// reassignCurrentRoom moves the current-room pointer to the lowest room
// id still joined, or clears it.
func (s *Session) reassignCurrentRoom() {
	if s.CurrentRoom() != nil {
		return
	}
	s.currentRoom = 0
	if ids := s.Rooms(); len(ids) > 0 {
		s.currentRoom = ids[0]
	}
}
