package game

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
)

// Conn is the transport a player writes to. *network.Connection
// satisfies it.
type Conn interface {
	Send(frame []byte) error
	Close() error
	IsClosed() bool
	RemoteAddr() net.Addr
}

// Position is a point on a map.
type Position struct {
	MapID int `json:"map_id"`
	X     int `json:"x"`
	Y     int `json:"y"`
}

// Player is an authenticated game-world session. The world tick owns its
// registration and map assignment; the map tick that currently holds the
// player owns its coordinates.
type Player struct {
	ID    int64
	Name  string
	Level int

	conn        Conn
	connectedAt time.Time
	logger      zerolog.Logger

	global *dispatch.Queue
	entity *dispatch.Queue

	// mapID is the map the world assigned; shard is the map that has
	// actually taken the player in. They differ while a transfer is in
	// flight.
	mapID atomic.Int64
	shard atomic.Pointer[Map]

	mu   sync.Mutex
	x, y int

	sincePing time.Duration
}

func newPlayer(a *db.Account, conn Conn, now time.Time) *Player {
	p := &Player{
		ID:          a.ID,
		Name:        a.Name,
		Level:       a.Level,
		conn:        conn,
		connectedAt: now,
		logger: log.With().
			Str("component", "game").
			Int64("player_id", a.ID).
			Str("name", a.Name).
			Logger(),
		global: dispatch.NewQueue(),
		entity: dispatch.NewQueue(),
		x:      a.X,
		y:      a.Y,
	}
	p.mapID.Store(int64(a.MapID))
	return p
}

// Alive reports whether the connection is still open.
func (p *Player) Alive() bool {
	return !p.conn.IsClosed()
}

// Send writes a frame to the player's connection.
func (p *Player) Send(frame []byte) {
	if err := p.conn.Send(frame); err != nil {
		p.logger.Debug().Err(err).Msg("send failed")
	}
}

// Notice sends a private text notice.
func (p *Player) Notice(text string) {
	p.Send(notice(text))
}

// MapID returns the map the player is assigned to.
func (p *Player) MapID() int {
	return int(p.mapID.Load())
}

// Shard returns the map currently holding the player, or nil while the
// player is between maps.
func (p *Player) Shard() *Map {
	return p.shard.Load()
}

// Position returns a consistent copy of the player's location.
func (p *Player) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Position{MapID: p.MapID(), X: p.x, Y: p.y}
}

func (p *Player) setXY(x, y int) {
	p.mu.Lock()
	p.x, p.y = x, y
	p.mu.Unlock()
}

// Remote returns the peer address.
func (p *Player) Remote() string {
	if addr := p.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (p *Player) closeQueues() int {
	return p.global.Close() + p.entity.Close()
}
