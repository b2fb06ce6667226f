package game

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/dispatch"
)

// ErrOutOfBounds is returned for coordinates outside a map.
var ErrOutOfBounds = errors.New("position out of bounds")

// MapConfig describes one map shard.
type MapConfig struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Map is one simulation shard with its own tick. Its player table and
// the coordinates of the players in it are touched only by that tick.
type Map struct {
	MapConfig

	logger  zerolog.Logger
	players map[int64]*Player
	ticks   uint64

	mu      sync.Mutex
	pending []func(*Map)
	count   int
}

func newMap(cfg MapConfig) *Map {
	return &Map{
		MapConfig: cfg,
		logger:    log.With().Str("component", "map").Int("map_id", cfg.ID).Logger(),
		players:   make(map[int64]*Player),
	}
}

// Submit hands fn to the map's next tick.
func (m *Map) Submit(fn func(*Map)) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Players returns the player count as of the last tick.
func (m *Map) Players() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Contains reports whether (x, y) lies on the map.
func (m *Map) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// Tick runs submissions, releases players that disconnected or were
// assigned elsewhere, then runs the entity-tick packets of the rest.
func (m *Map) Tick(time.Duration) {
	m.ticks++
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range batch {
		m.safely(fn)
	}

	ids := make([]int64, 0, len(m.players))
	for id := range m.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		p, ok := m.players[id]
		if !ok {
			continue
		}
		if !p.Alive() || p.MapID() != m.ID {
			m.leave(p)
			continue
		}
		if p.Shard() != m {
			continue
		}
		p.entity.Drain(func(j dispatch.Job) {
			if p.Shard() != m {
				return
			}
			if err := j.Run(); err != nil {
				p.logger.Debug().Err(err).Str("handler", j.Name).Msg("entity packet failed")
			}
		})
	}

	m.mu.Lock()
	m.count = len(m.players)
	m.mu.Unlock()
}

func (m *Map) safely(fn func(*Map)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("map task panicked")
		}
	}()
	fn(m)
}

// admit takes p in at (x, y) if the world still assigns it here. While
// another map holds the player the admission is retried on the next
// tick; a player already here is respawned at the new position.
func (m *Map) admit(p *Player, x, y int) {
	if !p.Alive() || p.MapID() != m.ID {
		return
	}
	switch cur := p.Shard(); {
	case cur == m:
		m.leave(p)
	case cur != nil:
		m.Submit(func(m *Map) { m.admit(p, x, y) })
		return
	}
	m.enter(p, x, y)
}

// enter takes p in at (x, y), tells the others and shows p who is here.
func (m *Map) enter(p *Player, x, y int) {
	if !p.Alive() {
		return
	}
	if !m.Contains(x, y) {
		x, y = m.Width/2, m.Height/2
	}
	p.setXY(x, y)
	m.players[p.ID] = p
	p.shard.Store(m)

	m.broadcast(movement(p.ID, x, y), p.ID)
	for id, other := range m.players {
		if id == p.ID {
			continue
		}
		pos := other.Position()
		p.Send(movement(id, pos.X, pos.Y))
	}
	p.logger.Debug().Int("map_id", m.ID).Int("x", x).Int("y", y).Msg("entered map")
}

// leave drops p and tells the others.
func (m *Map) leave(p *Player) {
	if cur, ok := m.players[p.ID]; !ok || cur != p {
		return
	}
	delete(m.players, p.ID)
	p.shard.CompareAndSwap(m, nil)
	m.broadcast(despawn(p.ID), 0)
}

// move relocates p within the map.
func (m *Map) move(p *Player, x, y int) error {
	if !m.Contains(x, y) {
		return ErrOutOfBounds
	}
	p.setXY(x, y)
	m.broadcast(movement(p.ID, x, y), p.ID)
	return nil
}

func (m *Map) broadcast(frame []byte, except int64) {
	for id, p := range m.players {
		if id != except {
			p.Send(frame)
		}
	}
}
