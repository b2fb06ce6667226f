// Package game implements the game-world socket: the per-connection
// state machine with its LOGIN and web side-channel framing quirks, the
// global world tick, and the map shards that each run their own tick.
package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hangar-project/hangar/internal/db"
	"github.com/hangar-project/hangar/internal/dispatch"
	"github.com/hangar-project/hangar/internal/events"
	"github.com/hangar-project/hangar/internal/network"
)

var (
	// ErrLoginFailure closes the connection that sent the login.
	ErrLoginFailure = fmt.Errorf("game %w", network.ErrLoginFailure)

	ErrUnknownMap    = errors.New("unknown map")
	ErrPlayerGone    = errors.New("player no longer registered")
	ErrPlayerOffline = errors.New("player offline")
)

// Store is the persistence the world needs.
type Store interface {
	LoadSession(ctx context.Context, userID int64, token string) (*db.Account, error)
	ActiveBan(ctx context.Context, userID int64, now time.Time) (*db.Ban, error)
	Account(ctx context.Context, id int64) (*db.Account, error)
	SavePosition(ctx context.Context, userID int64, mapID, x, y int) error
	PendingCommands(ctx context.Context, limit int) ([]db.PendingCommand, error)
	MarkCommandApplied(ctx context.Context, id string, at time.Time) error
}

// Options configures the world.
type Options struct {
	Maps         []MapConfig
	PingInterval time.Duration
	StoreTimeout time.Duration

	// WebSecret, when non-empty, enables the web side-channel: frames
	// starting with it are trusted.
	WebSecret string

	CommandPollInterval time.Duration
	CommandBatch        int
}

// DefaultOptions returns three maps and a disabled side-channel.
func DefaultOptions() Options {
	return Options{
		Maps: []MapConfig{
			{ID: 1, Name: "Hangar", Width: 1000, Height: 1000},
			{ID: 2, Name: "Mine", Width: 2000, Height: 2000},
			{ID: 3, Name: "Outpost", Width: 1500, Height: 1500},
		},
		PingInterval:        30 * time.Second,
		StoreTimeout:        5 * time.Second,
		CommandPollInterval: 2 * time.Second,
		CommandBatch:        50,
	}
}

// PlayerInfo is a read-only view of one player.
type PlayerInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Remote      string    `json:"remote"`
	Position    Position  `json:"position"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshot is the world state published after every global tick.
type Snapshot struct {
	Taken   time.Time    `json:"taken"`
	Tick    uint64       `json:"tick"`
	Players []PlayerInfo `json:"players"`
	Maps    map[int]int  `json:"maps"`
}

// World owns the player table and runs the global tick.
type World struct {
	opts    Options
	store   Store
	emitter events.Emitter
	router  *dispatch.Router[*Client]
	logger  zerolog.Logger
	now     func() time.Time

	maps     map[int]*Map
	mapOrder []*Map
	players  map[int64]*Player
	ticks    uint64

	mu      sync.Mutex
	pending []func(*World)

	snapshot atomic.Pointer[Snapshot]
}

// NewWorld builds the world, its maps and the sealed opcode registry.
func NewWorld(opts Options, store Store, emitter events.Emitter, obs dispatch.Observer) (*World, error) {
	if len(opts.Maps) == 0 {
		return nil, errors.New("world needs at least one map")
	}
	w := &World{
		opts:    opts,
		store:   store,
		emitter: emitter,
		logger:  log.With().Str("component", "world").Logger(),
		now:     time.Now,
		maps:    make(map[int]*Map, len(opts.Maps)),
		players: make(map[int64]*Player),
	}
	for _, cfg := range opts.Maps {
		if _, dup := w.maps[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate map id %d", cfg.ID)
		}
		m := newMap(cfg)
		w.maps[cfg.ID] = m
		w.mapOrder = append(w.mapOrder, m)
	}
	w.router = dispatch.NewRouter(NewRegistry(), obs)
	w.publishSnapshot()
	return w, nil
}

// Router returns the game packet router.
func (w *World) Router() *dispatch.Router[*Client] {
	return w.router
}

// Maps returns the shards in configuration order. Each needs its own
// tick loop.
func (w *World) Maps() []*Map {
	return w.mapOrder
}

// Map returns a shard by id, or nil.
func (w *World) Map(id int) *Map {
	return w.maps[id]
}

// Submit hands fn to the next global tick.
func (w *World) Submit(fn func(*World)) {
	w.mu.Lock()
	w.pending = append(w.pending, fn)
	w.mu.Unlock()
}

// Call runs fn on the next global tick and waits for its result. If ctx
// ends first fn may still run later.
func (w *World) Call(ctx context.Context, fn func(*World) error) error {
	done := make(chan error, 1)
	w.Submit(func(w *World) { done <- fn(w) })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one global tick: submissions, the closed-player sweep,
// global-tick packets and keepalive pings.
func (w *World) Tick(elapsed time.Duration) {
	w.ticks++

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, fn := range batch {
		w.safely(fn)
	}

	for _, id := range w.playerIDs() {
		if p := w.players[id]; !p.Alive() {
			w.destroyPlayer(p, "disconnected")
		}
	}

	for _, id := range w.playerIDs() {
		p, ok := w.players[id]
		if !ok || !p.Alive() {
			continue
		}
		p.global.Drain(func(j dispatch.Job) {
			if w.players[p.ID] != p {
				return
			}
			w.runJob(p, j)
		})
	}

	if w.opts.PingInterval > 0 {
		frame := ping()
		for _, p := range w.players {
			p.sincePing += elapsed
			if p.sincePing >= w.opts.PingInterval {
				p.Send(frame)
				p.sincePing = 0
			}
		}
	}

	w.publishSnapshot()
}

func (w *World) safely(fn func(*World)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("world task panicked")
		}
	}()
	fn(w)
}

func (w *World) runJob(p *Player, j dispatch.Job) {
	if err := j.Run(); err != nil {
		logger := w.logger
		if p != nil {
			logger = p.logger
		}
		logger.Warn().Err(err).Str("handler", j.Name).Msg("packet handler failed")
	}
}

// register adds a logged-in player and hands it to its map.
func (w *World) register(p *Player) {
	if old, ok := w.players[p.ID]; ok {
		old.Notice("You logged in from another location")
		old.conn.Close()
		w.destroyPlayer(old, "duplicate login")
	}

	m, ok := w.maps[p.MapID()]
	if !ok {
		m = w.mapOrder[0]
		p.mapID.Store(int64(m.ID))
	}
	w.players[p.ID] = p
	pos := p.Position()
	m.Submit(func(m *Map) { m.admit(p, pos.X, pos.Y) })
	p.Send(loginAccepted(p))

	p.logger.Info().Int("map_id", m.ID).Str("remote", p.Remote()).Msg("player registered")
	w.emit(events.EventPlayerEntered, events.PlayerPayload{UserID: p.ID, Name: p.Name, MapID: m.ID})
}

// destroyPlayer removes p from its map and the table and persists its
// last position.
func (w *World) destroyPlayer(p *Player, reason string) {
	if m := p.Shard(); m != nil {
		m.Submit(func(m *Map) { m.leave(p) })
	}
	dropped := p.closeQueues()
	if w.players[p.ID] == p {
		delete(w.players, p.ID)
	}
	w.persist(p)

	p.logger.Info().Str("reason", reason).Int("dropped_packets", dropped).Msg("player destroyed")
	w.emit(events.EventPlayerLeft, events.PlayerPayload{UserID: p.ID, Name: p.Name, MapID: p.MapID()})
}

func (w *World) persist(p *Player) {
	pos := p.Position()
	go func() {
		ctx, cancel := w.storeContext()
		defer cancel()
		if err := w.store.SavePosition(ctx, p.ID, pos.MapID, pos.X, pos.Y); err != nil {
			p.logger.Warn().Err(err).Msg("failed to persist position")
		}
	}()
}

// transfer assigns p to map id at (x, y). The target map admits the
// player once the map that held it has let go; a later transfer
// supersedes one still in flight.
func (w *World) transfer(p *Player, id, x, y int) error {
	to, ok := w.maps[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMap, id)
	}
	p.mapID.Store(int64(id))
	p.Send(mapChanged(id, x, y))
	to.Submit(func(m *Map) { m.admit(p, x, y) })
	return nil
}

// Player returns a registered player, or nil.
func (w *World) Player(id int64) *Player {
	return w.players[id]
}

// PlayerCount returns the number of registered players.
func (w *World) PlayerCount() int {
	return len(w.players)
}

// Broadcast sends a notice to every connected player.
func (w *World) Broadcast(text string) int {
	frame := notice(text)
	n := 0
	for _, p := range w.players {
		if p.Alive() {
			p.Send(frame)
			n++
		}
	}
	return n
}

// Kick disconnects a player; the next sweep destroys it.
func (w *World) Kick(id int64, reason string) error {
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("player %d: %w", id, ErrPlayerOffline)
	}
	p.Notice(reason)
	p.conn.Close()
	return nil
}

// Snapshot returns the most recently published state.
func (w *World) Snapshot() *Snapshot {
	return w.snapshot.Load()
}

func (w *World) publishSnapshot() {
	snap := &Snapshot{
		Taken:   w.now(),
		Tick:    w.ticks,
		Players: make([]PlayerInfo, 0, len(w.players)),
		Maps:    make(map[int]int, len(w.maps)),
	}
	for _, id := range w.playerIDs() {
		p := w.players[id]
		snap.Players = append(snap.Players, PlayerInfo{
			ID:          p.ID,
			Name:        p.Name,
			Remote:      p.Remote(),
			Position:    p.Position(),
			ConnectedAt: p.connectedAt,
		})
		snap.Maps[p.MapID()]++
	}
	w.snapshot.Store(snap)
}

func (w *World) playerIDs() []int64 {
	ids := make([]int64, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (w *World) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.opts.StoreTimeout)
}

func (w *World) emit(t events.EventType, payload any) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(context.Background(), events.Event{Type: t, Source: "game", Payload: payload})
}
