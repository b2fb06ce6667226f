// Package chat implements the chat socket: the session and room lifecycle
// manager, the chat protocol handlers, and slash commands.
//
// The session and room tables are mutated only from Manager.Tick. Network
// goroutines reach them through the per-session queues filled by the
// dispatch router, or through Submit.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
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
	ErrLoginFailure = fmt.Errorf("chat %w", network.ErrLoginFailure)

	// ErrPermissionDenied is reported to the sender of a gated command.
	ErrPermissionDenied = errors.New("permission denied")

	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomIDsExhausted = errors.New("room id range exhausted")
	ErrSessionGone      = errors.New("session no longer registered")
)

// ReplyError is a failure reported to the originating session only, as a
// private system message.
type ReplyError struct {
	Text string
	Err  error
}

func (e *ReplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Text, e.Err)
	}
	return e.Text
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

func reply(text string) error {
	return &ReplyError{Text: text}
}

func denied() error {
	return &ReplyError{Text: "Permission denied", Err: ErrPermissionDenied}
}

// Store is the persistence the chat side consumes. *db.Store satisfies it.
type Store interface {
	LoadSession(ctx context.Context, userID int64, token string) (*db.Account, error)
	FindAccountByName(ctx context.Context, name string) (*db.Account, error)
	ActiveBan(ctx context.Context, userID int64, now time.Time) (*db.Ban, error)
	InsertBan(ctx context.Context, b db.Ban) (int64, error)
	DeleteBans(ctx context.Context, userID int64) (int64, error)
	InsertPendingCommand(ctx context.Context, verb string, userID, issuerID int64, payload any) (string, error)
}

// StandingRoom describes a room created at startup.
type StandingRoom struct {
	ID       int64
	Name     string
	Tab      int
	Type     RoomType
	Faction  int
	AutoJoin bool
}

// Options configures the manager.
type Options struct {
	StandingRooms []StandingRoom
	// Ad-hoc room ids are drawn from [AdhocRoomBase, AdhocRoomBase+AdhocRoomRange).
	AdhocRoomBase    int64
	AdhocRoomRange   int64
	PingInterval     time.Duration
	MessageRate      float64
	MessageBurst     int
	MaxMessageLength int
	MaxRoomName      int
	CommandPrefix    string
	StoreTimeout     time.Duration
}

// DefaultOptions returns the standard room layout: a global room, one room
// per faction and the clan-search room.
func DefaultOptions() Options {
	return Options{
		StandingRooms: []StandingRoom{
			{ID: 1, Name: "Global", Tab: 0, Type: RoomNormal, AutoJoin: true},
			{ID: 2, Name: "Faction 1", Tab: 1, Type: RoomFaction, Faction: 1, AutoJoin: true},
			{ID: 3, Name: "Faction 2", Tab: 1, Type: RoomFaction, Faction: 2, AutoJoin: true},
			{ID: 4, Name: "Faction 3", Tab: 1, Type: RoomFaction, Faction: 3, AutoJoin: true},
			{ID: 5, Name: "Clan Search", Tab: 2, Type: RoomNormal},
		},
		AdhocRoomBase:    1000,
		AdhocRoomRange:   10000,
		PingInterval:     30 * time.Second,
		MessageRate:      2,
		MessageBurst:     5,
		MaxMessageLength: 256,
		MaxRoomName:      32,
		CommandPrefix:    "/",
		StoreTimeout:     5 * time.Second,
	}
}

// Manager owns every chat session and room.
type Manager struct {
	opts     Options
	store    Store
	emitter  events.Emitter
	router   *dispatch.Router[*Client]
	commands map[string]*Command
	logger   zerolog.Logger
	now      func() time.Time
	rng      *rand.Rand

	sessions  map[int64]*Session
	rooms     map[int64]*Room
	adhocLive int64
	ticks     uint64

	mu      sync.Mutex
	pending []func(*Manager)

	snapshot atomic.Pointer[Snapshot]
}

// NewManager builds a manager and its sealed opcode registry. emitter and
// obs may be nil.
func NewManager(opts Options, store Store, emitter events.Emitter, obs dispatch.Observer) *Manager {
	m := &Manager{
		opts:     opts,
		store:    store,
		emitter:  emitter,
		commands: defaultCommands(),
		logger:   log.With().Str("component", "chat_manager").Logger(),
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		sessions: make(map[int64]*Session),
		rooms:    make(map[int64]*Room),
	}
	m.router = dispatch.NewRouter(NewRegistry(), obs)
	m.publishSnapshot()
	return m
}

// Router returns the chat packet router.
func (m *Manager) Router() *dispatch.Router[*Client] {
	return m.router
}

// Submit hands fn to the next tick. It is the only way for goroutines
// other than the tick to touch the tables.
func (m *Manager) Submit(fn func(*Manager)) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Call runs fn on the next tick and waits for its result. If ctx ends
// first fn may still run later.
func (m *Manager) Call(ctx context.Context, fn func(*Manager) error) error {
	done := make(chan error, 1)
	m.Submit(func(m *Manager) { done <- fn(m) })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one global tick: queued submissions, the closed-session sweep,
// global-tick packets, keepalive pings, the room sweep, and finally each
// room's update, which runs the entity-tick packets of the sessions whose
// current room it is.
func (m *Manager) Tick(elapsed time.Duration) {
	m.ticks++
	m.runSubmissions()
	m.sweepSessions()
	m.drainGlobal()
	m.sendPings(elapsed)
	m.sweepRooms()
	m.updateRooms()
	m.publishSnapshot()
}

func (m *Manager) runSubmissions() {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range batch {
		m.safely("submission", fn)
	}
}

func (m *Manager) safely(what string, fn func(*Manager)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("task", what).Interface("panic", r).Msg("tick task panicked")
		}
	}()
	fn(m)
}

func (m *Manager) sweepSessions() {
	for _, id := range m.sessionIDs() {
		s := m.sessions[id]
		if !s.Alive() {
			m.destroySession(s, "disconnected")
		}
	}
}

func (m *Manager) drainGlobal() {
	for _, id := range m.sessionIDs() {
		s, ok := m.sessions[id]
		if !ok || !s.Alive() {
			continue
		}
		s.global.Drain(func(j dispatch.Job) { m.runJob(s, j) })
	}
}

func (m *Manager) sendPings(elapsed time.Duration) {
	if m.opts.PingInterval <= 0 {
		return
	}
	frame := ping()
	for _, s := range m.sessions {
		s.sincePing += elapsed
		if s.sincePing >= m.opts.PingInterval {
			s.Send(frame)
			s.sincePing = 0
		}
	}
}

func (m *Manager) sweepRooms() {
	for id, r := range m.rooms {
		emptyPrivate := r.Type == RoomPrivate && r.Members() == 0
		if !emptyPrivate && !r.scheduled {
			continue
		}
		for _, s := range r.members {
			r.remove(s)
		}
		delete(m.rooms, id)
		if m.isAdhocID(id) {
			m.adhocLive--
		}
		m.logger.Debug().Int64("room_id", id).Str("type", r.Type.String()).Msg("room deleted")
		m.emit(events.EventRoomClosed, events.RoomPayload{
			RoomID: id, Name: r.Name, Type: r.Type.String(), OwnerID: r.OwnerID,
		})
	}
}

func (m *Manager) updateRooms() {
	for _, id := range m.roomIDs() {
		if r, ok := m.rooms[id]; ok {
			m.updateRoom(r)
		}
	}

	// A session outside every room has no room tick; its entity-tick
	// packets run here instead.
	for _, id := range m.sessionIDs() {
		s := m.sessions[id]
		if s.CurrentRoom() != nil || !s.Alive() {
			continue
		}
		s.entity.Drain(func(j dispatch.Job) {
			if m.sessions[s.ID] != s {
				return
			}
			m.runJob(s, j)
		})
	}
}

// updateRoom is the room's own per-tick hook.
func (m *Manager) updateRoom(r *Room) {
	for _, id := range r.MemberIDs() {
		s, ok := r.members[id]
		if !ok || s.currentRoom != r.ID || !s.Alive() {
			continue
		}
		s.entity.Drain(func(j dispatch.Job) {
			if m.sessions[s.ID] != s {
				return
			}
			m.runJob(s, j)
		})
	}
}

func (m *Manager) runJob(s *Session, j dispatch.Job) {
	err := j.Run()
	if err == nil {
		return
	}
	var re *ReplyError
	if errors.As(err, &re) {
		s.SystemMessage(re.Text)
		s.logger.Debug().Err(err).Str("handler", j.Name).Msg("request refused")
		return
	}
	s.logger.Warn().Err(err).Str("handler", j.Name).Msg("packet handler failed")
}

// register adds a freshly logged-in session. A session already registered
// under the same id is disconnected and destroyed first.
func (m *Manager) register(s *Session) {
	if old, ok := m.sessions[s.ID]; ok {
		old.SystemMessage("You logged in from another location")
		old.conn.Close()
		m.destroySession(old, "duplicate login")
	}

	m.sessions[s.ID] = s
	s.Send(loginAccepted(s))

	for _, sr := range m.opts.StandingRooms {
		r, ok := m.rooms[sr.ID]
		if !ok || !sr.AutoJoin || m.canJoin(s, r) != nil {
			continue
		}
		m.join(s, r)
	}
	if s.ClanID != 0 {
		if err := m.joinClanRoom(s); err != nil {
			s.logger.Warn().Err(err).Msg("clan room unavailable")
		}
	}
	if len(m.opts.StandingRooms) > 0 && s.InRoom(m.opts.StandingRooms[0].ID) {
		s.currentRoom = m.opts.StandingRooms[0].ID
	}

	s.logger.Info().Str("level", s.Level.String()).Str("remote", s.Remote()).Msg("chat session registered")
	m.emit(events.EventSessionJoined, events.SessionPayload{
		UserID: s.ID, Name: s.Name, Level: s.Level.String(), Remote: s.Remote(),
	})
}

// destroySession leaves every room, closes the queues and drops the
// session from the table.
func (m *Manager) destroySession(s *Session, reason string) {
	for _, id := range s.Rooms() {
		if r, ok := s.rooms[id]; ok {
			m.leave(s, r, false)
		}
	}
	dropped := s.closeQueues()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}

	s.logger.Info().Str("reason", reason).Int("dropped_packets", dropped).Msg("chat session destroyed")
	m.emit(events.EventSessionLeft, events.SessionPayload{
		UserID: s.ID, Name: s.Name, Reason: reason,
	})
}

// Session returns a live session by id, or nil.
func (m *Manager) Session(id int64) *Session {
	return m.sessions[id]
}

// FindSessionByName returns the session with the given display name
// (case-insensitive), or nil.
func (m *Manager) FindSessionByName(name string) *Session {
	for _, s := range m.sessions {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return nil
}

// Room returns a room by id, or nil.
func (m *Manager) Room(id int64) *Room {
	return m.rooms[id]
}

// SessionCount returns the number of registered sessions.
func (m *Manager) SessionCount() int {
	return len(m.sessions)
}

func (m *Manager) sessionIDs() []int64 {
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) roomIDs() []int64 {
	ids := make([]int64, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Announce sends a system message to every connected session and returns
// how many received it.
func (m *Manager) Announce(text string) int {
	frame := systemMessage(text)
	n := 0
	for _, s := range m.sessions {
		if !s.Alive() {
			continue
		}
		s.Send(frame)
		n++
	}
	return n
}

// Kick disconnects a session; the next sweep destroys it.
func (m *Manager) Kick(s *Session, reason string) {
	s.SystemMessage(reason)
	s.conn.Close()
}

func (m *Manager) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.opts.StoreTimeout)
}

func (m *Manager) emit(t events.EventType, payload any) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(context.Background(), events.Event{Type: t, Source: "chat", Payload: payload})
}
