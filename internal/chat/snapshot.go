package chat

import (
	"slices"
	"strings"
	"time"
)

// SessionInfo is a read-only view of one chat session.
type SessionInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Level       string    `json:"level"`
	Faction     int       `json:"faction"`
	ClanID      int64     `json:"clan_id,omitempty"`
	Remote      string    `json:"remote"`
	CurrentRoom int64     `json:"current_room"`
	Rooms       []int64   `json:"rooms"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RoomInfo is a read-only view of one room.
type RoomInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Tab       int       `json:"tab"`
	OwnerID   int64     `json:"owner_id,omitempty"`
	Standing  bool      `json:"standing"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the state published at the end of every tick. Other
// goroutines read it instead of the live tables.
type Snapshot struct {
	Taken    time.Time     `json:"taken"`
	Tick     uint64        `json:"tick"`
	Sessions []SessionInfo `json:"sessions"`
	Rooms    []RoomInfo    `json:"rooms"`
}

// Snapshot returns the most recently published state.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

func (m *Manager) publishSnapshot() {
	snap := &Snapshot{
		Taken:    m.now(),
		Tick:     m.ticks,
		Sessions: make([]SessionInfo, 0, len(m.sessions)),
		Rooms:    make([]RoomInfo, 0, len(m.rooms)),
	}
	for _, id := range m.sessionIDs() {
		s := m.sessions[id]
		snap.Sessions = append(snap.Sessions, SessionInfo{
			ID:          s.ID,
			Name:        s.Name,
			Level:       s.Level.String(),
			Faction:     s.Faction,
			ClanID:      s.ClanID,
			Remote:      s.Remote(),
			CurrentRoom: s.currentRoom,
			Rooms:       s.Rooms(),
			ConnectedAt: s.connectedAt,
		})
	}
	for _, id := range m.roomIDs() {
		r := m.rooms[id]
		snap.Rooms = append(snap.Rooms, RoomInfo{
			ID:        r.ID,
			Name:      r.Name,
			Type:      r.Type.String(),
			Tab:       r.Tab,
			OwnerID:   r.OwnerID,
			Standing:  r.Standing,
			Members:   r.Members(),
			CreatedAt: r.createdAt,
		})
	}
	m.snapshot.Store(snap)
}

// FindSession looks a session up by name in the snapshot.
func (s *Snapshot) FindSession(name string) (SessionInfo, bool) {
	i := slices.IndexFunc(s.Sessions, func(info SessionInfo) bool {
		return strings.EqualFold(info.Name, name)
	})
	if i < 0 {
		return SessionInfo{}, false
	}
	return s.Sessions[i], true
}
