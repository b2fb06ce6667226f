package chat

import (
	"fmt"
	"slices"
	"time"

	"github.com/hangar-project/hangar/internal/protocol"
)

// RoomType controls who may join a room and which notices it sends.
type RoomType int

const (
	RoomNormal RoomType = iota
	RoomFaction
	RoomClan
	RoomPrivate
)

func (t RoomType) String() string {
	switch t {
	case RoomNormal:
		return "normal"
	case RoomFaction:
		return "faction"
	case RoomClan:
		return "clan"
	case RoomPrivate:
		return "private"
	default:
		return fmt.Sprintf("room_type(%d)", int(t))
	}
}

// ParseRoomType parses a room type name.
func ParseRoomType(s string) (RoomType, error) {
	for t := RoomNormal; t <= RoomPrivate; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return RoomNormal, fmt.Errorf("unknown room type %q", s)
}

// Room is a chat channel. The room never owns its members; OwnerID is a
// lookup key, not a reference.
type Room struct {
	ID       int64
	Name     string
	Tab      int
	Faction  int
	ClanID   int64
	Type     RoomType
	OwnerID  int64
	Standing bool

	createdAt time.Time
	scheduled bool
	members   map[int64]*Session
}

func newRoom(id int64, name string, typ RoomType, now time.Time) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		Type:      typ,
		createdAt: now,
		members:   make(map[int64]*Session),
	}
}

// Members returns the member count.
func (r *Room) Members() int {
	return len(r.members)
}

// Has reports whether session id is a member.
func (r *Room) Has(id int64) bool {
	_, ok := r.members[id]
	return ok
}

// MemberIDs returns member ids, ascending.
func (r *Room) MemberIDs() []int64 {
	ids := make([]int64, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ScheduledForDeletion reports whether the next sweep deletes the room.
func (r *Room) ScheduledForDeletion() bool {
	return r.scheduled
}

// add and remove are the only writers of the two membership maps.
func (r *Room) add(s *Session) {
	r.members[s.ID] = s
	s.rooms[r.ID] = r
}

func (r *Room) remove(s *Session) {
	delete(r.members, s.ID)
	delete(s.rooms, r.ID)
	if s.currentRoom == r.ID {
		s.reassignCurrentRoom()
	}
}

// announcesMembership reports whether joins and leaves are announced to
// the other members.
func (r *Room) announcesMembership() bool {
	return r.Type == RoomPrivate || r.Type == RoomClan
}

// visibleTo reports whether s sees the room in the room list.
func (r *Room) visibleTo(s *Session) bool {
	switch {
	case r.scheduled:
		return false
	case r.Has(s.ID):
		return true
	case r.Type == RoomNormal:
		return true
	case r.Type == RoomFaction:
		return r.Faction == s.Faction || s.Level >= LevelModerator
	}
	return false
}

// Broadcast delivers text from sender to every member that does not
// ignore the sender and returns the number of deliveries. The wire format
// follows the sender's access level.
func (r *Room) Broadcast(sender *Session, text string) int {
	var frame []byte
	switch {
	case sender.Level >= LevelDeveloper:
		frame = systemMessage(text)
	case sender.Level >= LevelAdmin:
		frame = protocol.NewChat(protocol.ChatOutAdminMessage).
			Int(r.ID).String(sender.Name).String(text).MustFrame()
	default:
		frame = protocol.NewChat(protocol.ChatOutRoomMessage).
			Int(r.ID).Int(sender.ID).String(sender.Name).String(text).MustFrame()
	}

	delivered := 0
	for _, m := range r.members {
		if m.Ignores(sender.ID) {
			continue
		}
		m.Send(frame)
		delivered++
	}
	return delivered
}

// sendAll writes frame to every member except the given id.
func (r *Room) sendAll(frame []byte, except int64) {
	for id, m := range r.members {
		if id != except {
			m.Send(frame)
		}
	}
}
