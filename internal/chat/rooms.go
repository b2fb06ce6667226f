package chat

import (
	"fmt"

	"github.com/hangar-project/hangar/internal/events"
)

// maxRandomAttempts bounds the random probing in GenerateRoomID before it
// falls back to a linear scan of the range.
const maxRandomAttempts = 64

// CreateStandingRooms creates the configured always-present rooms. Rooms
// that already exist are left alone.
func (m *Manager) CreateStandingRooms() {
	for _, sr := range m.opts.StandingRooms {
		if _, ok := m.rooms[sr.ID]; ok {
			continue
		}
		r := newRoom(sr.ID, sr.Name, sr.Type, m.now())
		r.Tab = sr.Tab
		r.Faction = sr.Faction
		r.Standing = true
		m.addRoom(r)
		m.logger.Debug().Int64("room_id", r.ID).Str("name", r.Name).Msg("standing room created")
	}
}

// GenerateRoomID draws a free id from the ad-hoc range. The id is free
// among live rooms at the time of the call.
func (m *Manager) GenerateRoomID() (int64, error) {
	size := m.opts.AdhocRoomRange
	if size <= 0 || m.adhocLive >= size {
		return 0, ErrRoomIDsExhausted
	}

	for range maxRandomAttempts {
		id := m.opts.AdhocRoomBase + m.rng.Int64N(size)
		if _, taken := m.rooms[id]; !taken {
			return id, nil
		}
	}

	start := m.rng.Int64N(size)
	for i := int64(0); i < size; i++ {
		id := m.opts.AdhocRoomBase + (start+i)%size
		if _, taken := m.rooms[id]; !taken {
			return id, nil
		}
	}
	return 0, ErrRoomIDsExhausted
}

func (m *Manager) isAdhocID(id int64) bool {
	return id >= m.opts.AdhocRoomBase && id < m.opts.AdhocRoomBase+m.opts.AdhocRoomRange
}

func (m *Manager) addRoom(r *Room) {
	m.rooms[r.ID] = r
	if m.isAdhocID(r.ID) {
		m.adhocLive++
	}
	m.emit(events.EventRoomCreated, events.RoomPayload{
		RoomID: r.ID, Name: r.Name, Type: r.Type.String(), OwnerID: r.OwnerID,
	})
}

// canJoin checks a voluntary join. Private rooms are entered only by
// creating them or by invitation.
func (m *Manager) canJoin(s *Session, r *Room) error {
	if r.scheduled {
		return &ReplyError{Text: "Room not found", Err: ErrRoomNotFound}
	}
	staff := s.Level >= LevelModerator
	switch r.Type {
	case RoomPrivate:
		return reply("This room is private")
	case RoomFaction:
		if r.Faction != s.Faction && !staff {
			return reply("You cannot join this room")
		}
	case RoomClan:
		if r.ClanID != s.ClanID && !staff {
			return reply("You cannot join this room")
		}
	}
	return nil
}

// join adds s to r. The joiner gets the room-created notice; members of
// private and clan rooms are told about the newcomer.
func (m *Manager) join(s *Session, r *Room) {
	if r.Has(s.ID) {
		return
	}
	r.add(s)
	s.Send(roomCreated(r))
	if r.announcesMembership() {
		r.sendAll(userJoined(r.ID, s), s.ID)
	}
	if s.currentRoom == 0 {
		s.currentRoom = r.ID
	}
}

// leave removes s from r. An owner leaving a private room closes it for
// everyone; a clan room left empty is scheduled for deletion.
func (m *Manager) leave(s *Session, r *Room, notifySelf bool) {
	if !r.Has(s.ID) {
		return
	}
	if r.Type == RoomPrivate && r.OwnerID == s.ID {
		m.closeRoom(r)
		return
	}

	r.remove(s)
	if notifySelf {
		s.Send(roomDeleted(r.ID))
	}
	if r.announcesMembership() {
		r.sendAll(userLeft(r.ID, s.ID), 0)
	}
	if r.Type == RoomClan && r.Members() == 0 {
		r.scheduled = true
	}
}

// closeRoom sends every member the deletion notice, clears the membership
// and schedules the room for the next sweep.
func (m *Manager) closeRoom(r *Room) {
	frame := roomDeleted(r.ID)
	for _, id := range r.MemberIDs() {
		s := r.members[id]
		s.Send(frame)
		r.remove(s)
	}
	r.scheduled = true
}

// RemoveRoom force-closes a room, standing or not. The room object stays
// in the table until the next sweep.
func (m *Manager) RemoveRoom(id int64) error {
	r, ok := m.rooms[id]
	if !ok || r.scheduled {
		return fmt.Errorf("room %d: %w", id, ErrRoomNotFound)
	}
	m.closeRoom(r)
	m.logger.Info().Int64("room_id", id).Str("name", r.Name).Msg("room removed")
	return nil
}

// CreatePrivateRoom creates an ad-hoc private room owned by s and joins s
// to it.
func (m *Manager) CreatePrivateRoom(s *Session, name string) (*Room, error) {
	id, err := m.GenerateRoomID()
	if err != nil {
		return nil, err
	}
	r := newRoom(id, name, RoomPrivate, m.now())
	r.Tab = 3
	r.OwnerID = s.ID
	m.addRoom(r)
	m.join(s, r)
	return r, nil
}

// joinClanRoom joins s to its clan's room, creating the room on demand.
func (m *Manager) joinClanRoom(s *Session) error {
	for _, r := range m.rooms {
		if r.Type == RoomClan && r.ClanID == s.ClanID && !r.scheduled {
			m.join(s, r)
			return nil
		}
	}

	id, err := m.GenerateRoomID()
	if err != nil {
		return err
	}
	name := s.ClanName
	if name == "" {
		name = fmt.Sprintf("Clan %d", s.ClanID)
	}
	r := newRoom(id, name, RoomClan, m.now())
	r.Tab = 2
	r.ClanID = s.ClanID
	m.addRoom(r)
	m.join(s, r)
	return nil
}

// visibleRooms lists the rooms s may see, ascending by id.
func (m *Manager) visibleRooms(s *Session) []*Room {
	var out []*Room
	for _, id := range m.roomIDs() {
		if r := m.rooms[id]; r.visibleTo(s) {
			out = append(out, r)
		}
	}
	return out
}
