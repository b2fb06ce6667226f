package chat

import "github.com/hangar-project/hangar/internal/protocol"

func systemMessage(text string) []byte {
	return protocol.NewChat(protocol.ChatOutSystem).String(text).MustFrame()
}

func roomCreated(r *Room) []byte {
	return protocol.NewChat(protocol.ChatOutRoomCreated).
		Int(r.ID).String(r.Name).Int(int64(r.Tab)).String(r.Type.String()).MustFrame()
}

func roomDeleted(id int64) []byte {
	return protocol.NewChat(protocol.ChatOutRoomDeleted).Int(id).MustFrame()
}

func userJoined(roomID int64, s *Session) []byte {
	return protocol.NewChat(protocol.ChatOutUserJoined).Int(roomID).Int(s.ID).String(s.Name).MustFrame()
}

func userLeft(roomID, userID int64) []byte {
	return protocol.NewChat(protocol.ChatOutUserLeft).Int(roomID).Int(userID).MustFrame()
}

func roomList(rooms []*Room) []byte {
	b := protocol.NewChat(protocol.ChatOutRoomList)
	for _, r := range rooms {
		b.Int(r.ID).String(r.Name).Int(int64(r.Tab)).String(r.Type.String())
	}
	return b.MustFrame()
}

func whisper(from *Session, text string) []byte {
	return protocol.NewChat(protocol.ChatOutWhisper).String(from.Name).String(text).MustFrame()
}

func ping() []byte {
	return protocol.NewChat(protocol.ChatOutPing).MustFrame()
}

func loginAccepted(s *Session) []byte {
	return protocol.NewChat(protocol.ChatOutLoginOK).Int(s.ID).String(s.Name).MustFrame()
}
