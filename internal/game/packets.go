package game

import "github.com/hangar-project/hangar/internal/protocol"

func loginAccepted(p *Player) []byte {
	pos := p.Position()
	return protocol.NewGame(protocol.GameOutLoginOK).
		Int(p.ID).String(p.Name).Int(int64(pos.MapID)).Int(int64(pos.X)).Int(int64(pos.Y)).MustFrame()
}

func notice(text string) []byte {
	return protocol.NewGame(protocol.GameOutNotice).String(text).MustFrame()
}

func movement(id int64, x, y int) []byte {
	return protocol.NewGame(protocol.GameOutMove).Int(id).Int(int64(x)).Int(int64(y)).MustFrame()
}

func ping() []byte {
	return protocol.NewGame(protocol.GameOutPing).MustFrame()
}

func mapChanged(mapID, x, y int) []byte {
	return protocol.NewGame(protocol.GameOutMapChange).Int(int64(mapID)).Int(int64(x)).Int(int64(y)).MustFrame()
}

func despawn(id int64) []byte {
	return protocol.NewGame(protocol.GameOutDespawn).Int(id).MustFrame()
}
