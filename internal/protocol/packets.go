// Package protocol implements the text wire codec shared by the chat and
// game sockets: outbound frame building, inbound field cursors, and the
// splitting of raw TCP reads into sub-frames. Both protocols are plain
// ASCII with a fixed field separator and a fixed terminator.
package protocol

import (
	"bytes"
	"fmt"
)

// Opcode identifies a packet's meaning. Chat opcodes pack two ASCII
// characters (high byte first); game opcodes are a single byte.
type Opcode uint16

// String renders printable opcodes as their ASCII form.
func (o Opcode) String() string {
	hi, lo := byte(o>>8), byte(o)
	switch {
	case o == GameLogin:
		return LoginToken
	case hi == 0 && printable(lo):
		return string([]byte{lo})
	case printable(hi) && printable(lo):
		return string([]byte{hi, lo})
	default:
		return fmt.Sprintf("0x%04X", uint16(o))
	}
}

func printable(b byte) bool {
	return b >= 0x20 && b < 0x7f
}

// MaxPacketSize is the upper bound for a single inbound frame or an
// outbound buffer. Anything larger is treated as a misbehaving peer.
const MaxPacketSize = 10 << 20

// Chat socket opcodes, client to server.
const (
	ChatLogin         Opcode = 'L'<<8 | 'I' // userID@sessionToken
	ChatPong          Opcode = 'P'<<8 | 'O'
	ChatMessage       Opcode = 'M'<<8 | 'S' // roomID@text
	ChatJoinRoom      Opcode = 'J'<<8 | 'R' // roomID
	ChatLeaveRoom     Opcode = 'L'<<8 | 'R' // roomID
	ChatSwitchRoom    Opcode = 'S'<<8 | 'R' // roomID
	ChatCreatePrivate Opcode = 'C'<<8 | 'P' // name
	ChatInvite        Opcode = 'I'<<8 | 'V' // roomID@userName
	ChatIgnore        Opcode = 'I'<<8 | 'G' // userID
	ChatUnignore      Opcode = 'U'<<8 | 'I' // userID
	ChatWhisper       Opcode = 'W'<<8 | 'H' // userName@text
	ChatRoomList      Opcode = 'R'<<8 | 'L'
)

// Chat socket headers, server to client.
const (
	ChatOutRoomMessage  = "RM" // roomID@senderID@senderName@text
	ChatOutAdminMessage = "AM" // roomID@senderName@text
	ChatOutSystem       = "SM" // text
	ChatOutRoomCreated  = "RC" // roomID@name@tab@type
	ChatOutRoomDeleted  = "RD" // roomID
	ChatOutUserJoined   = "UJ" // roomID@userID@name
	ChatOutUserLeft     = "UL" // roomID@userID
	ChatOutRoomList     = "RS" // (roomID@name@tab@type)*
	ChatOutWhisper      = "WH" // fromName@text
	ChatOutPing         = "PI"
	ChatOutLoginOK      = "LA" // userID@name
)

// Game socket opcodes, client to server. GameLogin does not fit in the
// one-byte header; it is produced by the LOGIN literal check.
const (
	GameLogin     Opcode = 0x100
	GameKeepAlive Opcode = 'p'
	GameMove      Opcode = 'm' // x|y
	GameJump      Opcode = 'j' // mapID
	GameLogout    Opcode = 'q'

	// Web side-channel only.
	GameWebKick   Opcode = 'K' // userID
	GameWebNotice Opcode = 'N' // text
)

// Game socket headers, server to client. Every game frame starts with
// "0" followed by the message type field.
const (
	GameOutHeader    = "0"
	GameOutLoginOK   = "A" // userID|name|mapID|x|y
	GameOutNotice    = "n" // text
	GameOutMove      = "M" // userID|x|y
	GameOutPing      = "P"
	GameOutMapChange = "J" // mapID|x|y
	GameOutDespawn   = "R" // userID
)

// LoginToken is the literal the game client sends before it has a session.
const LoginToken = "LOGIN"

// PolicyRequest is the cross-domain policy probe any socket may receive.
const PolicyRequest = "<policy-file-request/>"

// Format describes the framing of one protocol.
type Format struct {
	Name        string
	Separator   byte
	Terminator  []byte
	OpcodeWidth int
	// Delimiters split an inbound byte stream into sub-frames.
	Delimiters string
}

var (
	// ChatFormat frames look like `MS@1@hello#\x00`.
	ChatFormat = Format{
		Name:        "chat",
		Separator:   '@',
		Terminator:  []byte("#\x00"),
		OpcodeWidth: 2,
		Delimiters:  "\x00\n",
	}

	// GameFormat frames look like `m|120|340\n`.
	GameFormat = Format{
		Name:        "game",
		Separator:   '|',
		Terminator:  []byte("\n"),
		OpcodeWidth: 1,
		Delimiters:  "\n\x00",
	}
)

// Trim strips trailing NUL/CR/LF junk and one trailing terminator mark
// from an inbound sub-frame.
func (f Format) Trim(frame []byte) []byte {
	frame = bytes.TrimRight(frame, "\x00\r\n")
	mark := bytes.TrimRight(f.Terminator, "\x00\r\n")
	if len(mark) > 0 {
		frame = bytes.TrimSuffix(frame, mark)
	}
	return frame
}

// IsPolicyRequest reports whether a sub-frame is the policy probe.
func IsPolicyRequest(frame []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(frame), []byte(PolicyRequest))
}

// PolicyResponse frames a cross-domain policy document for the wire.
func PolicyResponse(document string) []byte {
	out := make([]byte, 0, len(document)+1)
	out = append(out, document...)
	return append(out, 0)
}
