package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChat(t *testing.T) {
	p, err := Decode(ChatFormat, []byte("MS@12@hi@there"))
	require.NoError(t, err)
	assert.Equal(t, ChatMessage, p.Opcode)
	assert.Equal(t, 3, p.Remaining())

	room, err := p.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 12, room)

	text, err := p.Rest()
	require.NoError(t, err)
	assert.Equal(t, "hi@there", text)

	_, err = p.String()
	assert.ErrorIs(t, err, ErrMalformedField)
}

func TestDecodeGame(t *testing.T) {
	p, err := Decode(GameFormat, []byte("m|10|-20|1"))
	require.NoError(t, err)
	assert.Equal(t, GameMove, p.Opcode)

	x, err := p.Int()
	require.NoError(t, err)
	y, err := p.Float()
	require.NoError(t, err)
	flag, err := p.Bool()
	require.NoError(t, err)

	assert.EqualValues(t, 10, x)
	assert.EqualValues(t, -20, y)
	assert.True(t, flag)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(ChatFormat, []byte("M"))
	assert.ErrorIs(t, err, ErrMalformedField)

	p, err := Decode(ChatFormat, []byte("JR@abc"))
	require.NoError(t, err)
	_, err = p.Int()
	assert.ErrorIs(t, err, ErrMalformedField)

	p.Rewind()
	_, err = p.Float()
	assert.ErrorIs(t, err, ErrMalformedField)

	p.Rewind()
	_, err = p.Bool()
	assert.ErrorIs(t, err, ErrMalformedField)

	empty, err := Decode(GameFormat, []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Remaining())
	_, err = empty.Rest()
	assert.ErrorIs(t, err, ErrMalformedField)
}

func TestPacketBodyRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		format Format
		frame  string
	}{
		{"chat message", ChatFormat, "MS@1@hello world"},
		{"chat empty fields", ChatFormat, "IV@@"},
		{"chat no fields", ChatFormat, "PO"},
		{"game move", GameFormat, "m|120|340"},
		{"game text", GameFormat, "N|maintenance in 5 minutes"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Decode(tc.format, []byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.frame[tc.format.OpcodeWidth:], string(p.Body()))
		})
	}
}

func TestBuilderOutputDecodes(t *testing.T) {
	frame := NewChat("MS").Int(5).String("a b c").MustFrame()

	s := NewSplitter(ChatFormat, 0)
	frames, err := s.Feed(frame)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	p, err := Decode(ChatFormat, frames[0])
	require.NoError(t, err)
	assert.Equal(t, ChatMessage, p.Opcode)
	assert.Equal(t, []string{"5", "a b c"}, p.Fields())
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "MS", ChatMessage.String())
	assert.Equal(t, "m", GameMove.String())
	assert.Equal(t, "LOGIN", GameLogin.String())
	assert.Equal(t, "0x0001", Opcode(1).String())
}
