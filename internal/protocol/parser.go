package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Packet is a decoded inbound frame: an opcode and an ordered list of
// text fields read through a cursor. A packet belongs to the dispatch
// call that decoded it, or to the queue it was routed into.
type Packet struct {
	Opcode Opcode
	// Trusted marks frames that arrived through the web side-channel.
	Trusted bool

	sep    byte
	fields []string
	pos    int
}

// NewPacket builds a packet from an opcode and the frame body following
// it. A leading separator in body is optional.
func NewPacket(op Opcode, sep byte, body []byte) *Packet {
	p := &Packet{Opcode: op, sep: sep}
	if len(body) > 0 && body[0] == sep {
		body = body[1:]
	} else if len(body) == 0 {
		return p
	}
	p.fields = strings.Split(string(body), string(sep))
	return p
}

// Decode splits a trimmed sub-frame into opcode and fields using the
// format's fixed-width opcode header.
func Decode(f Format, frame []byte) (*Packet, error) {
	if len(frame) > MaxPacketSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrOversizedPacket, len(frame))
	}
	if len(frame) < f.OpcodeWidth {
		return nil, fmt.Errorf("%w: frame %q shorter than %s opcode", ErrMalformedField, frame, f.Name)
	}

	var op Opcode
	for _, c := range frame[:f.OpcodeWidth] {
		op = op<<8 | Opcode(c)
	}
	return NewPacket(op, f.Separator, frame[f.OpcodeWidth:]), nil
}

// Remaining returns the number of unread fields.
func (p *Packet) Remaining() int {
	return len(p.fields) - p.pos
}

// Fields returns every field regardless of the cursor.
func (p *Packet) Fields() []string {
	return p.fields
}

// Rewind moves the cursor back to the first field.
func (p *Packet) Rewind() {
	p.pos = 0
}

func (p *Packet) next(kind string) (string, error) {
	if p.pos >= len(p.fields) {
		return "", fmt.Errorf("%w: %s expected at field %d, packet %s has %d",
			ErrMalformedField, kind, p.pos, p.Opcode, len(p.fields))
	}
	s := p.fields[p.pos]
	p.pos++
	return s, nil
}

// String returns the next field as text.
func (p *Packet) String() (string, error) {
	return p.next("string")
}

// Int returns the next field as a decimal integer.
func (p *Packet) Int() (int64, error) {
	s, err := p.next("integer")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %d %q is not an integer", ErrMalformedField, p.pos-1, s)
	}
	return v, nil
}

// Float returns the next field as a float.
func (p *Packet) Float() (float64, error) {
	s, err := p.next("float")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %d %q is not a float", ErrMalformedField, p.pos-1, s)
	}
	return v, nil
}

// Bool returns the next field, which must be "0" or "1".
func (p *Packet) Bool() (bool, error) {
	s, err := p.next("bool")
	if err != nil {
		return false, err
	}
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: field %d %q is not a bool", ErrMalformedField, p.pos-1, s)
}

// Rest returns every unread field joined by the separator and exhausts
// the cursor. Free text such as chat messages may itself contain the
// separator, so it is always read last.
func (p *Packet) Rest() (string, error) {
	if p.pos >= len(p.fields) {
		return "", fmt.Errorf("%w: text expected at field %d, packet %s has %d",
			ErrMalformedField, p.pos, p.Opcode, len(p.fields))
	}
	s := strings.Join(p.fields[p.pos:], string(p.sep))
	p.pos = len(p.fields)
	return s, nil
}

// Body re-encodes the fields exactly as they appeared after the opcode.
func (p *Packet) Body() []byte {
	var buf bytes.Buffer
	for _, f := range p.fields {
		buf.WriteByte(p.sep)
		buf.WriteString(f)
	}
	return buf.Bytes()
}
