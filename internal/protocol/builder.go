package protocol

import (
	"fmt"
	"strconv"
)

// Builder constructs an outbound frame: a header token, the appended
// fields (each preceded by the separator) and the terminator.
// Errors are sticky; the first one is reported by Frame.
type Builder struct {
	format Format
	buf    *Buffer
	err    error
	fields int
}

// NewBuilder starts a frame with the given header token.
func NewBuilder(f Format, header string) *Builder {
	b := &Builder{
		format: f,
		buf:    NewBuffer(64, MaxPacketSize),
	}
	b.header(header)
	return b
}

// NewChat starts a chat frame.
func NewChat(header string) *Builder {
	return NewBuilder(ChatFormat, header)
}

// NewGame starts a game frame. The type token becomes the first field
// after the "0" header.
func NewGame(kind string) *Builder {
	return NewBuilder(GameFormat, GameOutHeader).String(kind)
}

func (b *Builder) header(h string) {
	if _, err := b.buf.WriteString(h); err != nil {
		b.err = err
	}
}

func (b *Builder) field(s string) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.buf.Reserve(len(s) + 1); err != nil {
		b.err = err
		return b
	}
	b.buf.WriteByte(b.format.Separator)
	b.buf.WriteString(s)
	b.fields++
	return b
}

// String appends a text field.
func (b *Builder) String(s string) *Builder {
	return b.field(s)
}

// Int appends a decimal integer field.
func (b *Builder) Int(v int64) *Builder {
	return b.field(strconv.FormatInt(v, 10))
}

// Uint appends a decimal unsigned field.
func (b *Builder) Uint(v uint64) *Builder {
	return b.field(strconv.FormatUint(v, 10))
}

// Float appends a float field in its shortest decimal form.
func (b *Builder) Float(v float64) *Builder {
	return b.field(strconv.FormatFloat(v, 'f', -1, 64))
}

// Bool appends "1" or "0".
func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.field("1")
	}
	return b.field("0")
}

// Append encodes any supported value with its canonical representation.
func (b *Builder) Append(v any) *Builder {
	switch val := v.(type) {
	case string:
		return b.String(val)
	case int:
		return b.Int(int64(val))
	case int32:
		return b.Int(int64(val))
	case int64:
		return b.Int(val)
	case uint16:
		return b.Uint(uint64(val))
	case uint32:
		return b.Uint(uint64(val))
	case uint64:
		return b.Uint(val)
	case float32:
		return b.Float(float64(val))
	case float64:
		return b.Float(val)
	case bool:
		return b.Bool(val)
	case fmt.Stringer:
		return b.String(val.String())
	default:
		if b.err == nil {
			b.err = fmt.Errorf("unsupported field type %T", v)
		}
		return b
	}
}

// Fields returns how many fields have been appended.
func (b *Builder) Fields() int {
	return b.fields
}

// Len returns the current frame size without the terminator.
func (b *Builder) Len() int {
	return b.buf.Len()
}

// Frame returns a terminated copy of the frame. The builder can keep
// appending or be cleared afterwards.
func (b *Builder) Frame() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	size := b.buf.Len() + len(b.format.Terminator)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrOversizedPacket, size)
	}
	out := make([]byte, 0, size)
	out = append(out, b.buf.Bytes()...)
	return append(out, b.format.Terminator...), nil
}

// MustFrame is Frame for builders assembled from bounded, known fields.
// An oversized or invalid frame yields nil, which the send path drops.
func (b *Builder) MustFrame() []byte {
	out, err := b.Frame()
	if err != nil {
		return nil
	}
	return out
}

// Clear rewinds the builder to an empty frame with a new header, keeping
// the allocated capacity.
func (b *Builder) Clear(header string) {
	b.buf.Clear()
	b.err = nil
	b.fields = 0
	b.header(header)
}

// Dump returns a printable form of the frame for debugging.
func (b *Builder) Dump() string {
	return fmt.Sprintf("Builder[%s %d bytes]: %q", b.format.Name, b.buf.Len(), b.buf.Bytes())
}
