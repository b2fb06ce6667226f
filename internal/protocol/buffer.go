package protocol

import "fmt"

// Buffer is an append-only byte buffer with a read cursor and a size
// ceiling. Clear rewinds both cursors and keeps the backing array, so a
// single buffer can serve many small packets.
type Buffer struct {
	data  []byte
	rpos  int
	limit int
}

// NewBuffer reserves capacity bytes up front. A limit <= 0 means
// MaxPacketSize.
func NewBuffer(capacity, limit int) *Buffer {
	if limit <= 0 {
		limit = MaxPacketSize
	}
	if capacity > limit {
		capacity = limit
	}
	return &Buffer{
		data:  make([]byte, 0, capacity),
		limit: limit,
	}
}

// Reserve ensures at least n more bytes can be appended without another
// allocation.
func (b *Buffer) Reserve(n int) error {
	if len(b.data)+n > b.limit {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrOversizedPacket, len(b.data)+n, b.limit)
	}
	if cap(b.data)-len(b.data) >= n {
		return nil
	}

	newCap := cap(b.data) * 2
	if newCap < len(b.data)+n {
		newCap = len(b.data) + n
	}
	if newCap > b.limit {
		newCap = b.limit
	}

	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Write appends p, failing with ErrOversizedPacket past the limit.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.Reserve(len(p)); err != nil {
		return 0, err
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.Reserve(1); err != nil {
		return err
	}
	b.data = append(b.data, c)
	return nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	if err := b.Reserve(len(s)); err != nil {
		return 0, err
	}
	b.data = append(b.data, s...)
	return len(s), nil
}

// Bytes returns the unread portion. The slice aliases the buffer and is
// only valid until the next write or Clear.
func (b *Buffer) Bytes() []byte {
	return b.data[b.rpos:]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data) - b.rpos
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Next advances the read cursor by n bytes. Once everything has been read
// the buffer rewinds itself.
func (b *Buffer) Next(n int) {
	if n > b.Len() {
		n = b.Len()
	}
	b.rpos += n
	if b.rpos == len(b.data) {
		b.Clear()
		return
	}
	// Compact when the dead prefix dominates so partial frames do not
	// drift towards the limit.
	if b.rpos > cap(b.data)/2 {
		remaining := copy(b.data, b.data[b.rpos:])
		b.data = b.data[:remaining]
		b.rpos = 0
	}
}

// Clear resets both cursors without releasing capacity.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.rpos = 0
}
