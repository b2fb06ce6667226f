package protocol

import (
	"bytes"
	"fmt"
)

// Splitter turns a TCP byte stream into sub-frames. One read may carry
// several coalesced frames or only part of one; partial data is kept
// until its delimiter arrives.
type Splitter struct {
	format Format
	buf    *Buffer
	// discarding is set after an oversized frame was dropped; bytes are
	// swallowed until that frame's delimiter arrives.
	discarding bool
}

// NewSplitter creates a splitter bounded by limit bytes of pending data.
func NewSplitter(f Format, limit int) *Splitter {
	return &Splitter{
		format: f,
		buf:    NewBuffer(4096, limit),
	}
}

// Feed appends raw bytes and returns every complete, trimmed, non-empty
// sub-frame. A frame that grows past the limit is dropped whole, up to
// and including its delimiter, and ErrOversizedPacket is returned
// alongside the frames that were complete.
func (s *Splitter) Feed(p []byte) ([][]byte, error) {
	var (
		frames    [][]byte
		oversized error
	)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, s.format.Delimiters)
		if s.discarding {
			if idx < 0 {
				return frames, oversized
			}
			s.discarding = false
			p = p[idx+1:]
			continue
		}

		if idx < 0 {
			if _, err := s.buf.Write(p); err != nil {
				s.buf.Clear()
				s.discarding = true
				oversized = fmt.Errorf("%s stream: %w", s.format.Name, err)
			}
			return frames, oversized
		}

		if _, err := s.buf.Write(p[:idx]); err != nil {
			oversized = fmt.Errorf("%s stream: %w", s.format.Name, err)
		} else if frame := s.format.Trim(s.buf.Bytes()); len(frame) > 0 {
			frames = append(frames, bytes.Clone(frame))
		}
		s.buf.Clear()
		p = p[idx+1:]
	}
	return frames, oversized
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (s *Splitter) Pending() int {
	return s.buf.Len()
}

// Reset discards buffered partial data.
func (s *Splitter) Reset() {
	s.buf.Clear()
	s.discarding = false
}
