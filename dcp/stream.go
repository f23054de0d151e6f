package dcp

import "bytes"

// Splitter assembles raw stream reads into complete frame byte slices using
// the dialect terminator. A partial trailing frame stays buffered until the
// next Push. The buffer is bounded: once an unterminated frame grows past
// MaxFrame the buffered bytes are dropped and ErrFrameOversize is returned,
// together with any frames completed by the same read.
type Splitter struct {
	term []byte
	buf  []byte
}

func NewSplitter(c Codec) *Splitter {
	return &Splitter{term: c.Terminator()}
}

// Push appends data and extracts every complete frame.
func (s *Splitter) Push(data []byte) ([][]byte, error) {
	s.buf = append(s.buf, data...)

	var frames [][]byte
	for {
		i := bytes.Index(s.buf, s.term)
		if i < 0 {
			break
		}
		end := i + len(s.term)
		frame := make([]byte, end)
		copy(frame, s.buf[:end])
		frames = append(frames, frame)
		s.buf = s.buf[end:]
	}

	if len(s.buf) > MaxFrame {
		s.buf = nil
		return frames, ErrFrameOversize
	}
	return frames, nil
}

// Pending reports how many bytes of a partial frame are buffered.
func (s *Splitter) Pending() int { return len(s.buf) }
