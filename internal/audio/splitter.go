package audio

import "fmt"

// Splitter turns interleaved frames of arbitrary length into fixed-size
// per-channel blocks. Only the first two channels are kept; a partial
// block is held until enough frames arrive.
type Splitter struct {
	channels  int
	blockSize int
	left      []float32
	right     []float32
	fill      int
	handler   BlockHandler
}

// NewSplitter creates a splitter for interleaved input with the given
// channel count. Blocks are delivered to h.
func NewSplitter(channels, blockSize int, h BlockHandler) (*Splitter, error) {
	if channels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", channels)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("block size must be at least 1, got %d", blockSize)
	}
	s := &Splitter{
		channels:  channels,
		blockSize: blockSize,
		left:      make([]float32, blockSize),
		handler:   h,
	}
	if channels >= 2 {
		s.right = make([]float32, blockSize)
	}
	return s, nil
}

// Write consumes interleaved samples. A trailing incomplete frame is
// ignored.
func (s *Splitter) Write(interleaved []float32) {
	frames := len(interleaved) / s.channels
	for f := 0; f < frames; f++ {
		base := f * s.channels
		s.left[s.fill] = interleaved[base]
		if s.right != nil {
			s.right[s.fill] = interleaved[base+1]
		}
		s.fill++
		if s.fill == s.blockSize {
			s.handler(s.left, s.right)
			s.fill = 0
		}
	}
}

// Pending returns the number of frames waiting for a full block.
func (s *Splitter) Pending() int {
	return s.fill
}
