package audio

import (
	"math"
	"sync"
)

// Accumulator collects the per-channel blocks of one capture session.
// Left and right always hold the same number of blocks.
type Accumulator struct {
	mu     sync.Mutex
	left   [][]float32
	right  [][]float32
	frames int
	peak   float32
	sealed bool
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// OnBlock appends one block. A nil right block is replaced by a copy of
// left. Blocks arriving after Seal are dropped.
func (a *Accumulator) OnBlock(left, right []float32) {
	l := make([]float32, len(left))
	copy(l, left)

	var r []float32
	if right == nil {
		r = make([]float32, len(left))
		copy(r, left)
	} else {
		r = make([]float32, len(right))
		copy(r, right)
	}

	peak := blockPeak(l)
	if p := blockPeak(r); p > peak {
		peak = p
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.left = append(a.left, l)
	a.right = append(a.right, r)
	a.frames += len(l)
	a.peak = peak
}

// Seal stops accepting blocks.
func (a *Accumulator) Seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (a *Accumulator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Buffers returns the accumulated channel buffers.
func (a *Accumulator) Buffers() (left, right [][]float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.left, a.right
}

// Len returns the number of blocks per channel.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.left)
}

// Samples returns the number of samples per channel.
func (a *Accumulator) Samples() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Peak returns the peak magnitude of the most recent block.
func (a *Accumulator) Peak() float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// Release drops the buffers and seals the accumulator.
func (a *Accumulator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.left = nil
	a.right = nil
	a.frames = 0
	a.peak = 0
	a.sealed = true
}

func blockPeak(block []float32) float32 {
	var peak float32
	for _, s := range block {
		v := float32(math.Abs(float64(s)))
		if v > peak {
			peak = v
		}
	}
	return peak
}
