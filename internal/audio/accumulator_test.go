package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_Empty(t *testing.T) {
	acc := NewAccumulator()
	left, right := acc.Buffers()
	assert.Empty(t, left)
	assert.Empty(t, right)
	assert.Equal(t, 0, acc.Len())
	assert.Equal(t, 0, acc.Samples())
}

func TestAccumulator_CopiesBlocks(t *testing.T) {
	acc := NewAccumulator()
	l := []float32{0.1, 0.2}
	r := []float32{0.3, 0.4}
	acc.OnBlock(l, r)

	l[0] = 9
	r[0] = 9

	left, right := acc.Buffers()
	assert.Equal(t, []float32{0.1, 0.2}, left[0])
	assert.Equal(t, []float32{0.3, 0.4}, right[0])
}

func TestAccumulator_MonoDuplicatesLeft(t *testing.T) {
	acc := NewAccumulator()
	acc.OnBlock([]float32{0.5, -0.5}, nil)
	acc.OnBlock([]float32{0.25}, nil)

	left, right := acc.Buffers()
	require.Len(t, left, 2)
	require.Len(t, right, 2)
	assert.Equal(t, left, right)
	assert.Equal(t, 3, acc.Samples())

	// independent copies
	left[0][0] = 0
	assert.Equal(t, float32(0.5), right[0][0])
}

func TestAccumulator_SealDropsLateBlocks(t *testing.T) {
	acc := NewAccumulator()
	acc.OnBlock([]float32{0.1}, nil)
	acc.Seal()
	acc.OnBlock([]float32{0.2}, nil)

	assert.True(t, acc.Sealed())
	assert.Equal(t, 1, acc.Len())
}

func TestAccumulator_PeakAndRelease(t *testing.T) {
	acc := NewAccumulator()
	acc.OnBlock([]float32{0.1, -0.8}, []float32{0.3, 0.2})
	assert.InDelta(t, 0.8, acc.Peak(), 1e-6)

	acc.OnBlock([]float32{0.05}, []float32{0.4})
	assert.InDelta(t, 0.4, acc.Peak(), 1e-6)

	acc.Release()
	left, right := acc.Buffers()
	assert.Nil(t, left)
	assert.Nil(t, right)
	assert.Equal(t, float32(0), acc.Peak())
	assert.True(t, acc.Sealed())
}

func TestAccumulator_ConcurrentBlocksKeepChannelsAligned(t *testing.T) {
	acc := NewAccumulator()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if g%2 == 0 {
					acc.OnBlock(constBlock(16, 0.1), nil)
				} else {
					acc.OnBlock(constBlock(16, 0.1), constBlock(16, 0.2))
				}
			}
		}(g)
	}
	wg.Wait()

	left, right := acc.Buffers()
	assert.Len(t, left, 800)
	assert.Len(t, right, 800)
	assert.Equal(t, 800*16, acc.Samples())
}
