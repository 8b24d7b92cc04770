package partition

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestRORMask(t *testing.T) {
	mask := RORMask(5, 5)
	// centre and edge midpoints are inside, corners outside
	assert.True(t, mask[2*5+2])
	assert.True(t, mask[0*5+2])
	assert.True(t, mask[2*5+0])
	assert.False(t, mask[0])
	assert.False(t, mask[4*5+4])
}

func TestFullIndicesSorted(t *testing.T) {
	indices := FullIndices(16, 16)
	assert.True(t, slices.IsSorted(indices))
	mask := RORMask(16, 16)
	count := 0
	for _, inside := range mask {
		if inside {
			count++
		}
	}
	assert.Len(t, indices, count)
}

// covers checks that every ROR pixel appears in some subset and nothing
// outside the ROR does.
func covers(t *testing.T, rows, cols int, p Partition) {
	t.Helper()
	mask := RORMask(rows, cols)
	seen := make([]bool, rows*cols)
	for _, subset := range p {
		for _, index := range subset {
			require.True(t, mask[index], "pixel %v outside the ROR", index)
			seen[index] = true
		}
	}
	for index, inside := range mask {
		assert.Equal(t, inside, seen[index], "pixel %v", index)
	}
}

func TestPixelPartition(t *testing.T) {
	rows, cols := 20, 17
	for _, numSubsets := range []int{1, 2, 7, 64} {
		p, err := PixelPartition(rows, cols, numSubsets, newRand())
		require.NoError(t, err)
		require.Len(t, p, numSubsets)
		for _, subset := range p {
			assert.Len(t, subset, len(p[0]))
			assert.True(t, slices.IsSorted(subset))
			assert.Len(t, slices.Compact(slices.Clone(subset)), len(subset), "repeated pixel in a subset")
		}
		covers(t, rows, cols, p)
	}
}

func TestPixelPartitionHeavyPadding(t *testing.T) {
	// sizes where the padding spans several trailing subsets
	for _, size := range [][3]int{{20, 20, 64}, {20, 20, 256}, {32, 32, 256}, {64, 64, 256}} {
		rows, cols, numSubsets := size[0], size[1], size[2]
		p, err := PixelPartition(rows, cols, numSubsets, newRand())
		require.NoError(t, err, size)
		require.Len(t, p, numSubsets, size)
		for _, subset := range p {
			assert.Len(t, subset, len(p[0]), size)
			assert.Len(t, slices.Compact(slices.Clone(subset)), len(subset), "repeated pixel in a subset %v", size)
		}
		covers(t, rows, cols, p)
	}

	parts, err := SetOf(BlueNoisePartition, 32, 32, []int{1, 8, 64, 256}, newRand())
	require.NoError(t, err)
	assert.Len(t, parts, 4)
}

func TestPixelPartitionTooManySubsets(t *testing.T) {
	numPixels := len(FullIndices(4, 4))
	p, err := PixelPartition(4, 4, 1000, newRand())
	require.NoError(t, err)
	assert.Len(t, p, numPixels)
	for _, subset := range p {
		assert.Len(t, subset, 1)
	}
}

func TestPixelPartitionRejectsZero(t *testing.T) {
	_, err := PixelPartition(4, 4, 0, newRand())
	assert.Error(t, err)
}

func TestGridPartition(t *testing.T) {
	p, err := GridPartition(32, 32, 10, newRand())
	require.NoError(t, err)
	// rounded up to 4x4
	assert.Len(t, p, 16)
	covers(t, 32, 32, p)
}

func TestGridPartitionOnePixelPerSubset(t *testing.T) {
	p, err := GridPartition(3, 3, 100, newRand())
	require.NoError(t, err)
	assert.Len(t, p, len(FullIndices(3, 3)))
}

func TestBlueNoisePattern(t *testing.T) {
	pattern := BlueNoisePattern()
	require.Len(t, pattern, blueNoiseSide*blueNoiseSide)
	// every rank appears once
	sorted := slices.Clone(pattern)
	slices.Sort(sorted)
	assert.Len(t, slices.Compact(sorted), len(pattern))
	assert.GreaterOrEqual(t, sorted[0], 0)
	assert.Less(t, sorted[len(sorted)-1], blueNoiseLevels)
}

func TestBlueNoisePartition(t *testing.T) {
	p, err := BlueNoisePartition(40, 40, 8, newRand())
	require.NoError(t, err)
	assert.Len(t, p, 8)
	covers(t, 40, 40, p)
}

func TestBlueNoisePartitionFallsBack(t *testing.T) {
	p, err := BlueNoisePartition(4, 4, 50, newRand())
	require.NoError(t, err)
	assert.Len(t, p, len(FullIndices(4, 4)))
}

func TestSetOfPartitions(t *testing.T) {
	set, err := SetOfPartitions(16, 16, []int{1, 4, 16}, newRand())
	require.NoError(t, err)
	require.Len(t, set, 3)
	assert.Len(t, set[0], 1)
	assert.Equal(t, FullIndices(16, 16), set[0][0])
	assert.Len(t, set[2], 16)
}

func TestSequence(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 2, 2}, Sequence([]int{0, 1, 2}, 5))
	assert.Equal(t, []int{0, 1}, Sequence([]int{0, 1, 2}, 2))
	assert.Equal(t, []int{0, 0}, Sequence(nil, 2))
}

func TestByKind(t *testing.T) {
	for _, kind := range []string{"random", "grid", "blue_noise"} {
		fn, err := ByKind(kind)
		require.NoError(t, err, kind)
		set, err := SetOf(fn, 8, 8, []int{1, 4}, newRand())
		require.NoError(t, err, kind)
		assert.Len(t, set[1], 4, kind)
	}
	_, err := ByKind("hexagonal")
	assert.Error(t, err)
}
