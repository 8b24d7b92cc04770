// Package partition splits the pixels of the region of reconstruction into
// subsets that are updated together by vectorized coordinate descent.
// Pixel indices address the flattened (rows, cols) grid, p = row*cols + col.
package partition

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Partition is a list of pixel subsets.
type Partition [][]int

// RORMask returns the region of reconstruction: the pixels within the
// inscribed circle of the (rows, cols) grid.
func RORMask(rows, cols int) []bool {
	rowCenter := (float64(rows) - 1) / 2
	colCenter := (float64(cols) - 1) / 2
	radius := math.Max(rowCenter, colCenter)

	mask := make([]bool, rows*cols)
	for row := 0; row < rows; row++ {
		y := float64(row) - rowCenter
		for col := 0; col < cols; col++ {
			x := float64(col) - colCenter
			mask[row*cols+col] = x*x+y*y <= radius*radius
		}
	}
	return mask
}

// FullIndices returns the sorted indices of every pixel in the region of
// reconstruction.
func FullIndices(rows, cols int) []int {
	mask := RORMask(rows, cols)
	res := make([]int, 0, len(mask))
	for p, inside := range mask {
		if inside {
			res = append(res, p)
		}
	}
	return res
}

// PixelPartition randomly splits the region of reconstruction into
// numSubsets subsets of equal size. Subsets are padded with distinct pixels
// drawn from the other subsets and sorted.
func PixelPartition(rows, cols, numSubsets int, rng *rand.Rand) (Partition, error) {
	if numSubsets <= 0 {
		return nil, errors.Errorf("number of subsets must be positive, got %v", numSubsets)
	}
	indices := FullIndices(rows, cols)
	if numSubsets > len(indices) {
		log.WithFields(log.Fields{
			"num_subsets": numSubsets,
			"num_pixels":  len(indices),
		}).Warn("the number of partition subsets is greater than the number of pixels in the region of reconstruction, reducing the number of subsets")
		numSubsets = len(indices)
	}

	perSubset := (len(indices) + numSubsets - 1) / numSubsets
	numExtra := numSubsets*perSubset - len(indices)
	rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

	// Extra pixels come from the complete subsets, so no padded subset has repeats
	numNonFinal := (len(indices) / perSubset) * perSubset
	for _, k := range rng.Perm(numNonFinal)[:numExtra] {
		indices = append(indices, indices[k])
	}

	res := make(Partition, numSubsets)
	for k := range res {
		res[k] = indices[k*perSubset : (k+1)*perSubset]
		slices.Sort(res[k])
	}
	return res, nil
}

// GridPartition tiles the image with a random arrangement of the subsets on
// a ceil(sqrt(numSubsets)) square tile, so every subset is spread evenly.
// The number of subsets is rounded up to the square of the tile side.
func GridPartition(rows, cols, numSubsets int, rng *rand.Rand) (Partition, error) {
	if numSubsets <= 0 {
		return nil, errors.Errorf("number of subsets must be positive, got %v", numSubsets)
	}
	side := int(math.Ceil(math.Sqrt(float64(numSubsets))))
	numSubsets = side * side
	tile := rng.Perm(numSubsets)

	mask := RORMask(rows, cols)
	labels := make([]int, rows*cols)
	numValid := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			p := row*cols + col
			if !mask[p] {
				labels[p] = -1
				continue
			}
			labels[p] = tile[(row%side)*side+col%side]
			numValid++
		}
	}

	if numSubsets > numValid {
		log.WithFields(log.Fields{
			"num_subsets": numSubsets,
			"num_pixels":  numValid,
		}).Warn("the number of partition subsets is greater than the number of pixels in the region of reconstruction, using one pixel per subset")
		res := make(Partition, 0, numValid)
		for p, label := range labels {
			if label >= 0 {
				res = append(res, []int{p})
			}
		}
		return res, nil
	}
	return equalize(groupLabels(labels, numSubsets, true), rng), nil
}

// groupLabels collects the pixels of every label in [0, numLabels).
// Empty groups are dropped when dropEmpty is set.
func groupLabels(labels []int, numLabels int, dropEmpty bool) Partition {
	groups := make(Partition, numLabels)
	for p, label := range labels {
		if label >= 0 {
			groups[label] = append(groups[label], p)
		}
	}
	if !dropEmpty {
		return groups
	}
	res := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			res = append(res, g)
		}
	}
	return res
}

// equalize pads every subset to the size of the largest by borrowing
// pixels from the following subsets, then sorts and removes duplicates.
func equalize(subsets Partition, rng *rand.Rand) Partition {
	maxPoints, minPoints := 0, math.MaxInt
	for _, s := range subsets {
		maxPoints = max(maxPoints, len(s))
		minPoints = min(minPoints, len(s))
	}
	extraPoints := make([]int, maxPoints-minPoints+1)
	for j := range extraPoints {
		extraPoints[j] = rng.IntN(minPoints)
	}

	numSubsets := len(subsets)
	res := make(Partition, numSubsets)
	for k, s := range subsets {
		cur := slices.Clone(s)
		for j := 0; j < maxPoints-len(s); j++ {
			donor := subsets[(k+1+j)%numSubsets]
			cur = append(cur, donor[extraPoints[j]])
		}
		slices.Sort(cur)
		res[k] = slices.Compact(cur)
	}
	return res
}

// Func builds a partition of the region of reconstruction.
type Func func(rows, cols, numSubsets int, rng *rand.Rand) (Partition, error)

// ByKind returns the partition builder registered under kind.
func ByKind(kind string) (Func, error) {
	switch kind {
	case "random":
		return PixelPartition, nil
	case "grid":
		return GridPartition, nil
	case "blue_noise":
		return BlueNoisePartition, nil
	}
	return nil, errors.Errorf("unknown partition kind %q", kind)
}

// SetOfPartitions returns one PixelPartition per entry of granularity.
func SetOfPartitions(rows, cols int, granularity []int, rng *rand.Rand) ([]Partition, error) {
	return SetOf(PixelPartition, rows, cols, granularity, rng)
}

// SetOf returns one partition built by fn per entry of granularity.
func SetOf(fn Func, rows, cols int, granularity []int, rng *rand.Rand) ([]Partition, error) {
	res := make([]Partition, len(granularity))
	for index, numSubsets := range granularity {
		p, err := fn(rows, cols, numSubsets, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "granularity %v", index)
		}
		res[index] = p
	}
	return res, nil
}

// Sequence returns the first maxIterations entries of sequence, extending
// it with its last element when it is too short.
func Sequence(sequence []int, maxIterations int) []int {
	res := make([]int, maxIterations)
	if len(sequence) == 0 {
		return res
	}
	for index := range res {
		if index < len(sequence) {
			res[index] = sequence[index]
		} else {
			res[index] = sequence[len(sequence)-1]
		}
	}
	return res
}
