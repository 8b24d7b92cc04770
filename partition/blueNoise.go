package partition

import (
	"math"
	"math/rand/v2"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// Side length of the blue noise dither tile
	blueNoiseSide = 64
	// Dither values lie in [0, blueNoiseLevels)
	blueNoiseLevels = 1 << 16
	// Width of the Gaussian used to measure clusters and voids
	blueNoiseSigma = 1.5
	blueNoiseSeed  = 256
)

var (
	blueNoiseOnce    sync.Once
	blueNoisePattern []int
)

// BlueNoisePattern returns a blueNoiseSide x blueNoiseSide dither array in
// row major order with values in [0, 2^16). It is generated once with the
// void-and-cluster method.
func BlueNoisePattern() []int {
	blueNoiseOnce.Do(func() {
		blueNoisePattern = voidAndCluster(blueNoiseSide, blueNoiseSigma, rand.New(rand.NewPCG(blueNoiseSeed, blueNoiseSeed)))
	})
	return blueNoisePattern
}

// energyField keeps the Gaussian weighted density of the ones of a binary
// pattern on a torus.
type energyField struct {
	side   int
	kernel []float64
	energy []float64
	ones   []bool
}

func newEnergyField(side int, sigma float64) *energyField {
	kernel := make([]float64, side*side)
	for dy := 0; dy < side; dy++ {
		for dx := 0; dx < side; dx++ {
			// Toroidal distance
			y := float64(min(dy, side-dy))
			x := float64(min(dx, side-dx))
			kernel[dy*side+dx] = math.Exp(-(x*x + y*y) / (2 * sigma * sigma))
		}
	}
	return &energyField{side, kernel, make([]float64, side*side), make([]bool, side*side)}
}

func (ef *energyField) toggle(p int, on bool) {
	sign := 1.
	if !on {
		sign = -1
	}
	ef.ones[p] = on
	py, px := p/ef.side, p%ef.side
	for qy := 0; qy < ef.side; qy++ {
		dy := (qy - py + ef.side) % ef.side
		for qx := 0; qx < ef.side; qx++ {
			dx := (qx - px + ef.side) % ef.side
			ef.energy[qy*ef.side+qx] += sign * ef.kernel[dy*ef.side+dx]
		}
	}
}

// tightestCluster is the one with the highest energy.
func (ef *energyField) tightestCluster() int {
	best, bestEnergy := -1, math.Inf(-1)
	for p, on := range ef.ones {
		if on && ef.energy[p] > bestEnergy {
			best, bestEnergy = p, ef.energy[p]
		}
	}
	return best
}

// largestVoid is the zero with the lowest energy.
func (ef *energyField) largestVoid() int {
	best, bestEnergy := -1, math.Inf(1)
	for p, on := range ef.ones {
		if !on && ef.energy[p] < bestEnergy {
			best, bestEnergy = p, ef.energy[p]
		}
	}
	return best
}

func voidAndCluster(side int, sigma float64, rng *rand.Rand) []int {
	size := side * side
	ef := newEnergyField(side, sigma)

	// Initial random pattern with a tenth of the pixels set
	numOnes := size / 10
	for _, p := range rng.Perm(size)[:numOnes] {
		ef.toggle(p, true)
	}
	// Move ones from clusters to voids until the pattern is stable
	for iteration := 0; iteration < size; iteration++ {
		cluster := ef.tightestCluster()
		ef.toggle(cluster, false)
		void := ef.largestVoid()
		if void == cluster {
			ef.toggle(cluster, true)
			break
		}
		ef.toggle(void, true)
	}
	prototype := make([]bool, size)
	copy(prototype, ef.ones)
	prototypeEnergy := make([]float64, size)
	copy(prototypeEnergy, ef.energy)

	rank := make([]int, size)
	// Phase 1: rank the ones of the prototype by removing clusters
	for r := numOnes - 1; r >= 0; r-- {
		cluster := ef.tightestCluster()
		ef.toggle(cluster, false)
		rank[cluster] = r
	}
	// Phase 2: fill the voids of the prototype
	copy(ef.ones, prototype)
	copy(ef.energy, prototypeEnergy)
	for r := numOnes; r < size; r++ {
		void := ef.largestVoid()
		ef.toggle(void, true)
		rank[void] = r
	}

	res := make([]int, size)
	for p, r := range rank {
		res[p] = r * blueNoiseLevels / size
	}
	return res
}

// BlueNoisePartition splits the region of reconstruction by thresholding a
// tiled blue noise pattern into numSubsets classes, so that every subset is
// spread without clumps. It falls back to PixelPartition when a class is
// empty or there are more subsets than pixels.
func BlueNoisePartition(rows, cols, numSubsets int, rng *rand.Rand) (Partition, error) {
	if numSubsets <= 0 || numSubsets > blueNoiseLevels {
		return PixelPartition(rows, cols, numSubsets, rng)
	}
	pattern := BlueNoisePattern()
	mask := RORMask(rows, cols)
	levelsPerSubset := float64(blueNoiseLevels) / float64(numSubsets)

	labels := make([]int, rows*cols)
	numValid := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			p := row*cols + col
			if !mask[p] {
				labels[p] = -1
				continue
			}
			value := pattern[(row%blueNoiseSide)*blueNoiseSide+col%blueNoiseSide]
			labels[p] = int(math.Floor(float64(value) / levelsPerSubset))
			numValid++
		}
	}
	if numSubsets > numValid {
		return PixelPartition(rows, cols, numSubsets, rng)
	}

	subsets := groupLabels(labels, numSubsets, false)
	for _, s := range subsets {
		if len(s) == 0 {
			log.WithField("num_subsets", numSubsets).Debug("empty blue noise class, using a random partition")
			return PixelPartition(rows, cols, numSubsets, rng)
		}
	}
	return equalize(subsets, rng), nil
}
