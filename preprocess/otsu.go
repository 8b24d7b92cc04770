package preprocess

import (
	"math"
	"slices"

	"github.com/caden-cardell/mbirjax/gonumExtensions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const otsuBins = 256

// MultiThresholdOtsu splits values into classes by maximizing the between
// class variance over every choice of classes-1 thresholds on a histogram.
// Thresholds are returned in increasing order; a value belongs to class k
// when it lies above exactly k thresholds.
func MultiThresholdOtsu(values []float64, classes int) ([]float64, error) {
	if classes < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %v", classes)
	}
	if len(values) == 0 {
		return nil, errors.New("no values to threshold")
	}
	if gonumExtensions.HasNaNOrInf(values) {
		return nil, errors.Wrap(ErrNonFinite, "values to threshold")
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		res := make([]float64, classes-1)
		for index := range res {
			res[index] = lo
		}
		return res, nil
	}

	dividers := floats.Span(make([]float64, otsuBins+1), lo, hi)
	dividers[otsuBins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	// prefix sums of the bin weights and first moments
	weight := make([]float64, otsuBins+1)
	moment := make([]float64, otsuBins+1)
	for bin, count := range counts {
		center := (dividers[bin] + dividers[bin+1]) / 2
		weight[bin+1] = weight[bin] + count
		moment[bin+1] = moment[bin] + count*center
	}
	// score of the class made of bins [from, to)
	score := func(from, to int) float64 {
		w := weight[to] - weight[from]
		if w == 0 {
			return 0
		}
		m := moment[to] - moment[from]
		return m * m / w
	}

	best := math.Inf(-1)
	bestCuts := make([]int, classes-1)
	cuts := make([]int, classes-1)
	var search func(level, from int, acc float64)
	search = func(level, from int, acc float64) {
		if level == len(cuts) {
			if total := acc + score(from, otsuBins); total > best {
				best = total
				copy(bestCuts, cuts)
			}
			return
		}
		// leave room for the remaining classes
		for cut := from + 1; cut <= otsuBins-(len(cuts)-level); cut++ {
			cuts[level] = cut
			search(level+1, cut, acc+score(from, cut))
		}
	}
	search(0, 0, 0)

	res := make([]float64, classes-1)
	for index, cut := range bestCuts {
		res[index] = dividers[cut]
	}
	return res, nil
}
