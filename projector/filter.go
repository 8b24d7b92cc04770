package projector

import (
	"context"
	"math"
	"strconv"

	"github.com/caden-cardell/mbirjax/metrics"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Filter names accepted by DirectReconFilter.
const (
	FilterRamp       = "ramp"
	FilterSheppLogan = "shepp-logan"
)

// DirectReconFilter returns the spatial filter of length 2*channels-1 used
// for filtered back projection. Entry channels-1 is the zero offset.
func DirectReconFilter(channels int, name string) ([]float64, error) {
	res := make([]float64, 2*channels-1)
	for index := range res {
		n := float64(index - (channels - 1))
		switch name {
		case FilterRamp:
			switch {
			case n == 0:
				res[index] = 1. / 4.
			case int(n)%2 != 0:
				res[index] = -1. / ((math.Pi * n) * (math.Pi * n))
			}
		case FilterSheppLogan:
			res[index] = -2. / (math.Pi * math.Pi * (4*n*n - 1))
		default:
			return nil, errors.Errorf("unsupported filter %q", name)
		}
	}
	return res, nil
}

// rowFilter convolves detector rows with a fixed filter through the FFT.
type rowFilter struct {
	channels int
	fft      *fourier.FFT
	// FFT of the zero padded filter
	coefficients []complex128
}

func newRowFilter(channels int, filter []float64) *rowFilter {
	// Full linear convolution length, so the circular FFT product does not wrap
	size := 3*channels - 2
	fft := fourier.NewFFT(size)
	padded := make([]float64, size)
	copy(padded, filter)
	return &rowFilter{channels, fft, fft.Coefficients(nil, padded)}
}

// apply writes the "valid" part of row * filter into dst, that is
// dst[k] = sum_i row[i] filter[k - i + channels - 1].
func (rf *rowFilter) apply(dst, row []float64) {
	size := 3*rf.channels - 2
	padded := make([]float64, size)
	copy(padded, row)
	coeff := rf.fft.Coefficients(nil, padded)
	for index := range coeff {
		coeff[index] *= rf.coefficients[index]
	}
	full := rf.fft.Sequence(nil, coeff)
	// Sequence is unnormalized
	floats.ScaleTo(dst, 1./float64(size), full[rf.channels-1:2*rf.channels-1])
}

func (pb *ParallelBeam) rowFilter(name string) (*rowFilter, error) {
	channels := pb.geometry.SinogramShape[2]
	key := "filter:" + name + ":" + strconv.Itoa(channels) + ":" + strconv.FormatFloat(pb.geometry.DeltaVoxel, 'g', -1, 64)
	if v, ok := pb.cache.Load(key); ok {
		metrics.CacheLookups.WithLabelValues("filter", "hit").Inc()
		return v.(*rowFilter), nil
	}
	metrics.CacheLookups.WithLabelValues("filter", "miss").Inc()
	filter, err := DirectReconFilter(channels, name)
	if err != nil {
		return nil, err
	}
	// Account for the voxel size
	floats.Scale(1./(pb.geometry.DeltaVoxel*pb.geometry.DeltaVoxel), filter)
	rf := newRowFilter(channels, filter)
	pb.cache.Store(key, rf)
	return rf, nil
}

// FBPFilter filters every detector row of sinogram for filtered back
// projection.
func (pb *ParallelBeam) FBPFilter(ctx context.Context, sinogram *Sinogram, name string) (*Sinogram, error) {
	if sinogram.Shape() != pb.geometry.SinogramShape {
		return nil, errors.Wrapf(ErrShapeMismatch, "sinogram shape %v, geometry expects %v", sinogram.Shape(), pb.geometry.SinogramShape)
	}
	rf, err := pb.rowFilter(name)
	if err != nil {
		return nil, err
	}
	res := NewSinogram(sinogram.Shape())
	channels := sinogram.Channels

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(pb.workers())
	for view := 0; view < sinogram.Views; view++ {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// FFT plans keep internal work space, so every view gets its own
			local := &rowFilter{rf.channels, fourier.NewFFT(rf.fft.Len()), rf.coefficients}
			offset := view * sinogram.Rows * channels
			for row := 0; row < sinogram.Rows; row++ {
				start := offset + row*channels
				local.apply(res.Data[start:start+channels], sinogram.Data[start:start+channels])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "fbp filter")
	}
	return res, nil
}

// FBPRecon computes the filtered back projection reconstruction.
func (pb *ParallelBeam) FBPRecon(ctx context.Context, sinogram *Sinogram, name string) (*volume.Volume, error) {
	filtered, err := pb.FBPFilter(ctx, sinogram, name)
	if err != nil {
		return nil, err
	}
	recon, err := pb.BackProject(ctx, filtered)
	if err != nil {
		return nil, err
	}
	floats.Scale(math.Pi/float64(sinogram.Views), recon.Data)
	return recon, nil
}
