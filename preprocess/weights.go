// Package preprocess derives sinogram weights from the measurements.
package preprocess

import (
	"context"
	"math"

	"github.com/caden-cardell/mbirjax/gonumExtensions"
	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Weight types.
const (
	Unweighted       = "unweighted"
	Transmission     = "transmission"
	TransmissionRoot = "transmission_root"
	Emission         = "emission"
)

var (
	// ErrUnknownWeightType is returned for an unsupported weight type.
	ErrUnknownWeightType = errors.New("unknown weight type")
	// ErrNonFinite is returned for inputs holding NaN or Inf.
	ErrNonFinite = errors.New("input holds NaN or Inf")
)

// Weights returns the weights Lambda for sinogram:
//
//	unweighted         1
//	transmission       exp(-y)
//	transmission_root  exp(-y/2)
//	emission           1 / (|y| + 0.1)
func Weights(sinogram *projector.Sinogram, kind string) (*projector.Sinogram, error) {
	var fn func(float64) float64
	switch kind {
	case Unweighted:
		return sinogram.Ones(), nil
	case Transmission:
		fn = func(y float64) float64 { return math.Exp(-y) }
	case TransmissionRoot:
		fn = func(y float64) float64 { return math.Exp(-y / 2) }
	case Emission:
		fn = func(y float64) float64 { return 1 / (math.Abs(y) + 0.1) }
	default:
		return nil, errors.Wrapf(ErrUnknownWeightType, "%q", kind)
	}
	res := projector.NewSinogram(sinogram.Shape())
	for index, value := range sinogram.Data {
		res.Data[index] = fn(value)
	}
	return res, nil
}

// ForwardProjector projects a full volume.
type ForwardProjector interface {
	ForwardProject(ctx context.Context, recon *volume.Volume) (*projector.Sinogram, error)
}

// MAROptions configures WeightsMAR.
type MAROptions struct {
	// Optional reconstruction used to locate the metal. Without it the
	// distorted entries are found by thresholding the sinogram.
	InitRecon *volume.Volume
	// Voxels above this value are metal. Nil estimates it from InitRecon.
	MetalThreshold *float64
	// Overall weight scale
	Beta float64
	// Extra attenuation of the rays through metal
	Gamma float64
}

// DefaultMAROptions returns beta 1 and gamma 3.
func DefaultMAROptions() MAROptions {
	return MAROptions{Beta: 1, Gamma: 3}
}

// WeightsMAR returns metal artifact reduction weights
// exp(-y (1 + gamma delta) / beta), where delta marks the sinogram entries
// whose rays cross metal.
func WeightsMAR(ctx context.Context, fp ForwardProjector, sinogram *projector.Sinogram, opts MAROptions) (*projector.Sinogram, error) {
	if opts.Beta <= 0 {
		return nil, errors.Errorf("beta must be positive, got %v", opts.Beta)
	}
	if gonumExtensions.HasNaNOrInf(sinogram.Data) {
		return nil, errors.Wrap(ErrNonFinite, "sinogram")
	}
	metal := make([]bool, len(sinogram.Data))
	if opts.InitRecon == nil {
		thresholds, err := MultiThresholdOtsu(sinogram.Data, 3)
		if err != nil {
			return nil, errors.Wrap(err, "sinogram metal threshold")
		}
		log.WithField("threshold", thresholds[1]).Info("distorted sinogram threshold")
		for index, value := range sinogram.Data {
			metal[index] = value > thresholds[1]
		}
	} else {
		var threshold float64
		if opts.MetalThreshold != nil {
			threshold = *opts.MetalThreshold
		} else {
			thresholds, err := MultiThresholdOtsu(opts.InitRecon.Data, 3)
			if err != nil {
				return nil, errors.Wrap(err, "recon metal threshold")
			}
			threshold = thresholds[1]
		}
		log.WithField("metal_threshold", threshold).Info("metal threshold")

		mask := volume.New(opts.InitRecon.Rows, opts.InitRecon.Cols, opts.InitRecon.Slices)
		for index, value := range opts.InitRecon.Data {
			if value > threshold {
				mask.Data[index] = 1
			}
		}
		projected, err := fp.ForwardProject(ctx, mask)
		if err != nil {
			return nil, errors.Wrap(err, "projecting metal mask")
		}
		if projected.Shape() != sinogram.Shape() {
			return nil, errors.Wrapf(projector.ErrShapeMismatch, "metal projection %v, sinogram %v", projected.Shape(), sinogram.Shape())
		}
		for index, value := range projected.Data {
			metal[index] = value > 0
		}
	}

	res := projector.NewSinogram(sinogram.Shape())
	for index, y := range sinogram.Data {
		scale := 1.
		if metal[index] {
			scale += opts.Gamma
		}
		res.Data[index] = math.Exp(-y * scale / opts.Beta)
	}
	return res, nil
}
