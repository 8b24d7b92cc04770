// Package simulate generates measured sinograms from phantoms. The phantom
// is forward projected and white Gaussian noise is added at a prescribed
// signal to noise ratio.
package simulate

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// ForwardProjector projects a full volume.
type ForwardProjector interface {
	ForwardProject(ctx context.Context, recon *volume.Volume) (*projector.Sinogram, error)
}

// Simulator interface
type Simulator interface {
	Simulate(ctx context.Context, phantom *volume.Volume) (*projector.Sinogram, error)
}

// simulator type
type simulator struct {
	fp    ForwardProjector
	snrDB float64
	rng   *rand.Rand
}

// NewSimulator returns a simulator with noise at snrDB. An infinite SNR
// gives noiseless data.
func NewSimulator(fp ForwardProjector, snrDB float64, rng *rand.Rand) Simulator {
	return &simulator{fp, snrDB, rng}
}

// NoiseSigma returns the noise standard deviation rms(y) 10^(-snr/20).
func NoiseSigma(clean *projector.Sinogram, snrDB float64) float64 {
	if math.IsInf(snrDB, 1) {
		return 0
	}
	rms := floats.Norm(clean.Data, 2) / math.Sqrt(float64(len(clean.Data)))
	return rms * math.Pow(10, -snrDB/20)
}

func (sim *simulator) Simulate(ctx context.Context, phantom *volume.Volume) (*projector.Sinogram, error) {
	sinogram, err := sim.fp.ForwardProject(ctx, phantom)
	if err != nil {
		return nil, errors.Wrap(err, "simulating sinogram")
	}
	sigma := NoiseSigma(sinogram, sim.snrDB)
	log.WithFields(log.Fields{"snr_db": sim.snrDB, "sigma": sigma}).Debug("adding measurement noise")
	if sigma == 0 {
		return sinogram, nil
	}
	for index := range sinogram.Data {
		sinogram.Data[index] += sigma * sim.rng.NormFloat64()
	}
	return sinogram, nil
}

// Sinogram forward projects phantom and adds noise at snrDB.
func Sinogram(ctx context.Context, fp ForwardProjector, phantom *volume.Volume, snrDB float64, rng *rand.Rand) (*projector.Sinogram, error) {
	return NewSimulator(fp, snrDB, rng).Simulate(ctx, phantom)
}
