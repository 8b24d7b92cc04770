// Package mbirjax performs model based iterative reconstruction of
// parallel beam tomography data.
//
// A ParallelBeamModel couples the scanner geometry with the reconstruction
// parameters and exposes projection, reconstruction, weighting and phantom
// generation.
package mbirjax

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"

	"github.com/caden-cardell/mbirjax/manifest"
	"github.com/caden-cardell/mbirjax/params"
	"github.com/caden-cardell/mbirjax/phantom"
	"github.com/caden-cardell/mbirjax/preprocess"
	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/reconstruct"
	"github.com/caden-cardell/mbirjax/simulate"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ParallelBeamModel is the overall entry point for projecting and
// reconstructing parallel beam data.
type ParallelBeamModel struct {
	sinogramShape [3]int
	angles        []float64
	params        params.Params
	projector     *projector.ParallelBeam
	// level follows the verbose parameter
	logger        *log.Logger
}

// NewParallelBeamModel returns a model with default parameters for
// sinograms of shape (views, rows, channels) taken at angles (radians).
func NewParallelBeamModel(sinogramShape [3]int, angles []float64) (*ParallelBeamModel, error) {
	m := &ParallelBeamModel{
		sinogramShape: sinogramShape,
		angles:        append([]float64(nil), angles...),
		logger:        log.New(),
	}
	if err := m.apply(params.Default()); err != nil {
		return nil, err
	}
	return m, nil
}

// apply rebuilds the geometry and projector for p.
func (m *ParallelBeamModel) apply(p params.Params) error {
	g, err := projector.NewParallelBeamGeometry(m.sinogramShape, m.angles)
	if err != nil {
		return err
	}
	g.DeltaDetChannel = p.DeltaDetChannel
	g.DeltaDetRow = p.DeltaDetRow
	g.DetChannelOffset = p.DetChannelOffset
	g.DeltaVoxel = p.DeltaVoxel
	if len(p.ReconShape) == 3 {
		g.ReconShape = [3]int{p.ReconShape[0], p.ReconShape[1], p.ReconShape[2]}
	} else {
		g.ReconShape = g.AutoReconShape()
	}
	pb, err := projector.NewParallelBeam(g)
	if err != nil {
		return err
	}
	pb.Workers = p.Workers
	m.logger.SetLevel(p.LogLevel())

	m.params = p
	m.projector = pb
	return nil
}

// SetParams updates the named parameters. Geometry changes rebuild the
// projector; on error the model is left unchanged.
func (m *ParallelBeamModel) SetParams(values map[string]interface{}) error {
	p, err := m.params.With(values)
	if err != nil {
		return err
	}
	return m.apply(p)
}

// Params returns a copy of the current parameters.
func (m *ParallelBeamModel) Params() params.Params {
	return m.params
}

// Logger returns the logger of the model. Its level follows the verbose
// parameter.
func (m *ParallelBeamModel) Logger() *log.Logger {
	return m.logger
}

// Geometry returns the scanner description derived from the parameters.
func (m *ParallelBeamModel) Geometry() *projector.Geometry {
	return m.projector.Geometry()
}

// PrintParams writes every parameter as "name: value", sorted by name.
func (m *ParallelBeamModel) PrintParams(w io.Writer) error {
	values := m.params.Map()
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintf(w, "%v: %v\n", key, values[key]); err != nil {
			return err
		}
	}
	return nil
}

// SaveParams writes the parameters to a YAML file.
func (m *ParallelBeamModel) SaveParams(path string) error {
	return m.params.Save(path)
}

// LoadParams replaces the parameters with the content of a YAML file.
func (m *ParallelBeamModel) LoadParams(path string) error {
	p, err := params.Load(path)
	if err != nil {
		return err
	}
	return m.apply(p)
}

func (m *ParallelBeamModel) ForwardProject(ctx context.Context, recon *volume.Volume) (*projector.Sinogram, error) {
	return m.projector.ForwardProject(ctx, recon)
}

func (m *ParallelBeamModel) BackProject(ctx context.Context, sinogram *projector.Sinogram) (*volume.Volume, error) {
	return m.projector.BackProject(ctx, sinogram)
}

// Recon computes the MBIR reconstruction of sinogram with the qGGMRF prior.
func (m *ParallelBeamModel) Recon(ctx context.Context, sinogram *projector.Sinogram, opts ...reconstruct.Option) (*volume.Volume, *reconstruct.Info, error) {
	vcd, err := reconstruct.NewVCD(m.projector, sinogram, m.params, m.withLogger(opts)...)
	if err != nil {
		return nil, nil, err
	}
	return vcd.Reconstruct(ctx)
}

// ProxMapRecon computes the proximal map of the forward model at target.
func (m *ParallelBeamModel) ProxMapRecon(ctx context.Context, target *volume.Volume, sinogram *projector.Sinogram, opts ...reconstruct.Option) (*volume.Volume, *reconstruct.Info, error) {
	vcd, err := reconstruct.NewProxMap(m.projector, sinogram, target, m.params, m.withLogger(opts)...)
	if err != nil {
		return nil, nil, err
	}
	return vcd.Reconstruct(ctx)
}

// withLogger puts the model logger ahead of opts, so callers may still
// override it.
func (m *ParallelBeamModel) withLogger(opts []reconstruct.Option) []reconstruct.Option {
	return append([]reconstruct.Option{reconstruct.WithLogger(m.logger)}, opts...)
}

// FBPRecon computes the filtered back projection with filter "ramp" or
// "shepp-logan".
func (m *ParallelBeamModel) FBPRecon(ctx context.Context, sinogram *projector.Sinogram, filter string) (*volume.Volume, error) {
	return m.projector.FBPRecon(ctx, sinogram, filter)
}

// GenWeights returns sinogram weights of the given kind.
func (m *ParallelBeamModel) GenWeights(sinogram *projector.Sinogram, kind string) (*projector.Sinogram, error) {
	return preprocess.Weights(sinogram, kind)
}

// GenWeightsMAR returns metal artifact reduction weights.
func (m *ParallelBeamModel) GenWeightsMAR(ctx context.Context, sinogram *projector.Sinogram, opts preprocess.MAROptions) (*projector.Sinogram, error) {
	return preprocess.WeightsMAR(ctx, m.projector, sinogram, opts)
}

// GenModifiedSLPhantom returns the low dynamic range Shepp-Logan phantom
// at the reconstruction shape.
func (m *ParallelBeamModel) GenModifiedSLPhantom() *volume.Volume {
	shape := m.Geometry().ReconShape
	return phantom.SheppLoganLowDynamicRange(shape[0], shape[1], shape[2])
}

// SimulateSinogram forward projects phantom and adds noise at snrDB. The
// noise is seeded from the seed parameter.
func (m *ParallelBeamModel) SimulateSinogram(ctx context.Context, phantom *volume.Volume, snrDB float64) (*projector.Sinogram, error) {
	if phantom.Shape() != m.Geometry().ReconShape {
		return nil, errors.Wrapf(volume.ErrShapeMismatch, "phantom shape %v, recon shape %v", phantom.Shape(), m.Geometry().ReconShape)
	}
	rng := rand.New(rand.NewPCG(m.params.Seed, m.params.Seed+1))
	return simulate.Sinogram(ctx, m.projector, phantom, snrDB, rng)
}

// Manifest returns the package metadata.
func Manifest() (*manifest.Manifest, error) {
	return manifest.Load()
}
