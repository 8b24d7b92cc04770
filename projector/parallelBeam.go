// Package projector implements the parallel beam system matrix. Voxel
// cylinders are assumed to have slices aligned with detector rows, so the
// projection of a cylinder slice lands entirely in one detector row and
// only the channel direction needs a point spread function.
package projector

import (
	"context"
	"runtime"
	"sync"

	"github.com/caden-cardell/mbirjax/metrics"
	"github.com/caden-cardell/mbirjax/partition"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	"github.com/shaj13/libcache"
	_ "github.com/shaj13/libcache/lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Projector is the linear forward model A and its adjoint restricted to a
// subset of pixels.
type Projector interface {
	// Geometry returns the scanner description
	Geometry() *Geometry
	// SparseForwardProject computes A_S x_S for the voxel cylinders at pixels.
	SparseForwardProject(ctx context.Context, cylinders *mat.Dense, pixels []int) (*Sinogram, error)
	// SparseBackProject computes (A_S^coeffPower)^T y for the pixels.
	SparseBackProject(ctx context.Context, sinogram *Sinogram, pixels []int, coeffPower int) (*mat.Dense, error)
}

// ParallelBeam is the parallel beam Projector.
type ParallelBeam struct {
	geometry *Geometry
	// Maximum number of concurrent view computations, GOMAXPROCS when <= 0
	Workers int
	// derived operators (Hessian diagonals, filters)
	cache libcache.Cache
}

// NewParallelBeam returns a projector for a validated geometry.
func NewParallelBeam(geometry *Geometry) (*ParallelBeam, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	return &ParallelBeam{
		geometry: geometry,
		cache:    libcache.LRU.New(16),
	}, nil
}

// Geometry returns the scanner description.
func (pb *ParallelBeam) Geometry() *Geometry {
	return pb.geometry
}

func (pb *ParallelBeam) workers() int {
	if pb.Workers > 0 {
		return pb.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ForwardProjectPixelBatchToOneView adds the projection of the voxel
// cylinders (len(pixels) by slices) at angle into view (rows by channels).
func (pb *ParallelBeam) ForwardProjectPixelBatchToOneView(cylinders *mat.Dense, pixels []int, angle float64, view *mat.Dense) {
	g := pb.geometry
	pd := g.computeProjData(pixels, angle)
	radius := g.PSFRadius()
	raw := view.RawMatrix()

	for index := range pixels {
		cyl := cylinders.RawRowView(index)
		for offset := -radius; offset <= radius; offset++ {
			n := pd.center[index] + offset
			a := g.coefficient(pd, pd.n[index], n)
			if a == 0 {
				continue
			}
			// view[:, n] += a cyl
			for k := 0; k < raw.Rows; k++ {
				raw.Data[k*raw.Stride+n] += a * cyl[k]
			}
		}
	}
}

// BackProjectOneViewToPixelBatch adds the back projection of view at angle
// into cylinders (len(pixels) by slices). The system matrix entries are
// raised to coeffPower, which is 1 for the adjoint and 2 for the Hessian
// diagonal.
func (pb *ParallelBeam) BackProjectOneViewToPixelBatch(view *mat.Dense, pixels []int, angle float64, coeffPower int, cylinders *mat.Dense) {
	g := pb.geometry
	pd := g.computeProjData(pixels, angle)
	radius := g.PSFRadius()
	raw := view.RawMatrix()

	for index := range pixels {
		cyl := cylinders.RawRowView(index)
		for offset := -radius; offset <= radius; offset++ {
			n := pd.center[index] + offset
			a := g.coefficient(pd, pd.n[index], n)
			if a == 0 {
				continue
			}
			a = power(a, coeffPower)
			// cyl += a view[:, n]
			for k := 0; k < raw.Rows; k++ {
				cyl[k] += a * raw.Data[k*raw.Stride+n]
			}
		}
	}
}

func power(a float64, p int) float64 {
	res := 1.
	for i := 0; i < p; i++ {
		res *= a
	}
	return res
}

// SparseForwardProject projects the voxel cylinders at pixels into a new
// sinogram. Views are computed concurrently.
func (pb *ParallelBeam) SparseForwardProject(ctx context.Context, cylinders *mat.Dense, pixels []int) (*Sinogram, error) {
	r, c := cylinders.Dims()
	if r != len(pixels) || c != pb.geometry.SinogramShape[1] {
		return nil, errors.Wrapf(ErrShapeMismatch, "cylinders (%v, %v) for %v pixels and %v detector rows",
			r, c, len(pixels), pb.geometry.SinogramShape[1])
	}
	sinogram := NewSinogram(pb.geometry.SinogramShape)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(pb.workers())
	for view, angle := range pb.geometry.Angles {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Every view owns its slab of the sinogram
			pb.ForwardProjectPixelBatchToOneView(cylinders, pixels, angle, sinogram.View(view))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "forward projection")
	}
	metrics.Projections.WithLabelValues("forward").Add(float64(len(pb.geometry.Angles)))
	return sinogram, nil
}

// SparseBackProject back projects sinogram onto the voxel cylinders at
// pixels. Views are split into one batch per worker; each batch
// accumulates privately and the partial results are summed.
func (pb *ParallelBeam) SparseBackProject(ctx context.Context, sinogram *Sinogram, pixels []int, coeffPower int) (*mat.Dense, error) {
	if sinogram.Shape() != pb.geometry.SinogramShape {
		return nil, errors.Wrapf(ErrShapeMismatch, "sinogram shape %v, geometry expects %v", sinogram.Shape(), pb.geometry.SinogramShape)
	}
	numSlices := pb.geometry.SinogramShape[1]
	res := mat.NewDense(len(pixels), numSlices, nil)
	if len(pixels) == 0 {
		return res, nil
	}

	numViews := len(pb.geometry.Angles)
	numBatches := pb.workers()
	if numBatches > numViews {
		numBatches = numViews
	}
	batchSize := (numViews + numBatches - 1) / numBatches

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	for start := 0; start < numViews; start += batchSize {
		stop := min(start+batchSize, numViews)
		eg.Go(func() error {
			partial := mat.NewDense(len(pixels), numSlices, nil)
			for view := start; view < stop; view++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				pb.BackProjectOneViewToPixelBatch(sinogram.View(view), pixels, pb.geometry.Angles[view], coeffPower, partial)
			}
			mu.Lock()
			res.Add(res, partial)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "back projection")
	}
	metrics.Projections.WithLabelValues("back").Add(float64(numViews))
	return res, nil
}

// ForwardProject projects every pixel of the region of reconstruction.
func (pb *ParallelBeam) ForwardProject(ctx context.Context, recon *volume.Volume) (*Sinogram, error) {
	if recon.Shape() != pb.geometry.ReconShape {
		return nil, errors.Wrapf(ErrShapeMismatch, "recon shape %v, geometry expects %v", recon.Shape(), pb.geometry.ReconShape)
	}
	pixels := partition.FullIndices(recon.Rows, recon.Cols)
	return pb.SparseForwardProject(ctx, recon.Gather(pixels), pixels)
}

// BackProject back projects onto every pixel of the region of
// reconstruction. Pixels outside it are zero.
func (pb *ParallelBeam) BackProject(ctx context.Context, sinogram *Sinogram) (*volume.Volume, error) {
	return pb.backProject(ctx, sinogram, 1)
}

func (pb *ParallelBeam) backProject(ctx context.Context, sinogram *Sinogram, coeffPower int) (*volume.Volume, error) {
	shape := pb.geometry.ReconShape
	pixels := partition.FullIndices(shape[0], shape[1])
	cylinders, err := pb.SparseBackProject(ctx, sinogram, pixels, coeffPower)
	if err != nil {
		return nil, err
	}
	res := volume.New(shape[0], shape[1], shape[2])
	res.Scatter(pixels, cylinders)
	return res, nil
}

// HessianDiagonal returns (A^2)^T weights, the diagonal of A^T W A. Results
// are cached per geometry and weights.
func (pb *ParallelBeam) HessianDiagonal(ctx context.Context, weights *Sinogram) (*volume.Volume, error) {
	key := "hessian:" + fingerprint(pb.geometry, weights)
	if v, ok := pb.cache.Load(key); ok {
		metrics.CacheLookups.WithLabelValues("hessian", "hit").Inc()
		return v.(*volume.Volume).Clone(), nil
	}
	metrics.CacheLookups.WithLabelValues("hessian", "miss").Inc()
	log.WithFields(log.Fields{"recon_shape": pb.geometry.ReconShape}).Debug("computing Hessian diagonal")

	res, err := pb.backProject(ctx, weights, 2)
	if err != nil {
		return nil, errors.Wrap(err, "hessian diagonal")
	}
	pb.cache.Store(key, res.Clone())
	return res, nil
}
