package projector

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/caden-cardell/mbirjax/partition"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func angles(numViews int) []float64 {
	res := make([]float64, numViews)
	for index := range res {
		res[index] = math.Pi * float64(index) / float64(numViews)
	}
	return res
}

func newTestProjector(t *testing.T, views, rows, channels int) *ParallelBeam {
	t.Helper()
	g, err := NewParallelBeamGeometry([3]int{views, rows, channels}, angles(views))
	require.NoError(t, err)
	pb, err := NewParallelBeam(g)
	require.NoError(t, err)
	return pb
}

func randomVolume(shape [3]int, rng *rand.Rand) *volume.Volume {
	v := volume.New(shape[0], shape[1], shape[2])
	for index := range v.Data {
		v.Data[index] = rng.Float64()
	}
	return v
}

func TestGeometryDefaults(t *testing.T) {
	g, err := NewParallelBeamGeometry([3]int{12, 3, 20}, angles(12))
	require.NoError(t, err)
	assert.Equal(t, [3]int{20, 20, 3}, g.ReconShape)
	assert.Equal(t, 1, g.PSFRadius())
	assert.Equal(t, 1., g.Magnification())

	g.DeltaVoxel = 3
	assert.Equal(t, 2, g.PSFRadius())
	assert.Equal(t, [3]int{7, 7, 1}, g.AutoReconShape())
}

func TestGeometryValidate(t *testing.T) {
	_, err := NewParallelBeamGeometry([3]int{12, 3, 20}, angles(11))
	assert.True(t, errors.Is(err, ErrInvalidGeometry))

	g, err := NewParallelBeamGeometry([3]int{12, 3, 20}, angles(12))
	require.NoError(t, err)
	g.ReconShape[2] = 4
	assert.True(t, errors.Is(g.Validate(), ErrInvalidGeometry))
}

// The back projector must be the exact adjoint of the forward projector:
// <A x, y> = <x, A^T y>.
func TestAdjoint(t *testing.T) {
	for _, deltaVoxel := range []float64{1, 0.7, 2.5} {
		g, err := NewParallelBeamGeometry([3]int{9, 2, 15}, angles(9))
		require.NoError(t, err)
		g.DeltaVoxel = deltaVoxel
		g.DetChannelOffset = 0.3
		g.ReconShape = g.AutoReconShape()
		g.ReconShape[2] = 2
		pb, err := NewParallelBeam(g)
		require.NoError(t, err)

		rng := rand.New(rand.NewPCG(3, 4))
		x := randomVolume(g.ReconShape, rng)
		y := NewSinogram(g.SinogramShape)
		for index := range y.Data {
			y.Data[index] = rng.Float64()
		}

		ax, err := pb.ForwardProject(context.Background(), x)
		require.NoError(t, err)
		aty, err := pb.BackProject(context.Background(), y)
		require.NoError(t, err)

		// x outside the ROR does not contribute
		mask := partition.RORMask(g.ReconShape[0], g.ReconShape[1])
		require.NoError(t, x.ApplyMask(mask))

		lhs := floats.Dot(ax.Data, y.Data)
		rhs := floats.Dot(x.Data, aty.Data)
		assert.InDelta(t, lhs, rhs, 1e-9*math.Abs(lhs), "delta voxel %v", deltaVoxel)
	}
}

// A single centred voxel at angle 0 spreads its length over the centre
// channel only.
func TestSingleVoxelProjection(t *testing.T) {
	pb := newTestProjector(t, 1, 1, 5)
	pixels := []int{2*5 + 2}
	cyl := mat.NewDense(1, 1, []float64{1})
	view := mat.NewDense(1, 5, nil)
	pb.ForwardProjectPixelBatchToOneView(cyl, pixels, 0, view)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 0, 0}, view.RawRowView(0), 1e-12)

	// Any angle preserves the voxel area
	view.Zero()
	pb.ForwardProjectPixelBatchToOneView(cyl, pixels, math.Pi/4, view)
	assert.InDelta(t, 1., floats.Sum(view.RawRowView(0)), 1e-12)
}

func TestHessianDiagonal(t *testing.T) {
	pb := newTestProjector(t, 6, 2, 9)
	weights := NewSinogram(pb.Geometry().SinogramShape).Ones()
	ctx := context.Background()

	hessian, err := pb.HessianDiagonal(ctx, weights)
	require.NoError(t, err)

	// Compare against the squared column norms of A
	shape := pb.Geometry().ReconShape
	pixels := partition.FullIndices(shape[0], shape[1])
	for _, p := range pixels[:5] {
		unit := volume.New(shape[0], shape[1], shape[2])
		unit.Cylinder(p)[0] = 1
		column, err := pb.ForwardProject(ctx, unit)
		require.NoError(t, err)
		norm := floats.Dot(column.Data, column.Data)
		assert.InDelta(t, norm, hessian.Cylinder(p)[0], 1e-12)
	}

	// cached
	again, err := pb.HessianDiagonal(ctx, weights)
	require.NoError(t, err)
	assert.Equal(t, hessian.Data, again.Data)
}

func TestSparseForwardProjectShapeMismatch(t *testing.T) {
	pb := newTestProjector(t, 3, 2, 5)
	_, err := pb.SparseForwardProject(context.Background(), mat.NewDense(2, 3, nil), []int{0, 1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestProjectionCancelled(t *testing.T) {
	pb := newTestProjector(t, 8, 2, 9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pb.BackProject(ctx, NewSinogram(pb.Geometry().SinogramShape))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	pb := newTestProjector(t, 7, 2, 11)
	rng := rand.New(rand.NewPCG(5, 6))
	sino := NewSinogram(pb.Geometry().SinogramShape)
	for index := range sino.Data {
		sino.Data[index] = rng.Float64()
	}
	pb.Workers = 1
	serial, err := pb.BackProject(context.Background(), sino)
	require.NoError(t, err)
	pb.Workers = 4
	parallel, err := pb.BackProject(context.Background(), sino)
	require.NoError(t, err)
	assert.InDeltaSlice(t, serial.Data, parallel.Data, 1e-12)
}
