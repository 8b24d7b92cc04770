package projector

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned when array shapes disagree with the geometry.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidGeometry is returned by Validate.
	ErrInvalidGeometry = errors.New("invalid geometry")
)

// Geometry holds the parallel beam scanner description.
type Geometry struct {
	// (views, detector rows, detector channels)
	SinogramShape [3]int
	// Projection angle of every view in radians
	Angles []float64
	// Detector channel spacing
	DeltaDetChannel float64
	// Detector row spacing
	DeltaDetRow float64
	// Distance from the centre of the detector to the projected rotation axis
	DetChannelOffset float64
	// Voxel side length
	DeltaVoxel float64
	// (rows, cols, slices) of the reconstruction
	ReconShape [3]int
}

// NewParallelBeamGeometry returns a geometry with unit spacings and the
// default reconstruction shape.
func NewParallelBeamGeometry(sinogramShape [3]int, angles []float64) (*Geometry, error) {
	a := make([]float64, len(angles))
	copy(a, angles)
	g := &Geometry{
		SinogramShape:   sinogramShape,
		Angles:          a,
		DeltaDetChannel: 1,
		DeltaDetRow:     1,
		DeltaVoxel:      1,
	}
	g.ReconShape = g.AutoReconShape()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Magnification is the scale factor from a voxel at iso to its projection
// on the detector, which is always 1 for parallel beam.
func (g *Geometry) Magnification() float64 {
	return 1.
}

// PSFRadius is the number of detector channels on either side of the
// centre channel that a voxel can reach.
func (g *Geometry) PSFRadius() int {
	return int(math.Ceil(math.Ceil(g.DeltaVoxel/g.DeltaDetChannel) / 2))
}

// AutoReconShape computes the reconstruction shape that covers the
// detector field of view.
func (g *Geometry) AutoReconShape() [3]int {
	mag := g.Magnification()
	rows := int(math.Ceil(float64(g.SinogramShape[2]) * g.DeltaDetChannel / (g.DeltaVoxel * mag)))
	slices := int(math.Round(float64(g.SinogramShape[1]) * (g.DeltaDetRow / g.DeltaVoxel) / mag))
	return [3]int{rows, rows, slices}
}

// Validate checks that all parameters are compatible for a reconstruction.
func (g *Geometry) Validate() error {
	views, rows, channels := g.SinogramShape[0], g.SinogramShape[1], g.SinogramShape[2]
	if views <= 0 || rows <= 0 || channels <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "sinogram shape %v", g.SinogramShape)
	}
	if len(g.Angles) != views {
		return errors.Wrapf(ErrInvalidGeometry, "got %v angles for %v views", len(g.Angles), views)
	}
	if g.DeltaDetChannel <= 0 || g.DeltaDetRow <= 0 || g.DeltaVoxel <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "spacings must be positive, got channel %v row %v voxel %v",
			g.DeltaDetChannel, g.DeltaDetRow, g.DeltaVoxel)
	}
	if g.ReconShape[0] <= 0 || g.ReconShape[1] <= 0 {
		return errors.Wrapf(ErrInvalidGeometry, "recon shape %v", g.ReconShape)
	}
	if g.ReconShape[2] != rows {
		return errors.Wrapf(ErrInvalidGeometry, "number of recon slices must match number of sinogram rows, got recon shape %v and sinogram shape %v",
			g.ReconShape, g.SinogramShape)
	}
	return nil
}

// projData holds the per-view quantities needed to distribute a batch of
// pixels over the detector channels.
type projData struct {
	// Detector coordinate of every pixel centre, in channels
	n []float64
	// Nearest channel
	center []int
	// Projected voxel width in fractions of a channel
	w float64
	// max(|cos|, |sin|) of the view angle
	cosAlpha float64
}

// computeProjData computes the detector coordinate of each pixel for angle.
func (g *Geometry) computeProjData(pixels []int, angle float64) projData {
	numRows, numCols := g.ReconShape[0], g.ReconShape[1]
	detCenter := (float64(g.SinogramShape[2]) - 1) / 2.
	cosine, sine := math.Cos(angle), math.Sin(angle)

	pd := projData{
		n:      make([]float64, len(pixels)),
		center: make([]int, len(pixels)),
	}
	for index, p := range pixels {
		i, j := p/numCols, p%numCols
		x := g.reconIJToX(i, j, numRows, numCols, cosine, sine)
		pd.n[index] = (x+g.DetChannelOffset)/g.DeltaDetChannel + detCenter
		pd.center[index] = int(math.Round(pd.n[index]))
	}
	pd.cosAlpha = math.Max(math.Abs(cosine), math.Abs(sine))
	pd.w = (g.DeltaVoxel / g.DeltaDetChannel) * pd.cosAlpha
	return pd
}

// reconIJToX converts (row, col) indices into the rotated x coordinate.
// Rows run along y and columns along x.
func (g *Geometry) reconIJToX(i, j, numRows, numCols int, cosine, sine float64) float64 {
	yTilde := g.DeltaVoxel * (float64(i) - (float64(numRows)-1)/2.)
	xTilde := g.DeltaVoxel * (float64(j) - (float64(numCols)-1)/2.)
	return cosine*xTilde - sine*yTilde
}

// coefficient returns the system matrix entry between a pixel at detector
// coordinate np and channel n.
func (g *Geometry) coefficient(pd projData, np float64, n int) float64 {
	if n < 0 || n >= g.SinogramShape[2] {
		return 0
	}
	lMax := math.Min(1, pd.w)
	l := (pd.w+1)/2 - math.Abs(np-float64(n))
	l = math.Max(0, math.Min(l, lMax))
	return g.DeltaVoxel * l / pd.cosAlpha
}
