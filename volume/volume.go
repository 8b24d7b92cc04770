// Package volume holds the 3D voxel arrays produced and consumed by the
// reconstruction. Voxels are stored as [row][col][slice] so that every
// pixel index p = row*Cols + col owns a contiguous voxel cylinder of
// length Slices.
package volume

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when array shapes disagree.
var ErrShapeMismatch = errors.New("shape mismatch")

// Volume is a (rows, cols, slices) array of voxels.
type Volume struct {
	Rows   int
	Cols   int
	Slices int
	// Data holds Rows*Cols*Slices values in [row][col][slice] order
	Data []float64
}

// New returns a zero volume.
func New(rows, cols, slices int) *Volume {
	if rows <= 0 || cols <= 0 || slices <= 0 {
		panic(errors.Errorf("volume: invalid shape (%v, %v, %v)", rows, cols, slices))
	}
	return &Volume{rows, cols, slices, make([]float64, rows*cols*slices)}
}

// FromData wraps data as a volume without copying.
func FromData(rows, cols, slices int, data []float64) (*Volume, error) {
	if rows <= 0 || cols <= 0 || slices <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "invalid shape (%v, %v, %v)", rows, cols, slices)
	}
	if len(data) != rows*cols*slices {
		return nil, errors.Wrapf(ErrShapeMismatch, "got %v values for shape (%v, %v, %v)", len(data), rows, cols, slices)
	}
	return &Volume{rows, cols, slices, data}, nil
}

// Shape returns (rows, cols, slices).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Rows, v.Cols, v.Slices}
}

// NumPixels returns Rows*Cols.
func (v *Volume) NumPixels() int {
	return v.Rows * v.Cols
}

func (v *Volume) index(row, col, slice int) int {
	return (row*v.Cols+col)*v.Slices + slice
}

// At returns the voxel value.
func (v *Volume) At(row, col, slice int) float64 {
	return v.Data[v.index(row, col, slice)]
}

// Set sets the voxel value.
func (v *Volume) Set(row, col, slice int, value float64) {
	v.Data[v.index(row, col, slice)] = value
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{v.Rows, v.Cols, v.Slices, data}
}

// SameShape reports whether both volumes have equal dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Rows == o.Rows && v.Cols == o.Cols && v.Slices == o.Slices
}

// Pixels returns a (Rows*Cols by Slices) view sharing storage with v.
// Row p of the view is the voxel cylinder of pixel p.
func (v *Volume) Pixels() *mat.Dense {
	return mat.NewDense(v.NumPixels(), v.Slices, v.Data)
}

// Cylinder returns the voxel cylinder of pixel p, sharing storage.
func (v *Volume) Cylinder(p int) []float64 {
	return v.Data[p*v.Slices : (p+1)*v.Slices]
}

// Gather copies the voxel cylinders at pixel indices into a
// (len(indices) by Slices) matrix.
func (v *Volume) Gather(indices []int) *mat.Dense {
	res := mat.NewDense(len(indices), v.Slices, nil)
	for row, p := range indices {
		res.SetRow(row, v.Cylinder(p))
	}
	return res
}

// Scatter writes cylinders (len(indices) by Slices) back to pixel indices.
func (v *Volume) Scatter(indices []int, cylinders mat.Matrix) {
	r, c := cylinders.Dims()
	if r != len(indices) || c != v.Slices {
		panic(errors.Wrapf(ErrShapeMismatch, "scatter of (%v, %v) into %v pixels with %v slices", r, c, len(indices), v.Slices))
	}
	for row, p := range indices {
		mat.Row(v.Cylinder(p), row, cylinders)
	}
}

// AddScaledAt adds alpha*cylinders to the voxel cylinders at indices.
func (v *Volume) AddScaledAt(indices []int, alpha float64, cylinders mat.Matrix) {
	r, c := cylinders.Dims()
	if r != len(indices) || c != v.Slices {
		panic(errors.Wrapf(ErrShapeMismatch, "add of (%v, %v) into %v pixels with %v slices", r, c, len(indices), v.Slices))
	}
	tmp := make([]float64, c)
	for row, p := range indices {
		mat.Row(tmp, row, cylinders)
		floats.AddScaled(v.Cylinder(p), alpha, tmp)
	}
}

// Max returns the largest voxel value.
func (v *Volume) Max() float64 {
	return floats.Max(v.Data)
}

// Norm returns the Euclidean norm of all voxels.
func (v *Volume) Norm() float64 {
	return floats.Norm(v.Data, 2)
}

// ApplyMask zeroes every cylinder whose pixel is false in mask.
func (v *Volume) ApplyMask(mask []bool) error {
	if len(mask) != v.NumPixels() {
		return errors.Wrapf(ErrShapeMismatch, "mask of %v pixels for volume of %v pixels", len(mask), v.NumPixels())
	}
	for p, keep := range mask {
		if !keep {
			cyl := v.Cylinder(p)
			for i := range cyl {
				cyl[i] = 0
			}
		}
	}
	return nil
}

// RMSE returns the root mean squared difference between a and b.
func RMSE(a, b *Volume) (float64, error) {
	if !a.SameShape(b) {
		return 0, errors.Wrapf(ErrShapeMismatch, "%v vs %v", a.Shape(), b.Shape())
	}
	d := floats.Distance(a.Data, b.Data, 2)
	return d / math.Sqrt(float64(len(a.Data))), nil
}
