package volume

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelsSharesStorage(t *testing.T) {
	v := New(2, 3, 4)
	v.Set(1, 2, 3, 7)
	pixels := v.Pixels()
	r, c := pixels.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, 7., pixels.At(1*3+2, 3))

	pixels.Set(0, 1, 2)
	assert.Equal(t, 2., v.At(0, 0, 1))
}

func TestGatherScatter(t *testing.T) {
	v := New(3, 3, 2)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	indices := []int{4, 0, 8}
	cyl := v.Gather(indices)
	assert.Equal(t, 8., cyl.At(0, 0))
	assert.Equal(t, 1., cyl.At(1, 1))

	w := New(3, 3, 2)
	w.Scatter(indices, cyl)
	assert.Equal(t, v.Cylinder(4), w.Cylinder(4))
	assert.Equal(t, []float64{0, 0}, w.Cylinder(1))

	w.AddScaledAt(indices, 2, cyl)
	assert.Equal(t, []float64{24, 27}, w.Cylinder(4))
}

func TestFromDataRejectsWrongLength(t *testing.T) {
	_, err := FromData(2, 2, 2, make([]float64, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestApplyMask(t *testing.T) {
	v := New(1, 2, 2)
	for i := range v.Data {
		v.Data[i] = 1
	}
	require.NoError(t, v.ApplyMask([]bool{false, true}))
	assert.Equal(t, []float64{0, 0, 1, 1}, v.Data)
	assert.Error(t, v.ApplyMask([]bool{true}))
}

func TestStitch(t *testing.T) {
	a := New(1, 1, 5)
	b := New(1, 1, 6)
	for i := range a.Data {
		a.Data[i] = 1
	}
	for i := range b.Data {
		b.Data[i] = 3
	}
	res, err := Stitch([]*Volume{a, b}, 4)
	require.NoError(t, err)
	require.Equal(t, 7, res.Slices)

	// overlap starts at slice 1 with weights 1/5 ... 4/5 on b
	want := []float64{1, 1.4, 1.8, 2.2, 2.6, 3, 3}
	assert.InDeltaSlice(t, want, res.Data, 1e-12)
}

func TestStitchThree(t *testing.T) {
	vols := make([]*Volume, 3)
	for i := range vols {
		vols[i] = New(2, 2, 3)
	}
	res, err := Stitch(vols, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Slices)
}

func TestStitchErrors(t *testing.T) {
	_, err := Stitch([]*Volume{New(1, 1, 3)}, 1)
	assert.Error(t, err)

	_, err = Stitch([]*Volume{New(1, 1, 3), New(1, 2, 3)}, 1)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = Stitch([]*Volume{New(1, 1, 3), New(1, 1, 1)}, 2)
	assert.Error(t, err)
}

func TestRMSE(t *testing.T) {
	a := New(1, 1, 4)
	b := New(1, 1, 4)
	for i := range b.Data {
		b.Data[i] = 2
	}
	rmse, err := RMSE(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 2., rmse, 1e-12)
}
