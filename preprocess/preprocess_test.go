package preprocess

import (
	"context"
	"math"
	"testing"

	"github.com/caden-cardell/mbirjax/projector"
	"github.com/caden-cardell/mbirjax/volume"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeights(t *testing.T) {
	sinogram, err := projector.SinogramFromData([3]int{1, 1, 3}, []float64{0, 1, -2})
	require.NoError(t, err)

	cases := map[string][]float64{
		Unweighted:       {1, 1, 1},
		Transmission:     {1, math.Exp(-1), math.Exp(2)},
		TransmissionRoot: {1, math.Exp(-0.5), math.Exp(1)},
		Emission:         {10, 1 / 1.1, 1 / 2.1},
	}
	for kind, want := range cases {
		w, err := Weights(sinogram, kind)
		require.NoError(t, err, kind)
		assert.InDeltaSlice(t, want, w.Data, 1e-12, kind)
	}

	_, err = Weights(sinogram, "poisson")
	assert.True(t, errors.Is(err, ErrUnknownWeightType))
}

func clusters() []float64 {
	var values []float64
	for i := 0; i < 100; i++ {
		values = append(values, 0)
	}
	for i := 0; i < 50; i++ {
		values = append(values, 5)
	}
	for i := 0; i < 20; i++ {
		values = append(values, 10)
	}
	return values
}

func TestMultiThresholdOtsu(t *testing.T) {
	thresholds, err := MultiThresholdOtsu(clusters(), 3)
	require.NoError(t, err)
	require.Len(t, thresholds, 2)
	assert.Greater(t, thresholds[0], 0.)
	assert.Less(t, thresholds[0], 5.)
	assert.Greater(t, thresholds[1], 5.)
	assert.Less(t, thresholds[1], 10.)

	two, err := MultiThresholdOtsu(clusters(), 2)
	require.NoError(t, err)
	assert.Len(t, two, 1)

	constant, err := MultiThresholdOtsu([]float64{2, 2, 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, constant)

	_, err = MultiThresholdOtsu(clusters(), 1)
	assert.Error(t, err)
	_, err = MultiThresholdOtsu(nil, 3)
	assert.Error(t, err)
}

func TestNonFiniteInputsRejected(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		values := clusters()
		values[7] = bad
		_, err := MultiThresholdOtsu(values, 3)
		assert.True(t, errors.Is(err, ErrNonFinite), "%v", bad)

		sinogram, err := projector.SinogramFromData([3]int{1, 1, 170}, values)
		require.NoError(t, err)
		_, err = WeightsMAR(context.Background(), nil, sinogram, DefaultMAROptions())
		assert.True(t, errors.Is(err, ErrNonFinite), "%v", bad)
	}

	// a NaN in the recon used to locate the metal
	recon := volume.New(3, 3, 1)
	recon.Data[4] = math.NaN()
	opts := DefaultMAROptions()
	opts.InitRecon = recon
	_, err := WeightsMAR(context.Background(), nil, projector.NewSinogram([3]int{2, 1, 3}), opts)
	assert.True(t, errors.Is(err, ErrNonFinite))
}

func TestWeightsMARFromSinogram(t *testing.T) {
	sinogram, err := projector.SinogramFromData([3]int{1, 1, 170}, clusters())
	require.NoError(t, err)
	w, err := WeightsMAR(context.Background(), nil, sinogram, DefaultMAROptions())
	require.NoError(t, err)
	assert.Equal(t, 1., w.Data[0])
	assert.InDelta(t, math.Exp(-5), w.Data[100], 1e-12)
	assert.InDelta(t, math.Exp(-40), w.Data[169], 1e-20)
}

func TestWeightsMARFromRecon(t *testing.T) {
	const views, channels = 8, 9
	angles := make([]float64, views)
	for index := range angles {
		angles[index] = math.Pi * float64(index) / views
	}
	g, err := projector.NewParallelBeamGeometry([3]int{views, 1, channels}, angles)
	require.NoError(t, err)
	pb, err := projector.NewParallelBeam(g)
	require.NoError(t, err)

	recon := volume.New(channels, channels, 1)
	recon.Set(4, 4, 0, 10)
	threshold := 5.
	opts := DefaultMAROptions()
	opts.InitRecon = recon
	opts.MetalThreshold = &threshold

	sinogram := projector.NewSinogram(g.SinogramShape).Ones()
	w, err := WeightsMAR(context.Background(), pb, sinogram, opts)
	require.NoError(t, err)

	var metal, clean int
	for _, value := range w.Data {
		switch {
		case math.Abs(value-math.Exp(-4)) < 1e-12:
			metal++
		case math.Abs(value-math.Exp(-1)) < 1e-12:
			clean++
		}
	}
	assert.Equal(t, len(w.Data), metal+clean)
	assert.Greater(t, metal, 0)
	assert.Greater(t, clean, 0)

	opts.Beta = 0
	_, err = WeightsMAR(context.Background(), pb, sinogram, opts)
	assert.Error(t, err)
}
