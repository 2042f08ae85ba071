package transform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sample() *mat.Dense {
	return mat.NewDense(5, 2, []float64{
		1, 10,
		2, 30,
		4, 20,
		8, 50,
		16, 40,
	})
}

func TestReversiblePairsRoundTrip(t *testing.T) {
	fit := sample()
	for _, name := range []string{None, Standardize, MinMax} {
		t.Run(name, func(t *testing.T) {
			pair, err := FromName(name, 3, fit)
			require.NoError(t, err)
			require.True(t, pair.Reversible)

			w := mat.NewDense(3, 2, []float64{3, 11, -7, 60, 0.5, 25})
			in, err := pair.Input(w)
			require.NoError(t, err)
			out, err := pair.Output(in)
			require.NoError(t, err)
			require.True(t, mat.EqualApprox(w, out, 1e-12), "round trip changed window: %v", mat.Formatted(out))
		})
	}
}

func TestStandardizeUsesFittedMoments(t *testing.T) {
	pair, err := NewStandardize([]float64{1, 10}, []float64{2, 0})
	require.NoError(t, err)
	in, err := pair.Input(mat.NewDense(1, 2, []float64{5, 13}))
	require.NoError(t, err)
	require.Equal(t, 2.0, in.At(0, 0))
	require.Equal(t, 3.0, in.At(0, 1), "zero deviation is treated as one")
}

func TestFittedSpecsCarryPopulationMomentsAndBounds(t *testing.T) {
	std, err := FromName(Standardize, 1, sample())
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{6.2, 30}, std.Spec.A, 1e-12)
	require.InDeltaSlice(t, []float64{math.Sqrt(29.76), math.Sqrt(200)}, std.Spec.B, 1e-12)

	mm, err := FromName(MinMax, 1, sample())
	require.NoError(t, err)
	require.Equal(t, []float64{1, 10}, mm.Spec.A)
	require.Equal(t, []float64{16, 50}, mm.Spec.B)

	constant := mat.NewDense(3, 1, []float64{7, 7, 7})
	flat, err := FromName(Standardize, 1, constant)
	require.NoError(t, err)
	require.Equal(t, []float64{7}, flat.Spec.A)
	require.Equal(t, []float64{1}, flat.Spec.B, "zero deviation is stored as one")
}

func TestMinMaxMapsToUnitRange(t *testing.T) {
	pair, err := FromName(MinMax, 1, sample())
	require.NoError(t, err)
	in, err := pair.Input(mat.NewDense(2, 2, []float64{1, 10, 16, 50}))
	require.NoError(t, err)
	require.Equal(t, -1.0, in.At(0, 0))
	require.Equal(t, -1.0, in.At(0, 1))
	require.Equal(t, 1.0, in.At(1, 0))
	require.Equal(t, 1.0, in.At(1, 1))
}

func TestDifferenceIsNotReversible(t *testing.T) {
	pair, err := FromName(Difference, 2, nil)
	require.NoError(t, err)
	require.False(t, pair.Reversible)

	in, err := pair.Input(sample())
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0}, mat.Row(nil, 1, in))
	require.Equal(t, []float64{3, 10}, mat.Row(nil, 2, in))
	require.Equal(t, []float64{12, 20}, mat.Row(nil, 4, in))
}

func TestTransformsRejectChannelMismatch(t *testing.T) {
	pair, err := FromName(Standardize, 1, sample())
	require.NoError(t, err)
	_, err = pair.Input(mat.NewDense(2, 3, nil))
	require.Error(t, err)
}

func TestFromSpecRebuildsPair(t *testing.T) {
	fitted, err := FromName(MinMax, 1, sample())
	require.NoError(t, err)
	rebuilt, err := FromSpec(fitted.Spec)
	require.NoError(t, err)

	w := mat.NewDense(1, 2, []float64{4, 20})
	a, err := fitted.Input(w)
	require.NoError(t, err)
	b, err := rebuilt.Input(w)
	require.NoError(t, err)
	require.True(t, mat.Equal(a, b))

	_, err = FromName("wavelet", 1, nil)
	require.ErrorIs(t, err, ErrUnknownTransform)
}
