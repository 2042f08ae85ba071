package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func ramp(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, float64(i*10+j))
		}
	}
	return m
}

func TestWindowCopiesRows(t *testing.T) {
	m := ramp(6, 2)
	w, err := Window(m, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 3, Len(w))
	require.Equal(t, 20.0, w.At(0, 0))
	require.Equal(t, 41.0, w.At(2, 1))

	w.Set(0, 0, -1)
	require.Equal(t, 20.0, m.At(2, 0), "window must not alias the source")
}

func TestWindowOutOfRange(t *testing.T) {
	m := ramp(4, 1)
	for _, tc := range []struct {
		name          string
		start, length int
	}{
		{"past end", 2, 3},
		{"negative start", -1, 2},
		{"zero length", 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Window(m, tc.start, tc.length)
			require.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestTailAndHead(t *testing.T) {
	m := ramp(5, 3)
	tail, err := Tail(m, 2)
	require.NoError(t, err)
	require.Equal(t, 30.0, tail.At(0, 0))
	require.Equal(t, 42.0, tail.At(1, 2))

	head, err := Head(m, 1)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2}, mat.Row(nil, 0, head))

	_, err = Tail(m, 6)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestNormalizeChannelMajor(t *testing.T) {
	channelMajor := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		4, 5, 6,
	})
	got, err := Normalize(channelMajor, ChannelMajor)
	require.NoError(t, err)
	require.Equal(t, 3, Len(got))
	require.Equal(t, 2, Channels(got))
	require.Equal(t, []float64{3, 6}, mat.Row(nil, 2, got))

	_, err = ParseOrientation("diagonal")
	require.Error(t, err)
}

func TestConcatRejectsChannelMismatch(t *testing.T) {
	_, err := Concat(ramp(2, 2), ramp(2, 3))
	require.ErrorIs(t, err, ErrChannelMismatch)

	out, err := Concat(ramp(2, 2), ramp(3, 2))
	require.NoError(t, err)
	require.Equal(t, 5, Len(out))
	require.Equal(t, 21.0, out.At(4, 1))
}

func TestFromRowsRejectsRagged(t *testing.T) {
	_, err := FromRows([][]float64{{1, 2}, {3}})
	require.ErrorIs(t, err, ErrRaggedRows)

	m, err := FromRows([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 2}, {3, 4}}, Rows(m))
}

func TestAccumulatorTrimKeepsPrefix(t *testing.T) {
	acc := NewAccumulator(6, 2)
	require.NoError(t, acc.Append(ramp(4, 2)))
	require.NoError(t, acc.Append(ramp(2, 2)))
	require.Equal(t, 6, acc.Len())
	require.Equal(t, 6, acc.Cap())

	trimmed := acc.Trim(5)
	require.Equal(t, 5, Len(trimmed))
	require.Equal(t, 31.0, trimmed.At(3, 1))
	require.Equal(t, 0.0, trimmed.At(4, 0))

	require.ErrorIs(t, acc.Append(ramp(1, 3)), ErrChannelMismatch)
}
