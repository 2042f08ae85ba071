// Package transform provides the matched input/output transforms applied
// around every forecast model call.
//
// Input runs on a lag window before the model sees it; Output runs on the
// model's horizon so the result is comparable with ground truth. Both are pure:
// they allocate new matrices and depend only on configuration fixed when the
// pair was built.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"seqcast/internal/signal"
)

const (
	None        = "none"
	Standardize = "standardize"
	MinMax      = "minmax"
	Difference  = "difference"
)

var ErrUnknownTransform = errors.New("unknown data transform")

// Func maps a time-major window to a new window of the same shape.
type Func func(*mat.Dense) (*mat.Dense, error)

// Pair is the input/output transform pair. Reversible is true when
// Output(Input(w)) == w for every window w.
type Pair struct {
	Name       string
	Input      Func
	Output     Func
	Reversible bool
	Spec       Spec
}

// Spec is the serializable configuration a Pair was built from.
type Spec struct {
	Name string    `json:"name"`
	Lag  int       `json:"lag,omitempty"`
	A    []float64 `json:"a,omitempty"`
	B    []float64 `json:"b,omitempty"`
}

// FromSpec rebuilds the pair described by spec without refitting.
func FromSpec(spec Spec) (Pair, error) {
	switch strings.TrimSpace(strings.ToLower(spec.Name)) {
	case "", None:
		return Identity(), nil
	case Standardize:
		return NewStandardize(spec.A, spec.B)
	case MinMax:
		return NewMinMax(spec.A, spec.B)
	case Difference:
		return NewDifference(spec.Lag)
	default:
		return Pair{}, fmt.Errorf("%w: %s", ErrUnknownTransform, spec.Name)
	}
}

// Names lists the transforms FromName accepts.
func Names() []string {
	return []string{None, Standardize, MinMax, Difference}
}

// FromName builds a named pair. fit supplies the training matrix that the
// standardize/minmax statistics are computed from; lag is the differencing lag.
func FromName(name string, lag int, fit *mat.Dense) (Pair, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", None:
		return Identity(), nil
	case Standardize:
		mean, std, err := channelMoments(fit)
		if err != nil {
			return Pair{}, fmt.Errorf("fit standardize: %w", err)
		}
		return NewStandardize(mean, std)
	case MinMax:
		lo, hi, err := channelRange(fit)
		if err != nil {
			return Pair{}, fmt.Errorf("fit minmax: %w", err)
		}
		return NewMinMax(lo, hi)
	case Difference:
		return NewDifference(lag)
	default:
		return Pair{}, fmt.Errorf("%w: %s", ErrUnknownTransform, name)
	}
}

// Identity leaves windows untouched.
func Identity() Pair {
	copyFn := func(m *mat.Dense) (*mat.Dense, error) {
		if signal.IsEmpty(m) {
			return nil, signal.ErrEmpty
		}
		return mat.DenseCopyOf(m), nil
	}
	return Pair{Name: None, Input: copyFn, Output: copyFn, Reversible: true, Spec: Spec{Name: None}}
}

// NewStandardize subtracts a fixed per-channel mean and divides by a fixed
// per-channel standard deviation. Zero deviations are treated as 1.
func NewStandardize(mean, std []float64) (Pair, error) {
	if len(mean) == 0 || len(mean) != len(std) {
		return Pair{}, fmt.Errorf("standardize requires matching mean/std, got %d/%d", len(mean), len(std))
	}
	mean = append([]float64(nil), mean...)
	scale := make([]float64, len(std))
	for i, s := range std {
		if s == 0 || math.IsNaN(s) {
			s = 1
		}
		scale[i] = s
	}
	return Pair{
		Name: Standardize,
		Input: perChannel(len(mean), func(c int, v float64) float64 {
			return (v - mean[c]) / scale[c]
		}),
		Output: perChannel(len(mean), func(c int, v float64) float64 {
			return v*scale[c] + mean[c]
		}),
		Reversible: true,
		Spec:       Spec{Name: Standardize, A: mean, B: scale},
	}, nil
}

// NewMinMax maps each channel from [lo, hi] to [-1, 1] and back.
func NewMinMax(lo, hi []float64) (Pair, error) {
	if len(lo) == 0 || len(lo) != len(hi) {
		return Pair{}, fmt.Errorf("minmax requires matching bounds, got %d/%d", len(lo), len(hi))
	}
	lo = append([]float64(nil), lo...)
	hi = append([]float64(nil), hi...)
	return Pair{
		Name: MinMax,
		Input: perChannel(len(lo), func(c int, v float64) float64 {
			return scaleValue(v, hi[c], lo[c])
		}),
		Output: perChannel(len(lo), func(c int, v float64) float64 {
			return unscaleValue(v, hi[c], lo[c])
		}),
		Reversible: true,
		Spec:       Spec{Name: MinMax, A: lo, B: hi},
	}, nil
}

// NewDifference replaces row t with x[t]-x[t-lag] and zeroes the first lag
// rows. The model is expected to predict levels, so Output is the identity and
// the pair is not reversible.
func NewDifference(lag int) (Pair, error) {
	if lag <= 0 {
		lag = 1
	}
	id := Identity()
	return Pair{
		Name: Difference,
		Input: func(m *mat.Dense) (*mat.Dense, error) {
			if signal.IsEmpty(m) {
				return nil, signal.ErrEmpty
			}
			r, c := m.Dims()
			out := mat.NewDense(r, c, nil)
			for t := lag; t < r; t++ {
				for j := 0; j < c; j++ {
					out.Set(t, j, m.At(t, j)-m.At(t-lag, j))
				}
			}
			return out, nil
		},
		Output:     id.Output,
		Reversible: false,
		Spec:       Spec{Name: Difference, Lag: lag},
	}, nil
}

func perChannel(channels int, fn func(c int, v float64) float64) Func {
	return func(m *mat.Dense) (*mat.Dense, error) {
		if err := signal.CheckChannels(m, channels); err != nil {
			return nil, err
		}
		r, c := m.Dims()
		out := mat.NewDense(r, c, nil)
		out.Apply(func(i, j int, v float64) float64 {
			return fn(j, v)
		}, m)
		return out, nil
	}
}

// scaleValue maps value from [min, max] to [-1, 1].
func scaleValue(value, max, min float64) float64 {
	if max == min {
		return 0
	}
	return (value*2 - (max + min)) / (max - min)
}

func unscaleValue(value, max, min float64) float64 {
	if max == min {
		return min
	}
	return (value*(max-min) + (max + min)) / 2
}

func channelMoments(m *mat.Dense) ([]float64, []float64, error) {
	if signal.IsEmpty(m) {
		return nil, nil, signal.ErrEmpty
	}
	_, c := m.Dims()
	mean := make([]float64, c)
	std := make([]float64, c)
	for j := 0; j < c; j++ {
		mean[j], std[j] = stat.PopMeanStdDev(mat.Col(nil, j, m), nil)
	}
	return mean, std, nil
}

func channelRange(m *mat.Dense) ([]float64, []float64, error) {
	if signal.IsEmpty(m) {
		return nil, nil, signal.ErrEmpty
	}
	_, c := m.Dims()
	lo := make([]float64, c)
	hi := make([]float64, c)
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, m)
		lo[j], hi[j] = floats.Min(col), floats.Max(col)
	}
	return lo, hi, nil
}
