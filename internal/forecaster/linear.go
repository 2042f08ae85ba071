package forecaster

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear maps a flattened lag window to a flattened horizon window through a
// single affine layer: y = x*W + b.
type Linear struct {
	cfg     Config
	weights *mat.Dense
	bias    *mat.VecDense
}

var _ SpaceAwareModel = (*Linear)(nil)

// NewLinear initializes weights with a scaled Glorot-uniform draw from rng.
// A nil rng leaves every parameter at zero.
func NewLinear(cfg Config, rng *rand.Rand) (*Linear, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in, out := cfg.InputSize(), cfg.OutputSize()
	weights := mat.NewDense(in, out, nil)
	if rng != nil {
		limit := math.Sqrt(6.0/float64(in+out)) * 0.5
		weights.Apply(func(_, _ int, _ float64) float64 {
			return (rng.Float64()*2 - 1) * limit
		}, weights)
	}
	return &Linear{
		cfg:     cfg,
		weights: weights,
		bias:    mat.NewVecDense(out, nil),
	}, nil
}

func (l *Linear) Lag() int       { return l.cfg.Lag }
func (l *Linear) Horizon() int   { return l.cfg.Horizon }
func (l *Linear) Channels() int  { return l.cfg.Channels }
func (l *Linear) Config() Config { return l.cfg }

// Weights exposes the weight matrix for in-place optimizer updates.
func (l *Linear) Weights() *mat.Dense { return l.weights }

// Bias exposes the bias vector for in-place optimizer updates.
func (l *Linear) Bias() *mat.VecDense { return l.bias }

// Forward predicts one horizon window from one lag window.
func (l *Linear) Forward(window *mat.Dense) (*mat.Dense, error) {
	x, err := l.flatten(window)
	if err != nil {
		return nil, err
	}
	y := mat.NewVecDense(l.cfg.OutputSize(), nil)
	y.MulVec(l.weights.T(), x)
	y.AddVec(y, l.bias)
	return mat.NewDense(l.cfg.Horizon, l.cfg.Channels, y.RawVector().Data), nil
}

// Forecast produces n rows from seed. When n exceeds the native horizon the
// model re-feeds the trailing lag rows of its own output and truncates the
// final chunk.
func (l *Linear) Forecast(ctx context.Context, seed *mat.Dense, n int) (*mat.Dense, error) {
	return l.ForecastThrough(ctx, seed, n, nil, nil)
}

// ForecastThrough is Forecast with the re-fed window passed through input and
// every chunk through output. Nil funcs are the identity.
func (l *Linear) ForecastThrough(ctx context.Context, seed *mat.Dense, n int, input, output WindowFunc) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: requested length must be > 0, got %d", ErrInvalidConfig, n)
	}
	if _, err := l.flatten(seed); err != nil {
		return nil, err
	}

	lag, horizon, channels := l.cfg.Lag, l.cfg.Horizon, l.cfg.Channels
	steps := (n + horizon - 1) / horizon
	history := make([]float64, 0, (lag+steps*horizon)*channels)
	history = append(history, mat.DenseCopyOf(seed).RawMatrix().Data...)

	for produced := 0; produced < n; produced += horizon {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tail := history[len(history)-lag*channels:]
		window := mat.NewDense(lag, channels, append([]float64(nil), tail...))
		if input != nil {
			in, err := input(window)
			if err != nil {
				return nil, fmt.Errorf("chunk %d input: %w", produced/horizon, err)
			}
			window = in
		}
		out, err := l.Forward(window)
		if err != nil {
			return nil, err
		}
		if output != nil {
			if out, err = output(out); err != nil {
				return nil, fmt.Errorf("chunk %d output: %w", produced/horizon, err)
			}
			if r, c := out.Dims(); r != horizon || c != channels {
				return nil, fmt.Errorf("%w: output transform returned %dx%d", ErrShape, r, c)
			}
		}
		history = append(history, mat.DenseCopyOf(out).RawMatrix().Data...)
	}

	forecast := history[lag*channels : (lag+n)*channels]
	return mat.NewDense(n, channels, append([]float64(nil), forecast...)), nil
}

// Predict runs a batch of flattened windows (rows of x) through the layer.
func (l *Linear) Predict(x *mat.Dense) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != l.cfg.InputSize() {
		return nil, fmt.Errorf("%w: expected %d input columns, got %d", ErrShape, l.cfg.InputSize(), c)
	}
	pred := mat.NewDense(r, l.cfg.OutputSize(), nil)
	pred.Mul(x, l.weights)
	bias := l.bias.RawVector().Data
	pred.Apply(func(_, j int, v float64) float64 {
		return v + bias[j]
	}, pred)
	return pred, nil
}

// Gradients returns the mean-squared-error loss of the batch and its
// gradients with respect to the weights and bias.
func (l *Linear) Gradients(x, y *mat.Dense) (*mat.Dense, *mat.VecDense, float64, error) {
	pred, err := l.Predict(x)
	if err != nil {
		return nil, nil, 0, err
	}
	r, c := y.Dims()
	pr, pc := pred.Dims()
	if r != pr || c != pc {
		return nil, nil, 0, fmt.Errorf("%w: targets %dx%d, predictions %dx%d", ErrShape, r, c, pr, pc)
	}

	residual := mat.NewDense(r, c, nil)
	residual.Sub(pred, y)
	n := float64(r * c)
	loss := 0.0
	for _, v := range residual.RawMatrix().Data {
		loss += v * v
	}
	loss /= n

	residual.Scale(2/n, residual)
	gradW := mat.NewDense(l.cfg.InputSize(), l.cfg.OutputSize(), nil)
	gradW.Mul(x.T(), residual)
	gradB := mat.NewVecDense(c, nil)
	for j := 0; j < c; j++ {
		gradB.SetVec(j, mat.Sum(residual.ColView(j)))
	}
	return gradW, gradB, loss, nil
}

// Clone returns an independent copy of the model.
func (l *Linear) Clone() *Linear {
	return &Linear{
		cfg:     l.cfg,
		weights: mat.DenseCopyOf(l.weights),
		bias:    mat.VecDenseCopyOf(l.bias),
	}
}

func (l *Linear) flatten(window *mat.Dense) (*mat.VecDense, error) {
	if window == nil || window.IsEmpty() {
		return nil, fmt.Errorf("%w: empty window", ErrShape)
	}
	r, c := window.Dims()
	if r != l.cfg.Lag || c != l.cfg.Channels {
		return nil, fmt.Errorf("%w: expected %dx%d window, got %dx%d", ErrShape, l.cfg.Lag, l.cfg.Channels, r, c)
	}
	return mat.NewVecDense(r*c, mat.DenseCopyOf(window).RawMatrix().Data), nil
}
