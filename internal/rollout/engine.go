// Package rollout stitches repeated model calls into one output stream longer
// than the model's native horizon.
//
// Reconstruction re-seeds every step from ground truth and never feeds prior
// predictions back into the model. Forecast seeds once from the most recent
// lag rows and leaves chunking to the model. A pair that is not reversible
// cannot be undone on fed-back rows, so such forecasts chunk in data space
// through forecaster.SpaceAwareModel.
package rollout

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/forecaster"
	"seqcast/internal/signal"
	"seqcast/internal/transform"
)

var (
	ErrNilModel            = errors.New("rollout model is nil")
	ErrInvalidGeometry     = errors.New("lag and horizon must be positive")
	ErrInvalidLength       = errors.New("output timesteps must be >= 1")
	ErrInsufficientHistory = errors.New("insufficient ground-truth history")
	ErrShapeMismatch       = errors.New("model output shape mismatch")
	ErrChunkedTransform    = errors.New("model cannot re-apply an irreversible transform between chunks")
)

// Stats describes one rollout call.
type Stats struct {
	// Calls is the number of Model.Forecast invocations.
	Calls int `json:"calls"`
	// Accumulated is the accumulator length before the final trim.
	Accumulated int `json:"accumulated"`
	// Overshoot is calls*horizon minus the requested length: the rows the
	// final call produced past n. It does not count the prefixed seed.
	Overshoot int `json:"overshoot"`
}

// Engine drives a frozen model through a transform pair. An Engine holds no
// per-call state and may be shared across goroutines when the model is
// read-only during inference.
type Engine struct {
	Model      forecaster.Model
	Transforms transform.Pair
}

// New returns an engine over model. A zero transform pair means identity.
func New(model forecaster.Model, transforms transform.Pair) *Engine {
	return &Engine{Model: model, Transforms: transforms}
}

// Reconstruct produces n rows from history in reconstruction mode. Step k
// feeds history[k*horizon : k*horizon+lag] to the model, and the raw step-0
// window is prepended to the stream once.
func (e *Engine) Reconstruct(ctx context.Context, history *mat.Dense, n int) (*mat.Dense, Stats, error) {
	lag, horizon, channels, err := e.geometry(n)
	if err != nil {
		return nil, Stats{}, err
	}
	if err := signal.CheckChannels(history, channels); err != nil {
		return nil, Stats{}, fmt.Errorf("history: %w", err)
	}

	calls := ceilDiv(n, horizon)
	if need := (calls-1)*horizon + lag; need > signal.Len(history) {
		return nil, Stats{}, fmt.Errorf("%w: reconstruction of %d rows with lag=%d horizon=%d reads %d rows, history has %d",
			ErrInsufficientHistory, n, lag, horizon, need, signal.Len(history))
	}

	acc := signal.NewAccumulator(lag+calls*horizon, channels)
	stats := Stats{}
	for produced := 0; produced < n; produced += horizon {
		if err := ctx.Err(); err != nil {
			return nil, Stats{}, err
		}
		window, err := signal.Window(history, stats.Calls*horizon, lag)
		if err != nil {
			return nil, Stats{}, err
		}
		out, err := e.step(ctx, window, horizon)
		stats.Calls++
		if err != nil {
			return nil, Stats{}, fmt.Errorf("reconstruction step %d: %w", stats.Calls-1, err)
		}
		if stats.Calls == 1 {
			if err := acc.Append(window); err != nil {
				return nil, Stats{}, err
			}
		}
		if err := acc.Append(out); err != nil {
			return nil, Stats{}, err
		}
	}

	stats.Accumulated = acc.Len()
	stats.Overshoot = stats.Calls*horizon - n
	return acc.Trim(n), stats, nil
}

// Forecast produces n rows continuing source from its last lag rows with a
// single model call. With prefixSeed the seed window is prepended verbatim
// and the result has n+lag rows.
func (e *Engine) Forecast(ctx context.Context, source *mat.Dense, n int, prefixSeed bool) (*mat.Dense, Stats, error) {
	lag, _, channels, err := e.geometry(n)
	if err != nil {
		return nil, Stats{}, err
	}
	if err := signal.CheckChannels(source, channels); err != nil {
		return nil, Stats{}, fmt.Errorf("source: %w", err)
	}
	if signal.Len(source) < lag {
		return nil, Stats{}, fmt.Errorf("%w: forecast seed needs %d rows, source has %d",
			ErrInsufficientHistory, lag, signal.Len(source))
	}

	seed, err := signal.Tail(source, lag)
	if err != nil {
		return nil, Stats{}, err
	}
	out, err := e.forecastFrom(ctx, seed, n)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("forecast: %w", err)
	}

	stats := Stats{Calls: 1, Accumulated: n}
	if !prefixSeed {
		return out, stats, nil
	}
	acc := signal.NewAccumulator(lag+n, channels)
	if err := acc.Append(seed); err != nil {
		return nil, Stats{}, err
	}
	if err := acc.Append(out); err != nil {
		return nil, Stats{}, err
	}
	stats.Accumulated = acc.Len()
	return acc.Matrix(), stats, nil
}

func (e *Engine) geometry(n int) (lag, horizon, channels int, err error) {
	if e == nil || e.Model == nil {
		return 0, 0, 0, ErrNilModel
	}
	lag, horizon, channels = e.Model.Lag(), e.Model.Horizon(), e.Model.Channels()
	if lag <= 0 || horizon <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: lag=%d horizon=%d", ErrInvalidGeometry, lag, horizon)
	}
	if channels <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: channels=%d", ErrInvalidGeometry, channels)
	}
	if n < 1 {
		return 0, 0, 0, fmt.Errorf("%w: got %d", ErrInvalidLength, n)
	}
	return lag, horizon, channels, nil
}

// forecastFrom makes the single forecast call. Reversible pairs let the model
// chunk in its own space; irreversible ones need every re-fed window
// transformed again from data space.
func (e *Engine) forecastFrom(ctx context.Context, seed *mat.Dense, n int) (*mat.Dense, error) {
	pair := e.Transforms
	if pair.Input == nil || pair.Output == nil || pair.Reversible || n <= e.Model.Horizon() {
		return e.step(ctx, seed, n)
	}
	m, ok := e.Model.(forecaster.SpaceAwareModel)
	if !ok {
		return nil, fmt.Errorf("%w: %s with n=%d horizon=%d", ErrChunkedTransform, pair.Name, n, e.Model.Horizon())
	}
	out, err := m.ForecastThrough(ctx, seed, n, forecaster.WindowFunc(pair.Input), forecaster.WindowFunc(pair.Output))
	if err != nil {
		return nil, err
	}
	if r, c := out.Dims(); r != n || c != e.Model.Channels() {
		return nil, fmt.Errorf("%w: expected %dx%d, got %dx%d", ErrShapeMismatch, n, e.Model.Channels(), r, c)
	}
	return out, nil
}

// step runs window through input transform, model and output transform, and
// checks that exactly want rows of the model's channel count came back.
func (e *Engine) step(ctx context.Context, window *mat.Dense, want int) (*mat.Dense, error) {
	pair := e.Transforms
	if pair.Input == nil || pair.Output == nil {
		pair = transform.Identity()
	}
	in, err := pair.Input(window)
	if err != nil {
		return nil, fmt.Errorf("input transform: %w", err)
	}
	raw, err := e.Model.Forecast(ctx, in, want)
	if err != nil {
		return nil, err
	}
	if signal.IsEmpty(raw) {
		return nil, fmt.Errorf("%w: model returned no rows", ErrShapeMismatch)
	}
	if r, c := raw.Dims(); r != want || c != e.Model.Channels() {
		return nil, fmt.Errorf("%w: expected %dx%d, got %dx%d", ErrShapeMismatch, want, e.Model.Channels(), r, c)
	}
	out, err := pair.Output(raw)
	if err != nil {
		return nil, fmt.Errorf("output transform: %w", err)
	}
	if r, c := out.Dims(); r != want || c != e.Model.Channels() {
		return nil, fmt.Errorf("%w: output transform returned %dx%d", ErrShapeMismatch, r, c)
	}
	return out, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
