package train

import (
	"context"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"seqcast/internal/dataset"
	"seqcast/internal/forecaster"
	"seqcast/internal/metrics"
	"seqcast/internal/transform"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sineSeries(n int) *mat.Dense {
	m := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		m.Set(i, 0, math.Sin(0.3*float64(i)))
	}
	return m
}

func TestFitLearnsLinearRecurrence(t *testing.T) {
	samples, err := dataset.Samples(sineSeries(140), 4, 1, 1)
	require.NoError(t, err)
	trainSet, valSet := dataset.Split(samples, 0.2)

	model, err := forecaster.NewLinear(forecaster.Config{Lag: 4, Horizon: 1, Channels: 1}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxEpochs = 200
	cfg.EarlyStoppingEpochs = 0
	cfg.BatchSize = 16
	cfg.LearningRate = 0.02

	result, err := Trainer{Config: cfg, Logger: quietLogger()}.Fit(context.Background(), model, trainSet, valSet)
	require.NoError(t, err)
	require.Len(t, result.History, 200)
	require.False(t, result.StoppedEarly)

	first := result.History[0].TrainLoss
	last := result.History[len(result.History)-1].TrainLoss
	require.Less(t, last, first/10)
	require.Contains(t, result.History[0].Val, metrics.InformerRMSE)
	require.Equal(t, result.BestValue, result.History[result.BestEpoch-1].Val[metrics.RMSE])
}

func TestFitEarlyStopsAndReturnsBest(t *testing.T) {
	cfg := forecaster.Config{Lag: 2, Horizon: 1, Channels: 1}
	model, err := forecaster.NewLinear(cfg, nil)
	require.NoError(t, err)

	zeros := mat.NewDense(2, 1, nil)
	train := []dataset.Sample{
		{X: zeros, Y: mat.NewDense(1, 1, []float64{1})},
		{X: zeros, Y: mat.NewDense(1, 1, []float64{1})},
	}
	val := []dataset.Sample{{X: zeros, Y: mat.NewDense(1, 1, []float64{-1})}}

	result, err := Trainer{
		Config: Config{
			MaxEpochs:           20,
			EarlyStoppingEpochs: 2,
			BatchSize:           8,
			LearningRate:        0.1,
			Optimizer:           OptimizerSGD,
			ValMetric:           metrics.RMSE,
			ReturnBest:          true,
		},
		Logger: quietLogger(),
	}.Fit(context.Background(), model, train, val)
	require.NoError(t, err)

	require.True(t, result.StoppedEarly)
	require.Len(t, result.History, 3)
	require.Equal(t, 1, result.BestEpoch)
	require.True(t, result.History[0].Best)
	require.InDelta(t, 0.2, result.Model.Bias().AtVec(0), 1e-12)
	require.InDelta(t, 0.488, model.Bias().AtVec(0), 1e-12)
}

func TestFitHonoursCancellation(t *testing.T) {
	model, err := forecaster.NewLinear(forecaster.Config{Lag: 2, Horizon: 1, Channels: 1}, nil)
	require.NoError(t, err)
	samples, err := dataset.Samples(sineSeries(20), 2, 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Trainer{Config: DefaultConfig(), Logger: quietLogger()}.Fit(ctx, model, samples, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFitRejectsBadInput(t *testing.T) {
	model, err := forecaster.NewLinear(forecaster.Config{Lag: 2, Horizon: 1, Channels: 1}, nil)
	require.NoError(t, err)

	_, err = Trainer{Config: DefaultConfig()}.Fit(context.Background(), model, nil, nil)
	require.ErrorIs(t, err, ErrNoSamples)

	bad := DefaultConfig()
	bad.Optimizer = "lbfgs"
	_, err = Trainer{Config: bad}.Fit(context.Background(), model, []dataset.Sample{{}}, nil)
	require.ErrorIs(t, err, ErrUnknownOptimizer)

	bad = DefaultConfig()
	bad.ValMetric = "smape"
	require.ErrorIs(t, bad.Validate(), metrics.ErrUnknownCriterion)

	wrongShape := []dataset.Sample{{X: mat.NewDense(3, 1, nil), Y: mat.NewDense(1, 1, nil)}}
	_, err = Trainer{Config: DefaultConfig(), Logger: quietLogger()}.Fit(context.Background(), model, wrongShape, nil)
	require.ErrorIs(t, err, forecaster.ErrShape)
}

func TestEvaluateInNormalizedAndRawSpace(t *testing.T) {
	cfg := forecaster.Config{Lag: 2, Horizon: 1, Channels: 1}
	model, err := forecaster.NewLinear(cfg, nil)
	require.NoError(t, err)
	// predict the last lag value
	model.Weights().Set(1, 0, 1)

	pair, err := transform.NewStandardize([]float64{10}, []float64{4})
	require.NoError(t, err)
	samples := []dataset.Sample{
		{X: mat.NewDense(2, 1, []float64{0, 14}), Y: mat.NewDense(1, 1, []float64{14})},
		{X: mat.NewDense(2, 1, []float64{0, 6}), Y: mat.NewDense(1, 1, []float64{10})},
	}

	scores, err := Evaluate(model, pair, samples, metrics.Evaluation())
	require.NoError(t, err)
	// raw residuals 0 and -4, normalized residuals 0 and -1
	require.InDelta(t, 8.0, scores[metrics.MSE], 1e-12)
	require.InDelta(t, 2.0, scores[metrics.MAE], 1e-12)
	require.InDelta(t, 0.5, scores[metrics.InformerMSE], 1e-12)
	require.InDelta(t, 0.5, scores[metrics.InformerMAE], 1e-12)
}

func TestSchedulers(t *testing.T) {
	step, err := newScheduler(Config{LearningRate: 1, Scheduler: SchedulerStep, StepSize: 2, Gamma: 0.5})
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 0.5, 0.5, 0.25}, []float64{step(0), step(1), step(2), step(3), step(4)})

	cosine, err := newScheduler(Config{LearningRate: 2, Scheduler: SchedulerCosine, MaxEpochs: 10})
	require.NoError(t, err)
	require.InDelta(t, 2.0, cosine(0), 1e-12)
	require.InDelta(t, 1.0, cosine(5), 1e-12)

	_, err = newScheduler(Config{Scheduler: "plateau"})
	require.ErrorIs(t, err, ErrUnknownScheduler)
}

func TestAdamMovesAgainstGradient(t *testing.T) {
	opt, err := newOptimizer(Config{Optimizer: OptimizerAdam})
	require.NoError(t, err)
	params := [][]float64{{1, -1}}
	opt.step(params, [][]float64{{2, -3}}, 0.1)
	// the first bias-corrected step has magnitude lr in every coordinate
	require.InDelta(t, 0.9, params[0][0], 1e-6)
	require.InDelta(t, -0.9, params[0][1], 1e-6)
}
