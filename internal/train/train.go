// Package train fits a linear forecaster on lag/horizon samples with
// mini-batch gradient descent, early stopping and best-checkpoint return.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"seqcast/internal/dataset"
	"seqcast/internal/forecaster"
	"seqcast/internal/metrics"
	"seqcast/internal/transform"
)

var ErrNoSamples = errors.New("no training samples")

type Config struct {
	MaxEpochs           int     `json:"max_epochs"`
	EarlyStoppingEpochs int     `json:"early_stopping_epochs"`
	BatchSize           int     `json:"batch_size"`
	LearningRate        float64 `json:"learning_rate"`
	Optimizer           string  `json:"optimizer"`
	Momentum            float64 `json:"momentum,omitempty"`
	WeightDecay         float64 `json:"weight_decay,omitempty"`
	Scheduler           string  `json:"scheduler"`
	StepSize            int     `json:"step_size,omitempty"`
	Gamma               float64 `json:"gamma,omitempty"`
	ValMetric           string  `json:"val_metric"`
	ReturnBest          bool    `json:"return_best"`
	Seed                int64   `json:"seed"`
}

// DefaultConfig mirrors the defaults the CLI exposes.
func DefaultConfig() Config {
	return Config{
		MaxEpochs:           50,
		EarlyStoppingEpochs: 10,
		BatchSize:           32,
		LearningRate:        1e-2,
		Optimizer:           OptimizerAdam,
		Scheduler:           SchedulerNone,
		ValMetric:           metrics.RMSE,
		ReturnBest:          true,
		Seed:                1,
	}
}

func (c Config) Validate() error {
	if c.MaxEpochs <= 0 {
		return fmt.Errorf("max epochs must be > 0, got %d", c.MaxEpochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) {
		return fmt.Errorf("learning rate must be > 0, got %g", c.LearningRate)
	}
	if c.EarlyStoppingEpochs < 0 {
		return fmt.Errorf("early stopping epochs must be >= 0, got %d", c.EarlyStoppingEpochs)
	}
	if _, err := metrics.Get(c.ValMetric); err != nil {
		return err
	}
	if _, err := newOptimizer(c); err != nil {
		return err
	}
	if _, err := newScheduler(c); err != nil {
		return err
	}
	return nil
}

// EpochMetrics is one row of the training history.
type EpochMetrics struct {
	Epoch        int                `json:"epoch"`
	LearningRate float64            `json:"learning_rate"`
	TrainLoss    float64            `json:"train_loss"`
	Train        map[string]float64 `json:"train"`
	Val          map[string]float64 `json:"val,omitempty"`
	Best         bool               `json:"best"`
	Duration     time.Duration      `json:"duration"`
}

type Result struct {
	Model        *forecaster.Linear
	History      []EpochMetrics
	BestEpoch    int
	BestValue    float64
	StoppedEarly bool
}

// Trainer holds everything that stays fixed across epochs.
type Trainer struct {
	Config     Config
	Transforms transform.Pair
	Logger     logrus.FieldLogger
}

// Fit trains model in place on train and scores val after every epoch.
// ValMetric picks the best epoch from the validation scores, or from the
// training scores when val is empty. With ReturnBest the result carries that
// epoch's checkpoint instead of the final parameters.
func (t Trainer) Fit(ctx context.Context, model *forecaster.Linear, train, val []dataset.Sample) (Result, error) {
	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if len(train) == 0 {
		return Result{}, ErrNoSamples
	}
	logger := t.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	trainSet, err := prepare(model.Config(), t.pair(), train)
	if err != nil {
		return Result{}, fmt.Errorf("prepare train samples: %w", err)
	}
	opt, _ := newOptimizer(cfg)
	sched, _ := newScheduler(cfg)
	valMetric, _ := metrics.Get(cfg.ValMetric)
	rng := rand.New(rand.NewSource(cfg.Seed))

	result := Result{Model: model, BestEpoch: -1, BestValue: math.Inf(1)}
	var best *forecaster.Linear
	sinceBest := 0

	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		start := time.Now()
		lr := sched(epoch)

		loss, err := runEpoch(model, trainSet, opt, lr, cfg.BatchSize, rng)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}

		row := EpochMetrics{Epoch: epoch + 1, LearningRate: lr, TrainLoss: loss}
		row.Train, err = Evaluate(model, t.pair(), train, metrics.Evaluation())
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d train metrics: %w", epoch+1, err)
		}
		score := row.Train[valMetric.Name]
		if len(val) > 0 {
			row.Val, err = Evaluate(model, t.pair(), val, metrics.Evaluation())
			if err != nil {
				return Result{}, fmt.Errorf("epoch %d val metrics: %w", epoch+1, err)
			}
			score = row.Val[valMetric.Name]
		}

		if score < result.BestValue {
			result.BestValue = score
			result.BestEpoch = row.Epoch
			row.Best = true
			best = model.Clone()
			sinceBest = 0
		} else {
			sinceBest++
		}
		row.Duration = time.Since(start)
		result.History = append(result.History, row)

		logger.WithFields(logrus.Fields{
			"epoch":      row.Epoch,
			"lr":         lr,
			"train_loss": loss,
			"val_metric": valMetric.Name,
			"score":      score,
			"best":       row.Best,
			"duration":   row.Duration,
		}).Info("training epoch completed")

		if cfg.EarlyStoppingEpochs > 0 && sinceBest >= cfg.EarlyStoppingEpochs {
			logger.WithFields(logrus.Fields{
				"epoch":      row.Epoch,
				"best_epoch": result.BestEpoch,
				"patience":   sinceBest,
			}).Info("early stopping triggered")
			result.StoppedEarly = true
			break
		}
	}

	if cfg.ReturnBest && best != nil {
		result.Model = best
	}
	return result, nil
}

func (t Trainer) pair() transform.Pair {
	if t.Transforms.Input == nil || t.Transforms.Output == nil {
		return transform.Identity()
	}
	return t.Transforms
}

// Evaluate scores model on samples. Normalized criterions compare in model
// space, the rest after the output transform.
func Evaluate(model *forecaster.Linear, pair transform.Pair, samples []dataset.Sample, criteria []metrics.Criterion) (map[string]float64, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if pair.Input == nil || pair.Output == nil {
		pair = transform.Identity()
	}
	set, err := prepare(model.Config(), pair, samples)
	if err != nil {
		return nil, err
	}
	predNorm, err := model.Predict(set.x)
	if err != nil {
		return nil, err
	}

	cfg := model.Config()
	predRaw := mat.NewDense(len(samples)*cfg.Horizon, cfg.Channels, nil)
	targetRaw := mat.NewDense(len(samples)*cfg.Horizon, cfg.Channels, nil)
	for i, s := range samples {
		window := mat.NewDense(cfg.Horizon, cfg.Channels, mat.Row(nil, i, predNorm))
		out, err := pair.Output(window)
		if err != nil {
			return nil, fmt.Errorf("output transform: %w", err)
		}
		predRaw.Slice(i*cfg.Horizon, (i+1)*cfg.Horizon, 0, cfg.Channels).(*mat.Dense).Copy(out)
		targetRaw.Slice(i*cfg.Horizon, (i+1)*cfg.Horizon, 0, cfg.Channels).(*mat.Dense).Copy(s.Y)
	}

	scores := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		pred, target := predRaw, targetRaw
		if c.Normalized {
			pred, target = predNorm, set.y
		}
		v, err := c.Fn(pred, target)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		scores[c.Name] = v
	}
	return scores, nil
}

// sampleSet holds flattened, transformed samples: one row per sample.
type sampleSet struct {
	x *mat.Dense
	y *mat.Dense
}

// prepare flattens samples into model space. Targets go through the input
// transform only when the pair is reversible; otherwise the output transform
// is the identity and the model is trained on raw levels.
func prepare(cfg forecaster.Config, pair transform.Pair, samples []dataset.Sample) (sampleSet, error) {
	x := mat.NewDense(len(samples), cfg.InputSize(), nil)
	y := mat.NewDense(len(samples), cfg.OutputSize(), nil)
	for i, s := range samples {
		if r, c := s.X.Dims(); r != cfg.Lag || c != cfg.Channels {
			return sampleSet{}, fmt.Errorf("sample %d: %w: x is %dx%d", i, forecaster.ErrShape, r, c)
		}
		if r, c := s.Y.Dims(); r != cfg.Horizon || c != cfg.Channels {
			return sampleSet{}, fmt.Errorf("sample %d: %w: y is %dx%d", i, forecaster.ErrShape, r, c)
		}
		in, err := pair.Input(s.X)
		if err != nil {
			return sampleSet{}, fmt.Errorf("sample %d input transform: %w", i, err)
		}
		target := s.Y
		if pair.Reversible {
			if target, err = pair.Input(s.Y); err != nil {
				return sampleSet{}, fmt.Errorf("sample %d target transform: %w", i, err)
			}
		}
		x.SetRow(i, mat.DenseCopyOf(in).RawMatrix().Data)
		y.SetRow(i, mat.DenseCopyOf(target).RawMatrix().Data)
	}
	return sampleSet{x: x, y: y}, nil
}

func runEpoch(model *forecaster.Linear, set sampleSet, opt optimizer, lr float64, batchSize int, rng *rand.Rand) (float64, error) {
	n, _ := set.x.Dims()
	order := rng.Perm(n)
	params := [][]float64{model.Weights().RawMatrix().Data, model.Bias().RawVector().Data}

	total := 0.0
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		bx, by := gather(set, order[start:end])
		gradW, gradB, loss, err := model.Gradients(bx, by)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, fmt.Errorf("loss diverged: %v", loss)
		}
		opt.step(params, [][]float64{gradW.RawMatrix().Data, gradB.RawVector().Data}, lr)
		total += loss * float64(end-start)
	}
	return total / float64(n), nil
}

func gather(set sampleSet, idx []int) (*mat.Dense, *mat.Dense) {
	_, xc := set.x.Dims()
	_, yc := set.y.Dims()
	bx := mat.NewDense(len(idx), xc, nil)
	by := mat.NewDense(len(idx), yc, nil)
	for i, j := range idx {
		bx.SetRow(i, set.x.RawRowView(j))
		by.SetRow(i, set.y.RawRowView(j))
	}
	return bx, by
}
