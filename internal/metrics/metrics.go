// Package metrics implements the evaluation criterions reported per epoch and
// per forecast.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	RMSE         = "rmse"
	MSE          = "mse"
	MAE          = "mae"
	RSE          = "rse"
	InformerRMSE = "informer_rmse"
	InformerMSE  = "informer_mse"
	InformerMAE  = "informer_mae"
)

var (
	ErrUnknownCriterion = errors.New("unknown criterion")
	ErrShape            = errors.New("prediction and target shapes differ")
)

// Func scores a prediction against its target. Lower is better.
type Func func(pred, target *mat.Dense) (float64, error)

// Criterion is a named Func. Normalized criterions are computed on values
// after the input transform; the rest on denormalized values.
type Criterion struct {
	Name       string
	Normalized bool
	Fn         Func
}

var registry = map[string]Criterion{
	RMSE:         {Name: RMSE, Fn: rmse},
	MSE:          {Name: MSE, Fn: mse},
	MAE:          {Name: MAE, Fn: mae},
	RSE:          {Name: RSE, Fn: rse},
	InformerRMSE: {Name: InformerRMSE, Normalized: true, Fn: rmse},
	InformerMSE:  {Name: InformerMSE, Normalized: true, Fn: mse},
	InformerMAE:  {Name: InformerMAE, Normalized: true, Fn: mae},
}

func Get(name string) (Criterion, error) {
	c, ok := registry[strings.TrimSpace(strings.ToLower(name))]
	if !ok {
		return Criterion{}, fmt.Errorf("%w: %s", ErrUnknownCriterion, name)
	}
	return c, nil
}

// Names lists every registered criterion in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Training returns the criterions scored on denormalized values.
func Training() []Criterion {
	return []Criterion{registry[RMSE], registry[MSE], registry[MAE], registry[RSE]}
}

// Evaluation returns Training plus the informer variants.
func Evaluation() []Criterion {
	return append(Training(), registry[InformerRMSE], registry[InformerMSE], registry[InformerMAE])
}

func residuals(pred, target *mat.Dense) ([]float64, error) {
	if pred == nil || target == nil || pred.IsEmpty() || target.IsEmpty() {
		return nil, fmt.Errorf("%w: empty matrix", ErrShape)
	}
	pr, pc := pred.Dims()
	tr, tc := target.Dims()
	if pr != tr || pc != tc {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShape, pr, pc, tr, tc)
	}
	diff := mat.NewDense(pr, pc, nil)
	diff.Sub(pred, target)
	return diff.RawMatrix().Data, nil
}

func mse(pred, target *mat.Dense) (float64, error) {
	res, err := residuals(pred, target)
	if err != nil {
		return 0, err
	}
	return floats.Dot(res, res) / float64(len(res)), nil
}

func rmse(pred, target *mat.Dense) (float64, error) {
	v, err := mse(pred, target)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

func mae(pred, target *mat.Dense) (float64, error) {
	res, err := residuals(pred, target)
	if err != nil {
		return 0, err
	}
	return floats.Norm(res, 1) / float64(len(res)), nil
}

// rse is the root relative squared error: residual norm over the norm of the
// target's deviation from its mean. A constant target yields +Inf unless the
// prediction is exact.
func rse(pred, target *mat.Dense) (float64, error) {
	res, err := residuals(pred, target)
	if err != nil {
		return 0, err
	}
	values := mat.DenseCopyOf(target).RawMatrix().Data
	centre := make([]float64, len(values))
	floats.AddConst(stat.Mean(values, nil), centre)
	spread := floats.Distance(values, centre, 2)
	num := floats.Norm(res, 2)
	if spread == 0 {
		if num == 0 {
			return 0, nil
		}
		return math.Inf(1), nil
	}
	return num / spread, nil
}
