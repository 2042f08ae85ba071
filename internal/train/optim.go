package train

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	OptimizerSGD  = "sgd"
	OptimizerAdam = "adam"

	SchedulerNone   = "none"
	SchedulerStep   = "step"
	SchedulerCosine = "cosine"
)

var (
	ErrUnknownOptimizer = errors.New("unknown optimizer")
	ErrUnknownScheduler = errors.New("unknown scheduler")
)

// optimizer updates flat parameter slices in place from matching gradients.
type optimizer interface {
	step(params, grads [][]float64, lr float64)
}

func newOptimizer(cfg Config) (optimizer, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Optimizer)) {
	case "", OptimizerAdam:
		return &adam{beta1: 0.9, beta2: 0.999, eps: 1e-8, weightDecay: cfg.WeightDecay}, nil
	case OptimizerSGD:
		return &sgd{momentum: cfg.Momentum, weightDecay: cfg.WeightDecay}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOptimizer, cfg.Optimizer)
	}
}

type sgd struct {
	momentum    float64
	weightDecay float64
	velocity    [][]float64
}

func (o *sgd) step(params, grads [][]float64, lr float64) {
	if o.velocity == nil {
		o.velocity = zerosLike(params)
	}
	for i, p := range params {
		v := o.velocity[i]
		for j := range p {
			g := grads[i][j] + o.weightDecay*p[j]
			v[j] = o.momentum*v[j] + g
			p[j] -= lr * v[j]
		}
	}
}

type adam struct {
	beta1, beta2 float64
	eps          float64
	weightDecay  float64
	t            int
	m, v         [][]float64
}

func (o *adam) step(params, grads [][]float64, lr float64) {
	if o.m == nil {
		o.m = zerosLike(params)
		o.v = zerosLike(params)
	}
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, p := range params {
		m, v := o.m[i], o.v[i]
		for j := range p {
			g := grads[i][j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			p[j] -= lr * ((m[j]/c1)/(math.Sqrt(v[j]/c2)+o.eps) + o.weightDecay*p[j])
		}
	}
}

func zerosLike(params [][]float64) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, len(p))
	}
	return out
}

// scheduler returns the learning rate for a zero-based epoch.
type scheduler func(epoch int) float64

func newScheduler(cfg Config) (scheduler, error) {
	base := cfg.LearningRate
	switch strings.TrimSpace(strings.ToLower(cfg.Scheduler)) {
	case "", SchedulerNone:
		return func(int) float64 { return base }, nil
	case SchedulerStep:
		stepSize := cfg.StepSize
		if stepSize <= 0 {
			stepSize = 10
		}
		gamma := cfg.Gamma
		if gamma <= 0 {
			gamma = 0.1
		}
		return func(epoch int) float64 {
			return base * math.Pow(gamma, float64(epoch/stepSize))
		}, nil
	case SchedulerCosine:
		total := cfg.MaxEpochs
		if total <= 0 {
			total = 1
		}
		return func(epoch int) float64 {
			return base * 0.5 * (1 + math.Cos(math.Pi*float64(epoch)/float64(total)))
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheduler, cfg.Scheduler)
	}
}
