package forecaster

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Snapshot is the serializable state of a Linear model.
type Snapshot struct {
	Config  Config    `json:"config"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// Snapshot copies the current parameters.
func (l *Linear) Snapshot() Snapshot {
	w := mat.DenseCopyOf(l.weights)
	return Snapshot{
		Config:  l.cfg,
		Weights: w.RawMatrix().Data,
		Bias:    append([]float64(nil), l.bias.RawVector().Data...),
	}
}

// Restore overwrites the parameters with s. The geometry must match.
func (l *Linear) Restore(s Snapshot) error {
	if s.Config != l.cfg {
		return fmt.Errorf("%w: snapshot %+v does not match model %+v", ErrInvalidConfig, s.Config, l.cfg)
	}
	in, out := l.cfg.InputSize(), l.cfg.OutputSize()
	if len(s.Weights) != in*out || len(s.Bias) != out {
		return fmt.Errorf("%w: snapshot has %d weights and %d biases, want %d and %d", ErrShape, len(s.Weights), len(s.Bias), in*out, out)
	}
	l.weights = mat.NewDense(in, out, append([]float64(nil), s.Weights...))
	l.bias = mat.NewVecDense(out, append([]float64(nil), s.Bias...))
	return nil
}

// FromSnapshot builds a Linear model from saved state.
func FromSnapshot(s Snapshot) (*Linear, error) {
	l, err := NewLinear(s.Config, nil)
	if err != nil {
		return nil, err
	}
	if err := l.Restore(s); err != nil {
		return nil, err
	}
	return l, nil
}
