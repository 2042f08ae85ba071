// Package dataset loads training and ground-truth matrices for a dataset pair
// and cuts them into lag/horizon samples.
package dataset

import (
	"context"
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrPairNotFound    = errors.New("dataset pair not found")
	ErrInvalidManifest = errors.New("invalid dataset manifest")
)

// Bundle is everything a pair provides for one regime. Every matrix is
// time-major.
type Bundle struct {
	Dataset string
	PairID  int
	Train   []*mat.Dense
	// Validation is the held-out ground truth; nil outside the validation regime.
	Validation *mat.Dense
	// Init is the dedicated initial-condition matrix, when the pair has one.
	Init                *mat.Dense
	PredictionTimesteps int
}

// Primary returns the first training matrix.
func (b Bundle) Primary() *mat.Dense {
	if len(b.Train) == 0 {
		return nil
	}
	return b.Train[0]
}

// Provider exposes the standard and validation regimes of each dataset pair.
type Provider interface {
	Load(ctx context.Context, name string, pairID int) (Bundle, error)
	LoadValidation(ctx context.Context, name string, pairID int) (Bundle, error)
}

func copyBundle(b Bundle) Bundle {
	out := b
	out.Train = make([]*mat.Dense, len(b.Train))
	for i, m := range b.Train {
		out.Train[i] = copyMatrix(m)
	}
	out.Validation = copyMatrix(b.Validation)
	out.Init = copyMatrix(b.Init)
	return out
}

func copyMatrix(m *mat.Dense) *mat.Dense {
	if m == nil || m.IsEmpty() {
		return nil
	}
	return mat.DenseCopyOf(m)
}
