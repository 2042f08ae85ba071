package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/signal"
)

type LorenzConfig struct {
	Steps int
	Dt    float64
	Sigma float64
	Rho   float64
	Beta  float64
	Start [3]float64
}

// DefaultLorenzConfig is the classic chaotic parameter set.
func DefaultLorenzConfig() LorenzConfig {
	return LorenzConfig{
		Steps: 1000,
		Dt:    0.01,
		Sigma: 10,
		Rho:   28,
		Beta:  8.0 / 3.0,
		Start: [3]float64{1, 1, 1},
	}
}

// Lorenz integrates the Lorenz system with fixed-step RK4 and returns a
// Steps x 3 time-major matrix whose first row is Start.
func Lorenz(cfg LorenzConfig) (*mat.Dense, error) {
	if cfg.Steps <= 0 || cfg.Dt <= 0 {
		return nil, fmt.Errorf("lorenz: steps and dt must be positive, got %d/%g", cfg.Steps, cfg.Dt)
	}
	deriv := func(s [3]float64) [3]float64 {
		return [3]float64{
			cfg.Sigma * (s[1] - s[0]),
			s[0]*(cfg.Rho-s[2]) - s[1],
			s[0]*s[1] - cfg.Beta*s[2],
		}
	}
	axpy := func(s, d [3]float64, h float64) [3]float64 {
		return [3]float64{s[0] + h*d[0], s[1] + h*d[1], s[2] + h*d[2]}
	}

	out := mat.NewDense(cfg.Steps, 3, nil)
	state := cfg.Start
	for t := 0; t < cfg.Steps; t++ {
		out.SetRow(t, state[:])
		k1 := deriv(state)
		k2 := deriv(axpy(state, k1, cfg.Dt/2))
		k3 := deriv(axpy(state, k2, cfg.Dt/2))
		k4 := deriv(axpy(state, k3, cfg.Dt))
		for i := range state {
			state[i] += cfg.Dt / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
		}
	}
	return out, nil
}

type GenerateOptions struct {
	Name   string
	Lorenz LorenzConfig
	// PairIDs are written with the shared training trajectory.
	PairIDs []int
	// InitPairIDs additionally get an initial-condition file of InitRows rows.
	InitPairIDs         []int
	InitRows            int
	PredictionTimesteps int
	ValidationRows      int
	Orientation         signal.Orientation
	Seed                int64
}

// GenerateLorenzDataset writes a manifest-backed Lorenz dataset under
// root/opts.Name. The initial condition is the head of a second trajectory
// started from a jittered point.
func GenerateLorenzDataset(root string, opts GenerateOptions) (Manifest, error) {
	if opts.Name == "" {
		return Manifest{}, fmt.Errorf("dataset name is required")
	}
	if len(opts.PairIDs) == 0 && len(opts.InitPairIDs) == 0 {
		return Manifest{}, fmt.Errorf("at least one pair id is required")
	}
	dir := filepath.Join(root, opts.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, err
	}

	train, err := Lorenz(opts.Lorenz)
	if err != nil {
		return Manifest{}, err
	}
	if err := WriteMatrixFile(filepath.Join(dir, "train.csv"), train, opts.Orientation); err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{Name: opts.Name, Orientation: string(opts.Orientation)}
	for _, id := range opts.PairIDs {
		manifest.Pairs = append(manifest.Pairs, PairSpec{
			ID:                  id,
			Train:               []string{"train.csv"},
			PredictionTimesteps: opts.PredictionTimesteps,
			ValidationRows:      opts.ValidationRows,
		})
	}

	if len(opts.InitPairIDs) > 0 {
		if opts.InitRows <= 0 || opts.InitRows > opts.Lorenz.Steps {
			return Manifest{}, fmt.Errorf("init rows must be in [1, %d], got %d", opts.Lorenz.Steps, opts.InitRows)
		}
		rng := rand.New(rand.NewSource(opts.Seed))
		jittered := opts.Lorenz
		for i := range jittered.Start {
			jittered.Start[i] += rng.Float64() - 0.5
		}
		jittered.Steps = opts.InitRows
		init, err := Lorenz(jittered)
		if err != nil {
			return Manifest{}, err
		}
		if err := WriteMatrixFile(filepath.Join(dir, "init.csv"), init, opts.Orientation); err != nil {
			return Manifest{}, err
		}
		for _, id := range opts.InitPairIDs {
			manifest.Pairs = append(manifest.Pairs, PairSpec{
				ID:                  id,
				Train:               []string{"train.csv"},
				Init:                "init.csv",
				PredictionTimesteps: opts.PredictionTimesteps,
				ValidationRows:      opts.ValidationRows,
			})
		}
	}

	if err := WriteManifest(dir, manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}
