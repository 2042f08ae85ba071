package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/signal"
)

// Sample is one supervised pair: X is a lag window and Y the horizon window
// that immediately follows it.
type Sample struct {
	X *mat.Dense
	Y *mat.Dense
}

// Samples slides a lag+horizon window over m with the given stride.
func Samples(m *mat.Dense, lag, horizon, stride int) ([]Sample, error) {
	if lag <= 0 || horizon <= 0 {
		return nil, fmt.Errorf("samples: lag and horizon must be positive, got %d/%d", lag, horizon)
	}
	if stride <= 0 {
		stride = 1
	}
	rows := signal.Len(m)
	if rows < lag+horizon {
		return nil, fmt.Errorf("samples: need at least %d rows, got %d", lag+horizon, rows)
	}

	out := make([]Sample, 0, (rows-lag-horizon)/stride+1)
	for start := 0; start+lag+horizon <= rows; start += stride {
		x, err := signal.Window(m, start, lag)
		if err != nil {
			return nil, err
		}
		y, err := signal.Window(m, start+lag, horizon)
		if err != nil {
			return nil, err
		}
		out = append(out, Sample{X: x, Y: y})
	}
	return out, nil
}

// BundleSamples collects samples from every training matrix of b.
func BundleSamples(b Bundle, lag, horizon, stride int) ([]Sample, error) {
	var out []Sample
	for i, m := range b.Train {
		samples, err := Samples(m, lag, horizon, stride)
		if err != nil {
			return nil, fmt.Errorf("train matrix %d: %w", i, err)
		}
		out = append(out, samples...)
	}
	return out, nil
}

// Split keeps chronological order: the trailing valFraction of samples
// becomes the validation set. Both sides get at least one sample when there
// are two or more.
func Split(samples []Sample, valFraction float64) ([]Sample, []Sample) {
	if len(samples) < 2 || valFraction <= 0 {
		return samples, nil
	}
	if valFraction >= 1 {
		valFraction = 0.5
	}
	n := int(float64(len(samples)) * valFraction)
	if n < 1 {
		n = 1
	}
	cut := len(samples) - n
	return samples[:cut], samples[cut:]
}
