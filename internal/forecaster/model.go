// Package forecaster defines the contract the rollout engine drives and a
// linear lag-to-horizon model that satisfies it.
package forecaster

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidConfig = errors.New("invalid forecaster config")
	ErrShape         = errors.New("forecaster input shape mismatch")
)

// Model consumes a lag-length window and produces n future rows. Forecast
// must not mutate model parameters; implementations chunk internally when n
// exceeds Horizon.
type Model interface {
	Lag() int
	Horizon() int
	Channels() int
	Forecast(ctx context.Context, seed *mat.Dense, n int) (*mat.Dense, error)
}

// WindowFunc maps a time-major window between data space and model space.
type WindowFunc func(*mat.Dense) (*mat.Dense, error)

// SpaceAwareModel chunks in data space: every re-fed window is taken from
// the levels produced so far and passed through input before the model sees
// it, and every model chunk goes through output before it is appended. The
// seed and the result are in data space.
type SpaceAwareModel interface {
	Model
	ForecastThrough(ctx context.Context, seed *mat.Dense, n int, input, output WindowFunc) (*mat.Dense, error)
}

// Config fixes the window geometry of a model.
type Config struct {
	Lag      int `json:"lag"`
	Horizon  int `json:"horizon"`
	Channels int `json:"channels"`
}

func (c Config) Validate() error {
	if c.Lag <= 0 {
		return fmt.Errorf("%w: lag must be > 0, got %d", ErrInvalidConfig, c.Lag)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be > 0, got %d", ErrInvalidConfig, c.Horizon)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("%w: channels must be > 0, got %d", ErrInvalidConfig, c.Channels)
	}
	return nil
}

// InputSize is the flattened width of one lag window.
func (c Config) InputSize() int {
	return c.Lag * c.Channels
}

// OutputSize is the flattened width of one horizon window.
func (c Config) OutputSize() int {
	return c.Horizon * c.Channels
}
