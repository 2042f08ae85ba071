// Package signal holds the time-major signal matrix helpers shared by the
// rollout engine, the transforms and the dataset loaders.
//
// Every matrix handled here is a *mat.Dense with one row per timestep and one
// column per channel. Orientation is normalized once at ingestion (see
// Normalize) and never changes afterwards.
package signal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty           = errors.New("signal matrix is empty")
	ErrOutOfRange      = errors.New("window out of range")
	ErrChannelMismatch = errors.New("channel count mismatch")
	ErrRaggedRows      = errors.New("rows have different lengths")
)

// Orientation names the layout of a matrix as it was read from disk.
type Orientation string

const (
	TimeMajor    Orientation = "time_major"
	ChannelMajor Orientation = "channel_major"
)

// ParseOrientation maps a manifest value to an Orientation. Empty means time-major.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case "", TimeMajor:
		return TimeMajor, nil
	case ChannelMajor:
		return ChannelMajor, nil
	default:
		return "", fmt.Errorf("unsupported orientation: %s", s)
	}
}

// Normalize returns a time-major copy of m.
func Normalize(m *mat.Dense, o Orientation) (*mat.Dense, error) {
	if IsEmpty(m) {
		return nil, ErrEmpty
	}
	switch o {
	case "", TimeMajor:
		return mat.DenseCopyOf(m), nil
	case ChannelMajor:
		return mat.DenseCopyOf(m.T()), nil
	default:
		return nil, fmt.Errorf("unsupported orientation: %s", o)
	}
}

// FromRows builds a time-major matrix from row slices.
func FromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmpty
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d: %w: expected %d, got %d", i, ErrRaggedRows, cols, len(row))
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// Rows returns the matrix as row slices. The slices are copies.
func Rows(m *mat.Dense) [][]float64 {
	if IsEmpty(m) {
		return nil
	}
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

// IsEmpty reports whether m is nil or has a zero dimension.
func IsEmpty(m *mat.Dense) bool {
	if m == nil || m.IsEmpty() {
		return true
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}

// Len is the number of timesteps in m.
func Len(m *mat.Dense) int {
	if IsEmpty(m) {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// Channels is the number of channels in m.
func Channels(m *mat.Dense) int {
	if IsEmpty(m) {
		return 0
	}
	_, c := m.Dims()
	return c
}

// Window copies rows [start, start+length) of m.
func Window(m *mat.Dense, start, length int) (*mat.Dense, error) {
	if IsEmpty(m) {
		return nil, ErrEmpty
	}
	r, c := m.Dims()
	if length <= 0 || start < 0 || start+length > r {
		return nil, fmt.Errorf("%w: rows [%d, %d) of %d", ErrOutOfRange, start, start+length, r)
	}
	return mat.DenseCopyOf(m.Slice(start, start+length, 0, c)), nil
}

// Tail copies the last length rows of m.
func Tail(m *mat.Dense, length int) (*mat.Dense, error) {
	return Window(m, Len(m)-length, length)
}

// Head copies the first length rows of m.
func Head(m *mat.Dense, length int) (*mat.Dense, error) {
	return Window(m, 0, length)
}

// Concat stacks matrices vertically. All inputs must share a channel count.
func Concat(ms ...*mat.Dense) (*mat.Dense, error) {
	total := 0
	cols := -1
	for i, m := range ms {
		if IsEmpty(m) {
			continue
		}
		r, c := m.Dims()
		if cols >= 0 && c != cols {
			return nil, fmt.Errorf("matrix %d: %w: expected %d, got %d", i, ErrChannelMismatch, cols, c)
		}
		cols = c
		total += r
	}
	if total == 0 {
		return nil, ErrEmpty
	}
	acc := NewAccumulator(total, cols)
	for _, m := range ms {
		if IsEmpty(m) {
			continue
		}
		if err := acc.Append(m); err != nil {
			return nil, err
		}
	}
	return acc.Matrix(), nil
}

// Equal reports exact element equality and matching shapes.
func Equal(a, b *mat.Dense) bool {
	if IsEmpty(a) || IsEmpty(b) {
		return IsEmpty(a) && IsEmpty(b)
	}
	return mat.Equal(a, b)
}

// CheckChannels returns ErrChannelMismatch when m does not have want columns.
func CheckChannels(m *mat.Dense, want int) error {
	if got := Channels(m); got != want {
		return fmt.Errorf("%w: expected %d, got %d", ErrChannelMismatch, want, got)
	}
	return nil
}
