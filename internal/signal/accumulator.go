package signal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Accumulator is an append-only row buffer sized up front. It is owned by a
// single caller; Matrix and Trim hand out the result without further copies.
type Accumulator struct {
	cols int
	rows int
	data []float64
}

// NewAccumulator reserves room for capacity rows of cols channels.
func NewAccumulator(capacity, cols int) *Accumulator {
	if capacity < 0 {
		capacity = 0
	}
	return &Accumulator{
		cols: cols,
		data: make([]float64, 0, capacity*cols),
	}
}

// Len is the number of rows appended so far.
func (a *Accumulator) Len() int {
	return a.rows
}

// Cap is the number of rows the buffer holds without reallocating.
func (a *Accumulator) Cap() int {
	if a.cols == 0 {
		return 0
	}
	return cap(a.data) / a.cols
}

// Append copies every row of m onto the end of the buffer.
func (a *Accumulator) Append(m *mat.Dense) error {
	if IsEmpty(m) {
		return ErrEmpty
	}
	r, c := m.Dims()
	if c != a.cols {
		return fmt.Errorf("%w: expected %d, got %d", ErrChannelMismatch, a.cols, c)
	}
	raw := m.RawMatrix()
	for i := 0; i < r; i++ {
		a.data = append(a.data, raw.Data[i*raw.Stride:i*raw.Stride+c]...)
	}
	a.rows += r
	return nil
}

// Matrix returns every accumulated row.
func (a *Accumulator) Matrix() *mat.Dense {
	return a.Trim(a.rows)
}

// Trim returns the first n rows. n larger than Len is clamped to Len.
func (a *Accumulator) Trim(n int) *mat.Dense {
	if n > a.rows {
		n = a.rows
	}
	if n <= 0 || a.cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(n, a.cols, a.data[:n*a.cols:n*a.cols])
}
