// Package sink persists finished rollout outputs. A sink only ever sees a
// complete output matrix: the engine returns nothing on failure, so a batch is
// either written in full or not at all.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/model"
	"seqcast/internal/signal"
)

var (
	ErrEmptyBatchID = errors.New("batch id is required")
	ErrNilStore     = errors.New("sink store is nil")
)

// Sink receives one rollout output per batch id.
type Sink interface {
	Write(ctx context.Context, batchID string, m *mat.Dense, meta model.ForecastMeta) error
}

// Multi writes to every sink in order and stops at the first failure.
type Multi []Sink

func (s Multi) Write(ctx context.Context, batchID string, m *mat.Dense, meta model.ForecastMeta) error {
	for i, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Write(ctx, batchID, m, meta); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func validate(batchID string, m *mat.Dense) error {
	if strings.TrimSpace(batchID) == "" {
		return ErrEmptyBatchID
	}
	if strings.ContainsAny(batchID, `/\`) {
		return fmt.Errorf("invalid batch id %q", batchID)
	}
	if signal.IsEmpty(m) {
		return signal.ErrEmpty
	}
	return nil
}
