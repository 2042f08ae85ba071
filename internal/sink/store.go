package sink

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/model"
	"seqcast/internal/storage"
)

// StoreSink saves each batch as a versioned forecast record.
type StoreSink struct {
	Store storage.Store
	Now   func() time.Time
}

func (s StoreSink) Write(ctx context.Context, batchID string, m *mat.Dense, meta model.ForecastMeta) error {
	if err := validate(batchID, m); err != nil {
		return err
	}
	if s.Store == nil {
		return ErrNilStore
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	rows, cols := m.Dims()
	record := model.ForecastRecord{
		VersionedRecord: storage.CurrentVersion(),
		BatchID:         batchID,
		RunID:           meta.RunID,
		Dataset:         meta.Dataset,
		PairID:          meta.PairID,
		Mode:            meta.Mode,
		Validation:      meta.Validation,
		PrefixSeed:      meta.PrefixSeed,
		Calls:           meta.Calls,
		Overshoot:       meta.Overshoot,
		Rows:            rows,
		Channels:        cols,
		Data:            mat.DenseCopyOf(m).RawMatrix().Data,
		CreatedAtUTC:    now().UTC().Format(time.RFC3339Nano),
	}
	return s.Store.SaveForecast(ctx, record)
}

// Matrix rebuilds the time-major matrix of a stored forecast.
func Matrix(record model.ForecastRecord) (*mat.Dense, error) {
	if record.Rows <= 0 || record.Channels <= 0 || len(record.Data) != record.Rows*record.Channels {
		return nil, fmt.Errorf("forecast %s: %d values for %dx%d", record.BatchID, len(record.Data), record.Rows, record.Channels)
	}
	return mat.NewDense(record.Rows, record.Channels, append([]float64(nil), record.Data...)), nil
}
