package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/dataset"
	"seqcast/internal/model"
	"seqcast/internal/signal"
)

// FileSink writes each batch to <Dir>/output_mat_<batch>.csv. Transpose writes
// channel-major files (one row per channel) for consumers that expect them.
type FileSink struct {
	Dir       string
	Transpose bool
}

// Path returns the file a batch is written to.
func (s FileSink) Path(batchID string) string {
	return filepath.Join(s.Dir, "output_mat_"+batchID+".csv")
}

func (s FileSink) Write(ctx context.Context, batchID string, m *mat.Dense, _ model.ForecastMeta) error {
	if err := validate(batchID, m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.Dir, ".output_mat_*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	out := m
	if s.Transpose {
		out = mat.DenseCopyOf(m.T())
	}
	if err := dataset.WriteMatrix(tmp, out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write batch %s: %w", batchID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.Path(batchID)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Read loads a batch back as a time-major matrix.
func (s FileSink) Read(batchID string) (*mat.Dense, error) {
	orientation := signal.TimeMajor
	if s.Transpose {
		orientation = signal.ChannelMajor
	}
	return dataset.ReadMatrixFile(s.Path(batchID), orientation)
}
