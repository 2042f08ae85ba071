package model

import (
	"seqcast/internal/forecaster"
	"seqcast/internal/transform"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModelRecord is a trained forecaster together with the transform it was
// trained under.
type ModelRecord struct {
	VersionedRecord
	ID           string              `json:"id"`
	Dataset      string              `json:"dataset"`
	PairID       int                 `json:"pair_id"`
	Kind         string              `json:"kind"`
	Snapshot     forecaster.Snapshot `json:"snapshot"`
	Transform    transform.Spec      `json:"transform"`
	CreatedAtUTC string              `json:"created_at_utc"`
}

type EpochRecord struct {
	Epoch        int                `json:"epoch"`
	LearningRate float64            `json:"learning_rate"`
	TrainLoss    float64            `json:"train_loss"`
	Train        map[string]float64 `json:"train,omitempty"`
	Val          map[string]float64 `json:"val,omitempty"`
	Best         bool               `json:"best"`
	DurationMS   int64              `json:"duration_ms"`
}

type TrainingHistory struct {
	VersionedRecord
	RunID        string        `json:"run_id"`
	ValMetric    string        `json:"val_metric"`
	BestEpoch    int           `json:"best_epoch"`
	BestValue    float64       `json:"best_value"`
	StoppedEarly bool          `json:"stopped_early"`
	Epochs       []EpochRecord `json:"epochs"`
}

// ForecastRecord is one persisted rollout output. Data is row-major and
// time-major: Rows timesteps of Channels values each.
type ForecastRecord struct {
	VersionedRecord
	BatchID      string    `json:"batch_id"`
	RunID        string    `json:"run_id"`
	Dataset      string    `json:"dataset"`
	PairID       int       `json:"pair_id"`
	Mode         string    `json:"mode"`
	Validation   bool      `json:"validation"`
	PrefixSeed   bool      `json:"prefix_seed"`
	Calls        int       `json:"calls"`
	Overshoot    int       `json:"overshoot"`
	Rows         int       `json:"rows"`
	Channels     int       `json:"channels"`
	Data         []float64 `json:"data"`
	CreatedAtUTC string    `json:"created_at_utc"`
}

// ForecastMeta carries everything a sink needs besides the matrix itself.
type ForecastMeta struct {
	RunID      string
	Dataset    string
	PairID     int
	Mode       string
	Validation bool
	PrefixSeed bool
	Calls      int
	Overshoot  int
}
