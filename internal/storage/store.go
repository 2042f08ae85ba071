package storage

import (
	"context"

	"seqcast/internal/model"
)

// Store defines the persistence operations for trained models, their
// training history and the forecasts produced from them.
type Store interface {
	Init(ctx context.Context) error
	SaveModel(ctx context.Context, record model.ModelRecord) error
	GetModel(ctx context.Context, id string) (model.ModelRecord, bool, error)
	SaveTrainingHistory(ctx context.Context, history model.TrainingHistory) error
	GetTrainingHistory(ctx context.Context, runID string) (model.TrainingHistory, bool, error)
	SaveForecast(ctx context.Context, record model.ForecastRecord) error
	GetForecast(ctx context.Context, batchID string) (model.ForecastRecord, bool, error)
	// ListForecasts returns the forecasts of runID ordered by batch id. An
	// empty runID lists every forecast.
	ListForecasts(ctx context.Context, runID string) ([]model.ForecastRecord, error)
}
