package storage

import (
	"context"
	"sort"
	"sync"

	"seqcast/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	models      map[string]model.ModelRecord
	histories   map[string]model.TrainingHistory
	forecasts   map[string]model.ForecastRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.models = make(map[string]model.ModelRecord)
	s.histories = make(map[string]model.TrainingHistory)
	s.forecasts = make(map[string]model.ForecastRecord)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, record model.ModelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.models[record.ID] = copyModel(record)
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id string) (model.ModelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.models[id]
	if !ok {
		return model.ModelRecord{}, false, nil
	}
	return copyModel(record), true, nil
}

func (s *MemoryStore) SaveTrainingHistory(_ context.Context, history model.TrainingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.histories[history.RunID] = copyHistory(history)
	return nil
}

func (s *MemoryStore) GetTrainingHistory(_ context.Context, runID string) (model.TrainingHistory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.histories[runID]
	if !ok {
		return model.TrainingHistory{}, false, nil
	}
	return copyHistory(history), true, nil
}

func (s *MemoryStore) SaveForecast(_ context.Context, record model.ForecastRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.forecasts[record.BatchID] = copyForecast(record)
	return nil
}

func (s *MemoryStore) GetForecast(_ context.Context, batchID string) (model.ForecastRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.forecasts[batchID]
	if !ok {
		return model.ForecastRecord{}, false, nil
	}
	return copyForecast(record), true, nil
}

func (s *MemoryStore) ListForecasts(_ context.Context, runID string) ([]model.ForecastRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ForecastRecord, 0, len(s.forecasts))
	for _, record := range s.forecasts {
		if runID != "" && record.RunID != runID {
			continue
		}
		out = append(out, copyForecast(record))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BatchID < out[j].BatchID
	})
	return out, nil
}

func copyModel(record model.ModelRecord) model.ModelRecord {
	record.Snapshot.Weights = append([]float64(nil), record.Snapshot.Weights...)
	record.Snapshot.Bias = append([]float64(nil), record.Snapshot.Bias...)
	record.Transform.A = append([]float64(nil), record.Transform.A...)
	record.Transform.B = append([]float64(nil), record.Transform.B...)
	return record
}

func copyHistory(history model.TrainingHistory) model.TrainingHistory {
	epochs := make([]model.EpochRecord, 0, len(history.Epochs))
	for _, epoch := range history.Epochs {
		epoch.Train = copyScores(epoch.Train)
		epoch.Val = copyScores(epoch.Val)
		epochs = append(epochs, epoch)
	}
	history.Epochs = epochs
	return history
}

func copyScores(scores map[string]float64) map[string]float64 {
	if scores == nil {
		return nil
	}
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}

func copyForecast(record model.ForecastRecord) model.ForecastRecord {
	record.Data = append([]float64(nil), record.Data...)
	return record
}
