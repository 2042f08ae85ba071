package storage

import (
	"context"
	"errors"
	"testing"

	"seqcast/internal/model"
)

func TestMemoryStoreForecastRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := model.ForecastRecord{
		VersionedRecord: CurrentVersion(),
		BatchID:         "b1",
		RunID:           "run-1",
		Rows:            2,
		Channels:        1,
		Data:            []float64{1, 2},
	}
	if err := store.SaveForecast(ctx, input); err != nil {
		t.Fatalf("save forecast: %v", err)
	}
	input.Data[0] = 99

	output, ok, err := store.GetForecast(ctx, "b1")
	if err != nil {
		t.Fatalf("get forecast: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted forecast")
	}
	if output.Data[0] != 1 {
		t.Fatalf("store should copy forecast data, got %v", output.Data)
	}
	output.Data[1] = 42
	again, _, _ := store.GetForecast(ctx, "b1")
	if again.Data[1] != 2 {
		t.Fatal("store should copy forecast data on read")
	}
}

func TestMemoryStoreListForecastsByRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, r := range []model.ForecastRecord{
		{BatchID: "c", RunID: "run-1"},
		{BatchID: "a", RunID: "run-1"},
		{BatchID: "b", RunID: "run-2"},
	} {
		if err := store.SaveForecast(ctx, r); err != nil {
			t.Fatalf("save forecast %s: %v", r.BatchID, err)
		}
	}

	records, err := store.ListForecasts(ctx, "run-1")
	if err != nil {
		t.Fatalf("list forecasts: %v", err)
	}
	if len(records) != 2 || records[0].BatchID != "a" || records[1].BatchID != "c" {
		t.Fatalf("unexpected run-1 forecasts: %+v", records)
	}
	all, err := store.ListForecasts(ctx, "")
	if err != nil {
		t.Fatalf("list all forecasts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 forecasts, got %d", len(all))
	}
}

func TestMemoryStoreModelAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	record := model.ModelRecord{VersionedRecord: CurrentVersion(), ID: "run-1", Kind: "linear"}
	if err := store.SaveModel(ctx, record); err != nil {
		t.Fatalf("save model: %v", err)
	}
	if got, ok, err := store.GetModel(ctx, "run-1"); err != nil || !ok || got.Kind != "linear" {
		t.Fatalf("unexpected model lookup: %+v ok=%t err=%v", got, ok, err)
	}
	if _, ok, err := store.GetModel(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing model, ok=%t err=%v", ok, err)
	}

	history := model.TrainingHistory{
		RunID:  "run-1",
		Epochs: []model.EpochRecord{{Epoch: 1, Train: map[string]float64{"rmse": 0.5}}},
	}
	if err := store.SaveTrainingHistory(ctx, history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history.Epochs[0].Train["rmse"] = 9

	output, ok, err := store.GetTrainingHistory(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get history ok=%t err=%v", ok, err)
	}
	if output.Epochs[0].Train["rmse"] != 0.5 {
		t.Fatalf("store should copy epoch scores, got %+v", output.Epochs[0])
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveForecast(context.Background(), model.ForecastRecord{BatchID: "b"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
}
