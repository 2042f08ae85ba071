package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"seqcast/internal/train"
)

func writeConfig(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTrainRequestFromJSONConfig(t *testing.T) {
	payload := map[string]any{
		"dataset":      "PDE_KS",
		"pair_id":      8,
		"lag":          12,
		"horizon":      4,
		"transform":    "minmax",
		"val_fraction": 0.25,
		"rollout":      false,
		"training": map[string]any{
			"max_epochs":    7,
			"optimizer":     "sgd",
			"momentum":      0.9,
			"learning_rate": 0.05,
			"seed":          42,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	req, err := loadTrainRequestFromConfig(writeConfig(t, "train.json", data))
	if err != nil {
		t.Fatalf("load train request: %v", err)
	}
	if req.Dataset != "PDE_KS" || req.PairID != 8 || req.Lag != 12 || req.Horizon != 4 {
		t.Fatalf("unexpected base fields: %+v", req)
	}
	if req.Transform != "minmax" || req.ValFraction != 0.25 || req.Rollout {
		t.Fatalf("unexpected data fields: %+v", req)
	}
	if req.Training.MaxEpochs != 7 || req.Training.Optimizer != "sgd" || req.Training.Momentum != 0.9 {
		t.Fatalf("unexpected training fields: %+v", req.Training)
	}
	if req.Training.LearningRate != 0.05 || req.Training.Seed != 42 {
		t.Fatalf("unexpected training fields: %+v", req.Training)
	}
	// unset keys keep the defaults
	if req.Training.BatchSize != train.DefaultConfig().BatchSize || req.Training.ValMetric != train.DefaultConfig().ValMetric {
		t.Fatalf("expected default batch size and metric, got %+v", req.Training)
	}
}

func TestLoadTrainRequestFromYAMLConfig(t *testing.T) {
	yamlConfig := []byte(`
run_id: lorenz-yaml
dataset: ODE_Lorenz
pair_id: 2
lag: 6
horizon: 3
plot: true
max_epochs: 3
training:
  learning_rate: 1
  scheduler: step
  step_size: 2
  gamma: 0.5
  val_metric: mae
`)
	req, err := loadTrainRequestFromConfig(writeConfig(t, "train.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("load yaml config: %v", err)
	}
	if req.RunID != "lorenz-yaml" || req.Lag != 6 || req.Horizon != 3 || !req.Plot {
		t.Fatalf("unexpected base fields: %+v", req)
	}
	if !req.Rollout {
		t.Fatal("expected rollout to default to true")
	}
	if req.Training.MaxEpochs != 3 {
		t.Fatalf("expected top-level max_epochs, got %d", req.Training.MaxEpochs)
	}
	if req.Training.LearningRate != 1 || req.Training.Scheduler != "step" || req.Training.StepSize != 2 || req.Training.Gamma != 0.5 {
		t.Fatalf("unexpected training section: %+v", req.Training)
	}
	if req.Training.ValMetric != "mae" {
		t.Fatalf("expected val metric mae, got %q", req.Training.ValMetric)
	}
}

func TestLoadTrainRequestFromConfigRejectsBadFiles(t *testing.T) {
	if _, err := loadTrainRequestFromConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file error")
	}
	if _, err := loadTrainRequestFromConfig(writeConfig(t, "bad.json", []byte("{"))); err == nil {
		t.Fatal("expected json decode error")
	}
	if _, err := loadTrainRequestFromConfig(writeConfig(t, "bad.yml", []byte("lag: [1"))); err == nil {
		t.Fatal("expected yaml decode error")
	}
}

func TestOverrideFromFlagsAppliesOnlySetFlags(t *testing.T) {
	req := defaultTrainRequest()
	req.Lag = 12
	err := overrideFromFlags(&req, map[string]bool{"horizon": true, "seed": true, "store": true}, map[string]any{
		"lag":     3,
		"horizon": 9,
		"seed":    int64(5),
	})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if req.Lag != 12 || req.Horizon != 9 || req.Training.Seed != 5 {
		t.Fatalf("unexpected overrides: %+v", req)
	}

	err = overrideFromFlags(&req, map[string]bool{"bogus": true}, map[string]any{"bogus": 1})
	if err == nil {
		t.Fatal("expected unsupported override error")
	}
}

func TestParseIntList(t *testing.T) {
	got, err := parseIntList(" 2, 4 ,9")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(got, []int{2, 4, 9}) {
		t.Fatalf("unexpected list: %v", got)
	}
	if got, err := parseIntList(""); err != nil || got != nil {
		t.Fatalf("expected empty list, got %v %v", got, err)
	}
	if _, err := parseIntList("2,x"); err == nil {
		t.Fatal("expected invalid int error")
	}
}
