package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"seqcast/internal/train"
	"seqcast/pkg/seqcast"
)

// loadTrainRequestFromConfig reads a train config file. Files ending in .yaml
// or .yml are YAML, everything else JSON. Training keys live either at the top
// level or under a "training" section; the section wins.
func loadTrainRequestFromConfig(path string) (seqcast.TrainRequest, error) {
	raw, err := readConfigMap(path)
	if err != nil {
		return seqcast.TrainRequest{}, err
	}

	req := defaultTrainRequest()
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["dataset"]); ok {
		req.Dataset = v
	}
	if v, ok := asInt(raw["pair_id"]); ok {
		req.PairID = v
	}
	if v, ok := asInt(raw["lag"]); ok {
		req.Lag = v
	}
	if v, ok := asInt(raw["horizon"]); ok {
		req.Horizon = v
	}
	if v, ok := asString(raw["transform"]); ok {
		req.Transform = v
	}
	if v, ok := asInt(raw["diff_lag"]); ok {
		req.DiffLag = v
	}
	if v, ok := asInt(raw["stride"]); ok {
		req.Stride = v
	}
	if v, ok := asFloat64(raw["val_fraction"]); ok {
		req.ValFraction = v
	}
	if v, ok := asBool(raw["rollout"]); ok {
		req.Rollout = v
	}
	if v, ok := asBool(raw["validation"]); ok {
		req.Validation = v
	}
	if v, ok := asBool(raw["plot"]); ok {
		req.Plot = v
	}

	applyTrainingConfig(&req.Training, raw)
	if section, ok := asMap(raw["training"]); ok {
		applyTrainingConfig(&req.Training, section)
	}
	return req, nil
}

func applyTrainingConfig(cfg *train.Config, raw map[string]any) {
	if v, ok := asInt(raw["max_epochs"]); ok {
		cfg.MaxEpochs = v
	}
	if v, ok := asInt(raw["early_stopping_epochs"]); ok {
		cfg.EarlyStoppingEpochs = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		cfg.BatchSize = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		cfg.LearningRate = v
	}
	if v, ok := asString(raw["optimizer"]); ok {
		cfg.Optimizer = v
	}
	if v, ok := asFloat64(raw["momentum"]); ok {
		cfg.Momentum = v
	}
	if v, ok := asFloat64(raw["weight_decay"]); ok {
		cfg.WeightDecay = v
	}
	if v, ok := asString(raw["scheduler"]); ok {
		cfg.Scheduler = v
	}
	if v, ok := asInt(raw["step_size"]); ok {
		cfg.StepSize = v
	}
	if v, ok := asFloat64(raw["gamma"]); ok {
		cfg.Gamma = v
	}
	if v, ok := asString(raw["val_metric"]); ok {
		cfg.ValMetric = v
	}
	if v, ok := asBool(raw["return_best"]); ok {
		cfg.ReturnBest = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		cfg.Seed = v
	}
}

func readConfigMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode json config %s: %w", path, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

// asFloat64 also accepts ints since YAML decodes "learning_rate: 1" as one.
func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// overrideFromFlags applies only the flags the user actually set on top of a
// config-file request.
func overrideFromFlags(req *seqcast.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "dataset":
			req.Dataset = v.(string)
		case "pair-id":
			req.PairID = v.(int)
		case "lag":
			req.Lag = v.(int)
		case "horizon":
			req.Horizon = v.(int)
		case "transform":
			req.Transform = v.(string)
		case "diff-lag":
			req.DiffLag = v.(int)
		case "stride":
			req.Stride = v.(int)
		case "val-fraction":
			req.ValFraction = v.(float64)
		case "rollout":
			req.Rollout = v.(bool)
		case "validation":
			req.Validation = v.(bool)
		case "plot":
			req.Plot = v.(bool)
		case "epochs":
			req.Training.MaxEpochs = v.(int)
		case "early-stopping":
			req.Training.EarlyStoppingEpochs = v.(int)
		case "batch-size":
			req.Training.BatchSize = v.(int)
		case "lr":
			req.Training.LearningRate = v.(float64)
		case "optimizer":
			req.Training.Optimizer = v.(string)
		case "momentum":
			req.Training.Momentum = v.(float64)
		case "weight-decay":
			req.Training.WeightDecay = v.(float64)
		case "scheduler":
			req.Training.Scheduler = v.(string)
		case "step-size":
			req.Training.StepSize = v.(int)
		case "gamma":
			req.Training.Gamma = v.(float64)
		case "val-metric":
			req.Training.ValMetric = v.(string)
		case "return-best":
			req.Training.ReturnBest = v.(bool)
		case "seed":
			req.Training.Seed = v.(int64)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func defaultTrainRequest() seqcast.TrainRequest {
	return seqcast.TrainRequest{
		Dataset:  defaultDataset,
		PairID:   defaultPairID,
		Rollout:  true,
		Training: train.DefaultConfig(),
	}
}

func loadOrDefaultTrainRequest(configPath string) (seqcast.TrainRequest, error) {
	if configPath == "" {
		return defaultTrainRequest(), nil
	}
	return loadTrainRequestFromConfig(configPath)
}

// parseIntList reads a comma separated list of ints such as "2,4".
func parseIntList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid int %q in list %q", p, s)
		}
		out = append(out, v)
	}
	return out, nil
}
