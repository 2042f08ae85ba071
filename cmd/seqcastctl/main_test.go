package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliDirs struct {
	data    string
	runs    string
	output  string
	exports string
}

func newCLIDirs(t *testing.T) cliDirs {
	t.Helper()
	root := t.TempDir()
	return cliDirs{
		data:    filepath.Join(root, "data"),
		runs:    filepath.Join(root, "runs"),
		output:  filepath.Join(root, "output"),
		exports: filepath.Join(root, "exports"),
	}
}

func (d cliDirs) args(cmd string, extra ...string) []string {
	args := []string{
		cmd,
		"--store", "memory",
		"--data-dir", d.data,
		"--runs-dir", d.runs,
		"--output-dir", d.output,
		"--exports-dir", d.exports,
		"--log-level", "error",
		"--log-format", "json",
	}
	return append(args, extra...)
}

func TestRunRequiresKnownCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
	if err := run(context.Background(), []string{"evolve"}); err == nil || !strings.Contains(err.Error(), "usage: seqcastctl") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestTrainForecastAndInspectCommands(t *testing.T) {
	ctx := context.Background()
	dirs := newCLIDirs(t)

	out, err := captureStdout(func() error {
		return run(ctx, dirs.args("generate", "--steps", "200", "--init-rows", "6"))
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "generated dataset=ODE_Lorenz pairs=2,8") {
		t.Fatalf("unexpected generate output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dirs.data, "ODE_Lorenz", "manifest.json")); err != nil {
		t.Fatalf("expected manifest: %v", err)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("train",
			"--run-id", "lorenz-cli",
			"--lag", "4",
			"--horizon", "3",
			"--epochs", "3",
			"--batch-size", "16",
		))
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	for _, want := range []string{
		"train completed run_id=lorenz-cli dataset=ODE_Lorenz pair_id=2 lag=4 horizon=3 epochs=3",
		"mode=reconstruction",
		"rows=100 channels=3 calls=34 overshoot=2",
		"score rmse=",
		"artifacts_dir=",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("train output missing %q:\n%s", want, out)
		}
	}
	for _, file := range []string{"config.json", "training_history.json", "training_history.csv", "model.json", "forecast_summary.json"} {
		if _, err := os.Stat(filepath.Join(dirs.runs, "lorenz-cli", file)); err != nil {
			t.Fatalf("expected run artifact %s: %v", file, err)
		}
	}
	outputs, err := filepath.Glob(filepath.Join(dirs.output, "lorenz-cli", "output_mat_*.csv"))
	if err != nil || len(outputs) != 1 {
		t.Fatalf("expected one output matrix, got %v err=%v", outputs, err)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("forecast", "--latest", "--pair-id", "8", "--batch-id", "init-8"))
	})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if !strings.Contains(out, "batch_id=init-8 run_id=lorenz-cli dataset=ODE_Lorenz pair_id=8 mode=forecast") {
		t.Fatalf("unexpected forecast output: %q", out)
	}
	if !strings.Contains(out, "prefix_seed=true") || !strings.Contains(out, "rows=100 channels=3 calls=1") {
		t.Fatalf("unexpected forecast shape: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dirs.output, "lorenz-cli", "output_mat_init-8.csv")); err != nil {
		t.Fatalf("expected forecast output file: %v", err)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("runs", "--json"))
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []map[string]any
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs json: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0]["run_id"] != "lorenz-cli" || runs[0]["lag"] != float64(4) {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("forecasts", "--run-id", "lorenz-cli", "--json"))
	})
	if err != nil {
		t.Fatalf("forecasts: %v", err)
	}
	var forecasts []map[string]any
	if err := json.Unmarshal([]byte(out), &forecasts); err != nil {
		t.Fatalf("decode forecasts json: %v\n%s", err, out)
	}
	if len(forecasts) != 2 {
		t.Fatalf("expected two forecasts, got %+v", forecasts)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("history", "--latest"))
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "history run_id=lorenz-cli epochs=3") || strings.Count(out, "\nepoch=") != 3 {
		t.Fatalf("unexpected history output:\n%s", out)
	}

	out, err = captureStdout(func() error {
		return run(ctx, dirs.args("export", "--latest"))
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "exported run_id=lorenz-cli") {
		t.Fatalf("unexpected export output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dirs.exports, "lorenz-cli", "config.json")); err != nil {
		t.Fatalf("expected exported config: %v", err)
	}
}

func TestTrainUsesConfigFileWithFlagOverrides(t *testing.T) {
	ctx := context.Background()
	dirs := newCLIDirs(t)
	if _, err := captureStdout(func() error {
		return run(ctx, dirs.args("generate", "--steps", "150", "--pairs", "2", "--init-pairs", ""))
	}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	config := writeConfig(t, "train.yaml", []byte(`
run_id: from-config
lag: 5
horizon: 2
rollout: false
training:
  max_epochs: 2
  batch_size: 8
`))
	out, err := captureStdout(func() error {
		return run(ctx, dirs.args("train", "--config", config, "--horizon", "3"))
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !strings.Contains(out, "run_id=from-config dataset=ODE_Lorenz pair_id=2 lag=5 horizon=3 epochs=2") {
		t.Fatalf("unexpected train output: %q", out)
	}
	if strings.Contains(out, "forecast batch_id=") {
		t.Fatalf("expected no rollout, got %q", out)
	}
}

func TestModesCommand(t *testing.T) {
	out, err := captureStdout(func() error {
		return run(context.Background(), []string{"modes"})
	})
	if err != nil {
		t.Fatalf("modes: %v", err)
	}
	for _, want := range []string{
		"pair_ids=2,4 mode=reconstruction",
		"pair_ids=8,9 mode=forecast",
		"pair_ids=* mode=forecast",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("modes output missing %q:\n%s", want, out)
		}
	}

	out, err = captureStdout(func() error {
		return run(context.Background(), []string{"modes", "--json"})
	})
	if err != nil {
		t.Fatalf("modes json: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode modes: %v", err)
	}
	if len(rows) != 3 || rows[2]["fallback"] != true {
		t.Fatalf("unexpected mode rows: %+v", rows)
	}
}

func TestInspectCommandsRequireRun(t *testing.T) {
	ctx := context.Background()
	dirs := newCLIDirs(t)

	out, err := captureStdout(func() error {
		return run(ctx, dirs.args("runs"))
	})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs found") {
		t.Fatalf("unexpected runs output: %q", out)
	}
	if err := run(ctx, dirs.args("runs", "--limit", "0")); err == nil {
		t.Fatal("expected limit error")
	}
	if err := run(ctx, dirs.args("export")); err == nil {
		t.Fatal("expected export to require a run")
	}
	if err := run(ctx, dirs.args("export", "--run-id", "x", "--latest")); err == nil {
		t.Fatal("expected ambiguous export error")
	}
	if err := run(ctx, dirs.args("history")); err == nil {
		t.Fatal("expected history to require a run")
	}
	if err := run(ctx, dirs.args("forecast", "--latest")); err == nil {
		t.Fatal("expected forecast without runs to fail")
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
