// Package stats writes the per-run artifact directory: run configuration,
// training history, forecast summaries and plots, plus the run index that
// lists every run under a base directory.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"seqcast/internal/model"
	"seqcast/internal/storage"
	"seqcast/internal/train"
)

const (
	runIndexFile        = "run_index.json"
	configFile          = "config.json"
	historyFile         = "training_history.json"
	historySeriesFile   = "training_history.csv"
	forecastSummaryFile = "forecast_summary.json"
	modelFile           = "model.json"
	ForecastPlotFile    = "forecast.png"
)

// RunConfig is everything needed to reproduce a training run.
type RunConfig struct {
	RunID       string       `json:"run_id"`
	Dataset     string       `json:"dataset"`
	DataDir     string       `json:"data_dir,omitempty"`
	PairID      int          `json:"pair_id"`
	Lag         int          `json:"lag"`
	Horizon     int          `json:"horizon"`
	Channels    int          `json:"channels"`
	Transform   string       `json:"transform"`
	Stride      int          `json:"stride"`
	ValFraction float64      `json:"val_fraction"`
	Training    train.Config `json:"training"`
}

// ForecastSummary describes one persisted rollout without its data.
type ForecastSummary struct {
	BatchID      string             `json:"batch_id"`
	Dataset      string             `json:"dataset"`
	PairID       int                `json:"pair_id"`
	Mode         string             `json:"mode"`
	Validation   bool               `json:"validation"`
	PrefixSeed   bool               `json:"prefix_seed"`
	Calls        int                `json:"calls"`
	Overshoot    int                `json:"overshoot"`
	Rows         int                `json:"rows"`
	Channels     int                `json:"channels"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	CreatedAtUTC string             `json:"created_at_utc"`
}

type RunArtifacts struct {
	Config    RunConfig             `json:"config"`
	History   model.TrainingHistory `json:"history"`
	Forecasts []ForecastSummary     `json:"forecasts,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Dataset      string  `json:"dataset"`
	PairID       int     `json:"pair_id"`
	Lag          int     `json:"lag"`
	Horizon      int     `json:"horizon"`
	Transform    string  `json:"transform"`
	Epochs       int     `json:"epochs"`
	ValMetric    string  `json:"val_metric"`
	BestEpoch    int     `json:"best_epoch"`
	BestValue    float64 `json:"best_value"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, historyFile), artifacts.History); err != nil {
		return "", err
	}
	if err := WriteHistorySeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	forecasts := artifacts.Forecasts
	if forecasts == nil {
		forecasts = []ForecastSummary{}
	}
	if err := writeJSON(filepath.Join(runDir, forecastSummaryFile), forecasts); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/<runID>. The config and
// history are required; forecast summaries, the CSV series and the plot are
// copied when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, historyFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{historySeriesFile, forecastSummaryFile, modelFile, ForecastPlotFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

// WriteRunModel stores the trained model next to the run artifacts so a run
// can be forecast from without the record store.
func WriteRunModel(baseDir string, record model.ModelRecord) error {
	if record.ID == "" {
		return fmt.Errorf("run id is required")
	}
	data, err := storage.EncodeModel(record)
	if err != nil {
		return err
	}
	runDir := filepath.Join(baseDir, record.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, modelFile), append(data, '\n'), 0o644)
}

func ReadRunModel(baseDir, runID string) (model.ModelRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, modelFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.ModelRecord{}, false, nil
		}
		return model.ModelRecord{}, false, err
	}
	record, err := storage.DecodeModel(data)
	if err != nil {
		return model.ModelRecord{}, false, fmt.Errorf("run %s model: %w", runID, err)
	}
	return record, true, nil
}

func ReadTrainingHistory(baseDir, runID string) (model.TrainingHistory, bool, error) {
	var history model.TrainingHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, historyFile), &history)
	if err != nil || !ok {
		return model.TrainingHistory{}, ok, err
	}
	return history, true, nil
}

func ReadForecastSummaries(baseDir, runID string) ([]ForecastSummary, bool, error) {
	var summaries []ForecastSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, forecastSummaryFile), &summaries)
	if err != nil || !ok {
		return nil, ok, err
	}
	return summaries, true, nil
}

// AppendForecastSummary adds or replaces a batch in the run's summary list.
func AppendForecastSummary(baseDir, runID string, summary ForecastSummary) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if summary.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}

	summaries, _, err := ReadForecastSummaries(baseDir, runID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range summaries {
		if summaries[i].BatchID == summary.BatchID {
			summaries[i] = summary
			replaced = true
		}
	}
	if !replaced {
		summaries = append(summaries, summary)
	}
	return writeJSON(filepath.Join(runDir, forecastSummaryFile), summaries)
}

// WriteHistorySeries writes one CSV row per epoch. Score columns are prefixed
// with train_ or val_ and sorted by name.
func WriteHistorySeries(runDir string, history model.TrainingHistory) error {
	trainNames, valNames := scoreNames(history.Epochs)

	file, err := os.Create(filepath.Join(runDir, historySeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"epoch", "learning_rate", "train_loss"}
	for _, name := range trainNames {
		header = append(header, "train_"+name)
	}
	for _, name := range valNames {
		header = append(header, "val_"+name)
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, epoch := range history.Epochs {
		record := []string{
			strconv.Itoa(epoch.Epoch),
			formatFloat(epoch.LearningRate),
			formatFloat(epoch.TrainLoss),
		}
		for _, name := range trainNames {
			record = append(record, scoreField(epoch.Train, name))
		}
		for _, name := range valNames {
			record = append(record, scoreField(epoch.Val, name))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadHistorySeries returns the CSV series keyed by column name. Missing
// scores read back as NaN.
func ReadHistorySeries(baseDir, runID string) (map[string][]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, historySeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return map[string][]float64{}, true, nil
		}
		return nil, false, err
	}

	series := make(map[string][]float64, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != len(header) {
			return nil, false, fmt.Errorf("history series row has %d columns, header has %d", len(record), len(header))
		}
		for i, raw := range record {
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, false, fmt.Errorf("column %s: %w", header[i], err)
			}
			series[header[i]] = append(series[header[i]], value)
		}
	}
	return series, true, nil
}

func scoreNames(epochs []model.EpochRecord) ([]string, []string) {
	trainSet := map[string]struct{}{}
	valSet := map[string]struct{}{}
	for _, epoch := range epochs {
		for name := range epoch.Train {
			trainSet[name] = struct{}{}
		}
		for name := range epoch.Val {
			valSet[name] = struct{}{}
		}
	}
	return sortedKeys(trainSet), sortedKeys(valSet)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func scoreField(scores map[string]float64, name string) string {
	v, ok := scores[name]
	if !ok {
		return "NaN"
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
