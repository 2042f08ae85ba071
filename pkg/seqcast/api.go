// Package seqcast is the public entry point: train a lag/horizon forecaster on
// a dataset pair, roll it out per the pair's mode, and inspect the runs.
package seqcast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"seqcast/internal/dataset"
	"seqcast/internal/forecaster"
	"seqcast/internal/metrics"
	"seqcast/internal/mode"
	"seqcast/internal/model"
	"seqcast/internal/rollout"
	"seqcast/internal/signal"
	"seqcast/internal/sink"
	"seqcast/internal/stats"
	"seqcast/internal/storage"
	"seqcast/internal/train"
	"seqcast/internal/transform"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultOutputDir  = "output"
	defaultDataDir    = "data"
	defaultDBPath     = "seqcast.db"

	defaultLag     = 10
	defaultHorizon = 5

	modelKindLinear = "linear"
)

var (
	ErrNoRuns        = errors.New("no runs available")
	ErrRunNotFound   = errors.New("run not found")
	ErrAmbiguousRun  = errors.New("use either run id or latest")
	ErrRunIDRequired = errors.New("run id or latest is required")
)

type Options struct {
	StoreKind  string
	DBPath     string
	DataDir    string
	RunsDir    string
	ExportsDir string
	OutputDir  string
	// Provider overrides the directory provider rooted at DataDir.
	Provider dataset.Provider
	Logger   logrus.FieldLogger
}

type Client struct {
	store    storage.Store
	provider dataset.Provider
	logger   logrus.FieldLogger

	initialized bool
	dataDir     string
	runsDir     string
	exportsDir  string
	outputDir   string
}

type TrainRequest struct {
	RunID       string
	Dataset     string
	PairID      int
	Lag         int
	Horizon     int
	Transform   string
	DiffLag     int
	Stride      int
	ValFraction float64
	Training    train.Config
	// Rollout runs a forecast with the trained model when the dataset
	// supports it.
	Rollout    bool
	Validation bool
	Plot       bool
}

type TrainSummary struct {
	RunID          string
	ArtifactsDir   string
	Epochs         int
	BestEpoch      int
	BestValue      float64
	ValMetric      string
	StoppedEarly   bool
	FinalTrainLoss float64
	TrainSamples   int
	ValSamples     int
	Forecast       *ForecastSummary
}

type ForecastRequest struct {
	RunID  string
	Latest bool
	// Dataset and PairID default to the ones the model was trained on.
	Dataset    string
	PairID     *int
	Validation bool
	BatchID    string
	OutputDir  string
	Transpose  bool
	Plot       bool
}

type ForecastSummary struct {
	BatchID    string
	RunID      string
	Dataset    string
	PairID     int
	Mode       string
	Explicit   bool
	Validation bool
	PrefixSeed bool
	Rows       int
	Channels   int
	Calls      int
	Overshoot  int
	OutputPath string
	PlotPath   string
	Scores     map[string]float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Dataset      string
	PairID       int
	Lag          int
	Horizon      int
	Transform    string
	Epochs       int
	ValMetric    string
	BestEpoch    int
	BestValue    float64
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type HistoryResult struct {
	Summary stats.HistorySummary
	Epochs  []model.EpochRecord
}

type ForecastsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type GenerateRequest struct {
	Name                string
	Steps               int
	Dt                  float64
	PairIDs             []int
	InitPairIDs         []int
	InitRows            int
	PredictionTimesteps int
	ValidationRows      int
	ChannelMajor        bool
	Seed                int64
}

type GenerateSummary struct {
	Name      string
	Directory string
	PairIDs   []int
	Rows      int
}

type ModeItem struct {
	PairIDs    []int
	Mode       string
	SeedSource string
	PrefixSeed bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = defaultOutputDir
	}
	provider := opts.Provider
	if provider == nil {
		provider = dataset.NewDirProvider(dataDir)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		provider:   provider,
		logger:     logger,
		dataDir:    dataDir,
		runsDir:    runsDir,
		exportsDir: exportsDir,
		outputDir:  outputDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train fits a model on the pair's training matrices, persists the model,
// its history and the run artifacts, and optionally rolls it out.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if strings.TrimSpace(req.Dataset) == "" {
		return TrainSummary{}, errors.New("dataset is required")
	}
	if req.Lag <= 0 {
		req.Lag = defaultLag
	}
	if req.Horizon <= 0 {
		req.Horizon = defaultHorizon
	}
	if req.Transform == "" {
		req.Transform = transform.Standardize
	}
	if req.DiffLag <= 0 {
		req.DiffLag = 1
	}
	if req.Stride <= 0 {
		req.Stride = 1
	}
	if req.ValFraction == 0 {
		req.ValFraction = dataset.DefaultValidationFraction
	}
	if req.ValFraction < 0 || req.ValFraction >= 1 {
		return TrainSummary{}, fmt.Errorf("val fraction must be in [0, 1), got %g", req.ValFraction)
	}
	if req.Training == (train.Config{}) {
		req.Training = train.DefaultConfig()
	}
	if err := req.Training.Validate(); err != nil {
		return TrainSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}

	// validation runs fit and sample only the rows that stay ahead of the
	// held-out tail they are scored against
	load := c.provider.Load
	if req.Validation {
		load = c.provider.LoadValidation
	}
	bundle, err := load(ctx, req.Dataset, req.PairID)
	if err != nil {
		return TrainSummary{}, err
	}
	fit, err := signal.Concat(bundle.Train...)
	if err != nil {
		return TrainSummary{}, fmt.Errorf("training data: %w", err)
	}
	pair, err := transform.FromName(req.Transform, req.DiffLag, fit)
	if err != nil {
		return TrainSummary{}, err
	}

	samples, err := dataset.BundleSamples(bundle, req.Lag, req.Horizon, req.Stride)
	if err != nil {
		return TrainSummary{}, err
	}
	trainSet, valSet := dataset.Split(samples, req.ValFraction)

	cfg := forecaster.Config{Lag: req.Lag, Horizon: req.Horizon, Channels: signal.Channels(fit)}
	linear, err := forecaster.NewLinear(cfg, rand.New(rand.NewSource(req.Training.Seed)))
	if err != nil {
		return TrainSummary{}, err
	}

	now := time.Now().UTC()
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%d-%s", req.Dataset, req.PairID, uuid.NewString()[:8])
	}
	logger := c.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"dataset": req.Dataset,
		"pair_id": req.PairID,
	})
	logger.WithFields(logrus.Fields{
		"lag":           req.Lag,
		"horizon":       req.Horizon,
		"channels":      cfg.Channels,
		"transform":     pair.Name,
		"train_samples": len(trainSet),
		"val_samples":   len(valSet),
	}).Info("training started")

	result, err := train.Trainer{Config: req.Training, Transforms: pair, Logger: logger}.Fit(ctx, linear, trainSet, valSet)
	if err != nil {
		return TrainSummary{}, err
	}

	record := model.ModelRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Dataset:         req.Dataset,
		PairID:          req.PairID,
		Kind:            modelKindLinear,
		Snapshot:        result.Model.Snapshot(),
		Transform:       pair.Spec,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
	}
	history := toHistory(runID, req.Training.ValMetric, result)
	if err := c.store.SaveModel(ctx, record); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveTrainingHistory(ctx, history); err != nil {
		return TrainSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:       runID,
			Dataset:     req.Dataset,
			DataDir:     c.dataDir,
			PairID:      req.PairID,
			Lag:         req.Lag,
			Horizon:     req.Horizon,
			Channels:    cfg.Channels,
			Transform:   pair.Name,
			Stride:      req.Stride,
			ValFraction: req.ValFraction,
			Training:    req.Training,
		},
		History: history,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := stats.WriteRunModel(c.runsDir, record); err != nil {
		return TrainSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		Dataset:      req.Dataset,
		PairID:       req.PairID,
		Lag:          req.Lag,
		Horizon:      req.Horizon,
		Transform:    pair.Name,
		Epochs:       len(result.History),
		ValMetric:    history.ValMetric,
		BestEpoch:    history.BestEpoch,
		BestValue:    history.BestValue,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Epochs:       len(result.History),
		BestEpoch:    history.BestEpoch,
		BestValue:    history.BestValue,
		ValMetric:    history.ValMetric,
		StoppedEarly: result.StoppedEarly,
		TrainSamples: len(trainSet),
		ValSamples:   len(valSet),
	}
	if n := len(result.History); n > 0 {
		summary.FinalTrainLoss = result.History[n-1].TrainLoss
	}
	logger.WithFields(logrus.Fields{
		"epochs":        summary.Epochs,
		"best_epoch":    summary.BestEpoch,
		"best_value":    summary.BestValue,
		"stopped_early": summary.StoppedEarly,
	}).Info("training completed")

	if req.Rollout {
		if !mode.Supports(req.Dataset) {
			logger.Info("dataset does not support rollout, skipping forecast")
			return summary, nil
		}
		forecast, err := c.Forecast(ctx, ForecastRequest{RunID: runID, Validation: req.Validation, Plot: req.Plot})
		if err != nil {
			return TrainSummary{}, fmt.Errorf("rollout after training: %w", err)
		}
		summary.Forecast = &forecast
	}
	return summary, nil
}

// Forecast rolls a trained model out on its dataset pair. The pair id picks
// reconstruction or forecast mode; the output is written to every sink only
// after the whole rollout succeeded.
func (c *Client) Forecast(ctx context.Context, req ForecastRequest) (ForecastSummary, error) {
	if err := c.Init(ctx); err != nil {
		return ForecastSummary{}, err
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ForecastSummary{}, err
	}
	record, err := c.loadModel(ctx, runID)
	if err != nil {
		return ForecastSummary{}, err
	}
	linear, err := forecaster.FromSnapshot(record.Snapshot)
	if err != nil {
		return ForecastSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}
	pair, err := transform.FromSpec(record.Transform)
	if err != nil {
		return ForecastSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}

	name := record.Dataset
	if req.Dataset != "" {
		name = req.Dataset
	}
	pairID := record.PairID
	if req.PairID != nil {
		pairID = *req.PairID
	}
	plan, err := mode.Resolve(ctx, c.provider, name, pairID, req.Validation, linear.Lag())
	if err != nil {
		return ForecastSummary{}, err
	}
	logger := c.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"dataset": name,
		"pair_id": pairID,
		"mode":    plan.Descriptor.Mode,
	})
	if !plan.Explicit {
		logger.Debug("pair id not in mode table, using fallback forecast mode")
	}

	engine := rollout.New(linear, pair)
	var (
		out    *mat.Dense
		rstats rollout.Stats
	)
	switch plan.Descriptor.Mode {
	case mode.Reconstruction:
		out, rstats, err = engine.Reconstruct(ctx, plan.Source, plan.OutputTimesteps)
	default:
		out, rstats, err = engine.Forecast(ctx, plan.Source, plan.OutputTimesteps, plan.Descriptor.PrefixSeed)
	}
	if err != nil {
		return ForecastSummary{}, err
	}
	rows, channels := out.Dims()
	logger.WithFields(logrus.Fields{
		"rows":      rows,
		"calls":     rstats.Calls,
		"overshoot": rstats.Overshoot,
	}).Info("rollout completed")

	truth, outStart, skip, err := c.groundTruth(ctx, plan, linear.Lag())
	if err != nil {
		return ForecastSummary{}, err
	}
	scores, err := score(out, truth, outStart, skip)
	if err != nil {
		return ForecastSummary{}, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(c.outputDir, runID)
	}
	fileSink := sink.FileSink{Dir: outputDir, Transpose: req.Transpose}
	meta := model.ForecastMeta{
		RunID:      runID,
		Dataset:    name,
		PairID:     pairID,
		Mode:       string(plan.Descriptor.Mode),
		Validation: req.Validation,
		PrefixSeed: plan.Descriptor.PrefixSeed,
		Calls:      rstats.Calls,
		Overshoot:  rstats.Overshoot,
	}
	if err := (sink.Multi{fileSink, sink.StoreSink{Store: c.store}}).Write(ctx, batchID, out, meta); err != nil {
		return ForecastSummary{}, err
	}

	summary := ForecastSummary{
		BatchID:    batchID,
		RunID:      runID,
		Dataset:    name,
		PairID:     pairID,
		Mode:       meta.Mode,
		Explicit:   plan.Explicit,
		Validation: req.Validation,
		PrefixSeed: meta.PrefixSeed,
		Rows:       rows,
		Channels:   channels,
		Calls:      rstats.Calls,
		Overshoot:  rstats.Overshoot,
		OutputPath: filepath.Clean(fileSink.Path(batchID)),
		Scores:     scores,
	}
	if req.Plot {
		plotPath := filepath.Join(c.runsDir, runID, stats.ForecastPlotFile)
		title := fmt.Sprintf("%s pair %d (%s)", name, pairID, plan.Descriptor.Mode)
		if err := stats.PlotForecast(plotPath, title, out, truth, outStart); err != nil {
			return ForecastSummary{}, fmt.Errorf("plot forecast: %w", err)
		}
		summary.PlotPath = filepath.Clean(plotPath)
	}

	if err := stats.AppendForecastSummary(c.runsDir, runID, stats.ForecastSummary{
		BatchID:      batchID,
		Dataset:      name,
		PairID:       pairID,
		Mode:         meta.Mode,
		Validation:   req.Validation,
		PrefixSeed:   meta.PrefixSeed,
		Calls:        rstats.Calls,
		Overshoot:    rstats.Overshoot,
		Rows:         rows,
		Channels:     channels,
		Scores:       scores,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return ForecastSummary{}, err
	}
	return summary, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Dataset:      e.Dataset,
			PairID:       e.PairID,
			Lag:          e.Lag,
			Horizon:      e.Horizon,
			Transform:    e.Transform,
			Epochs:       e.Epochs,
			ValMetric:    e.ValMetric,
			BestEpoch:    e.BestEpoch,
			BestValue:    e.BestValue,
		})
	}
	return out, nil
}

// History returns the per-epoch training history of a run, from the store
// when it has it and from the run artifacts otherwise.
func (c *Client) History(ctx context.Context, req HistoryRequest) (HistoryResult, error) {
	if req.Limit < 0 {
		return HistoryResult{}, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return HistoryResult{}, err
	}
	if err := c.Init(ctx); err != nil {
		return HistoryResult{}, err
	}

	history, ok, err := c.store.GetTrainingHistory(ctx, runID)
	if err != nil {
		return HistoryResult{}, err
	}
	if !ok {
		history, ok, err = stats.ReadTrainingHistory(c.runsDir, runID)
		if err != nil {
			return HistoryResult{}, err
		}
	}
	if !ok {
		return HistoryResult{}, fmt.Errorf("%w: training history for %s", ErrRunNotFound, runID)
	}

	epochs := history.Epochs
	if req.Limit > 0 && len(epochs) > req.Limit {
		epochs = epochs[:req.Limit]
	}
	return HistoryResult{
		Summary: stats.SummarizeHistory(history),
		Epochs:  append([]model.EpochRecord(nil), epochs...),
	}, nil
}

// Forecasts lists the persisted forecasts of a run. Stored records win; the
// run's summary file covers stores that did not outlive the process.
func (c *Client) Forecasts(ctx context.Context, req ForecastsRequest) ([]stats.ForecastSummary, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	records, err := c.store.ListForecasts(ctx, runID)
	if err != nil {
		return nil, err
	}
	summaries, _, err := stats.ReadForecastSummaries(c.runsDir, runID)
	if err != nil {
		return nil, err
	}
	byBatch := make(map[string]stats.ForecastSummary, len(summaries))
	for _, s := range summaries {
		byBatch[s.BatchID] = s
	}

	out := make([]stats.ForecastSummary, 0, len(records)+len(summaries))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		item := stats.ForecastSummary{
			BatchID:      r.BatchID,
			Dataset:      r.Dataset,
			PairID:       r.PairID,
			Mode:         r.Mode,
			Validation:   r.Validation,
			PrefixSeed:   r.PrefixSeed,
			Calls:        r.Calls,
			Overshoot:    r.Overshoot,
			Rows:         r.Rows,
			Channels:     r.Channels,
			CreatedAtUTC: r.CreatedAtUTC,
		}
		if s, ok := byBatch[r.BatchID]; ok {
			item.Scores = s.Scores
		}
		out = append(out, item)
		seen[r.BatchID] = struct{}{}
	}
	for _, s := range summaries {
		if _, ok := seen[s.BatchID]; !ok {
			out = append(out, s)
		}
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Generate writes a synthetic Lorenz dataset under the client's data
// directory.
func (c *Client) Generate(_ context.Context, req GenerateRequest) (GenerateSummary, error) {
	if req.Name == "" {
		req.Name = "ODE_Lorenz"
	}
	lorenz := dataset.DefaultLorenzConfig()
	if req.Steps > 0 {
		lorenz.Steps = req.Steps
	}
	if req.Dt > 0 {
		lorenz.Dt = req.Dt
	}
	if len(req.PairIDs) == 0 && len(req.InitPairIDs) == 0 {
		req.PairIDs = []int{2}
		req.InitPairIDs = []int{8}
	}
	if req.InitRows <= 0 {
		req.InitRows = defaultLag
	}
	if req.PredictionTimesteps <= 0 {
		req.PredictionTimesteps = lorenz.Steps / 2
	}
	orientation := signal.TimeMajor
	if req.ChannelMajor {
		orientation = signal.ChannelMajor
	}

	manifest, err := dataset.GenerateLorenzDataset(c.dataDir, dataset.GenerateOptions{
		Name:                req.Name,
		Lorenz:              lorenz,
		PairIDs:             req.PairIDs,
		InitPairIDs:         req.InitPairIDs,
		InitRows:            req.InitRows,
		PredictionTimesteps: req.PredictionTimesteps,
		ValidationRows:      req.ValidationRows,
		Orientation:         orientation,
		Seed:                req.Seed,
	})
	if err != nil {
		return GenerateSummary{}, err
	}
	c.logger.WithFields(logrus.Fields{
		"dataset": manifest.Name,
		"pairs":   manifest.PairIDs(),
		"rows":    lorenz.Steps,
	}).Info("dataset generated")
	return GenerateSummary{
		Name:      manifest.Name,
		Directory: filepath.Clean(filepath.Join(c.dataDir, manifest.Name)),
		PairIDs:   manifest.PairIDs(),
		Rows:      lorenz.Steps,
	}, nil
}

// Modes lists the explicit mode table followed by the fallback entry, which
// has no pair ids.
func (c *Client) Modes() []ModeItem {
	table := mode.Table()
	out := make([]ModeItem, 0, len(table)+1)
	for _, e := range table {
		out = append(out, modeItem(e.PairIDs, e.Descriptor))
	}
	return append(out, modeItem(nil, mode.Fallback))
}

func modeItem(ids []int, d mode.Descriptor) ModeItem {
	return ModeItem{
		PairIDs:    append([]int(nil), ids...),
		Mode:       string(d.Mode),
		SeedSource: string(d.SeedSource),
		PrefixSeed: d.PrefixSeed,
	}
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", ErrAmbiguousRun
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", ErrRunIDRequired
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoRuns
	}
	return entries[0].RunID, nil
}

func (c *Client) loadModel(ctx context.Context, runID string) (model.ModelRecord, error) {
	record, ok, err := c.store.GetModel(ctx, runID)
	if err != nil {
		return model.ModelRecord{}, err
	}
	if ok {
		return record, nil
	}
	record, ok, err = stats.ReadRunModel(c.runsDir, runID)
	if err != nil {
		return model.ModelRecord{}, err
	}
	if !ok {
		return model.ModelRecord{}, fmt.Errorf("%w: model for %s", ErrRunNotFound, runID)
	}
	return record, nil
}

// groundTruth returns the matrix the output can be compared with, the truth
// row the output's first row lines up with, and how many leading output rows
// are copied seed rather than model output. truth is nil when the regime has
// no ground truth for the output.
func (c *Client) groundTruth(ctx context.Context, plan mode.Plan, lag int) (*mat.Dense, int, int, error) {
	skip := 0
	if plan.Descriptor.PrefixSeed {
		skip = lag
	}
	if plan.Descriptor.Mode == mode.Reconstruction {
		return plan.Source, 0, lag, nil
	}
	if !plan.Validation {
		return nil, 0, skip, nil
	}

	bundle, err := c.provider.LoadValidation(ctx, plan.Dataset, plan.PairID)
	if err != nil {
		return nil, 0, 0, err
	}
	if signal.IsEmpty(bundle.Validation) {
		return nil, 0, skip, nil
	}
	// the forecast proper starts right after the seed window
	forecastStart := 0
	if plan.Descriptor.SeedSource == mode.SeedInit {
		forecastStart = signal.Len(plan.Source)
	}
	return bundle.Validation, forecastStart - skip, skip, nil
}

// score compares the model-produced rows of out with truth. outStart is the
// truth row of out's first row.
func score(out, truth *mat.Dense, outStart, skip int) (map[string]float64, error) {
	if signal.IsEmpty(truth) {
		return nil, nil
	}
	from := skip
	if -outStart > from {
		from = -outStart
	}
	to := signal.Len(out)
	if limit := signal.Len(truth) - outStart; limit < to {
		to = limit
	}
	if to <= from {
		return nil, nil
	}

	pred, err := signal.Window(out, from, to-from)
	if err != nil {
		return nil, err
	}
	target, err := signal.Window(truth, outStart+from, to-from)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, 4)
	for _, c := range metrics.Training() {
		v, err := c.Fn(pred, target)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		if isFinite(v) {
			scores[c.Name] = v
		}
	}
	return scores, nil
}

func toHistory(runID, valMetric string, result train.Result) model.TrainingHistory {
	history := model.TrainingHistory{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		ValMetric:       valMetric,
		BestEpoch:       result.BestEpoch,
		StoppedEarly:    result.StoppedEarly,
		Epochs:          make([]model.EpochRecord, 0, len(result.History)),
	}
	if isFinite(result.BestValue) {
		history.BestValue = result.BestValue
	}
	for _, row := range result.History {
		history.Epochs = append(history.Epochs, model.EpochRecord{
			Epoch:        row.Epoch,
			LearningRate: row.LearningRate,
			TrainLoss:    row.TrainLoss,
			Train:        finiteOnly(row.Train),
			Val:          finiteOnly(row.Val),
			Best:         row.Best,
			DurationMS:   row.Duration.Milliseconds(),
		})
	}
	return history
}

// finiteOnly drops scores JSON cannot carry, such as the +Inf RSE of a
// constant target.
func finiteOnly(scores map[string]float64) map[string]float64 {
	if scores == nil {
		return nil
	}
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		if isFinite(v) {
			out[k] = v
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
