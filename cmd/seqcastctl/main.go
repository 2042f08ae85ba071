package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"seqcast/internal/logging"
	"seqcast/internal/metrics"
	"seqcast/internal/storage"
	"seqcast/internal/train"
	"seqcast/internal/transform"
	"seqcast/pkg/seqcast"
)

const (
	defaultDataset = "ODE_Lorenz"
	defaultPairID  = 2

	runsDir    = "runs"
	exportsDir = "exports"
	outputDir  = "output"
	dataDir    = "data"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "forecast":
		return runForecast(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "modes":
		return runModes(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "forecasts":
		return runForecasts(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are the flags every client-backed subcommand shares.
type clientFlags struct {
	storeKind  *string
	dbPath     *string
	dataDir    *string
	runsDir    *string
	exportsDir *string
	outputDir  *string
	logLevel   *string
	logFormat  *string
}

func registerClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind:  fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:     fs.String("db-path", "seqcast.db", "sqlite database path"),
		dataDir:    fs.String("data-dir", dataDir, "dataset root directory"),
		runsDir:    fs.String("runs-dir", runsDir, "run artifacts directory"),
		exportsDir: fs.String("exports-dir", exportsDir, "export output directory"),
		outputDir:  fs.String("output-dir", outputDir, "forecast output directory"),
		logLevel:   fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFormat:  fs.String("log-format", logging.FormatAuto, "log format: auto|text|json"),
	}
}

func (f clientFlags) client() (*seqcast.Client, error) {
	logger, err := logging.New(*f.logLevel, *f.logFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	return seqcast.New(seqcast.Options{
		StoreKind:  *f.storeKind,
		DBPath:     *f.dbPath,
		DataDir:    *f.dataDir,
		RunsDir:    *f.runsDir,
		ExportsDir: *f.exportsDir,
		OutputDir:  *f.outputDir,
		Logger:     logger,
	})
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	common := registerClientFlags(fs)
	defaults := train.DefaultConfig()
	configPath := fs.String("config", "", "optional train config path (.json, .yaml or .yml)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	datasetName := fs.String("dataset", defaultDataset, "dataset name under the data dir")
	pairID := fs.Int("pair-id", defaultPairID, "dataset pair id")
	lag := fs.Int("lag", 10, "input window length in timesteps")
	horizon := fs.Int("horizon", 5, "timesteps predicted per model call")
	transformName := fs.String("transform", transform.Standardize, "data transform: "+strings.Join(transform.Names(), "|"))
	diffLag := fs.Int("diff-lag", 1, "lag for the difference transform")
	stride := fs.Int("stride", 1, "step between consecutive training windows")
	valFraction := fs.Float64("val-fraction", 0.2, "fraction of samples held out for validation")
	rollout := fs.Bool("rollout", true, "forecast with the trained model when the dataset supports it")
	validation := fs.Bool("validation", false, "roll out in the validation regime")
	plot := fs.Bool("plot", false, "write a forecast plot into the run directory")
	epochs := fs.Int("epochs", defaults.MaxEpochs, "maximum training epochs")
	earlyStopping := fs.Int("early-stopping", defaults.EarlyStoppingEpochs, "epochs without improvement before stopping (0 disables)")
	batchSize := fs.Int("batch-size", defaults.BatchSize, "mini-batch size")
	lr := fs.Float64("lr", defaults.LearningRate, "learning rate")
	optimizerName := fs.String("optimizer", defaults.Optimizer, "optimizer: sgd|adam")
	momentum := fs.Float64("momentum", 0, "sgd momentum")
	weightDecay := fs.Float64("weight-decay", 0, "weight decay")
	schedulerName := fs.String("scheduler", defaults.Scheduler, "learning rate scheduler: none|step|cosine")
	stepSize := fs.Int("step-size", 10, "epochs per decay for the step scheduler")
	gamma := fs.Float64("gamma", 0.1, "decay factor for the step scheduler")
	valMetric := fs.String("val-metric", defaults.ValMetric, "criterion selecting the best epoch: "+strings.Join(metrics.Names(), "|"))
	returnBest := fs.Bool("return-best", defaults.ReturnBest, "keep the best epoch instead of the last")
	seed := fs.Int64("seed", defaults.Seed, "rng seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	setFlags := map[string]bool{}
	if *configPath == "" {
		fs.VisitAll(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
	} else {
		fs.Visit(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
	}
	err = overrideFromFlags(&req, setFlags, map[string]any{
		"run-id":         *runID,
		"dataset":        *datasetName,
		"pair-id":        *pairID,
		"lag":            *lag,
		"horizon":        *horizon,
		"transform":      *transformName,
		"diff-lag":       *diffLag,
		"stride":         *stride,
		"val-fraction":   *valFraction,
		"rollout":        *rollout,
		"validation":     *validation,
		"plot":           *plot,
		"epochs":         *epochs,
		"early-stopping": *earlyStopping,
		"batch-size":     *batchSize,
		"lr":             *lr,
		"optimizer":      *optimizerName,
		"momentum":       *momentum,
		"weight-decay":   *weightDecay,
		"scheduler":      *schedulerName,
		"step-size":      *stepSize,
		"gamma":          *gamma,
		"val-metric":     *valMetric,
		"return-best":    *returnBest,
		"seed":           *seed,
	})
	if err != nil {
		return err
	}
	if req.Lag <= 0 || req.Horizon <= 0 {
		return fmt.Errorf("lag and horizon must be > 0, got lag=%d horizon=%d", req.Lag, req.Horizon)
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("train completed run_id=%s dataset=%s pair_id=%d lag=%d horizon=%d epochs=%d\n",
		summary.RunID, req.Dataset, req.PairID, req.Lag, req.Horizon, summary.Epochs)
	fmt.Printf("samples train=%s val=%s\n", humanize.Comma(int64(summary.TrainSamples)), humanize.Comma(int64(summary.ValSamples)))
	fmt.Printf("best_epoch=%d %s=%.6f stopped_early=%t final_train_loss=%.6f\n",
		summary.BestEpoch, summary.ValMetric, summary.BestValue, summary.StoppedEarly, summary.FinalTrainLoss)
	if summary.Forecast != nil {
		printForecastSummary(*summary.Forecast)
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runForecast(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	common := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id of the trained model")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	datasetName := fs.String("dataset", "", "dataset to roll out on (defaults to the training dataset)")
	pairID := fs.Int("pair-id", 0, "pair id to roll out on (defaults to the training pair)")
	validation := fs.Bool("validation", false, "roll out in the validation regime")
	batchID := fs.String("batch-id", "", "output batch id (defaults to a fresh uuid)")
	transpose := fs.Bool("transpose", false, "write the output matrix channel-major")
	plot := fs.Bool("plot", false, "write a forecast plot into the run directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := seqcast.ForecastRequest{
		RunID:      *runID,
		Latest:     *latest,
		Dataset:    *datasetName,
		Validation: *validation,
		BatchID:    *batchID,
		Transpose:  *transpose,
		Plot:       *plot,
	}
	if setFlags["pair-id"] {
		req.PairID = pairID
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Forecast(ctx, req)
	if err != nil {
		return err
	}
	printForecastSummary(summary)
	return nil
}

func printForecastSummary(s seqcast.ForecastSummary) {
	fmt.Printf("forecast batch_id=%s run_id=%s dataset=%s pair_id=%d mode=%s explicit=%t validation=%t prefix_seed=%t\n",
		s.BatchID, s.RunID, s.Dataset, s.PairID, s.Mode, s.Explicit, s.Validation, s.PrefixSeed)
	fmt.Printf("rows=%s channels=%d calls=%d overshoot=%d\n", humanize.Comma(int64(s.Rows)), s.Channels, s.Calls, s.Overshoot)
	for _, name := range sortedKeys(s.Scores) {
		fmt.Printf("score %s=%.6f\n", name, s.Scores[name])
	}
	if s.OutputPath != "" {
		size := "unknown"
		if info, err := os.Stat(s.OutputPath); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Printf("output=%s size=%s\n", filepath.Clean(s.OutputPath), size)
	}
	if s.PlotPath != "" {
		fmt.Printf("plot=%s\n", filepath.Clean(s.PlotPath))
	}
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	common := registerClientFlags(fs)
	name := fs.String("name", defaultDataset, "dataset name")
	steps := fs.Int("steps", 1000, "timesteps in the training trajectory")
	dt := fs.Float64("dt", 0.01, "integration step")
	pairs := fs.String("pairs", "2", "comma separated pair ids sharing the training trajectory")
	initPairs := fs.String("init-pairs", "8", "comma separated pair ids that also get an initial condition")
	initRows := fs.Int("init-rows", 10, "rows in the initial-condition matrix")
	pred := fs.Int("pred", 0, "prediction timesteps (0 uses half the steps)")
	validationRows := fs.Int("validation-rows", 0, "rows held out for the validation regime")
	channelMajor := fs.Bool("channel-major", false, "write CSVs channel-major")
	seed := fs.Int64("seed", 1, "rng seed for the initial-condition jitter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pairIDs, err := parseIntList(*pairs)
	if err != nil {
		return err
	}
	initPairIDs, err := parseIntList(*initPairs)
	if err != nil {
		return err
	}
	if len(pairIDs) == 0 && len(initPairIDs) == 0 {
		return errors.New("generate requires --pairs or --init-pairs")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Generate(ctx, seqcast.GenerateRequest{
		Name:                *name,
		Steps:               *steps,
		Dt:                  *dt,
		PairIDs:             pairIDs,
		InitPairIDs:         initPairIDs,
		InitRows:            *initRows,
		PredictionTimesteps: *pred,
		ValidationRows:      *validationRows,
		ChannelMajor:        *channelMajor,
		Seed:                *seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("generated dataset=%s pairs=%s rows=%s dir=%s\n",
		summary.Name, joinInts(summary.PairIDs), humanize.Comma(int64(summary.Rows)), summary.Directory)
	return nil
}

func runModes(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("modes", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit mode table as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// the mode table needs no store or data
	client, err := seqcast.New(seqcast.Options{StoreKind: "memory", Logger: logging.Discard()})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items := client.Modes()

	if *jsonOut {
		type modeRow struct {
			PairIDs    []int  `json:"pair_ids"`
			Fallback   bool   `json:"fallback"`
			Mode       string `json:"mode"`
			SeedSource string `json:"seed_source"`
			PrefixSeed bool   `json:"prefix_seed"`
		}
		rows := make([]modeRow, 0, len(items))
		for _, item := range items {
			rows = append(rows, modeRow{
				PairIDs:    item.PairIDs,
				Fallback:   len(item.PairIDs) == 0,
				Mode:       item.Mode,
				SeedSource: item.SeedSource,
				PrefixSeed: item.PrefixSeed,
			})
		}
		return printJSON(rows)
	}
	for _, item := range items {
		ids := joinInts(item.PairIDs)
		if ids == "" {
			ids = "*"
		}
		fmt.Printf("pair_ids=%s mode=%s seed=%s prefix_seed=%t\n", ids, item.Mode, item.SeedSource, item.PrefixSeed)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, seqcast.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Dataset      string  `json:"dataset"`
			PairID       int     `json:"pair_id"`
			Lag          int     `json:"lag"`
			Horizon      int     `json:"horizon"`
			Transform    string  `json:"transform"`
			Epochs       int     `json:"epochs"`
			ValMetric    string  `json:"val_metric"`
			BestEpoch    int     `json:"best_epoch"`
			BestValue    float64 `json:"best_value"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		return printJSON(out)
	}
	for _, item := range items {
		fmt.Printf("run_id=%s created=%s dataset=%s pair_id=%d lag=%d horizon=%d transform=%s epochs=%d best_epoch=%d %s=%.6f\n",
			item.RunID, relativeTime(item.CreatedAtUTC), item.Dataset, item.PairID, item.Lag, item.Horizon,
			item.Transform, item.Epochs, item.BestEpoch, item.ValMetric, item.BestValue)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	common := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	limit := fs.Int("limit", 0, "max epochs to print (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.History(ctx, seqcast.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(struct {
			Summary any `json:"summary"`
			Epochs  any `json:"epochs"`
		}{Summary: result.Summary, Epochs: result.Epochs})
	}

	s := result.Summary
	fmt.Printf("history run_id=%s epochs=%d best_epoch=%d %s=%.6f stopped_early=%t\n",
		s.RunID, s.Epochs, s.BestEpoch, s.ValMetric, s.BestValue, s.StoppedEarly)
	fmt.Printf("train_loss first=%.6f final=%.6f min=%.6f score_mean=%.6f score_std=%.6f\n",
		s.FirstTrainLoss, s.FinalTrainLoss, s.MinTrainLoss, s.ScoreMean, s.ScoreStd)
	for _, e := range result.Epochs {
		line := fmt.Sprintf("epoch=%d lr=%.6g train_loss=%.6f", e.Epoch, e.LearningRate, e.TrainLoss)
		if v, ok := e.Val[s.ValMetric]; ok {
			line += fmt.Sprintf(" val_%s=%.6f", s.ValMetric, v)
		} else if v, ok := e.Train[s.ValMetric]; ok {
			line += fmt.Sprintf(" train_%s=%.6f", s.ValMetric, v)
		}
		if e.Best {
			line += " best=true"
		}
		fmt.Println(line)
	}
	return nil
}

func runForecasts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forecasts", flag.ContinueOnError)
	common := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	limit := fs.Int("limit", 0, "max forecasts to list (0 lists all)")
	jsonOut := fs.Bool("json", false, "emit forecasts as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Forecasts(ctx, seqcast.ForecastsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("no forecasts found")
		return nil
	}
	for _, item := range items {
		fmt.Printf("batch_id=%s created=%s pair_id=%d mode=%s validation=%t rows=%s calls=%d overshoot=%d",
			item.BatchID, relativeTime(item.CreatedAtUTC), item.PairID, item.Mode, item.Validation,
			humanize.Comma(int64(item.Rows)), item.Calls, item.Overshoot)
		for _, name := range sortedKeys(item.Scores) {
			fmt.Printf(" %s=%.6f", name, item.Scores[name])
		}
		fmt.Println()
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (defaults to --exports-dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := common.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, seqcast.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", summary.RunID, filepath.Clean(summary.Directory))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func relativeTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return strings.ReplaceAll(humanize.Time(t), " ", "_")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: seqcastctl <train|forecast|generate|modes|runs|history|forecasts|export> [flags]", msg)
}
