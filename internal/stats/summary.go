package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"seqcast/internal/model"
)

// HistorySummary condenses a training history into the numbers the CLI prints.
type HistorySummary struct {
	RunID          string  `json:"run_id"`
	Epochs         int     `json:"epochs"`
	ValMetric      string  `json:"val_metric"`
	BestEpoch      int     `json:"best_epoch"`
	BestValue      float64 `json:"best_value"`
	FirstTrainLoss float64 `json:"first_train_loss"`
	FinalTrainLoss float64 `json:"final_train_loss"`
	MinTrainLoss   float64 `json:"min_train_loss"`
	ScoreMean      float64 `json:"score_mean"`
	ScoreStd       float64 `json:"score_std"`
	StoppedEarly   bool    `json:"stopped_early"`
}

// SummarizeHistory scores each epoch with ValMetric, taken from the
// validation scores when present and the training scores otherwise.
// Non-finite scores are left out of the mean and deviation.
func SummarizeHistory(history model.TrainingHistory) HistorySummary {
	summary := HistorySummary{
		RunID:        history.RunID,
		Epochs:       len(history.Epochs),
		ValMetric:    history.ValMetric,
		BestEpoch:    history.BestEpoch,
		BestValue:    history.BestValue,
		StoppedEarly: history.StoppedEarly,
	}
	if len(history.Epochs) == 0 {
		return summary
	}

	losses := make([]float64, 0, len(history.Epochs))
	scores := make([]float64, 0, len(history.Epochs))
	for _, epoch := range history.Epochs {
		losses = append(losses, epoch.TrainLoss)
		source := epoch.Train
		if len(epoch.Val) > 0 {
			source = epoch.Val
		}
		if v, ok := source[history.ValMetric]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			scores = append(scores, v)
		}
	}
	summary.FirstTrainLoss = losses[0]
	summary.FinalTrainLoss = losses[len(losses)-1]
	summary.MinTrainLoss = floats.Min(losses)
	if len(scores) > 0 {
		summary.ScoreMean, summary.ScoreStd = stat.MeanStdDev(scores, nil)
		if len(scores) == 1 {
			summary.ScoreStd = 0
		}
	}
	return summary
}
