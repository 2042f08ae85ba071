// Package mode maps a dataset pair id to the rollout it needs: reconstruction
// or forecast, where the seed comes from, and whether the seed is prefixed to
// the reported output.
package mode

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/dataset"
	"seqcast/internal/signal"
)

type Mode string

const (
	Reconstruction Mode = "reconstruction"
	Forecast       Mode = "forecast"
)

type SeedSource string

const (
	SeedTrain SeedSource = "train"
	SeedInit  SeedSource = "init"
)

var (
	ErrUnsupportedDataset = errors.New("dataset does not support rollout")
	ErrInvalidPlan        = errors.New("invalid rollout plan")
)

// Descriptor is the immutable rollout decision for one pair id.
type Descriptor struct {
	Mode       Mode       `json:"mode"`
	SeedSource SeedSource `json:"seed_source"`
	PrefixSeed bool       `json:"prefix_seed"`
}

// Entry binds a set of pair ids to a descriptor.
type Entry struct {
	PairIDs    []int      `json:"pair_ids"`
	Descriptor Descriptor `json:"descriptor"`
}

// Fallback applies to every pair id the table does not name.
var Fallback = Descriptor{Mode: Forecast, SeedSource: SeedTrain}

var table = []Entry{
	{PairIDs: []int{2, 4}, Descriptor: Descriptor{Mode: Reconstruction, SeedSource: SeedTrain}},
	{PairIDs: []int{8, 9}, Descriptor: Descriptor{Mode: Forecast, SeedSource: SeedInit, PrefixSeed: true}},
}

var rolloutDatasets = map[string]struct{}{
	"ODE_Lorenz":      {},
	"PDE_KS":          {},
	"KS_Official":     {},
	"Lorenz_Official": {},
}

// Select returns the descriptor for pairID, or Fallback when no entry names it.
func Select(pairID int) Descriptor {
	d, _ := Lookup(pairID)
	return d
}

// Lookup is Select plus whether pairID was mapped explicitly.
func Lookup(pairID int) (Descriptor, bool) {
	for _, entry := range table {
		for _, id := range entry.PairIDs {
			if id == pairID {
				return entry.Descriptor, true
			}
		}
	}
	return Fallback, false
}

// Table returns a copy of the explicit mapping.
func Table() []Entry {
	out := make([]Entry, len(table))
	for i, entry := range table {
		out[i] = Entry{PairIDs: append([]int(nil), entry.PairIDs...), Descriptor: entry.Descriptor}
	}
	return out
}

// Supports reports whether rollout runs for the named dataset.
func Supports(name string) bool {
	_, ok := rolloutDatasets[name]
	return ok
}

// Datasets lists the rollout datasets in sorted order.
func Datasets() []string {
	names := make([]string, 0, len(rolloutDatasets))
	for name := range rolloutDatasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plan is a resolved rollout: what to run, on which matrix, for how many rows.
type Plan struct {
	Dataset         string     `json:"dataset"`
	PairID          int        `json:"pair_id"`
	Validation      bool       `json:"validation"`
	Explicit        bool       `json:"explicit"`
	Descriptor      Descriptor `json:"descriptor"`
	OutputTimesteps int        `json:"output_timesteps"`
	Source          *mat.Dense `json:"-"`
}

// Resolve loads the pair's bundle for the requested regime and derives the
// seed source and output length. Initial-condition pairs subtract lag from
// the prediction count because the seed is prefixed to the output.
func Resolve(ctx context.Context, provider dataset.Provider, name string, pairID int, validation bool, lag int) (Plan, error) {
	if !Supports(name) {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnsupportedDataset, name)
	}
	if provider == nil {
		return Plan{}, fmt.Errorf("%w: nil dataset provider", ErrInvalidPlan)
	}
	if lag <= 0 {
		return Plan{}, fmt.Errorf("%w: lag must be > 0, got %d", ErrInvalidPlan, lag)
	}

	var (
		bundle dataset.Bundle
		err    error
	)
	if validation {
		bundle, err = provider.LoadValidation(ctx, name, pairID)
	} else {
		bundle, err = provider.Load(ctx, name, pairID)
	}
	if err != nil {
		return Plan{}, err
	}
	return FromBundle(bundle, pairID, validation, lag)
}

// FromBundle is Resolve over an already loaded bundle.
func FromBundle(bundle dataset.Bundle, pairID int, validation bool, lag int) (Plan, error) {
	desc, explicit := Lookup(pairID)
	plan := Plan{
		Dataset:         bundle.Dataset,
		PairID:          pairID,
		Validation:      validation,
		Explicit:        explicit,
		Descriptor:      desc,
		OutputTimesteps: bundle.PredictionTimesteps,
	}

	switch desc.SeedSource {
	case SeedInit:
		plan.Source = bundle.Init
	default:
		plan.Source = bundle.Primary()
	}
	if signal.IsEmpty(plan.Source) {
		return Plan{}, fmt.Errorf("%w: pair %d has no %s matrix", ErrInvalidPlan, pairID, desc.SeedSource)
	}
	if desc.PrefixSeed {
		plan.OutputTimesteps -= lag
	}
	if plan.OutputTimesteps < 1 {
		return Plan{}, fmt.Errorf("%w: pair %d resolves to %d output timesteps", ErrInvalidPlan, pairID, plan.OutputTimesteps)
	}
	return plan, nil
}
