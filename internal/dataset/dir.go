package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/signal"
)

// DirProvider reads datasets laid out as <Root>/<name>/manifest.json plus the
// CSV files the manifest references.
type DirProvider struct {
	Root string
}

func NewDirProvider(root string) *DirProvider {
	return &DirProvider{Root: root}
}

func (p *DirProvider) Manifest(name string) (Manifest, error) {
	path := filepath.Join(p.Root, name, ManifestFile)
	manifest, err := ReadManifest(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
		}
		return Manifest{}, fmt.Errorf("load manifest %s: %w", name, err)
	}
	return manifest, nil
}

// Names lists the dataset directories under Root that carry a manifest.
func (p *DirProvider) Names() ([]string, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(p.Root, entry.Name(), ManifestFile)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *DirProvider) Load(ctx context.Context, name string, pairID int) (Bundle, error) {
	manifest, pair, err := p.pair(name, pairID)
	if err != nil {
		return Bundle{}, err
	}
	orientation, _ := signal.ParseOrientation(manifest.Orientation)

	bundle := Bundle{
		Dataset:             name,
		PairID:              pairID,
		PredictionTimesteps: pair.PredictionTimesteps,
		Train:               make([]*mat.Dense, 0, len(pair.Train)),
	}
	for _, file := range pair.Train {
		if err := ctx.Err(); err != nil {
			return Bundle{}, err
		}
		m, err := ReadMatrixFile(filepath.Join(p.Root, name, file), orientation)
		if err != nil {
			return Bundle{}, fmt.Errorf("load %s pair %d train: %w", name, pairID, err)
		}
		bundle.Train = append(bundle.Train, m)
	}
	if pair.Init != "" {
		bundle.Init, err = ReadMatrixFile(filepath.Join(p.Root, name, pair.Init), orientation)
		if err != nil {
			return Bundle{}, fmt.Errorf("load %s pair %d init: %w", name, pairID, err)
		}
	}
	if err := checkChannels(bundle); err != nil {
		return Bundle{}, fmt.Errorf("load %s pair %d: %w", name, pairID, err)
	}
	return bundle, nil
}

func (p *DirProvider) LoadValidation(ctx context.Context, name string, pairID int) (Bundle, error) {
	manifest, pair, err := p.pair(name, pairID)
	if err != nil {
		return Bundle{}, err
	}
	bundle, err := p.Load(ctx, name, pairID)
	if err != nil {
		return Bundle{}, err
	}
	if pair.Validation == "" {
		return SplitValidation(bundle, pair.ValidationRows)
	}

	orientation, _ := signal.ParseOrientation(manifest.Orientation)
	validation, err := ReadMatrixFile(filepath.Join(p.Root, name, pair.Validation), orientation)
	if err != nil {
		return Bundle{}, fmt.Errorf("load %s pair %d validation: %w", name, pairID, err)
	}
	return withValidation(bundle, validation)
}

func (p *DirProvider) pair(name string, pairID int) (Manifest, PairSpec, error) {
	manifest, err := p.Manifest(name)
	if err != nil {
		return Manifest{}, PairSpec{}, err
	}
	pair, ok := manifest.Pair(pairID)
	if !ok {
		return Manifest{}, PairSpec{}, fmt.Errorf("%w: %s pair %d", ErrPairNotFound, name, pairID)
	}
	return manifest, pair, nil
}

// SplitValidation holds out the last rows timesteps of the final training
// matrix as the validation target. rows <= 0 falls back to
// DefaultValidationFraction of that matrix.
func SplitValidation(b Bundle, rows int) (Bundle, error) {
	if len(b.Train) == 0 {
		return Bundle{}, fmt.Errorf("split validation: %w", signal.ErrEmpty)
	}
	last := b.Train[len(b.Train)-1]
	total := signal.Len(last)
	if rows <= 0 {
		rows = int(float64(total) * DefaultValidationFraction)
	}
	if rows <= 0 || rows >= total {
		return Bundle{}, fmt.Errorf("split validation: cannot hold out %d of %d rows", rows, total)
	}

	kept, err := signal.Head(last, total-rows)
	if err != nil {
		return Bundle{}, err
	}
	validation, err := signal.Tail(last, rows)
	if err != nil {
		return Bundle{}, err
	}
	out := copyBundle(b)
	out.Train[len(out.Train)-1] = kept
	return withValidation(out, validation)
}

// withValidation attaches the held-out matrix and re-derives the prediction
// count and, for initial-condition pairs, the validation initial condition.
func withValidation(b Bundle, validation *mat.Dense) (Bundle, error) {
	if err := signal.CheckChannels(validation, signal.Channels(b.Primary())); err != nil {
		return Bundle{}, fmt.Errorf("validation: %w", err)
	}
	b.Validation = validation
	b.PredictionTimesteps = signal.Len(validation)
	if b.Init != nil {
		n := signal.Len(b.Init)
		if n > signal.Len(validation) {
			n = signal.Len(validation)
		}
		init, err := signal.Head(validation, n)
		if err != nil {
			return Bundle{}, err
		}
		b.Init = init
	}
	return b, nil
}

func checkChannels(b Bundle) error {
	want := signal.Channels(b.Primary())
	for i, m := range b.Train {
		if err := signal.CheckChannels(m, want); err != nil {
			return fmt.Errorf("train matrix %d: %w", i, err)
		}
	}
	if b.Init != nil {
		if err := signal.CheckChannels(b.Init, want); err != nil {
			return fmt.Errorf("init matrix: %w", err)
		}
	}
	return nil
}
