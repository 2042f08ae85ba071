package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"seqcast/internal/signal"
)

const ManifestFile = "manifest.json"

// DefaultValidationFraction is the share of the last training matrix held out
// when a pair names neither a validation file nor validation_rows.
const DefaultValidationFraction = 0.2

type Manifest struct {
	Name        string     `json:"name"`
	Orientation string     `json:"orientation,omitempty"`
	Pairs       []PairSpec `json:"pairs"`
}

// PairSpec describes one pair. File names are relative to the dataset directory.
type PairSpec struct {
	ID                  int      `json:"id"`
	Train               []string `json:"train"`
	Init                string   `json:"init,omitempty"`
	PredictionTimesteps int      `json:"prediction_timesteps"`
	Validation          string   `json:"validation,omitempty"`
	ValidationRows      int      `json:"validation_rows,omitempty"`
}

func (m Manifest) Pair(id int) (PairSpec, bool) {
	for _, pair := range m.Pairs {
		if pair.ID == id {
			return pair, true
		}
	}
	return PairSpec{}, false
}

// PairIDs lists the declared pair ids in ascending order.
func (m Manifest) PairIDs() []int {
	ids := make([]int, 0, len(m.Pairs))
	for _, pair := range m.Pairs {
		ids = append(ids, pair.ID)
	}
	sort.Ints(ids)
	return ids
}

func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if _, err := signal.ParseOrientation(m.Orientation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	seen := make(map[int]struct{}, len(m.Pairs))
	for _, pair := range m.Pairs {
		if _, ok := seen[pair.ID]; ok {
			return fmt.Errorf("%w: duplicate pair id %d", ErrInvalidManifest, pair.ID)
		}
		seen[pair.ID] = struct{}{}
		if len(pair.Train) == 0 {
			return fmt.Errorf("%w: pair %d has no training files", ErrInvalidManifest, pair.ID)
		}
		if pair.PredictionTimesteps < 0 || pair.ValidationRows < 0 {
			return fmt.Errorf("%w: pair %d has negative timestep counts", ErrInvalidManifest, pair.ID)
		}
	}
	return nil
}

func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

func WriteManifest(dir string, manifest Manifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644)
}
