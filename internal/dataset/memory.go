package dataset

import (
	"context"
	"fmt"
	"sync"
)

type memoryPair struct {
	standard       Bundle
	validation     *Bundle
	validationRows int
}

// MemoryProvider serves bundles registered in process. Bundles are copied on
// the way in and on the way out.
type MemoryProvider struct {
	mu    sync.RWMutex
	pairs map[string]map[int]memoryPair
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{pairs: make(map[string]map[int]memoryPair)}
}

// Put registers the standard regime of a pair. The validation regime is
// derived with SplitValidation(b, validationRows) unless PutValidation
// supplies one.
func (p *MemoryProvider) Put(b Bundle, validationRows int) error {
	if err := checkChannels(b); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	byID, ok := p.pairs[b.Dataset]
	if !ok {
		byID = make(map[int]memoryPair)
		p.pairs[b.Dataset] = byID
	}
	entry := byID[b.PairID]
	entry.standard = copyBundle(b)
	entry.validationRows = validationRows
	byID[b.PairID] = entry
	return nil
}

// PutValidation overrides the derived validation regime of a registered pair.
func (p *MemoryProvider) PutValidation(b Bundle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.pairs[b.Dataset][b.PairID]
	if !ok {
		return fmt.Errorf("%w: %s pair %d", ErrPairNotFound, b.Dataset, b.PairID)
	}
	copied := copyBundle(b)
	entry.validation = &copied
	p.pairs[b.Dataset][b.PairID] = entry
	return nil
}

func (p *MemoryProvider) Load(_ context.Context, name string, pairID int) (Bundle, error) {
	entry, err := p.get(name, pairID)
	if err != nil {
		return Bundle{}, err
	}
	return copyBundle(entry.standard), nil
}

func (p *MemoryProvider) LoadValidation(_ context.Context, name string, pairID int) (Bundle, error) {
	entry, err := p.get(name, pairID)
	if err != nil {
		return Bundle{}, err
	}
	if entry.validation != nil {
		return copyBundle(*entry.validation), nil
	}
	return SplitValidation(copyBundle(entry.standard), entry.validationRows)
}

func (p *MemoryProvider) get(name string, pairID int) (memoryPair, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byID, ok := p.pairs[name]
	if !ok {
		return memoryPair{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	entry, ok := byID[pairID]
	if !ok {
		return memoryPair{}, fmt.Errorf("%w: %s pair %d", ErrPairNotFound, name, pairID)
	}
	return entry, nil
}
