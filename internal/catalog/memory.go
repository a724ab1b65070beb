package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// MemoryDataset keeps data in process memory for the lifetime of a run.
// Node outputs without a catalog entry are stored in one.
type MemoryDataset struct {
	mu   sync.RWMutex
	data any
	set  bool
}

// NewMemoryDataset returns a dataset holding data. Pass no value for an
// empty dataset.
func NewMemoryDataset(data ...any) *MemoryDataset {
	ds := &MemoryDataset{}
	if len(data) > 0 {
		ds.data = data[0]
		ds.set = true
	}
	return ds
}

func (d *MemoryDataset) Load(ctx context.Context) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.set {
		return nil, fmt.Errorf("%w: data for MemoryDataset has not been saved yet", models.ErrDatasetError)
	}
	return d.data, nil
}

func (d *MemoryDataset) Save(ctx context.Context, data any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = data
	d.set = true
	return nil
}

func (d *MemoryDataset) Exists(ctx context.Context) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set, nil
}

// Release empties the dataset.
func (d *MemoryDataset) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = nil
	d.set = false
	return nil
}

// Describe reports the held value's Go type.
func (d *MemoryDataset) Describe() (map[string]any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.set {
		return map[string]any{}, nil
	}
	return map[string]any{"data": fmt.Sprintf("<%T>", d.data)}, nil
}
