package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// ParametersName is the entry holding the full parameters mapping.
// Individual parameters are added under ParamsPrefix + name.
const (
	ParametersName = "parameters"
	ParamsPrefix   = "params:"
)

// Catalog maps dataset names to datasets. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	datasets map[string]Dataset
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{datasets: make(map[string]Dataset)}
}

// Add registers ds under name. Adding an existing name fails unless
// replace is set.
func (c *Catalog) Add(name string, ds Dataset, replace bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[name]; ok && !replace {
		return fmt.Errorf("%w: dataset %q has already been registered", models.ErrDatasetError, name)
	}
	c.datasets[name] = ds
	return nil
}

// AddFeedDict registers each value as a MemoryDataset, replacing entries
// with the same name.
func (c *Catalog) AddFeedDict(feed map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, v := range feed {
		c.datasets[name] = NewMemoryDataset(v)
	}
}

// AddParameters registers params under "parameters" and every key, nested
// keys included, under "params:<dotted.key>".
func (c *Catalog) AddParameters(params map[string]any) {
	feed := map[string]any{ParametersName: params}
	addParams(feed, "", params)
	c.AddFeedDict(feed)
}

func addParams(feed map[string]any, prefix string, params map[string]any) {
	for k, v := range params {
		key := prefix + k
		feed[ParamsPrefix+key] = v
		if nested, ok := v.(map[string]any); ok {
			addParams(feed, key+".", nested)
		}
	}
}

// Get returns the dataset registered under name.
func (c *Catalog) Get(name string) (Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[name]
	return ds, ok
}

func (c *Catalog) get(name string) (Dataset, error) {
	ds, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrDatasetNotFound, name)
	}
	return ds, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Load reads the dataset registered under name.
func (c *Catalog) Load(ctx context.Context, name string) (any, error) {
	ds, err := c.get(name)
	if err != nil {
		return nil, err
	}
	slog.Debug("loading dataset", "name", name, "type", TypeName(ds))
	data, err := ds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	return data, nil
}

// Save writes data to the dataset registered under name.
func (c *Catalog) Save(ctx context.Context, name string, data any) error {
	ds, err := c.get(name)
	if err != nil {
		return err
	}
	slog.Debug("saving dataset", "name", name, "type", TypeName(ds))
	if err := ds.Save(ctx, data); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the dataset under name holds data. Unknown names
// do not exist.
func (c *Catalog) Exists(ctx context.Context, name string) (bool, error) {
	ds, ok := c.Get(name)
	if !ok {
		return false, nil
	}
	return ds.Exists(ctx)
}

// Release drops cached state of the dataset under name, if it keeps any.
func (c *Catalog) Release(ctx context.Context, name string) error {
	ds, err := c.get(name)
	if err != nil {
		return err
	}
	if r, ok := ds.(Releaser); ok {
		if err := r.Release(ctx); err != nil {
			return fmt.Errorf("releasing %s: %w", name, err)
		}
	}
	return nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry is a named dataset.
type Entry struct {
	Name    string
	Dataset Dataset
}

// Entries returns a snapshot of the catalog sorted by name.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]Entry, 0, len(c.datasets))
	for name, ds := range c.datasets {
		entries = append(entries, Entry{Name: name, Dataset: ds})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// IsParameter reports whether name is the parameters entry or a single
// parameter.
func IsParameter(name string) bool {
	return name == ParametersName || strings.HasPrefix(name, ParamsPrefix)
}
