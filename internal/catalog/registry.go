package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// Spec is the definition a Constructor builds a dataset from.
type Spec struct {
	Name    string
	Type    string
	Args    map[string]any
	BaseDir string
}

// String returns the string argument key, or "" when absent.
func (s Spec) String(key string) string {
	v, ok := s.Args[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Map returns the mapping argument key, or nil when absent.
func (s Spec) Map(key string) map[string]any {
	m, _ := s.Args[key].(map[string]any)
	return m
}

// Path returns the path argument key resolved against BaseDir.
func (s Spec) Path(key string) (string, error) {
	p := s.String(key)
	if p == "" {
		return "", fmt.Errorf("%w: dataset %s: missing %s", models.ErrConfig, s.Name, key)
	}
	p = strings.TrimPrefix(p, "file://")
	if !filepath.IsAbs(p) && s.BaseDir != "" {
		p = filepath.Join(s.BaseDir, p)
	}
	return filepath.Clean(p), nil
}

// Constructor builds a dataset. The registry is passed so that wrapping
// datasets can build the definitions nested inside them.
type Constructor func(spec Spec, r *Registry) (Dataset, error)

// Decorator may wrap every dataset built from configuration.
type Decorator func(spec Spec, ds Dataset) (Dataset, error)

// Registry maps catalog type names to constructors.
type Registry struct {
	baseDir string

	mu         sync.RWMutex
	ctors      map[string]Constructor
	decorators []Decorator
}

// NewRegistry returns a registry resolving relative file paths against
// baseDir. MemoryDataset is registered.
func NewRegistry(baseDir string) *Registry {
	r := &Registry{
		baseDir: baseDir,
		ctors:   make(map[string]Constructor),
	}
	r.Register("MemoryDataset", func(spec Spec, _ *Registry) (Dataset, error) {
		if v, ok := spec.Args["data"]; ok {
			return NewMemoryDataset(v), nil
		}
		return NewMemoryDataset(), nil
	})
	return r
}

// Register binds typeName to ctor, replacing any earlier binding.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typeName] = ctor
}

// Decorate adds d to the decorators applied, in order, to every dataset
// built by Build.
func (r *Registry) Decorate(d Decorator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decorators = append(r.decorators, d)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup resolves typeName exactly, then by its last dotted segment so
// that "pandas.CSVDataset" finds "CSVDataset".
func (r *Registry) lookup(typeName string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ctor, ok := r.ctors[typeName]; ok {
		return ctor, true
	}
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		ctor, ok := r.ctors[typeName[i+1:]]
		return ctor, ok
	}
	return nil, false
}

// Build constructs the dataset name from cfg and applies the decorators.
func (r *Registry) Build(name string, cfg models.DatasetConfig) (Dataset, error) {
	spec := Spec{Name: name, Type: cfg.Type, Args: cfg.Args, BaseDir: r.baseDir}
	if spec.Args == nil {
		spec.Args = map[string]any{}
	}

	ds, err := r.BuildSpec(spec)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	decorators := append([]Decorator(nil), r.decorators...)
	r.mu.RUnlock()
	for _, d := range decorators {
		if ds, err = d(spec, ds); err != nil {
			return nil, fmt.Errorf("decorating dataset %s: %w", name, err)
		}
	}
	return ds, nil
}

// BuildSpec constructs a dataset without decorating it.
func (r *Registry) BuildSpec(spec Spec) (Dataset, error) {
	ctor, ok := r.lookup(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s: unknown type %q", models.ErrConfig, spec.Name, spec.Type)
	}
	ds, err := ctor(spec, r)
	if err != nil {
		return nil, fmt.Errorf("building dataset %s: %w", spec.Name, err)
	}
	return ds, nil
}

// BuildNested constructs the definition held under key of a wrapping
// dataset's arguments. The definition is either a type name or a mapping
// with a type key.
func (r *Registry) BuildNested(parent Spec, key string) (Dataset, error) {
	nested := Spec{Name: parent.Name, Args: map[string]any{}, BaseDir: parent.BaseDir}
	switch v := parent.Args[key].(type) {
	case string:
		nested.Type = v
	case map[string]any:
		for k, val := range v {
			if k == "type" {
				nested.Type, _ = val.(string)
				continue
			}
			nested.Args[k] = val
		}
	default:
		return nil, fmt.Errorf("%w: dataset %s: %s must be a type name or a mapping", models.ErrConfig, parent.Name, key)
	}
	if nested.Type == "" {
		return nil, fmt.Errorf("%w: dataset %s: %s has no type", models.ErrConfig, parent.Name, key)
	}
	return r.BuildSpec(nested)
}

// BuildCatalog constructs a catalog holding every entry of cfg.
func (r *Registry) BuildCatalog(cfg models.CatalogConfig) (*Catalog, error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	c := New()
	for _, name := range names {
		ds, err := r.Build(name, cfg[name])
		if err != nil {
			return nil, err
		}
		if err := c.Add(name, ds, false); err != nil {
			return nil, err
		}
		slog.Debug("registered dataset", "name", name, "type", TypeName(ds))
	}
	return c, nil
}
