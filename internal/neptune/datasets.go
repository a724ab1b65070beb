package neptune

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/dataset"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/tracking"
)

// RunDatasetName is the catalog entry the run dataset is registered under.
const RunDatasetName = "neptune_run"

// RunOpener opens a run; tracking.Init in production.
type RunOpener func(ctx context.Context, opts tracking.Options) (*tracking.Run, error)

// RunDataset exposes the tracked run to nodes. Loading it returns the
// tracking.Namespace at the configured base namespace, or nil when the
// integration is disabled. The connection is opened on first load and
// dropped again on Release; dropped connections stay usable by nodes that
// still hold them until Close.
type RunDataset struct {
	mu          sync.Mutex
	cfg         models.NeptuneConfig
	customRunID string
	store       tracking.Store
	open        RunOpener
	run         *tracking.Run
	loaded      bool
	retired     []*tracking.Run
}

// NewRunDataset returns a dataset connecting to the run registered under
// customRunID. store may be nil, in which case each connection opens the
// store named by cfg. open may be nil to use tracking.Init.
func NewRunDataset(cfg models.NeptuneConfig, customRunID string, store tracking.Store, open RunOpener) *RunDataset {
	if open == nil {
		open = tracking.Init
	}
	return &RunDataset{cfg: cfg, customRunID: customRunID, store: store, open: open}
}

func (d *RunDataset) connect(ctx context.Context) error {
	if d.run != nil {
		return nil
	}
	run, err := d.open(ctx, tracking.Options{
		APIToken:    d.cfg.APIToken,
		Project:     d.cfg.Project,
		CustomRunID: d.customRunID,
		Mode:        d.cfg.ConnectionMode(),
		Store:       d.store,
		StorePath:   d.cfg.StorePath,
	})
	if err != nil {
		return fmt.Errorf("connecting to run %s: %w", d.customRunID, err)
	}
	d.run = run
	return nil
}

// Load connects on first use and returns the base namespace.
func (d *RunDataset) Load(ctx context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.cfg.Enabled {
		return nil, nil
	}
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	d.loaded = true
	return d.run.Namespace(d.cfg.BaseNamespace), nil
}

// Save flushes pending writes; the data itself is ignored.
func (d *RunDataset) Save(ctx context.Context, data any) error {
	d.mu.Lock()
	run := d.run
	d.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.Sync(ctx)
}

// Exists is always true: the run is created on demand.
func (d *RunDataset) Exists(ctx context.Context) (bool, error) {
	return true, nil
}

// Release flushes and drops the connection; the next Load reconnects by
// custom run id.
func (d *RunDataset) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.run == nil {
		return nil
	}
	err := d.run.Sync(ctx)
	d.retired = append(d.retired, d.run)
	d.run = nil
	d.loaded = false
	return err
}

// Close closes the current and every dropped connection.
func (d *RunDataset) Close(ctx context.Context) error {
	d.mu.Lock()
	runs := d.retired
	if d.run != nil {
		runs = append(runs, d.run)
	}
	d.run = nil
	d.retired = nil
	d.loaded = false
	d.mu.Unlock()

	var first error
	for _, r := range runs {
		if err := r.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Describe has nothing to report; the run is never mirrored.
func (d *RunDataset) Describe() (map[string]any, error) {
	return map[string]any{}, nil
}

type runDatasetJSON struct {
	Config      models.NeptuneConfig `json:"config"`
	CustomRunID string               `json:"custom_run_id"`
	Loaded      bool                 `json:"loaded"`
}

// MarshalJSON encodes what is needed to reconnect elsewhere. The live
// connection, the shared store and the API token are left out; the token is
// given back with SetAPIToken, or taken from NEPTUNE_API_TOKEN on reconnect.
func (d *RunDataset) MarshalJSON() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(runDatasetJSON{Config: d.cfg, CustomRunID: d.customRunID, Loaded: d.loaded})
}

// UnmarshalJSON restores a dataset encoded by MarshalJSON. A dataset that
// had been loaded reconnects on its next Load.
func (d *RunDataset) UnmarshalJSON(data []byte) error {
	var v runDatasetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = v.Config
	d.customRunID = v.CustomRunID
	d.loaded = v.Loaded
	d.run = nil
	d.store = nil
	if d.open == nil {
		d.open = tracking.Init
	}
	return nil
}

// SetAPIToken sets the credential used by the next connection. A dataset
// restored by UnmarshalJSON carries none.
func (d *RunDataset) SetAPIToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.APIToken = token
}

// Connected reports whether the dataset holds a live connection.
func (d *RunDataset) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run != nil
}

// FileDataset is a binary file whose content is uploaded to the run when
// the catalog is mirrored.
type FileDataset struct {
	*dataset.BinaryDataset
}

// NewFileDataset builds the file dataset for the catalog type
// neptune.FileDataset.
func NewFileDataset(spec catalog.Spec) (*FileDataset, error) {
	inner, err := dataset.NewBinaryDataset(spec)
	if err != nil {
		return nil, err
	}
	return &FileDataset{BinaryDataset: inner}, nil
}

// IsArtifact is always true.
func (d *FileDataset) IsArtifact() bool { return true }

// TypeName is the name written to the dataset descriptor.
func (d *FileDataset) TypeName() string { return "NeptuneFileDataset" }

// ArtifactDataset flags any dataset for upload, delegating everything else
// to it.
type ArtifactDataset struct {
	inner catalog.Dataset
}

func NewArtifactDataset(inner catalog.Dataset) *ArtifactDataset {
	return &ArtifactDataset{inner: inner}
}

// Unwrap returns the wrapped dataset.
func (d *ArtifactDataset) Unwrap() catalog.Dataset { return d.inner }

func (d *ArtifactDataset) Load(ctx context.Context) (any, error) { return d.inner.Load(ctx) }

func (d *ArtifactDataset) Save(ctx context.Context, data any) error { return d.inner.Save(ctx, data) }

func (d *ArtifactDataset) Exists(ctx context.Context) (bool, error) { return d.inner.Exists(ctx) }

func (d *ArtifactDataset) IsArtifact() bool { return true }

func (d *ArtifactDataset) TypeName() string {
	return "ArtifactDataset[" + catalog.TypeName(d.inner) + "]"
}

// Describe returns the inner description with the file extension added
// when the inner dataset is file backed.
func (d *ArtifactDataset) Describe() (map[string]any, error) {
	desc := map[string]any{}
	if inner, ok := d.inner.(catalog.Describable); ok {
		innerDesc, err := inner.Describe()
		if err != nil {
			return nil, err
		}
		for k, v := range innerDesc {
			desc[k] = v
		}
	}
	if fp, ok := d.inner.(filepather); ok {
		if _, set := desc["extension"]; !set {
			desc["extension"] = dataset.Extension(fp.Filepath())
		}
	}
	return desc, nil
}

func (d *ArtifactDataset) Release(ctx context.Context) error {
	if r, ok := d.inner.(catalog.Releaser); ok {
		return r.Release(ctx)
	}
	return nil
}

// Filepath forwards to the inner dataset; it is empty when the inner
// dataset is not file backed.
func (d *ArtifactDataset) Filepath() string {
	if fp, ok := d.inner.(filepather); ok {
		return fp.Filepath()
	}
	return ""
}

type filepather interface {
	Filepath() string
}

// ArtifactSuffix marks catalog entries whose content is uploaded.
const ArtifactSuffix = "@neptune"

// RegisterDatasets adds the plugin's dataset types to r and wraps file
// datasets whose name ends in ArtifactSuffix as artifacts.
func RegisterDatasets(r *catalog.Registry) {
	fileCtor := func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewFileDataset(spec)
	}
	r.Register("NeptuneFileDataset", fileCtor)
	r.Register("NeptuneFileDataSet", fileCtor)
	r.Register("neptune.FileDataset", fileCtor)

	artifactCtor := func(spec catalog.Spec, reg *catalog.Registry) (catalog.Dataset, error) {
		inner, err := reg.BuildNested(spec, "dataset")
		if err != nil {
			return nil, err
		}
		return NewArtifactDataset(inner), nil
	}
	r.Register("ArtifactDataset", artifactCtor)
	r.Register("neptune.ArtifactDataset", artifactCtor)

	r.Decorate(func(spec catalog.Spec, ds catalog.Dataset) (catalog.Dataset, error) {
		if !hasArtifactSuffix(spec.Name) || catalog.IsArtifact(ds) {
			return ds, nil
		}
		if _, ok := ds.(filepather); !ok {
			return ds, nil
		}
		return NewArtifactDataset(ds), nil
	})
}

func hasArtifactSuffix(name string) bool {
	return len(name) > len(ArtifactSuffix) && strings.HasSuffix(name, ArtifactSuffix)
}
