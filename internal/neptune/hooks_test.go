package neptune_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/dataset"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/monitoring"
	"github.com/spachava753/kedro-neptune/internal/neptune"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
	"github.com/spachava753/kedro-neptune/internal/runner"
	"github.com/spachava753/kedro-neptune/internal/tracking"
)

const testSession = "2026-10-18T10.00.00.000Z"

func testConfig() models.NeptuneConfig {
	return models.NeptuneConfig{
		APIToken:      "secret-token",
		Project:       "common/kedro-integration",
		BaseNamespace: "kedro",
		Enabled:       true,
		Mode:          models.ModeDebug,
	}
}

func newTestHooks(t *testing.T, cfg models.NeptuneConfig, store tracking.Store, dir string) *neptune.Hooks {
	t.Helper()
	return neptune.NewHooks(neptune.HookOptions{
		LoadConfig:  func() (models.NeptuneConfig, error) { return cfg, nil },
		ProjectPath: dir,
		Command:     []string{"/usr/local/bin/kedro-neptune", "run", "--pipeline", "__default__"},
		GitSHA:      func(string) string { return "0123abcd" },
		Store:       store,
		Sample: func(ctx context.Context) (monitoring.Sample, error) {
			return monitoring.Sample{CPU: 12.5, Memory: 40}, nil
		},
		MonitorInterval: 5 * time.Millisecond,
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newProjectCatalog builds a catalog over a temporary project holding a
// CSV table, a CSV artifact and a PNG file artifact.
func newProjectCatalog(t *testing.T, dir string) *catalog.Catalog {
	t.Helper()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "numbers.csv"), []byte("x,y\n1,2\n3,4\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(data, "logo.png"), pngBytes(t), 0o644))

	r := catalog.NewRegistry(dir)
	dataset.Register(r)
	neptune.RegisterDatasets(r)

	c, err := r.BuildCatalog(models.CatalogConfig{
		"numbers":         {Type: "CSVDataset", Args: map[string]any{"filepath": "data/numbers.csv"}},
		"numbers@neptune": {Type: "CSVDataset", Args: map[string]any{"filepath": "data/numbers.csv"}},
		"logo":            {Type: "neptune.FileDataset", Args: map[string]any{"filepath": "data/logo.png"}},
	})
	require.NoError(t, err)
	c.AddParameters(map[string]any{"scale": 3, "labels": map[string]any{"x": "first"}})
	require.NoError(t, c.Add("a", catalog.NewMemoryDataset(1), false))
	require.NoError(t, c.Add("b", catalog.NewMemoryDataset(2), false))
	return c
}

func scaledSum(ctx context.Context, in []any) ([]any, error) {
	return []any{(in[0].(int) + in[1].(int)) * in[2].(int)}, nil
}

func describe(ctx context.Context, in []any) ([]any, error) {
	ns, ok := in[1].(tracking.Namespace)
	if !ok {
		return nil, errors.New("no run namespace")
	}
	if err := ns.Child("result").Assign(ctx, in[0]); err != nil {
		return nil, err
	}
	return []any{"done"}, nil
}

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(
		pipeline.NewNode(scaledSum, []string{"b", "a", "params:scale"}, []string{"c"}, "scaled_sum"),
		pipeline.NewNode(describe, []string{"c", neptune.RunDatasetName}, []string{"summary"}, "describe"),
	)
	require.NoError(t, err)
	return p
}

func runWithHooks(ctx context.Context, h *neptune.Hooks, r runner.Runner, p *pipeline.Pipeline, c *catalog.Catalog) error {
	params := models.RunParams{SessionID: testSession, Pipeline: "__default__", Runner: "SequentialRunner"}
	if err := h.AfterCatalogCreated(ctx, c, testSession); err != nil {
		return err
	}
	if err := h.BeforePipelineRun(ctx, params, p, c); err != nil {
		return err
	}
	if err := r.Run(ctx, p, c, h); err != nil {
		return errors.Join(err, h.OnPipelineError(ctx, err, params, p, c))
	}
	return h.AfterPipelineRun(ctx, params, p, c)
}

func fetch(t *testing.T, store tracking.Store, path string) any {
	t.Helper()
	ctx := context.Background()
	run, err := tracking.Init(ctx, tracking.Options{
		Project:     "common/kedro-integration",
		CustomRunID: neptune.RunIdentifier(testSession),
		Mode:        models.ModeDebug,
		Store:       store,
	})
	require.NoError(t, err)
	defer run.Close(ctx)
	v, err := run.Namespace(path).Fetch(ctx)
	require.NoError(t, err, path)
	return v
}

func TestRunIdentifier(t *testing.T) {
	id := neptune.RunIdentifier(testSession)
	assert.Len(t, id, 32)
	assert.Equal(t, id, neptune.RunIdentifier(testSession))
	assert.NotEqual(t, id, neptune.RunIdentifier(testSession+"x"))
}

func TestHooksMirrorPipelineRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := tracking.NewMemoryStore()
	h := newTestHooks(t, testConfig(), store, dir)
	c := newProjectCatalog(t, dir)

	require.NoError(t, runWithHooks(ctx, h, &runner.SequentialRunner{}, testPipeline(t), c))

	assert.Equal(t, neptune.RunIdentifier(testSession), os.Getenv(tracking.EnvCustomRunID))
	assert.NotEqual(t, "secret-token", os.Getenv(tracking.EnvAPIToken))

	assert.Equal(t, neptune.IntegrationVersion(), fetch(t, store, neptune.IntegrationVersionKey))
	assert.Equal(t, "kedro-neptune run --pipeline __default__", fetch(t, store, "kedro/kedro_command"))
	assert.Equal(t, "0123abcd", fetch(t, store, "kedro/git"))
	assert.Equal(t, testSession, fetch(t, store, "kedro/run_params/session_id"))
	assert.Equal(t, int64(9), fetch(t, store, "kedro/result"))

	node := fetch(t, store, "kedro/nodes/scaled_sum").(map[string]any)
	assert.Equal(t, []string{"a", "b", "params:scale"}, node["inputs"])
	assert.Equal(t, []string{"c"}, node["outputs"])
	assert.Equal(t, map[string]any{"scale": int64(3)}, node["parameters"])
	assert.GreaterOrEqual(t, node["execution_time"].(float64), 0.0)

	// Memory datasets and the run itself are never described.
	datasets := fetch(t, store, "kedro/catalog/datasets").(map[string]any)
	assert.ElementsMatch(t, []string{"numbers", "numbers@neptune", "logo"}, keys(datasets))
	assert.Equal(t, map[string]any{
		"filepath": filepath.Join(dir, "data", "numbers.csv"),
		"name":     "numbers",
		"protocol": "file",
		"type":     "CSVDataset",
		"version":  "null",
	}, datasets["numbers"])
	assert.Equal(t, "ArtifactDataset[CSVDataset]", datasets["numbers@neptune"].(map[string]any)["type"])
	assert.Equal(t, "NeptuneFileDataset", datasets["logo"].(map[string]any)["type"])
	assert.Equal(t, "png", datasets["logo"].(map[string]any)["extension"])

	assert.Equal(t, int64(3), fetch(t, store, "kedro/catalog/parameters/scale"))
	assert.Equal(t, `{"x":"first"}`, fetch(t, store, "kedro/catalog/parameters/labels"))

	run, err := tracking.Init(ctx, tracking.Options{
		Project:     "common/kedro-integration",
		CustomRunID: neptune.RunIdentifier(testSession),
		Mode:        models.ModeDebug,
		Store:       store,
	})
	require.NoError(t, err)
	defer run.Close(ctx)

	logo, err := run.Namespace("kedro/catalog/files/logo").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "png", logo.Extension)

	numbers, err := run.Namespace("kedro/catalog/files/numbers@neptune").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "csv", numbers.Extension)
	assert.Equal(t, "x,y\n1,2\n3,4\n", string(numbers.Content))

	_, err = run.Namespace("kedro/catalog/files/numbers").Download(ctx)
	assert.Error(t, err)

	structure, err := run.Namespace("kedro/structure").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "json", structure.Extension)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// writeCounter counts the field and file writes made below the catalog
// snapshot paths.
type writeCounter struct {
	tracking.Store

	mu     sync.Mutex
	writes []string
}

func (s *writeCounter) PutField(ctx context.Context, runID string, f tracking.Field) error {
	s.record(f.Path)
	return s.Store.PutField(ctx, runID, f)
}

func (s *writeCounter) PutFile(ctx context.Context, runID, path string, f tracking.File) error {
	s.record(path)
	return s.Store.PutFile(ctx, runID, path, f)
}

func (s *writeCounter) record(path string) {
	if !strings.HasPrefix(path, "kedro/catalog/datasets/") && !strings.HasPrefix(path, "kedro/catalog/files/") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, path)
}

func (s *writeCounter) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.writes
	s.writes = nil
	return out
}

func TestHooksRerunDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := &writeCounter{Store: tracking.NewMemoryStore()}

	require.NoError(t, runWithHooks(ctx, newTestHooks(t, testConfig(), store, dir), &runner.SequentialRunner{}, testPipeline(t), newProjectCatalog(t, dir)))
	assert.NotEmpty(t, store.reset())
	first := fetch(t, store, "kedro/catalog/datasets")

	c := newProjectCatalog(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "numbers.csv"), []byte("x,y\n9,9\n"), 0o644))

	require.NoError(t, runWithHooks(ctx, newTestHooks(t, testConfig(), store, dir), &runner.ParallelRunner{Workers: 2}, testPipeline(t), c))
	assert.Empty(t, store.reset())
	assert.Equal(t, first, fetch(t, store, "kedro/catalog/datasets"))

	run, err := tracking.Init(ctx, tracking.Options{
		Project:     "common/kedro-integration",
		CustomRunID: neptune.RunIdentifier(testSession),
		Mode:        models.ModeDebug,
		Store:       store,
	})
	require.NoError(t, err)
	defer run.Close(ctx)

	numbers, err := run.Namespace("kedro/catalog/files/numbers@neptune").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n1,2\n3,4\n", string(numbers.Content))
}

func TestHooksCaptureHardwareMetrics(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := tracking.NewMemoryStore()
	cfg := testConfig()
	cfg.CaptureHardwareMetrics = true

	require.NoError(t, runWithHooks(ctx, newTestHooks(t, cfg, store, dir), &runner.SequentialRunner{}, testPipeline(t), newProjectCatalog(t, dir)))

	run, err := tracking.Init(ctx, tracking.Options{
		Project:     "common/kedro-integration",
		CustomRunID: neptune.RunIdentifier(testSession),
		Mode:        models.ModeDebug,
		Store:       store,
	})
	require.NoError(t, err)
	defer run.Close(ctx)

	points, err := run.MonitoringNamespace().Child("nodes/scaled_sum/cpu").FetchValues(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, points)
	assert.Equal(t, 12.5, points[0].Value)
}

func TestAfterNodeRunWithoutStart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h := newTestHooks(t, testConfig(), tracking.NewMemoryStore(), dir)
	c := newProjectCatalog(t, dir)
	p := testPipeline(t)

	require.NoError(t, h.AfterCatalogCreated(ctx, c, testSession))
	require.NoError(t, h.BeforePipelineRun(ctx, models.RunParams{SessionID: testSession}, p, c))

	err := h.AfterNodeRun(ctx, p.Nodes()[0], map[string]any{"c": 1}, c)
	assert.ErrorIs(t, err, models.ErrTimerMissing)
	assert.NoError(t, h.AfterPipelineRun(ctx, models.RunParams{}, p, c))
}

func TestHooksRecordPipelineError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := tracking.NewMemoryStore()
	h := newTestHooks(t, testConfig(), store, dir)

	boom := func(ctx context.Context, in []any) ([]any, error) { return nil, errors.New("boom") }
	p, err := pipeline.New(pipeline.NewNode(boom, []string{"a"}, []string{"x"}, "explode"))
	require.NoError(t, err)

	err = runWithHooks(ctx, h, &runner.SequentialRunner{}, p, newProjectCatalog(t, dir))
	require.Error(t, err)
	assert.Contains(t, fetch(t, store, "kedro/error"), "boom")
}

// contextStore fails writes made with a finished context, as the SQLite
// store does.
type contextStore struct {
	tracking.Store
}

func (s contextStore) PutField(ctx context.Context, runID string, f tracking.Field) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.PutField(ctx, runID, f)
}

func TestHooksRecordErrorAfterCancel(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := contextStore{Store: tracking.NewMemoryStore()}
	h := newTestHooks(t, testConfig(), store, dir)
	c := newProjectCatalog(t, dir)
	p := testPipeline(t)
	params := models.RunParams{SessionID: testSession, Pipeline: "__default__", Runner: "SequentialRunner"}

	require.NoError(t, h.AfterCatalogCreated(ctx, c, testSession))
	require.NoError(t, h.BeforePipelineRun(ctx, params, p, c))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, h.OnPipelineError(cancelled, context.Canceled, params, p, c))
	assert.Equal(t, context.Canceled.Error(), fetch(t, store, "kedro/error"))
}

func TestHooksDisabled(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Enabled = false
	h := newTestHooks(t, cfg, nil, dir)
	c := newProjectCatalog(t, dir)

	seen := false
	probe := func(ctx context.Context, in []any) ([]any, error) {
		seen = true
		if in[0] != nil {
			return nil, errors.New("expected no run when disabled")
		}
		return []any{1}, nil
	}
	p, err := pipeline.New(pipeline.NewNode(probe, []string{neptune.RunDatasetName}, []string{"x"}, "probe"))
	require.NoError(t, err)

	require.NoError(t, runWithHooks(ctx, h, &runner.SequentialRunner{}, p, c))
	assert.True(t, seen)
}

func TestHooksConfigError(t *testing.T) {
	h := neptune.NewHooks(neptune.HookOptions{
		LoadConfig: func() (models.NeptuneConfig, error) {
			return models.NeptuneConfig{}, models.ErrConfig
		},
	})
	err := h.AfterCatalogCreated(context.Background(), catalog.New(), testSession)
	assert.ErrorIs(t, err, models.ErrConfig)
	assert.NotEmpty(t, h.RunID())
}
