package tracking_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/tracking"
)

func openDebugRun(t *testing.T, store tracking.Store, customRunID string) *tracking.Run {
	t.Helper()
	run, err := tracking.Init(context.Background(), tracking.Options{
		Project:     "common/kedro-integration",
		CustomRunID: customRunID,
		Mode:        models.ModeDebug,
		Store:       store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { run.Close(context.Background()) })
	return run
}

func TestNamespaceChildPaths(t *testing.T) {
	run := openDebugRun(t, tracking.NewMemoryStore(), "")
	ns := run.Namespace("kedro")

	assert.Equal(t, "kedro/x/y", ns.Child("x").Child("y").Path())
	assert.Equal(t, "kedro/x/y", ns.Child("x/y").Path())
	assert.Equal(t, "kedro/x/y", ns.Child("/x/").Child("/y").Path())
	assert.Equal(t, "", ns.Root().Path())
	assert.Same(t, run, ns.Run())
}

func TestAssignAndFetch(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")
	ns := run.Namespace("kedro")

	require.NoError(t, ns.Child("kedro_command").Assign(ctx, "kedro run"))
	require.NoError(t, ns.Child("nodes/a/execution_time").Assign(ctx, 1.5))
	require.NoError(t, ns.Child("nodes/a/inputs").Assign(ctx, []string{"a", "b"}))
	require.NoError(t, ns.Child("catalog/parameters/travel_speed").Assign(ctx, 10000))
	require.NoError(t, ns.Child("flag").Assign(ctx, true))

	got, err := ns.Child("kedro_command").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kedro run", got)

	got, err = ns.Child("nodes/a/execution_time").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got)

	got, err = ns.Child("nodes/a/inputs").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = ns.Child("catalog/parameters/travel_speed").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got)

	got, err = ns.Child("flag").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = ns.Child("missing").Fetch(ctx)
	assert.ErrorIs(t, err, models.ErrPathNotFound)
}

func TestAssignMapBuildsNamespace(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")
	ds := run.Namespace("kedro/catalog/datasets/planets")

	require.NoError(t, ds.Assign(ctx, map[string]any{
		"type":      "CSVDataset",
		"name":      "planets",
		"save_args": map[string]any{"index": false},
	}))

	got, err := ds.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"type":      "CSVDataset",
		"name":      "planets",
		"save_args": map[string]any{"index": false},
	}, got)

	name, err := ds.Child("name").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "planets", name)
}

func TestAssignUnsupportedType(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")

	err := run.Namespace("x").Assign(ctx, struct{ A int }{1})
	var unsupported *tracking.ErrUnsupportedType
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "x", unsupported.Path)

	err = run.Namespace("x").Assign(ctx, tracking.StringifyUnsupported(struct{ A int }{1}))
	require.NoError(t, err)
	got, err := run.Namespace("x").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "{1}", got)
}

func TestAssignUnrepresentableNumbers(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")

	var unsupported *tracking.ErrUnsupportedType
	err := run.Namespace("big").Assign(ctx, uint64(math.MaxUint64))
	require.True(t, errors.As(err, &unsupported))
	err = run.Namespace("nan").Assign(ctx, math.NaN())
	require.True(t, errors.As(err, &unsupported))

	assert.Equal(t, "18446744073709551615", tracking.StringifyUnsupported(uint64(math.MaxUint64)))
	assert.Equal(t, "NaN", tracking.StringifyUnsupported(math.NaN()))
	assert.Equal(t, "+Inf", tracking.StringifyUnsupported(math.Inf(1)))
	assert.Equal(t, int64(7), tracking.StringifyUnsupported(int64(7)))
}

func TestStringifyUnsupported(t *testing.T) {
	got := tracking.StringifyUnsupported(map[string]any{
		"filepath": "data/planets.csv",
		"version":  nil,
		"list":     []int{1, 2},
		"nested":   map[string]any{"index": false},
		"count":    3,
	})
	assert.Equal(t, map[string]any{
		"filepath": "data/planets.csv",
		"version":  "null",
		"list":     "[1,2]",
		"nested":   map[string]any{"index": false},
		"count":    3,
	}, got)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")
	require.NoError(t, run.Namespace("kedro/catalog/datasets/planets/name").Assign(ctx, "planets"))

	for _, p := range []string{"kedro", "kedro/catalog", "kedro/catalog/datasets/planets", "kedro/catalog/datasets/planets/name"} {
		ok, err := run.Exists(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	for _, p := range []string{"kedro/catalog/datasets/plan", "kedro/nodes", "other"} {
		ok, err := run.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
}

func TestResumeByCustomRunID(t *testing.T) {
	ctx := context.Background()
	store := tracking.NewMemoryStore()

	first := openDebugRun(t, store, "abc")
	require.NoError(t, first.Namespace("kedro/kedro_command").Assign(ctx, "kedro run"))
	require.False(t, first.Info().Resumed)

	second := openDebugRun(t, store, "abc")
	assert.True(t, second.Info().Resumed)
	assert.Equal(t, first.Info().ID, second.Info().ID)

	ok, err := second.Exists(ctx, "kedro/kedro_command")
	require.NoError(t, err)
	assert.True(t, ok)

	other := openDebugRun(t, store, "")
	assert.NotEqual(t, first.Info().ID, other.Info().ID)
	assert.Equal(t, "KED-2", other.Info().ID)
}

func TestSQLiteStoreAcrossHandles(t *testing.T) {
	ctx := context.Background()
	storePath := filepath.Join(t.TempDir(), ".neptune", "runs.db")

	open := func(mode string) *tracking.Run {
		run, err := tracking.Init(ctx, tracking.Options{
			APIToken:    "token",
			Project:     "common/planets",
			CustomRunID: "custom-1",
			Mode:        mode,
			StorePath:   storePath,
		})
		require.NoError(t, err)
		return run
	}

	run := open(models.ModeSync)
	assert.Equal(t, "PLA-1", run.Info().ID)

	content := []byte("Planet,Distance\nNeptune,4495\nEarth,149.6\nNeptune,4495\nEarth,149.6\nNeptune,4495\n")
	require.NoError(t, run.Namespace("kedro/catalog/files/planets@neptune").Upload(ctx, tracking.FileFromContent(content, "csv")))
	require.NoError(t, run.Namespace("kedro/nodes/a/execution_time").Assign(ctx, 0.25))
	require.NoError(t, run.Namespace("monitoring/cpu").Append(ctx, 10))
	require.NoError(t, run.Namespace("monitoring/cpu").Append(ctx, 20))
	require.NoError(t, run.Close(ctx))

	resumed := open(models.ModeAsync)
	defer resumed.Close(ctx)
	assert.True(t, resumed.Info().Resumed)
	assert.Equal(t, "PLA-1", resumed.Info().ID)

	f, err := resumed.Namespace("kedro/catalog/files/planets@neptune").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, content, f.Content)
	assert.Equal(t, "csv", f.Extension)

	v, err := resumed.Namespace("kedro/nodes/a/execution_time").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	points, err := resumed.Namespace("monitoring/cpu").FetchValues(ctx)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, int64(0), points[0].Step)
	assert.Equal(t, 20.0, points[1].Value)

	ok, err := resumed.Exists(ctx, "kedro/catalog/files")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAsyncModeSync(t *testing.T) {
	ctx := context.Background()
	run, err := tracking.Init(ctx, tracking.Options{
		APIToken:  "token",
		Project:   "common/planets",
		Mode:      models.ModeAsync,
		StorePath: filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)

	for i := range 50 {
		require.NoError(t, run.Namespace("kedro/values").Append(ctx, float64(i)))
	}
	require.NoError(t, run.Sync(ctx))

	points, err := run.Namespace("kedro/values").FetchValues(ctx)
	require.NoError(t, err)
	assert.Len(t, points, 50)

	require.NoError(t, run.Close(ctx))
	require.NoError(t, run.Close(ctx))
	assert.ErrorIs(t, run.Namespace("kedro/x").Assign(ctx, "late"), models.ErrRunClosed)
}

func TestInitRequiresToken(t *testing.T) {
	t.Setenv(tracking.EnvAPIToken, "")
	_, err := tracking.Init(context.Background(), tracking.Options{
		Project: "common/planets",
		Mode:    models.ModeAsync,
		Store:   tracking.NewMemoryStore(),
	})
	assert.ErrorIs(t, err, models.ErrMissingToken)

	_, err = tracking.Init(context.Background(), tracking.Options{Mode: "turbo"})
	assert.Error(t, err)
}

func TestInitEnvironmentFallbacks(t *testing.T) {
	t.Setenv(tracking.EnvAPIToken, "env-token")
	t.Setenv(tracking.EnvProject, "env/project")
	t.Setenv(tracking.EnvCustomRunID, "env-run")
	t.Setenv(tracking.EnvMonitoringNamespace, "monitoring/nodes/train")

	store := tracking.NewMemoryStore()
	run, err := tracking.Init(context.Background(), tracking.Options{Mode: models.ModeSync, Store: store})
	require.NoError(t, err)
	defer run.Close(context.Background())

	assert.Equal(t, "env/project", run.Info().Project)
	assert.Equal(t, "env-run", run.Info().CustomRunID)
	assert.Equal(t, "monitoring/nodes/train", run.MonitoringNamespace().Path())
}

func TestUploadSourceFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf", "base"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "base", "catalog.yml"), []byte("a: 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "base", "notes.txt"), []byte("skip"), 0644))

	run, err := tracking.Init(ctx, tracking.Options{
		Project:     "common/planets",
		Mode:        models.ModeDebug,
		SourceFiles: []string{"conf/base/*.yml", "**/*.yml"},
		SourceRoot:  root,
	})
	require.NoError(t, err)
	defer run.Close(ctx)

	f, err := run.Namespace("source_code/files/conf/base/catalog.yml").Download(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(f.Content))
	assert.Equal(t, "yml", f.Extension)

	ok, err := run.Exists(ctx, "source_code/files/conf/base/notes.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendTimestamps(t *testing.T) {
	ctx := context.Background()
	run := openDebugRun(t, tracking.NewMemoryStore(), "")
	before := time.Now()
	require.NoError(t, run.Namespace("m").Append(ctx, 1))
	points, err := run.Namespace("m").FetchValues(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.False(t, points[0].Timestamp.Before(before.Add(-time.Second)))
}
