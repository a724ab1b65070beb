package neptune_test

import (
	"context"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/neptune"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
	"github.com/spachava753/kedro-neptune/internal/tracking"
)

func debugNamespace(t *testing.T) tracking.Namespace {
	t.Helper()
	run, err := tracking.Init(context.Background(), tracking.Options{
		Project: "common/kedro-integration",
		Mode:    models.ModeDebug,
		Store:   tracking.NewMemoryStore(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { run.Close(context.Background()) })
	return run.Namespace("kedro")
}

func noop(ctx context.Context, in []any) ([]any, error) {
	out := make([]any, 0, len(in))
	return append(out, in...), nil
}

func TestPipelineStructureGolden(t *testing.T) {
	p, err := pipeline.New(
		pipeline.NewNode(noop, []string{"planets"}, []string{"distances"}, "distances", "planets"),
		pipeline.NewNode(noop, []string{"distances", "params:travel_speed"}, []string{"furthest_planet_distance", "furthest_planet_name"}, "furthest"),
		pipeline.NewNode(noop, nil, nil, "idle"),
	)
	require.NoError(t, err)

	got, err := neptune.PipelineStructure(p)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "pipeline_structure", got)
}

func TestLogCommand(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"/opt/bin/kedro-neptune", "run", "--env", "local"}, "kedro-neptune run --env local"},
		{[]string{"kedro-neptune"}, "kedro-neptune"},
		{nil, "kedro"},
	}
	for _, tt := range tests {
		ns := debugNamespace(t)
		require.NoError(t, neptune.LogCommand(ctx, ns, tt.args))
		got, err := ns.Child("kedro_command").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestLogGitSHAWithoutRepository(t *testing.T) {
	ctx := context.Background()
	ns := debugNamespace(t)

	require.NoError(t, neptune.LogGitSHA(ctx, ns, func(string) string { return "" }, t.TempDir()))
	exists, err := ns.Child("git").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

type failingDescribe struct {
	*catalog.MemoryDataset
}

func (failingDescribe) Describe() (map[string]any, error) {
	return nil, assert.AnError
}

func TestLogDatasetMetadata(t *testing.T) {
	ctx := context.Background()
	ns := debugNamespace(t)

	require.NoError(t, neptune.LogDatasetMetadata(ctx, ns, "broken", failingDescribe{catalog.NewMemoryDataset()}))
	got, err := ns.Child("broken").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "broken", "type": "failingDescribe"}, got)

	require.NoError(t, neptune.LogDatasetMetadata(ctx, ns, "mem", catalog.NewMemoryDataset([]int{1, 2})))
	got, err = ns.Child("mem/data").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<[]int>", got)
}

func TestLogDataCatalogMetadataSizeLimit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newProjectCatalog(t, dir)
	ns := debugNamespace(t)

	require.NoError(t, neptune.LogDataCatalogMetadata(ctx, ns, c, 8))

	exists, err := ns.Child("catalog/datasets/logo").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = ns.Child("catalog/files/logo").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLogParametersWithoutParameters(t *testing.T) {
	ctx := context.Background()
	ns := debugNamespace(t)
	require.NoError(t, neptune.LogParameters(ctx, ns, catalog.New()))

	exists, err := ns.Child("parameters").Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLogParametersNonFinite(t *testing.T) {
	ctx := context.Background()
	ns := debugNamespace(t)

	c := catalog.New()
	c.AddParameters(map[string]any{
		"threshold": math.NaN(),
		"max_depth": math.Inf(1),
		"floor":     math.Inf(-1),
		"rate":      0.5,
	})
	require.NoError(t, neptune.LogParameters(ctx, ns, c))

	for name, want := range map[string]any{
		"threshold": "NaN",
		"max_depth": "+Inf",
		"floor":     "-Inf",
		"rate":      0.5,
	} {
		got, err := ns.Child("parameters").Child(name).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}
