package neptune_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/kedro-neptune/internal/config"
	"github.com/spachava753/kedro-neptune/internal/neptune"
)

func TestInitCreatesConfiguration(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NEPTUNE_API_TOKEN", "from-env")

	created, err := neptune.Init(neptune.InitOptions{ProjectPath: dir, Project: "common/planets"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "conf", "local", "credentials_neptune.yml"),
		filepath.Join(dir, "conf", "base", "neptune.yml"),
		filepath.Join(dir, "conf", "base", "catalog_neptune.yml"),
	}, created)

	cfg, err := config.LoadNeptuneConfig(config.NewLoader(dir, "local"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIToken)
	assert.Equal(t, "common/planets", cfg.Project)
	assert.Equal(t, "kedro", cfg.BaseNamespace)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"**/*.go", "conf/base/*.yml"}, cfg.SourceFiles)

	catalogCfg, err := config.LoadCatalogConfig(config.NewLoader(dir, "local"))
	require.NoError(t, err)
	assert.Empty(t, catalogCfg)
}

func TestInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "conf", "base", "neptune.yml")
	require.NoError(t, os.MkdirAll(filepath.Dir(settings), 0o755))
	require.NoError(t, os.WriteFile(settings, []byte("neptune:\n  project: mine/kept\n"), 0o644))

	created, err := neptune.Init(neptune.InitOptions{ProjectPath: dir, Project: "other/project"})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.NotContains(t, created, settings)

	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Equal(t, "neptune:\n  project: mine/kept\n", string(data))

	created, err = neptune.Init(neptune.InitOptions{ProjectPath: dir})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestInitCustomEnvironment(t *testing.T) {
	dir := t.TempDir()
	_, err := neptune.Init(neptune.InitOptions{ProjectPath: dir, Config: "staging", BaseNamespace: "pipelines"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "conf", "staging", "neptune.yml"))
	require.NoError(t, err)
	assert.Equal(t, `neptune:
  project: $NEPTUNE_PROJECT
  base_namespace: pipelines
  enabled: true
  upload_source_files:
    - '**/*.go'
    - conf/staging/*.yml
`, string(data))
}
