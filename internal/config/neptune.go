package config

import (
	"fmt"
	"path/filepath"

	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/util"
)

// Document name patterns, relative to each conf environment.
var (
	CredentialsPatterns = []string{"credentials_neptune*", "credentials_neptune*/**"}
	NeptunePatterns     = []string{"neptune*", "neptune*/**"}
)

// DefaultNeptuneConfig returns a NeptuneConfig with default values.
func DefaultNeptuneConfig() models.NeptuneConfig {
	return models.NeptuneConfig{
		BaseNamespace:          "kedro",
		Enabled:                true,
		Mode:                   models.ModeAsync,
		CaptureHardwareMetrics: true,
	}
}

// LoadNeptuneConfig resolves the plugin configuration from the credentials
// and settings documents. Both api_token and project must be present; any
// "$VAR" value is substituted from the environment.
func LoadNeptuneConfig(loader *Loader) (models.NeptuneConfig, error) {
	cfg := DefaultNeptuneConfig()

	credentials, err := loader.Get(CredentialsPatterns...)
	if err != nil {
		return cfg, fmt.Errorf("loading neptune credentials: %w", err)
	}
	settings, err := loader.Get(NeptunePatterns...)
	if err != nil {
		return cfg, fmt.Errorf("loading neptune settings: %w", err)
	}

	creds, err := section(credentials, "credentials_neptune")
	if err != nil {
		return cfg, err
	}
	conf, err := section(settings, "neptune")
	if err != nil {
		return cfg, err
	}

	token, ok := creds["api_token"]
	if !ok {
		return cfg, fmt.Errorf("%w: credentials_neptune: missing neptune.api_token", models.ErrConfig)
	}
	project, ok := conf["project"]
	if !ok {
		return cfg, fmt.Errorf("%w: neptune: missing neptune.project", models.ErrConfig)
	}

	cfg.APIToken = stringValue(ParseConfigValue(token))
	cfg.Project = stringValue(ParseConfigValue(project))

	if v, ok := conf["base_namespace"]; ok {
		if ns := stringValue(ParseConfigValue(v)); ns != "" {
			cfg.BaseNamespace = ns
		}
	}
	if v, ok := conf["upload_source_files"]; ok {
		cfg.SourceFiles = stringList(ParseConfigValue(v))
	}
	cfg.Enabled = EnsureBool(ParseConfigValue(conf["enabled"]))

	if v, ok := conf["mode"]; ok {
		mode := stringValue(ParseConfigValue(v))
		switch mode {
		case "":
		case models.ModeAsync, models.ModeSync, models.ModeOffline, models.ModeDebug:
			cfg.Mode = mode
		default:
			return cfg, fmt.Errorf("%w: neptune: unsupported mode %q", models.ErrConfig, mode)
		}
	}
	if v, ok := conf["capture_hardware_metrics"]; ok {
		cfg.CaptureHardwareMetrics = EnsureBool(ParseConfigValue(v))
	}
	if v, ok := conf["max_file_size"]; ok {
		size, err := util.ParseSize(stringValue(ParseConfigValue(v)))
		if err != nil {
			return cfg, fmt.Errorf("%w: neptune: max_file_size: %v", models.ErrConfig, err)
		}
		cfg.MaxFileSize = size
	}
	if v, ok := conf["store_path"]; ok {
		cfg.StorePath = stringValue(ParseConfigValue(v))
	}

	return cfg, nil
}

// ResolveStorePath returns the run store location for a project. Relative
// paths are taken from the project root.
func ResolveStorePath(cfg models.NeptuneConfig, projectPath string) string {
	p := cfg.StorePath
	if p == "" {
		p = filepath.Join(".neptune", "runs.db")
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectPath, p)
}

// section returns the "neptune" mapping of a merged document.
func section(doc map[string]any, name string) (map[string]any, error) {
	raw, ok := doc["neptune"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: missing top-level neptune key", models.ErrConfig, name)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: neptune must be a mapping, got %T", models.ErrConfig, name, raw)
	}
	return m, nil
}
