package neptune

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spachava753/kedro-neptune/internal/config"
)

// Environment variable references written when no explicit value is given.
const (
	DefaultAPIToken = "$NEPTUNE_API_TOKEN"
	DefaultProject  = "$NEPTUNE_PROJECT"
)

const catalogTemplate = `# Files can be logged to the run with neptune.FileDataset:
#
# example_artifact:
#   type: neptune.FileDataset
#   filepath: data/06_models/clf_model.pkl
#
# To log an existing file dataset as well, add @neptune to its name:
#
# example_iris_data@neptune:
#   type: CSVDataset
#   filepath: data/01_raw/iris.csv
#
# Any other dataset can be wrapped explicitly:
#
# example_model:
#   type: neptune.ArtifactDataset
#   dataset:
#     type: BinaryDataset
#     filepath: data/06_models/model.bin
`

// InitOptions configures project scaffolding.
type InitOptions struct {
	ProjectPath   string
	APIToken      string
	Project       string
	BaseNamespace string
	// Config is the conf environment receiving neptune.yml and
	// catalog_neptune.yml.
	Config string
}

type credentialsDoc struct {
	Neptune struct {
		APIToken string `yaml:"api_token"`
	} `yaml:"neptune"`
}

type settingsDoc struct {
	Neptune struct {
		Project           string   `yaml:"project"`
		BaseNamespace     string   `yaml:"base_namespace"`
		Enabled           bool     `yaml:"enabled"`
		UploadSourceFiles []string `yaml:"upload_source_files"`
	} `yaml:"neptune"`
}

// Init writes the plugin's configuration files into a project. Files that
// already exist are left untouched. It returns the paths it created.
func Init(opts InitOptions) ([]string, error) {
	if opts.APIToken == "" {
		opts.APIToken = DefaultAPIToken
	}
	if opts.Project == "" {
		opts.Project = DefaultProject
	}
	if opts.BaseNamespace == "" {
		opts.BaseNamespace = "kedro"
	}
	if opts.Config == "" {
		opts.Config = config.DefaultBaseEnv
	}

	confDir := filepath.Join(opts.ProjectPath, config.DefaultConfSource)

	var creds credentialsDoc
	creds.Neptune.APIToken = opts.APIToken

	var settings settingsDoc
	settings.Neptune.Project = opts.Project
	settings.Neptune.BaseNamespace = opts.BaseNamespace
	settings.Neptune.Enabled = true
	settings.Neptune.UploadSourceFiles = []string{
		"**/*.go",
		config.DefaultConfSource + "/" + opts.Config + "/*.yml",
	}

	files := []struct {
		path    string
		content func() ([]byte, error)
	}{
		{filepath.Join(confDir, config.DefaultRunEnv, "credentials_neptune.yml"), func() ([]byte, error) { return encodeYAML(creds) }},
		{filepath.Join(confDir, opts.Config, "neptune.yml"), func() ([]byte, error) { return encodeYAML(settings) }},
		{filepath.Join(confDir, opts.Config, "catalog_neptune.yml"), func() ([]byte, error) { return []byte(catalogTemplate), nil }},
	}

	var created []string
	for _, f := range files {
		ok, err := writeIfAbsent(f.path, f.content)
		if err != nil {
			return created, err
		}
		if ok {
			slog.Debug("created configuration file", "path", f.path)
			created = append(created, f.path)
		}
	}
	return created, nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeIfAbsent(path string, content func() ([]byte, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	data, err := content()
	if err != nil {
		return false, fmt.Errorf("rendering %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
