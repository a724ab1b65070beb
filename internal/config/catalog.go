package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spachava753/kedro-neptune/internal/models"
)

var (
	CatalogPatterns    = []string{"catalog*", "catalog*/**", "**/catalog*"}
	ParametersPatterns = []string{"parameters*", "parameters*/**", "**/parameters*"}
)

// LoadCatalogConfig loads every catalog document and decodes the entries.
// Top-level keys starting with "_" are YAML anchors and are dropped.
func LoadCatalogConfig(loader *Loader) (models.CatalogConfig, error) {
	raw, err := loader.Get(CatalogPatterns...)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	cfg := make(models.CatalogConfig, len(raw))
	for name, entry := range raw {
		if len(name) > 0 && name[0] == '_' {
			continue
		}

		// Round-trip through YAML so the inline args map is populated the
		// same way regardless of the source format.
		data, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encoding catalog entry %s: %w", name, err)
		}
		var ds models.DatasetConfig
		if err := yaml.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("decoding catalog entry %s: %w", name, err)
		}
		if ds.Type == "" {
			return nil, fmt.Errorf("%w: catalog entry %s: missing type", models.ErrConfig, name)
		}
		cfg[name] = ds
	}

	return cfg, nil
}

// LoadParameters loads the merged parameters documents.
func LoadParameters(loader *Loader) (map[string]any, error) {
	params, err := loader.Get(ParametersPatterns...)
	if err != nil {
		return nil, fmt.Errorf("loading parameters: %w", err)
	}
	return params, nil
}
