package models

// DatasetConfig is a single entry of a catalog document. Type selects the
// dataset constructor; every other key is handed to it verbatim.
type DatasetConfig struct {
	Type string         `yaml:"type" json:"type"`
	Args map[string]any `yaml:",inline" json:"args,omitempty"`
}

// CatalogConfig maps dataset names to their definitions.
type CatalogConfig map[string]DatasetConfig
