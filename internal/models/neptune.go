package models

// Connection modes accepted by the run store client.
const (
	ModeAsync   = "async"
	ModeSync    = "sync"
	ModeOffline = "offline"
	ModeDebug   = "debug"
)

// NeptuneConfig is the resolved plugin configuration, merged from the
// credentials_neptune and neptune documents.
type NeptuneConfig struct {
	APIToken               string   `yaml:"api_token" json:"-"`
	Project                string   `yaml:"project" json:"project"`
	BaseNamespace          string   `yaml:"base_namespace" json:"base_namespace"`
	SourceFiles            []string `yaml:"upload_source_files" json:"upload_source_files"`
	Enabled                bool     `yaml:"enabled" json:"enabled"`
	Mode                   string   `yaml:"mode" json:"mode"`
	CaptureHardwareMetrics bool     `yaml:"capture_hardware_metrics" json:"capture_hardware_metrics"`
	MaxFileSize            int64    `yaml:"-" json:"max_file_size"` // bytes, 0 = unlimited
	StorePath              string   `yaml:"store_path" json:"store_path"`
}

// ConnectionMode returns the mode the run should be opened in. A disabled
// configuration never reaches the store, so the fallback only matters for
// callers that force a run open anyway.
func (c NeptuneConfig) ConnectionMode() string {
	if !c.Enabled {
		return ModeDebug
	}
	if c.Mode == "" {
		return ModeAsync
	}
	return c.Mode
}
