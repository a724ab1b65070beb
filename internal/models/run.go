package models

import "time"

// RunInfo identifies a run inside the run store.
type RunInfo struct {
	ID          string    `json:"sys_id"`
	CustomRunID string    `json:"custom_run_id,omitempty"`
	Project     string    `json:"project"`
	Mode        string    `json:"mode"`
	CreatedAt   time.Time `json:"creation_time"`
	Resumed     bool      `json:"resumed"`
}

// RunParams are the runner parameters recorded for a pipeline execution.
type RunParams struct {
	SessionID    string         `json:"session_id"`
	ProjectPath  string         `json:"project_path"`
	Env          string         `json:"env"`
	Pipeline     string         `json:"pipeline_name"`
	Runner       string         `json:"runner"`
	ExtraParams  map[string]any `json:"extra_params,omitempty"`
	FromNodes    []string       `json:"from_nodes,omitempty"`
	ToNodes      []string       `json:"to_nodes,omitempty"`
	NodeNames    []string       `json:"node_names,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	LoadVersions map[string]any `json:"load_versions,omitempty"`
}

// ToMap flattens the run params into the mapping logged under run_params.
func (p RunParams) ToMap() map[string]any {
	m := map[string]any{
		"session_id":    p.SessionID,
		"project_path":  p.ProjectPath,
		"env":           p.Env,
		"pipeline_name": p.Pipeline,
		"runner":        p.Runner,
		"extra_params":  p.ExtraParams,
		"from_nodes":    p.FromNodes,
		"to_nodes":      p.ToNodes,
		"node_names":    p.NodeNames,
		"tags":          p.Tags,
		"load_versions": p.LoadVersions,
	}
	return m
}
