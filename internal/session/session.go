// Package session wires configuration, catalog, hooks and runner together
// for a single pipeline execution.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/config"
	"github.com/spachava753/kedro-neptune/internal/dataset"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
	"github.com/spachava753/kedro-neptune/internal/runner"
)

// DefaultPipeline is the name of the pipeline run when none is given.
const DefaultPipeline = "__default__"

// PipelineRegistry returns a project's pipelines by name.
type PipelineRegistry func() (map[string]*pipeline.Pipeline, error)

// Options configures a session.
type Options struct {
	ProjectPath string
	// Env is the configuration environment layered over conf/base.
	Env         string
	ExtraParams map[string]any

	Pipelines PipelineRegistry
	Hooks     []runner.Hooks
	// DatasetTypes register additional dataset constructors. The file
	// datasets are always available.
	DatasetTypes []func(*catalog.Registry)

	// NewID generates the session id, a random UUID by default.
	NewID func() string
}

// RunOptions selects what a session runs and how.
type RunOptions struct {
	Pipeline     string
	Runner       string
	Workers      int
	FromNodes    []string
	ToNodes      []string
	NodeNames    []string
	Tags         []string
	LoadVersions map[string]any
}

// Session is one execution context over a project.
type Session struct {
	id     string
	opts   Options
	loader *config.Loader
	hooks  runner.Chain
}

// Create opens a session over opts.ProjectPath.
func Create(opts Options) (*Session, error) {
	if opts.ProjectPath == "" {
		opts.ProjectPath = "."
	}
	abs, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}
	opts.ProjectPath = abs
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Session{
		id:     opts.NewID(),
		opts:   opts,
		loader: config.NewLoader(abs, opts.Env),
		hooks:  runner.Chain(opts.Hooks),
	}
	slog.Debug("created session", "session_id", s.id, "project_path", abs, "env", s.loader.Env())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Loader returns the configuration loader of the session.
func (s *Session) Loader() *config.Loader {
	return s.loader
}

// ProjectPath returns the absolute project path.
func (s *Session) ProjectPath() string {
	return s.opts.ProjectPath
}

// Catalog builds the data catalog from the catalog and parameters
// documents and fires AfterCatalogCreated.
func (s *Session) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	cfg, err := config.LoadCatalogConfig(s.loader)
	if err != nil {
		return nil, err
	}

	reg := catalog.NewRegistry(s.opts.ProjectPath)
	dataset.Register(reg)
	for _, register := range s.opts.DatasetTypes {
		register(reg)
	}

	c, err := reg.BuildCatalog(cfg)
	if err != nil {
		return nil, err
	}

	params, err := config.LoadParameters(s.loader)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = make(map[string]any)
	}
	mergeParams(params, s.opts.ExtraParams)
	c.AddParameters(params)

	if err := s.hooks.AfterCatalogCreated(ctx, c, s.id); err != nil {
		return nil, fmt.Errorf("after catalog created: %w", err)
	}
	return c, nil
}

// Pipeline returns the named pipeline narrowed by the node filters of ro.
func (s *Session) Pipeline(ro RunOptions) (*pipeline.Pipeline, error) {
	if s.opts.Pipelines == nil {
		return nil, fmt.Errorf("%w: no pipelines registered", models.ErrConfig)
	}
	pipelines, err := s.opts.Pipelines()
	if err != nil {
		return nil, fmt.Errorf("loading pipelines: %w", err)
	}

	name := ro.Pipeline
	if name == "" {
		name = DefaultPipeline
	}
	p, ok := pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q not found (available: %s)",
			models.ErrConfig, name, strings.Join(slices.Sorted(maps.Keys(pipelines)), ", "))
	}

	if len(ro.Tags) > 0 {
		if p, err = p.OnlyNodesWithTags(ro.Tags...); err != nil {
			return nil, err
		}
	}
	if len(ro.NodeNames) > 0 {
		if p, err = p.OnlyNodes(ro.NodeNames...); err != nil {
			return nil, err
		}
	}
	if len(ro.FromNodes) > 0 {
		if p, err = p.FromNodes(ro.FromNodes...); err != nil {
			return nil, err
		}
	}
	if len(ro.ToNodes) > 0 {
		if p, err = p.ToNodes(ro.ToNodes...); err != nil {
			return nil, err
		}
	}
	if len(p.Nodes()) == 0 {
		return nil, fmt.Errorf("pipeline %q has no nodes to run", name)
	}
	return p, nil
}

// Run executes a pipeline with the session's hooks. Once the catalog is
// created, any failure is reported to OnPipelineError.
func (s *Session) Run(ctx context.Context, ro RunOptions) error {
	p, err := s.Pipeline(ro)
	if err != nil {
		return err
	}
	r, err := runner.New(ro.Runner, ro.Workers)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfig, err)
	}

	c, err := s.Catalog(ctx)
	if err != nil {
		return err
	}

	params := models.RunParams{
		SessionID:    s.id,
		ProjectPath:  s.opts.ProjectPath,
		Env:          s.loader.Env(),
		Pipeline:     ro.Pipeline,
		Runner:       runnerName(r),
		ExtraParams:  s.opts.ExtraParams,
		FromNodes:    ro.FromNodes,
		ToNodes:      ro.ToNodes,
		NodeNames:    ro.NodeNames,
		Tags:         ro.Tags,
		LoadVersions: ro.LoadVersions,
	}
	if params.Pipeline == "" {
		params.Pipeline = DefaultPipeline
	}

	slog.Info("running pipeline", "session_id", s.id, "pipeline", params.Pipeline, "runner", params.Runner, "nodes", len(p.Nodes()))

	fail := func(runErr error) error {
		if err := s.hooks.OnPipelineError(ctx, runErr, params, p, c); err != nil {
			slog.Error("pipeline error hook failed", "error", err)
		}
		return runErr
	}

	if err := s.hooks.BeforePipelineRun(ctx, params, p, c); err != nil {
		return fail(fmt.Errorf("before pipeline run: %w", err))
	}
	if err := r.Run(ctx, p, c, s.hooks); err != nil {
		return fail(err)
	}
	if err := s.hooks.AfterPipelineRun(ctx, params, p, c); err != nil {
		return fmt.Errorf("after pipeline run: %w", err)
	}

	slog.Info("pipeline completed", "session_id", s.id, "pipeline", params.Pipeline)
	return nil
}

func runnerName(r runner.Runner) string {
	t := reflect.TypeOf(r)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// mergeParams overlays extra onto params, merging nested mappings key by
// key.
func mergeParams(params, extra map[string]any) {
	for k, v := range extra {
		src, srcMap := v.(map[string]any)
		dst, dstMap := params[k].(map[string]any)
		if srcMap && dstMap {
			mergeParams(dst, src)
			continue
		}
		params[k] = v
	}
}
