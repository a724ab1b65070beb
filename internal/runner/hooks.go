package runner

import (
	"context"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
)

// Hooks receives lifecycle events. The runner fires the node events; the
// session fires the catalog and pipeline events. Any returned error aborts
// the run.
type Hooks interface {
	AfterCatalogCreated(ctx context.Context, c *catalog.Catalog, sessionID string) error
	BeforePipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error
	BeforeNodeRun(ctx context.Context, n *pipeline.Node, inputs map[string]any, c *catalog.Catalog) error
	AfterNodeRun(ctx context.Context, n *pipeline.Node, outputs map[string]any, c *catalog.Catalog) error
	AfterPipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error
	OnPipelineError(ctx context.Context, runErr error, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error
}

// NopHooks implements Hooks with no-ops. Embed it to implement a subset.
type NopHooks struct{}

func (NopHooks) AfterCatalogCreated(context.Context, *catalog.Catalog, string) error { return nil }

func (NopHooks) BeforePipelineRun(context.Context, models.RunParams, *pipeline.Pipeline, *catalog.Catalog) error {
	return nil
}

func (NopHooks) BeforeNodeRun(context.Context, *pipeline.Node, map[string]any, *catalog.Catalog) error {
	return nil
}

func (NopHooks) AfterNodeRun(context.Context, *pipeline.Node, map[string]any, *catalog.Catalog) error {
	return nil
}

func (NopHooks) AfterPipelineRun(context.Context, models.RunParams, *pipeline.Pipeline, *catalog.Catalog) error {
	return nil
}

func (NopHooks) OnPipelineError(context.Context, error, models.RunParams, *pipeline.Pipeline, *catalog.Catalog) error {
	return nil
}

// Chain dispatches every event to each of its hooks in order, stopping at
// the first error.
type Chain []Hooks

func (h Chain) AfterCatalogCreated(ctx context.Context, c *catalog.Catalog, sessionID string) error {
	for _, hook := range h {
		if err := hook.AfterCatalogCreated(ctx, c, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (h Chain) BeforePipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	for _, hook := range h {
		if err := hook.BeforePipelineRun(ctx, params, p, c); err != nil {
			return err
		}
	}
	return nil
}

func (h Chain) BeforeNodeRun(ctx context.Context, n *pipeline.Node, inputs map[string]any, c *catalog.Catalog) error {
	for _, hook := range h {
		if err := hook.BeforeNodeRun(ctx, n, inputs, c); err != nil {
			return err
		}
	}
	return nil
}

func (h Chain) AfterNodeRun(ctx context.Context, n *pipeline.Node, outputs map[string]any, c *catalog.Catalog) error {
	for _, hook := range h {
		if err := hook.AfterNodeRun(ctx, n, outputs, c); err != nil {
			return err
		}
	}
	return nil
}

func (h Chain) AfterPipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	for _, hook := range h {
		if err := hook.AfterPipelineRun(ctx, params, p, c); err != nil {
			return err
		}
	}
	return nil
}

// OnPipelineError notifies every hook even when one fails; the first
// failure is returned.
func (h Chain) OnPipelineError(ctx context.Context, runErr error, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	var first error
	for _, hook := range h {
		if err := hook.OnPipelineError(ctx, runErr, params, p, c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
