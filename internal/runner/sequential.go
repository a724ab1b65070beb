package runner

import (
	"context"
	"log/slog"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
)

// SequentialRunner runs nodes one at a time in topological order.
type SequentialRunner struct{}

func (r *SequentialRunner) Run(ctx context.Context, p *pipeline.Pipeline, c *catalog.Catalog, hooks Hooks) error {
	if err := prepare(p, c); err != nil {
		return err
	}
	rel := newReleaser(p)

	nodes := p.Nodes()
	for i, n := range nodes {
		if err := runNode(ctx, n, c, hooks); err != nil {
			return err
		}
		rel.done(ctx, n, c)
		slog.Info("completed node", "node", n.ShortName(), "done", i+1, "total", len(nodes))
	}
	return nil
}
