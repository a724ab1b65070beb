package runner

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
)

// ParallelRunner runs every node whose dependencies have finished
// concurrently, with at most Workers nodes in flight.
type ParallelRunner struct {
	Workers int
}

func (r *ParallelRunner) workers(n int) int {
	w := r.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	return max(min(w, n), 1)
}

func (r *ParallelRunner) Run(ctx context.Context, p *pipeline.Pipeline, c *catalog.Catalog, hooks Hooks) error {
	if err := prepare(p, c); err != nil {
		return err
	}
	rel := newReleaser(p)

	nodes := p.Nodes()
	producer := make(map[string]*pipeline.Node)
	for _, n := range nodes {
		for _, out := range n.Outputs {
			producer[out] = n
		}
	}
	ready := func(n *pipeline.Node, done map[*pipeline.Node]bool) bool {
		for _, in := range n.Inputs {
			if dep, ok := producer[in]; ok && !done[dep] {
				return false
			}
		}
		return true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers(len(nodes)))

	finished := make(chan *pipeline.Node, len(nodes))
	done := make(map[*pipeline.Node]bool, len(nodes))
	started := make(map[*pipeline.Node]bool, len(nodes))

	for len(done) < len(nodes) {
		for _, n := range nodes {
			if started[n] || !ready(n, done) {
				continue
			}
			started[n] = true
			g.Go(func() error {
				if err := runNode(gctx, n, c, hooks); err != nil {
					return err
				}
				finished <- n
				return nil
			})
		}

		select {
		case n := <-finished:
			done[n] = true
			rel.done(gctx, n, c)
			slog.Info("completed node", "node", n.ShortName(), "done", len(done), "total", len(nodes))
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		}
	}

	return g.Wait()
}
