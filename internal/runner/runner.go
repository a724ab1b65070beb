// Package runner executes pipelines against a catalog, firing node hooks.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
)

// Runner executes every node of a pipeline.
type Runner interface {
	Run(ctx context.Context, p *pipeline.Pipeline, c *catalog.Catalog, hooks Hooks) error
}

// New returns the runner registered under name: "sequential" or
// "parallel". workers only applies to the parallel runner.
func New(name string, workers int) (Runner, error) {
	switch name {
	case "", "sequential", "SequentialRunner":
		return &SequentialRunner{}, nil
	case "parallel", "ParallelRunner":
		return &ParallelRunner{Workers: workers}, nil
	default:
		return nil, fmt.Errorf("unsupported runner: %s", name)
	}
}

// prepare checks that every free input is in the catalog and registers a
// MemoryDataset for each dataset the catalog does not know.
func prepare(p *pipeline.Pipeline, c *catalog.Catalog) error {
	var missing []string
	for _, in := range p.Inputs() {
		if !c.Has(in) {
			missing = append(missing, in)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline inputs not found in the catalog: %s", strings.Join(missing, ", "))
	}
	for _, name := range p.Datasets() {
		if !c.Has(name) {
			c.Add(name, catalog.NewMemoryDataset(), false)
		}
	}
	return nil
}

// runNode loads the inputs of n, runs it between the node hooks and saves
// its outputs.
func runNode(ctx context.Context, n *pipeline.Node, c *catalog.Catalog, hooks Hooks) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	inputs := make(map[string]any, len(n.Inputs))
	for _, name := range n.Inputs {
		v, err := c.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ShortName(), err)
		}
		inputs[name] = v
	}

	if err := hooks.BeforeNodeRun(ctx, n, inputs, c); err != nil {
		return fmt.Errorf("before node %s: %w", n.ShortName(), err)
	}

	slog.Info("running node", "node", n.String())
	outputs, err := n.Run(ctx, inputs)
	if err != nil {
		return err
	}

	if err := hooks.AfterNodeRun(ctx, n, outputs, c); err != nil {
		return fmt.Errorf("after node %s: %w", n.ShortName(), err)
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Save(ctx, name, outputs[name]); err != nil {
			return fmt.Errorf("node %s: %w", n.ShortName(), err)
		}
	}
	return nil
}

// releaser releases datasets once every node consuming them has finished.
// Pipeline outputs are kept.
type releaser struct {
	mu        sync.Mutex
	consumers map[string]int
	keep      map[string]bool
}

func newReleaser(p *pipeline.Pipeline) *releaser {
	r := &releaser{consumers: make(map[string]int), keep: make(map[string]bool)}
	for _, n := range p.Nodes() {
		for _, in := range n.Inputs {
			r.consumers[in]++
		}
	}
	for _, out := range p.Outputs() {
		r.keep[out] = true
	}
	return r
}

func (r *releaser) done(ctx context.Context, n *pipeline.Node, c *catalog.Catalog) {
	r.mu.Lock()
	var release []string
	for _, in := range n.Inputs {
		r.consumers[in]--
		if r.consumers[in] == 0 && !r.keep[in] {
			release = append(release, in)
		}
	}
	r.mu.Unlock()

	for _, name := range release {
		if err := c.Release(ctx, name); err != nil {
			slog.Warn("releasing dataset failed", "name", name, "error", err)
		}
	}
}
