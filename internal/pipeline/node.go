// Package pipeline describes the graph of nodes a runner executes.
package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strings"
)

// Func is the work a node performs. inputs holds the loaded values in the
// order of Node.Inputs; the returned slice must match Node.Outputs.
type Func func(ctx context.Context, inputs []any) ([]any, error)

// Node is a single step of a pipeline.
type Node struct {
	Name    string
	Func    Func
	Inputs  []string
	Outputs []string
	Tags    []string
}

// NewNode builds a node; name may be empty, in which case the function name
// is used.
func NewNode(fn Func, inputs, outputs []string, name string, tags ...string) *Node {
	return &Node{
		Name:    name,
		Func:    fn,
		Inputs:  slices.Clone(inputs),
		Outputs: slices.Clone(outputs),
		Tags:    slices.Clone(tags),
	}
}

// ShortName is the name used for node metadata paths.
func (n *Node) ShortName() string {
	if n.Name != "" {
		return n.Name
	}
	return funcName(n.Func)
}

// String renders the node the way it is shown in logs.
func (n *Node) String() string {
	return fmt.Sprintf("%s([%s]) -> [%s]", n.ShortName(), strings.Join(n.Inputs, ","), strings.Join(n.Outputs, ","))
}

// Run calls the node function and pairs the results with the output names.
func (n *Node) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	args := make([]any, len(n.Inputs))
	for i, name := range n.Inputs {
		v, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("node %s: missing input %q", n.ShortName(), name)
		}
		args[i] = v
	}

	results, err := n.Func(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ShortName(), err)
	}
	if len(results) != len(n.Outputs) {
		return nil, fmt.Errorf("node %s: returned %d values for %d outputs", n.ShortName(), len(results), len(n.Outputs))
	}

	outputs := make(map[string]any, len(n.Outputs))
	for i, name := range n.Outputs {
		outputs[name] = results[i]
	}
	return outputs, nil
}

func funcName(fn Func) string {
	if fn == nil {
		return "<nil>"
	}
	full := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return strings.TrimSuffix(full, "-fm")
}
