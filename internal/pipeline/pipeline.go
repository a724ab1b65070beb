package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Pipeline is a validated, topologically sorted set of nodes.
type Pipeline struct {
	nodes  []*Node   // topological order
	groups [][]*Node // nodes whose dependencies are all in earlier groups
}

// New validates nodes and sorts them. Node names must be unique, every
// dataset must be produced by at most one node, and the graph must be
// acyclic.
func New(nodes ...*Node) (*Pipeline, error) {
	names := make(map[string]bool, len(nodes))
	producer := make(map[string]*Node)
	for _, n := range nodes {
		name := n.ShortName()
		if names[name] {
			return nil, fmt.Errorf("duplicate node name %q", name)
		}
		names[name] = true
		for _, out := range n.Outputs {
			if p, ok := producer[out]; ok {
				return nil, fmt.Errorf("output %q is produced by both %s and %s", out, p.ShortName(), name)
			}
			producer[out] = n
		}
	}

	deps := make(map[*Node]map[*Node]bool, len(nodes))
	for _, n := range nodes {
		deps[n] = make(map[*Node]bool)
		for _, in := range n.Inputs {
			if p, ok := producer[in]; ok {
				if p == n {
					return nil, fmt.Errorf("node %s consumes its own output %q", n.ShortName(), in)
				}
				deps[n][p] = true
			}
		}
	}

	var groups [][]*Node
	done := make(map[*Node]bool, len(nodes))
	for len(done) < len(nodes) {
		var group []*Node
		for _, n := range nodes {
			if done[n] {
				continue
			}
			ready := true
			for d := range deps[n] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, n)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("pipeline contains a cycle")
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ShortName() < group[j].ShortName() })
		for _, n := range group {
			done[n] = true
		}
		groups = append(groups, group)
	}

	p := &Pipeline{groups: groups}
	for _, g := range groups {
		p.nodes = append(p.nodes, g...)
	}
	return p, nil
}

// Nodes returns the nodes in execution order.
func (p *Pipeline) Nodes() []*Node {
	return slices.Clone(p.nodes)
}

// Grouped returns the nodes grouped by dependency depth.
func (p *Pipeline) Grouped() [][]*Node {
	out := make([][]*Node, len(p.groups))
	for i, g := range p.groups {
		out[i] = slices.Clone(g)
	}
	return out
}

// Inputs returns the datasets consumed but not produced by the pipeline.
func (p *Pipeline) Inputs() []string {
	produced := p.produced()
	var out []string
	for _, n := range p.nodes {
		for _, in := range n.Inputs {
			if !produced[in] && !slices.Contains(out, in) {
				out = append(out, in)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Outputs returns the datasets produced but not consumed by the pipeline.
func (p *Pipeline) Outputs() []string {
	consumed := make(map[string]bool)
	for _, n := range p.nodes {
		for _, in := range n.Inputs {
			consumed[in] = true
		}
	}
	var out []string
	for _, n := range p.nodes {
		for _, o := range n.Outputs {
			if !consumed[o] {
				out = append(out, o)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Datasets returns every dataset name the pipeline touches.
func (p *Pipeline) Datasets() []string {
	seen := make(map[string]bool)
	for _, n := range p.nodes {
		for _, d := range n.Inputs {
			seen[d] = true
		}
		for _, d := range n.Outputs {
			seen[d] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (p *Pipeline) produced() map[string]bool {
	produced := make(map[string]bool)
	for _, n := range p.nodes {
		for _, o := range n.Outputs {
			produced[o] = true
		}
	}
	return produced
}

type nodeJSON struct {
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Tags    []string `json:"tags"`
}

type pipelineJSON struct {
	Pipeline []nodeJSON `json:"pipeline"`
	Version  string     `json:"version"`
}

// StructureVersion is the format version written by ToJSON.
const StructureVersion = "1"

// ToJSON encodes the pipeline structure: every node with its inputs,
// outputs and tags, in execution order.
func (p *Pipeline) ToJSON() ([]byte, error) {
	doc := pipelineJSON{Version: StructureVersion, Pipeline: make([]nodeJSON, 0, len(p.nodes))}
	for _, n := range p.nodes {
		doc.Pipeline = append(doc.Pipeline, nodeJSON{
			Name:    n.ShortName(),
			Inputs:  nonNil(n.Inputs),
			Outputs: nonNil(n.Outputs),
			Tags:    nonNil(n.Tags),
		})
	}
	return json.Marshal(doc)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
