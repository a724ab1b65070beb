package pipeline

import (
	"fmt"
	"slices"
	"strings"
)

// Merge combines pipelines into one. Nodes shared between them are kept
// once.
func Merge(pipelines ...*Pipeline) (*Pipeline, error) {
	var nodes []*Node
	for _, p := range pipelines {
		for _, n := range p.nodes {
			if !slices.Contains(nodes, n) {
				nodes = append(nodes, n)
			}
		}
	}
	return New(nodes...)
}

func (p *Pipeline) lookup(names []string) ([]*Node, error) {
	var missing []string
	var nodes []*Node
	for _, name := range names {
		i := slices.IndexFunc(p.nodes, func(n *Node) bool { return n.ShortName() == name })
		if i < 0 {
			missing = append(missing, name)
			continue
		}
		nodes = append(nodes, p.nodes[i])
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline does not contain nodes: %s", strings.Join(missing, ", "))
	}
	return nodes, nil
}

// OnlyNodes returns the sub-pipeline made of the named nodes.
func (p *Pipeline) OnlyNodes(names ...string) (*Pipeline, error) {
	nodes, err := p.lookup(names)
	if err != nil {
		return nil, err
	}
	return New(nodes...)
}

// OnlyNodesWithTags returns the nodes carrying any of tags.
func (p *Pipeline) OnlyNodesWithTags(tags ...string) (*Pipeline, error) {
	var nodes []*Node
	for _, n := range p.nodes {
		for _, t := range tags {
			if slices.Contains(n.Tags, t) {
				nodes = append(nodes, n)
				break
			}
		}
	}
	return New(nodes...)
}

// FromNodes returns the named nodes and everything downstream of them.
func (p *Pipeline) FromNodes(names ...string) (*Pipeline, error) {
	start, err := p.lookup(names)
	if err != nil {
		return nil, err
	}
	keep := make(map[*Node]bool)
	datasets := make(map[string]bool)
	for _, n := range start {
		keep[n] = true
	}
	// p.nodes is topologically sorted, so one pass reaches every descendant.
	for _, n := range p.nodes {
		if !keep[n] {
			for _, in := range n.Inputs {
				if datasets[in] {
					keep[n] = true
					break
				}
			}
		}
		if keep[n] {
			for _, out := range n.Outputs {
				datasets[out] = true
			}
		}
	}
	return p.subset(keep)
}

// ToNodes returns the named nodes and everything they depend on.
func (p *Pipeline) ToNodes(names ...string) (*Pipeline, error) {
	end, err := p.lookup(names)
	if err != nil {
		return nil, err
	}
	keep := make(map[*Node]bool)
	needed := make(map[string]bool)
	for _, n := range end {
		keep[n] = true
	}
	for i := len(p.nodes) - 1; i >= 0; i-- {
		n := p.nodes[i]
		if !keep[n] {
			for _, out := range n.Outputs {
				if needed[out] {
					keep[n] = true
					break
				}
			}
		}
		if keep[n] {
			for _, in := range n.Inputs {
				needed[in] = true
			}
		}
	}
	return p.subset(keep)
}

func (p *Pipeline) subset(keep map[*Node]bool) (*Pipeline, error) {
	var nodes []*Node
	for _, n := range p.nodes {
		if keep[n] {
			nodes = append(nodes, n)
		}
	}
	return New(nodes...)
}
