package pipeline_test

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/spachava753/kedro-neptune/internal/pipeline"
)

func identity(ctx context.Context, in []any) ([]any, error) {
	return in, nil
}

func names(nodes []*pipeline.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ShortName()
	}
	return out
}

func planets(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(
		pipeline.NewNode(identity, []string{"furthest_planet_distance", "furthest_planet_name", "params:travel_speed"}, []string{"travel_hours"}, "travel_time"),
		pipeline.NewNode(identity, []string{"distances_to_planets"}, []string{"furthest_planet_distance", "furthest_planet_name"}, "furthest"),
		pipeline.NewNode(identity, []string{"planets"}, []string{"distances_to_planets"}, "distances", "prep"),
	)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	return p
}

func TestTopologicalOrder(t *testing.T) {
	p := planets(t)
	if got := names(p.Nodes()); !reflect.DeepEqual(got, []string{"distances", "furthest", "travel_time"}) {
		t.Errorf("order: %v", got)
	}
	if got := p.Inputs(); !reflect.DeepEqual(got, []string{"params:travel_speed", "planets"}) {
		t.Errorf("inputs: %v", got)
	}
	if got := p.Outputs(); !reflect.DeepEqual(got, []string{"travel_hours"}) {
		t.Errorf("outputs: %v", got)
	}
	if got := len(p.Grouped()); got != 3 {
		t.Errorf("expected 3 groups, got %d", got)
	}
}

func TestGroupedParallelBranches(t *testing.T) {
	p, err := pipeline.New(
		pipeline.NewNode(identity, []string{"a"}, []string{"b"}, "left"),
		pipeline.NewNode(identity, []string{"a"}, []string{"c"}, "right"),
		pipeline.NewNode(identity, []string{"b", "c"}, []string{"d"}, "join"),
	)
	if err != nil {
		t.Fatal(err)
	}
	groups := p.Grouped()
	if len(groups) != 2 || !reflect.DeepEqual(names(groups[0]), []string{"left", "right"}) {
		t.Errorf("groups: %v", groups)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*pipeline.Node
		want  string
	}{
		{
			name: "duplicate name",
			nodes: []*pipeline.Node{
				pipeline.NewNode(identity, nil, []string{"a"}, "n"),
				pipeline.NewNode(identity, nil, []string{"b"}, "n"),
			},
			want: "duplicate node name",
		},
		{
			name: "duplicate output",
			nodes: []*pipeline.Node{
				pipeline.NewNode(identity, nil, []string{"a"}, "x"),
				pipeline.NewNode(identity, nil, []string{"a"}, "y"),
			},
			want: "produced by both",
		},
		{
			name: "cycle",
			nodes: []*pipeline.Node{
				pipeline.NewNode(identity, []string{"b"}, []string{"a"}, "x"),
				pipeline.NewNode(identity, []string{"a"}, []string{"b"}, "y"),
			},
			want: "cycle",
		},
		{
			name:  "self loop",
			nodes: []*pipeline.Node{pipeline.NewNode(identity, []string{"a"}, []string{"a"}, "x")},
			want:  "its own output",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.New(tt.nodes...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFilters(t *testing.T) {
	p := planets(t)

	sub, err := p.FromNodes("furthest")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(sub.Nodes()); !reflect.DeepEqual(got, []string{"furthest", "travel_time"}) {
		t.Errorf("from nodes: %v", got)
	}

	sub, err = p.ToNodes("furthest")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(sub.Nodes()); !reflect.DeepEqual(got, []string{"distances", "furthest"}) {
		t.Errorf("to nodes: %v", got)
	}

	sub, err = p.OnlyNodesWithTags("prep")
	if err != nil {
		t.Fatal(err)
	}
	if got := names(sub.Nodes()); !reflect.DeepEqual(got, []string{"distances"}) {
		t.Errorf("tags: %v", got)
	}

	if _, err := p.OnlyNodes("distances", "nope"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("expected missing node error, got %v", err)
	}

	merged, err := pipeline.Merge(sub, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Nodes()) != 3 {
		t.Errorf("merged: %v", names(merged.Nodes()))
	}
}

func TestNodeRun(t *testing.T) {
	n := pipeline.NewNode(func(ctx context.Context, in []any) ([]any, error) {
		return []any{in[0].(int) + in[1].(int)}, nil
	}, []string{"a", "b"}, []string{"c"}, "")

	out, err := n.Run(context.Background(), map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if out["c"] != 3 {
		t.Errorf("got %v", out)
	}
	if _, err := n.Run(context.Background(), map[string]any{"a": 1}); err == nil {
		t.Error("expected missing input error")
	}
	if !strings.HasPrefix(n.ShortName(), "TestNodeRun") {
		t.Errorf("short name derived from func: %q", n.ShortName())
	}

	bad := pipeline.NewNode(identity, []string{"a"}, []string{"x", "y"}, "bad")
	if _, err := bad.Run(context.Background(), map[string]any{"a": 1}); err == nil {
		t.Error("expected output count error")
	}
}

func TestToJSON(t *testing.T) {
	data, err := planets(t).ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Pipeline []struct {
			Name    string   `json:"name"`
			Inputs  []string `json:"inputs"`
			Outputs []string `json:"outputs"`
			Tags    []string `json:"tags"`
		} `json:"pipeline"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != pipeline.StructureVersion || len(doc.Pipeline) != 3 {
		t.Fatalf("doc: %+v", doc)
	}
	if doc.Pipeline[0].Name != "distances" || !reflect.DeepEqual(doc.Pipeline[0].Tags, []string{"prep"}) {
		t.Errorf("first node: %+v", doc.Pipeline[0])
	}
	if !strings.Contains(string(data), `"tags":[]`) {
		t.Errorf("empty tags should encode as []: %s", data)
	}
}
