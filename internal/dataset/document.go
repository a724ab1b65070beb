package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spachava753/kedro-neptune/internal/catalog"
)

// JSONDataset loads and saves a JSON document. save_args accepts "indent"
// (number of spaces, default 2).
type JSONDataset struct {
	fileBase
}

func NewJSONDataset(spec catalog.Spec) (*JSONDataset, error) {
	base, err := newFileBase(spec)
	if err != nil {
		return nil, err
	}
	return &JSONDataset{fileBase: base}, nil
}

func (d *JSONDataset) Load(ctx context.Context) (any, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", d.path, err)
	}
	return v, nil
}

func (d *JSONDataset) Save(ctx context.Context, data any) error {
	indent := 2
	switch n := d.saveArgs["indent"].(type) {
	case int:
		indent = n
	case float64:
		indent = int(n)
	}

	var out []byte
	var err error
	if indent > 0 {
		out, err = json.MarshalIndent(data, "", fmt.Sprintf("%*s", indent, ""))
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.path, err)
	}
	return d.write(append(out, '\n'))
}

func (d *JSONDataset) Describe() (map[string]any, error) {
	return d.describe(), nil
}

// YAMLDataset loads and saves a YAML document.
type YAMLDataset struct {
	fileBase
}

func NewYAMLDataset(spec catalog.Spec) (*YAMLDataset, error) {
	base, err := newFileBase(spec)
	if err != nil {
		return nil, err
	}
	return &YAMLDataset{fileBase: base}, nil
}

func (d *YAMLDataset) Load(ctx context.Context) (any, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", d.path, err)
	}
	return v, nil
}

func (d *YAMLDataset) Save(ctx context.Context, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.path, err)
	}
	return d.write(out)
}

func (d *YAMLDataset) Describe() (map[string]any, error) {
	return d.describe(), nil
}
