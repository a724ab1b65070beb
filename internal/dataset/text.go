package dataset

import (
	"context"
	"fmt"

	"github.com/spachava753/kedro-neptune/internal/catalog"
)

// TextDataset loads a file as a string.
type TextDataset struct {
	fileBase
}

func NewTextDataset(spec catalog.Spec) (*TextDataset, error) {
	base, err := newFileBase(spec)
	if err != nil {
		return nil, err
	}
	return &TextDataset{fileBase: base}, nil
}

func (d *TextDataset) Load(ctx context.Context) (any, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (d *TextDataset) Save(ctx context.Context, data any) error {
	switch v := data.(type) {
	case string:
		return d.write([]byte(v))
	case []byte:
		return d.write(v)
	default:
		return fmt.Errorf("TextDataset: cannot save %T", data)
	}
}

func (d *TextDataset) Describe() (map[string]any, error) {
	return d.describe(), nil
}

// BinaryDataset loads a file as raw bytes.
type BinaryDataset struct {
	fileBase
}

func NewBinaryDataset(spec catalog.Spec) (*BinaryDataset, error) {
	base, err := newFileBase(spec)
	if err != nil {
		return nil, err
	}
	return &BinaryDataset{fileBase: base}, nil
}

func (d *BinaryDataset) Load(ctx context.Context) (any, error) {
	return d.read()
}

func (d *BinaryDataset) Save(ctx context.Context, data any) error {
	switch v := data.(type) {
	case []byte:
		return d.write(v)
	case string:
		return d.write([]byte(v))
	default:
		return fmt.Errorf("BinaryDataset: cannot save %T", data)
	}
}

// Describe adds the file extension to the common file fields.
func (d *BinaryDataset) Describe() (map[string]any, error) {
	desc := d.describe()
	desc["extension"] = Extension(d.path)
	return desc, nil
}
