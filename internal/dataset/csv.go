package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/config"
)

// CSVDataset loads a delimited file into a *Table. The first row is the
// header. load_args and save_args accept "sep"; save_args also accepts
// "header" (default true). Other arguments are kept for the descriptor.
type CSVDataset struct {
	fileBase
}

func NewCSVDataset(spec catalog.Spec) (*CSVDataset, error) {
	base, err := newFileBase(spec)
	if err != nil {
		return nil, err
	}
	for _, args := range []map[string]any{base.loadArgs, base.saveArgs} {
		if _, err := separator(args); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", spec.Name, err)
		}
	}
	return &CSVDataset{fileBase: base}, nil
}

func separator(args map[string]any) (rune, error) {
	sep, ok := args["sep"].(string)
	if !ok || sep == "" {
		return ',', nil
	}
	if utf8.RuneCountInString(sep) != 1 {
		return 0, fmt.Errorf("sep must be a single character, got %q", sep)
	}
	r, _ := utf8.DecodeRuneInString(sep)
	return r, nil
}

func (d *CSVDataset) Load(ctx context.Context) (any, error) {
	data, err := d.read()
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma, _ = separator(d.loadArgs)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", d.path, err)
	}

	t := &Table{}
	if len(records) > 0 {
		t.Columns = records[0]
		t.Rows = records[1:]
	}
	return t, nil
}

func (d *CSVDataset) Save(ctx context.Context, data any) error {
	var t *Table
	switch v := data.(type) {
	case *Table:
		t = v
	case Table:
		t = &v
	case [][]string:
		if len(v) > 0 {
			t = &Table{Columns: v[0], Rows: v[1:]}
		} else {
			t = &Table{}
		}
	default:
		return fmt.Errorf("CSVDataset: cannot save %T", data)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma, _ = separator(d.saveArgs)
	header, ok := d.saveArgs["header"]
	if !ok || config.EnsureBool(header) {
		w.Write(t.Columns)
	}
	w.WriteAll(t.Rows)
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding %s: %w", d.path, err)
	}
	return d.write(buf.Bytes())
}

func (d *CSVDataset) Describe() (map[string]any, error) {
	return d.describe(), nil
}
