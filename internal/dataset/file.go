// Package dataset provides file-backed catalog datasets.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/models"
)

const protocolFile = "file"

// fileBase holds what every file dataset shares: the resolved path and the
// load and save arguments as configured.
type fileBase struct {
	path     string
	protocol string
	loadArgs map[string]any
	saveArgs map[string]any
}

func newFileBase(spec catalog.Spec) (fileBase, error) {
	raw := spec.String("filepath")
	if i := strings.Index(raw, "://"); i >= 0 && raw[:i] != protocolFile {
		return fileBase{}, fmt.Errorf("%w: dataset %s: unsupported protocol %q", models.ErrConfig, spec.Name, raw[:i])
	}
	path, err := spec.Path("filepath")
	if err != nil {
		return fileBase{}, err
	}
	return fileBase{
		path:     path,
		protocol: protocolFile,
		loadArgs: spec.Map("load_args"),
		saveArgs: spec.Map("save_args"),
	}, nil
}

// Filepath returns the resolved path of the dataset's file.
func (f *fileBase) Filepath() string {
	return f.path
}

func (f *fileBase) describe() map[string]any {
	d := map[string]any{
		"filepath": f.path,
		"protocol": f.protocol,
		"version":  nil,
	}
	if len(f.loadArgs) > 0 {
		d["load_args"] = f.loadArgs
	}
	if len(f.saveArgs) > 0 {
		d["save_args"] = f.saveArgs
	}
	return d
}

// Exists reports whether the file is present.
func (f *fileBase) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", f.path, err)
	}
	return true, nil
}

func (f *fileBase) read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrDatasetError, f.path, err)
	}
	return data, nil
}

func (f *fileBase) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", models.ErrDatasetError, f.path, err)
	}
	return nil
}

// Extension returns the file extension without the leading dot.
func Extension(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

// Register adds the file dataset types to r.
func Register(r *catalog.Registry) {
	r.Register("TextDataset", func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewTextDataset(spec)
	})
	r.Register("BinaryDataset", func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewBinaryDataset(spec)
	})
	r.Register("CSVDataset", func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewCSVDataset(spec)
	})
	r.Register("JSONDataset", func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewJSONDataset(spec)
	})
	r.Register("YAMLDataset", func(spec catalog.Spec, _ *catalog.Registry) (catalog.Dataset, error) {
		return NewYAMLDataset(spec)
	})
}
