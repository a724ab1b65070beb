// Package catalog holds the named datasets a pipeline reads from and writes
// to, and builds them from catalog configuration documents.
package catalog

import (
	"context"
	"reflect"
)

// Dataset is a named source or sink of node data.
type Dataset interface {
	Load(ctx context.Context) (any, error)
	Save(ctx context.Context, data any) error
	Exists(ctx context.Context) (bool, error)
}

// Describable datasets report the fields that identify them: file path,
// protocol, save arguments and the like.
type Describable interface {
	Describe() (map[string]any, error)
}

// Artifact datasets have their content uploaded as files when the catalog
// is mirrored.
type Artifact interface {
	IsArtifact() bool
}

// Releaser datasets drop cached state when the runner no longer needs them.
type Releaser interface {
	Release(ctx context.Context) error
}

// Named datasets override the type name reported in descriptors.
type Named interface {
	TypeName() string
}

// TypeName returns the name a dataset is reported under: its TypeName when
// it has one, otherwise the name of its Go type.
func TypeName(ds Dataset) string {
	if n, ok := ds.(Named); ok {
		return n.TypeName()
	}
	t := reflect.TypeOf(ds)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// IsArtifact reports whether ds is flagged for file upload.
func IsArtifact(ds Dataset) bool {
	a, ok := ds.(Artifact)
	return ok && a.IsArtifact()
}
