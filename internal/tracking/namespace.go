package tracking

import (
	"context"
	"fmt"
)

// Namespace addresses a path inside a run. Child paths compose, so
// ns.Child("x").Child("y") and ns.Child("x/y") are the same location.
// The zero value is not usable.
type Namespace struct {
	run  *Run
	path string
}

// Child returns the namespace at path below n.
func (n Namespace) Child(path string) Namespace {
	return Namespace{run: n.run, path: joinPath(n.path, path)}
}

// Path returns the full path of n inside its run.
func (n Namespace) Path() string {
	return n.path
}

// Run returns the run n belongs to.
func (n Namespace) Run() *Run {
	return n.run
}

// Root returns the top of n's run.
func (n Namespace) Root() Namespace {
	return n.run.Root()
}

// Assign writes value at n. Maps are expanded into one field per leaf;
// other values must be strings, booleans, numbers, string lists or times.
func (n Namespace) Assign(ctx context.Context, value any) error {
	if n.path == "" {
		if _, ok := asStringMap(value); !ok {
			return fmt.Errorf("cannot assign %T to the run root", value)
		}
	}
	return n.run.assign(ctx, n.path, value)
}

// Fetch reads the value at n. A namespace with children is returned as a
// nested map.
func (n Namespace) Fetch(ctx context.Context) (any, error) {
	return n.run.fetch(ctx, n.path)
}

// Exists reports whether anything is stored at n or below it.
func (n Namespace) Exists(ctx context.Context) (bool, error) {
	return n.run.exists(ctx, n.path)
}

// Upload attaches f at n, replacing any earlier file at the same path.
func (n Namespace) Upload(ctx context.Context, f File) error {
	return n.run.do(ctx, n.path, func(ctx context.Context) error {
		return n.run.store.PutFile(ctx, n.run.info.ID, n.path, f)
	})
}

// Download returns the file attached at n.
func (n Namespace) Download(ctx context.Context) (File, error) {
	if err := n.run.Sync(ctx); err != nil {
		return File{}, err
	}
	return n.run.store.GetFile(ctx, n.run.info.ID, n.path)
}

// Append adds a value to the float series at n.
func (n Namespace) Append(ctx context.Context, value float64) error {
	p := Point{Value: value, Timestamp: now()}
	return n.run.do(ctx, n.path, func(ctx context.Context) error {
		return n.run.store.AppendPoint(ctx, n.run.info.ID, n.path, p)
	})
}

// FetchValues returns the points of the float series at n.
func (n Namespace) FetchValues(ctx context.Context) ([]Point, error) {
	if err := n.run.Sync(ctx); err != nil {
		return nil, err
	}
	return n.run.store.Points(ctx, n.run.info.ID, n.path)
}

// Sync waits for the run's pending writes.
func (n Namespace) Sync(ctx context.Context) error {
	return n.run.Sync(ctx)
}
