package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/spachava753/kedro-neptune/internal/models"
)

// Environment variables consulted when the matching option is empty.
const (
	EnvAPIToken            = "NEPTUNE_API_TOKEN"
	EnvProject             = "NEPTUNE_PROJECT"
	EnvCustomRunID         = "NEPTUNE_CUSTOM_RUN_ID"
	EnvMonitoringNamespace = "NEPTUNE_MONITORING_NAMESPACE"
	EnvMode                = "NEPTUNE_MODE"
)

const (
	defaultMonitoringNamespace = "monitoring"
	sourceFilesNamespace       = "source_code/files"
	asyncQueueSize             = 1024
)

// Options configures Init.
type Options struct {
	APIToken    string
	Project     string
	CustomRunID string
	Mode        string

	// Store overrides the backend. When nil, debug mode uses a fresh
	// MemoryStore and every other mode opens the SQLite file at StorePath.
	// A provided store is not closed with the run.
	Store     Store
	StorePath string

	// SourceFiles are doublestar patterns relative to SourceRoot, uploaded
	// under source_code/files when the run is created.
	SourceFiles []string
	SourceRoot  string

	MonitoringNamespace string
}

func (o *Options) applyEnv() {
	if o.APIToken == "" {
		o.APIToken = os.Getenv(EnvAPIToken)
	}
	if o.Project == "" {
		o.Project = os.Getenv(EnvProject)
	}
	if o.CustomRunID == "" {
		o.CustomRunID = os.Getenv(EnvCustomRunID)
	}
	if o.Mode == "" {
		o.Mode = os.Getenv(EnvMode)
	}
	if o.Mode == "" {
		o.Mode = models.ModeAsync
	}
	if o.MonitoringNamespace == "" {
		o.MonitoringNamespace = os.Getenv(EnvMonitoringNamespace)
	}
	if o.MonitoringNamespace == "" {
		o.MonitoringNamespace = defaultMonitoringNamespace
	}
}

// Run is an open handle on a tracked run. Writes go straight to the store
// in sync, offline and debug modes; in async mode they are queued and
// applied in order by a background goroutine, and Sync waits for the queue
// to drain.
type Run struct {
	info       models.RunInfo
	store      Store
	ownsStore  bool
	monitoring string

	mu     sync.RWMutex
	closed bool
	paths  map[string]struct{} // every path (and ancestor) written by this handle

	queue    chan func(context.Context)
	done     chan struct{}
	errMu    sync.Mutex
	asyncErr error
}

// Init opens a run. With a custom run id the run is resumed when the store
// already knows it.
func Init(ctx context.Context, opts Options) (*Run, error) {
	opts.applyEnv()

	switch opts.Mode {
	case models.ModeAsync, models.ModeSync, models.ModeOffline, models.ModeDebug:
	default:
		return nil, fmt.Errorf("unsupported connection mode %q", opts.Mode)
	}
	if opts.Mode != models.ModeDebug && opts.Mode != models.ModeOffline && opts.APIToken == "" {
		return nil, fmt.Errorf("%w: set %s or pass a token", models.ErrMissingToken, EnvAPIToken)
	}

	store := opts.Store
	owns := false
	if store == nil {
		var err error
		store, err = openStore(opts)
		if err != nil {
			return nil, err
		}
		owns = true
	}

	info, err := store.OpenRun(ctx, RunRequest{
		Project:     opts.Project,
		CustomRunID: opts.CustomRunID,
		Mode:        opts.Mode,
	})
	if err != nil {
		if owns {
			store.Close()
		}
		return nil, fmt.Errorf("opening run: %w", err)
	}

	r := &Run{
		info:       info,
		store:      store,
		ownsStore:  owns,
		monitoring: opts.MonitoringNamespace,
		paths:      make(map[string]struct{}),
	}

	if opts.Mode == models.ModeAsync {
		r.queue = make(chan func(context.Context), asyncQueueSize)
		r.done = make(chan struct{})
		go r.drain()
	}

	slog.Debug("opened run",
		"id", info.ID,
		"custom_run_id", info.CustomRunID,
		"project", info.Project,
		"mode", opts.Mode,
		"resumed", info.Resumed)

	if !info.Resumed && len(opts.SourceFiles) > 0 {
		if err := r.uploadSourceFiles(ctx, opts.SourceRoot, opts.SourceFiles); err != nil {
			r.Close(ctx)
			return nil, err
		}
	}

	return r, nil
}

func openStore(opts Options) (Store, error) {
	if opts.Mode == models.ModeDebug {
		return NewMemoryStore(), nil
	}
	path := opts.StorePath
	if path == "" {
		path = filepath.Join(".neptune", "runs.db")
	}
	return OpenSQLiteStore(path)
}

// Info returns the run's identity.
func (r *Run) Info() models.RunInfo {
	return r.info
}

// Namespace returns a handle on path inside the run.
func (r *Run) Namespace(path string) Namespace {
	return Namespace{run: r, path: joinPath(path)}
}

// Root returns the namespace at the top of the run.
func (r *Run) Root() Namespace {
	return Namespace{run: r}
}

// MonitoringNamespace returns the namespace hardware metrics are written to.
func (r *Run) MonitoringNamespace() Namespace {
	return r.Namespace(r.monitoring)
}

// do applies op now, or queues it in async mode.
func (r *Run) do(ctx context.Context, path string, op func(context.Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return models.ErrRunClosed
	}
	for _, p := range ancestors(path) {
		r.paths[p] = struct{}{}
	}
	r.mu.Unlock()

	if r.queue == nil {
		return op(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return models.ErrRunClosed
	}
	r.queue <- func(ctx context.Context) {
		if err := op(ctx); err != nil {
			slog.Warn("async operation failed", "run", r.info.ID, "path", path, "error", err)
			r.errMu.Lock()
			if r.asyncErr == nil {
				r.asyncErr = err
			}
			r.errMu.Unlock()
		}
	}
	return nil
}

func (r *Run) drain() {
	defer close(r.done)
	for op := range r.queue {
		op(context.Background())
	}
}

func (r *Run) assign(ctx context.Context, path string, value any) error {
	fields, err := flatten(path, value)
	if err != nil {
		return err
	}
	return r.do(ctx, path, func(ctx context.Context) error {
		for _, f := range fields {
			if err := r.store.PutField(ctx, r.info.ID, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Run) fetch(ctx context.Context, path string) (any, error) {
	if err := r.Sync(ctx); err != nil {
		return nil, err
	}
	fields, err := r.store.Fields(ctx, r.info.ID, path)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", path, models.ErrPathNotFound)
	}
	if len(fields) == 1 && fields[0].Path == path {
		return decodeValue(fields[0].Kind, fields[0].Data)
	}
	return buildTree(path, fields)
}

// buildTree rebuilds the nested mapping of fields stored below root.
func buildTree(root string, fields []Field) (map[string]any, error) {
	tree := make(map[string]any)
	for _, f := range fields {
		if f.Path == root {
			continue
		}
		rel := f.Path
		if root != "" {
			rel = f.Path[len(root)+1:]
		}
		v, err := decodeValue(f.Kind, f.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", f.Path, err)
		}
		segs := splitPath(rel)
		node := tree
		for _, seg := range segs[:len(segs)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[seg] = child
			}
			node = child
		}
		node[segs[len(segs)-1]] = v
	}
	return tree, nil
}

func (r *Run) exists(ctx context.Context, path string) (bool, error) {
	r.mu.RLock()
	_, ok := r.paths[path]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return true, nil
	}
	if closed {
		return false, models.ErrRunClosed
	}
	return r.store.Exists(ctx, r.info.ID, path)
}

// Exists reports whether anything was written at path or below it, by this
// handle or by any earlier handle on the same run.
func (r *Run) Exists(ctx context.Context, path string) (bool, error) {
	return r.exists(ctx, joinPath(path))
}

// Sync blocks until every queued write has been applied and returns the
// first error an async write hit since the previous Sync.
func (r *Run) Sync(ctx context.Context) error {
	r.mu.RLock()
	if r.queue == nil || r.closed {
		r.mu.RUnlock()
		return nil
	}
	barrier := make(chan struct{})
	r.queue <- func(context.Context) { close(barrier) }
	r.mu.RUnlock()

	select {
	case <-barrier:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.errMu.Lock()
	defer r.errMu.Unlock()
	err := r.asyncErr
	r.asyncErr = nil
	return err
}

// Close flushes pending writes and releases the store if the run opened it.
// Closing twice is a no-op.
func (r *Run) Close(ctx context.Context) error {
	syncErr := r.Sync(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	if r.done != nil {
		<-r.done
	}

	slog.Debug("closed run", "id", r.info.ID)

	if r.ownsStore {
		if err := r.store.Close(); err != nil {
			return fmt.Errorf("closing run store: %w", err)
		}
	}
	return syncErr
}

func (r *Run) uploadSourceFiles(ctx context.Context, root string, patterns []string) error {
	if root == "" {
		root = "."
	}
	fsys := os.DirFS(root)

	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("matching source files %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true

			f, err := FileFromPath(filepath.Join(root, m))
			if err != nil {
				return err
			}
			if err := r.Namespace(sourceFilesNamespace).Child(m).Upload(ctx, f); err != nil {
				return fmt.Errorf("uploading source file %s: %w", m, err)
			}
		}
	}

	slog.Debug("uploaded source files", "run", r.info.ID, "count", len(seen))
	return nil
}

// now is swapped in tests.
var now = time.Now
