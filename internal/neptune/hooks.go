// Package neptune mirrors pipeline lifecycle metadata into a tracked run.
package neptune

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/config"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/monitoring"
	"github.com/spachava753/kedro-neptune/internal/pipeline"
	"github.com/spachava753/kedro-neptune/internal/runner"
	"github.com/spachava753/kedro-neptune/internal/tracking"
)

// ConfigLoader resolves the plugin configuration.
type ConfigLoader func() (models.NeptuneConfig, error)

// HookOptions carries everything the hooks need from their environment.
type HookOptions struct {
	LoadConfig  ConfigLoader
	ProjectPath string
	// Command is the command line the pipeline was started with, os.Args
	// by default.
	Command []string

	Now     func() time.Time
	GitSHA  GitSHAFunc
	OpenRun RunOpener
	// Store is shared by every connection the hooks open. When nil the
	// hooks open one according to the configured mode.
	Store tracking.Store

	MonitorInterval time.Duration
	Sample          monitoring.SampleFunc
}

// Hooks mirrors pipeline events into a run. One Hooks value serves one
// session; node events may arrive from several goroutines.
type Hooks struct {
	opts HookOptions

	cfgOnce sync.Once
	cfg     models.NeptuneConfig
	cfgErr  error

	runID string

	mu         sync.Mutex
	timers     map[string]time.Time
	monitors   map[string]*monitoring.Monitor
	store      tracking.Store
	ownsStore  bool
	run        *tracking.Run
	runDataset *RunDataset
}

var _ runner.Hooks = (*Hooks)(nil)

// NewHooks returns hooks configured by opts. LoadConfig is required.
func NewHooks(opts HookOptions) *Hooks {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GitSHA == nil {
		opts.GitSHA = ResolveGitSHA
	}
	if opts.OpenRun == nil {
		opts.OpenRun = tracking.Init
	}
	if opts.Command == nil {
		opts.Command = os.Args
	}
	return &Hooks{
		opts:     opts,
		timers:   make(map[string]time.Time),
		monitors: make(map[string]*monitoring.Monitor),
	}
}

// RunIdentifier derives the custom run id from a session id.
func RunIdentifier(sessionID string) string {
	sum := blake3.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}

// RunID returns the custom run id computed in AfterCatalogCreated.
func (h *Hooks) RunID() string {
	return h.runID
}

func (h *Hooks) config() (models.NeptuneConfig, error) {
	h.cfgOnce.Do(func() {
		if h.opts.LoadConfig == nil {
			h.cfgErr = fmt.Errorf("%w: no neptune configuration loader", models.ErrConfig)
			return
		}
		h.cfg, h.cfgErr = h.opts.LoadConfig()
		if h.cfgErr == nil {
			h.cfg.StorePath = config.ResolveStorePath(h.cfg, h.opts.ProjectPath)
		}
	})
	return h.cfg, h.cfgErr
}

func (h *Hooks) openStore(cfg models.NeptuneConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store != nil {
		return nil
	}
	if h.opts.Store != nil {
		h.store = h.opts.Store
		return nil
	}
	if cfg.ConnectionMode() == models.ModeDebug {
		h.store = tracking.NewMemoryStore()
	} else {
		store, err := tracking.OpenSQLiteStore(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		h.store = store
	}
	h.ownsStore = true
	return nil
}

// AfterCatalogCreated derives the run identifier and registers the run
// dataset under RunDatasetName.
func (h *Hooks) AfterCatalogCreated(ctx context.Context, c *catalog.Catalog, sessionID string) error {
	h.runID = RunIdentifier(sessionID)

	cfg, err := h.config()
	if err != nil {
		return err
	}

	if cfg.Enabled {
		os.Setenv(tracking.EnvCustomRunID, h.runID)
		if err := h.openStore(cfg); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.runDataset = NewRunDataset(cfg, h.runID, h.store, h.opts.OpenRun)
	h.mu.Unlock()

	return c.Add(RunDatasetName, h.runDataset, true)
}

// BeforePipelineRun opens the run and writes the command, run parameters,
// git commit, catalog snapshot and pipeline structure.
func (h *Hooks) BeforePipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	cfg, err := h.config()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	if err := h.openStore(cfg); err != nil {
		return err
	}

	run, err := h.opts.OpenRun(ctx, tracking.Options{
		APIToken:    cfg.APIToken,
		Project:     cfg.Project,
		CustomRunID: h.runID,
		Mode:        cfg.ConnectionMode(),
		Store:       h.store,
		StorePath:   cfg.StorePath,
		SourceFiles: cfg.SourceFiles,
		SourceRoot:  h.opts.ProjectPath,
	})
	if err != nil {
		return fmt.Errorf("opening run: %w", err)
	}
	h.mu.Lock()
	h.run = run
	h.mu.Unlock()

	slog.Info("tracking pipeline run", "run", run.Info().ID, "custom_run_id", h.runID, "resumed", run.Info().Resumed)

	if err := run.Namespace(IntegrationVersionKey).Assign(ctx, IntegrationVersion()); err != nil {
		return err
	}

	ns := run.Namespace(cfg.BaseNamespace)
	if err := LogCommand(ctx, ns, h.opts.Command); err != nil {
		return fmt.Errorf("logging command: %w", err)
	}
	if err := LogRunParams(ctx, ns, params.ToMap()); err != nil {
		return fmt.Errorf("logging run params: %w", err)
	}
	if err := LogGitSHA(ctx, ns, h.opts.GitSHA, h.opts.ProjectPath); err != nil {
		slog.Warn("logging git commit failed", "error", err)
	}
	if err := LogDataCatalogMetadata(ctx, ns, c, cfg.MaxFileSize); err != nil {
		return fmt.Errorf("logging catalog: %w", err)
	}
	if err := LogPipelineMetadata(ctx, ns, p); err != nil {
		return fmt.Errorf("logging pipeline: %w", err)
	}
	return nil
}

func loadNamespace(ctx context.Context, c *catalog.Catalog) (tracking.Namespace, error) {
	v, err := c.Load(ctx, RunDatasetName)
	if err != nil {
		return tracking.Namespace{}, err
	}
	ns, ok := v.(tracking.Namespace)
	if !ok {
		return tracking.Namespace{}, fmt.Errorf("%s: expected a run namespace, got %T", RunDatasetName, v)
	}
	return ns, nil
}

// BeforeNodeRun records the node's inputs and parameters and starts its
// timer and, when enabled, hardware monitoring.
func (h *Hooks) BeforeNodeRun(ctx context.Context, n *pipeline.Node, inputs map[string]any, c *catalog.Catalog) error {
	cfg, err := h.config()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	ns, err := loadNamespace(ctx, c)
	if err != nil {
		return err
	}
	name := n.ShortName()
	nodeNS := ns.Child("nodes").Child(name)

	if len(inputs) > 0 {
		if err := nodeNS.Child("inputs").Assign(ctx, sortedKeys(inputs)); err != nil {
			return err
		}
	}
	for input, value := range inputs {
		param, ok := strings.CutPrefix(input, catalog.ParamsPrefix)
		if !ok {
			continue
		}
		if err := nodeNS.Child("parameters").Child(param).Assign(ctx, tracking.StringifyUnsupported(value)); err != nil {
			return fmt.Errorf("logging parameter %s: %w", param, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.timers[name] = h.opts.Now()
	if cfg.CaptureHardwareMetrics && h.run != nil {
		if old := h.monitors[name]; old != nil {
			old.Stop()
		}
		h.monitors[name] = monitoring.Start(ctx, h.run.MonitoringNamespace().Child("nodes").Child(name), monitoring.Options{
			Interval: h.opts.MonitorInterval,
			Sample:   h.opts.Sample,
		})
	}
	return nil
}

// AfterNodeRun records the node's execution time and outputs, snapshots
// the catalog and releases the run dataset. It fails with ErrTimerMissing
// when BeforeNodeRun was not called for the node.
func (h *Hooks) AfterNodeRun(ctx context.Context, n *pipeline.Node, outputs map[string]any, c *catalog.Catalog) error {
	cfg, err := h.config()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	name := n.ShortName()
	h.mu.Lock()
	start, ok := h.timers[name]
	delete(h.timers, name)
	monitor := h.monitors[name]
	delete(h.monitors, name)
	h.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrTimerMissing, name)
	}
	elapsed := h.opts.Now().Sub(start).Seconds()

	ns, err := loadNamespace(ctx, c)
	if err != nil {
		return err
	}
	nodeNS := ns.Child("nodes").Child(name)
	if err := nodeNS.Child("execution_time").Assign(ctx, elapsed); err != nil {
		return err
	}
	if len(outputs) > 0 {
		if err := nodeNS.Child("outputs").Assign(ctx, sortedKeys(outputs)); err != nil {
			return err
		}
	}

	if err := LogDataCatalogMetadata(ctx, ns, c, cfg.MaxFileSize); err != nil {
		return fmt.Errorf("logging catalog: %w", err)
	}
	if err := ns.Sync(ctx); err != nil {
		return err
	}
	return c.Release(ctx, RunDatasetName)
}

// AfterPipelineRun takes a final catalog snapshot, flushes and closes the
// run.
func (h *Hooks) AfterPipelineRun(ctx context.Context, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	cfg, err := h.config()
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	ns, err := loadNamespace(ctx, c)
	if err == nil {
		err = LogDataCatalogMetadata(ctx, ns, c, cfg.MaxFileSize)
	}
	if err == nil {
		err = ns.Sync(ctx)
	}
	return errors.Join(err, h.finish(ctx))
}

// OnPipelineError records the failure under <base>/error and closes the
// run. The record is written even when ctx is already cancelled.
func (h *Hooks) OnPipelineError(ctx context.Context, runErr error, params models.RunParams, p *pipeline.Pipeline, c *catalog.Catalog) error {
	ctx = context.WithoutCancel(ctx)
	cfg, err := h.config()
	if err != nil || !cfg.Enabled {
		return nil
	}

	h.mu.Lock()
	run := h.run
	h.mu.Unlock()

	if run != nil {
		ns := run.Namespace(cfg.BaseNamespace)
		err = ns.Child("error").Assign(ctx, runErr.Error())
		if err == nil {
			err = run.Sync(ctx)
		}
	}
	return errors.Join(err, h.finish(ctx))
}

// finish stops monitors and closes every connection and the store the
// hooks opened.
func (h *Hooks) finish(ctx context.Context) error {
	h.mu.Lock()
	monitors := h.monitors
	h.monitors = make(map[string]*monitoring.Monitor)
	run, rd := h.run, h.runDataset
	h.run = nil
	store, owns := h.store, h.ownsStore
	h.store, h.ownsStore = nil, false
	h.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}

	var errs []error
	if rd != nil {
		errs = append(errs, rd.Close(ctx))
	}
	if run != nil {
		errs = append(errs, run.Close(ctx))
	}
	if owns && store != nil {
		errs = append(errs, store.Close())
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
