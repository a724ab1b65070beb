package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spachava753/kedro-neptune/internal/catalog"
	"github.com/spachava753/kedro-neptune/internal/config"
	"github.com/spachava753/kedro-neptune/internal/models"
	"github.com/spachava753/kedro-neptune/internal/neptune"
	"github.com/spachava753/kedro-neptune/internal/runner"
	"github.com/spachava753/kedro-neptune/internal/session"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ProjectPath string
	Env         string
	Pipeline    string
	Runner      string
	Workers     int
	Params      string
	FromNodes   []string
	ToNodes     []string
	Nodes       []string
	Tags        []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline of the project",
		Long: `Run a registered pipeline with the neptune hooks installed.

Configuration is read from <project-path>/conf/base overlaid with the
selected environment.

Example:
  kedro-neptune run --project-path examples/planets
  kedro-neptune run --runner parallel --workers 4 --params travel_speed=20000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProjectPath, "project-path", ".", "project directory")
	cmd.Flags().StringVarP(&opts.Env, "env", "e", "", "configuration environment (default $KEDRO_ENV or local)")
	cmd.Flags().StringVarP(&opts.Pipeline, "pipeline", "p", session.DefaultPipeline, "name of the pipeline to run")
	cmd.Flags().StringVarP(&opts.Runner, "runner", "r", "sequential", "runner: sequential or parallel")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "parallel runner workers (default number of CPUs)")
	cmd.Flags().StringVar(&opts.Params, "params", "", "extra parameters as key=value pairs separated by commas")
	cmd.Flags().StringSliceVar(&opts.FromNodes, "from-nodes", nil, "run from these nodes onwards")
	cmd.Flags().StringSliceVar(&opts.ToNodes, "to-nodes", nil, "run up to these nodes")
	cmd.Flags().StringSliceVarP(&opts.Nodes, "nodes", "n", nil, "run only these nodes")
	cmd.Flags().StringSliceVarP(&opts.Tags, "tags", "t", nil, "run only nodes with these tags")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	projectPath, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving project path", err)
	}
	extra, err := session.ParseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "parsing --params", err)
	}

	loader := config.NewLoader(projectPath, opts.Env)
	hooks := neptune.NewHooks(neptune.HookOptions{
		LoadConfig:  func() (models.NeptuneConfig, error) { return config.LoadNeptuneConfig(loader) },
		ProjectPath: projectPath,
	})

	s, err := session.Create(session.Options{
		ProjectPath:  projectPath,
		Env:          opts.Env,
		ExtraParams:  extra,
		Pipelines:    opts.Project.Pipelines,
		Hooks:        []runner.Hooks{hooks},
		DatasetTypes: []func(*catalog.Registry){neptune.RegisterDatasets},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "creating session", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("interrupt received, shutting down gracefully...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err = s.Run(ctx, session.RunOptions{
		Pipeline:  opts.Pipeline,
		Runner:    opts.Runner,
		Workers:   opts.Workers,
		FromNodes: opts.FromNodes,
		ToNodes:   opts.ToNodes,
		NodeNames: opts.Nodes,
		Tags:      opts.Tags,
	})
	switch {
	case err == nil:
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s completed (session %s, run %s)\n", opts.Pipeline, s.ID(), hooks.RunID())
		return nil
	case errors.Is(err, models.ErrConfig):
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	default:
		return WrapExitError(ExitFailure, "pipeline failed", err)
	}
}
