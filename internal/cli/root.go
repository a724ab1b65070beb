// Package cli implements the kedro-neptune command line.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spachava753/kedro-neptune/internal/session"
)

// Project is the pipeline project compiled into the binary.
type Project struct {
	Name      string
	Pipelines session.PipelineRegistry
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Project Project
}

// NewRootCommand creates the root command for a project.
func NewRootCommand(project Project) *cobra.Command {
	opts := &RootOptions{Project: project}

	cmd := &cobra.Command{
		Use:   "kedro-neptune",
		Short: "Run pipelines and mirror their metadata into a tracked run",
		Long: `Run data pipelines and log their parameters, datasets, node timings,
hardware usage and source code to a tracked run.

Run 'kedro-neptune neptune init' inside a project to create the
configuration files, then 'kedro-neptune run'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.Verbose)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewNeptuneCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
