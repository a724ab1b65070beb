package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spachava753/kedro-neptune/internal/neptune"
)

const (
	promptAPIToken = "Pass a Neptune API token or press enter if you want to use the $NEPTUNE_API_TOKEN environment variable: "
	promptProject  = "Pass a Neptune project name in the form 'workspace/project' or press enter if you want to use the $NEPTUNE_PROJECT environment variable: "
)

// InitOptions holds flags for the neptune init command.
type InitOptions struct {
	*RootOptions
	ProjectPath   string
	APIToken      string
	Project       string
	BaseNamespace string
	Config        string
}

// NewNeptuneCommand groups the plugin's own commands.
func NewNeptuneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neptune",
		Short: "Commands of the neptune integration",
	}
	cmd.AddCommand(NewInitCommand(rootOpts))
	return cmd
}

// NewInitCommand creates the neptune init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the neptune configuration files of a project",
		Long: `Create conf/local/credentials_neptune.yml, conf/<config>/neptune.yml and
conf/<config>/catalog_neptune.yml. Existing files are left untouched.

The API token and project are asked for when not given as flags; an empty
answer keeps a reference to $NEPTUNE_API_TOKEN or $NEPTUNE_PROJECT.

Example:
  kedro-neptune neptune init --project common/planets
  kedro-neptune neptune init --config staging --base-namespace pipelines`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ProjectPath, "project-path", ".", "project directory")
	cmd.Flags().StringVar(&opts.APIToken, "api-token", "", "API token or the environment variable holding it")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project name or the environment variable holding it")
	cmd.Flags().StringVar(&opts.BaseNamespace, "base-namespace", "kedro", "namespace the pipeline metadata is logged under")
	cmd.Flags().StringVar(&opts.Config, "config", "base", "configuration environment receiving neptune.yml")

	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	token := opts.APIToken
	if !cmd.Flags().Changed("api-token") {
		answer, err := prompt(in, out, promptAPIToken)
		if err != nil {
			return WrapExitError(ExitCommandError, "reading api token", err)
		}
		token = answer
	}
	project := opts.Project
	if !cmd.Flags().Changed("project") {
		answer, err := prompt(in, out, promptProject)
		if err != nil {
			return WrapExitError(ExitCommandError, "reading project", err)
		}
		project = answer
	}

	created, err := neptune.Init(neptune.InitOptions{
		ProjectPath:   opts.ProjectPath,
		APIToken:      token,
		Project:       project,
		BaseNamespace: opts.BaseNamespace,
		Config:        opts.Config,
	})
	for _, path := range created {
		fmt.Fprintf(out, "Created %s\n", path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "initializing project", err)
	}
	if len(created) == 0 {
		fmt.Fprintln(out, "Configuration files already exist, nothing to do")
	}
	return nil
}

// prompt prints msg and reads one line; end of input counts as an empty
// answer.
func prompt(in *bufio.Reader, out io.Writer, msg string) (string, error) {
	fmt.Fprint(out, msg)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF {
		fmt.Fprintln(out)
	}
	return strings.TrimSpace(line), nil
}
