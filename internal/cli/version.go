package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spachava753/kedro-neptune/internal/neptune"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the integration version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			name := rootOpts.Project.Name
			if name == "" {
				name = "kedro-neptune"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, neptune.IntegrationVersion())
		},
	}
}
