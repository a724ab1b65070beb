package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spachava753/kedro-neptune/examples/planets"
	"github.com/spachava753/kedro-neptune/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(cli.Project{Name: planets.Name, Pipelines: planets.Pipelines})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
