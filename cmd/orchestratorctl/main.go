// orchestratorctl is the orchestrator's operator CLI: submit tasks, render
// a tree, step a manual-hold task, and show which server address it uses,
// speaking to a running orchestratord over its front-door HTTP API. Command
// tree modeled on the teacher's cmd/cobra_cli.go (one subcommand per
// concern, RunE returning wrapped errors) without its interactive-TUI
// styling, which has no analogue in a scriptable control binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cli := &cliContext{}

	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Control client for the task-graph orchestrator",
	}
	root.PersistentFlags().StringVar(&cli.serverAddr, "server", "http://localhost:8080", "orchestratord front-door base URL")

	root.AddCommand(newSubmitCommand(cli))
	root.AddCommand(newTreeCommand(cli))
	root.AddCommand(newStepCommand(cli))
	root.AddCommand(newCancelCommand(cli))
	root.AddCommand(newActiveCommand(cli))
	root.AddCommand(newSettingsCommand(cli))
	root.AddCommand(newConfigCommand(cli))
	root.AddCommand(newVersionCommand())

	return root
}
