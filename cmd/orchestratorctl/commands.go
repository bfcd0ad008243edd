package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(cli *cliContext) *cobra.Command {
	var parentID int64
	var processName, priority, agent string

	cmd := &cobra.Command{
		Use:   "submit <instruction>",
		Short: "Submit a new task (a tree root unless --parent is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"instruction":    args[0],
				"process":        processName,
				"priority":       priority,
				"assigned_agent": agent,
			}
			if parentID != 0 {
				req["parent_id"] = parentID
			}
			var resp map[string]any
			if err := cli.doJSON(cmd.Context(), "POST", "/api/v1/tasks", req, &resp); err != nil {
				return err
			}
			fmt.Printf("task_id=%v\n", resp["task_id"])
			return nil
		},
	}
	cmd.Flags().Int64Var(&parentID, "parent", 0, "parent task id (omit for a new tree root)")
	cmd.Flags().StringVar(&processName, "process", "", "process to assign (defaults to neutral_task)")
	cmd.Flags().StringVar(&priority, "priority", "", "scheduling priority hint")
	cmd.Flags().StringVar(&agent, "agent", "", "agent name to assign directly")
	return cmd
}

func newTreeCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <tree-id>",
		Short: "Render every task in a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := cli.doJSON(cmd.Context(), "GET", "/api/v1/trees/"+args[0], nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newStepCommand(cli *cliContext) *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "step <task-id>",
		Short: "Advance, skip, or abort a manual-hold task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			body := map[string]any{"action": action}
			if err := cli.doJSON(cmd.Context(), "POST", "/api/v1/tasks/"+args[0]+"/step", body, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&action, "action", "continue", "step action: continue, skip, or abort")
	return cmd
}

func newCancelCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <tree-id>",
		Short: "Cancel every non-terminal task in a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := cli.doJSON(cmd.Context(), "POST", "/api/v1/trees/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newActiveCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List active tasks and runtime statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := cli.doJSON(cmd.Context(), "GET", "/api/v1/tasks/active", nil, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newSettingsCommand(cli *cliContext) *cobra.Command {
	var scope string
	var targetID int64
	var enable bool

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Update a runtime setting (currently: manual stepping)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"scope": scope, "target_id": targetID, "manual_stepping": enable}
			var resp map[string]any
			if err := cli.doJSON(cmd.Context(), "PUT", "/api/v1/settings", req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "global", "task, tree, or global")
	cmd.Flags().Int64Var(&targetID, "target", 0, "task or tree id (ignored for global scope)")
	cmd.Flags().BoolVar(&enable, "manual-stepping", true, "enable manual stepping at the given scope")
	return cmd
}

func newConfigCommand(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the CLI's connection settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("server: %s\n", cli.serverAddr)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("orchestratorctl (task-graph orchestrator control client)")
			return nil
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
