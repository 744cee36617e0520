package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskwatch/internal/ipc"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var ref string
	var identifier string
	var delayMS int

	cmd := &cobra.Command{
		Use:   "start LABEL [LABEL...]",
		Short: "Create tasks for the given labels and trigger their downloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && (ref != "" || identifier != "") {
				return errors.New("--ref and --identifier apply to a single label only")
			}
			targets := make([]ipc.TargetSpec, 0, len(args))
			for _, label := range args {
				targets = append(targets, ipc.TargetSpec{
					Ref:        ref,
					Label:      label,
					Identifier: identifier,
				})
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartTasks(targets, delayMS)
				if err != nil {
					return err
				}
				for i, id := range resp.TaskIDs {
					fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s)\n", args[i], id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Origin reference to trigger (single label only)")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Unique identifier expected in the download name (single label only)")
	cmd.Flags().IntVar(&delayMS, "delay-ms", 0, "Delay between triggers in milliseconds (0 uses the configured default)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var delayMS int

	cmd := &cobra.Command{
		Use:   "retry TASK_ID [TASK_ID...]",
		Short: "Reset failed tasks and trigger them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RetryTasks(args, delayMS)
				if err != nil {
					return err
				}
				if len(resp.Retried) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no failed tasks retried")
					return nil
				}
				for _, id := range resp.Retried {
					fmt.Fprintf(cmd.OutOrStdout(), "retried %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&delayMS, "delay-ms", 0, "Delay between triggers in milliseconds (0 uses the configured default)")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "daemon: running=%t pid=%d\n", resp.Running, resp.PID)
				fmt.Fprintf(out, "database: %s\n", resp.DatabasePath)
				if resp.UnmatchedEvents > 0 {
					fmt.Fprintf(out, "unmatched events: %d\n", resp.UnmatchedEvents)
				}
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(out, "no tasks")
					return nil
				}
				headers := []string{"ID", "Label", "State", "Progress", "Detail"}
				rows := make([][]string, 0, len(resp.Tasks))
				for _, t := range resp.Tasks {
					rows = append(rows, []string{
						shortID(t.ID),
						t.Label,
						t.State,
						strconv.Itoa(t.Progress) + "%",
						taskDetail(t),
					})
				}
				fmt.Fprintln(out, renderTaskTable(out, headers, rows))
				return nil
			})
		},
	}
}

func newClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove completed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearCompleted()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d completed tasks\n", len(resp.Removed))
				return nil
			})
		},
	}
}

func newPingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ping()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "daemon alive (pid %d)\n", resp.PID)
				return nil
			})
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func taskDetail(t ipc.TaskView) string {
	detail := t.Detail
	if t.FallbackBound {
		if detail != "" {
			detail += " "
		}
		detail += "(fallback bind)"
	}
	return strings.TrimSpace(detail)
}
