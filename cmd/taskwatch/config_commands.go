package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskwatch/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state dir:  %s\n", cfg.Paths.StateDir)
			fmt.Fprintf(out, "log dir:    %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "socket:     %s\n", cfg.SocketPath())
			fmt.Fprintf(out, "database:   %s\n", cfg.DatabasePath())
			fmt.Fprintf(out, "api bind:   %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "agent url:  %s\n", cfg.Origin.AgentURL)
			fmt.Fprintf(out, "ntfy topic: %s\n", cfg.Notifications.NtfyTopic)
			fmt.Fprintf(out, "threshold:  %d\n", cfg.Matching.Threshold)
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, _, exists, err := config.Load(""); err == nil && exists && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}
