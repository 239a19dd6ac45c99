package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dwizi/lab-relay/internal/app"
	"github.com/dwizi/lab-relay/internal/config"
	"github.com/dwizi/lab-relay/internal/dispatch"
	"github.com/dwizi/lab-relay/internal/registry"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "lab-relay",
		Short:         "Lab relay runs ansible playbooks from Telegram commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newCheckCommand())
	root.AddCommand(newRunCommand(logger))
	root.AddCommand(newCommandsCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll Telegram and relay commands to ansible",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger, app.WithVersion(version))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and the command registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			commands, err := registry.Load(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration ok\n")
			fmt.Fprintf(out, "project:   %s\n", commands.ProjectPath())
			fmt.Fprintf(out, "inventory: %s\n", commands.InventoryPath())
			fmt.Fprintf(out, "commands:  %d\n", len(commands.Entries()))
			return nil
		},
	}
}

func newCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List registered commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := registry.Load(config.FromEnv())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "COMMAND\tKIND\tGROUP\tTIMEOUT\tDESCRIPTION")
			for _, entry := range commands.Entries() {
				timeout := "-"
				if entry.Timeout > 0 {
					timeout = entry.Timeout.String()
				}
				group := entry.TargetGroup
				if group == "" {
					group = "-"
				}
				fmt.Fprintf(writer, "/%s\t%s\t%s\t%s\t%s\n", entry.Name, entry.Kind, group, timeout, entry.Description)
			}
			return writer.Flush()
		},
	}
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Run one command locally and print the chat replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dispatcher, err := app.NewLocal(config.FromEnv(), logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if !strings.HasPrefix(text, "/") {
				text = "/" + text
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			trace := dispatcher.Handle(ctx, app.LocalRequest(text))
			if trace.Final() != dispatch.StateCompleted {
				return fmt.Errorf("command %s ended %s: %w", trace.Command, trace.Final(), trace.Reason)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
