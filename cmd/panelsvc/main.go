package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createOpenCommand(globalFlags),
		createCloseCommand(globalFlags),
		createStatusCommand(globalFlags),
		createShutdownCommand(globalFlags),
		createCheckCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "panelsvc",
		Short: "Single-instance service supervisor bound to a UI panel lifecycle",
		Long: `panelsvc keeps one local web service running while a UI panel needs it.

The daemon (serve) owns the service process. UI hosts and scripts send panel
events to it: open starts the service if needed and prints where to find it,
close leaves it running, shutdown stops it.

Examples:
  panelsvc serve --config panelsvc.toml
  panelsvc open                     # ensure running, print view target
  panelsvc status
  panelsvc shutdown
  panelsvc check --config panelsvc.toml`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "control API base URL (default from [server] in config)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 0, "control API request timeout")

	return root
}
