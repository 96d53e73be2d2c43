// Package cli implements the vastctl command tree. Commands stay thin:
// they parse flags, wire the app services, and render results; all
// lifecycle and connection logic lives in the internal packages.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/ui"
)

// Global flags
var (
	configFlag  string
	debugFlag   bool
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "vastctl",
	Short: "Name, provision, and operate GPU rental instances",
	Long: `vastctl manages remote GPU rental instances from a single local
control point. Instances get stable human-chosen names; vastctl keeps
the local picture reconciled with the provider's, and builds SSH
sessions, tunnels, and backups on top of it.

Common workflows:
  vastctl start trainer --gpu A100     Provision and boot an instance
  vastctl ssh trainer --tmux           Attach to the shared tmux session
  vastctl tunnel trainer --port 8888   Forward a local port
  vastctl backup create trainer        Archive the remote workspace
  vastctl destroy trainer              Tear the instance down`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugFlag {
			os.Setenv("VASTCTL_DEBUG", "1")
		}
		if noColorFlag {
			ui.DisableColors()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default $VASTCTL_HOME/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
}

// Execute runs the root command, rendering structured errors and
// propagating remote exit codes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := errors.GetExitCode(err); ok {
			os.Exit(code)
		}
		fmt.Fprintln(os.Stderr, err)
		if debugFlag {
			if code := errors.CodeOf(err); code != "" {
				fmt.Fprintf(os.Stderr, "error code: %s\n", code)
			}
		}
		os.Exit(1)
	}
}
