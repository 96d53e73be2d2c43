package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/ui"
)

var (
	sshTmuxFlag      bool
	sshNewWindowFlag bool
	tunnelPortFlag   int
	tunnelRemoteFlag int
)

var sshCmd = &cobra.Command{
	Use:   "ssh [name]",
	Short: "Open an interactive shell on an instance",
	Long: `SSH into the named instance (or the active one). Plain sessions
disable the provider's auto-tmux and land in the workspace; --tmux
attaches to the shared session, surviving disconnects.

Examples:
  vastctl ssh
  vastctl ssh trainer --tmux
  vastctl ssh trainer --new-window`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sshCommand(cmd.Context(), args)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec [name] -- <command...>",
	Short: "Run a command on an instance",
	Long: `Run a command over a transient SSH session and print its output.
The remote exit code becomes vastctl's exit code.

Examples:
  vastctl exec trainer -- nvidia-smi
  vastctl exec -- ls /workspace`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execCommand(cmd.Context(), cmd, args)
	},
}

var tunnelCmd = &cobra.Command{
	Use:   "tunnel [name]",
	Short: "Forward a local port to an instance",
	Long: `Open a supervised SSH tunnel from a local port to a port on the
instance. Runs until interrupted; the local port is released before
the command returns.

Examples:
  vastctl tunnel trainer --port 8888
  vastctl tunnel --port 6006 --remote-port 6006`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tunnelCommand(cmd.Context(), args)
	},
}

func init() {
	sshCmd.Flags().BoolVar(&sshTmuxFlag, "tmux", false, "attach to or create the shared tmux session")
	sshCmd.Flags().BoolVar(&sshNewWindowFlag, "new-window", false, "open a new tmux window (implies --tmux)")

	tunnelCmd.Flags().IntVar(&tunnelPortFlag, "port", 8888, "local port to bind")
	tunnelCmd.Flags().IntVar(&tunnelRemoteFlag, "remote-port", 0, "remote port (defaults to the local port)")

	rootCmd.AddCommand(sshCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(tunnelCmd)
}

func sshCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	code, err := a.conns.Interactive(ctx, name, conn.InteractiveOptions{
		Tmux:          sshTmuxFlag,
		TmuxNewWindow: sshNewWindowFlag,
	})
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.NewExitError(code)
	}
	return nil
}

func execCommand(ctx context.Context, cmd *cobra.Command, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}

	// Everything after -- is the remote command; an optional name may
	// precede it.
	var nameArgs, cmdArgs []string
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		nameArgs, cmdArgs = args[:dash], args[dash:]
	} else {
		cmdArgs = args
	}
	if len(cmdArgs) == 0 {
		return errors.New(errors.ErrExec,
			"What should I run?",
			"Usage: vastctl exec [name] -- <command>")
	}
	name, err := a.resolveName(nameArgs)
	if err != nil {
		return err
	}

	stdout, code, err := a.conns.Execute(ctx, name, strings.Join(cmdArgs, " "))
	if err != nil {
		return err
	}
	fmt.Print(stdout)
	if code != 0 {
		return errors.NewExitError(code)
	}
	return nil
}

func tunnelCommand(ctx context.Context, args []string) error {
	a, err := newProviderApp()
	if err != nil {
		return err
	}
	name, err := a.resolveName(args)
	if err != nil {
		return err
	}

	remotePort := tunnelRemoteFlag
	if remotePort == 0 {
		remotePort = tunnelPortFlag
	}

	tun, err := a.conns.SetupTunnel(ctx, name, tunnelPortFlag, remotePort)
	if err != nil {
		return err
	}

	fmt.Printf("%s localhost:%d -> %s:%d (Ctrl-C to stop)\n",
		ui.SuccessStyle().Render(ui.SymbolSuccess), tun.LocalPort, name, tun.RemotePort)

	err = tun.Wait(ctx)
	if ctx.Err() != nil {
		// Interrupted: the tunnel and port are already released.
		fmt.Println("\ntunnel closed")
		return nil
	}
	return err
}
