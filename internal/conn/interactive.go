package conn

import (
	"context"
	"fmt"
	"io"
	"os"
)

// InteractiveOptions selects how the interactive session lands on the
// remote side.
type InteractiveOptions struct {
	// Tmux attaches to the shared session, creating it if needed.
	Tmux bool
	// TmuxNewWindow opens a new window in the shared session (implies Tmux).
	TmuxNewWindow bool

	// Stdin/Stdout/Stderr default to the process streams when nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Interactive opens a PTY session on the named instance and hands the
// local terminal over until the remote shell exits. Returns the remote
// exit code.
func (m *Manager) Interactive(ctx context.Context, name string, opts InteractiveOptions) (int, error) {
	session, err := m.OpenSession(ctx, name)
	if err != nil {
		return -1, err
	}
	defer session.Close()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := m.interactiveCommand(opts)
	m.log.Debug("interactive session on %s: %q", name, cmd)
	return session.Client.ExecInteractive(cmd, stdin, stdout, stderr)
}

// interactiveCommand builds the remote command for the session mode.
// Plain sessions disable the provider's auto-tmux and land in the
// workspace (symlinked at ~/workspace during setup).
func (m *Manager) interactiveCommand(opts InteractiveOptions) string {
	tmuxSession := m.ssh.TmuxSession
	switch {
	case opts.TmuxNewWindow:
		return fmt.Sprintf(
			"bash -lc 'tmux has-session -t %[1]s 2>/dev/null && tmux new-window -t %[1]s \\; attach-session -t %[1]s || tmux new-session -s %[1]s'",
			tmuxSession)
	case opts.Tmux:
		return fmt.Sprintf(
			"bash -lc 'tmux attach-session -t %[1]s || tmux new-session -s %[1]s'",
			tmuxSession)
	default:
		return "touch ~/.no_auto_tmux; cd ~/workspace 2>/dev/null || cd ~; exec bash"
	}
}
