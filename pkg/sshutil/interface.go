package sshutil

import (
	"io"
	"net"
)

// SSHClient defines the interface for SSH command execution.
// Both the real Client and mock implementations satisfy this interface,
// which lets SSH-dependent code be tested without live connections.
type SSHClient interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// ExecStream runs a command and streams output to the provided writers.
	// Returns the exit code and any error.
	ExecStream(cmd string, stdout, stderr io.Writer) (exitCode int, err error)

	// ExecInput runs a command with the reader wired to the remote
	// stdin, without a PTY.
	ExecInput(cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error)

	// ExecInteractive runs a command with a PTY and full terminal wiring.
	// An empty command starts a shell.
	ExecInteractive(cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error)

	// DialRemote opens a connection on the remote side of the link.
	DialRemote(network, addr string) (net.Conn, error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the host used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}
