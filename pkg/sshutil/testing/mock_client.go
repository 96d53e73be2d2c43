// Package testing provides a scripted SSH client for tests.
package testing

import (
	"errors"
	"io"
	"net"
	"regexp"
	"sync"

	"github.com/vastlab/vastctl/pkg/sshutil"
)

// CommandResponse defines a canned response for a command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// MockClient simulates an SSH connection. Commands are matched against
// registered exact strings first, then regex patterns, and every
// executed command is recorded for assertions.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	commands map[string]CommandResponse

	// Commands records every command passed to Exec in order.
	Commands []string

	// Inputs records stdin payloads passed to ExecInput in order.
	Inputs [][]byte

	// Default is returned when no pattern matches.
	Default CommandResponse

	// RemoteDial backs DialRemote. Nil means tunnels fail.
	RemoteDial func(network, addr string) (net.Conn, error)
}

// NewMockClient creates a mock client for the given host.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

var _ sshutil.SSHClient = (*MockClient)(nil)

// SetCommandResponse registers a canned response. The pattern can be an
// exact string or a regex.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// Exec implements sshutil.SSHClient.
func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, -1, errors.New("connection closed")
	}
	m.Commands = append(m.Commands, cmd)

	if resp, ok := m.commands[cmd]; ok {
		return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
		}
	}
	return m.Default.Stdout, m.Default.Stderr, m.Default.ExitCode, m.Default.Error
}

// ExecStream implements sshutil.SSHClient.
func (m *MockClient) ExecStream(cmd string, stdout, stderr io.Writer) (exitCode int, err error) {
	out, errOut, code, execErr := m.Exec(cmd)
	if execErr != nil {
		return -1, execErr
	}
	if stdout != nil && len(out) > 0 {
		stdout.Write(out)
	}
	if stderr != nil && len(errOut) > 0 {
		stderr.Write(errOut)
	}
	return code, nil
}

// ExecInput implements sshutil.SSHClient. Stdin contents are captured
// in Inputs, parallel to Commands.
func (m *MockClient) ExecInput(cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	data, readErr := io.ReadAll(stdin)
	if readErr != nil {
		return -1, readErr
	}
	m.mu.Lock()
	m.Inputs = append(m.Inputs, data)
	m.mu.Unlock()
	return m.ExecStream(cmd, stdout, stderr)
}

// ExecInteractive implements sshutil.SSHClient.
func (m *MockClient) ExecInteractive(cmd string, stdin io.Reader, stdout, stderr io.Writer) (exitCode int, err error) {
	return m.ExecStream(cmd, stdout, stderr)
}

// DialRemote implements sshutil.SSHClient.
func (m *MockClient) DialRemote(network, addr string) (net.Conn, error) {
	m.mu.Lock()
	dial := m.RemoteDial
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, errors.New("connection closed")
	}
	if dial == nil {
		return nil, errors.New("no remote dialer configured")
	}
	return dial(network, addr)
}

// Close implements sshutil.SSHClient.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost implements sshutil.SSHClient.
func (m *MockClient) GetHost() string { return m.host }

// GetAddress implements sshutil.SSHClient.
func (m *MockClient) GetAddress() string { return m.address }
