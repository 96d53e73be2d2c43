// Package sshutil wraps golang.org/x/crypto/ssh with key-file auth,
// ssh_config overrides, and the exec/tunnel primitives the rest of the
// tool builds on.
package sshutil

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vastlab/vastctl/internal/errors"
)

// Client wraps an SSH connection with its resolved coordinates.
type Client struct {
	*ssh.Client
	Host    string // The host used to connect
	Address string // The resolved address (host:port)
}

// DialOptions controls how a connection is established. Rented
// instances run as root with a dedicated key; ~/.ssh/config entries for
// the host can still override user and identity file.
type DialOptions struct {
	Host    string
	Port    int
	User    string
	KeyPath string
	Timeout time.Duration

	// StrictHostKey verifies against ~/.ssh/known_hosts. Off by
	// default: rented instances recycle host keys constantly.
	StrictHostKey bool
}

// Dial establishes an SSH connection to an instance endpoint.
func Dial(opts DialOptions) (*Client, error) {
	settings := resolveSettings(opts)

	config, err := buildClientConfig(settings)
	if err != nil {
		return nil, err
	}

	address := net.JoinHostPort(settings.host, strconv.Itoa(settings.port))
	conn, err := net.DialTimeout("tcp", address, settings.timeout)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't reach instance at %s", address),
			suggestionForDialError(err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("SSH handshake with %s didn't go through", address),
			suggestionForHandshakeError(err, settings.keyPath))
	}

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    opts.Host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// GetHost returns the host used to connect.
func (c *Client) GetHost() string { return c.Host }

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string { return c.Address }

// DialRemote opens a direct-tcpip channel to an address reachable from
// the remote side. Tunnels are built on this.
func (c *Client) DialRemote(network, addr string) (net.Conn, error) {
	return c.Client.Dial(network, addr)
}

type settings struct {
	host    string
	port    int
	user    string
	keyPath string
	timeout time.Duration
	strict  bool
}

// resolveSettings layers ~/.ssh/config entries for the host over the
// caller's options. A config IdentityFile or User for the instance host
// wins so users can pin per-host overrides the usual way.
func resolveSettings(opts DialOptions) settings {
	s := settings{
		host:    opts.Host,
		port:    opts.Port,
		user:    opts.User,
		keyPath: expandPath(opts.KeyPath),
		timeout: opts.Timeout,
		strict:  opts.StrictHostKey,
	}
	if s.user == "" {
		s.user = "root"
	}
	if s.port == 0 {
		s.port = 22
	}
	if s.timeout == 0 {
		s.timeout = 10 * time.Second
	}

	if user := ssh_config.Get(opts.Host, "User"); user != "" && user != ssh_config.Default("User") {
		s.user = user
	}
	if identity := ssh_config.Get(opts.Host, "IdentityFile"); identity != "" && identity != ssh_config.Default("IdentityFile") {
		s.keyPath = expandPath(identity)
	}

	return s
}

func buildClientConfig(s settings) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if s.keyPath != "" {
		keyAuth, err := keyFileAuth(s.keyPath)
		switch {
		case err == nil:
			authMethods = append(authMethods, keyAuth)
		case stderrors.As(err, new(*EncryptedKeyError)):
			// Fall through to the agent, which may hold it decrypted.
		case os.IsNotExist(err):
			// Key not generated yet; agent may still work.
		default:
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				"Can't read SSH key at "+s.keyPath,
				"Check the file exists and is a valid private key.")
		}
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if len(authMethods) == 0 {
		return nil, errors.New(errors.ErrSSH,
			"No SSH auth methods available",
			fmt.Sprintf("Generate a key with: ssh-keygen -t rsa -f %s\nOr load one into the agent: ssh-add -l", s.keyPath))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.strict {
		knownHostsPath := filepath.Join(homeDir(), ".ssh", "known_hosts")
		callback, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSSH,
				"Can't load known_hosts for strict host key checking",
				"Check "+knownHostsPath+" exists, or disable ssh.strict_host_key.")
		}
		hostKeyCallback = callback
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // Instances recycle host keys; strict mode is opt-in
	}

	return &ssh.ClientConfig{
		User:            s.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.timeout,
	}, nil
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase.
func keyFileAuth(keyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var passErr *ssh.PassphraseMissingError
		if stderrors.As(err, &passErr) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

// sshAgentAuth returns an auth method using the SSH agent when it is
// reachable and has keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	client := agent.NewClient(conn)
	signers, err := client.Signers()
	if err != nil || len(signers) == 0 {
		conn.Close()
		return nil
	}
	return ssh.PublicKeysCallback(client.Signers)
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "The instance may still be booting. Wait a moment and retry, or run 'vastctl status'."
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the instance. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "i/o timeout") {
		return "Connection timed out. The instance might be stopped; run 'vastctl refresh'."
	}
	return "Check the instance is running: vastctl status"
}

func suggestionForHandshakeError(err error, keyPath string) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return fmt.Sprintf("Auth failed. Check the instance has your key attached and that %s matches it.", keyPath)
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. The instance may have been recreated; remove the old entry with ssh-keygen -R."
	}
	return "Something went wrong during SSH setup. Try connecting manually with ssh -v."
}
