// Package conn turns reconciled instance records into live SSH
// sessions, remote command executions, and supervised port tunnels.
// Every operation that needs an endpoint goes through a freshness-gated
// reconcile first, so connections are never attempted against known-
// stale coordinates.
package conn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vastlab/vastctl/internal/config"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/reconcile"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/pkg/sshutil"
)

const (
	dialAttempts = 3
	dialBackoff  = 500 * time.Millisecond
)

// Dialer opens an SSH connection to an endpoint. Injectable for tests.
type Dialer func(ep registry.Endpoint) (sshutil.SSHClient, error)

// Manager owns session, execution, and tunnel lifecycles.
type Manager struct {
	reg *registry.Registry
	rec *reconcile.Reconciler
	ssh config.SSHConfig
	log logger.Logger

	freshness time.Duration
	dial      Dialer
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the SSH dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New creates a Manager. The freshness threshold comes from
// provider.freshness; records synced longer ago are reconciled before
// any connection is attempted.
func New(reg *registry.Registry, rec *reconcile.Reconciler, cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		reg:       reg,
		rec:       rec,
		ssh:       cfg.SSH,
		log:       logger.Default(),
		freshness: cfg.Provider.Freshness,
	}
	m.dial = func(ep registry.Endpoint) (sshutil.SSHClient, error) {
		return sshutil.Dial(sshutil.DialOptions{
			Host:          ep.Host,
			Port:          ep.Port,
			User:          m.ssh.User,
			KeyPath:       m.ssh.KeyPath,
			Timeout:       m.ssh.ConnectTimeout,
			StrictHostKey: m.ssh.StrictHostKey,
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session is an authenticated connection bound to one record at one
// generation.
type Session struct {
	Client     sshutil.SSHClient
	Record     *registry.InstanceRecord
	Generation int
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

// OpenSession resolves, freshens, and connects to the named instance.
// Fails with a not-running error before any connection attempt when the
// record has no usable endpoint.
func (m *Manager) OpenSession(ctx context.Context, name string) (*Session, error) {
	rec, err := m.resolveRunning(ctx, name)
	if err != nil {
		return nil, err
	}
	ep, _ := rec.UsableEndpoint()

	client, err := m.dialWithRetry(ctx, rec.Name, ep)
	if err != nil {
		return nil, err
	}
	return &Session{Client: client, Record: rec, Generation: rec.Generation}, nil
}

// Execute opens a transient session, runs the command, and closes the
// session. Dial failures are retried with bounded backoff; a non-zero
// remote exit status is reported, never retried.
func (m *Manager) Execute(ctx context.Context, name, command string) (stdout string, exitCode int, err error) {
	session, err := m.OpenSession(ctx, name)
	if err != nil {
		return "", -1, err
	}
	defer session.Close()

	out, errOut, code, err := session.Client.Exec(command)
	if err != nil {
		return "", -1, err
	}
	if code != 0 {
		m.log.Debug("remote command exited %d on %s: %s", code, name, strings.TrimSpace(string(errOut)))
	}
	return string(out), code, nil
}

// resolveRunning freshens the record and enforces the running guard.
func (m *Manager) resolveRunning(ctx context.Context, name string) (*registry.InstanceRecord, error) {
	rec, err := m.rec.EnsureFresh(ctx, name, m.freshness)
	if err != nil {
		return nil, err
	}
	if _, ok := rec.UsableEndpoint(); !ok {
		return nil, errors.New(errors.ErrNotRunning,
			fmt.Sprintf("Instance '%s' is %s", name, rec.Status),
			notRunningSuggestion(rec.Status, name))
	}
	return rec, nil
}

func (m *Manager) dialWithRetry(ctx context.Context, name string, ep registry.Endpoint) (sshutil.SSHClient, error) {
	var lastErr error
	backoff := dialBackoff
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		client, err := m.dial(ep)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if attempt < dialAttempts {
			m.log.Debug("connect to %s failed (attempt %d/%d): %v", name, attempt, dialAttempts, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.WrapWithCode(ctx.Err(), errors.ErrConnectionFailed,
					fmt.Sprintf("Connection to '%s' cancelled", name), "")
			}
			backoff *= 2
		}
	}
	return nil, errors.WrapWithCode(lastErr, errors.ErrConnectionFailed,
		fmt.Sprintf("Couldn't connect to '%s' at %s after %d attempts", name, ep.String(), dialAttempts),
		"The instance may still be booting SSH. Check 'vastctl status' and retry.")
}

func notRunningSuggestion(status registry.Status, name string) string {
	switch status {
	case registry.StatusStopped:
		return fmt.Sprintf("Start it with: vastctl start %s", name)
	case registry.StatusPending:
		return "The instance is still provisioning. Run 'vastctl refresh' to check progress."
	case registry.StatusUnreachable:
		return "The provider can't resolve this instance right now. Run 'vastctl refresh', or check the provider console."
	case registry.StatusDestroyed:
		return fmt.Sprintf("The instance was destroyed. Recreate it with: vastctl start %s", name)
	default:
		return "Run 'vastctl refresh' to resync instance state."
	}
}
