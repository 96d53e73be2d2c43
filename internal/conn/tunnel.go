package conn

import (
	"context"
	"fmt"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/pkg/sshutil"
)

// Tunnel is a supervised local-to-remote port forward bound to one
// instance generation. Handles are ephemeral: they live for the owning
// command invocation and are never persisted.
type Tunnel struct {
	Name       string
	Generation int
	LocalPort  int
	RemotePort int

	session   *Session
	forwarder *sshutil.Forwarder
}

// SetupTunnel binds a local port to a remote port through a fresh
// session. Fails with a port-in-use error when the local port is
// already bound, before any remote work happens.
func (m *Manager) SetupTunnel(ctx context.Context, name string, localPort, remotePort int) (*Tunnel, error) {
	listener, err := sshutil.ListenLocal(localPort)
	if err != nil {
		if sshutil.IsAddrInUse(err) {
			return nil, errors.New(errors.ErrPortInUse,
				fmt.Sprintf("Local port %d is already in use", localPort),
				"Pick another port with --port, or close whatever is bound to it.")
		}
		return nil, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Can't bind local port %d", localPort), "")
	}

	session, err := m.OpenSession(ctx, name)
	if err != nil {
		listener.Close()
		return nil, err
	}

	fw := sshutil.NewForwarder(listener, session.Client, fmt.Sprintf("127.0.0.1:%d", remotePort))
	m.log.Debug("tunnel up: localhost:%d -> %s:%d", localPort, name, remotePort)

	return &Tunnel{
		Name:       name,
		Generation: session.Generation,
		LocalPort:  localPort,
		RemotePort: remotePort,
		session:    session,
		forwarder:  fw,
	}, nil
}

// ValidateHandle confirms a previously created handle is still safe to
// use: the record's generation must match (the instance was not
// destroyed and recreated under the same name) and the underlying
// forwarder must still be alive.
func (m *Manager) ValidateHandle(ctx context.Context, t *Tunnel) error {
	rec, err := m.reg.Get(t.Name)
	if err != nil {
		return err
	}
	if rec.Generation != t.Generation {
		return errors.New(errors.ErrStaleGeneration,
			fmt.Sprintf("Tunnel was opened against a previous incarnation of '%s'", t.Name),
			"The instance was recreated. Close this tunnel and open a new one.")
	}
	if !t.Alive() {
		return t.diedError()
	}
	return nil
}

// Alive reports whether the tunnel is still forwarding.
func (t *Tunnel) Alive() bool {
	return t.forwarder.Alive()
}

// Wait blocks until the tunnel stops or the context is cancelled.
// Cancellation closes the tunnel (releasing the local port) before
// returning the interrupt as an error.
func (t *Tunnel) Wait(ctx context.Context) error {
	select {
	case <-t.forwarder.Done():
		if err := t.forwarder.Err(); err != nil {
			t.Close()
			return t.diedError()
		}
		return nil
	case <-ctx.Done():
		t.Close()
		return errors.WrapWithCode(ctx.Err(), errors.ErrSSH,
			fmt.Sprintf("Tunnel to '%s' interrupted", t.Name), "")
	}
}

// Close tears the tunnel down: the forwarder (closing the local port
// binding) first, then the session.
func (t *Tunnel) Close() error {
	err := t.forwarder.Close()
	if cerr := t.session.Close(); err == nil {
		err = cerr
	}
	return err
}

func (t *Tunnel) diedError() error {
	msg := fmt.Sprintf("Tunnel localhost:%d -> %s:%d died", t.LocalPort, t.Name, t.RemotePort)
	suggestion := "The connection dropped. Re-run the tunnel command."
	if cause := t.forwarder.Err(); cause != nil {
		return errors.WrapWithCode(cause, errors.ErrTunnelDied, msg, suggestion)
	}
	return errors.New(errors.ErrTunnelDied, msg, suggestion)
}
