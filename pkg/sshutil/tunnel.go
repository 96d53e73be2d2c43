package sshutil

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
)

// RemoteDialer opens connections on the remote side of an SSH link.
// *Client implements it via direct-tcpip channels.
type RemoteDialer interface {
	DialRemote(network, addr string) (net.Conn, error)
}

// ListenLocal binds a loopback listener on the given port. Use
// IsAddrInUse to distinguish an occupied port from other failures.
func ListenLocal(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}

// IsAddrInUse reports whether err means the local port was taken.
func IsAddrInUse(err error) bool {
	if stderrors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

// Forwarder copies traffic between a local listener and a remote
// address through an SSH link. It supervises itself: when the link dies
// the forwarder records the failure and stops accepting, so callers
// observe a dead tunnel instead of hanging connections.
type Forwarder struct {
	listener   net.Listener
	dialer     RemoteDialer
	remoteAddr string

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	err    error
	closed bool
	done   chan struct{}
}

// NewForwarder starts forwarding the listener to remoteAddr. The
// accept loop runs until Close is called or the remote side fails.
func NewForwarder(listener net.Listener, dialer RemoteDialer, remoteAddr string) *Forwarder {
	f := &Forwarder{
		listener:   listener,
		dialer:     dialer,
		remoteAddr: remoteAddr,
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}
	go f.acceptLoop()
	return f
}

// LocalAddr returns the bound local address.
func (f *Forwarder) LocalAddr() net.Addr { return f.listener.Addr() }

// Done is closed when the forwarder has stopped for any reason.
func (f *Forwarder) Done() <-chan struct{} { return f.done }

// Err returns the failure that stopped the forwarder, or nil after a
// clean Close.
func (f *Forwarder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Alive reports whether the forwarder is still accepting connections.
func (f *Forwarder) Alive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

// Close stops the forwarder, closing the local port binding and every
// active connection before returning. A retried bind on the same port
// will not see the address in use.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for conn := range f.conns {
		conn.Close()
	}
	f.mu.Unlock()

	err := f.listener.Close()
	<-f.done
	return err
}

func (f *Forwarder) acceptLoop() {
	defer close(f.done)
	for {
		local, err := f.listener.Accept()
		if err != nil {
			f.mu.Lock()
			if !f.closed {
				f.err = err
				f.listener.Close()
			}
			f.mu.Unlock()
			return
		}

		remote, err := f.dialer.DialRemote("tcp", f.remoteAddr)
		if err != nil {
			local.Close()
			// The SSH link is gone; stop rather than strand clients.
			f.mu.Lock()
			if !f.closed {
				f.err = err
				f.listener.Close()
				f.closed = true
			}
			f.mu.Unlock()
			return
		}

		f.track(local)
		f.track(remote)
		go f.pipe(local, remote)
	}
}

func (f *Forwarder) track(conn net.Conn) {
	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()
}

func (f *Forwarder) untrack(conn net.Conn) {
	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
}

func (f *Forwarder) pipe(local, remote net.Conn) {
	defer func() {
		local.Close()
		remote.Close()
		f.untrack(local)
		f.untrack(remote)
	}()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local) //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote) //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
}
