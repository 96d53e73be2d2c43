package conn

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/pkg/sshutil"
	sshtesting "github.com/vastlab/vastctl/pkg/sshutil/testing"
)

// freePort grabs an ephemeral port and releases it so a test can bind
// it deliberately.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startEchoServer runs a TCP server that echoes one line per
// connection.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 256)
				n, err := c.Read(buf)
				if err != nil {
					return
				}
				c.Write(buf[:n])
			}(c)
		}
	}()
	t.Cleanup(func() { l.Close() })
	return l
}

func tunnelManager(t *testing.T, remote net.Listener) (*Manager, *registry.Registry) {
	t.Helper()
	dial := func(ep registry.Endpoint) (sshutil.SSHClient, error) {
		mock := sshtesting.NewMockClient(ep.Host)
		if remote != nil {
			mock.RemoteDial = func(network, addr string) (net.Conn, error) {
				return net.Dial("tcp", remote.Addr().String())
			}
		}
		return mock, nil
	}
	return testManager(t, dial)
}

func TestSetupTunnel_ForwardsTraffic(t *testing.T) {
	remote := startEchoServer(t)
	mgr, reg := tunnelManager(t, remote)
	seedRunning(t, reg, "trainer")

	port := freePort(t)
	tun, err := mgr.SetupTunnel(context.Background(), "trainer", port, 8888)
	require.NoError(t, err)
	defer tun.Close()

	assert.Equal(t, "trainer", tun.Name)
	assert.Equal(t, 1, tun.Generation)
	assert.True(t, tun.Alive())

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestSetupTunnel_PortInUse(t *testing.T) {
	remote := startEchoServer(t)
	mgr, reg := tunnelManager(t, remote)
	seedRunning(t, reg, "trainer")

	port := freePort(t)
	first, err := mgr.SetupTunnel(context.Background(), "trainer", port, 8888)
	require.NoError(t, err)
	defer first.Close()

	_, err = mgr.SetupTunnel(context.Background(), "trainer", port, 8888)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrPortInUse))
	assert.True(t, first.Alive())
}

func TestSetupTunnel_NotRunningReleasesPort(t *testing.T) {
	mgr, reg := tunnelManager(t, nil)
	seedRunning(t, reg, "trainer")
	_, err := reg.UpdateRecord("trainer", func(r *registry.InstanceRecord) error {
		r.Status = registry.StatusStopped
		return nil
	})
	require.NoError(t, err)

	port := freePort(t)
	_, err = mgr.SetupTunnel(context.Background(), "trainer", port, 8888)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotRunning))

	// The failed setup must not leave the local port bound.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	l.Close()
}

func TestValidateHandle_StaleGeneration(t *testing.T) {
	remote := startEchoServer(t)
	mgr, reg := tunnelManager(t, remote)
	seedRunning(t, reg, "trainer")

	tun, err := mgr.SetupTunnel(context.Background(), "trainer", freePort(t), 8888)
	require.NoError(t, err)
	defer tun.Close()

	require.NoError(t, reg.MarkDestroyed("trainer"))
	_, err = reg.Create("trainer", registry.Descriptor{GPUType: "A100", GPUCount: 1, DiskGB: 100, Image: "img"}, "default", nil)
	require.NoError(t, err)

	err = mgr.ValidateHandle(context.Background(), tun)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrStaleGeneration))
}

func TestValidateHandle_DeadForwarder(t *testing.T) {
	remote := startEchoServer(t)
	mgr, reg := tunnelManager(t, remote)
	seedRunning(t, reg, "trainer")

	tun, err := mgr.SetupTunnel(context.Background(), "trainer", freePort(t), 8888)
	require.NoError(t, err)
	require.NoError(t, tun.Close())

	err = mgr.ValidateHandle(context.Background(), tun)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTunnelDied))
}

func TestTunnelWait_CancelReleasesPort(t *testing.T) {
	remote := startEchoServer(t)
	mgr, reg := tunnelManager(t, remote)
	seedRunning(t, reg, "trainer")

	port := freePort(t)
	tun, err := mgr.SetupTunnel(context.Background(), "trainer", port, 8888)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tun.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	l.Close()
}
