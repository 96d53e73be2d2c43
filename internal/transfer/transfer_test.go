package transfer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/config"
	"github.com/vastlab/vastctl/internal/conn"
	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/provider/providertest"
	"github.com/vastlab/vastctl/internal/reconcile"
	"github.com/vastlab/vastctl/internal/registry"
	"github.com/vastlab/vastctl/pkg/sshutil"
	sshtesting "github.com/vastlab/vastctl/pkg/sshutil/testing"
)

func testTransferManager(t *testing.T, mock *sshtesting.MockClient) *Manager {
	t.Helper()
	reg := registry.New(t.TempDir())
	_, err := reg.Create("trainer", registry.Descriptor{GPUType: "A100", GPUCount: 1, DiskGB: 100, Image: "img"}, "default", nil)
	require.NoError(t, err)
	_, err = reg.UpdateRecord("trainer", func(r *registry.InstanceRecord) error {
		r.RemoteID = "c9001"
		r.Status = registry.StatusRunning
		r.Endpoint = &registry.Endpoint{Host: "198.51.100.7", Port: 2222}
		r.LastSyncedAt = time.Now()
		return nil
	})
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Provider.Freshness = time.Hour

	conns := conn.New(reg, reconcile.New(reg, providertest.New()), cfg,
		conn.WithDialer(func(ep registry.Endpoint) (sshutil.SSHClient, error) {
			return mock, nil
		}))
	return New(conns, logger.Noop())
}

func tarGzOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestParseRemote(t *testing.T) {
	tests := []struct {
		arg    string
		name   string
		path   string
		remote bool
	}{
		{"trainer:/workspace/f", "trainer", "/workspace/f", true},
		{":/workspace/f", "", "/workspace/f", true},
		{":f", "", "f", true},
		{"./local/file", "", "", false},
		{"file.txt", "", "", false},
	}

	for _, tt := range tests {
		name, path, ok := ParseRemote(tt.arg)
		assert.Equal(t, tt.remote, ok, tt.arg)
		assert.Equal(t, tt.name, name, tt.arg)
		assert.Equal(t, tt.path, path, tt.arg)
	}
}

func TestUpload_FileStreamsContent(t *testing.T) {
	mock := sshtesting.NewMockClient("198.51.100.7")
	mock.SetCommandResponse(`^mkdir -p '/workspace' && cat > '/workspace/model\.yaml'$`,
		sshtesting.CommandResponse{})
	mgr := testTransferManager(t, mock)

	local := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(local, []byte("lr: 0.001\n"), 0o644))

	err := mgr.Upload(context.Background(), "trainer", local, "/workspace/model.yaml", false)
	require.NoError(t, err)

	require.Len(t, mock.Inputs, 1)
	assert.Equal(t, "lr: 0.001\n", string(mock.Inputs[0]))
	assert.True(t, mock.Closed())
}

func TestUpload_DirectoryStreamsTarGz(t *testing.T) {
	mock := sshtesting.NewMockClient("198.51.100.7")
	mock.SetCommandResponse(`^mkdir -p '/workspace/data' && cd '/workspace/data' && tar xzf -$`,
		sshtesting.CommandResponse{})
	mgr := testTransferManager(t, mock)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("beta"), 0o644))

	err := mgr.Upload(context.Background(), "trainer", dir, "/workspace/data", true)
	require.NoError(t, err)

	require.Len(t, mock.Inputs, 1)
	gz, err := gzip.NewReader(bytes.NewReader(mock.Inputs[0]))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	names := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		names[hdr.Name] = string(data)
	}
	assert.Equal(t, "alpha", names["a.txt"])
	assert.Equal(t, "beta", names["sub/b.txt"])
	assert.Contains(t, names, "sub/")
}

func TestUpload_DirectoryWithoutRecursive(t *testing.T) {
	mock := sshtesting.NewMockClient("198.51.100.7")
	mgr := testTransferManager(t, mock)

	err := mgr.Upload(context.Background(), "trainer", t.TempDir(), "/workspace/data", false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransfer))
	assert.Empty(t, mock.Commands)
}

func TestDownload_FileIntoDirectory(t *testing.T) {
	mock := sshtesting.NewMockClient("198.51.100.7")
	mock.SetCommandResponse(`^cat '/workspace/out\.log'$`,
		sshtesting.CommandResponse{Stdout: []byte("done\n")})
	mgr := testTransferManager(t, mock)

	dir := t.TempDir()
	err := mgr.Download(context.Background(), "trainer", "/workspace/out.log", dir, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out.log"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(data))
}

func TestDownload_FailureLeavesNoPartialFile(t *testing.T) {
	mock := sshtesting.NewMockClient("198.51.100.7")
	mock.SetCommandResponse(`^cat .*`, sshtesting.CommandResponse{
		Stderr: []byte("cat: /workspace/out.log: No such file or directory\n"), ExitCode: 1,
	})
	mgr := testTransferManager(t, mock)

	target := filepath.Join(t.TempDir(), "out.log")
	err := mgr.Download(context.Background(), "trainer", "/workspace/out.log", target, false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransfer))
	assert.Contains(t, err.Error(), "No such file")

	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_DirectoryExtractsArchive(t *testing.T) {
	payload := tarGzOf(t, map[string]string{
		"ckpt/step100.pt": "weights",
		"notes.md":        "# run 7",
	})
	mock := sshtesting.NewMockClient("198.51.100.7")
	mock.SetCommandResponse(`^cd '/workspace/run7' && tar czf - \.$`,
		sshtesting.CommandResponse{Stdout: payload})
	mgr := testTransferManager(t, mock)

	dest := t.TempDir()
	err := mgr.Download(context.Background(), "trainer", "/workspace/run7", dest, true)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dest, "ckpt", "step100.pt"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
	data, err = os.ReadFile(filepath.Join(dest, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# run 7", string(data))
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	payload := tarGzOf(t, map[string]string{"../evil.txt": "x"})
	err := extractTarGz(bytes.NewReader(payload), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}
