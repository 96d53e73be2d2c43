package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://console.vast.ai/api/v0", cfg.Provider.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Provider.Freshness)
	assert.True(t, cfg.Provider.VerifyMutations)
	assert.Equal(t, "root", cfg.SSH.User)
	assert.Equal(t, "vastlab", cfg.SSH.TmuxSession)
	assert.Equal(t, "A100", cfg.Defaults.GPUType)
	assert.Equal(t, 200, cfg.Defaults.DiskGB)
	assert.Contains(t, cfg.SSH.KeyPath, "vast_rsa")
	assert.Contains(t, cfg.Env.Prefixes, "WANDB_")
}

func TestHomeDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VASTCTL_HOME", dir)
	assert.Equal(t, dir, HomeDir())

	t.Setenv("VASTCTL_HOME", "")
	assert.Contains(t, HomeDir(), ".vastctl")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestLoad_MergesDefaults(t *testing.T) {
	t.Setenv("VAST_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  api_key: sk-test
  freshness: 2m
defaults:
  gpu_type: H100
  disk_gb: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Values from the file
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Provider.Freshness)
	assert.Equal(t, "H100", cfg.Defaults.GPUType)
	assert.Equal(t, 500, cfg.Defaults.DiskGB)

	// Defaults retained for keys the file omits
	assert.Equal(t, "https://console.vast.ai/api/v0", cfg.Provider.BaseURL)
	assert.Equal(t, "vastlab", cfg.SSH.TmuxSession)
	assert.Equal(t, 1, cfg.Defaults.GPUs)
}

func TestLoad_EnvKeyOverridesFile(t *testing.T) {
	t.Setenv("VAST_API_KEY", "sk-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  api_key: sk-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
}

func TestFind(t *testing.T) {
	home := t.TempDir()
	t.Setenv("VASTCTL_HOME", home)

	// Nothing exists yet
	path, err := Find("")
	require.NoError(t, err)
	assert.Empty(t, path)

	// Explicit path that does not exist
	_, err = Find(filepath.Join(home, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	// Home config exists
	configPath := filepath.Join(home, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0o600))
	path, err = Find("")
	require.NoError(t, err)
	assert.Equal(t, configPath, path)
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	t.Setenv("VASTCTL_HOME", t.TempDir())
	t.Setenv("VAST_API_KEY", "sk-env")

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
	assert.Equal(t, "A100", cfg.Defaults.GPUType)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	bad := DefaultConfig()
	bad.Provider.BaseURL = "console.vast.ai"
	err := Validate(bad)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	bad = DefaultConfig()
	bad.Defaults.DiskGB = 0
	assert.Error(t, Validate(bad))

	bad = DefaultConfig()
	bad.SSH.TmuxSession = "my session"
	assert.Error(t, Validate(bad))

	bad = DefaultConfig()
	bad.Env.Prefixes = []string{"aws_"}
	assert.Error(t, Validate(bad))
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = ""
	err := RequireAPIKey(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	cfg.Provider.APIKey = "sk-test"
	assert.NoError(t, RequireAPIKey(cfg))
}

func TestWriteFile_RoundTrip(t *testing.T) {
	t.Setenv("VAST_API_KEY", "")
	home := t.TempDir()
	t.Setenv("VASTCTL_HOME", home)

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-disk"
	cfg.Defaults.GPUType = "RTX_4090"
	cfg.Provider.Freshness = 90 * time.Second

	path := filepath.Join(home, ConfigFileName)
	require.NoError(t, WriteFile(cfg, path, false))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-disk", loaded.Provider.APIKey)
	assert.Equal(t, "RTX_4090", loaded.Defaults.GPUType)
	assert.Equal(t, 90*time.Second, loaded.Provider.Freshness)
}

func TestWriteFile_OmitsEnvKey(t *testing.T) {
	home := t.TempDir()
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-env"

	path := filepath.Join(home, ConfigFileName)
	require.NoError(t, WriteFile(cfg, path, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-env")
}

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), Expand("~/.ssh/id_rsa"))
	assert.Equal(t, home, Expand("~"))
	assert.Equal(t, "/abs/path", Expand("/abs/path"))
	assert.Equal(t, "relative", Expand("relative"))
}
