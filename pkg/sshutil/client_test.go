package sshutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test_rsa")
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestResolveSettings_Defaults(t *testing.T) {
	s := resolveSettings(DialOptions{Host: "198.51.100.7"})
	assert.Equal(t, "root", s.user)
	assert.Equal(t, 22, s.port)
	assert.Equal(t, 10*time.Second, s.timeout)
	assert.False(t, s.strict)
}

func TestResolveSettings_ExplicitOptions(t *testing.T) {
	s := resolveSettings(DialOptions{
		Host:    "198.51.100.7",
		Port:    22022,
		User:    "ubuntu",
		KeyPath: "~/.ssh/vast_rsa",
		Timeout: 3 * time.Second,
	})
	assert.Equal(t, "ubuntu", s.user)
	assert.Equal(t, 22022, s.port)
	assert.Equal(t, filepath.Join(homeDir(), ".ssh", "vast_rsa"), s.keyPath)
	assert.Equal(t, 3*time.Second, s.timeout)
}

func TestKeyFileAuth(t *testing.T) {
	path := writeTestKey(t)
	auth, err := keyFileAuth(path)
	require.NoError(t, err)
	assert.NotNil(t, auth)
}

func TestKeyFileAuth_MissingFile(t *testing.T) {
	_, err := keyFileAuth(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildClientConfig_KeyFile(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	path := writeTestKey(t)

	cfg, err := buildClientConfig(settings{
		user: "root", keyPath: path, timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestBuildClientConfig_NoAuth(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := buildClientConfig(settings{
		user: "root", keyPath: filepath.Join(t.TempDir(), "nope"),
	})
	require.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, filepath.Join(homeDir(), ".ssh", "k"), expandPath("~/.ssh/k"))
	assert.Equal(t, "/abs/k", expandPath("/abs/k"))
}
