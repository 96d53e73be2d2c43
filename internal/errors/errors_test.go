package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrNotFound, "Instance 'mybox' not found", "Run 'vastctl list --all' to see known instances")

	assert.Equal(t, ErrNotFound, err.Code)
	assert.Equal(t, "Instance 'mybox' not found", err.Message)
	assert.Nil(t, err.Cause)
}

func TestErrorFormat(t *testing.T) {
	err := New(ErrConfig, "Config file not found", "Run 'vastctl init' first")
	out := err.Error()

	assert.True(t, strings.HasPrefix(out, "✗ Config file not found\n"))
	assert.Contains(t, out, "Run 'vastctl init' first")
}

func TestErrorFormatWithCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := WrapWithCode(cause, ErrConnectionFailed, "Couldn't reach 'mybox'", "Check the instance is running")
	out := err.Error()

	assert.Contains(t, out, "✗ Couldn't reach 'mybox'")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "Check the instance is running")
}

func TestWrapDefaultsToSSH(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), "SSH session failed")
	assert.Equal(t, ErrSSH, err.Code)
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := WrapWithCode(cause, ErrProvider, "Provider request failed", "")

	require.ErrorIs(t, err, cause)
}

func TestIsCode(t *testing.T) {
	err := New(ErrDuplicateName, "Instance 'mybox' already exists", "Pick another name")

	assert.True(t, IsCode(err, ErrDuplicateName))
	assert.False(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(nil, ErrNotFound))
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrNotFound))
}

func TestIsCodeThroughWrapping(t *testing.T) {
	inner := New(ErrStaleGeneration, "Tunnel bound to a previous generation", "")
	outer := fmt.Errorf("setup tunnel: %w", inner)

	assert.True(t, IsCode(outer, ErrStaleGeneration))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrPortInUse, CodeOf(New(ErrPortInUse, "Local port 8888 is busy", "")))
	assert.Equal(t, "", CodeOf(stderrors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestExitError(t *testing.T) {
	err := NewExitError(137)
	assert.Equal(t, 137, err.Code)
	assert.Equal(t, "exit code 137", err.Error())
}

func TestGetExitCode(t *testing.T) {
	code, ok := GetExitCode(NewExitError(42))
	assert.True(t, ok)
	assert.Equal(t, 42, code)

	wrapped := fmt.Errorf("remote command: %w", NewExitError(7))
	code, ok = GetExitCode(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 7, code)

	_, ok = GetExitCode(stderrors.New("plain"))
	assert.False(t, ok)
	_, ok = GetExitCode(nil)
	assert.False(t, ok)
}
