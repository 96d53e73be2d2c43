package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreFileAndLatestExclusive(t *testing.T) {
	require.NoError(t, backupRestoreCmd.ParseFlags([]string{"--file", "x.tar.gz", "--latest"}))
	assert.Error(t, backupRestoreCmd.ValidateFlagGroups())

	t.Cleanup(func() {
		restoreFileFlag = ""
		restoreLatestFlag = false
		backupRestoreCmd.Flags().Set("file", "")
		backupRestoreCmd.Flags().Set("latest", "false")
	})
}

func TestSizeString(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1 << 10, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sizeString(tt.bytes))
	}
}
