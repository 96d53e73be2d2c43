package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/errors"
)

func TestCpRequiresExactlyOneRemoteSide(t *testing.T) {
	err := cpCommand(context.Background(), "./a.txt", "./b.txt")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransfer))

	err = cpCommand(context.Background(), "trainer:/a", "eval:/b")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransfer))
}

func TestNameArg(t *testing.T) {
	assert.Nil(t, nameArg(""))
	assert.Equal(t, []string{"trainer"}, nameArg("trainer"))
}
