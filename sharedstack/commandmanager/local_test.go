package commandmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLocalCapturesOutput(t *testing.T) {
	manager := &LocalCommandManager{}

	result, err := manager.Run(context.Background(), CommandConfig{
		Command: "echo",
		Args:    []string{"hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.Timestamp.IsZero())
}

func TestRunLocalAppliesEnv(t *testing.T) {
	manager := &LocalCommandManager{}

	result, err := manager.Run(context.Background(), CommandConfig{
		Command: "sh",
		Args:    []string{"-c", "echo $EUPS_PATH"},
		Env:     []string{"EUPS_PATH=/ssd/lsstsw/stack"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/ssd/lsstsw/stack\n", result.Stdout)
}

func TestRunLocalReportsExitCode(t *testing.T) {
	manager := &LocalCommandManager{}

	result, err := manager.Run(context.Background(), CommandConfig{
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
	})
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, cmdErr.Error(), "exit code 3")
	assert.Contains(t, cmdErr.Error(), "oops")
}

func TestRunLocalHonoursContextDeadline(t *testing.T) {
	manager := &LocalCommandManager{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := manager.Run(ctx, CommandConfig{
		Command: "sleep",
		Args:    []string{"10"},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunLocalFeedsStdin(t *testing.T) {
	manager := &LocalCommandManager{}

	result, err := manager.Run(context.Background(), CommandConfig{
		Command: "cat",
		Stdin:   "declare -t w_2016_10\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "declare -t w_2016_10\n", result.Stdout)
}
