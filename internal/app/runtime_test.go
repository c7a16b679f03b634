package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	require.Equal(t, TestModeEnv, guard.EnvVar)
	require.True(t, InTestMode())

	t.Setenv(guard.EnvVar, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(guard.EnvVar, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(guard.EnvVar, "maybe")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestResolveCommand(t *testing.T) {
	t.Cleanup(RefreshTestMode)
	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	cmd, err := ResolveCommand([]string{"jobs", "stats"})
	require.NoError(t, err)
	require.Equal(t, CommandSkip, cmd.Name)

	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()

	cmd, err = ResolveCommand(nil)
	require.NoError(t, err)
	require.Equal(t, Command{Name: CommandServe}, cmd)

	cmd, err = ResolveCommand([]string{"jobs", "retry", "--queue", "default"})
	require.NoError(t, err)
	require.Equal(t, CommandJobs, cmd.Name)
	require.Equal(t, []string{"retry", "--queue", "default"}, cmd.Args)

	_, err = ResolveCommand([]string{"migrate"})
	require.ErrorContains(t, err, "unknown command")
}
