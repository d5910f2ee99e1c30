package execshell_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/execshell"
)

func requireShell(testInstance *testing.T) {
	testInstance.Helper()
	if _, lookupError := exec.LookPath("sh"); lookupError != nil {
		testInstance.Skip("sh is not available")
	}
}

func TestOSCommandRunnerReportsExitCode(testInstance *testing.T) {
	requireShell(testInstance)

	runner := execshell.NewOSCommandRunner()
	result, runError := runner.Run(context.Background(), execshell.ShellCommand{
		Name: execshell.CommandName("sh"),
		Details: execshell.CommandDetails{
			Arguments:            []string{"-c", "printf \"$GITNOTIFY_TEST_VALUE\"; printf oops >&2; exit 3"},
			EnvironmentVariables: map[string]string{"GITNOTIFY_TEST_VALUE": "hello"},
		},
	})

	require.NoError(testInstance, runError)
	require.Equal(testInstance, 3, result.ExitCode)
	require.Equal(testInstance, "hello", result.StandardOutput)
	require.Equal(testInstance, "oops", result.StandardError)
}

func TestOSCommandRunnerHonorsContextDeadline(testInstance *testing.T) {
	requireShell(testInstance)

	executionContext, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	runner := execshell.NewOSCommandRunner()
	startTime := time.Now()
	_, runError := runner.Run(executionContext, execshell.ShellCommand{
		Name:    execshell.CommandName("sh"),
		Details: execshell.CommandDetails{Arguments: []string{"-c", "sleep 10"}},
	})

	require.ErrorIs(testInstance, runError, context.DeadlineExceeded)
	require.Less(testInstance, time.Since(startTime), 8*time.Second)
}
