package execshell

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandMessageFormatterDescribesGitSubcommands(t *testing.T) {
	testCases := []struct {
		name            string
		arguments       []string
		stage           messageStage
		result          ExecutionResult
		failure         error
		expectedMessage string
	}{
		{
			name:            "fetch_with_refspec",
			arguments:       []string{"fetch", "origin", "feature:feature"},
			stage:           messageStageStart,
			expectedMessage: "Fetching feature:feature from origin in /workspace/repo",
		},
		{
			name:            "fetch_without_remote",
			arguments:       []string{"fetch", "--prune"},
			stage:           messageStageSuccess,
			expectedMessage: "Fetched from all remotes in /workspace/repo",
		},
		{
			name:            "pull_failure",
			arguments:       []string{"pull", "--ff-only", "origin", "master"},
			stage:           messageStageFailure,
			result:          ExecutionResult{ExitCode: 1, StandardError: "fatal: Not possible to fast-forward\n"},
			expectedMessage: "Failed to pull master from origin in /workspace/repo (exit code 1: fatal: Not possible to fast-forward)",
		},
		{
			name:            "current_branch_detached",
			arguments:       []string{"rev-parse", "--abbrev-ref", "HEAD"},
			stage:           messageStageSuccess,
			result:          ExecutionResult{StandardOutput: "HEAD\n"},
			expectedMessage: "/workspace/repo is in a detached HEAD state",
		},
		{
			name:            "revision_resolution",
			arguments:       []string{"rev-parse", "--verify", "deadbee^{commit}"},
			stage:           messageStageStart,
			expectedMessage: "Resolving deadbee^{commit} in /workspace/repo",
		},
		{
			name:            "ancestry_execution_failure",
			arguments:       []string{"merge-base", "--is-ancestor", "aaaaaaa", "bbbbbbb"},
			stage:           messageStageExecutionFailure,
			failure:         errors.New("killed"),
			expectedMessage: "Unable to compare aaaaaaa with bbbbbbb in /workspace/repo: killed",
		},
		{
			name:            "log_range",
			arguments:       []string{"log", "--format=%H", "aaaaaaa..bbbbbbb"},
			stage:           messageStageSuccess,
			expectedMessage: "Read history aaaaaaa..bbbbbbb in /workspace/repo",
		},
		{
			name:            "generic_fallback",
			arguments:       []string{"gc"},
			stage:           messageStageStart,
			expectedMessage: "Running git gc (in /workspace/repo)",
		},
	}

	formatter := CommandMessageFormatter{}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			command := ShellCommand{
				Name: CommandGit,
				Details: CommandDetails{
					Arguments:        testCase.arguments,
					WorkingDirectory: "/workspace/repo",
				},
			}
			message := formatter.buildMessage(command, testCase.result, testCase.failure, testCase.stage)
			require.Equal(t, testCase.expectedMessage, message)
		})
	}
}

func TestBuildStartedMessageForCloneUsesSourceAndDestination(t *testing.T) {
	formatter := CommandMessageFormatter{}
	command := ShellCommand{
		Name: CommandGit,
		Details: CommandDetails{
			Arguments: []string{"clone", "--quiet", "https://github.com/example/widgets.git", "git_repositories/widgets"},
		},
	}

	require.Equal(t, "Cloning https://github.com/example/widgets.git into git_repositories/widgets", formatter.BuildStartedMessage(command))
}
