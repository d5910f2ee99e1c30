package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/execshell"
	"github.com/temirov/gitnotify/internal/metrics"
)

func TestPrometheusRecorderCollectsWatcherMetrics(testInstance *testing.T) {
	recorder := metrics.NewPrometheusRecorder()

	recorder.ObserveFetch("test2", metrics.OutcomeSuccess, 2*time.Second)
	recorder.ObserveFetch("test2", metrics.OutcomeTimeout, time.Second)
	recorder.ObservePoll("test2", metrics.OutcomeSuccess)
	recorder.IncContention(metrics.LoopPolling, "test2")
	recorder.AddNotifiedCommits("test2", 3)
	recorder.SetRepositories(2)

	fetchCommand := execshell.ShellCommand{Name: execshell.CommandGit, Details: execshell.CommandDetails{Arguments: []string{"fetch", "--quiet"}}}
	recorder.CommandStarted(fetchCommand)
	recorder.CommandCompleted(fetchCommand, execshell.ExecutionResult{ExitCode: 0})
	recorder.CommandCompleted(fetchCommand, execshell.ExecutionResult{ExitCode: 128})
	recorder.CommandExecutionFailed(execshell.ShellCommand{Name: execshell.CommandGit}, nil)

	expected := `
# HELP gitnotify_fetches_total Repository fetch passes by outcome
# TYPE gitnotify_fetches_total counter
gitnotify_fetches_total{outcome="success",repository="test2"} 1
gitnotify_fetches_total{outcome="timeout",repository="test2"} 1
# HELP gitnotify_git_commands_total Git command executions by subcommand and outcome
# TYPE gitnotify_git_commands_total counter
gitnotify_git_commands_total{outcome="error",subcommand="unknown"} 1
gitnotify_git_commands_total{outcome="failure",subcommand="fetch"} 1
gitnotify_git_commands_total{outcome="success",subcommand="fetch"} 1
# HELP gitnotify_lock_contention_total Repositories skipped because their lock was held
# TYPE gitnotify_lock_contention_total counter
gitnotify_lock_contention_total{loop="polling",repository="test2"} 1
# HELP gitnotify_notified_commits_total Commits announced to channels
# TYPE gitnotify_notified_commits_total counter
gitnotify_notified_commits_total{repository="test2"} 3
# HELP gitnotify_polls_total Repository notification scans by outcome
# TYPE gitnotify_polls_total counter
gitnotify_polls_total{outcome="success",repository="test2"} 1
# HELP gitnotify_repositories Repositories currently watched
# TYPE gitnotify_repositories gauge
gitnotify_repositories 2
`
	require.NoError(testInstance, testutil.GatherAndCompare(recorder.Gatherer(), strings.NewReader(expected),
		"gitnotify_fetches_total",
		"gitnotify_git_commands_total",
		"gitnotify_lock_contention_total",
		"gitnotify_notified_commits_total",
		"gitnotify_polls_total",
		"gitnotify_repositories",
	))
}
