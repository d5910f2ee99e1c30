package gitrepo_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"4d63.com/testcli"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/execshell"
	"github.com/temirov/gitnotify/internal/gitrepo"
	"github.com/temirov/gitnotify/internal/vcs"
)

func setupGitEnvironment(testInstance *testing.T) {
	testInstance.Helper()
	if _, lookupError := exec.LookPath("git"); lookupError != nil {
		testInstance.Skip("git is not available")
	}
	homeDirectory := testcli.MkdirTemp(testInstance)
	testInstance.Setenv("HOME", homeDirectory)
	testInstance.Setenv("XDG_CONFIG_HOME", filepath.Join(homeDirectory, ".config"))
	testInstance.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	testcli.Exec(testInstance, "git config --global user.email 'nstark@example.com'")
	testcli.Exec(testInstance, "git config --global user.name 'nstark'")
	testcli.Exec(testInstance, "git config --global init.defaultBranch master")
}

func gitOutput(testInstance *testing.T, command string) string {
	testInstance.Helper()
	_, standardOutput, _ := testcli.Exec(testInstance, command)
	return strings.TrimSpace(standardOutput)
}

func commitFile(testInstance *testing.T, fileName string, message string) string {
	testInstance.Helper()
	testcli.WriteFile(testInstance, fileName, []byte(message))
	testcli.Exec(testInstance, "git add .")
	testcli.Exec(testInstance, "git commit -q -m '"+message+"'")
	return gitOutput(testInstance, "git rev-parse HEAD")
}

func newShellClient(testInstance *testing.T) *gitrepo.Client {
	testInstance.Helper()
	executor, executorError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner())
	require.NoError(testInstance, executorError)
	client, clientError := gitrepo.NewClient(executor)
	require.NoError(testInstance, clientError)
	return client
}

func TestClientTracksUpstreamBranches(testInstance *testing.T) {
	setupGitEnvironment(testInstance)
	executionContext := context.Background()

	upstreamDirectory := testcli.MkdirTemp(testInstance)
	testcli.Chdir(testInstance, upstreamDirectory)
	testcli.Exec(testInstance, "git init -q")
	initialCommit := commitFile(testInstance, "readme", "Initial import")
	testcli.Exec(testInstance, "git checkout -q -b feature")
	featureCommit := commitFile(testInstance, "feature", "Fix bugs.")
	testcli.Exec(testInstance, "git checkout -q master")

	client := newShellClient(testInstance)
	clonePath := filepath.Join(testcli.MkdirTemp(testInstance), "repositories", "test2")
	require.NoError(testInstance, client.Clone(executionContext, upstreamDirectory, clonePath))

	repository, openError := client.Open(executionContext, clonePath)
	require.NoError(testInstance, openError)

	activeBranch, activeError := repository.ActiveBranch(executionContext)
	require.NoError(testInstance, activeError)
	require.Equal(testInstance, "master", activeBranch)

	branchNames, branchesError := repository.RemoteBranchNames(executionContext)
	require.NoError(testInstance, branchesError)
	require.Equal(testInstance, []string{"feature", "master"}, branchNames)

	require.NoError(testInstance, repository.Fetch(executionContext, "feature"))
	featureHead, resolveError := repository.ResolveCommit(executionContext, "refs/heads/feature")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, featureCommit, featureHead.ID)
	require.Equal(testInstance, "nstark", featureHead.AuthorName)
	require.Equal(testInstance, "Fix bugs.", featureHead.FirstLine())

	testcli.Exec(testInstance, "git checkout -q feature")
	secondFeatureCommit := commitFile(testInstance, "feature2", "Snarks and grumpkins")
	testcli.Exec(testInstance, "git checkout -q master")
	secondMasterCommit := commitFile(testInstance, "readme2", "Finished brooding")

	require.NoError(testInstance, repository.Fetch(executionContext, "feature"))
	require.NoError(testInstance, repository.Pull(executionContext, "master"))

	newFeatureCommits, rangeError := repository.CommitRange(executionContext, featureCommit, "refs/heads/feature")
	require.NoError(testInstance, rangeError)
	require.Len(testInstance, newFeatureCommits, 1)
	require.Equal(testInstance, secondFeatureCommit, newFeatureCommits[0].ID)

	newMasterCommits, masterRangeError := repository.CommitRange(executionContext, initialCommit, "refs/heads/master")
	require.NoError(testInstance, masterRangeError)
	require.Len(testInstance, newMasterCommits, 1)
	require.Equal(testInstance, secondMasterCommit, newMasterCommits[0].ID)

	recentCommits, recentError := repository.RecentCommits(executionContext, "feature", 5)
	require.NoError(testInstance, recentError)
	require.Len(testInstance, recentCommits, 3)
	require.Equal(testInstance, secondFeatureCommit, recentCommits[0].ID)

	isAncestor, ancestryError := repository.IsAncestor(executionContext, featureCommit, secondFeatureCommit)
	require.NoError(testInstance, ancestryError)
	require.True(testInstance, isAncestor)

	isAncestor, ancestryError = repository.IsAncestor(executionContext, secondFeatureCommit, featureCommit)
	require.NoError(testInstance, ancestryError)
	require.False(testInstance, isAncestor)

	abbreviated, abbreviatedError := repository.ResolveCommit(executionContext, secondFeatureCommit[:7])
	require.NoError(testInstance, abbreviatedError)
	require.Equal(testInstance, secondFeatureCommit, abbreviated.ID)

	_, missingError := repository.ResolveCommit(executionContext, "0000000")
	require.ErrorIs(testInstance, missingError, vcs.ErrCommitNotFound)
}

func TestClientOpenRejectsPlainDirectory(testInstance *testing.T) {
	setupGitEnvironment(testInstance)

	client := newShellClient(testInstance)
	_, openError := client.Open(context.Background(), testcli.MkdirTemp(testInstance))
	require.Error(testInstance, openError)
}
