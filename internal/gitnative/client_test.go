package gitnative_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	goGit "github.com/go-git/go-git/v5"
	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	goGitObject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/gitnative"
	"github.com/temirov/gitnotify/internal/vcs"
)

var upstreamBaseTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type upstreamRepository struct {
	testInstance *testing.T
	path         string
	repository   *goGit.Repository
	commitCount  int
}

func newUpstreamRepository(testInstance *testing.T) *upstreamRepository {
	testInstance.Helper()
	repositoryPath := testInstance.TempDir()
	repository, initError := goGit.PlainInit(repositoryPath, false)
	require.NoError(testInstance, initError)
	return &upstreamRepository{testInstance: testInstance, path: repositoryPath, repository: repository}
}

func (upstream *upstreamRepository) commit(author string, message string) string {
	upstream.testInstance.Helper()
	worktree, worktreeError := upstream.repository.Worktree()
	require.NoError(upstream.testInstance, worktreeError)

	upstream.commitCount++
	fileName := filepath.Join(upstream.path, author+".txt")
	require.NoError(upstream.testInstance, os.WriteFile(fileName, []byte(message), 0o644))
	_, addError := worktree.Add(filepath.Base(fileName))
	require.NoError(upstream.testInstance, addError)

	signature := &goGitObject.Signature{
		Name:  author,
		Email: author + "@example.com",
		When:  upstreamBaseTime.Add(time.Duration(upstream.commitCount) * time.Minute),
	}
	hash, commitError := worktree.Commit(message, &goGit.CommitOptions{Author: signature, Committer: signature})
	require.NoError(upstream.testInstance, commitError)
	return hash.String()
}

func (upstream *upstreamRepository) checkout(branch string, create bool) {
	upstream.testInstance.Helper()
	worktree, worktreeError := upstream.repository.Worktree()
	require.NoError(upstream.testInstance, worktreeError)
	require.NoError(upstream.testInstance, worktree.Checkout(&goGit.CheckoutOptions{
		Branch: goGitPlumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

func commitIdentifiers(commits []vcs.Commit) []string {
	identifiers := make([]string, 0, len(commits))
	for _, commit := range commits {
		identifiers = append(identifiers, commit.ID)
	}
	return identifiers
}

func TestRepositoryHistoryQueries(testInstance *testing.T) {
	executionContext := context.Background()
	upstream := newUpstreamRepository(testInstance)
	initialCommit := upstream.commit("nstark", "Initial import")
	secondCommit := upstream.commit("tlannister", "Snarks and grumpkins\n\nLonger body.")
	upstream.checkout("feature", true)
	featureCommit := upstream.commit("nstark", "Fix bugs.")
	upstream.checkout("master", false)

	repository, openError := gitnative.NewClient().Open(executionContext, upstream.path)
	require.NoError(testInstance, openError)

	testInstance.Run("active_branch", func(testInstance *testing.T) {
		activeBranch, activeError := repository.ActiveBranch(executionContext)
		require.NoError(testInstance, activeError)
		require.Equal(testInstance, "master", activeBranch)
	})

	testInstance.Run("resolve_full_and_abbreviated", func(testInstance *testing.T) {
		commit, resolveError := repository.ResolveCommit(executionContext, secondCommit)
		require.NoError(testInstance, resolveError)
		require.Equal(testInstance, "tlannister", commit.AuthorName)
		require.Equal(testInstance, "tlannister@example.com", commit.AuthorEmail)
		require.Equal(testInstance, "Snarks and grumpkins", commit.FirstLine())
		require.True(testInstance, upstreamBaseTime.Add(2*time.Minute).Equal(commit.Timestamp))

		abbreviated, abbreviatedError := repository.ResolveCommit(executionContext, featureCommit[:7])
		require.NoError(testInstance, abbreviatedError)
		require.Equal(testInstance, featureCommit, abbreviated.ID)
	})

	testInstance.Run("resolve_unknown", func(testInstance *testing.T) {
		_, resolveError := repository.ResolveCommit(executionContext, "deadbeef")
		require.ErrorIs(testInstance, resolveError, vcs.ErrCommitNotFound)
	})

	testInstance.Run("commit_range", func(testInstance *testing.T) {
		commits, rangeError := repository.CommitRange(executionContext, initialCommit, "feature")
		require.NoError(testInstance, rangeError)
		require.Equal(testInstance, []string{featureCommit, secondCommit}, commitIdentifiers(commits))

		emptyRange, emptyError := repository.CommitRange(executionContext, featureCommit, "feature")
		require.NoError(testInstance, emptyError)
		require.Empty(testInstance, emptyRange)

		fullHistory, fullError := repository.CommitRange(executionContext, "", "master")
		require.NoError(testInstance, fullError)
		require.Equal(testInstance, []string{secondCommit, initialCommit}, commitIdentifiers(fullHistory))
	})

	testInstance.Run("recent_commits", func(testInstance *testing.T) {
		commits, recentError := repository.RecentCommits(executionContext, "feature", 2)
		require.NoError(testInstance, recentError)
		require.Equal(testInstance, []string{featureCommit, secondCommit}, commitIdentifiers(commits))
	})

	testInstance.Run("ancestry", func(testInstance *testing.T) {
		isAncestor, ancestryError := repository.IsAncestor(executionContext, initialCommit, featureCommit)
		require.NoError(testInstance, ancestryError)
		require.True(testInstance, isAncestor)

		isReverse, reverseError := repository.IsAncestor(executionContext, featureCommit, initialCommit)
		require.NoError(testInstance, reverseError)
		require.False(testInstance, isReverse)

		isSelf, selfError := repository.IsAncestor(executionContext, featureCommit, featureCommit)
		require.NoError(testInstance, selfError)
		require.True(testInstance, isSelf)
	})
}

func TestClientCloneFetchAndPull(testInstance *testing.T) {
	if _, lookupError := exec.LookPath("git"); lookupError != nil {
		testInstance.Skip("git is not available for the file transport")
	}
	executionContext := context.Background()
	upstream := newUpstreamRepository(testInstance)
	upstream.commit("nstark", "Initial import")
	upstream.checkout("feature", true)
	upstream.commit("nstark", "Feature work")
	upstream.checkout("master", false)

	client := gitnative.NewClient()
	clonePath := filepath.Join(testInstance.TempDir(), "repositories", "test2")
	require.NoError(testInstance, client.Clone(executionContext, upstream.path, clonePath))

	repository, openError := client.Open(executionContext, clonePath)
	require.NoError(testInstance, openError)

	branchNames, branchesError := repository.RemoteBranchNames(executionContext)
	require.NoError(testInstance, branchesError)
	require.Equal(testInstance, []string{"feature", "master"}, branchNames)

	require.NoError(testInstance, repository.Fetch(executionContext, "feature"))
	localBranchNames, localError := repository.LocalBranchNames(executionContext)
	require.NoError(testInstance, localError)
	require.Equal(testInstance, []string{"feature", "master"}, localBranchNames)
	upstream.checkout("feature", false)
	newFeatureCommit := upstream.commit("tlannister", "More feature work")
	upstream.checkout("master", false)
	newMasterCommit := upstream.commit("tlannister", "Master work")

	require.NoError(testInstance, repository.Fetch(executionContext, "feature"))
	featureHead, featureError := repository.ResolveCommit(executionContext, "refs/heads/feature")
	require.NoError(testInstance, featureError)
	require.Equal(testInstance, newFeatureCommit, featureHead.ID)

	require.NoError(testInstance, repository.Pull(executionContext, "master"))
	masterHead, masterError := repository.ResolveCommit(executionContext, "refs/heads/master")
	require.NoError(testInstance, masterError)
	require.Equal(testInstance, newMasterCommit, masterHead.ID)

	require.NoError(testInstance, repository.Fetch(executionContext, "feature"))
}

func TestClientOpenMissingRepository(testInstance *testing.T) {
	_, openError := gitnative.NewClient().Open(context.Background(), filepath.Join(testInstance.TempDir(), "absent"))
	require.Error(testInstance, openError)
}
