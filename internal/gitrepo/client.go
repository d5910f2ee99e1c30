package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/temirov/gitnotify/internal/execshell"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	gitExecutorMissingMessageConstant           = "git executor not configured"
	gitCloneSubcommandConstant                  = "clone"
	gitFetchSubcommandConstant                  = "fetch"
	gitPullSubcommandConstant                   = "pull"
	gitLogSubcommandConstant                    = "log"
	gitRevParseSubcommandConstant               = "rev-parse"
	gitLSRemoteSubcommandConstant               = "ls-remote"
	gitMergeBaseSubcommandConstant              = "merge-base"
	gitForEachRefSubcommandConstant             = "for-each-ref"
	gitShortRefnameFormatFlagConstant           = "--format=%(refname:short)"
	gitQuietFlagConstant                        = "--quiet"
	gitVerifyFlagConstant                       = "--verify"
	gitGitDirectoryFlagConstant                 = "--git-dir"
	gitAbbrevRefFlagConstant                    = "--abbrev-ref"
	gitHeadsFlagConstant                        = "--heads"
	gitFastForwardOnlyFlagConstant              = "--ff-only"
	gitIsAncestorFlagConstant                   = "--is-ancestor"
	gitNoWalkFlagConstant                       = "--no-walk"
	gitMaxCountFlagTemplateConstant             = "--max-count=%d"
	gitEndOfOptionsConstant                     = "--"
	gitOriginRemoteConstant                     = "origin"
	gitHeadReferenceConstant                    = "HEAD"
	gitBranchReferencePrefixConstant            = "refs/heads/"
	gitCommitPeelSuffixConstant                 = "^{commit}"
	gitRangeTemplateConstant                    = "%s..%s"
	gitRefspecTemplateConstant                  = "%s%s:%s%s"
	gitLogFormatFlagConstant                    = "--format=%H%x00%an%x00%ae%x00%ct%x00%B%x1e"
	gitLogRecordSeparatorConstant               = "\x1e"
	gitLogFieldSeparatorConstant                = "\x00"
	gitLogFieldCountConstant                    = 5
	gitTerminalPromptEnvironmentNameConstant    = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptEnvironmentDisableConstant = "0"
	gitLSRemoteFieldSeparatorConstant           = "\t"
	ancestryNegativeExitCodeConstant            = 1
	revisionMissingExitCodeConstant             = 1
	cloneDirectoryPermissionsConstant           = 0o755
	cloneParentCreationErrorTemplateConstant    = "failed to create clone parent directory %s: %w"
	cloneErrorTemplateConstant                  = "failed to clone %s: %w"
	openErrorTemplateConstant                   = "%s is not a git repository: %w"
	fetchErrorTemplateConstant                  = "failed to fetch branch %s: %w"
	pullErrorTemplateConstant                   = "failed to pull branch %s: %w"
	resolveErrorTemplateConstant                = "failed to resolve %s: %w"
	logErrorTemplateConstant                    = "failed to list commits %s: %w"
	listBranchesErrorTemplateConstant           = "failed to list remote branches: %w"
	listLocalBranchesErrorTemplateConstant      = "failed to list local branches: %w"
	activeBranchErrorTemplateConstant           = "failed to read active branch: %w"
	ancestryErrorTemplateConstant               = "failed to compare %s with %s: %w"
	malformedLogRecordTemplateConstant          = "malformed log record %q"
	malformedTimestampTemplateConstant          = "malformed commit timestamp %q: %w"
)

// ErrGitExecutorNotConfigured indicates the client was constructed without an executor.
var ErrGitExecutorNotConfigured = errors.New(gitExecutorMissingMessageConstant)

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Client implements vcs.Client with the git command line.
type Client struct {
	executor GitExecutor
}

// NewClient constructs a Client.
func NewClient(executor GitExecutor) (*Client, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &Client{executor: executor}, nil
}

// Clone creates a full clone with the remote's default branch checked out.
func (client *Client) Clone(executionContext context.Context, remoteURL string, destinationPath string) error {
	parentDirectory := filepath.Dir(destinationPath)
	if mkdirError := os.MkdirAll(parentDirectory, cloneDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(cloneParentCreationErrorTemplateConstant, parentDirectory, mkdirError)
	}

	_, cloneError := runGit(executionContext, client.executor, "", gitCloneSubcommandConstant, gitQuietFlagConstant, gitEndOfOptionsConstant, remoteURL, destinationPath)
	if cloneError != nil {
		return fmt.Errorf(cloneErrorTemplateConstant, remoteURL, cloneError)
	}
	return nil
}

// Open attaches to an existing clone.
func (client *Client) Open(executionContext context.Context, repositoryPath string) (vcs.Repository, error) {
	if _, verifyError := runGit(executionContext, client.executor, repositoryPath, gitRevParseSubcommandConstant, gitGitDirectoryFlagConstant); verifyError != nil {
		return nil, fmt.Errorf(openErrorTemplateConstant, repositoryPath, verifyError)
	}
	return &Repository{executor: client.executor, path: repositoryPath}, nil
}

// Repository implements vcs.Repository for one clone.
type Repository struct {
	executor GitExecutor
	path     string
}

// Fetch updates refs/heads/<branch> from origin. Non fast-forward updates are rejected.
func (repository *Repository) Fetch(executionContext context.Context, branch string) error {
	refspec := fmt.Sprintf(gitRefspecTemplateConstant, gitBranchReferencePrefixConstant, branch, gitBranchReferencePrefixConstant, branch)
	if _, fetchError := repository.run(executionContext, gitFetchSubcommandConstant, gitQuietFlagConstant, gitOriginRemoteConstant, refspec); fetchError != nil {
		return fmt.Errorf(fetchErrorTemplateConstant, branch, fetchError)
	}
	return nil
}

// Pull fast-forwards the checked out branch.
func (repository *Repository) Pull(executionContext context.Context, branch string) error {
	if _, pullError := repository.run(executionContext, gitPullSubcommandConstant, gitFastForwardOnlyFlagConstant, gitQuietFlagConstant, gitOriginRemoteConstant, branch); pullError != nil {
		return fmt.Errorf(pullErrorTemplateConstant, branch, pullError)
	}
	return nil
}

// ResolveCommit looks up identifier, which may be an abbreviated hash or a reference.
func (repository *Repository) ResolveCommit(executionContext context.Context, identifier string) (vcs.Commit, error) {
	result, resolveError := repository.run(executionContext, gitRevParseSubcommandConstant, gitVerifyFlagConstant, gitQuietFlagConstant, identifier+gitCommitPeelSuffixConstant)
	if resolveError != nil {
		var failedError execshell.CommandFailedError
		if errors.As(resolveError, &failedError) && failedError.Result.ExitCode == revisionMissingExitCodeConstant {
			return vcs.Commit{}, fmt.Errorf(resolveErrorTemplateConstant, identifier, vcs.ErrCommitNotFound)
		}
		return vcs.Commit{}, fmt.Errorf(resolveErrorTemplateConstant, identifier, resolveError)
	}

	fullIdentifier := strings.TrimSpace(result.StandardOutput)
	commits, logError := repository.log(executionContext, fullIdentifier, gitNoWalkFlagConstant, fullIdentifier)
	if logError != nil {
		return vcs.Commit{}, logError
	}
	if len(commits) == 0 {
		return vcs.Commit{}, fmt.Errorf(resolveErrorTemplateConstant, identifier, vcs.ErrCommitNotFound)
	}
	return commits[0], nil
}

// CommitRange lists commits in from..to, newest first.
func (repository *Repository) CommitRange(executionContext context.Context, from string, to string) ([]vcs.Commit, error) {
	revision := to
	if len(from) > 0 {
		revision = fmt.Sprintf(gitRangeTemplateConstant, from, to)
	}
	return repository.log(executionContext, revision, revision)
}

// RecentCommits lists up to count commits of branch, newest first.
func (repository *Repository) RecentCommits(executionContext context.Context, branch string, count int) ([]vcs.Commit, error) {
	reference := gitBranchReferencePrefixConstant + branch
	return repository.log(executionContext, reference, fmt.Sprintf(gitMaxCountFlagTemplateConstant, count), reference)
}

// RemoteBranchNames lists branches advertised by origin, sorted.
func (repository *Repository) RemoteBranchNames(executionContext context.Context) ([]string, error) {
	result, listError := repository.run(executionContext, gitLSRemoteSubcommandConstant, gitHeadsFlagConstant, gitOriginRemoteConstant)
	if listError != nil {
		return nil, fmt.Errorf(listBranchesErrorTemplateConstant, listError)
	}

	branchNames := []string{}
	for _, line := range strings.Split(result.StandardOutput, "\n") {
		_, reference, found := strings.Cut(strings.TrimSpace(line), gitLSRemoteFieldSeparatorConstant)
		if !found || !strings.HasPrefix(reference, gitBranchReferencePrefixConstant) {
			continue
		}
		branchNames = append(branchNames, strings.TrimPrefix(reference, gitBranchReferencePrefixConstant))
	}
	sort.Strings(branchNames)
	return branchNames, nil
}

// LocalBranchNames lists the branches of the clone, sorted.
func (repository *Repository) LocalBranchNames(executionContext context.Context) ([]string, error) {
	result, listError := repository.run(executionContext, gitForEachRefSubcommandConstant, gitShortRefnameFormatFlagConstant, gitBranchReferencePrefixConstant)
	if listError != nil {
		return nil, fmt.Errorf(listLocalBranchesErrorTemplateConstant, listError)
	}

	branchNames := []string{}
	for _, line := range strings.Split(result.StandardOutput, "\n") {
		branchName := strings.TrimSpace(line)
		if len(branchName) > 0 {
			branchNames = append(branchNames, branchName)
		}
	}
	sort.Strings(branchNames)
	return branchNames, nil
}

// ActiveBranch names the checked out branch, or "" for a detached head.
func (repository *Repository) ActiveBranch(executionContext context.Context) (string, error) {
	result, branchError := repository.run(executionContext, gitRevParseSubcommandConstant, gitAbbrevRefFlagConstant, gitHeadReferenceConstant)
	if branchError != nil {
		return "", fmt.Errorf(activeBranchErrorTemplateConstant, branchError)
	}
	branchName := strings.TrimSpace(result.StandardOutput)
	if branchName == gitHeadReferenceConstant {
		return "", nil
	}
	return branchName, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (repository *Repository) IsAncestor(executionContext context.Context, ancestor string, descendant string) (bool, error) {
	_, ancestryError := repository.run(executionContext, gitMergeBaseSubcommandConstant, gitIsAncestorFlagConstant, ancestor, descendant)
	if ancestryError == nil {
		return true, nil
	}
	var failedError execshell.CommandFailedError
	if errors.As(ancestryError, &failedError) && failedError.Result.ExitCode == ancestryNegativeExitCodeConstant {
		return false, nil
	}
	return false, fmt.Errorf(ancestryErrorTemplateConstant, ancestor, descendant, ancestryError)
}

func (repository *Repository) log(executionContext context.Context, description string, revisionArguments ...string) ([]vcs.Commit, error) {
	arguments := append([]string{gitLogSubcommandConstant, gitLogFormatFlagConstant}, revisionArguments...)
	arguments = append(arguments, gitEndOfOptionsConstant)
	result, logError := repository.run(executionContext, arguments...)
	if logError != nil {
		return nil, fmt.Errorf(logErrorTemplateConstant, description, logError)
	}
	commits, parseError := parseLogOutput(result.StandardOutput)
	if parseError != nil {
		return nil, fmt.Errorf(logErrorTemplateConstant, description, parseError)
	}
	return commits, nil
}

func (repository *Repository) run(executionContext context.Context, arguments ...string) (execshell.ExecutionResult, error) {
	return runGit(executionContext, repository.executor, repository.path, arguments...)
}

func runGit(executionContext context.Context, executor GitExecutor, workingDirectory string, arguments ...string) (execshell.ExecutionResult, error) {
	return executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:            arguments,
		WorkingDirectory:     workingDirectory,
		EnvironmentVariables: map[string]string{gitTerminalPromptEnvironmentNameConstant: gitTerminalPromptEnvironmentDisableConstant},
	})
}

func parseLogOutput(output string) ([]vcs.Commit, error) {
	commits := []vcs.Commit{}
	for _, record := range strings.Split(output, gitLogRecordSeparatorConstant) {
		trimmedRecord := strings.TrimLeft(record, "\r\n")
		if len(strings.TrimSpace(trimmedRecord)) == 0 {
			continue
		}
		fields := strings.SplitN(trimmedRecord, gitLogFieldSeparatorConstant, gitLogFieldCountConstant)
		if len(fields) != gitLogFieldCountConstant {
			return nil, fmt.Errorf(malformedLogRecordTemplateConstant, trimmedRecord)
		}
		unixSeconds, timestampError := strconv.ParseInt(fields[3], 10, 64)
		if timestampError != nil {
			return nil, fmt.Errorf(malformedTimestampTemplateConstant, fields[3], timestampError)
		}
		commits = append(commits, vcs.Commit{
			ID:          fields[0],
			AuthorName:  fields[1],
			AuthorEmail: fields[2],
			Timestamp:   time.Unix(unixSeconds, 0).UTC(),
			Message:     strings.TrimRight(fields[4], "\n"),
		})
	}
	return commits, nil
}
