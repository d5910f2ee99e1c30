package gitnative

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	goGit "github.com/go-git/go-git/v5"
	goGitConfig "github.com/go-git/go-git/v5/config"
	goGitPlumbing "github.com/go-git/go-git/v5/plumbing"
	goGitObject "github.com/go-git/go-git/v5/plumbing/object"
	goGitStorer "github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	originRemoteNameConstant                 = "origin"
	branchRefspecTemplateConstant            = "refs/heads/%s:refs/heads/%s"
	cloneDirectoryPermissionsConstant        = 0o755
	cloneParentCreationErrorTemplateConstant = "failed to create clone parent directory %s: %w"
	cloneErrorTemplateConstant               = "failed to clone %s: %w"
	openErrorTemplateConstant                = "failed to open repository at %s: %w"
	fetchErrorTemplateConstant               = "failed to fetch branch %s: %w"
	pullErrorTemplateConstant                = "failed to pull branch %s: %w"
	worktreeErrorTemplateConstant            = "failed to open worktree: %w"
	resolveErrorTemplateConstant             = "failed to resolve %s: %w"
	logErrorTemplateConstant                 = "failed to walk history from %s: %w"
	remoteErrorTemplateConstant              = "failed to list remote branches: %w"
	localBranchesErrorTemplateConstant       = "failed to list local branches: %w"
	headErrorTemplateConstant                = "failed to read HEAD: %w"
	ancestryErrorTemplateConstant            = "failed to compare %s with %s: %w"
)

// Client implements vcs.Client in-process with go-git.
type Client struct{}

// NewClient constructs a Client.
func NewClient() *Client {
	return &Client{}
}

// Clone creates a clone of remoteURL at destinationPath with the default branch checked out.
func (client *Client) Clone(executionContext context.Context, remoteURL string, destinationPath string) error {
	parentDirectory := filepath.Dir(destinationPath)
	if mkdirError := os.MkdirAll(parentDirectory, cloneDirectoryPermissionsConstant); mkdirError != nil {
		return fmt.Errorf(cloneParentCreationErrorTemplateConstant, parentDirectory, mkdirError)
	}
	_, cloneError := goGit.PlainCloneContext(executionContext, destinationPath, false, &goGit.CloneOptions{
		URL:        remoteURL,
		RemoteName: originRemoteNameConstant,
	})
	if cloneError != nil {
		return fmt.Errorf(cloneErrorTemplateConstant, remoteURL, cloneError)
	}
	return nil
}

// Open attaches to an existing clone.
func (client *Client) Open(_ context.Context, repositoryPath string) (vcs.Repository, error) {
	repository, openError := goGit.PlainOpen(repositoryPath)
	if openError != nil {
		return nil, fmt.Errorf(openErrorTemplateConstant, repositoryPath, openError)
	}
	return &Repository{repository: repository}, nil
}

// Repository implements vcs.Repository over a go-git repository.
type Repository struct {
	repository *goGit.Repository
}

// Fetch updates refs/heads/<branch> from origin; non fast-forward updates are rejected.
func (repository *Repository) Fetch(executionContext context.Context, branch string) error {
	fetchError := repository.repository.FetchContext(executionContext, &goGit.FetchOptions{
		RemoteName: originRemoteNameConstant,
		RefSpecs:   []goGitConfig.RefSpec{goGitConfig.RefSpec(fmt.Sprintf(branchRefspecTemplateConstant, branch, branch))},
	})
	if fetchError != nil && !errors.Is(fetchError, goGit.NoErrAlreadyUpToDate) {
		return fmt.Errorf(fetchErrorTemplateConstant, branch, fetchError)
	}
	return nil
}

// Pull fast-forwards the checked out branch.
func (repository *Repository) Pull(executionContext context.Context, branch string) error {
	worktree, worktreeError := repository.repository.Worktree()
	if worktreeError != nil {
		return fmt.Errorf(worktreeErrorTemplateConstant, worktreeError)
	}
	pullError := worktree.PullContext(executionContext, &goGit.PullOptions{
		RemoteName:    originRemoteNameConstant,
		ReferenceName: goGitPlumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if pullError != nil && !errors.Is(pullError, goGit.NoErrAlreadyUpToDate) {
		return fmt.Errorf(pullErrorTemplateConstant, branch, pullError)
	}
	return nil
}

// ResolveCommit resolves a hash, hash prefix or reference to a commit.
func (repository *Repository) ResolveCommit(_ context.Context, identifier string) (vcs.Commit, error) {
	commitObject, resolveError := repository.resolveCommitObject(identifier)
	if resolveError != nil {
		return vcs.Commit{}, resolveError
	}
	return convertCommit(commitObject), nil
}

// CommitRange lists commits reachable from to and not from from, newest first.
func (repository *Repository) CommitRange(executionContext context.Context, from string, to string) ([]vcs.Commit, error) {
	toCommit, toError := repository.resolveCommitObject(to)
	if toError != nil {
		return nil, toError
	}

	excluded := map[goGitPlumbing.Hash]struct{}{}
	if len(from) > 0 {
		fromCommit, fromError := repository.resolveCommitObject(from)
		if fromError != nil {
			return nil, fromError
		}
		walkError := repository.walk(executionContext, fromCommit.Hash, func(commitObject *goGitObject.Commit) error {
			excluded[commitObject.Hash] = struct{}{}
			return nil
		})
		if walkError != nil {
			return nil, fmt.Errorf(logErrorTemplateConstant, from, walkError)
		}
	}

	commits := []vcs.Commit{}
	walkError := repository.walk(executionContext, toCommit.Hash, func(commitObject *goGitObject.Commit) error {
		if _, isExcluded := excluded[commitObject.Hash]; isExcluded {
			return nil
		}
		commits = append(commits, convertCommit(commitObject))
		return nil
	})
	if walkError != nil {
		return nil, fmt.Errorf(logErrorTemplateConstant, to, walkError)
	}

	sort.SliceStable(commits, func(first int, second int) bool {
		return commits[first].Timestamp.After(commits[second].Timestamp)
	})
	return commits, nil
}

// RecentCommits lists up to count commits of branch, newest first.
func (repository *Repository) RecentCommits(executionContext context.Context, branch string, count int) ([]vcs.Commit, error) {
	headCommit, resolveError := repository.resolveCommitObject(goGitPlumbing.NewBranchReferenceName(branch).String())
	if resolveError != nil {
		return nil, resolveError
	}

	commits := []vcs.Commit{}
	walkError := repository.walk(executionContext, headCommit.Hash, func(commitObject *goGitObject.Commit) error {
		if len(commits) >= count {
			return goGitStorer.ErrStop
		}
		commits = append(commits, convertCommit(commitObject))
		return nil
	})
	if walkError != nil {
		return nil, fmt.Errorf(logErrorTemplateConstant, branch, walkError)
	}
	return commits, nil
}

// RemoteBranchNames lists branches advertised by origin, sorted.
func (repository *Repository) RemoteBranchNames(executionContext context.Context) ([]string, error) {
	remote, remoteError := repository.repository.Remote(originRemoteNameConstant)
	if remoteError != nil {
		return nil, fmt.Errorf(remoteErrorTemplateConstant, remoteError)
	}
	references, listError := remote.ListContext(executionContext, &goGit.ListOptions{})
	if listError != nil {
		return nil, fmt.Errorf(remoteErrorTemplateConstant, listError)
	}

	branchNames := []string{}
	for _, reference := range references {
		if reference.Name().IsBranch() {
			branchNames = append(branchNames, reference.Name().Short())
		}
	}
	sort.Strings(branchNames)
	return branchNames, nil
}

// LocalBranchNames lists the branches of the clone, sorted.
func (repository *Repository) LocalBranchNames(_ context.Context) ([]string, error) {
	references, listError := repository.repository.Branches()
	if listError != nil {
		return nil, fmt.Errorf(localBranchesErrorTemplateConstant, listError)
	}
	defer references.Close()

	branchNames := []string{}
	iterationError := references.ForEach(func(reference *goGitPlumbing.Reference) error {
		branchNames = append(branchNames, reference.Name().Short())
		return nil
	})
	if iterationError != nil {
		return nil, fmt.Errorf(localBranchesErrorTemplateConstant, iterationError)
	}
	sort.Strings(branchNames)
	return branchNames, nil
}

// ActiveBranch names the checked out branch, or "" for a detached head.
func (repository *Repository) ActiveBranch(_ context.Context) (string, error) {
	headReference, headError := repository.repository.Head()
	if headError != nil {
		return "", fmt.Errorf(headErrorTemplateConstant, headError)
	}
	if !headReference.Name().IsBranch() {
		return "", nil
	}
	return headReference.Name().Short(), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (repository *Repository) IsAncestor(_ context.Context, ancestor string, descendant string) (bool, error) {
	ancestorCommit, ancestorError := repository.resolveCommitObject(ancestor)
	if ancestorError != nil {
		return false, fmt.Errorf(ancestryErrorTemplateConstant, ancestor, descendant, ancestorError)
	}
	descendantCommit, descendantError := repository.resolveCommitObject(descendant)
	if descendantError != nil {
		return false, fmt.Errorf(ancestryErrorTemplateConstant, ancestor, descendant, descendantError)
	}
	if ancestorCommit.Hash == descendantCommit.Hash {
		return true, nil
	}
	isAncestor, ancestryError := ancestorCommit.IsAncestor(descendantCommit)
	if ancestryError != nil {
		return false, fmt.Errorf(ancestryErrorTemplateConstant, ancestor, descendant, ancestryError)
	}
	return isAncestor, nil
}

func (repository *Repository) resolveCommitObject(identifier string) (*goGitObject.Commit, error) {
	hash, resolveError := repository.repository.ResolveRevision(goGitPlumbing.Revision(identifier))
	if resolveError != nil {
		if isMissingObjectError(resolveError) {
			return nil, fmt.Errorf(resolveErrorTemplateConstant, identifier, vcs.ErrCommitNotFound)
		}
		return nil, fmt.Errorf(resolveErrorTemplateConstant, identifier, resolveError)
	}
	commitObject, commitError := repository.repository.CommitObject(*hash)
	if commitError != nil {
		if isMissingObjectError(commitError) {
			return nil, fmt.Errorf(resolveErrorTemplateConstant, identifier, vcs.ErrCommitNotFound)
		}
		return nil, fmt.Errorf(resolveErrorTemplateConstant, identifier, commitError)
	}
	return commitObject, nil
}

func (repository *Repository) walk(executionContext context.Context, from goGitPlumbing.Hash, visit func(*goGitObject.Commit) error) error {
	commitIterator, logError := repository.repository.Log(&goGit.LogOptions{From: from})
	if logError != nil {
		return logError
	}
	defer commitIterator.Close()

	iterationError := commitIterator.ForEach(func(commitObject *goGitObject.Commit) error {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}
		return visit(commitObject)
	})
	if errors.Is(iterationError, goGitStorer.ErrStop) {
		return nil
	}
	return iterationError
}

func isMissingObjectError(candidate error) bool {
	return errors.Is(candidate, goGitPlumbing.ErrReferenceNotFound) || errors.Is(candidate, goGitPlumbing.ErrObjectNotFound)
}

func convertCommit(commitObject *goGitObject.Commit) vcs.Commit {
	return vcs.Commit{
		ID:          commitObject.Hash.String(),
		AuthorName:  commitObject.Author.Name,
		AuthorEmail: commitObject.Author.Email,
		Message:     commitObject.Message,
		Timestamp:   commitObject.Committer.When.UTC(),
	}
}
