package vcs

import "context"

// Client materializes and opens local clones.
type Client interface {
	// Clone creates a clone of remoteURL at destinationPath.
	Clone(executionContext context.Context, remoteURL string, destinationPath string) error
	// Open attaches to an existing clone.
	Open(executionContext context.Context, repositoryPath string) (Repository, error)
}

// Repository exposes the operations the watcher performs on one local clone.
// Implementations are not safe for concurrent use; callers serialize access.
type Repository interface {
	// Fetch updates refs/heads/<branch> from origin without touching the worktree.
	Fetch(executionContext context.Context, branch string) error
	// Pull fast-forwards the checked out branch from origin.
	Pull(executionContext context.Context, branch string) error
	// ResolveCommit looks up a full or abbreviated identifier, or a branch name.
	// Unknown identifiers yield ErrCommitNotFound.
	ResolveCommit(executionContext context.Context, identifier string) (Commit, error)
	// CommitRange lists commits reachable from to and not from from, newest first.
	// An empty from lists the whole history of to.
	CommitRange(executionContext context.Context, from string, to string) ([]Commit, error)
	// RecentCommits lists up to count commits of branch, newest first.
	RecentCommits(executionContext context.Context, branch string, count int) ([]Commit, error)
	// RemoteBranchNames lists the branch names advertised by origin.
	RemoteBranchNames(executionContext context.Context) ([]string, error)
	// LocalBranchNames lists the branches present in the clone without contacting origin.
	LocalBranchNames(executionContext context.Context) ([]string, error)
	// ActiveBranch names the checked out branch; detached heads yield an empty name.
	ActiveBranch(executionContext context.Context) (string, error)
	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(executionContext context.Context, ancestor string, descendant string) (bool, error)
}
