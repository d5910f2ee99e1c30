// Package vcstest provides an in-memory implementation of the vcs interfaces
// for tests. A fake repository keeps two sets of branch heads: the remote ones
// that tests push commits to, and the local ones that Fetch and Pull update.
package vcstest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	branchReferencePrefixConstant = "refs/heads/"
	gitDirectoryNameConstant      = ".git"
	unknownRemoteTemplateConstant = "no fake repository for %s"
	unknownCloneTemplateConstant  = "no clone at %s"
	unknownBranchTemplateConstant = "unknown branch %s"
	resolveTemplateConstant       = "resolve %s: %w"
)

// CommitID derives a stable 40 character identifier from seed.
func CommitID(seed string) string {
	digest := sha1.Sum([]byte(seed))
	return hex.EncodeToString(digest[:])
}

// Repository is an in-memory vcs.Repository.
type Repository struct {
	mutex          sync.Mutex
	commits        map[string]vcs.Commit
	parents        map[string]string
	remoteBranches map[string]string
	localBranches  map[string]string
	activeBranch   string
	fetchHook      func(executionContext context.Context, branch string) error
	resolveHook    func(identifier string) error
	calls          []string
}

// NewRepository constructs an empty repository whose checked out branch is activeBranch.
func NewRepository(activeBranch string) *Repository {
	return &Repository{
		commits:        map[string]vcs.Commit{},
		parents:        map[string]string{},
		remoteBranches: map[string]string{},
		localBranches:  map[string]string{},
		activeBranch:   activeBranch,
	}
}

// Push appends commits to the remote head of branch.
func (repository *Repository) Push(branch string, commits ...vcs.Commit) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	for _, commit := range commits {
		repository.commits[commit.ID] = commit
		if parent, exists := repository.remoteBranches[branch]; exists {
			repository.parents[commit.ID] = parent
		}
		repository.remoteBranches[branch] = commit.ID
	}
}

// ForkBranch creates remote branch starting at the remote head of source.
func (repository *Repository) ForkBranch(branch string, source string) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.remoteBranches[branch] = repository.remoteBranches[source]
}

// ForcePush moves the remote head of branch to an existing commit.
func (repository *Repository) ForcePush(branch string, commitID string) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.remoteBranches[branch] = commitID
}

// SyncAll copies every remote head to the local heads.
func (repository *Repository) SyncAll() {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	for branch, head := range repository.remoteBranches {
		repository.localBranches[branch] = head
	}
}

// SetFetchHook installs a function run at the start of every Fetch and Pull.
// A non-nil result fails the call without updating the local head.
func (repository *Repository) SetFetchHook(hook func(executionContext context.Context, branch string) error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.fetchHook = hook
}

// SetResolveHook installs a function run before every history query.
func (repository *Repository) SetResolveHook(hook func(identifier string) error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	repository.resolveHook = hook
}

// Calls lists the recorded Fetch and Pull calls as "fetch:<branch>" and "pull:<branch>".
func (repository *Repository) Calls() []string {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	return append([]string{}, repository.calls...)
}

// Fetch implements vcs.Repository.
func (repository *Repository) Fetch(executionContext context.Context, branch string) error {
	return repository.update(executionContext, "fetch", branch)
}

// Pull implements vcs.Repository.
func (repository *Repository) Pull(executionContext context.Context, branch string) error {
	return repository.update(executionContext, "pull", branch)
}

func (repository *Repository) update(executionContext context.Context, operation string, branch string) error {
	repository.mutex.Lock()
	repository.calls = append(repository.calls, operation+":"+branch)
	hook := repository.fetchHook
	repository.mutex.Unlock()

	if hook != nil {
		if hookError := hook(executionContext, branch); hookError != nil {
			return hookError
		}
	}

	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	head, exists := repository.remoteBranches[branch]
	if !exists {
		return fmt.Errorf(unknownBranchTemplateConstant, branch)
	}
	repository.localBranches[branch] = head
	return nil
}

// ResolveCommit implements vcs.Repository.
func (repository *Repository) ResolveCommit(_ context.Context, identifier string) (vcs.Commit, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	commitID, resolveError := repository.resolveLocked(identifier)
	if resolveError != nil {
		return vcs.Commit{}, resolveError
	}
	return repository.commits[commitID], nil
}

// CommitRange implements vcs.Repository.
func (repository *Repository) CommitRange(_ context.Context, from string, to string) ([]vcs.Commit, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	toID, toError := repository.resolveLocked(to)
	if toError != nil {
		return nil, toError
	}
	excluded := map[string]struct{}{}
	if len(from) > 0 {
		fromID, fromError := repository.resolveLocked(from)
		if fromError != nil {
			return nil, fromError
		}
		for _, ancestorID := range repository.historyLocked(fromID, 0) {
			excluded[ancestorID] = struct{}{}
		}
	}
	commits := []vcs.Commit{}
	for _, commitID := range repository.historyLocked(toID, 0) {
		if _, isExcluded := excluded[commitID]; !isExcluded {
			commits = append(commits, repository.commits[commitID])
		}
	}
	sort.SliceStable(commits, func(first int, second int) bool {
		return commits[first].Timestamp.After(commits[second].Timestamp)
	})
	return commits, nil
}

// RecentCommits implements vcs.Repository.
func (repository *Repository) RecentCommits(_ context.Context, branch string, count int) ([]vcs.Commit, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	headID, resolveError := repository.resolveLocked(branch)
	if resolveError != nil {
		return nil, resolveError
	}
	commits := []vcs.Commit{}
	for _, commitID := range repository.historyLocked(headID, count) {
		commits = append(commits, repository.commits[commitID])
	}
	return commits, nil
}

// RemoteBranchNames implements vcs.Repository.
func (repository *Repository) RemoteBranchNames(_ context.Context) ([]string, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	names := make([]string, 0, len(repository.remoteBranches))
	for branch := range repository.remoteBranches {
		names = append(names, branch)
	}
	sort.Strings(names)
	return names, nil
}

// LocalBranchNames implements vcs.Repository.
func (repository *Repository) LocalBranchNames(_ context.Context) ([]string, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	names := make([]string, 0, len(repository.localBranches))
	for branch := range repository.localBranches {
		names = append(names, branch)
	}
	sort.Strings(names)
	return names, nil
}

// ActiveBranch implements vcs.Repository.
func (repository *Repository) ActiveBranch(_ context.Context) (string, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	return repository.activeBranch, nil
}

// IsAncestor implements vcs.Repository.
func (repository *Repository) IsAncestor(_ context.Context, ancestor string, descendant string) (bool, error) {
	repository.mutex.Lock()
	defer repository.mutex.Unlock()
	ancestorID, ancestorError := repository.resolveLocked(ancestor)
	if ancestorError != nil {
		return false, ancestorError
	}
	descendantID, descendantError := repository.resolveLocked(descendant)
	if descendantError != nil {
		return false, descendantError
	}
	for _, commitID := range repository.historyLocked(descendantID, 0) {
		if commitID == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

func (repository *Repository) resolveLocked(identifier string) (string, error) {
	if repository.resolveHook != nil {
		if hookError := repository.resolveHook(identifier); hookError != nil {
			return "", hookError
		}
	}
	branch := strings.TrimPrefix(identifier, branchReferencePrefixConstant)
	if head, exists := repository.localBranches[branch]; exists {
		return head, nil
	}
	matches := []string{}
	for commitID := range repository.commits {
		if strings.HasPrefix(commitID, identifier) {
			matches = append(matches, commitID)
		}
	}
	if len(matches) != 1 || len(identifier) == 0 {
		return "", fmt.Errorf(resolveTemplateConstant, identifier, vcs.ErrCommitNotFound)
	}
	return matches[0], nil
}

func (repository *Repository) historyLocked(headID string, limit int) []string {
	history := []string{}
	for commitID, exists := headID, true; exists; commitID, exists = repository.parents[commitID] {
		if limit > 0 && len(history) >= limit {
			break
		}
		history = append(history, commitID)
	}
	return history
}

// Client is an in-memory vcs.Client that clones registered fake repositories.
type Client struct {
	mutex     sync.Mutex
	remotes   map[string]*Repository
	clones    map[string]*Repository
	cloneHook func(executionContext context.Context, remoteURL string) error
}

// NewClient constructs a client without remotes.
func NewClient() *Client {
	return &Client{remotes: map[string]*Repository{}, clones: map[string]*Repository{}}
}

// AddRemote registers repository as reachable at remoteURL.
func (client *Client) AddRemote(remoteURL string, repository *Repository) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.remotes[remoteURL] = repository
}

// SetCloneHook installs a function run before every clone.
func (client *Client) SetCloneHook(hook func(executionContext context.Context, remoteURL string) error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.cloneHook = hook
}

// Clone implements vcs.Client. The destination receives an empty .git directory.
func (client *Client) Clone(executionContext context.Context, remoteURL string, destinationPath string) error {
	client.mutex.Lock()
	hook := client.cloneHook
	client.mutex.Unlock()
	if hook != nil {
		if hookError := hook(executionContext, remoteURL); hookError != nil {
			return hookError
		}
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()
	repository, exists := client.remotes[remoteURL]
	if !exists {
		return fmt.Errorf(unknownRemoteTemplateConstant, remoteURL)
	}
	if mkdirError := os.MkdirAll(filepath.Join(destinationPath, gitDirectoryNameConstant), 0o755); mkdirError != nil {
		return mkdirError
	}
	repository.mutex.Lock()
	if head, hasActive := repository.remoteBranches[repository.activeBranch]; hasActive {
		repository.localBranches[repository.activeBranch] = head
	}
	repository.mutex.Unlock()
	client.clones[destinationPath] = repository
	return nil
}

// Open implements vcs.Client.
func (client *Client) Open(_ context.Context, repositoryPath string) (vcs.Repository, error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	repository, exists := client.clones[repositoryPath]
	if !exists {
		return nil, fmt.Errorf(unknownCloneTemplateConstant, repositoryPath)
	}
	return repository, nil
}

// NewCommit builds a commit whose identifier is derived from seed.
func NewCommit(seed string, author string, message string, timestamp time.Time) vcs.Commit {
	return vcs.Commit{
		ID:          CommitID(seed),
		AuthorName:  author,
		AuthorEmail: author + "@example.com",
		Message:     message,
		Timestamp:   timestamp,
	}
}

// ErrInjected is a ready-made failure for hooks.
var ErrInjected = errors.New("injected failure")
