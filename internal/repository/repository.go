package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/temirov/gitnotify/internal/format"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	defaultBranchPatternsConstant        = "master"
	defaultFetchTimeoutConstant          = 300 * time.Second
	nonMonotonicAdvanceMessageConstant   = "commit pointer may only advance to a descendant"
	advanceErrorTemplateConstant         = "cannot advance %s from %s to %s: %w"
	advanceAncestryErrorTemplateConstant = "cannot verify ancestry of %s on %s: %w"
)

// ErrNonMonotonicAdvance indicates an attempt to move a branch pointer to a commit that does not descend from it.
var ErrNonMonotonicAdvance = errors.New(nonMonotonicAdvanceMessageConstant)

// Options configures one watched repository.
type Options struct {
	Name           string
	LongName       string
	URL            string
	Path           string
	BranchPatterns string
	Channels       []string
	CommitTemplate string
	LinkTemplate   string
	GroupHeader    bool
	EnableSnarf    bool
	FetchTimeout   time.Duration
}

// AllowsChannel reports whether channel is one of the repository's notification targets.
func (options Options) AllowsChannel(channel string) bool {
	return slices.Contains(options.Channels, channel)
}

func (options Options) withDefaults() Options {
	if len(strings.TrimSpace(options.BranchPatterns)) == 0 {
		options.BranchPatterns = defaultBranchPatternsConstant
	}
	if len(strings.TrimSpace(options.LongName)) == 0 {
		options.LongName = options.Name
	}
	if options.FetchTimeout <= 0 {
		options.FetchTimeout = defaultFetchTimeoutConstant
	}
	options.Channels = slices.Clone(options.Channels)
	return options
}

// Repository is the watched state of one remote repository and its local clone.
// Branch pointers, recorded errors and every VCS call against the clone are
// reachable only through a LockedRepository obtained from the lock guards.
type Repository struct {
	options     Options
	formatter   format.MessageFormatter
	branches    []string
	lock        chan struct{}
	clone       vcs.Repository
	lastCommits map[string]vcs.Commit
	lastErrors  []error
	removed     bool
}

// New constructs a repository around an opened clone tracking branches.
func New(options Options, clone vcs.Repository, branches []string) *Repository {
	normalizedOptions := options.withDefaults()
	return &Repository{
		options:     normalizedOptions,
		formatter:   format.NewMessageFormatter(normalizedOptions.CommitTemplate),
		branches:    slices.Clone(branches),
		lock:        make(chan struct{}, 1),
		clone:       clone,
		lastCommits: map[string]vcs.Commit{},
	}
}

// Name returns the short name.
func (repository *Repository) Name() string {
	return repository.options.Name
}

// Options returns a copy of the repository configuration.
func (repository *Repository) Options() Options {
	options := repository.options
	options.Channels = slices.Clone(options.Channels)
	return options
}

// Branches lists the tracked branches. The set is fixed at creation.
func (repository *Repository) Branches() []string {
	return slices.Clone(repository.branches)
}

// Tracks reports whether branch is tracked.
func (repository *Repository) Tracks(branch string) bool {
	return slices.Contains(repository.branches, branch)
}

// Formatter returns the commit message formatter.
func (repository *Repository) Formatter() format.MessageFormatter {
	return repository.formatter
}

// Details returns the repository fields used by message templates.
func (repository *Repository) Details() format.RepositoryDetails {
	return format.RepositoryDetails{
		Name:         repository.options.Name,
		LongName:     repository.options.LongName,
		URL:          repository.options.URL,
		LinkTemplate: repository.options.LinkTemplate,
	}
}

// Lock blocks until the repository lock is acquired or the context ends.
func (repository *Repository) Lock(executionContext context.Context) error {
	select {
	case repository.lock <- struct{}{}:
		return nil
	case <-executionContext.Done():
		return executionContext.Err()
	}
}

// TryLock acquires the lock only when it is free.
func (repository *Repository) TryLock() bool {
	select {
	case repository.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock.
func (repository *Repository) Unlock() {
	<-repository.lock
}

// WithLock runs operation while holding the lock, waiting for it when busy.
func (repository *Repository) WithLock(executionContext context.Context, operation func(*LockedRepository) error) error {
	if lockError := repository.Lock(executionContext); lockError != nil {
		return lockError
	}
	defer repository.Unlock()
	return operation(&LockedRepository{repository: repository})
}

// TryWithLock runs operation only if the lock is free. The boolean reports whether it ran.
func (repository *Repository) TryWithLock(operation func(*LockedRepository) error) (bool, error) {
	if !repository.TryLock() {
		return false, nil
	}
	defer repository.Unlock()
	return true, operation(&LockedRepository{repository: repository})
}

// LockedRepository exposes the guarded state of a repository to the holder of its lock.
type LockedRepository struct {
	repository *Repository
}

// Repository returns the unguarded handle.
func (locked *LockedRepository) Repository() *Repository {
	return locked.repository
}

// Clone returns the VCS handle of the local clone.
func (locked *LockedRepository) Clone() vcs.Repository {
	return locked.repository.clone
}

// LastCommit returns the last notified commit of branch.
func (locked *LockedRepository) LastCommit(branch string) (vcs.Commit, bool) {
	commit, exists := locked.repository.lastCommits[branch]
	return commit, exists
}

// LastCommits returns a copy of every branch pointer.
func (locked *LockedRepository) LastCommits() map[string]vcs.Commit {
	pointers := make(map[string]vcs.Commit, len(locked.repository.lastCommits))
	for branch, commit := range locked.repository.lastCommits {
		pointers[branch] = commit
	}
	return pointers
}

// InitializeLastCommit sets the pointer of a branch that has none yet or only an empty one.
func (locked *LockedRepository) InitializeLastCommit(branch string, commit vcs.Commit) {
	if existing, exists := locked.repository.lastCommits[branch]; exists && !existing.IsZero() {
		return
	}
	locked.repository.lastCommits[branch] = commit
}

// AdvanceLastCommit moves the pointer of branch to commit, which must descend from the current pointer.
func (locked *LockedRepository) AdvanceLastCommit(executionContext context.Context, branch string, commit vcs.Commit) error {
	previous, exists := locked.repository.lastCommits[branch]
	if exists && previous.ID != commit.ID {
		isDescendant, ancestryError := locked.repository.clone.IsAncestor(executionContext, previous.ID, commit.ID)
		if ancestryError != nil {
			return fmt.Errorf(advanceAncestryErrorTemplateConstant, commit.ShortID(), branch, ancestryError)
		}
		if !isDescendant {
			return fmt.Errorf(advanceErrorTemplateConstant, branch, previous.ShortID(), commit.ShortID(), ErrNonMonotonicAdvance)
		}
	}
	locked.repository.lastCommits[branch] = commit
	return nil
}

// ResetLastCommit replaces the pointer of branch without an ancestry check.
// It is reserved for branches whose history was rewritten upstream.
func (locked *LockedRepository) ResetLastCommit(branch string, commit vcs.Commit) {
	locked.repository.lastCommits[branch] = commit
}

// RecordError appends a background failure for the next drain.
func (locked *LockedRepository) RecordError(recordedError error) {
	if recordedError == nil {
		return
	}
	locked.repository.lastErrors = append(locked.repository.lastErrors, recordedError)
}

// Removed reports whether the repository was dropped from its registry and its clone deleted.
func (locked *LockedRepository) Removed() bool {
	return locked.repository.removed
}

// DrainErrors returns the recorded failures in order and clears them.
func (locked *LockedRepository) DrainErrors() []error {
	drained := locked.repository.lastErrors
	locked.repository.lastErrors = nil
	return drained
}
