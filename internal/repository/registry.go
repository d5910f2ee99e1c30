package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	vcsClientMissingMessageConstant         = "vcs client not configured"
	repositoryExistsMessageConstant         = "repository exists"
	repositoryNotFoundMessageConstant       = "repository does not exist"
	repositoryPathMissingMessageConstant    = "repository path not configured"
	repositoryNameMissingMessageConstant    = "repository name not configured"
	gitDirectoryNameConstant                = ".git"
	repositoryExistsTemplateConstant        = "%w: %s"
	repositoryNotFoundTemplateConstant      = "%w: %s"
	cloneFailureTemplateConstant            = "cannot clone %s: %w"
	openFailureTemplateConstant             = "cannot open clone of %s: %w"
	staleCloneRemovalTemplateConstant       = "cannot remove stale clone %s: %w"
	cloneRemovalTemplateConstant            = "cannot remove clone %s: %w"
	remoteBranchesFailureTemplateConstant   = "cannot list branches of %s: %w"
	cloneMissingMessageConstant             = "clone not found"
	cloneMissingTemplateConstant            = "%w: %s"
	branchResolutionFailureTemplateConstant = "cannot resolve branches of %s: %w"
	branchSyncFailureTemplateConstant       = "cannot update branch %s of %s: %w"
	branchHeadFailureTemplateConstant       = "cannot resolve head of branch %s of %s: %w"
	activeBranchFailureTemplateConstant     = "cannot read active branch of %s: %w"
	persistFailureTemplateConstant          = "cannot persist repository list: %w"
	checkpointRestoredMessageConstant       = "Restored commit pointer from checkpoint"
	checkpointDiscardedMessageConstant      = "Discarded checkpoint that is not an ancestor of the branch head"
	checkpointLoadFailedMessageConstant     = "Failed to load checkpoints"
	checkpointDeleteFailedMessageConstant   = "Failed to delete checkpoints"
	cloneCleanupFailedMessageConstant       = "Failed to remove clone of a repository that was not added"
	repositoryInitializedMessageConstant    = "Repository initialized"
	reusingCloneMessageConstant             = "Reusing existing clone"
	logFieldRepositoryConstant              = "repository"
	logFieldBranchConstant                  = "branch"
	logFieldBranchesConstant                = "branches"
	logFieldCommitConstant                  = "commit"
	logFieldPathConstant                    = "path"
	branchReferencePrefixConstant           = "refs/heads/"
)

// ErrVCSClientNotConfigured indicates the registry was constructed without a VCS client.
var ErrVCSClientNotConfigured = errors.New(vcsClientMissingMessageConstant)

// ErrRepositoryExists indicates a repository name is already registered or being created.
var ErrRepositoryExists = errors.New(repositoryExistsMessageConstant)

// ErrRepositoryNotFound indicates no repository is registered under a name.
var ErrRepositoryNotFound = errors.New(repositoryNotFoundMessageConstant)

// ErrCloneMissing indicates MaterializeOpen found no clone to attach to.
var ErrCloneMissing = errors.New(cloneMissingMessageConstant)

// ErrRepositoryPathMissing indicates options without a clone path.
var ErrRepositoryPathMissing = errors.New(repositoryPathMissingMessageConstant)

// ErrRepositoryNameMissing indicates options without a name.
var ErrRepositoryNameMissing = errors.New(repositoryNameMissingMessageConstant)

// CheckpointStore persists branch pointers across restarts.
type CheckpointStore interface {
	Load(executionContext context.Context, repositoryName string) (map[string]string, error)
	Save(executionContext context.Context, repositoryName string, branch string, commitID string) error
	Delete(executionContext context.Context, repositoryName string) error
}

// ConfigurationPersister stores the repository list after a mutation.
type ConfigurationPersister interface {
	PersistRepositories(repositories []Options) error
}

// Dependencies wires the registry collaborators. Only Client is required.
type Dependencies struct {
	Client      vcs.Client
	Checkpoints CheckpointStore
	Persister   ConfigurationPersister
	Logger      *zap.Logger
}

// Registry is the shared collection of watched repositories.
// Its lock is held only around changes to the collection, never during VCS I/O.
type Registry struct {
	mutex        sync.RWMutex
	client       vcs.Client
	checkpoints  CheckpointStore
	persister    ConfigurationPersister
	logger       *zap.Logger
	repositories []*Repository
	unavailable  []Options
	pending      map[string]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry(dependencies Dependencies) (*Registry, error) {
	if dependencies.Client == nil {
		return nil, ErrVCSClientNotConfigured
	}
	return &Registry{
		client:      dependencies.Client,
		checkpoints: dependencies.Checkpoints,
		persister:   dependencies.Persister,
		logger:      resolveLogger(dependencies.Logger),
		pending:     map[string]struct{}{},
	}, nil
}

// List returns a snapshot of the registered repositories in registration order.
func (registry *Registry) List() []*Repository {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return slices.Clone(registry.repositories)
}

// Names returns the registered names in registration order.
func (registry *Registry) Names() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	names := make([]string, 0, len(registry.repositories))
	for _, repository := range registry.repositories {
		names = append(names, repository.Name())
	}
	return names
}

// Lookup finds a repository by name.
func (registry *Registry) Lookup(name string) (*Repository, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	index := registry.indexOf(name)
	if index < 0 {
		return nil, false
	}
	return registry.repositories[index], true
}

// Replace swaps the whole collection, as done when configuration is reloaded.
// Unavailable repositories are configured but could not be initialized: they are
// not watched, yet they stay in the persisted repository list until removed.
func (registry *Registry) Replace(repositories []*Repository, unavailable []Options) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.repositories = slices.Clone(repositories)
	registry.unavailable = slices.Clone(unavailable)
}

// Unavailable lists the configured repositories that could not be initialized.
func (registry *Registry) Unavailable() []Options {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return slices.Clone(registry.unavailable)
}

// Create clones a new repository, initializes its pointers, registers it and persists the repository list.
// Cloning happens outside the registry lock; a failed clone leaves the registry unchanged.
func (registry *Registry) Create(executionContext context.Context, options Options) (*Repository, error) {
	if reserveError := registry.reserve(options.Name); reserveError != nil {
		return nil, reserveError
	}
	defer registry.release(options.Name)

	repository, materializeError := registry.Materialize(executionContext, options, MaterializeClone)
	if materializeError != nil {
		registry.removeClone(options.Path)
		return nil, materializeError
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.repositories = append(registry.repositories, repository)
	if persistError := registry.persistLocked(); persistError != nil {
		registry.repositories = registry.repositories[:len(registry.repositories)-1]
		registry.removeClone(repository.options.Path)
		return nil, persistError
	}
	return repository, nil
}

// Remove unregisters a repository, persists the repository list, then deletes the clone under the repository lock.
func (registry *Registry) Remove(executionContext context.Context, name string) error {
	registry.mutex.Lock()
	index := registry.indexOf(name)
	if index < 0 {
		unavailableIndex := registry.unavailableIndexOf(name)
		if unavailableIndex < 0 {
			registry.mutex.Unlock()
			return fmt.Errorf(repositoryNotFoundTemplateConstant, ErrRepositoryNotFound, name)
		}
		return registry.removeUnavailableLocked(executionContext, unavailableIndex)
	}
	repository := registry.repositories[index]
	registry.repositories = slices.Delete(registry.repositories, index, index+1)
	if persistError := registry.persistLocked(); persistError != nil {
		registry.repositories = slices.Insert(registry.repositories, index, repository)
		registry.mutex.Unlock()
		return persistError
	}
	registry.mutex.Unlock()

	removalError := repository.WithLock(executionContext, func(locked *LockedRepository) error {
		locked.repository.removed = true
		if removeError := os.RemoveAll(repository.options.Path); removeError != nil {
			return fmt.Errorf(cloneRemovalTemplateConstant, repository.options.Path, removeError)
		}
		return nil
	})
	registry.deleteCheckpoints(executionContext, name)
	return removalError
}

// MaterializeMode selects how Materialize obtains and refreshes a clone.
type MaterializeMode int

const (
	// MaterializeSync reuses an existing clone or clones one, then brings every tracked branch up to date.
	MaterializeSync MaterializeMode = iota
	// MaterializeClone always clones afresh, then brings every tracked branch up to date.
	MaterializeClone
	// MaterializeOpen attaches to an existing clone and never contacts origin.
	MaterializeOpen
)

// Materialize prepares a repository without registering it: it obtains a clone according to mode,
// resolves the tracked branches, brings each of them up to date unless mode is MaterializeOpen and
// initializes their pointers, preferring checkpoints that are ancestors of the current heads.
func (registry *Registry) Materialize(executionContext context.Context, options Options, mode MaterializeMode) (*Repository, error) {
	normalizedOptions := options.withDefaults()
	if len(normalizedOptions.Name) == 0 {
		return nil, ErrRepositoryNameMissing
	}
	if len(normalizedOptions.Path) == 0 {
		return nil, ErrRepositoryPathMissing
	}

	timeoutContext, cancel := context.WithTimeout(executionContext, normalizedOptions.FetchTimeout)
	defer cancel()

	var clone vcs.Repository
	var cloneError error
	if mode == MaterializeOpen {
		clone, cloneError = registry.openExisting(timeoutContext, normalizedOptions)
	} else {
		clone, cloneError = registry.openOrClone(timeoutContext, normalizedOptions, mode == MaterializeClone)
	}
	if cloneError != nil {
		return nil, cloneError
	}

	var availableBranchNames []string
	var branchListError error
	if mode == MaterializeOpen {
		availableBranchNames, branchListError = clone.LocalBranchNames(timeoutContext)
	} else {
		availableBranchNames, branchListError = clone.RemoteBranchNames(timeoutContext)
	}
	if branchListError != nil {
		return nil, fmt.Errorf(remoteBranchesFailureTemplateConstant, normalizedOptions.Name, branchListError)
	}
	repositoryLogger := registry.logger.With(zap.String(logFieldRepositoryConstant, normalizedOptions.Name))
	branches, resolveError := ResolveBranches(normalizedOptions.BranchPatterns, availableBranchNames, repositoryLogger)
	if resolveError != nil {
		return nil, fmt.Errorf(branchResolutionFailureTemplateConstant, normalizedOptions.Name, resolveError)
	}

	repository := New(normalizedOptions, clone, branches)
	checkpoints := registry.loadCheckpoints(timeoutContext, normalizedOptions.Name)

	initializeError := repository.WithLock(timeoutContext, func(locked *LockedRepository) error {
		activeBranch, activeError := clone.ActiveBranch(timeoutContext)
		if activeError != nil {
			return fmt.Errorf(activeBranchFailureTemplateConstant, normalizedOptions.Name, activeError)
		}
		for _, branch := range branches {
			var syncError error
			switch {
			case mode == MaterializeOpen:
			case branch == activeBranch:
				syncError = clone.Pull(timeoutContext, branch)
			default:
				syncError = clone.Fetch(timeoutContext, branch)
			}
			if syncError != nil {
				return fmt.Errorf(branchSyncFailureTemplateConstant, branch, normalizedOptions.Name, syncError)
			}
			head, headError := clone.ResolveCommit(timeoutContext, BranchReference(branch))
			if headError != nil {
				return fmt.Errorf(branchHeadFailureTemplateConstant, branch, normalizedOptions.Name, headError)
			}
			locked.InitializeLastCommit(branch, registry.restorePointer(timeoutContext, repositoryLogger, clone, branch, head, checkpoints))
		}
		return nil
	})
	if initializeError != nil {
		return nil, initializeError
	}

	repositoryLogger.Info(repositoryInitializedMessageConstant, zap.Strings(logFieldBranchesConstant, branches))
	return repository, nil
}

func (registry *Registry) openExisting(executionContext context.Context, options Options) (vcs.Repository, error) {
	if _, statError := os.Stat(filepath.Join(options.Path, gitDirectoryNameConstant)); statError != nil {
		return nil, fmt.Errorf(cloneMissingTemplateConstant, ErrCloneMissing, options.Path)
	}
	clone, openError := registry.client.Open(executionContext, options.Path)
	if openError != nil {
		return nil, fmt.Errorf(openFailureTemplateConstant, options.Name, openError)
	}
	return clone, nil
}

func (registry *Registry) openOrClone(executionContext context.Context, options Options, forceClone bool) (vcs.Repository, error) {
	if !forceClone {
		if _, statError := os.Stat(filepath.Join(options.Path, gitDirectoryNameConstant)); statError == nil {
			clone, openError := registry.client.Open(executionContext, options.Path)
			if openError == nil {
				registry.logger.Debug(reusingCloneMessageConstant, zap.String(logFieldRepositoryConstant, options.Name), zap.String(logFieldPathConstant, options.Path))
				return clone, nil
			}
		}
	}

	if removalError := os.RemoveAll(options.Path); removalError != nil {
		return nil, fmt.Errorf(staleCloneRemovalTemplateConstant, options.Path, removalError)
	}
	if cloneError := registry.client.Clone(executionContext, options.URL, options.Path); cloneError != nil {
		return nil, fmt.Errorf(cloneFailureTemplateConstant, options.URL, cloneError)
	}
	clone, openError := registry.client.Open(executionContext, options.Path)
	if openError != nil {
		return nil, fmt.Errorf(openFailureTemplateConstant, options.Name, openError)
	}
	return clone, nil
}

func (registry *Registry) removeClone(path string) {
	if len(path) == 0 {
		return
	}
	if removalError := os.RemoveAll(path); removalError != nil {
		registry.logger.Warn(cloneCleanupFailedMessageConstant, zap.String(logFieldPathConstant, path), zap.Error(removalError))
	}
}

func (registry *Registry) loadCheckpoints(executionContext context.Context, name string) map[string]string {
	if registry.checkpoints == nil {
		return nil
	}
	checkpoints, loadError := registry.checkpoints.Load(executionContext, name)
	if loadError != nil {
		registry.logger.Warn(checkpointLoadFailedMessageConstant, zap.String(logFieldRepositoryConstant, name), zap.Error(loadError))
		return nil
	}
	return checkpoints
}

func (registry *Registry) restorePointer(executionContext context.Context, logger *zap.Logger, clone vcs.Repository, branch string, head vcs.Commit, checkpoints map[string]string) vcs.Commit {
	checkpointID, exists := checkpoints[branch]
	if !exists || checkpointID == head.ID {
		return head
	}
	isAncestor, ancestryError := clone.IsAncestor(executionContext, checkpointID, head.ID)
	if ancestryError != nil || !isAncestor {
		logger.Info(checkpointDiscardedMessageConstant, zap.String(logFieldBranchConstant, branch), zap.String(logFieldCommitConstant, checkpointID))
		return head
	}
	checkpointCommit, resolveError := clone.ResolveCommit(executionContext, checkpointID)
	if resolveError != nil {
		logger.Info(checkpointDiscardedMessageConstant, zap.String(logFieldBranchConstant, branch), zap.String(logFieldCommitConstant, checkpointID))
		return head
	}
	logger.Info(checkpointRestoredMessageConstant, zap.String(logFieldBranchConstant, branch), zap.String(logFieldCommitConstant, checkpointCommit.ShortID()))
	return checkpointCommit
}

// removeUnavailableLocked is entered with the registry lock held and releases it.
func (registry *Registry) removeUnavailableLocked(executionContext context.Context, index int) error {
	options := registry.unavailable[index]
	registry.unavailable = slices.Delete(registry.unavailable, index, index+1)
	if persistError := registry.persistLocked(); persistError != nil {
		registry.unavailable = slices.Insert(registry.unavailable, index, options)
		registry.mutex.Unlock()
		return persistError
	}
	registry.mutex.Unlock()

	registry.deleteCheckpoints(executionContext, options.Name)
	if removeError := os.RemoveAll(options.Path); removeError != nil {
		return fmt.Errorf(cloneRemovalTemplateConstant, options.Path, removeError)
	}
	return nil
}

func (registry *Registry) deleteCheckpoints(executionContext context.Context, name string) {
	if registry.checkpoints == nil {
		return
	}
	if deleteError := registry.checkpoints.Delete(executionContext, name); deleteError != nil {
		registry.logger.Warn(checkpointDeleteFailedMessageConstant, zap.String(logFieldRepositoryConstant, name), zap.Error(deleteError))
	}
}

func (registry *Registry) reserve(name string) error {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	_, isPending := registry.pending[name]
	if isPending || registry.indexOf(name) >= 0 || registry.unavailableIndexOf(name) >= 0 {
		return fmt.Errorf(repositoryExistsTemplateConstant, ErrRepositoryExists, name)
	}
	registry.pending[name] = struct{}{}
	return nil
}

func (registry *Registry) release(name string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	delete(registry.pending, name)
}

func (registry *Registry) persistLocked() error {
	if registry.persister == nil {
		return nil
	}
	options := make([]Options, 0, len(registry.repositories)+len(registry.unavailable))
	for _, repository := range registry.repositories {
		options = append(options, repository.Options())
	}
	options = append(options, registry.unavailable...)
	if persistError := registry.persister.PersistRepositories(options); persistError != nil {
		return fmt.Errorf(persistFailureTemplateConstant, persistError)
	}
	return nil
}

func (registry *Registry) indexOf(name string) int {
	return slices.IndexFunc(registry.repositories, func(repository *Repository) bool {
		return repository.Name() == name
	})
}

func (registry *Registry) unavailableIndexOf(name string) int {
	return slices.IndexFunc(registry.unavailable, func(options Options) bool {
		return options.Name == name
	})
}

// BranchReference names the local ref of a tracked branch.
func BranchReference(branch string) string {
	return branchReferencePrefixConstant + branch
}
