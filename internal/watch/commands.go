package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/notify"
	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	// DefaultLogBranch is shown by RepositoryLog when no branch is given.
	DefaultLogBranch = "master"
	// DefaultLogCount is the number of commits RepositoryLog shows by default.
	DefaultLogCount = 1

	errorReplyTemplateConstant             = "Error: %v"
	repositoryCreatedReplyConstant         = "Repository created and cloned"
	repositoryExistsReplyConstant          = "Error: repo exists"
	cloneFailedReplyTemplateConstant       = "Error: Cannot clone repo: %v"
	repositoryDeletedReplyConstant         = "Repository deleted"
	repositoryMissingReplyConstant         = "Error: repo does not exist"
	repositoryListLineTemplateConstant     = "\x02%s\x02 (%s) %s %d %s"
	noRepositoriesReplyConstant            = "No repositories configured for this channel."
	unknownRepositoryReplyTemplateConstant = "No repository named %s, showing available:"
	channelNotAllowedReplyConstant         = "Sorry, not allowed in this channel."
	invalidCountReplyTemplateConstant      = "Invalid count %d: show at least one commit."
	branchNotWatchedReplyTemplateConstant  = "No such branch being watched: %s"
	availableBranchesReplyTemplateConstant = "Available branches: %s"
	watchedBranchesReplyTemplateConstant   = "Watched branches: %s"
	logRetrievalFailedReplyConstant        = "Internal error retrieving repolog data"
	rehashReplyTemplateConstant            = "Git reinitialized with %d %s."
	branchListSeparatorConstant            = ", "
	branchWordConstant                     = "branch"
	branchesWordConstant                   = "branches"
	repositoryWordConstant                 = "repository"
	repositoriesWordConstant               = "repositories"
	repositoryNotFoundTemplateConstant     = "%w: %s"
	channelNotAuthorizedTemplateConstant   = "%w: %s in %s"
	invalidCountTemplateConstant           = "%w: count %d"
	branchNotWatchedTemplateConstant       = "%w: branch %s is not watched by %s"
	logRetrievalTemplateConstant           = "cannot read history of %s on %s: %w"
	repositoryCreatedMessageConstant       = "Repository added"
	repositoryCreateFailedMessageConstant  = "Repository add failed"
	repositoryRemovedMessageConstant       = "Repository removed"
	repositoryRemoveFailedMessageConstant  = "Repository removal failed"
	snarfLookupFailedMessageConstant       = "Commit lookup failed"
	logRetrievalFailedMessageConstant      = "Repository log failed"
	logFieldChannelConstant                = "channel"
	logFieldCommitConstant                 = "commit"
	logFieldBranchConstant                 = "branch"
)

// AddRepository clones and registers a repository notifying channels, then persists it.
func (service *Service) AddRepository(executionContext context.Context, name string, remoteURL string, channels []string) Reply {
	service.mutationMutex.RLock()
	defer service.mutationMutex.RUnlock()

	registry, _ := service.currentRegistry()
	if registry == nil {
		return notStartedReply()
	}

	currentConfiguration := service.configurationSource.Current()
	repositoryConfiguration := configuration.RepositoryConfiguration{Name: name, URL: remoteURL, Channels: channels}
	if validationError := configuration.ValidateRepository(repositoryConfiguration); validationError != nil {
		return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, validationError)}, Err: validationError}
	}

	logger := service.logger.With(zap.String(logFieldRepositoryConstant, name))
	_, createError := registry.Create(executionContext, repositoryConfiguration.Options(currentConfiguration.Watch))
	switch {
	case createError == nil:
		logger.Info(repositoryCreatedMessageConstant)
		service.recorder.SetRepositories(len(registry.List()))
		return Reply{Lines: []string{repositoryCreatedReplyConstant}}
	case errors.Is(createError, repository.ErrRepositoryExists):
		return Reply{Lines: []string{repositoryExistsReplyConstant}, Err: createError}
	default:
		logger.Warn(repositoryCreateFailedMessageConstant, zap.Error(createError))
		return Reply{Lines: []string{fmt.Sprintf(cloneFailedReplyTemplateConstant, createError)}, Err: createError}
	}
}

// RemoveRepository unregisters a repository, persists the change and deletes its clone.
func (service *Service) RemoveRepository(executionContext context.Context, name string) Reply {
	service.mutationMutex.RLock()
	defer service.mutationMutex.RUnlock()

	registry, _ := service.currentRegistry()
	if registry == nil {
		return notStartedReply()
	}

	logger := service.logger.With(zap.String(logFieldRepositoryConstant, name))
	removeError := registry.Remove(executionContext, name)
	switch {
	case removeError == nil:
		logger.Info(repositoryRemovedMessageConstant)
		service.recorder.SetRepositories(len(registry.List()))
		return Reply{Lines: []string{repositoryDeletedReplyConstant}}
	case errors.Is(removeError, repository.ErrRepositoryNotFound):
		return Reply{Lines: []string{repositoryMissingReplyConstant}, Err: removeError}
	default:
		logger.Warn(repositoryRemoveFailedMessageConstant, zap.Error(removeError))
		return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, removeError)}, Err: removeError}
	}
}

// ListRepositories describes the repositories that notify channel.
func (service *Service) ListRepositories(channel string) Reply {
	registry, _ := service.currentRegistry()
	if registry == nil {
		return notStartedReply()
	}

	lines := []string{}
	for _, watched := range registry.List() {
		options := watched.Options()
		if !options.AllowsChannel(channel) {
			continue
		}
		branchCount := len(watched.Branches())
		lines = append(lines, fmt.Sprintf(
			repositoryListLineTemplateConstant,
			options.Name,
			options.LongName,
			options.URL,
			branchCount,
			plural(branchCount, branchWordConstant, branchesWordConstant),
		))
	}
	if len(lines) == 0 {
		return Reply{Lines: []string{noRepositoriesReplyConstant}}
	}
	return Reply{Lines: lines}
}

// RepositoryLog renders the latest count commits of branch, oldest first.
// An empty branch means DefaultLogBranch.
func (service *Service) RepositoryLog(executionContext context.Context, channel string, name string, branch string, count int) Reply {
	if count <= 0 {
		countError := fmt.Errorf(invalidCountTemplateConstant, ErrInvalidArgument, count)
		return Reply{Lines: []string{fmt.Sprintf(invalidCountReplyTemplateConstant, count)}, Err: countError}
	}
	if len(strings.TrimSpace(branch)) == 0 {
		branch = DefaultLogBranch
	}

	watched, renderer, rejection, found := service.authorizedRepository(channel, name)
	if !found {
		return rejection
	}
	if !watched.Tracks(branch) {
		branchError := fmt.Errorf(branchNotWatchedTemplateConstant, ErrInvalidArgument, branch, name)
		return Reply{
			Lines: []string{
				fmt.Sprintf(branchNotWatchedReplyTemplateConstant, branch),
				fmt.Sprintf(availableBranchesReplyTemplateConstant, strings.Join(watched.Branches(), branchListSeparatorConstant)),
			},
			Err: branchError,
		}
	}

	var recentCommits []vcs.Commit
	logError := watched.WithLock(executionContext, func(locked *repository.LockedRepository) error {
		commits, historyError := locked.Clone().RecentCommits(executionContext, branch, count)
		if historyError != nil {
			return fmt.Errorf(logRetrievalTemplateConstant, branch, name, historyError)
		}
		recentCommits = commits
		return nil
	})
	if logError != nil {
		service.logger.Warn(logRetrievalFailedMessageConstant, zap.String(logFieldRepositoryConstant, name), zap.String(logFieldBranchConstant, branch), zap.Error(logError))
		return Reply{Lines: []string{logRetrievalFailedReplyConstant}, Err: logError}
	}

	oldestFirst := slices.Clone(recentCommits)
	slices.Reverse(oldestFirst)
	return Reply{Lines: renderer.RenderCommits(watched, map[string][]vcs.Commit{branch: oldestFirst}, notify.KindLog)}
}

// RepositoryStatus lists the branches a repository watches.
func (service *Service) RepositoryStatus(channel string, name string) Reply {
	watched, _, rejection, found := service.authorizedRepository(channel, name)
	if !found {
		return rejection
	}
	return Reply{Lines: []string{fmt.Sprintf(watchedBranchesReplyTemplateConstant, strings.Join(watched.Branches(), branchListSeparatorConstant))}}
}

// Snarf looks up the first commit identifier mentioned in text among the repositories
// that notify channel and enable snarfing. Unknown identifiers produce no lines.
func (service *Service) Snarf(executionContext context.Context, channel string, text string) Reply {
	commitIdentifier, mentioned := notify.ExtractCommitIdentifier(text)
	if !mentioned {
		return Reply{}
	}
	registry, renderer := service.currentRegistry()
	if registry == nil {
		return notStartedReply()
	}

	for _, watched := range registry.List() {
		options := watched.Options()
		if !options.EnableSnarf || !options.AllowsChannel(channel) {
			continue
		}

		var commit vcs.Commit
		lookupError := watched.WithLock(executionContext, func(locked *repository.LockedRepository) error {
			resolved, resolveError := locked.Clone().ResolveCommit(executionContext, commitIdentifier)
			commit = resolved
			return resolveError
		})
		if lookupError != nil {
			if !errors.Is(lookupError, vcs.ErrCommitNotFound) {
				service.logger.Debug(snarfLookupFailedMessageConstant, zap.String(logFieldRepositoryConstant, options.Name), zap.String(logFieldCommitConstant, commitIdentifier), zap.Error(lookupError))
			}
			continue
		}
		return Reply{Lines: renderer.RenderSnarf(watched, commit)}
	}
	return Reply{}
}

// authorizedRepository resolves name for a command issued from channel. When the
// repository is unknown or not visible from channel it returns the rejection reply.
func (service *Service) authorizedRepository(channel string, name string) (*repository.Repository, notify.Renderer, Reply, bool) {
	registry, renderer := service.currentRegistry()
	if registry == nil {
		return nil, renderer, notStartedReply(), false
	}
	watched, exists := registry.Lookup(name)
	if !exists {
		lines := []string{fmt.Sprintf(unknownRepositoryReplyTemplateConstant, name)}
		lines = append(lines, service.ListRepositories(channel).Lines...)
		return nil, renderer, Reply{Lines: lines, Err: fmt.Errorf(repositoryNotFoundTemplateConstant, repository.ErrRepositoryNotFound, name)}, false
	}
	if !watched.Options().AllowsChannel(channel) {
		service.logger.Debug(channelNotAllowedReplyConstant, zap.String(logFieldRepositoryConstant, name), zap.String(logFieldChannelConstant, channel))
		return nil, renderer, Reply{Lines: []string{channelNotAllowedReplyConstant}, Err: fmt.Errorf(channelNotAuthorizedTemplateConstant, ErrChannelNotAuthorized, name, channel)}, false
	}
	return watched, renderer, Reply{}, true
}

func notStartedReply() Reply {
	return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, ErrServiceNotStarted)}, Err: ErrServiceNotStarted}
}

func plural(count int, singular string, pluralForm string) string {
	if count >= -1 && count <= 1 {
		return singular
	}
	return pluralForm
}
