package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/metrics"
	"github.com/temirov/gitnotify/internal/notify"
	"github.com/temirov/gitnotify/internal/polling"
	"github.com/temirov/gitnotify/internal/replication"
	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/transport"
)

const (
	configurationSourceMissingMessageConstant = "configuration source not configured"
	transportMissingMessageConstant           = "transport not configured"
	clientCreationErrorTemplateConstant       = "unable to create vcs client: %w"
	registryCreationErrorTemplateConstant     = "unable to create registry: %w"
	loopCreationErrorTemplateConstant         = "unable to create %s loop: %w"
	repositoryUnavailableMessageConstant      = "Failed to initialize repository; it stays configured but unwatched"
	serviceStartedMessageConstant             = "Watch service started"
	serviceStoppedMessageConstant             = "Watch service stopped"
	serviceRehashedMessageConstant            = "Watch service reloaded configuration"
	rehashFailedMessageConstant               = "Reload failed; previous configuration kept"
	logFieldRepositoryConstant                = "repository"
	logFieldRepositoriesConstant              = "repositories"
	logFieldUnavailableConstant               = "unavailable"
	loopNameReplicationConstant               = "replication"
	loopNamePollingConstant                   = "polling"
)

// ErrConfigurationSourceNotConfigured indicates the service was constructed without configuration.
var ErrConfigurationSourceNotConfigured = errors.New(configurationSourceMissingMessageConstant)

// ErrTransportNotConfigured indicates the service was constructed without a transport.
var ErrTransportNotConfigured = errors.New(transportMissingMessageConstant)

// ConfigurationSource loads validated configuration and persists the repository list.
type ConfigurationSource interface {
	Load() (configuration.Configuration, error)
	Current() configuration.Configuration
	PersistRepositories(repositories []repository.Options) error
}

// Dependencies wires the service collaborators. Configuration and Transport are required.
type Dependencies struct {
	Configuration ConfigurationSource
	Transport     transport.Transport
	ClientFactory ClientFactory
	Checkpoints   repository.CheckpointStore
	Recorder      metrics.Recorder
	Logger        *zap.Logger
}

// Service owns the registry and both background loops and answers operator commands.
type Service struct {
	lifecycleMutex      sync.Mutex
	mutationMutex       sync.RWMutex
	stateMutex          sync.RWMutex
	configurationSource ConfigurationSource
	deliveryTransport   transport.Transport
	clientFactory       ClientFactory
	checkpoints         repository.CheckpointStore
	recorder            metrics.Recorder
	logger              *zap.Logger
	registry            *repository.Registry
	renderer            notify.Renderer
	replicator          *replication.Replicator
	poller              *polling.Poller
	loopContext         context.Context
}

// NewService constructs a stopped Service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Configuration == nil {
		return nil, ErrConfigurationSourceNotConfigured
	}
	if dependencies.Transport == nil {
		return nil, ErrTransportNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := dependencies.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	clientFactory := dependencies.ClientFactory
	if clientFactory == nil {
		clientFactory = NewClientFactory(logger, nil)
	}
	return &Service{
		configurationSource: dependencies.Configuration,
		deliveryTransport:   dependencies.Transport,
		clientFactory:       clientFactory,
		checkpoints:         dependencies.Checkpoints,
		recorder:            recorder,
		logger:              logger,
		renderer:            notify.NewRenderer(0),
	}, nil
}

// Start initializes every configured repository from the current configuration and starts both loops.
// Repositories that fail to initialize are logged and left unwatched.
func (service *Service) Start(executionContext context.Context) error {
	service.lifecycleMutex.Lock()
	defer service.lifecycleMutex.Unlock()

	service.mutationMutex.Lock()
	defer service.mutationMutex.Unlock()

	service.stopLoops()
	currentConfiguration := service.configurationSource.Current()
	registry, initializeError := service.initialize(executionContext, currentConfiguration, repository.MaterializeSync)
	if initializeError != nil {
		return initializeError
	}
	service.loopContext = executionContext
	if startError := service.startLoops(currentConfiguration, registry); startError != nil {
		return startError
	}
	service.logger.Info(serviceStartedMessageConstant, zap.Strings(logFieldRepositoriesConstant, registry.Names()))
	return nil
}

// Initialize attaches to the existing clones of the configured repositories without
// contacting origin and without starting the loops. One-shot commands use it to answer
// from the clones as they are; repositories without a clone are left unwatched.
func (service *Service) Initialize(executionContext context.Context) error {
	service.lifecycleMutex.Lock()
	defer service.lifecycleMutex.Unlock()
	service.mutationMutex.Lock()
	defer service.mutationMutex.Unlock()

	service.stopLoops()
	_, initializeError := service.initialize(executionContext, service.configurationSource.Current(), repository.MaterializeOpen)
	return initializeError
}

// Stop halts both loops and waits for in-flight passes. It is safe to call repeatedly.
func (service *Service) Stop() {
	service.lifecycleMutex.Lock()
	defer service.lifecycleMutex.Unlock()
	if service.stopLoops() {
		service.logger.Info(serviceStoppedMessageConstant)
	}
}

// Rehash reloads configuration, rebuilds the registry and restarts the loops.
// It waits for in-flight repository additions and removals so their persisted
// result is part of the reloaded configuration.
// An invalid configuration leaves the running service untouched.
func (service *Service) Rehash(executionContext context.Context) Reply {
	service.lifecycleMutex.Lock()
	defer service.lifecycleMutex.Unlock()
	service.mutationMutex.Lock()
	defer service.mutationMutex.Unlock()

	reloadedConfiguration, loadError := service.configurationSource.Load()
	if loadError != nil {
		service.logger.Error(rehashFailedMessageConstant, zap.Error(loadError))
		return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, loadError)}, Err: loadError}
	}

	service.stopLoops()
	registry, initializeError := service.initialize(executionContext, reloadedConfiguration, repository.MaterializeSync)
	if initializeError != nil {
		service.logger.Error(rehashFailedMessageConstant, zap.Error(initializeError))
		return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, initializeError)}, Err: initializeError}
	}
	loopContext := service.loopContext
	if loopContext == nil {
		loopContext = executionContext
	}
	service.loopContext = loopContext
	if startError := service.startLoops(reloadedConfiguration, registry); startError != nil {
		return Reply{Lines: []string{fmt.Sprintf(errorReplyTemplateConstant, startError)}, Err: startError}
	}

	repositoryNames := registry.Names()
	repositoryCount := len(repositoryNames)
	service.logger.Info(serviceRehashedMessageConstant, zap.Strings(logFieldRepositoriesConstant, repositoryNames))
	return Reply{Lines: []string{fmt.Sprintf(rehashReplyTemplateConstant, repositoryCount, plural(repositoryCount, repositoryWordConstant, repositoriesWordConstant))}}
}

// List returns the watched repositories of the current registry.
func (service *Service) List() []*repository.Repository {
	registry, _ := service.currentRegistry()
	if registry == nil {
		return nil
	}
	return registry.List()
}

func (service *Service) initialize(executionContext context.Context, loadedConfiguration configuration.Configuration, mode repository.MaterializeMode) (*repository.Registry, error) {
	client, clientError := service.clientFactory(loadedConfiguration.Watch.VCSBackend)
	if clientError != nil {
		return nil, fmt.Errorf(clientCreationErrorTemplateConstant, clientError)
	}
	registry, registryError := repository.NewRegistry(repository.Dependencies{
		Client:      client,
		Checkpoints: service.checkpoints,
		Persister:   service.configurationSource,
		Logger:      service.logger,
	})
	if registryError != nil {
		return nil, fmt.Errorf(registryCreationErrorTemplateConstant, registryError)
	}

	watched := []*repository.Repository{}
	unavailable := []repository.Options{}
	for _, options := range loadedConfiguration.RepositoryOptions() {
		materialized, materializeError := registry.Materialize(executionContext, options, mode)
		if materializeError != nil {
			service.logger.Error(repositoryUnavailableMessageConstant, zap.String(logFieldRepositoryConstant, options.Name), zap.Error(materializeError))
			unavailable = append(unavailable, options)
			continue
		}
		watched = append(watched, materialized)
	}
	registry.Replace(watched, unavailable)
	if len(unavailable) > 0 {
		service.logger.Warn(repositoryUnavailableMessageConstant, zap.Int(logFieldUnavailableConstant, len(unavailable)))
	}

	service.stateMutex.Lock()
	service.registry = registry
	service.renderer = notify.NewRenderer(loadedConfiguration.Watch.MaxCommitsAtOnce)
	service.stateMutex.Unlock()
	service.recorder.SetRepositories(len(watched))
	return registry, nil
}

func (service *Service) startLoops(loadedConfiguration configuration.Configuration, registry *repository.Registry) error {
	service.stateMutex.RLock()
	renderer := service.renderer
	service.stateMutex.RUnlock()

	poller, pollerError := polling.NewPoller(polling.Dependencies{
		Registry:    registry,
		Transport:   service.deliveryTransport,
		Renderer:    renderer,
		Checkpoints: service.checkpoints,
		Period:      loadedConfiguration.Watch.PollPeriod,
		Recorder:    service.recorder,
		Logger:      service.logger,
	})
	if pollerError != nil {
		return fmt.Errorf(loopCreationErrorTemplateConstant, loopNamePollingConstant, pollerError)
	}

	var cycleCompleted func()
	if loadedConfiguration.Watch.PollAfterFetch {
		cycleCompleted = poller.Trigger
	}
	replicator, replicatorError := replication.NewReplicator(replication.Dependencies{
		Registry:       registry,
		Period:         loadedConfiguration.Watch.FetchPeriod,
		Recorder:       service.recorder,
		Logger:         service.logger,
		CycleCompleted: cycleCompleted,
	})
	if replicatorError != nil {
		return fmt.Errorf(loopCreationErrorTemplateConstant, loopNameReplicationConstant, replicatorError)
	}

	poller.Start(service.loopContext)
	replicator.Start(service.loopContext)
	service.poller = poller
	service.replicator = replicator
	return nil
}

func (service *Service) stopLoops() bool {
	stopped := false
	if service.replicator != nil {
		service.replicator.Stop()
		service.replicator = nil
		stopped = true
	}
	if service.poller != nil {
		service.poller.Stop()
		service.poller = nil
		stopped = true
	}
	return stopped
}

func (service *Service) currentRegistry() (*repository.Registry, notify.Renderer) {
	service.stateMutex.RLock()
	defer service.stateMutex.RUnlock()
	return service.registry, service.renderer
}
