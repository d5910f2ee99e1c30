package serve

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/gitnotify/internal/checkpoint"
	"github.com/temirov/gitnotify/internal/metrics"
	"github.com/temirov/gitnotify/internal/statusserver"
	"github.com/temirov/gitnotify/internal/watch"
)

const (
	serveUseConstant                  = "serve"
	serveShortDescription             = "Watch the configured repositories and announce new commits"
	serveLongDescription              = "serve fetches and polls every configured repository, announces new commits through the configured transports and reloads its configuration on SIGHUP."
	configurationMissingMessage       = "configuration source not configured"
	checkpointOpenErrorTemplate       = "unable to open checkpoint store: %w"
	serviceCreationErrorTemplate      = "unable to create watch service: %w"
	serviceStartErrorTemplate         = "unable to start watch service: %w"
	statusServerCreationErrorTemplate = "unable to create status server: %w"
	serveStartedMessageConstant       = "Serving"
	serveStoppedMessageConstant       = "Stopped serving"
	reloadRequestedMessageConstant    = "Reload requested"
	reloadReplyMessageConstant        = "Reload finished"
	checkpointCloseFailedMessage      = "Failed to close checkpoint store"
	logFieldReplyConstant             = "reply"
	logFieldStatusAddressConstant     = "status_address"
	logFieldEndpointsConstant         = "endpoints"
	logFieldResultConstant            = "result"
)

// ErrConfigurationNotConfigured indicates the command was built without a configuration provider.
var ErrConfigurationNotConfigured = errors.New(configurationMissingMessage)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider yields the loaded configuration source.
type ConfigurationProvider func() watch.ConfigurationSource

// CommandBuilder assembles the serve command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider ConfigurationProvider
	// ClientFactory overrides the backend selection from watch.vcs_backend.
	ClientFactory watch.ClientFactory
	// ReloadSignals replaces SIGHUP as the reload trigger.
	ReloadSignals <-chan os.Signal
}

// Build constructs the serve command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	return &cobra.Command{
		Use:   serveUseConstant,
		Short: serveShortDescription,
		Long:  serveLongDescription,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, _ []string) error {
	if builder.ConfigurationProvider == nil {
		return ErrConfigurationNotConfigured
	}
	source := builder.ConfigurationProvider()
	if source == nil {
		return ErrConfigurationNotConfigured
	}
	logger := resolveLogger(builder.LoggerProvider)
	currentConfiguration := source.Current()

	recorder := metrics.NewPrometheusRecorder()
	checkpoints, checkpointError := checkpoint.Open(command.Context(), currentConfiguration.Watch.StateDatabase)
	if checkpointError != nil {
		return fmt.Errorf(checkpointOpenErrorTemplate, checkpointError)
	}
	defer func() {
		if closeError := checkpoints.Close(); closeError != nil {
			logger.Warn(checkpointCloseFailedMessage, zap.Error(closeError))
		}
	}()

	clientFactory := builder.ClientFactory
	if clientFactory == nil {
		clientFactory = watch.NewClientFactory(logger, recorder)
	}
	deliveryTransport := BuildTransport(currentConfiguration.Transport, command.OutOrStdout())
	service, serviceError := watch.NewService(watch.Dependencies{
		Configuration: source,
		Transport:     deliveryTransport,
		ClientFactory: clientFactory,
		Checkpoints:   checkpoints,
		Recorder:      recorder,
		Logger:        logger,
	})
	if serviceError != nil {
		return fmt.Errorf(serviceCreationErrorTemplate, serviceError)
	}

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if startError := service.Start(signalContext); startError != nil {
		return fmt.Errorf(serviceStartErrorTemplate, startError)
	}
	defer service.Stop()

	group, groupContext := errgroup.WithContext(signalContext)
	statusAddress := strings.TrimSpace(currentConfiguration.StatusServer.Address)
	if len(statusAddress) > 0 {
		server, serverError := statusserver.NewServer(statusserver.Dependencies{
			Source:   service,
			Gatherer: recorder.Gatherer(),
			Commands: service,
			Address:  statusAddress,
			Logger:   logger,
		})
		if serverError != nil {
			return fmt.Errorf(statusServerCreationErrorTemplate, serverError)
		}
		group.Go(func() error {
			return server.Run(groupContext)
		})
	}

	reloadSignals := builder.ReloadSignals
	if reloadSignals == nil {
		hangups := make(chan os.Signal, 1)
		signal.Notify(hangups, syscall.SIGHUP)
		defer signal.Stop(hangups)
		reloadSignals = hangups
	}
	group.Go(func() error {
		for {
			select {
			case <-groupContext.Done():
				return nil
			case <-reloadSignals:
				logger.Info(reloadRequestedMessageConstant)
				reply := service.Rehash(groupContext)
				logger.Info(reloadReplyMessageConstant, zap.Strings(logFieldReplyConstant, reply.Lines), zap.Stringer(logFieldResultConstant, reply.Code()))
			}
		}
	})

	logger.Info(serveStartedMessageConstant, zap.String(logFieldStatusAddressConstant, statusAddress), zap.Strings(logFieldEndpointsConstant, deliveryTransport.Endpoints()))
	waitError := group.Wait()
	logger.Info(serveStoppedMessageConstant)
	return waitError
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
