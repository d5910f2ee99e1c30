package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/cmd/cli/repos"
	"github.com/temirov/gitnotify/cmd/cli/serve"
	"github.com/temirov/gitnotify/internal/checkpoint"
	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/statusserver"
	"github.com/temirov/gitnotify/internal/transport"
	"github.com/temirov/gitnotify/internal/utils"
	"github.com/temirov/gitnotify/internal/watch"
)

const (
	applicationNameConstant                 = "gitnotify"
	applicationShortDescriptionConstant     = "Watch git repositories and announce new commits"
	applicationLongDescriptionConstant      = "gitnotify keeps clones of the configured git repositories up to date and announces newly pushed commits to the channels of each repository."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	environmentPrefixConstant               = "GITNOTIFY"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationDirectoryNameConstant      = "gitnotify"
	defaultConfigurationSearchPathConstant  = "."
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationStoreErrorTemplateConstant = "unable to prepare configuration: %w"
	configurationLoadErrorTemplateConstant  = "invalid configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	checkpointOpenErrorTemplateConstant     = "unable to open checkpoint store: %w"
	serviceCreationErrorTemplateConstant    = "unable to create watch service: %w"
	serviceInitializeErrorTemplateConstant  = "unable to initialize repositories: %w"
	checkpointCloseFailedMessageConstant    = "Failed to close checkpoint store"
	routedToServerMessageConstant           = "Routing command to the serving process"
	serverNotAnsweringMessageConstant       = "Serving process not answering; running command locally"
	statusClientFailedMessageConstant       = "Unable to build status server client; running command locally"
	logFieldStatusAddressConstant           = "status_address"
	configurationNotLoadedMessageConstant   = "configuration not loaded"
)

// ErrConfigurationNotLoaded indicates a command ran before configuration was initialized.
var ErrConfigurationNotLoaded = errors.New(configurationNotLoadedMessageConstant)

// Application wires the Cobra root command, configuration store, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	store                 *configuration.Store
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		configurationSearchPaths(),
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	loggerProvider := func() *zap.Logger {
		return application.logger
	}

	serveBuilder := serve.CommandBuilder{
		LoggerProvider: loggerProvider,
		ConfigurationProvider: func() watch.ConfigurationSource {
			if application.store == nil {
				return nil
			}
			return application.store
		},
	}
	serveCommand, serveBuildError := serveBuilder.Build()
	if serveBuildError == nil {
		cobraCommand.AddCommand(serveCommand)
	}

	reposBuilder := repos.CommandGroupBuilder{
		LoggerProvider: loggerProvider,
		ServiceFactory: application.openService,
	}
	reposCommand, reposBuildError := reposBuilder.Build()
	if reposBuildError == nil {
		cobraCommand.AddCommand(reposCommand)
	}

	snarfBuilder := repos.SnarfCommandBuilder{
		LoggerProvider: loggerProvider,
		ServiceFactory: application.openService,
	}
	snarfCommand, snarfBuildError := snarfBuilder.Build()
	if snarfBuildError == nil {
		cobraCommand.AddCommand(snarfCommand)
	}

	cobraCommand.AddCommand(newInitCommand())

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(executionError error) int {
	return repos.ExitCode(executionError)
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	store, storeError := configuration.NewStore(application.configurationLoader, application.configurationFilePath)
	if storeError != nil {
		return fmt.Errorf(configurationStoreErrorTemplateConstant, storeError)
	}
	loadedConfiguration, loadError := store.Load()
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	logLevel := loadedConfiguration.Common.LogLevel
	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		logLevel = application.logLevelFlagValue
	}
	logFormat := loadedConfiguration.Common.LogFormat
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		logFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(utils.LogLevel(logLevel), utils.LogFormat(logFormat))
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger
	application.store = store

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, logLevel),
		zap.String(configurationLogFormatFieldConstant, logFormat),
		zap.String(configurationFileFieldConstant, store.PersistencePath()),
	)

	return nil
}

// openService answers one-shot commands. When a serving process listens on the configured
// status server address the commands are sent to it; otherwise a watch service is
// initialized over the existing clones without contacting their origins.
func (application *Application) openService(executionContext context.Context) (repos.CommandService, func(), error) {
	if application.store == nil {
		return nil, nil, ErrConfigurationNotLoaded
	}
	currentConfiguration := application.store.Current()

	if remote, routed := application.servingProcess(executionContext, currentConfiguration.StatusServer.Address); routed {
		return remote, func() {}, nil
	}

	checkpoints, checkpointError := checkpoint.Open(executionContext, currentConfiguration.Watch.StateDatabase)
	if checkpointError != nil {
		return nil, nil, fmt.Errorf(checkpointOpenErrorTemplateConstant, checkpointError)
	}
	closeCheckpoints := func() {
		if closeError := checkpoints.Close(); closeError != nil {
			application.logger.Warn(checkpointCloseFailedMessageConstant, zap.Error(closeError))
		}
	}

	service, serviceError := watch.NewService(watch.Dependencies{
		Configuration: application.store,
		Transport:     transport.NewMultiplexer(),
		Checkpoints:   checkpoints,
		Logger:        application.logger,
	})
	if serviceError != nil {
		closeCheckpoints()
		return nil, nil, fmt.Errorf(serviceCreationErrorTemplateConstant, serviceError)
	}
	if initializeError := service.Initialize(executionContext); initializeError != nil {
		closeCheckpoints()
		return nil, nil, fmt.Errorf(serviceInitializeErrorTemplateConstant, initializeError)
	}

	return service, func() {
		service.Stop()
		closeCheckpoints()
	}, nil
}

func (application *Application) servingProcess(executionContext context.Context, address string) (*statusserver.Client, bool) {
	address = strings.TrimSpace(address)
	if len(address) == 0 {
		return nil, false
	}
	client, clientError := statusserver.NewClient(address, nil)
	if clientError != nil {
		application.logger.Warn(statusClientFailedMessageConstant, zap.String(logFieldStatusAddressConstant, address), zap.Error(clientError))
		return nil, false
	}
	if healthError := client.Healthy(executionContext); healthError != nil {
		application.logger.Debug(serverNotAnsweringMessageConstant, zap.String(logFieldStatusAddressConstant, address), zap.Error(healthError))
		return nil, false
	}
	application.logger.Debug(routedToServerMessageConstant, zap.String(logFieldStatusAddressConstant, address))
	return client, true
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}
	return utils.IgnoreUnsupportedSyncError(application.logger.Sync())
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}

func configurationSearchPaths() []string {
	searchPaths := []string{defaultConfigurationSearchPathConstant}
	if userConfigurationDirectory, directoryError := os.UserConfigDir(); directoryError == nil {
		searchPaths = append(searchPaths, filepath.Join(userConfigurationDirectory, configurationDirectoryNameConstant))
	}
	return searchPaths
}
