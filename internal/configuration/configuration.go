package configuration

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/temirov/gitnotify/internal/gitrepo"
	"github.com/temirov/gitnotify/internal/repository"
)

const (
	commonLogLevelKeyConstant            = "common.log_level"
	commonLogFormatKeyConstant           = "common.log_format"
	watchRepositoryDirectoryKeyConstant  = "watch.repository_directory"
	watchFetchPeriodKeyConstant          = "watch.fetch_period"
	watchPollPeriodKeyConstant           = "watch.poll_period"
	watchFetchTimeoutKeyConstant         = "watch.fetch_timeout"
	watchMaxCommitsAtOnceKeyConstant     = "watch.max_commits_at_once"
	watchPollAfterFetchKeyConstant       = "watch.poll_after_fetch"
	watchVCSBackendKeyConstant           = "watch.vcs_backend"
	watchStateDatabaseKeyConstant        = "watch.state_database"
	statusServerAddressKeyConstant       = "status_server.address"
	transportConsoleEnabledKeyConstant   = "transport.console.enabled"
	defaultLogLevelConstant              = "info"
	defaultLogFormatConstant             = "structured"
	defaultRepositoryDirectoryConstant   = "git_repositories"
	defaultFetchPeriodConstant           = 120 * time.Second
	defaultPollPeriodConstant            = 30 * time.Second
	defaultFetchTimeoutConstant          = 300 * time.Second
	defaultMaxCommitsAtOnceConstant      = 5
	mapstructureTagNameConstant          = "mapstructure"
	tagOptionSeparatorConstant           = ","
	tagSkipMarkerConstant                = "-"
	namespaceSeparatorConstant           = "."
	requiredRuleConstant                 = "required"
	ruleParameterSeparatorConstant       = "="
	validationErrorTemplateConstant      = "failed to validate configuration: %w"
	repositoryValidationTemplateConstant = "repositories[%s]"

	// VCSBackendShell drives the git command-line tool.
	VCSBackendShell = "shell"
	// VCSBackendNative uses the in-process go-git implementation.
	VCSBackendNative = "native"
	// DefaultBranchPatterns is tracked when a repository lists no branches.
	DefaultBranchPatterns = "master"
	// DefaultCommitTemplate renders commits when a repository sets no commit_message.
	DefaultCommitTemplate = "[%n|%b|%a] %m"
)

// Configuration is the complete typed gitnotify configuration.
type Configuration struct {
	Common       CommonConfiguration       `mapstructure:"common"`
	Watch        WatchConfiguration        `mapstructure:"watch"`
	StatusServer StatusServerConfiguration `mapstructure:"status_server"`
	Transport    TransportConfiguration    `mapstructure:"transport"`
	Repositories []RepositoryConfiguration `mapstructure:"repositories" validate:"unique=Name,dive"`
}

// CommonConfiguration stores logging settings.
type CommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=structured console"`
}

// WatchConfiguration stores the loop periods and clone management settings.
type WatchConfiguration struct {
	RepositoryDirectory string        `mapstructure:"repository_directory" validate:"required"`
	FetchPeriod         time.Duration `mapstructure:"fetch_period" validate:"gte=0s"`
	PollPeriod          time.Duration `mapstructure:"poll_period" validate:"gte=0s"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout" validate:"gt=0s"`
	MaxCommitsAtOnce    int           `mapstructure:"max_commits_at_once" validate:"gt=0"`
	PollAfterFetch      bool          `mapstructure:"poll_after_fetch"`
	VCSBackend          string        `mapstructure:"vcs_backend" validate:"required,oneof=shell native"`
	StateDatabase       string        `mapstructure:"state_database"`
}

// StatusServerConfiguration enables the HTTP status server when Address is set.
type StatusServerConfiguration struct {
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

// TransportConfiguration describes the delivery endpoints.
type TransportConfiguration struct {
	Console  ConsoleConfiguration   `mapstructure:"console"`
	Webhooks []WebhookConfiguration `mapstructure:"webhooks" validate:"dive"`
}

// ConsoleConfiguration enables printing notifications to standard output for the listed channels.
type ConsoleConfiguration struct {
	Enabled  bool     `mapstructure:"enabled"`
	Channels []string `mapstructure:"channels" validate:"dive,required"`
}

// WebhookConfiguration posts the notifications of one channel to URL.
type WebhookConfiguration struct {
	Channel string `mapstructure:"channel" validate:"required"`
	URL     string `mapstructure:"url" validate:"required,url"`
}

// RepositoryConfiguration describes one watched repository.
type RepositoryConfiguration struct {
	Name          string        `mapstructure:"name" validate:"required,excludesall=/\\,ne=.,ne=.."`
	LongName      string        `mapstructure:"long_name"`
	URL           string        `mapstructure:"url" validate:"required"`
	Channels      []string      `mapstructure:"channels" validate:"dive,required"`
	Branches      string        `mapstructure:"branches"`
	CommitMessage string        `mapstructure:"commit_message"`
	CommitLink    string        `mapstructure:"commit_link"`
	GroupHeader   *bool         `mapstructure:"group_header"`
	EnableSnarf   *bool         `mapstructure:"enable_snarf"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" validate:"gte=0s"`
}

var settingsValidator = newSettingsValidator()

// DefaultValues lists the configuration defaults keyed by their dotted setting names.
func DefaultValues() map[string]any {
	return map[string]any{
		commonLogLevelKeyConstant:           defaultLogLevelConstant,
		commonLogFormatKeyConstant:          defaultLogFormatConstant,
		watchRepositoryDirectoryKeyConstant: defaultRepositoryDirectoryConstant,
		watchFetchPeriodKeyConstant:         defaultFetchPeriodConstant,
		watchPollPeriodKeyConstant:          defaultPollPeriodConstant,
		watchFetchTimeoutKeyConstant:        defaultFetchTimeoutConstant,
		watchMaxCommitsAtOnceKeyConstant:    defaultMaxCommitsAtOnceConstant,
		watchPollAfterFetchKeyConstant:      true,
		watchVCSBackendKeyConstant:          VCSBackendShell,
		watchStateDatabaseKeyConstant:       "",
		statusServerAddressKeyConstant:      "",
		transportConsoleEnabledKeyConstant:  false,
	}
}

// Validate checks every setting and reports the first violation as a
// MissingSettingError or InvalidSettingError.
func Validate(configuration Configuration) error {
	return translateValidationError(settingsValidator.Struct(configuration), "")
}

// ValidateRepository checks a single repository entry.
func ValidateRepository(repositoryConfiguration RepositoryConfiguration) error {
	return translateValidationError(
		settingsValidator.Struct(repositoryConfiguration),
		fmt.Sprintf(repositoryValidationTemplateConstant, repositoryConfiguration.Name),
	)
}

// RepositoryOptions converts every configured repository into registry options.
func (configuration Configuration) RepositoryOptions() []repository.Options {
	options := make([]repository.Options, 0, len(configuration.Repositories))
	for _, repositoryConfiguration := range configuration.Repositories {
		options = append(options, repositoryConfiguration.Options(configuration.Watch))
	}
	return options
}

// Options converts the entry into registry options, filling unset values from the watch defaults.
func (repositoryConfiguration RepositoryConfiguration) Options(watch WatchConfiguration) repository.Options {
	longName := strings.TrimSpace(repositoryConfiguration.LongName)
	if len(longName) == 0 {
		longName = gitrepo.DisplayName(repositoryConfiguration.URL, repositoryConfiguration.Name)
	}
	branchPatterns := strings.TrimSpace(repositoryConfiguration.Branches)
	if len(branchPatterns) == 0 {
		branchPatterns = DefaultBranchPatterns
	}
	commitTemplate := repositoryConfiguration.CommitMessage
	if len(strings.TrimSpace(commitTemplate)) == 0 {
		commitTemplate = DefaultCommitTemplate
	}
	fetchTimeout := repositoryConfiguration.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = watch.FetchTimeout
	}

	return repository.Options{
		Name:           repositoryConfiguration.Name,
		LongName:       longName,
		URL:            repositoryConfiguration.URL,
		Path:           filepath.Join(watch.RepositoryDirectory, repositoryConfiguration.Name),
		BranchPatterns: branchPatterns,
		Channels:       append([]string{}, repositoryConfiguration.Channels...),
		CommitTemplate: commitTemplate,
		LinkTemplate:   repositoryConfiguration.CommitLink,
		GroupHeader:    enabledUnlessDisabled(repositoryConfiguration.GroupHeader),
		EnableSnarf:    enabledUnlessDisabled(repositoryConfiguration.EnableSnarf),
		FetchTimeout:   fetchTimeout,
	}
}

// RepositoryConfigurationFromOptions converts registry options back into a configuration entry,
// omitting values that equal the defaults Options would fill in.
func RepositoryConfigurationFromOptions(options repository.Options, watch WatchConfiguration) RepositoryConfiguration {
	repositoryConfiguration := RepositoryConfiguration{
		Name:          options.Name,
		URL:           options.URL,
		Channels:      append([]string{}, options.Channels...),
		Branches:      options.BranchPatterns,
		CommitMessage: options.CommitTemplate,
		CommitLink:    options.LinkTemplate,
		GroupHeader:   boolPointer(options.GroupHeader),
		EnableSnarf:   boolPointer(options.EnableSnarf),
	}
	if options.LongName != gitrepo.DisplayName(options.URL, options.Name) {
		repositoryConfiguration.LongName = options.LongName
	}
	if options.CommitTemplate == DefaultCommitTemplate {
		repositoryConfiguration.CommitMessage = ""
	}
	if options.FetchTimeout > 0 && options.FetchTimeout != watch.FetchTimeout {
		repositoryConfiguration.FetchTimeout = options.FetchTimeout
	}
	return repositoryConfiguration
}

func enabledUnlessDisabled(flag *bool) bool {
	if flag == nil {
		return true
	}
	return *flag
}

func boolPointer(value bool) *bool {
	return &value
}

func newSettingsValidator() *validator.Validate {
	settingsValidator := validator.New()
	settingsValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
		tagName := strings.SplitN(field.Tag.Get(mapstructureTagNameConstant), tagOptionSeparatorConstant, 2)[0]
		if tagName == tagSkipMarkerConstant {
			return ""
		}
		return tagName
	})
	return settingsValidator
}

func translateValidationError(validationError error, settingPrefix string) error {
	if validationError == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(validationError, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf(validationErrorTemplateConstant, validationError)
	}

	firstError := fieldErrors[0]
	setting := settingName(firstError.Namespace(), settingPrefix)
	if firstError.Tag() == requiredRuleConstant {
		return MissingSettingError{Setting: setting}
	}

	rule := firstError.Tag()
	if len(firstError.Param()) > 0 {
		rule = rule + ruleParameterSeparatorConstant + firstError.Param()
	}
	return InvalidSettingError{Setting: setting, Value: firstError.Value(), Rule: rule}
}

func settingName(namespace string, settingPrefix string) string {
	separatorIndex := strings.Index(namespace, namespaceSeparatorConstant)
	if separatorIndex == -1 {
		return settingPrefix
	}
	relativeName := namespace[separatorIndex+1:]
	if len(settingPrefix) == 0 {
		return relativeName
	}
	return settingPrefix + namespaceSeparatorConstant + relativeName
}
