package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	channelFlagNameConstant            = "channel"
	channelFlagUsageConstant           = "Channel the command is issued from"
	serviceFactoryMissingMessage       = "repository service factory not configured"
	replyLineTemplateConstant          = "%s\n"
	commandFailedTemplateConstant      = "%s: %v"
	commandFailedMessageConstant       = "Repository command failed"
	logFieldCommandConstant            = "command"
	logFieldResultConstant             = "result"
	exitCodeGenericFailureConstant     = 1
	exitCodeInvalidArgumentConstant    = 2
	exitCodeNotFoundConstant           = 3
	exitCodeNotAuthorizedConstant      = 4
	exitCodeVCSErrorConstant           = 5
	exitCodeRepositoryExistsConstant   = 6
	exitCodeServiceUnavailableConstant = 7
)

// ErrServiceFactoryNotConfigured indicates a command was built without a ServiceFactory.
var ErrServiceFactoryNotConfigured = errors.New(serviceFactoryMissingMessage)

// LoggerProvider yields a zap logger for command execution.
type LoggerProvider func() *zap.Logger

// CommandService answers repository commands.
type CommandService interface {
	AddRepository(executionContext context.Context, name string, remoteURL string, channels []string) watch.Reply
	RemoveRepository(executionContext context.Context, name string) watch.Reply
	ListRepositories(channel string) watch.Reply
	RepositoryLog(executionContext context.Context, channel string, name string, branch string, count int) watch.Reply
	RepositoryStatus(channel string, name string) watch.Reply
	Snarf(executionContext context.Context, channel string, text string) watch.Reply
}

// ServiceFactory opens an initialized CommandService. The returned function releases it.
type ServiceFactory func(executionContext context.Context) (CommandService, func(), error)

// ReplyError carries the result code of a failed command reply.
type ReplyError struct {
	Command string
	Code    watch.ResultCode
	Err     error
}

func (replyError ReplyError) Error() string {
	return fmt.Sprintf(commandFailedTemplateConstant, replyError.Command, replyError.Err)
}

func (replyError ReplyError) Unwrap() error {
	return replyError.Err
}

// ExitCode maps an execution error to a process exit code.
func ExitCode(executionError error) int {
	if executionError == nil {
		return 0
	}
	var replyError ReplyError
	if !errors.As(executionError, &replyError) {
		return exitCodeGenericFailureConstant
	}
	switch replyError.Code {
	case watch.ResultInvalidArgument:
		return exitCodeInvalidArgumentConstant
	case watch.ResultRepositoryNotFound:
		return exitCodeNotFoundConstant
	case watch.ResultChannelNotAuthorized:
		return exitCodeNotAuthorizedConstant
	case watch.ResultVCSError:
		return exitCodeVCSErrorConstant
	case watch.ResultRepositoryExists:
		return exitCodeRepositoryExistsConstant
	case watch.ResultServiceUnavailable:
		return exitCodeServiceUnavailableConstant
	default:
		return exitCodeGenericFailureConstant
	}
}

// runWithService opens a service, runs operation and prints its reply.
func runWithService(command *cobra.Command, factory ServiceFactory, loggerProvider LoggerProvider, operation func(CommandService) watch.Reply) error {
	if factory == nil {
		return ErrServiceFactoryNotConfigured
	}
	service, release, openError := factory(command.Context())
	if openError != nil {
		return openError
	}
	if release != nil {
		defer release()
	}

	reply := operation(service)
	for _, line := range reply.Lines {
		fmt.Fprintf(command.OutOrStdout(), replyLineTemplateConstant, line)
	}
	if reply.Err == nil {
		return nil
	}
	resolveLogger(loggerProvider).Debug(commandFailedMessageConstant, zap.String(logFieldCommandConstant, command.Name()), zap.Stringer(logFieldResultConstant, reply.Code()), zap.Error(reply.Err))
	return ReplyError{Command: command.Name(), Code: reply.Code(), Err: reply.Err}
}

func addChannelFlag(command *cobra.Command) {
	command.Flags().String(channelFlagNameConstant, "", channelFlagUsageConstant)
	_ = command.MarkFlagRequired(channelFlagNameConstant)
}

func channelFlagValue(command *cobra.Command) string {
	channel, _ := command.Flags().GetString(channelFlagNameConstant)
	return strings.TrimSpace(channel)
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
