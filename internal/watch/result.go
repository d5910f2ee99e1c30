package watch

import (
	"errors"

	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/repository"
)

const (
	channelNotAuthorizedMessageConstant = "channel not authorized"
	invalidArgumentMessageConstant      = "invalid argument"
	serviceNotStartedMessageConstant    = "watch service not started"
)

// ErrChannelNotAuthorized indicates a command about a repository issued from a channel it does not notify.
var ErrChannelNotAuthorized = errors.New(channelNotAuthorizedMessageConstant)

// ErrInvalidArgument indicates a malformed command argument.
var ErrInvalidArgument = errors.New(invalidArgumentMessageConstant)

// ErrServiceNotStarted indicates a command issued before Start.
var ErrServiceNotStarted = errors.New(serviceNotStartedMessageConstant)

// ResultCode classifies the outcome of a command.
type ResultCode int

// Result codes reported by commands.
const (
	ResultSuccess ResultCode = iota
	ResultRepositoryNotFound
	ResultChannelNotAuthorized
	ResultVCSError
	ResultInvalidArgument
	ResultRepositoryExists
	ResultServiceUnavailable
)

var resultCodeNames = map[ResultCode]string{
	ResultSuccess:              "success",
	ResultRepositoryNotFound:   "repository_not_found",
	ResultChannelNotAuthorized: "channel_not_authorized",
	ResultVCSError:             "vcs_error",
	ResultInvalidArgument:      "invalid_argument",
	ResultRepositoryExists:     "repository_exists",
	ResultServiceUnavailable:   "service_unavailable",
}

// String names the result code.
func (code ResultCode) String() string {
	if name, exists := resultCodeNames[code]; exists {
		return name
	}
	return resultCodeNames[ResultVCSError]
}

// ParseResultCode resolves a result code from its name.
func ParseResultCode(name string) (ResultCode, bool) {
	for code, codeName := range resultCodeNames {
		if codeName == name {
			return code, true
		}
	}
	return ResultVCSError, false
}

// RemoteError is a command failure reported by another process, which already classified it.
type RemoteError struct {
	Code    ResultCode
	Message string
}

func (remoteError RemoteError) Error() string {
	return remoteError.Message
}

// ResultCodeFor classifies a command error. Unclassified failures come from the VCS.
func ResultCodeFor(commandError error) ResultCode {
	var remoteError RemoteError
	switch {
	case commandError == nil:
		return ResultSuccess
	case errors.As(commandError, &remoteError):
		return remoteError.Code
	case errors.Is(commandError, repository.ErrRepositoryNotFound):
		return ResultRepositoryNotFound
	case errors.Is(commandError, ErrChannelNotAuthorized):
		return ResultChannelNotAuthorized
	case errors.Is(commandError, repository.ErrRepositoryExists):
		return ResultRepositoryExists
	case errors.Is(commandError, ErrInvalidArgument), configuration.IsConfigurationError(commandError):
		return ResultInvalidArgument
	case errors.Is(commandError, ErrServiceNotStarted):
		return ResultServiceUnavailable
	default:
		return ResultVCSError
	}
}

// Reply carries the lines a command answers with and the error that shaped them, if any.
type Reply struct {
	Lines []string
	Err   error
}

// Code classifies the reply.
func (reply Reply) Code() ResultCode {
	return ResultCodeFor(reply.Err)
}
