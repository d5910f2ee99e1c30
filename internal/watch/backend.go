package watch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/execshell"
	"github.com/temirov/gitnotify/internal/gitnative"
	"github.com/temirov/gitnotify/internal/gitrepo"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	unknownBackendMessageConstant  = "unknown vcs backend"
	unknownBackendTemplateConstant = "%w: %s"
)

// ErrUnknownBackend indicates a vcs_backend value without an implementation.
var ErrUnknownBackend = errors.New(unknownBackendMessageConstant)

// ClientFactory builds the VCS client for a configured backend.
type ClientFactory func(backend string) (vcs.Client, error)

// NewClientFactory selects between the git command-line backend, whose commands
// are logged and reported to observer, and the in-process go-git backend.
func NewClientFactory(logger *zap.Logger, observer execshell.CommandEventObserver) ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(backend string) (vcs.Client, error) {
		switch backend {
		case configuration.VCSBackendShell, "":
			executor, executorError := execshell.NewShellExecutorWithObserver(logger, execshell.NewOSCommandRunner(), observer)
			if executorError != nil {
				return nil, executorError
			}
			return gitrepo.NewClient(executor)
		case configuration.VCSBackendNative:
			return gitnative.NewClient(), nil
		default:
			return nil, fmt.Errorf(unknownBackendTemplateConstant, ErrUnknownBackend, backend)
		}
	}
}
