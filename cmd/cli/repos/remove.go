package repos

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	removeUseConstant      = "remove <name>"
	removeShortDescription = "Stop watching a repository and delete its clone"
	removeLongDescription  = "remove drops the repository from the configuration file, forgets its checkpoints and deletes its clone."
)

// RemoveCommandBuilder assembles the repo remove command.
type RemoveCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo remove command.
func (builder *RemoveCommandBuilder) Build() (*cobra.Command, error) {
	return &cobra.Command{
		Use:   removeUseConstant,
		Short: removeShortDescription,
		Long:  removeLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.run,
	}, nil
}

func (builder *RemoveCommandBuilder) run(command *cobra.Command, arguments []string) error {
	name := strings.TrimSpace(arguments[0])
	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.RemoveRepository(command.Context(), name)
	})
}
