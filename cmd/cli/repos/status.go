package repos

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	statusUseConstant      = "status <name>"
	statusShortDescription = "Show the branches a repository watches"
)

// StatusCommandBuilder assembles the repo status command.
type StatusCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo status command.
func (builder *StatusCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   statusUseConstant,
		Short: statusShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.run,
	}
	addChannelFlag(command)
	return command, nil
}

func (builder *StatusCommandBuilder) run(command *cobra.Command, arguments []string) error {
	channel := channelFlagValue(command)
	name := strings.TrimSpace(arguments[0])
	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.RepositoryStatus(channel, name)
	})
}
