package repos

import (
	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	listUseConstant      = "list"
	listShortDescription = "List the repositories notifying a channel"
)

// ListCommandBuilder assembles the repo list command.
type ListCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo list command.
func (builder *ListCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   listUseConstant,
		Short: listShortDescription,
		Args:  cobra.NoArgs,
		RunE:  builder.run,
	}
	addChannelFlag(command)
	return command, nil
}

func (builder *ListCommandBuilder) run(command *cobra.Command, _ []string) error {
	channel := channelFlagValue(command)
	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.ListRepositories(channel)
	})
}
