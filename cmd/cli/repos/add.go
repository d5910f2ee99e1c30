package repos

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	addUseConstant           = "add <name> <url>"
	addShortDescription      = "Clone a repository and start watching it"
	addLongDescription       = "add clones the repository at url into the repository directory, watches it and records it in the configuration file."
	addChannelsFlagUsage     = "Channel notified about the repository (repeatable)"
	addArgumentCountConstant = 2
)

// AddCommandBuilder assembles the repo add command.
type AddCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo add command.
func (builder *AddCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   addUseConstant,
		Short: addShortDescription,
		Long:  addLongDescription,
		Args:  cobra.ExactArgs(addArgumentCountConstant),
		RunE:  builder.run,
	}
	command.Flags().StringSlice(channelFlagNameConstant, nil, addChannelsFlagUsage)
	return command, nil
}

func (builder *AddCommandBuilder) run(command *cobra.Command, arguments []string) error {
	channels, _ := command.Flags().GetStringSlice(channelFlagNameConstant)
	trimmedChannels := make([]string, 0, len(channels))
	for _, channel := range channels {
		if trimmed := strings.TrimSpace(channel); len(trimmed) > 0 {
			trimmedChannels = append(trimmedChannels, trimmed)
		}
	}
	name := strings.TrimSpace(arguments[0])
	remoteURL := strings.TrimSpace(arguments[1])

	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.AddRepository(command.Context(), name, remoteURL, trimmedChannels)
	})
}
