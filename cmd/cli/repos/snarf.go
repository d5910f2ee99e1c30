package repos

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	snarfUseConstant      = "snarf <text...>"
	snarfShortDescription = "Describe the commit mentioned in a message"
	snarfLongDescription  = "snarf looks up the first commit identifier in text among the repositories notifying the channel and prints nothing when none is known."
	snarfTextSeparator    = " "
)

// SnarfCommandBuilder assembles the snarf command.
type SnarfCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the snarf command.
func (builder *SnarfCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   snarfUseConstant,
		Short: snarfShortDescription,
		Long:  snarfLongDescription,
		Args:  cobra.MinimumNArgs(1),
		RunE:  builder.run,
	}
	addChannelFlag(command)
	return command, nil
}

func (builder *SnarfCommandBuilder) run(command *cobra.Command, arguments []string) error {
	channel := channelFlagValue(command)
	text := strings.Join(arguments, snarfTextSeparator)
	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.Snarf(command.Context(), channel, text)
	})
}
