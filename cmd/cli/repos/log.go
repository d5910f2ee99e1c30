package repos

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	logUseConstant               = "log <name> [branch] [count]"
	logShortDescription          = "Show the latest commits of a watched branch"
	logLongDescription           = "log shows the latest count commits of branch, oldest first. The branch defaults to master and the count to one."
	logMaximumArgumentsConstant  = 3
	invalidCountArgumentTemplate = "%w: count %q is not a number"
	invalidCountReplyTemplate    = "Invalid count %s: show at least one commit."
)

// LogCommandBuilder assembles the repo log command.
type LogCommandBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo log command.
func (builder *LogCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   logUseConstant,
		Short: logShortDescription,
		Long:  logLongDescription,
		Args:  cobra.RangeArgs(1, logMaximumArgumentsConstant),
		RunE:  builder.run,
	}
	addChannelFlag(command)
	return command, nil
}

func (builder *LogCommandBuilder) run(command *cobra.Command, arguments []string) error {
	channel := channelFlagValue(command)
	name := strings.TrimSpace(arguments[0])
	branch := watch.DefaultLogBranch
	if len(arguments) > 1 {
		branch = strings.TrimSpace(arguments[1])
	}
	count := watch.DefaultLogCount
	if len(arguments) > 2 {
		countArgument := strings.TrimSpace(arguments[2])
		parsedCount, parseError := strconv.Atoi(countArgument)
		if parseError != nil {
			fmt.Fprintf(command.OutOrStdout(), replyLineTemplateConstant, fmt.Sprintf(invalidCountReplyTemplate, countArgument))
			return ReplyError{
				Command: command.Name(),
				Code:    watch.ResultInvalidArgument,
				Err:     fmt.Errorf(invalidCountArgumentTemplate, watch.ErrInvalidArgument, countArgument),
			}
		}
		count = parsedCount
	}

	return runWithService(command, builder.ServiceFactory, builder.LoggerProvider, func(service CommandService) watch.Reply {
		return service.RepositoryLog(command.Context(), channel, name, branch, count)
	})
}
