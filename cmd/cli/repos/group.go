package repos

import "github.com/spf13/cobra"

const (
	groupUseConstant      = "repo"
	groupShortDescription = "Manage and inspect watched repositories"
	groupLongDescription  = "repo groups the commands that add, remove and inspect the repositories gitnotify watches."
)

// CommandGroupBuilder assembles the repo command group.
type CommandGroupBuilder struct {
	LoggerProvider LoggerProvider
	ServiceFactory ServiceFactory
}

// Build constructs the repo command hierarchy.
func (builder *CommandGroupBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   groupUseConstant,
		Short: groupShortDescription,
		Long:  groupLongDescription,
	}

	subcommandBuilders := []interface {
		Build() (*cobra.Command, error)
	}{
		&AddCommandBuilder{LoggerProvider: builder.LoggerProvider, ServiceFactory: builder.ServiceFactory},
		&RemoveCommandBuilder{LoggerProvider: builder.LoggerProvider, ServiceFactory: builder.ServiceFactory},
		&ListCommandBuilder{LoggerProvider: builder.LoggerProvider, ServiceFactory: builder.ServiceFactory},
		&LogCommandBuilder{LoggerProvider: builder.LoggerProvider, ServiceFactory: builder.ServiceFactory},
		&StatusCommandBuilder{LoggerProvider: builder.LoggerProvider, ServiceFactory: builder.ServiceFactory},
	}
	for _, subcommandBuilder := range subcommandBuilders {
		subcommand, buildError := subcommandBuilder.Build()
		if buildError != nil {
			return nil, buildError
		}
		command.AddCommand(subcommand)
	}

	return command, nil
}
