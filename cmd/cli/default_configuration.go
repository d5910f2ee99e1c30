package cli

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const (
	initUseConstant                      = "init [path]"
	initShortDescriptionConstant         = "Write the default configuration file"
	initLongDescriptionConstant          = "init writes the built-in defaults to path (config.yaml when omitted) so repositories and transports can be added to it."
	defaultConfigurationFileNameConstant = "config.yaml"
	configurationFileModeConstant        = 0o644
	configurationDirectoryModeConstant   = 0o755
	configurationExistsTemplateConstant  = "%w: %s"
	configurationWriteErrorTemplate      = "unable to write default configuration %s: %w"
	configurationWrittenTemplateConstant = "Wrote default configuration to %s\n"
	configurationExistsMessageConstant   = "configuration file already exists"
)

// ErrConfigurationFileExists indicates init would overwrite an existing file.
var ErrConfigurationFileExists = errors.New(configurationExistsMessageConstant)

//go:embed default_config.yaml
var embeddedDefaultConfigurationContent []byte

// EmbeddedDefaultConfiguration returns the embedded default configuration data and type identifier.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	duplicatedContent := make([]byte, len(embeddedDefaultConfigurationContent))
	copy(duplicatedContent, embeddedDefaultConfigurationContent)
	return duplicatedContent, configurationTypeConstant
}

// WriteDefaultConfiguration writes the embedded defaults to path without replacing an existing file.
func WriteDefaultConfiguration(path string) error {
	if mkdirError := os.MkdirAll(filepath.Dir(path), configurationDirectoryModeConstant); mkdirError != nil {
		return fmt.Errorf(configurationWriteErrorTemplate, path, mkdirError)
	}
	file, openError := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, configurationFileModeConstant)
	if errors.Is(openError, os.ErrExist) {
		return fmt.Errorf(configurationExistsTemplateConstant, ErrConfigurationFileExists, path)
	}
	if openError != nil {
		return fmt.Errorf(configurationWriteErrorTemplate, path, openError)
	}
	_, writeError := file.Write(embeddedDefaultConfigurationContent)
	if closeError := file.Close(); writeError == nil {
		writeError = closeError
	}
	if writeError != nil {
		return fmt.Errorf(configurationWriteErrorTemplate, path, writeError)
	}
	return nil
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   initUseConstant,
		Short: initShortDescriptionConstant,
		Long:  initLongDescriptionConstant,
		Args:  cobra.MaximumNArgs(1),
		// init runs before any configuration exists.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			path := defaultConfigurationFileNameConstant
			if len(arguments) > 0 && len(strings.TrimSpace(arguments[0])) > 0 {
				path = strings.TrimSpace(arguments[0])
			}
			if writeError := WriteDefaultConfiguration(path); writeError != nil {
				return writeError
			}
			fmt.Fprintf(command.OutOrStdout(), configurationWrittenTemplateConstant, path)
			return nil
		},
	}
}
