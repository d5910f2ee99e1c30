package transport

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/temirov/gitnotify/internal/utils"
)

const (
	// ConsoleEndpointName names the console endpoint.
	ConsoleEndpointName               = "console"
	consoleLineTemplateConstant       = "[%s] %s\n"
	consoleWriteErrorTemplateConstant = "failed to write to console channel %s: %w"
)

// ConsoleTransport prints lines prefixed by their channel.
type ConsoleTransport struct {
	writer   io.Writer
	channels []string
}

// NewConsoleTransport writes to writer and serves channels.
func NewConsoleTransport(writer io.Writer, channels []string) *ConsoleTransport {
	return &ConsoleTransport{writer: utils.NewFlushingWriter(writer), channels: slices.Clone(channels)}
}

// Endpoint returns ConsoleEndpointName.
func (console *ConsoleTransport) Endpoint() string {
	return ConsoleEndpointName
}

// Channels lists the served channels.
func (console *ConsoleTransport) Channels() []string {
	return slices.Clone(console.channels)
}

// Send prints one line.
func (console *ConsoleTransport) Send(executionContext context.Context, channel string, line []byte) error {
	if contextError := executionContext.Err(); contextError != nil {
		return contextError
	}
	if _, writeError := fmt.Fprintf(console.writer, consoleLineTemplateConstant, channel, line); writeError != nil {
		return fmt.Errorf(consoleWriteErrorTemplateConstant, channel, writeError)
	}
	return nil
}
