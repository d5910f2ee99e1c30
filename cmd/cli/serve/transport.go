package serve

import (
	"io"

	"github.com/temirov/gitnotify/internal/configuration"
	"github.com/temirov/gitnotify/internal/transport"
)

// BuildTransport combines the configured endpoints. Console lines go to output.
func BuildTransport(transportConfiguration configuration.TransportConfiguration, output io.Writer) *transport.Multiplexer {
	endpoints := []transport.EndpointTransport{}
	if transportConfiguration.Console.Enabled {
		endpoints = append(endpoints, transport.NewConsoleTransport(output, transportConfiguration.Console.Channels))
	}
	if len(transportConfiguration.Webhooks) > 0 {
		urlsByChannel := make(map[string]string, len(transportConfiguration.Webhooks))
		for _, webhook := range transportConfiguration.Webhooks {
			urlsByChannel[webhook.Channel] = webhook.URL
		}
		endpoints = append(endpoints, transport.NewWebhookTransport(nil, urlsByChannel))
	}
	return transport.NewMultiplexer(endpoints...)
}
