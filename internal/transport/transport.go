package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

const (
	unknownEndpointMessageConstant  = "unknown endpoint"
	unknownEndpointTemplateConstant = "%w: %s"
)

// ErrUnknownEndpoint indicates a delivery to an endpoint no transport serves.
var ErrUnknownEndpoint = errors.New(unknownEndpointMessageConstant)

// Transport is the delivery collaborator used by the poller and the command surface.
type Transport interface {
	// Endpoints lists the delivery endpoints.
	Endpoints() []string
	// LiveChannels lists the channels endpoint currently serves.
	LiveChannels(endpoint string) []string
	// Deliver sends one line to channel through endpoint.
	Deliver(executionContext context.Context, endpoint string, channel string, line []byte) error
}

// Target names one channel on one endpoint.
type Target struct {
	Endpoint string
	Channel  string
}

// ResolveTargets crosses the configured channels with the live channels of every endpoint.
func ResolveTargets(deliveryTransport Transport, channels []string) []Target {
	if deliveryTransport == nil {
		return nil
	}
	targets := []Target{}
	for _, endpoint := range deliveryTransport.Endpoints() {
		liveChannels := map[string]struct{}{}
		for _, liveChannel := range deliveryTransport.LiveChannels(endpoint) {
			liveChannels[liveChannel] = struct{}{}
		}
		for _, channel := range channels {
			if _, isLive := liveChannels[channel]; isLive {
				targets = append(targets, Target{Endpoint: endpoint, Channel: channel})
			}
		}
	}
	return targets
}

// EndpointTransport is a transport serving exactly one endpoint.
type EndpointTransport interface {
	Endpoint() string
	Channels() []string
	Send(executionContext context.Context, channel string, line []byte) error
}

// Multiplexer combines single-endpoint transports into one Transport.
type Multiplexer struct {
	endpoints map[string]EndpointTransport
}

// NewMultiplexer constructs a multiplexer. Later transports replace earlier ones with the same endpoint.
func NewMultiplexer(transports ...EndpointTransport) *Multiplexer {
	endpoints := map[string]EndpointTransport{}
	for _, endpointTransport := range transports {
		if endpointTransport != nil {
			endpoints[endpointTransport.Endpoint()] = endpointTransport
		}
	}
	return &Multiplexer{endpoints: endpoints}
}

// Endpoints lists the endpoint names in sorted order.
func (multiplexer *Multiplexer) Endpoints() []string {
	names := make([]string, 0, len(multiplexer.endpoints))
	for name := range multiplexer.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LiveChannels lists the channels of endpoint.
func (multiplexer *Multiplexer) LiveChannels(endpoint string) []string {
	endpointTransport, exists := multiplexer.endpoints[endpoint]
	if !exists {
		return nil
	}
	return endpointTransport.Channels()
}

// Deliver sends line through endpoint.
func (multiplexer *Multiplexer) Deliver(executionContext context.Context, endpoint string, channel string, line []byte) error {
	endpointTransport, exists := multiplexer.endpoints[endpoint]
	if !exists {
		return fmt.Errorf(unknownEndpointTemplateConstant, ErrUnknownEndpoint, endpoint)
	}
	return endpointTransport.Send(executionContext, channel, line)
}
