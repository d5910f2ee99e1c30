package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/transport"
)

func TestConsoleTransportSend(testInstance *testing.T) {
	var output bytes.Buffer
	console := transport.NewConsoleTransport(&output, []string{"#test", "#dev"})

	require.Equal(testInstance, transport.ConsoleEndpointName, console.Endpoint())
	require.Equal(testInstance, []string{"#test", "#dev"}, console.Channels())
	require.NoError(testInstance, console.Send(context.Background(), "#test", []byte("[test2|feature|nstark] Fix bugs.")))
	require.Equal(testInstance, "[#test] [test2|feature|nstark] Fix bugs.\n", output.String())

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(testInstance, console.Send(cancelledContext, "#test", []byte("dropped")), context.Canceled)
}

func TestWebhookTransportSend(testInstance *testing.T) {
	var mutex sync.Mutex
	received := []transport.WebhookPayload{}
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/broken" {
			http.Error(responseWriter, "nope", http.StatusBadGateway)
			return
		}
		require.Equal(testInstance, "application/json", request.Header.Get("Content-Type"))
		var payload transport.WebhookPayload
		require.NoError(testInstance, json.NewDecoder(request.Body).Decode(&payload))
		mutex.Lock()
		received = append(received, payload)
		mutex.Unlock()
		responseWriter.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := transport.NewWebhookTransport(server.Client(), map[string]string{
		"#test":   server.URL + "/hooks/test",
		"#broken": server.URL + "/broken",
	})
	require.Equal(testInstance, []string{"#broken", "#test"}, webhook.Channels())

	require.NoError(testInstance, webhook.Send(context.Background(), "#test", []byte("Talking about deadbee?")))
	require.Equal(testInstance, []transport.WebhookPayload{{Channel: "#test", Text: "Talking about deadbee?"}}, received)

	statusError := webhook.Send(context.Background(), "#broken", []byte("line"))
	require.ErrorContains(testInstance, statusError, "returned 502")
	require.ErrorContains(testInstance, webhook.Send(context.Background(), "#absent", []byte("line")), "no webhook configured")
}

func TestMultiplexerAndTargets(testInstance *testing.T) {
	var output bytes.Buffer
	multiplexer := transport.NewMultiplexer(
		transport.NewConsoleTransport(&output, []string{"#test"}),
		transport.NewWebhookTransport(nil, map[string]string{"#dev": "http://127.0.0.1:1/unused", "#test": "http://127.0.0.1:1/unused"}),
	)

	require.Equal(testInstance, []string{transport.ConsoleEndpointName, transport.WebhookEndpointName}, multiplexer.Endpoints())
	require.Nil(testInstance, multiplexer.LiveChannels("irc"))

	targets := transport.ResolveTargets(multiplexer, []string{"#test", "#dev", "#quiet"})
	require.Equal(testInstance, []transport.Target{
		{Endpoint: transport.ConsoleEndpointName, Channel: "#test"},
		{Endpoint: transport.WebhookEndpointName, Channel: "#test"},
		{Endpoint: transport.WebhookEndpointName, Channel: "#dev"},
	}, targets)
	require.Empty(testInstance, transport.ResolveTargets(multiplexer, []string{"#quiet"}))
	require.Nil(testInstance, transport.ResolveTargets(nil, []string{"#test"}))

	require.NoError(testInstance, multiplexer.Deliver(context.Background(), transport.ConsoleEndpointName, "#test", []byte("hello")))
	require.Equal(testInstance, "[#test] hello\n", output.String())
	require.ErrorIs(testInstance, multiplexer.Deliver(context.Background(), "irc", "#test", []byte("hello")), transport.ErrUnknownEndpoint)
}
