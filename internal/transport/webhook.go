package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

const (
	// WebhookEndpointName names the webhook endpoint.
	WebhookEndpointName                 = "webhook"
	webhookContentTypeHeaderConstant    = "Content-Type"
	webhookContentTypeJSONConstant      = "application/json"
	defaultWebhookTimeoutConstant       = 10 * time.Second
	webhookResponseExcerptLimitConstant = 512
	webhookUnknownChannelTemplate       = "no webhook configured for channel %s"
	webhookEncodeErrorTemplate          = "failed to encode webhook payload: %w"
	webhookRequestErrorTemplate         = "failed to create webhook request: %w"
	webhookDeliveryErrorTemplate        = "webhook delivery to %s failed: %w"
	webhookStatusErrorTemplate          = "webhook delivery to %s returned %d: %s"
)

// WebhookPayload is the JSON document posted for every line.
type WebhookPayload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// WebhookTransport posts lines to one URL per channel.
type WebhookTransport struct {
	client        *http.Client
	urlsByChannel map[string]string
}

// NewWebhookTransport posts with client; a nil client gets a ten second timeout.
func NewWebhookTransport(client *http.Client, urlsByChannel map[string]string) *WebhookTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeoutConstant}
	}
	copiedURLs := make(map[string]string, len(urlsByChannel))
	for channel, url := range urlsByChannel {
		copiedURLs[channel] = url
	}
	return &WebhookTransport{client: client, urlsByChannel: copiedURLs}
}

// Endpoint returns WebhookEndpointName.
func (webhook *WebhookTransport) Endpoint() string {
	return WebhookEndpointName
}

// Channels lists the channels with a configured URL, sorted.
func (webhook *WebhookTransport) Channels() []string {
	channels := make([]string, 0, len(webhook.urlsByChannel))
	for channel := range webhook.urlsByChannel {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Send posts one line; any non-2xx response is an error.
func (webhook *WebhookTransport) Send(executionContext context.Context, channel string, line []byte) error {
	url, exists := webhook.urlsByChannel[channel]
	if !exists {
		return fmt.Errorf(webhookUnknownChannelTemplate, channel)
	}

	payload, encodeError := json.Marshal(WebhookPayload{Channel: channel, Text: string(line)})
	if encodeError != nil {
		return fmt.Errorf(webhookEncodeErrorTemplate, encodeError)
	}

	request, requestError := http.NewRequestWithContext(executionContext, http.MethodPost, url, bytes.NewReader(payload))
	if requestError != nil {
		return fmt.Errorf(webhookRequestErrorTemplate, requestError)
	}
	request.Header.Set(webhookContentTypeHeaderConstant, webhookContentTypeJSONConstant)

	response, deliveryError := webhook.client.Do(request)
	if deliveryError != nil {
		return fmt.Errorf(webhookDeliveryErrorTemplate, channel, deliveryError)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, webhookResponseExcerptLimitConstant))
		return fmt.Errorf(webhookStatusErrorTemplate, channel, response.StatusCode, bytes.TrimSpace(excerpt))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
