package statusserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	httpSchemeConstant                = "http"
	loopbackHostConstant              = "127.0.0.1"
	pathSeparatorConstant             = "/"
	logSegmentConstant                = "/log"
	defaultClientTimeoutConstant      = 30 * time.Second
	healthCheckTimeoutConstant        = 2 * time.Second
	unreachableMessageConstant        = "serving process unreachable"
	unhealthyTemplateConstant         = "%w: health check answered %d"
	requestFailedTemplateConstant     = "%w: %v"
	malformedResponseTemplateConstant = "%w: malformed response (status %d): %v"
	addressInvalidTemplateConstant    = "invalid status server address %q: %w"
)

// ErrServerUnreachable indicates the serving process could not be reached or answered garbage.
var ErrServerUnreachable = errors.New(unreachableMessageConstant)

// Client issues repository commands to a serving process over its /commands routes.
type Client struct {
	baseURL    url.URL
	httpClient *http.Client
}

// NewClient targets the status server listening on address. Wildcard and empty hosts
// are dialed on the loopback interface. A nil httpClient selects a client with a
// thirty second timeout.
func NewClient(address string, httpClient *http.Client) (*Client, error) {
	host, port, splitError := net.SplitHostPort(strings.TrimSpace(address))
	if splitError != nil {
		return nil, fmt.Errorf(addressInvalidTemplateConstant, address, splitError)
	}
	if ip := net.ParseIP(host); len(host) == 0 || (ip != nil && ip.IsUnspecified()) {
		host = loopbackHostConstant
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeoutConstant}
	}
	return &Client{
		baseURL:    url.URL{Scheme: httpSchemeConstant, Host: net.JoinHostPort(host, port)},
		httpClient: httpClient,
	}, nil
}

// Healthy reports whether the serving process answers its health route.
func (client *Client) Healthy(executionContext context.Context) error {
	healthContext, cancel := context.WithTimeout(executionContext, healthCheckTimeoutConstant)
	defer cancel()

	request, requestError := http.NewRequestWithContext(healthContext, http.MethodGet, client.endpoint(healthPathConstant, nil), nil)
	if requestError != nil {
		return fmt.Errorf(requestFailedTemplateConstant, ErrServerUnreachable, requestError)
	}
	response, responseError := client.httpClient.Do(request)
	if responseError != nil {
		return fmt.Errorf(requestFailedTemplateConstant, ErrServerUnreachable, responseError)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf(unhealthyTemplateConstant, ErrServerUnreachable, response.StatusCode)
	}
	return nil
}

// AddRepository asks the serving process to clone and watch a repository.
func (client *Client) AddRepository(executionContext context.Context, name string, remoteURL string, channels []string) watch.Reply {
	return client.send(executionContext, http.MethodPost, client.endpoint(commandsPathConstant+commandRepositoriesPathConstant, nil), AddRepositoryRequest{Name: name, URL: remoteURL, Channels: channels})
}

// RemoveRepository asks the serving process to stop watching a repository.
func (client *Client) RemoveRepository(executionContext context.Context, name string) watch.Reply {
	return client.send(executionContext, http.MethodDelete, client.endpoint(commandsPathConstant+commandRepositoriesPathConstant+pathSeparatorConstant+url.PathEscape(name), nil), nil)
}

// ListRepositories lists the repositories visible from channel.
func (client *Client) ListRepositories(channel string) watch.Reply {
	return client.send(context.Background(), http.MethodGet, client.endpoint(commandsPathConstant+commandRepositoriesPathConstant, url.Values{channelQueryParameterConstant: {channel}}), nil)
}

// RepositoryLog shows the latest commits of a watched branch.
func (client *Client) RepositoryLog(executionContext context.Context, channel string, name string, branch string, count int) watch.Reply {
	query := url.Values{
		channelQueryParameterConstant: {channel},
		branchQueryParameterConstant:  {branch},
		countQueryParameterConstant:   {strconv.Itoa(count)},
	}
	return client.send(executionContext, http.MethodGet, client.endpoint(commandsPathConstant+commandRepositoriesPathConstant+pathSeparatorConstant+url.PathEscape(name)+logSegmentConstant, query), nil)
}

// RepositoryStatus lists the branches a repository watches.
func (client *Client) RepositoryStatus(channel string, name string) watch.Reply {
	return client.send(context.Background(), http.MethodGet, client.endpoint(commandsPathConstant+commandRepositoriesPathConstant+pathSeparatorConstant+url.PathEscape(name), url.Values{channelQueryParameterConstant: {channel}}), nil)
}

// Snarf looks up the commit mentioned in text.
func (client *Client) Snarf(executionContext context.Context, channel string, text string) watch.Reply {
	return client.send(executionContext, http.MethodPost, client.endpoint(commandsPathConstant+commandSnarfPathConstant, nil), SnarfRequest{Channel: channel, Text: text})
}

func (client *Client) endpoint(path string, query url.Values) string {
	target := client.baseURL
	target.Path = path
	target.RawQuery = query.Encode()
	return target.String()
}

func (client *Client) send(executionContext context.Context, method string, target string, payload any) watch.Reply {
	var body io.Reader
	if payload != nil {
		encoded, marshalError := json.Marshal(payload)
		if marshalError != nil {
			return watch.Reply{Err: fmt.Errorf(requestFailedTemplateConstant, watch.ErrInvalidArgument, marshalError)}
		}
		body = bytes.NewReader(encoded)
	}

	request, requestError := http.NewRequestWithContext(executionContext, method, target, body)
	if requestError != nil {
		return unreachableReply(requestError)
	}
	request.Header.Set(requestIDHeaderConstant, uuid.NewString())
	if body != nil {
		request.Header.Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	}

	response, responseError := client.httpClient.Do(request)
	if responseError != nil {
		return unreachableReply(responseError)
	}
	defer response.Body.Close()

	var decoded CommandResponse
	if decodeError := json.NewDecoder(response.Body).Decode(&decoded); decodeError != nil {
		return unreachableReply(fmt.Errorf(malformedResponseTemplateConstant, ErrServerUnreachable, response.StatusCode, decodeError))
	}
	reply := watch.Reply{Lines: decoded.Lines}
	code, known := watch.ParseResultCode(decoded.Result)
	if known && code == watch.ResultSuccess {
		return reply
	}
	message := decoded.Error
	if len(message) == 0 {
		message = decoded.Result
	}
	reply.Err = watch.RemoteError{Code: code, Message: message}
	return reply
}

func unreachableReply(cause error) watch.Reply {
	if !errors.Is(cause, ErrServerUnreachable) {
		cause = fmt.Errorf(requestFailedTemplateConstant, ErrServerUnreachable, cause)
	}
	return watch.Reply{Err: watch.RemoteError{Code: watch.ResultServiceUnavailable, Message: cause.Error()}}
}
