package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/temirov/gitnotify/internal/watch"
)

const (
	commandsPathConstant                = "/commands"
	commandRepositoriesPathConstant     = "/repositories"
	commandRepositoryPathConstant       = "/repositories/{name}"
	commandRepositoryLogPathConstant    = "/repositories/{name}/log"
	commandSnarfPathConstant            = "/snarf"
	nameParameterConstant               = "name"
	channelQueryParameterConstant       = "channel"
	branchQueryParameterConstant        = "branch"
	countQueryParameterConstant         = "count"
	malformedBodyTemplateConstant       = "%w: malformed request body: %v"
	malformedCountTemplateConstant      = "%w: count %q is not a number"
	malformedCountReplyTemplateConstant = "Invalid count %s: show at least one commit."
)

// CommandHandler answers repository commands on behalf of remote callers.
type CommandHandler interface {
	AddRepository(executionContext context.Context, name string, remoteURL string, channels []string) watch.Reply
	RemoveRepository(executionContext context.Context, name string) watch.Reply
	ListRepositories(channel string) watch.Reply
	RepositoryLog(executionContext context.Context, channel string, name string, branch string, count int) watch.Reply
	RepositoryStatus(channel string, name string) watch.Reply
	Snarf(executionContext context.Context, channel string, text string) watch.Reply
}

// AddRepositoryRequest is the body of POST /commands/repositories.
type AddRepositoryRequest struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Channels []string `json:"channels"`
}

// SnarfRequest is the body of POST /commands/snarf.
type SnarfRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// CommandResponse is the JSON form of a command reply.
type CommandResponse struct {
	Lines  []string `json:"lines"`
	Result string   `json:"result"`
	Error  string   `json:"error,omitempty"`
}

var resultStatusCodes = map[watch.ResultCode]int{
	watch.ResultSuccess:              http.StatusOK,
	watch.ResultRepositoryNotFound:   http.StatusNotFound,
	watch.ResultChannelNotAuthorized: http.StatusForbidden,
	watch.ResultVCSError:             http.StatusBadGateway,
	watch.ResultInvalidArgument:      http.StatusBadRequest,
	watch.ResultRepositoryExists:     http.StatusConflict,
	watch.ResultServiceUnavailable:   http.StatusServiceUnavailable,
}

type commandRoutes struct {
	server  *Server
	handler CommandHandler
}

func (routes commandRoutes) mount(router chi.Router) {
	router.Route(commandsPathConstant, func(commandRouter chi.Router) {
		commandRouter.Get(commandRepositoriesPathConstant, routes.listRepositories)
		commandRouter.Post(commandRepositoriesPathConstant, routes.addRepository)
		commandRouter.Get(commandRepositoryPathConstant, routes.repositoryStatus)
		commandRouter.Delete(commandRepositoryPathConstant, routes.removeRepository)
		commandRouter.Get(commandRepositoryLogPathConstant, routes.repositoryLog)
		commandRouter.Post(commandSnarfPathConstant, routes.snarf)
	})
}

func (routes commandRoutes) listRepositories(responseWriter http.ResponseWriter, request *http.Request) {
	routes.reply(responseWriter, routes.handler.ListRepositories(request.URL.Query().Get(channelQueryParameterConstant)))
}

func (routes commandRoutes) addRepository(responseWriter http.ResponseWriter, request *http.Request) {
	var body AddRepositoryRequest
	if decodeError := json.NewDecoder(request.Body).Decode(&body); decodeError != nil {
		routes.reply(responseWriter, watch.Reply{Err: fmt.Errorf(malformedBodyTemplateConstant, watch.ErrInvalidArgument, decodeError)})
		return
	}
	routes.reply(responseWriter, routes.handler.AddRepository(request.Context(), body.Name, body.URL, body.Channels))
}

func (routes commandRoutes) repositoryStatus(responseWriter http.ResponseWriter, request *http.Request) {
	routes.reply(responseWriter, routes.handler.RepositoryStatus(request.URL.Query().Get(channelQueryParameterConstant), chi.URLParam(request, nameParameterConstant)))
}

func (routes commandRoutes) removeRepository(responseWriter http.ResponseWriter, request *http.Request) {
	routes.reply(responseWriter, routes.handler.RemoveRepository(request.Context(), chi.URLParam(request, nameParameterConstant)))
}

func (routes commandRoutes) repositoryLog(responseWriter http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	branch := watch.DefaultLogBranch
	if requestedBranch := strings.TrimSpace(query.Get(branchQueryParameterConstant)); len(requestedBranch) > 0 {
		branch = requestedBranch
	}
	count := watch.DefaultLogCount
	if requestedCount := strings.TrimSpace(query.Get(countQueryParameterConstant)); len(requestedCount) > 0 {
		parsedCount, parseError := strconv.Atoi(requestedCount)
		if parseError != nil {
			routes.reply(responseWriter, watch.Reply{
				Lines: []string{fmt.Sprintf(malformedCountReplyTemplateConstant, requestedCount)},
				Err:   fmt.Errorf(malformedCountTemplateConstant, watch.ErrInvalidArgument, requestedCount),
			})
			return
		}
		count = parsedCount
	}
	routes.reply(responseWriter, routes.handler.RepositoryLog(request.Context(), query.Get(channelQueryParameterConstant), chi.URLParam(request, nameParameterConstant), branch, count))
}

func (routes commandRoutes) snarf(responseWriter http.ResponseWriter, request *http.Request) {
	var body SnarfRequest
	if decodeError := json.NewDecoder(request.Body).Decode(&body); decodeError != nil {
		routes.reply(responseWriter, watch.Reply{Err: fmt.Errorf(malformedBodyTemplateConstant, watch.ErrInvalidArgument, decodeError)})
		return
	}
	routes.reply(responseWriter, routes.handler.Snarf(request.Context(), body.Channel, body.Text))
}

func (routes commandRoutes) reply(responseWriter http.ResponseWriter, reply watch.Reply) {
	code := reply.Code()
	response := CommandResponse{Lines: reply.Lines, Result: code.String()}
	if response.Lines == nil {
		response.Lines = []string{}
	}
	if reply.Err != nil {
		response.Error = reply.Err.Error()
	}

	body, marshalError := json.Marshal(response)
	if marshalError != nil {
		routes.server.write(responseWriter, http.StatusInternalServerError, []byte(marshalError.Error()))
		return
	}
	statusCode, known := resultStatusCodes[code]
	if !known {
		statusCode = http.StatusInternalServerError
	}
	responseWriter.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	routes.server.write(responseWriter, statusCode, body)
}
