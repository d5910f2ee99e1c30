package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/repository"
)

const (
	healthPathConstant             = "/health"
	metricsPathConstant            = "/metrics"
	repositoriesPathConstant       = "/repositories"
	healthBodyConstant             = "ok"
	contentTypeHeaderConstant      = "Content-Type"
	jsonContentTypeConstant        = "application/json"
	textContentTypeConstant        = "text/plain; charset=utf-8"
	readHeaderTimeoutConstant      = 5 * time.Second
	shutdownTimeoutConstant        = 10 * time.Second
	sourceMissingMessageConstant   = "repository source not configured"
	addressMissingMessageConstant  = "status server address not configured"
	listenErrorTemplateConstant    = "unable to listen on %s: %w"
	serveErrorTemplateConstant     = "status server failed: %w"
	accessLogMessageConstant       = "http access"
	writeFailedMessageConstant     = "Failed to write response"
	serverListeningMessageConstant = "Status server listening"
	serverStoppedMessageConstant   = "Status server stopped"
	logFieldRequestIDConstant      = "request_id"
	logFieldMethodConstant         = "method"
	logFieldPathConstant           = "path"
	logFieldRemoteAddressConstant  = "remote_addr"
	logFieldStatusCodeConstant     = "status_code"
	logFieldElapsedConstant        = "elapsed"
	logFieldAddressConstant        = "address"
	requestIDHeaderConstant        = "X-Request-ID"
)

// ErrRepositorySourceNotConfigured indicates the server was constructed without a repository source.
var ErrRepositorySourceNotConfigured = errors.New(sourceMissingMessageConstant)

// ErrAddressNotConfigured indicates Run was called without a listen address.
var ErrAddressNotConfigured = errors.New(addressMissingMessageConstant)

// RepositorySource lists the watched repositories.
type RepositorySource interface {
	List() []*repository.Repository
}

// Dependencies wires the server collaborators. Gatherer may be nil to disable /metrics
// and Commands may be nil to disable the /commands routes.
type Dependencies struct {
	Source   RepositorySource
	Gatherer prometheus.Gatherer
	Commands CommandHandler
	Address  string
	Logger   *zap.Logger
}

// RepositoryStatus is the JSON representation of one watched repository.
type RepositoryStatus struct {
	Name        string            `json:"name"`
	LongName    string            `json:"long_name"`
	URL         string            `json:"url"`
	Channels    []string          `json:"channels"`
	Branches    []string          `json:"branches"`
	LastCommits map[string]string `json:"last_commits,omitempty"`
	Busy        bool              `json:"busy"`
}

// Server serves the status endpoints.
type Server struct {
	router  *chi.Mux
	source  RepositorySource
	address string
	logger  *zap.Logger
}

// NewServer constructs a Server and its routes.
func NewServer(dependencies Dependencies) (*Server, error) {
	if dependencies.Source == nil {
		return nil, ErrRepositorySourceNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{source: dependencies.Source, address: dependencies.Address, logger: logger}

	router := chi.NewRouter()
	router.Use(server.logAccess)
	router.Get(healthPathConstant, func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.Header().Set(contentTypeHeaderConstant, textContentTypeConstant)
		server.write(responseWriter, http.StatusOK, []byte(healthBodyConstant))
	})
	if dependencies.Gatherer != nil {
		router.Method(http.MethodGet, metricsPathConstant, promhttp.HandlerFor(dependencies.Gatherer, promhttp.HandlerOpts{}))
	}
	router.Get(repositoriesPathConstant, server.listRepositories)
	if dependencies.Commands != nil {
		commandRoutes{server: server, handler: dependencies.Commands}.mount(router)
	}
	server.router = router

	return server, nil
}

// Handler exposes the router.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run listens on the configured address until the context ends, then shuts down gracefully.
func (server *Server) Run(executionContext context.Context) error {
	if len(server.address) == 0 {
		return ErrAddressNotConfigured
	}
	listener, listenError := net.Listen("tcp", server.address)
	if listenError != nil {
		return fmt.Errorf(listenErrorTemplateConstant, server.address, listenError)
	}
	return server.Serve(executionContext, listener)
}

// Serve accepts connections on listener until the context ends.
func (server *Server) Serve(executionContext context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeoutConstant,
	}

	serveResult := make(chan error, 1)
	go func() {
		serveResult <- httpServer.Serve(listener)
	}()
	server.logger.Info(serverListeningMessageConstant, zap.String(logFieldAddressConstant, listener.Addr().String()))

	select {
	case serveError := <-serveResult:
		if errors.Is(serveError, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf(serveErrorTemplateConstant, serveError)
	case <-executionContext.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeoutConstant)
	defer cancel()
	shutdownError := httpServer.Shutdown(shutdownContext)
	<-serveResult
	server.logger.Info(serverStoppedMessageConstant)
	return shutdownError
}

func (server *Server) listRepositories(responseWriter http.ResponseWriter, _ *http.Request) {
	statuses := []RepositoryStatus{}
	for _, watched := range server.source.List() {
		statuses = append(statuses, describe(watched))
	}

	body, marshalError := json.Marshal(statuses)
	if marshalError != nil {
		server.write(responseWriter, http.StatusInternalServerError, []byte(marshalError.Error()))
		return
	}
	responseWriter.Header().Set(contentTypeHeaderConstant, jsonContentTypeConstant)
	server.write(responseWriter, http.StatusOK, body)
}

// describe never waits for a busy repository; its pointers are reported on a later request.
func describe(watched *repository.Repository) RepositoryStatus {
	options := watched.Options()
	branches := watched.Branches()
	sort.Strings(branches)
	status := RepositoryStatus{
		Name:     options.Name,
		LongName: options.LongName,
		URL:      options.URL,
		Channels: options.Channels,
		Branches: branches,
	}

	ran, _ := watched.TryWithLock(func(locked *repository.LockedRepository) error {
		status.LastCommits = map[string]string{}
		for branch, commit := range locked.LastCommits() {
			status.LastCommits[branch] = commit.ID
		}
		return nil
	})
	status.Busy = !ran
	return status
}

func (server *Server) write(responseWriter http.ResponseWriter, statusCode int, body []byte) {
	responseWriter.WriteHeader(statusCode)
	if _, writeError := responseWriter.Write(body); writeError != nil {
		server.logger.Error(writeFailedMessageConstant, zap.Error(writeError))
	}
}

func (server *Server) logAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		recorder := &statusRecorder{ResponseWriter: responseWriter, statusCode: http.StatusOK}
		requestedAt := time.Now()
		next.ServeHTTP(recorder, request)

		requestID := request.Header.Get(requestIDHeaderConstant)
		if len(requestID) == 0 {
			requestID = uuid.NewString()
		}
		server.logger.Debug(
			accessLogMessageConstant,
			zap.String(logFieldRequestIDConstant, requestID),
			zap.String(logFieldMethodConstant, request.Method),
			zap.String(logFieldPathConstant, request.URL.Path),
			zap.String(logFieldRemoteAddressConstant, request.RemoteAddr),
			zap.Int(logFieldStatusCodeConstant, recorder.statusCode),
			zap.Duration(logFieldElapsedConstant, time.Since(requestedAt)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (recorder *statusRecorder) WriteHeader(statusCode int) {
	recorder.statusCode = statusCode
	recorder.ResponseWriter.WriteHeader(statusCode)
}
