package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/temirov/gitnotify/internal/execshell"
)

const (
	metricsNamespaceConstant   = "gitnotify"
	labelRepositoryConstant    = "repository"
	labelOutcomeConstant       = "outcome"
	labelLoopConstant          = "loop"
	labelSubcommandConstant    = "subcommand"
	gitCommandUnknownConstant  = "unknown"
	gitCommandOutcomeError     = "error"
	gitCommandOutcomeFailure   = "failure"
	gitCommandOutcomeSuccess   = "success"
	successfulExitCodeConstant = 0
)

// Outcome labels shared by the loops.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Loop labels for contention metrics.
const (
	LoopReplication = "replication"
	LoopPolling     = "polling"
)

// Recorder is the metrics sink used by the loops.
type Recorder interface {
	ObserveFetch(repository string, outcome string, duration time.Duration)
	ObservePoll(repository string, outcome string)
	IncContention(loop string, repository string)
	AddNotifiedCommits(repository string, count int)
	SetRepositories(count int)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

// ObserveFetch implements Recorder.
func (NoopRecorder) ObserveFetch(string, string, time.Duration) {}

// ObservePoll implements Recorder.
func (NoopRecorder) ObservePoll(string, string) {}

// IncContention implements Recorder.
func (NoopRecorder) IncContention(string, string) {}

// AddNotifiedCommits implements Recorder.
func (NoopRecorder) AddNotifiedCommits(string, int) {}

// SetRepositories implements Recorder.
func (NoopRecorder) SetRepositories(int) {}

// PrometheusRecorder implements Recorder and execshell.CommandEventObserver with Prometheus metrics.
type PrometheusRecorder struct {
	registry         *prometheus.Registry
	fetchesTotal     *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	pollsTotal       *prometheus.CounterVec
	contentionTotal  *prometheus.CounterVec
	notifiedCommits  *prometheus.CounterVec
	repositories     prometheus.Gauge
	gitCommandsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder registers the watcher metrics and the Go runtime collectors on a new registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &PrometheusRecorder{
		registry: registry,
		fetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "fetches_total",
				Help:      "Repository fetch passes by outcome",
			},
			[]string{labelRepositoryConstant, labelOutcomeConstant},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of repository fetch passes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{labelRepositoryConstant},
		),
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "polls_total",
				Help:      "Repository notification scans by outcome",
			},
			[]string{labelRepositoryConstant, labelOutcomeConstant},
		),
		contentionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "lock_contention_total",
				Help:      "Repositories skipped because their lock was held",
			},
			[]string{labelLoopConstant, labelRepositoryConstant},
		),
		notifiedCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "notified_commits_total",
				Help:      "Commits announced to channels",
			},
			[]string{labelRepositoryConstant},
		),
		repositories: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "repositories",
				Help:      "Repositories currently watched",
			},
		),
		gitCommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespaceConstant,
				Name:      "git_commands_total",
				Help:      "Git command executions by subcommand and outcome",
			},
			[]string{labelSubcommandConstant, labelOutcomeConstant},
		),
	}
}

// Gatherer exposes the registry to HTTP handlers.
func (recorder *PrometheusRecorder) Gatherer() prometheus.Gatherer {
	return recorder.registry
}

// ObserveFetch implements Recorder.
func (recorder *PrometheusRecorder) ObserveFetch(repository string, outcome string, duration time.Duration) {
	recorder.fetchesTotal.WithLabelValues(repository, outcome).Inc()
	recorder.fetchDuration.WithLabelValues(repository).Observe(duration.Seconds())
}

// ObservePoll implements Recorder.
func (recorder *PrometheusRecorder) ObservePoll(repository string, outcome string) {
	recorder.pollsTotal.WithLabelValues(repository, outcome).Inc()
}

// IncContention implements Recorder.
func (recorder *PrometheusRecorder) IncContention(loop string, repository string) {
	recorder.contentionTotal.WithLabelValues(loop, repository).Inc()
}

// AddNotifiedCommits implements Recorder.
func (recorder *PrometheusRecorder) AddNotifiedCommits(repository string, count int) {
	recorder.notifiedCommits.WithLabelValues(repository).Add(float64(count))
}

// SetRepositories implements Recorder.
func (recorder *PrometheusRecorder) SetRepositories(count int) {
	recorder.repositories.Set(float64(count))
}

// CommandStarted implements execshell.CommandEventObserver.
func (recorder *PrometheusRecorder) CommandStarted(execshell.ShellCommand) {}

// CommandCompleted implements execshell.CommandEventObserver.
func (recorder *PrometheusRecorder) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	outcome := gitCommandOutcomeSuccess
	if result.ExitCode != successfulExitCodeConstant {
		outcome = gitCommandOutcomeFailure
	}
	recorder.gitCommandsTotal.WithLabelValues(subcommandOf(command), outcome).Inc()
}

// CommandExecutionFailed implements execshell.CommandEventObserver.
func (recorder *PrometheusRecorder) CommandExecutionFailed(command execshell.ShellCommand, _ error) {
	recorder.gitCommandsTotal.WithLabelValues(subcommandOf(command), gitCommandOutcomeError).Inc()
}

func subcommandOf(command execshell.ShellCommand) string {
	if len(command.Details.Arguments) == 0 {
		return gitCommandUnknownConstant
	}
	return command.Details.Arguments[0]
}
