package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/metrics"
	"github.com/temirov/gitnotify/internal/repository"
)

const (
	repositorySourceMissingMessageConstant = "repository source not configured"
	activeBranchErrorTemplateConstant      = "cannot read active branch of %s: %w"
	branchUpdateErrorTemplateConstant      = "cannot update branch %s of %s: %w"
	cycleStartedMessageConstant            = "Fetch cycle started"
	cycleFinishedMessageConstant           = "Fetch cycle finished"
	repositoryBusyMessageConstant          = "Repository busy, skipping fetch"
	branchUpdateFailedMessageConstant      = "Branch update failed"
	fetchPanicMessageConstant              = "Recovered panic while fetching repository"
	loopStartedMessageConstant             = "Replicator started"
	loopStoppedMessageConstant             = "Replicator stopped"
	loopDisabledMessageConstant            = "Replicator disabled"
	logFieldCycleIdentifierConstant        = "cycle_id"
	logFieldRepositoryConstant             = "repository"
	logFieldBranchConstant                 = "branch"
	logFieldPeriodConstant                 = "period"
	logFieldFetchedConstant                = "fetched"
	logFieldSkippedConstant                = "skipped"
	logFieldFailedConstant                 = "failed"
	logFieldElapsedConstant                = "elapsed"
	logFieldPanicConstant                  = "panic"
	logFieldStackConstant                  = "stack"
)

// ErrRepositorySourceNotConfigured indicates a replicator constructed without a registry.
var ErrRepositorySourceNotConfigured = errors.New(repositorySourceMissingMessageConstant)

// RepositorySource provides the snapshot of repositories to update.
type RepositorySource interface {
	List() []*repository.Repository
}

// Dependencies configures a Replicator. Registry is required; a non-positive Period disables the loop.
type Dependencies struct {
	Registry       RepositorySource
	Period         time.Duration
	Recorder       metrics.Recorder
	Logger         *zap.Logger
	CycleCompleted func()
}

// CycleSummary counts the outcome of one pass.
type CycleSummary struct {
	Fetched int
	Skipped int
	Failed  int
}

// Replicator periodically fetches every repository.
type Replicator struct {
	registry       RepositorySource
	period         time.Duration
	recorder       metrics.Recorder
	logger         *zap.Logger
	cycleCompleted func()

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReplicator constructs a stopped replicator.
func NewReplicator(dependencies Dependencies) (*Replicator, error) {
	if dependencies.Registry == nil {
		return nil, ErrRepositorySourceNotConfigured
	}
	recorder := dependencies.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicator{
		registry:       dependencies.Registry,
		period:         dependencies.Period,
		recorder:       recorder,
		logger:         logger,
		cycleCompleted: dependencies.CycleCompleted,
	}, nil
}

// Start launches the loop, restarting it when already running. With a non-positive period
// the loop stays stopped.
func (replicator *Replicator) Start(executionContext context.Context) {
	replicator.Stop()
	if replicator.period <= 0 {
		replicator.logger.Info(loopDisabledMessageConstant)
		return
	}

	replicator.mutex.Lock()
	defer replicator.mutex.Unlock()
	loopContext, cancel := context.WithCancel(executionContext)
	replicator.cancel = cancel
	replicator.done = make(chan struct{})
	go replicator.run(loopContext, replicator.done)
	replicator.logger.Info(loopStartedMessageConstant, zap.Duration(logFieldPeriodConstant, replicator.period))
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped replicator is a no-op.
func (replicator *Replicator) Stop() {
	replicator.mutex.Lock()
	cancel := replicator.cancel
	done := replicator.done
	replicator.cancel = nil
	replicator.done = nil
	replicator.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	replicator.logger.Info(loopStoppedMessageConstant)
}

// Running reports whether the loop is active.
func (replicator *Replicator) Running() bool {
	replicator.mutex.Lock()
	defer replicator.mutex.Unlock()
	return replicator.cancel != nil
}

func (replicator *Replicator) run(executionContext context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(replicator.period)
	defer timer.Stop()

	for {
		replicator.RunCycle(executionContext)
		if replicator.cycleCompleted != nil && executionContext.Err() == nil {
			replicator.cycleCompleted()
		}
		timer.Reset(replicator.period)
		select {
		case <-executionContext.Done():
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one pass over a snapshot of the registry.
func (replicator *Replicator) RunCycle(executionContext context.Context) CycleSummary {
	cycleLogger := replicator.logger.With(zap.String(logFieldCycleIdentifierConstant, uuid.NewString()))
	cycleLogger.Debug(cycleStartedMessageConstant)
	startedAt := time.Now()

	summary := CycleSummary{}
	for _, watched := range replicator.registry.List() {
		if executionContext.Err() != nil {
			break
		}
		switch replicator.fetchRepository(executionContext, cycleLogger.With(zap.String(logFieldRepositoryConstant, watched.Name())), watched) {
		case fetchOutcomeSkipped:
			summary.Skipped++
		case fetchOutcomeFailed:
			summary.Failed++
		default:
			summary.Fetched++
		}
	}

	cycleLogger.Debug(cycleFinishedMessageConstant,
		zap.Int(logFieldFetchedConstant, summary.Fetched),
		zap.Int(logFieldSkippedConstant, summary.Skipped),
		zap.Int(logFieldFailedConstant, summary.Failed),
		zap.Duration(logFieldElapsedConstant, time.Since(startedAt)),
	)
	return summary
}

type fetchOutcome int

const (
	fetchOutcomeFetched fetchOutcome = iota
	fetchOutcomeSkipped
	fetchOutcomeFailed
)

func (replicator *Replicator) fetchRepository(executionContext context.Context, logger *zap.Logger, watched *repository.Repository) (outcome fetchOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error(fetchPanicMessageConstant, zap.Any(logFieldPanicConstant, recovered), zap.Stack(logFieldStackConstant))
			outcome = fetchOutcomeFailed
		}
	}()

	startedAt := time.Now()
	metricOutcome := metrics.OutcomeSuccess
	ran, _ := watched.TryWithLock(func(locked *repository.LockedRepository) error {
		if locked.Removed() {
			return nil
		}
		clone := locked.Clone()
		activeBranch, activeError := clone.ActiveBranch(executionContext)
		if activeError != nil {
			locked.RecordError(fmt.Errorf(activeBranchErrorTemplateConstant, watched.Name(), activeError))
			logger.Warn(branchUpdateFailedMessageConstant, zap.Error(activeError))
			metricOutcome = metrics.OutcomeError
			return nil
		}
		for _, branch := range watched.Branches() {
			if executionContext.Err() != nil {
				return nil
			}
			if updateError := replicator.updateBranch(executionContext, watched, clone, activeBranch, branch); updateError != nil {
				locked.RecordError(updateError)
				logger.Warn(branchUpdateFailedMessageConstant, zap.String(logFieldBranchConstant, branch), zap.Error(updateError))
				var timeoutError TimeoutError
				if errors.As(updateError, &timeoutError) {
					metricOutcome = metrics.OutcomeTimeout
				} else if metricOutcome != metrics.OutcomeTimeout {
					metricOutcome = metrics.OutcomeError
				}
			}
		}
		return nil
	})
	if !ran {
		logger.Info(repositoryBusyMessageConstant)
		replicator.recorder.IncContention(metrics.LoopReplication, watched.Name())
		return fetchOutcomeSkipped
	}

	replicator.recorder.ObserveFetch(watched.Name(), metricOutcome, time.Since(startedAt))
	if metricOutcome != metrics.OutcomeSuccess {
		return fetchOutcomeFailed
	}
	return fetchOutcomeFetched
}

func (replicator *Replicator) updateBranch(executionContext context.Context, watched *repository.Repository, clone branchUpdater, activeBranch string, branch string) error {
	fetchTimeout := watched.Options().FetchTimeout
	timeoutContext, cancel := context.WithTimeout(executionContext, fetchTimeout)
	defer cancel()

	var updateError error
	if branch == activeBranch {
		updateError = clone.Pull(timeoutContext, branch)
	} else {
		updateError = clone.Fetch(timeoutContext, branch)
	}
	if updateError == nil {
		return nil
	}
	if errors.Is(timeoutContext.Err(), context.DeadlineExceeded) && executionContext.Err() == nil {
		return TimeoutError{Repository: watched.Name(), Branch: branch, Timeout: fetchTimeout, Cause: updateError}
	}
	return fmt.Errorf(branchUpdateErrorTemplateConstant, branch, watched.Name(), updateError)
}

type branchUpdater interface {
	Fetch(executionContext context.Context, branch string) error
	Pull(executionContext context.Context, branch string) error
}
