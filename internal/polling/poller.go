package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/gitnotify/internal/metrics"
	"github.com/temirov/gitnotify/internal/notify"
	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/transport"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	repositorySourceMissingMessageConstant = "repository source not configured"
	transportMissingMessageConstant        = "transport not configured"
	branchHeadErrorTemplateConstant        = "cannot resolve head of %s: %w"
	commitRangeErrorTemplateConstant       = "cannot list new commits of %s: %w"
	deliveryErrorTemplateConstant          = "cannot deliver to %s on %s: %w"
	advanceErrorTemplateConstant           = "cannot advance %s: %w"
	cycleStartedMessageConstant            = "Poll cycle started"
	cycleFinishedMessageConstant           = "Poll cycle finished"
	noTargetsMessageConstant               = "Skipping repository: not in configured channel(s)"
	repositoryBusyMessageConstant          = "Repository busy, skipping poll"
	recordedErrorMessageConstant           = "Background fetch failed"
	pollFailedMessageConstant              = "Poll failed; pointers left unchanged"
	newCommitsMessageConstant              = "Announced new commits"
	historyRewrittenMessageConstant        = "Branch history was rewritten; resetting pointer"
	checkpointSaveFailedMessageConstant    = "Failed to save checkpoint"
	pollPanicMessageConstant               = "Recovered panic while polling repository"
	loopStartedMessageConstant             = "Poller started"
	loopStoppedMessageConstant             = "Poller stopped"
	loopDisabledMessageConstant            = "Poller disabled"
	logFieldCycleIdentifierConstant        = "cycle_id"
	logFieldRepositoryConstant             = "repository"
	logFieldBranchConstant                 = "branch"
	logFieldCommitsConstant                = "commits"
	logFieldTargetsConstant                = "targets"
	logFieldPeriodConstant                 = "period"
	logFieldElapsedConstant                = "elapsed"
	logFieldPanicConstant                  = "panic"
	logFieldStackConstant                  = "stack"
)

// ErrRepositorySourceNotConfigured indicates a poller constructed without a registry.
var ErrRepositorySourceNotConfigured = errors.New(repositorySourceMissingMessageConstant)

// ErrTransportNotConfigured indicates a poller constructed without a transport.
var ErrTransportNotConfigured = errors.New(transportMissingMessageConstant)

// RepositorySource provides the snapshot of repositories to scan.
type RepositorySource interface {
	List() []*repository.Repository
}

// Dependencies configures a Poller. Registry and Transport are required; a non-positive Period disables the loop.
type Dependencies struct {
	Registry    RepositorySource
	Transport   transport.Transport
	Renderer    notify.Renderer
	Checkpoints repository.CheckpointStore
	Period      time.Duration
	Recorder    metrics.Recorder
	Logger      *zap.Logger
}

// CycleSummary counts the outcome of one scan.
type CycleSummary struct {
	Notified   int
	Unchanged  int
	Untargeted int
	Skipped    int
	Failed     int
}

// Poller periodically scans repositories for new commits.
type Poller struct {
	registry    RepositorySource
	transport   transport.Transport
	renderer    notify.Renderer
	checkpoints repository.CheckpointStore
	period      time.Duration
	recorder    metrics.Recorder
	logger      *zap.Logger
	trigger     chan struct{}

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller constructs a stopped poller.
func NewPoller(dependencies Dependencies) (*Poller, error) {
	if dependencies.Registry == nil {
		return nil, ErrRepositorySourceNotConfigured
	}
	if dependencies.Transport == nil {
		return nil, ErrTransportNotConfigured
	}
	renderer := dependencies.Renderer
	if renderer.MaxCommitsAtOnce() <= 0 {
		renderer = notify.NewRenderer(0)
	}
	recorder := dependencies.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		registry:    dependencies.Registry,
		transport:   dependencies.Transport,
		renderer:    renderer,
		checkpoints: dependencies.Checkpoints,
		period:      dependencies.Period,
		recorder:    recorder,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Start launches the loop, restarting it when already running. With a non-positive period
// the loop stays stopped.
func (poller *Poller) Start(executionContext context.Context) {
	poller.Stop()
	if poller.period <= 0 {
		poller.logger.Info(loopDisabledMessageConstant)
		return
	}

	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	loopContext, cancel := context.WithCancel(executionContext)
	poller.cancel = cancel
	poller.done = make(chan struct{})
	go poller.run(loopContext, poller.done)
	poller.logger.Info(loopStartedMessageConstant, zap.Duration(logFieldPeriodConstant, poller.period))
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped poller is a no-op.
func (poller *Poller) Stop() {
	poller.mutex.Lock()
	cancel := poller.cancel
	done := poller.done
	poller.cancel = nil
	poller.done = nil
	poller.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	poller.logger.Info(loopStoppedMessageConstant)
}

// Running reports whether the loop is active.
func (poller *Poller) Running() bool {
	poller.mutex.Lock()
	defer poller.mutex.Unlock()
	return poller.cancel != nil
}

// Trigger requests an immediate scan. Requests made while one is pending are coalesced.
func (poller *Poller) Trigger() {
	select {
	case poller.trigger <- struct{}{}:
	default:
	}
}

func (poller *Poller) run(executionContext context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(poller.period)
	defer timer.Stop()

	for {
		select {
		case <-executionContext.Done():
			return
		case <-timer.C:
		case <-poller.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		poller.RunCycle(executionContext)
		timer.Reset(poller.period)
	}
}

// RunCycle scans a snapshot of the registry once.
func (poller *Poller) RunCycle(executionContext context.Context) CycleSummary {
	cycleLogger := poller.logger.With(zap.String(logFieldCycleIdentifierConstant, uuid.NewString()))
	cycleLogger.Debug(cycleStartedMessageConstant)
	startedAt := time.Now()

	summary := CycleSummary{}
	for _, watched := range poller.registry.List() {
		if executionContext.Err() != nil {
			break
		}
		switch poller.pollRepository(executionContext, cycleLogger.With(zap.String(logFieldRepositoryConstant, watched.Name())), watched) {
		case pollOutcomeNotified:
			summary.Notified++
		case pollOutcomeUntargeted:
			summary.Untargeted++
		case pollOutcomeSkipped:
			summary.Skipped++
		case pollOutcomeFailed:
			summary.Failed++
		default:
			summary.Unchanged++
		}
	}

	cycleLogger.Debug(cycleFinishedMessageConstant, zap.Duration(logFieldElapsedConstant, time.Since(startedAt)))
	return summary
}

type pollOutcome int

const (
	pollOutcomeUnchanged pollOutcome = iota
	pollOutcomeNotified
	pollOutcomeUntargeted
	pollOutcomeSkipped
	pollOutcomeFailed
)

func (poller *Poller) pollRepository(executionContext context.Context, logger *zap.Logger, watched *repository.Repository) (outcome pollOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error(pollPanicMessageConstant, zap.Any(logFieldPanicConstant, recovered), zap.Stack(logFieldStackConstant))
			poller.recorder.ObservePoll(watched.Name(), metrics.OutcomeError)
			outcome = pollOutcomeFailed
		}
	}()

	targets := transport.ResolveTargets(poller.transport, watched.Options().Channels)
	if len(targets) == 0 {
		logger.Debug(noTargetsMessageConstant)
		return pollOutcomeUntargeted
	}

	outcome = pollOutcomeUnchanged
	ran, pollError := watched.TryWithLock(func(locked *repository.LockedRepository) error {
		if locked.Removed() {
			return nil
		}
		for _, recordedError := range locked.DrainErrors() {
			logger.Error(recordedErrorMessageConstant, zap.Error(recordedError))
		}

		pending, diffError := poller.collectNewCommits(executionContext, logger, locked)
		if diffError != nil {
			return diffError
		}
		if len(pending.newCommits) == 0 {
			return poller.applyPointers(executionContext, logger, locked, pending)
		}

		lines := poller.renderer.RenderCommits(watched, pending.newCommits, notify.KindCommits)
		for _, target := range targets {
			for _, line := range lines {
				if deliveryError := poller.transport.Deliver(executionContext, target.Endpoint, target.Channel, []byte(line)); deliveryError != nil {
					return fmt.Errorf(deliveryErrorTemplateConstant, target.Channel, target.Endpoint, deliveryError)
				}
			}
		}

		if applyError := poller.applyPointers(executionContext, logger, locked, pending); applyError != nil {
			return applyError
		}
		commitCount := 0
		for _, commits := range pending.newCommits {
			commitCount += len(commits)
		}
		poller.recorder.AddNotifiedCommits(watched.Name(), commitCount)
		logger.Info(newCommitsMessageConstant, zap.Int(logFieldCommitsConstant, commitCount), zap.Int(logFieldTargetsConstant, len(targets)))
		outcome = pollOutcomeNotified
		return nil
	})
	if !ran {
		logger.Info(repositoryBusyMessageConstant)
		poller.recorder.IncContention(metrics.LoopPolling, watched.Name())
		return pollOutcomeSkipped
	}
	if pollError != nil {
		logger.Error(pollFailedMessageConstant, zap.Error(pollError))
		poller.recorder.ObservePoll(watched.Name(), metrics.OutcomeError)
		return pollOutcomeFailed
	}
	poller.recorder.ObservePoll(watched.Name(), metrics.OutcomeSuccess)
	return outcome
}

// pointerChanges holds what one cycle found for a repository. Nothing in it is applied
// until the whole repository was diffed and its lines were delivered.
type pointerChanges struct {
	newCommits map[string][]vcs.Commit
	advances   map[string]vcs.Commit
	resets     map[string]vcs.Commit
	missing    map[string]vcs.Commit
}

// collectNewCommits lists, per tracked branch, the commits reachable from the local head and not from the pointer.
// A head that no longer descends from its pointer means history was rewritten; the pointer is reset without announcing.
func (poller *Poller) collectNewCommits(executionContext context.Context, logger *zap.Logger, locked *repository.LockedRepository) (pointerChanges, error) {
	clone := locked.Clone()
	pending := pointerChanges{
		newCommits: map[string][]vcs.Commit{},
		advances:   map[string]vcs.Commit{},
		resets:     map[string]vcs.Commit{},
		missing:    map[string]vcs.Commit{},
	}

	for _, branch := range locked.Repository().Branches() {
		head, headError := clone.ResolveCommit(executionContext, repository.BranchReference(branch))
		if headError != nil {
			return pointerChanges{}, fmt.Errorf(branchHeadErrorTemplateConstant, branch, headError)
		}
		lastCommit, exists := locked.LastCommit(branch)
		if !exists || lastCommit.IsZero() {
			pending.missing[branch] = head
			continue
		}
		if lastCommit.ID == head.ID {
			continue
		}

		isDescendant, ancestryError := clone.IsAncestor(executionContext, lastCommit.ID, head.ID)
		if ancestryError != nil {
			return pointerChanges{}, fmt.Errorf(commitRangeErrorTemplateConstant, branch, ancestryError)
		}
		if !isDescendant {
			logger.Warn(historyRewrittenMessageConstant, zap.String(logFieldBranchConstant, branch))
			pending.resets[branch] = head
			continue
		}

		commits, rangeError := clone.CommitRange(executionContext, lastCommit.ID, head.ID)
		if rangeError != nil {
			return pointerChanges{}, fmt.Errorf(commitRangeErrorTemplateConstant, branch, rangeError)
		}
		if len(commits) > 0 {
			pending.newCommits[branch] = commits
			pending.advances[branch] = head
		}
	}
	return pending, nil
}

func (poller *Poller) applyPointers(executionContext context.Context, logger *zap.Logger, locked *repository.LockedRepository, pending pointerChanges) error {
	repositoryName := locked.Repository().Name()
	for branch, head := range pending.missing {
		locked.InitializeLastCommit(branch, head)
	}
	for branch, head := range pending.resets {
		locked.ResetLastCommit(branch, head)
		poller.saveCheckpoint(executionContext, logger, repositoryName, branch, head)
	}
	for branch, head := range pending.advances {
		if advanceError := locked.AdvanceLastCommit(executionContext, branch, head); advanceError != nil {
			return fmt.Errorf(advanceErrorTemplateConstant, branch, advanceError)
		}
		poller.saveCheckpoint(executionContext, logger, repositoryName, branch, head)
	}
	return nil
}

func (poller *Poller) saveCheckpoint(executionContext context.Context, logger *zap.Logger, repositoryName string, branch string, head vcs.Commit) {
	if poller.checkpoints == nil {
		return
	}
	if saveError := poller.checkpoints.Save(executionContext, repositoryName, branch, head.ID); saveError != nil {
		logger.Warn(checkpointSaveFailedMessageConstant, zap.String(logFieldBranchConstant, branch), zap.Error(saveError))
	}
}
