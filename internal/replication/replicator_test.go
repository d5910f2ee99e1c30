package replication_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/gitnotify/internal/replication"
	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/vcs/vcstest"
)

var testBaseTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type staticSource struct {
	repositories []*repository.Repository
}

func (source staticSource) List() []*repository.Repository {
	return source.repositories
}

type recordingRecorder struct {
	mutex      sync.Mutex
	fetches    map[string]string
	contention []string
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{fetches: map[string]string{}}
}

func (recorder *recordingRecorder) ObserveFetch(repositoryName string, outcome string, _ time.Duration) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.fetches[repositoryName] = outcome
}

func (recorder *recordingRecorder) ObservePoll(string, string) {}

func (recorder *recordingRecorder) IncContention(loop string, repositoryName string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.contention = append(recorder.contention, loop+":"+repositoryName)
}

func (recorder *recordingRecorder) AddNotifiedCommits(string, int) {}

func (recorder *recordingRecorder) SetRepositories(int) {}

func newWatched(name string, fetchTimeout time.Duration) (*repository.Repository, *vcstest.Repository) {
	clone := vcstest.NewRepository("master")
	clone.Push("master", vcstest.NewCommit(name+"-initial", "nstark", "Initial import", testBaseTime))
	clone.ForkBranch("feature", "master")
	clone.SyncAll()
	watched := repository.New(repository.Options{Name: name, FetchTimeout: fetchTimeout}, clone, []string{"feature", "master"})
	return watched, clone
}

func drainErrors(testInstance *testing.T, watched *repository.Repository) []error {
	testInstance.Helper()
	var drained []error
	ran, _ := watched.TryWithLock(func(locked *repository.LockedRepository) error {
		drained = locked.DrainErrors()
		return nil
	})
	require.True(testInstance, ran)
	return drained
}

func TestNewReplicatorRequiresRegistry(testInstance *testing.T) {
	_, constructionError := replication.NewReplicator(replication.Dependencies{})
	require.ErrorIs(testInstance, constructionError, replication.ErrRepositorySourceNotConfigured)
}

func TestRunCyclePullsActiveBranchAndFetchesOthers(testInstance *testing.T) {
	watched, clone := newWatched("test2", time.Second)
	newCommit := vcstest.NewCommit("feature-1", "tlannister", "Snarks and grumpkins", testBaseTime.Add(time.Minute))
	clone.Push("feature", newCommit)
	recorder := newRecordingRecorder()

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{Registry: staticSource{repositories: []*repository.Repository{watched}}, Recorder: recorder})
	require.NoError(testInstance, constructionError)

	summary := replicator.RunCycle(context.Background())
	require.Equal(testInstance, replication.CycleSummary{Fetched: 1}, summary)
	require.Equal(testInstance, []string{"fetch:feature", "pull:master"}, clone.Calls())
	require.Equal(testInstance, "success", recorder.fetches["test2"])

	head, resolveError := clone.ResolveCommit(context.Background(), "refs/heads/feature")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, newCommit.ID, head.ID)
	require.Empty(testInstance, drainErrors(testInstance, watched))
}

func TestRunCycleSkipsBusyRepositoryWithoutBlocking(testInstance *testing.T) {
	busy, busyClone := newWatched("busy", time.Second)
	idle, idleClone := newWatched("idle", time.Second)
	recorder := newRecordingRecorder()
	core, logs := observer.New(zapcore.InfoLevel)

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{
		Registry: staticSource{repositories: []*repository.Repository{busy, idle}},
		Recorder: recorder,
		Logger:   zap.New(core),
	})
	require.NoError(testInstance, constructionError)

	require.True(testInstance, busy.TryLock())
	defer busy.Unlock()

	cycleDone := make(chan replication.CycleSummary, 1)
	go func() {
		cycleDone <- replicator.RunCycle(context.Background())
	}()

	select {
	case summary := <-cycleDone:
		require.Equal(testInstance, replication.CycleSummary{Fetched: 1, Skipped: 1}, summary)
	case <-time.After(5 * time.Second):
		testInstance.Fatal("fetch cycle blocked on a busy repository")
	}
	require.Empty(testInstance, busyClone.Calls())
	require.Len(testInstance, idleClone.Calls(), 2)
	require.Equal(testInstance, []string{"replication:busy"}, recorder.contention)
	require.Equal(testInstance, 1, logs.FilterMessage("Repository busy, skipping fetch").FilterField(zap.String("repository", "busy")).Len())
}

func TestRunCycleRecordsTimeoutsAndFailures(testInstance *testing.T) {
	slow, slowClone := newWatched("slow", 20*time.Millisecond)
	slowClone.SetFetchHook(func(executionContext context.Context, branch string) error {
		if branch != "feature" {
			return nil
		}
		<-executionContext.Done()
		return executionContext.Err()
	})
	broken, brokenClone := newWatched("broken", time.Second)
	brokenClone.SetFetchHook(func(context.Context, string) error {
		return vcstest.ErrInjected
	})
	healthy, healthyClone := newWatched("healthy", time.Second)
	recorder := newRecordingRecorder()

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{
		Registry: staticSource{repositories: []*repository.Repository{slow, broken, healthy}},
		Recorder: recorder,
	})
	require.NoError(testInstance, constructionError)

	summary := replicator.RunCycle(context.Background())
	require.Equal(testInstance, replication.CycleSummary{Fetched: 1, Failed: 2}, summary)

	slowErrors := drainErrors(testInstance, slow)
	require.Len(testInstance, slowErrors, 1)
	var timeoutError replication.TimeoutError
	require.True(testInstance, errors.As(slowErrors[0], &timeoutError))
	require.Equal(testInstance, "feature", timeoutError.Branch)
	require.ErrorIs(testInstance, slowErrors[0], context.DeadlineExceeded)
	require.Equal(testInstance, "timeout", recorder.fetches["slow"])
	require.Equal(testInstance, []string{"fetch:feature", "pull:master"}, slowClone.Calls())

	brokenErrors := drainErrors(testInstance, broken)
	require.Len(testInstance, brokenErrors, 2)
	require.ErrorIs(testInstance, brokenErrors[0], vcstest.ErrInjected)
	require.Equal(testInstance, "error", recorder.fetches["broken"])
	require.Len(testInstance, brokenClone.Calls(), 2)

	require.Len(testInstance, healthyClone.Calls(), 2)
}

func TestRunCycleRecoversFromPanics(testInstance *testing.T) {
	faulty, faultyClone := newWatched("faulty", time.Second)
	faultyClone.SetFetchHook(func(context.Context, string) error {
		panic("corrupted clone")
	})
	healthy, healthyClone := newWatched("healthy", time.Second)
	core, logs := observer.New(zapcore.ErrorLevel)

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{
		Registry: staticSource{repositories: []*repository.Repository{faulty, healthy}},
		Logger:   zap.New(core),
	})
	require.NoError(testInstance, constructionError)

	summary := replicator.RunCycle(context.Background())
	require.Equal(testInstance, replication.CycleSummary{Fetched: 1, Failed: 1}, summary)
	require.Len(testInstance, healthyClone.Calls(), 2)
	require.Equal(testInstance, 1, logs.FilterMessage("Recovered panic while fetching repository").Len())
	require.True(testInstance, faulty.TryLock())
	faulty.Unlock()
}

func TestReplicatorStartAndStop(testInstance *testing.T) {
	watched, _ := newWatched("test2", time.Second)
	var cycles atomic.Int32
	cycleSignal := make(chan struct{}, 16)

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{
		Registry: staticSource{repositories: []*repository.Repository{watched}},
		Period:   5 * time.Millisecond,
		CycleCompleted: func() {
			cycles.Add(1)
			select {
			case cycleSignal <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(testInstance, constructionError)

	replicator.Start(context.Background())
	require.True(testInstance, replicator.Running())
	for range 2 {
		select {
		case <-cycleSignal:
		case <-time.After(5 * time.Second):
			testInstance.Fatal("replicator did not cycle")
		}
	}
	replicator.Stop()
	require.False(testInstance, replicator.Running())
	stoppedAt := cycles.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(testInstance, stoppedAt, cycles.Load())

	replicator.Stop()
	replicator.Stop()
}

func TestReplicatorDisabledByNonPositivePeriod(testInstance *testing.T) {
	replicator, constructionError := replication.NewReplicator(replication.Dependencies{Registry: staticSource{}})
	require.NoError(testInstance, constructionError)
	replicator.Start(context.Background())
	require.False(testInstance, replicator.Running())
	replicator.Stop()
}

func TestReplicatorStopInterruptsInFlightFetch(testInstance *testing.T) {
	watched, clone := newWatched("test2", time.Hour)
	fetchEntered := make(chan struct{})
	var enteredOnce sync.Once
	clone.SetFetchHook(func(executionContext context.Context, _ string) error {
		enteredOnce.Do(func() { close(fetchEntered) })
		<-executionContext.Done()
		return executionContext.Err()
	})

	replicator, constructionError := replication.NewReplicator(replication.Dependencies{
		Registry: staticSource{repositories: []*repository.Repository{watched}},
		Period:   time.Hour,
	})
	require.NoError(testInstance, constructionError)
	replicator.Start(context.Background())
	<-fetchEntered

	stopped := make(chan struct{})
	go func() {
		replicator.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		testInstance.Fatal("stop did not interrupt the in-flight fetch")
	}
	require.True(testInstance, watched.TryLock())
	watched.Unlock()
}
