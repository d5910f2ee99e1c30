package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/vcs/vcstest"
)

const (
	testRepositoryURLConstant = "https://example.com/nstark/test2.git"
)

type recordingPersister struct {
	mutex        sync.Mutex
	persisted    [][]string
	persistError error
}

func (persister *recordingPersister) PersistRepositories(repositories []repository.Options) error {
	persister.mutex.Lock()
	defer persister.mutex.Unlock()
	if persister.persistError != nil {
		return persister.persistError
	}
	names := []string{}
	for _, options := range repositories {
		names = append(names, options.Name)
	}
	persister.persisted = append(persister.persisted, names)
	return nil
}

type memoryCheckpoints struct {
	mutex    sync.Mutex
	pointers map[string]map[string]string
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{pointers: map[string]map[string]string{}}
}

func (store *memoryCheckpoints) Load(_ context.Context, repositoryName string) (map[string]string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	loaded := map[string]string{}
	for branch, commitID := range store.pointers[repositoryName] {
		loaded[branch] = commitID
	}
	return loaded, nil
}

func (store *memoryCheckpoints) Save(_ context.Context, repositoryName string, branch string, commitID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.pointers[repositoryName] == nil {
		store.pointers[repositoryName] = map[string]string{}
	}
	store.pointers[repositoryName][branch] = commitID
	return nil
}

func (store *memoryCheckpoints) Delete(_ context.Context, repositoryName string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.pointers, repositoryName)
	return nil
}

type registryFixture struct {
	client      *vcstest.Client
	upstream    *vcstest.Repository
	persister   *recordingPersister
	checkpoints *memoryCheckpoints
	registry    *repository.Registry
	directory   string
	logs        *observer.ObservedLogs
}

func newRegistryFixture(testInstance *testing.T) *registryFixture {
	testInstance.Helper()
	upstream := vcstest.NewRepository("master")
	upstream.Push("master", vcstest.NewCommit("initial", "nstark", "Initial import", testBaseTime))
	upstream.ForkBranch("feature", "master")
	upstream.Push("feature", vcstest.NewCommit("feature-1", "nstark", "Fix bugs.", testBaseTime.Add(time.Minute)))
	upstream.ForkBranch("release-1", "master")

	client := vcstest.NewClient()
	client.AddRemote(testRepositoryURLConstant, upstream)

	core, logs := observer.New(zapcore.DebugLevel)
	fixture := &registryFixture{
		client:      client,
		upstream:    upstream,
		persister:   &recordingPersister{},
		checkpoints: newMemoryCheckpoints(),
		directory:   testInstance.TempDir(),
		logs:        logs,
	}
	registry, registryError := repository.NewRegistry(repository.Dependencies{
		Client:      client,
		Checkpoints: fixture.checkpoints,
		Persister:   fixture.persister,
		Logger:      zap.New(core),
	})
	require.NoError(testInstance, registryError)
	fixture.registry = registry
	return fixture
}

func (fixture *registryFixture) options(name string) repository.Options {
	return repository.Options{
		Name:           name,
		LongName:       "Test Repository 2",
		URL:            testRepositoryURLConstant,
		Path:           filepath.Join(fixture.directory, name),
		BranchPatterns: "master feature",
		Channels:       []string{"#test"},
	}
}

func TestNewRegistryRequiresClient(testInstance *testing.T) {
	_, registryError := repository.NewRegistry(repository.Dependencies{})
	require.ErrorIs(testInstance, registryError, repository.ErrVCSClientNotConfigured)
}

func TestRegistryCreateRegistersAndPersists(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()

	created, createError := fixture.registry.Create(executionContext, fixture.options("test2"))
	require.NoError(testInstance, createError)
	require.Equal(testInstance, []string{"feature", "master"}, created.Branches())
	require.Equal(testInstance, []string{"test2"}, fixture.registry.Names())
	require.Equal(testInstance, [][]string{{"test2"}}, fixture.persister.persisted)
	require.Equal(testInstance, []string{"fetch:feature", "pull:master"}, fixture.upstream.Calls())

	require.NoError(testInstance, created.WithLock(executionContext, func(locked *repository.LockedRepository) error {
		featurePointer, exists := locked.LastCommit("feature")
		require.True(testInstance, exists)
		require.Equal(testInstance, vcstest.CommitID("feature-1"), featurePointer.ID)
		masterPointer, _ := locked.LastCommit("master")
		require.Equal(testInstance, vcstest.CommitID("initial"), masterPointer.ID)
		return nil
	}))

	found, exists := fixture.registry.Lookup("test2")
	require.True(testInstance, exists)
	require.Same(testInstance, created, found)

	_, duplicateError := fixture.registry.Create(executionContext, fixture.options("test2"))
	require.ErrorIs(testInstance, duplicateError, repository.ErrRepositoryExists)
	require.Len(testInstance, fixture.persister.persisted, 1)
}

func TestRegistryCreateCloneFailureLeavesRegistryUnchanged(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	options := fixture.options("broken")
	options.URL = "https://example.com/nobody/missing.git"

	_, createError := fixture.registry.Create(context.Background(), options)
	require.Error(testInstance, createError)
	require.Empty(testInstance, fixture.registry.List())
	require.Empty(testInstance, fixture.persister.persisted)

	_, retryError := fixture.registry.Create(context.Background(), fixture.options("broken"))
	require.NoError(testInstance, retryError)
}

func TestRegistryCreateDoesNotHoldRegistryLockWhileCloning(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	cloneStarted := make(chan struct{})
	releaseClone := make(chan struct{})
	fixture.client.SetCloneHook(func(context.Context, string) error {
		close(cloneStarted)
		<-releaseClone
		return nil
	})

	createDone := make(chan error, 1)
	go func() {
		_, createError := fixture.registry.Create(context.Background(), fixture.options("test2"))
		createDone <- createError
	}()

	<-cloneStarted
	require.Empty(testInstance, fixture.registry.List())
	_, concurrentError := fixture.registry.Create(context.Background(), fixture.options("test2"))
	require.ErrorIs(testInstance, concurrentError, repository.ErrRepositoryExists)

	close(releaseClone)
	require.NoError(testInstance, <-createDone)
	require.Equal(testInstance, []string{"test2"}, fixture.registry.Names())
}

func TestRegistryCreateRollsBackOnPersistFailure(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	fixture.persister.persistError = errors.New("disk full")
	options := fixture.options("test2")

	_, createError := fixture.registry.Create(context.Background(), options)
	require.ErrorContains(testInstance, createError, "disk full")
	require.Empty(testInstance, fixture.registry.List())
	_, statError := os.Stat(options.Path)
	require.True(testInstance, os.IsNotExist(statError))
}

func TestRegistryRemove(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()
	options := fixture.options("test2")
	created, createError := fixture.registry.Create(executionContext, options)
	require.NoError(testInstance, createError)
	require.NoError(testInstance, fixture.checkpoints.Save(executionContext, "test2", "master", vcstest.CommitID("initial")))

	require.NoError(testInstance, fixture.registry.Remove(executionContext, "test2"))
	require.Empty(testInstance, fixture.registry.Names())
	require.Equal(testInstance, [][]string{{"test2"}, {}}, fixture.persister.persisted)
	_, statError := os.Stat(options.Path)
	require.True(testInstance, os.IsNotExist(statError))
	loaded, _ := fixture.checkpoints.Load(executionContext, "test2")
	require.Empty(testInstance, loaded)

	ran, _ := created.TryWithLock(func(locked *repository.LockedRepository) error {
		require.True(testInstance, locked.Removed())
		return nil
	})
	require.True(testInstance, ran)

	require.ErrorIs(testInstance, fixture.registry.Remove(executionContext, "test2"), repository.ErrRepositoryNotFound)
}

func TestRegistryRemoveRollsBackOnPersistFailure(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()
	_, createError := fixture.registry.Create(executionContext, fixture.options("test1"))
	require.NoError(testInstance, createError)
	_, createError = fixture.registry.Create(executionContext, fixture.options("test2"))
	require.NoError(testInstance, createError)

	fixture.persister.persistError = errors.New("read-only")
	require.Error(testInstance, fixture.registry.Remove(executionContext, "test1"))
	require.Equal(testInstance, []string{"test1", "test2"}, fixture.registry.Names())
}

func TestRegistryMaterializeRestoresCheckpoints(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()
	fixture.upstream.Push("master", vcstest.NewCommit("master-2", "tlannister", "While we were away", testBaseTime.Add(2*time.Minute)))
	require.NoError(testInstance, fixture.checkpoints.Save(executionContext, "test2", "master", vcstest.CommitID("initial")))
	require.NoError(testInstance, fixture.checkpoints.Save(executionContext, "test2", "feature", vcstest.CommitID("unrelated")))

	materialized, materializeError := fixture.registry.Materialize(executionContext, fixture.options("test2"), repository.MaterializeSync)
	require.NoError(testInstance, materializeError)
	require.Empty(testInstance, fixture.registry.List())

	require.NoError(testInstance, materialized.WithLock(executionContext, func(locked *repository.LockedRepository) error {
		masterPointer, _ := locked.LastCommit("master")
		require.Equal(testInstance, vcstest.CommitID("initial"), masterPointer.ID)
		featurePointer, _ := locked.LastCommit("feature")
		require.Equal(testInstance, vcstest.CommitID("feature-1"), featurePointer.ID)
		return nil
	}))
	require.Equal(testInstance, 1, fixture.logs.FilterMessage("Restored commit pointer from checkpoint").Len())
	require.Equal(testInstance, 1, fixture.logs.FilterMessage("Discarded checkpoint that is not an ancestor of the branch head").Len())

	fixture.registry.Replace([]*repository.Repository{materialized}, nil)
	require.Equal(testInstance, []string{"test2"}, fixture.registry.Names())
	require.Empty(testInstance, fixture.persister.persisted)
}

func TestRegistryMaterializeOpenStaysOffline(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()
	_, createError := fixture.registry.Create(executionContext, fixture.options("test2"))
	require.NoError(testInstance, createError)
	callsAfterCreate := fixture.upstream.Calls()

	fixture.upstream.Push("feature", vcstest.NewCommit("feature-2", "tlannister", "Not fetched yet", testBaseTime.Add(2*time.Minute)))
	fixture.upstream.ForkBranch("unfetched", "master")

	options := fixture.options("test2")
	options.BranchPatterns = "master feature unfetched"
	opened, openError := fixture.registry.Materialize(executionContext, options, repository.MaterializeOpen)
	require.NoError(testInstance, openError)
	require.Equal(testInstance, []string{"feature", "master"}, opened.Branches())
	require.Equal(testInstance, callsAfterCreate, fixture.upstream.Calls())

	require.NoError(testInstance, opened.WithLock(executionContext, func(locked *repository.LockedRepository) error {
		featurePointer, _ := locked.LastCommit("feature")
		require.Equal(testInstance, vcstest.CommitID("feature-1"), featurePointer.ID)
		return nil
	}))

	_, missingError := fixture.registry.Materialize(executionContext, fixture.options("test3"), repository.MaterializeOpen)
	require.ErrorIs(testInstance, missingError, repository.ErrCloneMissing)
	require.NoDirExists(testInstance, filepath.Join(fixture.directory, "test3"))
}

func TestRegistryCreateRemovesCloneWhenInitializationFails(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	fixture.upstream.SetFetchHook(func(context.Context, string) error {
		return vcstest.ErrInjected
	})

	_, createError := fixture.registry.Create(context.Background(), fixture.options("test2"))
	require.ErrorIs(testInstance, createError, vcstest.ErrInjected)
	require.NoDirExists(testInstance, filepath.Join(fixture.directory, "test2"))
	require.Empty(testInstance, fixture.registry.List())
	require.Empty(testInstance, fixture.persister.persisted)

	fixture.upstream.SetFetchHook(nil)
	_, retryError := fixture.registry.Create(context.Background(), fixture.options("test2"))
	require.NoError(testInstance, retryError)
}

func TestRegistryMaterializeWithoutMatchingBranches(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	options := fixture.options("test2")
	options.BranchPatterns = "nomatch*"

	materialized, materializeError := fixture.registry.Materialize(context.Background(), options, repository.MaterializeClone)
	require.NoError(testInstance, materializeError)
	require.Empty(testInstance, materialized.Branches())
}

func TestRegistryMaterializeRejectsIncompleteOptions(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	_, nameError := fixture.registry.Materialize(context.Background(), repository.Options{Path: fixture.directory}, repository.MaterializeClone)
	require.ErrorIs(testInstance, nameError, repository.ErrRepositoryNameMissing)
	_, pathError := fixture.registry.Materialize(context.Background(), repository.Options{Name: "test2"}, repository.MaterializeClone)
	require.ErrorIs(testInstance, pathError, repository.ErrRepositoryPathMissing)
}

func TestRegistryKeepsUnavailableRepositoriesPersisted(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	executionContext := context.Background()
	unavailable := fixture.options("broken")
	unavailable.URL = "https://example.com/nowhere.git"
	require.NoError(testInstance, os.MkdirAll(unavailable.Path, 0o755))
	fixture.registry.Replace(nil, []repository.Options{unavailable})

	require.Empty(testInstance, fixture.registry.List())
	require.Equal(testInstance, []repository.Options{unavailable}, fixture.registry.Unavailable())

	_, duplicateError := fixture.registry.Create(executionContext, unavailable)
	require.ErrorIs(testInstance, duplicateError, repository.ErrRepositoryExists)

	_, createError := fixture.registry.Create(executionContext, fixture.options("test2"))
	require.NoError(testInstance, createError)
	require.Equal(testInstance, [][]string{{"test2", "broken"}}, fixture.persister.persisted)

	require.NoError(testInstance, fixture.registry.Remove(executionContext, "broken"))
	require.Empty(testInstance, fixture.registry.Unavailable())
	require.Equal(testInstance, []string{"test2"}, fixture.persister.persisted[1])
	require.NoDirExists(testInstance, unavailable.Path)
}
