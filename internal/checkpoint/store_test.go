package checkpoint_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/checkpoint"
)

func TestStores(testInstance *testing.T) {
	testCases := []struct {
		name      string
		openStore func(testInstance *testing.T) checkpoint.Store
	}{
		{
			name: "memory",
			openStore: func(testInstance *testing.T) checkpoint.Store {
				store, openError := checkpoint.Open(context.Background(), "")
				require.NoError(testInstance, openError)
				require.IsType(testInstance, &checkpoint.MemoryStore{}, store)
				return store
			},
		},
		{
			name: "sqlite",
			openStore: func(testInstance *testing.T) checkpoint.Store {
				store, openError := checkpoint.Open(context.Background(), filepath.Join(testInstance.TempDir(), "state", "checkpoints.db"))
				require.NoError(testInstance, openError)
				require.IsType(testInstance, &checkpoint.SQLiteStore{}, store)
				return store
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executionContext := context.Background()
			store := testCase.openStore(testInstance)
			defer func() {
				require.NoError(testInstance, store.Close())
			}()

			empty, loadError := store.Load(executionContext, "test2")
			require.NoError(testInstance, loadError)
			require.Empty(testInstance, empty)

			require.NoError(testInstance, store.Save(executionContext, "test2", "master", "aaaaaaa"))
			require.NoError(testInstance, store.Save(executionContext, "test2", "feature", "bbbbbbb"))
			require.NoError(testInstance, store.Save(executionContext, "test2", "master", "ccccccc"))
			require.NoError(testInstance, store.Save(executionContext, "test1", "master", "ddddddd"))

			loaded, loadError := store.Load(executionContext, "test2")
			require.NoError(testInstance, loadError)
			require.Equal(testInstance, map[string]string{"master": "ccccccc", "feature": "bbbbbbb"}, loaded)

			require.NoError(testInstance, store.Delete(executionContext, "test2"))
			deleted, loadError := store.Load(executionContext, "test2")
			require.NoError(testInstance, loadError)
			require.Empty(testInstance, deleted)

			other, loadError := store.Load(executionContext, "test1")
			require.NoError(testInstance, loadError)
			require.Equal(testInstance, map[string]string{"master": "ddddddd"}, other)
		})
	}
}

func TestSQLiteStoreSurvivesReopen(testInstance *testing.T) {
	executionContext := context.Background()
	databasePath := filepath.Join(testInstance.TempDir(), "checkpoints.db")

	store, openError := checkpoint.OpenSQLiteStore(executionContext, databasePath)
	require.NoError(testInstance, openError)
	require.NoError(testInstance, store.Save(executionContext, "test2", "master", "aaaaaaa"))
	require.NoError(testInstance, store.Close())

	reopened, reopenError := checkpoint.OpenSQLiteStore(executionContext, databasePath)
	require.NoError(testInstance, reopenError)
	defer func() {
		require.NoError(testInstance, reopened.Close())
	}()
	loaded, loadError := reopened.Load(executionContext, "test2")
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, map[string]string{"master": "aaaaaaa"}, loaded)
}
